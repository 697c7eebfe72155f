package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/JonMunkholm/dataserve/internal/core"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgQueryCanceled is SQLSTATE query_canceled, raised by statement_timeout
// and by cancellation.
const pgQueryCanceled = "57014"

// PostgresOptions configures the connection pool.
type PostgresOptions struct {
	URL             string
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// Postgres serves one PostgreSQL database through a pgx pool. Only tables
// in the public schema are exposed.
type Postgres struct {
	name string
	pool *pgxpool.Pool
}

// OpenPostgres connects and pings the database.
func OpenPostgres(ctx context.Context, name string, opts PostgresOptions) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse postgres url: %w", err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = int32(opts.MaxConns)
	}
	if opts.MinConns > 0 {
		cfg.MinConns = int32(opts.MinConns)
	}
	if opts.MaxConnLifetime > 0 {
		cfg.MaxConnLifetime = opts.MaxConnLifetime
	}
	if opts.MaxConnIdleTime > 0 {
		cfg.MaxConnIdleTime = opts.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Postgres{name: name, pool: pool}, nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

// BindNamed rewrites :name parameters to $n placeholders. Casts (::type)
// and text inside single-quoted literals are left alone.
func BindNamed(query string, params map[string]any) (string, []any) {
	var (
		b       strings.Builder
		args    []any
		indexes = map[string]int{}
		inQuote bool
	)
	for i := 0; i < len(query); i++ {
		ch := query[i]
		if ch == '\'' {
			inQuote = !inQuote
			b.WriteByte(ch)
			continue
		}
		if inQuote || ch != ':' {
			b.WriteByte(ch)
			continue
		}
		if i+1 < len(query) && query[i+1] == ':' {
			b.WriteString("::")
			i++
			continue
		}
		j := i + 1
		for j < len(query) && isIdentByte(query[j]) {
			j++
		}
		if j == i+1 {
			b.WriteByte(ch)
			continue
		}
		name := query[i+1 : j]
		n, ok := indexes[name]
		if !ok {
			v, present := params[name]
			if !present {
				v = ""
			}
			args = append(args, v)
			n = len(args)
			indexes[name] = n
		}
		b.WriteString("$" + strconv.Itoa(n))
		i = j - 1
	}
	return b.String(), args
}

func isIdentByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func (p *Postgres) Execute(ctx context.Context, query string, params map[string]any, opts core.QueryOptions) (*core.Page, error) {
	start := time.Now()
	page, err := p.execute(ctx, query, params, opts)
	observeQuery(p.name, start, err)
	return page, err
}

func (p *Postgres) execute(ctx context.Context, query string, params map[string]any, opts core.QueryOptions) (*core.Page, error) {
	stmt, err := paginate(query, opts)
	if err != nil {
		return nil, err
	}
	stmt, args := BindNamed(stmt, params)

	qctx, cancel := withTimeLimit(ctx, opts.TimeLimit)
	defer cancel()

	rows, err := p.pool.Query(qctx, stmt, args...)
	if err != nil {
		return nil, p.classify(ctx, qctx, err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, f := range fields {
		columns[i] = f.Name
	}
	c, err := newCollector(columns, opts)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, p.classify(ctx, qctx, err)
		}
		for i, v := range values {
			if id, ok := v.([16]byte); ok {
				values[i] = uuid.UUID(id).String()
			}
		}
		if !c.add(values) {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, p.classify(ctx, qctx, err)
	}
	return c.page, nil
}

func (p *Postgres) classify(parent, qctx context.Context, err error) error {
	var pgErr *pgconn.PgError
	isPg := errors.As(err, &pgErr)
	if interrupted(parent, qctx, err) || (isPg && pgErr.Code == pgQueryCanceled) {
		return fmt.Errorf("%w: %v", core.ErrQueryInterrupted, err)
	}
	if parent.Err() != nil {
		return parent.Err()
	}
	if isPg {
		return fmt.Errorf("%w: %s", core.ErrInvalidQuery, pgErr.Message)
	}
	return err
}

func (p *Postgres) ExecuteWrite(ctx context.Context, query string, params map[string]any) error {
	stmt, args := BindNamed(query, params)
	if _, err := p.pool.Exec(ctx, stmt, args...); err != nil {
		return p.classify(ctx, ctx, err)
	}
	return nil
}

func (p *Postgres) collectStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (p *Postgres) Tables(ctx context.Context) ([]string, error) {
	names, err := p.collectStrings(ctx, `select table_name from information_schema.tables
		where table_schema = 'public' order by table_name`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	return names, nil
}

func (p *Postgres) TableExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx, `select exists (select 1 from information_schema.tables
		where table_schema = 'public' and table_name = $1)`, name).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("table exists %s: %w", name, err)
	}
	return exists, nil
}

func (p *Postgres) TableColumns(ctx context.Context, table string) ([]string, error) {
	cols, err := p.collectStrings(ctx, `select column_name from information_schema.columns
		where table_schema = 'public' and table_name = $1 order by ordinal_position`, table)
	if err != nil {
		return nil, fmt.Errorf("columns %s: %w", table, err)
	}
	return cols, nil
}

// RowKey returns ctid, the physical row location. It is stable for the
// duration of a read but changes when a row is updated.
func (p *Postgres) RowKey() string { return "ctid" }

func (p *Postgres) PrimaryKeys(ctx context.Context, table string) ([]string, error) {
	pks, err := p.collectStrings(ctx, `select kcu.column_name
		from information_schema.table_constraints tc
		join information_schema.key_column_usage kcu
		  on tc.constraint_name = kcu.constraint_name and tc.table_schema = kcu.table_schema
		where tc.constraint_type = 'PRIMARY KEY' and tc.table_schema = 'public' and tc.table_name = $1
		order by kcu.ordinal_position`, table)
	if err != nil {
		return nil, fmt.Errorf("primary keys %s: %w", table, err)
	}
	return pks, nil
}

func (p *Postgres) ForeignKeys(ctx context.Context, table string) ([]core.ForeignKey, error) {
	rows, err := p.pool.Query(ctx, `select kcu.column_name, ccu.table_name, ccu.column_name
		from information_schema.table_constraints tc
		join information_schema.key_column_usage kcu
		  on tc.constraint_name = kcu.constraint_name and tc.table_schema = kcu.table_schema
		join information_schema.constraint_column_usage ccu
		  on tc.constraint_name = ccu.constraint_name and tc.table_schema = ccu.table_schema
		where tc.constraint_type = 'FOREIGN KEY' and tc.table_schema = 'public' and tc.table_name = $1
		order by kcu.ordinal_position`, table)
	if err != nil {
		return nil, fmt.Errorf("foreign keys %s: %w", table, err)
	}
	fks, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (core.ForeignKey, error) {
		var fk core.ForeignKey
		err := row.Scan(&fk.Column, &fk.OtherTable, &fk.OtherColumn)
		return fk, err
	})
	if err != nil {
		return nil, fmt.Errorf("foreign keys %s: %w", table, err)
	}
	return fks, nil
}
