package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/JonMunkholm/dataserve/internal/core"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/mattn/go-sqlite3"
)

const tableCacheSize = 256

// tableMeta is cached per table for immutable files.
type tableMeta struct {
	exists  bool
	columns []string
	pks     []string
	fks     []core.ForeignKey
}

// SQLite serves one database file. Immutable files are opened read-only
// with immutable=1; mutable files get a separate single read-write
// connection used only by the write queue.
type SQLite struct {
	name      string
	path      string
	immutable bool
	ro        *sql.DB
	rw        *sql.DB
	meta      *lru.Cache[string, *tableMeta]
}

// OpenSQLite opens path. mutable selects whether writes are allowed.
func OpenSQLite(path string, mutable bool) (*SQLite, error) {
	s := &SQLite{
		name:      strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		path:      path,
		immutable: !mutable,
	}

	readDSN := "file:" + escapePath(path) + "?mode=ro"
	if s.immutable {
		readDSN += "&immutable=1"
	} else {
		readDSN += "&_busy_timeout=5000"
	}
	ro, err := sql.Open("sqlite3", readDSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := ro.Ping(); err != nil {
		ro.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	s.ro = ro

	if mutable {
		rw, err := sql.Open("sqlite3", "file:"+escapePath(path)+"?mode=rw&_busy_timeout=5000&_journal_mode=WAL")
		if err != nil {
			ro.Close()
			return nil, fmt.Errorf("open %s for writing: %w", path, err)
		}
		rw.SetMaxOpenConns(1)
		s.rw = rw
	} else {
		cache, err := lru.New[string, *tableMeta](tableCacheSize)
		if err != nil {
			ro.Close()
			return nil, fmt.Errorf("table cache: %w", err)
		}
		s.meta = cache
	}
	return s, nil
}

func escapePath(p string) string {
	return strings.ReplaceAll(url.PathEscape(p), "%2F", "/")
}

// Path returns the backing file.
func (s *SQLite) Path() string {
	return s.path
}

func (s *SQLite) Close() error {
	var errs []error
	if s.rw != nil {
		errs = append(errs, s.rw.Close())
	}
	errs = append(errs, s.ro.Close())
	return errors.Join(errs...)
}

func namedArgs(query string, params map[string]any) []any {
	filtered := filterParams(query, params)
	args := make([]any, 0, len(filtered))
	for name, v := range filtered {
		args = append(args, sql.Named(name, v))
	}
	return args
}

func (s *SQLite) Execute(ctx context.Context, query string, params map[string]any, opts core.QueryOptions) (*core.Page, error) {
	start := time.Now()
	page, err := s.execute(ctx, query, params, opts)
	observeQuery(s.name, start, err)
	return page, err
}

func (s *SQLite) execute(ctx context.Context, query string, params map[string]any, opts core.QueryOptions) (*core.Page, error) {
	stmt, err := paginate(query, opts)
	if err != nil {
		return nil, err
	}

	qctx, cancel := withTimeLimit(ctx, opts.TimeLimit)
	defer cancel()

	rows, err := s.ro.QueryContext(qctx, stmt, namedArgs(query, params)...)
	if err != nil {
		return nil, s.classify(ctx, qctx, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, s.classify(ctx, qctx, err)
	}
	c, err := newCollector(columns, opts)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, s.classify(ctx, qctx, err)
		}
		if !c.add(values) {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, s.classify(ctx, qctx, err)
	}
	return c.page, nil
}

func (s *SQLite) classify(parent, qctx context.Context, err error) error {
	var serr sqlite3.Error
	isSQLite := errors.As(err, &serr)
	if interrupted(parent, qctx, err) || (isSQLite && serr.Code == sqlite3.ErrInterrupt) {
		return fmt.Errorf("%w: %v", core.ErrQueryInterrupted, err)
	}
	if parent.Err() != nil {
		return parent.Err()
	}
	if isSQLite {
		return fmt.Errorf("%w: %s", core.ErrInvalidQuery, err.Error())
	}
	return err
}

func (s *SQLite) ExecuteWrite(ctx context.Context, query string, params map[string]any) error {
	if s.rw == nil {
		return fmt.Errorf("%w: attempt to write a readonly database", core.ErrInvalidQuery)
	}
	if _, err := s.rw.ExecContext(ctx, query, namedArgs(query, params)...); err != nil {
		return s.classify(ctx, ctx, err)
	}
	return nil
}

func (s *SQLite) Tables(ctx context.Context) ([]string, error) {
	rows, err := s.ro.QueryContext(ctx, `select name from sqlite_master where type = 'table' and name not like 'sqlite_%' order by name`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("list tables: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// describe loads a table's columns and keys, cached for immutable files.
func (s *SQLite) describe(ctx context.Context, table string) (*tableMeta, error) {
	if s.meta != nil {
		if m, ok := s.meta.Get(table); ok {
			return m, nil
		}
	}

	m := &tableMeta{}
	var count int
	err := s.ro.QueryRowContext(ctx, `select count(*) from sqlite_master where type in ('table', 'view') and name = ?`, table).Scan(&count)
	if err != nil {
		return nil, fmt.Errorf("describe %s: %w", table, err)
	}
	m.exists = count > 0
	if m.exists {
		if err := s.loadColumns(ctx, table, m); err != nil {
			return nil, err
		}
		if err := s.loadForeignKeys(ctx, table, m); err != nil {
			return nil, err
		}
	}

	if s.meta != nil {
		s.meta.Add(table, m)
	}
	return m, nil
}

func (s *SQLite) loadColumns(ctx context.Context, table string, m *tableMeta) error {
	rows, err := s.ro.QueryContext(ctx, "pragma table_info("+core.QuoteIdentifier(table)+")")
	if err != nil {
		return fmt.Errorf("table_info %s: %w", table, err)
	}
	defer rows.Close()

	pkOrder := map[int]string{}
	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notnull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return fmt.Errorf("table_info %s: %w", table, err)
		}
		m.columns = append(m.columns, name)
		if pk > 0 {
			pkOrder[pk] = name
		}
	}
	for i := 1; i <= len(pkOrder); i++ {
		m.pks = append(m.pks, pkOrder[i])
	}
	return rows.Err()
}

func (s *SQLite) loadForeignKeys(ctx context.Context, table string, m *tableMeta) error {
	rows, err := s.ro.QueryContext(ctx, "pragma foreign_key_list("+core.QuoteIdentifier(table)+")")
	if err != nil {
		return fmt.Errorf("foreign_key_list %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id, seq                         int
			other, from                     string
			to                              sql.NullString
			onUpdate, onDelete, matchClause string
		)
		if err := rows.Scan(&id, &seq, &other, &from, &to, &onUpdate, &onDelete, &matchClause); err != nil {
			return fmt.Errorf("foreign_key_list %s: %w", table, err)
		}
		m.fks = append(m.fks, core.ForeignKey{Column: from, OtherTable: other, OtherColumn: to.String})
	}
	if err := rows.Err(); err != nil {
		return err
	}
	rows.Close()

	// A reference without a column points at the other table's primary key.
	// Only table_info is read for the other table so reference cycles end here.
	for i, fk := range m.fks {
		if fk.OtherColumn != "" {
			continue
		}
		pks := m.pks
		if fk.OtherTable != table {
			other := &tableMeta{}
			if err := s.loadColumns(ctx, fk.OtherTable, other); err != nil {
				return err
			}
			pks = other.pks
		}
		if len(pks) == 1 {
			m.fks[i].OtherColumn = pks[0]
		} else {
			m.fks[i].OtherColumn = "rowid"
		}
	}
	return nil
}

func (s *SQLite) RowKey() string { return "rowid" }

func (s *SQLite) TableExists(ctx context.Context, name string) (bool, error) {
	m, err := s.describe(ctx, name)
	if err != nil {
		return false, err
	}
	return m.exists, nil
}

func (s *SQLite) TableColumns(ctx context.Context, table string) ([]string, error) {
	m, err := s.describe(ctx, table)
	if err != nil {
		return nil, err
	}
	return m.columns, nil
}

func (s *SQLite) PrimaryKeys(ctx context.Context, table string) ([]string, error) {
	m, err := s.describe(ctx, table)
	if err != nil {
		return nil, err
	}
	return m.pks, nil
}

func (s *SQLite) ForeignKeys(ctx context.Context, table string) ([]core.ForeignKey, error) {
	m, err := s.describe(ctx, table)
	if err != nil {
		return nil, err
	}
	return m.fks, nil
}
