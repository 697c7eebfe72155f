package core

import (
	"context"
	"fmt"
	"html"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// QuoteIdentifier double-quotes a table or column name.
func QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// WhereBuilder accumulates equality filters with named parameters.
type WhereBuilder struct {
	clauses []string
	params  map[string]any
}

// Equal adds column = value.
func (w *WhereBuilder) Equal(column string, value any) {
	if w.params == nil {
		w.params = make(map[string]any)
	}
	name := "p" + strconv.Itoa(len(w.params))
	w.clauses = append(w.clauses, QuoteIdentifier(column)+" = :"+name)
	w.params[name] = value
}

// SQL returns the where clause with a leading space, or "".
func (w *WhereBuilder) SQL() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " where " + strings.Join(w.clauses, " and ")
}

// Params returns the bound values keyed by parameter name.
func (w *WhereBuilder) Params() map[string]any {
	if w.params == nil {
		return map[string]any{}
	}
	return w.params
}

// LabelColumnFunc returns the configured label column of a table, or "".
type LabelColumnFunc func(database, table string) string

// TableSource serves the table and row views.
type TableSource struct {
	Cells           CellChain
	DefaultPageSize int
	MaxReturnedRows int
	TimeLimit       time.Duration
	HashURLs        bool
	LabelColumn     LabelColumnFunc
}

type tableInfo struct {
	name    string
	columns []string
	pks     []string
	fks     []ForeignKey
}

func (t *TableSource) describe(ctx context.Context, db *Database, table string) (*tableInfo, error) {
	exists, err := db.Engine.TableExists(ctx, table)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, NotFoundError("Table not found: %s", table)
	}
	info := &tableInfo{name: table}
	if info.columns, err = db.Engine.TableColumns(ctx, table); err != nil {
		return nil, err
	}
	if info.pks, err = db.Engine.PrimaryKeys(ctx, table); err != nil {
		return nil, err
	}
	if info.fks, err = db.Engine.ForeignKeys(ctx, table); err != nil {
		return nil, err
	}
	return info, nil
}

// Data returns one page of the table named in req.
func (t *TableSource) Data(ctx context.Context, req *Request) Outcome {
	db := req.Database
	info, err := t.describe(ctx, db, req.Args().Table)
	if err != nil {
		return Failure(err)
	}

	size, err := t.pageSize(req)
	if err != nil {
		return Failure(err)
	}

	known := make(map[string]bool, len(info.columns))
	for _, c := range info.columns {
		known[c] = true
	}
	var filterKeys []string
	for key := range req.Query {
		if !strings.HasPrefix(key, "_") && known[key] {
			filterKeys = append(filterKeys, key)
		}
	}
	sort.Strings(filterKeys)
	var where WhereBuilder
	for _, key := range filterKeys {
		where.Equal(key, req.Query.Get(key))
	}

	// Pages are cut by offset, so the order must be total.
	orderBy := info.pks
	if len(orderBy) == 0 {
		orderBy = []string{db.Engine.RowKey()}
	}
	quoted := make([]string, len(orderBy))
	for i, key := range orderBy {
		quoted[i] = QuoteIdentifier(key)
	}
	sql := "select * from " + QuoteIdentifier(info.name) + where.SQL() + " order by " + strings.Join(quoted, ", ")

	page, err := db.Engine.Execute(ctx, sql, where.Params(), QueryOptions{
		Paginate:  true,
		PageSize:  size,
		Cursor:    req.Next,
		TimeLimit: t.TimeLimit,
	})
	if err != nil {
		return Failure(err)
	}

	expandable := make([]string, 0, len(info.fks))
	for _, fk := range info.fks {
		expandable = append(expandable, fk.Column)
	}
	if err := t.expandLabels(ctx, db, page, t.labelsToExpand(req, info.fks)); err != nil {
		return Failure(err)
	}

	params := make(map[string]string, len(filterKeys))
	for i, key := range filterKeys {
		params["p"+strconv.Itoa(i)] = req.Query.Get(key)
	}

	data := &ResultData{
		Database:          db.Name,
		Table:             info.name,
		Columns:           page.Columns,
		Rows:              page.Rows,
		Truncated:         page.Truncated,
		Next:              page.Next,
		PrimaryKeys:       info.pks,
		ExpandedColumns:   page.ExpandedColumns,
		ExpandableColumns: expandable,
		Query:             &QueryInfo{SQL: sql, Params: params},
	}
	if page.Next != "" {
		data.NextURL = PathWithAddedArgs(PathWithRemovedArgs(req.Path, req.RawQuery, "_next"), "", QueryArg{Key: "_next", Value: page.Next})
	}

	return ViewOutcome(&View{
		Name: "table",
		Data: data,
		Extra: ContextBuilder{
			Eager: map[string]any{
				"filters":        filterKeys,
				"foreign_keys":   info.fks,
				"database_path":  DatabasePath(db, t.HashURLs),
				"page_size":      size,
				"filtered_table": len(filterKeys) > 0,
			},
			Deferred: func(ctx context.Context) (map[string]any, error) {
				return map[string]any{
					"display_rows": t.displayRows(ctx, db, info, page),
				}, nil
			},
		},
		Templates: []string{
			fmt.Sprintf("table-%s-%s.html", ToCSSClass(db.Name), ToCSSClass(info.name)),
			"table.html",
		},
	})
}

// pageSize reads _size, which is a positive integer or "max".
func (t *TableSource) pageSize(req *Request) (int, error) {
	if req.ForceMaxSize {
		return t.MaxReturnedRows, nil
	}
	raw := req.Query.Get("_size")
	if raw == "" {
		return min(t.DefaultPageSize, t.MaxReturnedRows), nil
	}
	if raw == "max" {
		return t.MaxReturnedRows, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, RejectedError("_size must be a positive integer")
	}
	if n > t.MaxReturnedRows {
		return 0, RejectedError("_size must be <= %d", t.MaxReturnedRows)
	}
	return n, nil
}

func (t *TableSource) labelsToExpand(req *Request, fks []ForeignKey) []ForeignKey {
	all := req.Negotiation.DefaultLabels || truthy(req.Query.Get("_labels"))
	named := make(map[string]bool)
	for _, c := range req.Query["_label"] {
		named[c] = true
	}
	var out []ForeignKey
	for _, fk := range fks {
		if all || named[fk.Column] {
			out = append(out, fk)
		}
	}
	return out
}

// expandLabels replaces each present value of an expanded foreign-key
// column with a LabeledValue. Columns whose target table has no label
// column are left alone.
func (t *TableSource) expandLabels(ctx context.Context, db *Database, page *Page, fks []ForeignKey) error {
	for _, fk := range fks {
		idx := indexOf(page.Columns, fk.Column)
		if idx < 0 {
			continue
		}
		labelCol, err := t.labelColumnFor(ctx, db, fk.OtherTable)
		if err != nil {
			return err
		}
		if labelCol == "" {
			continue
		}

		seen := make(map[string]bool)
		var where []string
		params := make(map[string]any)
		for _, row := range page.Rows {
			v := row[idx]
			if v == nil || seen[fmt.Sprint(v)] {
				continue
			}
			seen[fmt.Sprint(v)] = true
			name := "l" + strconv.Itoa(len(params))
			params[name] = v
			where = append(where, ":"+name)
		}

		labels := make(map[string]any)
		if len(where) > 0 {
			sql := fmt.Sprintf("select %s, %s from %s where %s in (%s)",
				QuoteIdentifier(fk.OtherColumn), QuoteIdentifier(labelCol),
				QuoteIdentifier(fk.OtherTable), QuoteIdentifier(fk.OtherColumn),
				strings.Join(where, ", "))
			res, err := db.Engine.Execute(ctx, sql, params, QueryOptions{
				Truncate:  true,
				MaxRows:   len(where),
				TimeLimit: t.TimeLimit,
			})
			if err != nil {
				return fmt.Errorf("expand %s labels: %w", fk.Column, err)
			}
			for _, r := range res.Rows {
				labels[fmt.Sprint(r[0])] = r[1]
			}
		}

		for _, row := range page.Rows {
			if v := row[idx]; v != nil {
				row[idx] = LabeledValue{Value: v, Label: labels[fmt.Sprint(v)]}
			}
		}
		page.ExpandedColumns = append(page.ExpandedColumns, fk.Column)
	}
	return nil
}

// labelColumnFor returns the configured label column, or the only non-key
// column of a two-column table with a single primary key.
func (t *TableSource) labelColumnFor(ctx context.Context, db *Database, table string) (string, error) {
	if t.LabelColumn != nil {
		if c := t.LabelColumn(db.Name, table); c != "" {
			return c, nil
		}
	}
	cols, err := db.Engine.TableColumns(ctx, table)
	if err != nil {
		return "", err
	}
	pks, err := db.Engine.PrimaryKeys(ctx, table)
	if err != nil {
		return "", err
	}
	if len(cols) != 2 || len(pks) != 1 {
		return "", nil
	}
	for _, c := range cols {
		if c != pks[0] {
			return c, nil
		}
	}
	return "", nil
}

// displayRows renders cells for HTML: expanded values link to the referenced
// row and a single primary key links to its own row page.
func (t *TableSource) displayRows(ctx context.Context, db *Database, info *tableInfo, page *Page) [][]any {
	base := DatabasePath(db, t.HashURLs)
	targets := make(map[string]ForeignKey, len(info.fks))
	for _, fk := range info.fks {
		targets[fk.Column] = fk
	}
	pk := ""
	if len(info.pks) == 1 {
		pk = info.pks[0]
	}

	rows := make([][]any, len(page.Rows))
	for i, row := range page.Rows {
		display := make([]any, len(row))
		for j, value := range row {
			column := page.Columns[j]
			switch {
			case column == pk && value != nil:
				href := base + "/" + url.PathEscape(info.name) + "/" + url.PathEscape(fmt.Sprint(value))
				display[j] = link(href, fmt.Sprint(value))
			case page.IsExpanded(column):
				lv, ok := value.(LabeledValue)
				if !ok {
					display[j] = Markup("&nbsp;")
					continue
				}
				fk := targets[column]
				href := base + "/" + url.PathEscape(fk.OtherTable) + "/" + url.PathEscape(fmt.Sprint(lv.Value))
				if lv.Label == nil {
					display[j] = link(href, fmt.Sprint(lv.Value))
				} else {
					display[j] = Markup(string(link(href, fmt.Sprint(lv.Label))) + "&nbsp;<em>" + html.EscapeString(fmt.Sprint(lv.Value)) + "</em>")
				}
			default:
				display[j] = t.Cells.Render(ctx, Cell{Value: value, Column: column, Table: info.name, Database: db.Name})
			}
		}
		rows[i] = display
	}
	return rows
}

// RowData returns the single row addressed by the comma-separated,
// URL-encoded primary key path in req. Tables without a primary key are
// addressed by the engine's row key.
func (t *TableSource) RowData(ctx context.Context, req *Request) Outcome {
	db := req.Database
	args := req.Args()
	info, err := t.describe(ctx, db, args.Table)
	if err != nil {
		return Failure(err)
	}

	keys := info.pks
	if len(keys) == 0 {
		keys = []string{db.Engine.RowKey()}
	}
	parts := strings.Split(args.PKPath, ",")
	if len(parts) != len(keys) {
		return Failure(NotFoundError("Record not found: %s", args.PKPath))
	}
	var where WhereBuilder
	params := make(map[string]string, len(keys))
	for i, key := range keys {
		v, err := url.PathUnescape(parts[i])
		if err != nil {
			return Failure(NotFoundError("Record not found: %s", args.PKPath))
		}
		where.Equal(key, v)
		params["p"+strconv.Itoa(i)] = v
	}

	sql := "select * from " + QuoteIdentifier(info.name) + where.SQL()
	page, err := db.Engine.Execute(ctx, sql, where.Params(), QueryOptions{
		Truncate:  true,
		MaxRows:   1,
		TimeLimit: t.TimeLimit,
	})
	if err != nil {
		return Failure(err)
	}
	if len(page.Rows) == 0 {
		return Failure(NotFoundError("Record not found: %s", args.PKPath))
	}
	if err := t.expandLabels(ctx, db, page, t.labelsToExpand(req, info.fks)); err != nil {
		return Failure(err)
	}

	return ViewOutcome(&View{
		Name: "row",
		Data: &ResultData{
			Database:        db.Name,
			Table:           info.name,
			Columns:         page.Columns,
			Rows:            page.Rows,
			PrimaryKeys:     info.pks,
			ExpandedColumns: page.ExpandedColumns,
			Query:           &QueryInfo{SQL: sql, Params: params},
		},
		Extra: ContextBuilder{
			Eager: map[string]any{
				"database_path": DatabasePath(db, t.HashURLs),
				"primary_key":   args.PKPath,
			},
			Deferred: func(ctx context.Context) (map[string]any, error) {
				return map[string]any{
					"display_rows": t.displayRows(ctx, db, info, page),
				}, nil
			},
		},
		Templates: []string{
			fmt.Sprintf("row-%s-%s.html", ToCSSClass(db.Name), ToCSSClass(info.name)),
			"row.html",
		},
	})
}

func link(href, text string) Markup {
	return Markup(`<a href="` + html.EscapeString(href) + `">` + html.EscapeString(text) + `</a>`)
}

func indexOf(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return -1
}

func truthy(s string) bool {
	switch strings.ToLower(s) {
	case "1", "on", "true", "yes":
		return true
	}
	return false
}
