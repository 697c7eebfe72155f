package core

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var namedParameterRe = regexp.MustCompile(`:([a-zA-Z0-9_]+)`)

// NamedParameters returns the distinct :name parameters in sql, in order
// of first appearance. Casts such as ::text are skipped.
func NamedParameters(sql string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, loc := range namedParameterRe.FindAllStringSubmatchIndex(sql, -1) {
		if loc[0] > 0 && sql[loc[0]-1] == ':' {
			continue
		}
		name := sql[loc[2]:loc[3]]
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}

var readOnlyPrefixRe = regexp.MustCompile(`(?is)^\s*(select|with|explain)\b`)

// ValidateReadSQL rejects arbitrary SQL that is not a read statement.
func ValidateReadSQL(sql string) error {
	if strings.TrimSpace(sql) == "" {
		return fmt.Errorf("%w: statement is empty", ErrInvalidQuery)
	}
	if !readOnlyPrefixRe.MatchString(sql) {
		return fmt.Errorf("%w: statement must be a SELECT", ErrInvalidQuery)
	}
	return nil
}

// QuerySpec describes one raw or canned query.
type QuerySpec struct {
	SQL         string
	Editable    bool
	CannedQuery string
	Title       string
	Metadata    map[string]any
	// PageSize, when positive, replaces max_returned_rows for this query.
	PageSize int
	// NamedParameters, when set, replaces extraction from SQL.
	NamedParameters []string
	Write           bool
	HideSQL         bool
}

// QueryExecutor runs raw and canned queries for the database and query views.
type QueryExecutor struct {
	Cells           CellChain
	MaxReturnedRows int
	TimeLimit       time.Duration
}

// Execute binds parameters from req and runs spec. Write queries execute
// only on POST and then redirect to the same path; any other method gets an
// empty preview.
func (x *QueryExecutor) Execute(ctx context.Context, req *Request, spec QuerySpec) Outcome {
	db := req.Database
	names := spec.NamedParameters
	if names == nil {
		names = NamedParameters(spec.SQL)
	}

	source := req.Query
	if spec.Write && req.Method == http.MethodPost {
		source = req.Form
	}

	params := make(map[string]string)
	for key, values := range req.Query {
		if key == "sql" || len(values) == 0 {
			continue
		}
		params[key] = values[0]
	}
	values := make(map[string]any, len(names))
	for _, name := range names {
		v := source.Get(name)
		values[name] = v
		if _, ok := params[name]; !ok {
			params[name] = v
		}
	}

	info := &QueryInfo{SQL: spec.SQL, Params: params}
	templates := x.templates(db.Name, spec.CannedQuery)
	extra := func(rows [][]any, page *Page) func(context.Context) (map[string]any, error) {
		return func(ctx context.Context) (map[string]any, error) {
			m := map[string]any{
				"custom_sql":             spec.CannedQuery == "",
				"editable":               spec.Editable,
				"canned_query":           spec.CannedQuery,
				"canned_write":           spec.Write,
				"metadata":               spec.Metadata,
				"title":                  spec.Title,
				"named_parameter_values": namedValues(names, params),
				"hide_sql":               spec.HideSQL || req.Query.Get("_hide_sql") != "",
			}
			if page != nil {
				m["display_rows"] = x.Cells.DisplayRows(ctx, page, "", db.Name)
			} else {
				m["display_rows"] = rows
			}
			return m, nil
		}
	}

	if spec.Write {
		if req.Method == http.MethodPost {
			if _, err := db.Write(ctx, spec.SQL, values); err != nil {
				return Failure(fmt.Errorf("%w: %v", ErrInvalidQuery, err))
			}
			return Redirect(req.Path, true)
		}
		return ViewOutcome(&View{
			Name: "query",
			Data: &ResultData{
				Database: db.Name,
				Columns:  []string{},
				Rows:     [][]any{},
				Query:    info,
			},
			Extra:     ContextBuilder{Deferred: extra([][]any{}, nil)},
			Templates: templates,
		})
	}

	maxRows := x.MaxReturnedRows
	if spec.PageSize > 0 {
		maxRows = spec.PageSize
	}
	page, err := db.Engine.Execute(ctx, spec.SQL, values, QueryOptions{
		Truncate:  true,
		MaxRows:   maxRows,
		TimeLimit: x.timeLimit(req.Query.Get("_timelimit")),
	})
	if err != nil {
		return Failure(err)
	}

	return ViewOutcome(&View{
		Name: "query",
		Data: &ResultData{
			Database:  db.Name,
			Columns:   page.Columns,
			Rows:      page.Rows,
			Truncated: page.Truncated,
			Query:     info,
		},
		Extra:     ContextBuilder{Deferred: extra(nil, page)},
		Templates: templates,
	})
}

// timeLimit applies a _timelimit override in milliseconds. The override
// can only shorten the configured limit.
func (x *QueryExecutor) timeLimit(raw string) time.Duration {
	limit := x.TimeLimit
	ms, err := strconv.Atoi(raw)
	if err != nil || ms <= 0 {
		return limit
	}
	custom := time.Duration(ms) * time.Millisecond
	if limit <= 0 || custom < limit {
		return custom
	}
	return limit
}

func (x *QueryExecutor) templates(database, canned string) []string {
	var names []string
	if canned != "" {
		names = append(names, fmt.Sprintf("query-%s-%s.html", ToCSSClass(database), ToCSSClass(canned)))
	}
	return append(names, fmt.Sprintf("query-%s.html", ToCSSClass(database)), "query.html")
}

// NamedValue is one named parameter and its bound value.
type NamedValue struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

func namedValues(names []string, params map[string]string) []NamedValue {
	out := make([]NamedValue, 0, len(names))
	for _, n := range names {
		out = append(out, NamedValue{Name: n, Value: params[n]})
	}
	return out
}
