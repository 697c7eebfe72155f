package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestNamedParameters(t *testing.T) {
	tests := []struct {
		sql  string
		want []string
	}{
		{"select * from t where a = :a and b = :b", []string{"a", "b"}},
		{"select :a, :a, :b_2", []string{"a", "b_2"}},
		{"select id::text from t where x = :x", []string{"x"}},
		{"select 1", nil},
	}
	for _, tt := range tests {
		if diff := cmp.Diff(tt.want, NamedParameters(tt.sql)); diff != "" {
			t.Errorf("NamedParameters(%q) mismatch (-want +got):\n%s", tt.sql, diff)
		}
	}
}

func TestValidateReadSQL(t *testing.T) {
	for _, ok := range []string{"select 1", "  SELECT * from t", "with x as (select 1) select * from x", "explain select 1"} {
		require.NoError(t, ValidateReadSQL(ok), ok)
	}
	for _, bad := range []string{"", "update t set a = 1", "drop table t", "selectx"} {
		err := ValidateReadSQL(bad)
		require.ErrorIs(t, err, ErrInvalidQuery, bad)
	}
}

func queryRequest(t *testing.T, db *Database, method, rawQuery string) *Request {
	t.Helper()
	q, err := url.ParseQuery(rawQuery)
	require.NoError(t, err)
	return &Request{
		Method:   method,
		Path:     "/" + db.Name + "/add_name",
		RawQuery: rawQuery,
		Query:    q,
		Form:     url.Values{},
		Database: db,
	}
}

func TestQueryExecutor_Read(t *testing.T) {
	eng := newFakeEngine()
	eng.respond = func(string, map[string]any, QueryOptions) (*Page, error) {
		return &Page{Columns: []string{"n"}, Rows: [][]any{{int64(1)}, {"https://example.com"}}, Truncated: true}, nil
	}
	db := &Database{Name: "fixtures", Engine: eng}
	x := &QueryExecutor{MaxReturnedRows: 100, TimeLimit: time.Second}

	req := queryRequest(t, db, http.MethodGet, "sql=select+:n&n=5&_timelimit=20")
	out := x.Execute(context.Background(), req, QuerySpec{SQL: "select :n", Editable: true})
	require.Equal(t, OutcomeView, out.Kind)

	call, ok := eng.lastCall("select :n")
	require.True(t, ok)
	require.Equal(t, map[string]any{"n": "5"}, call.params)
	require.Equal(t, QueryOptions{Truncate: true, MaxRows: 100, TimeLimit: 20 * time.Millisecond}, call.opts)

	data := out.View.Data
	require.True(t, data.Truncated)
	require.Equal(t, "select :n", data.Query.SQL)
	require.Equal(t, []string{"query-fixtures.html", "query.html"}, out.View.Templates)

	extra, err := out.View.Extra.Resolve(context.Background())
	require.NoError(t, err)
	require.Equal(t, true, extra["custom_sql"])
	require.Equal(t, []NamedValue{{Name: "n", Value: "5"}}, extra["named_parameter_values"])
	rows := extra["display_rows"].([][]any)
	require.Equal(t, Markup(`<a href="https://example.com">https://example.com</a>`), rows[1][0])
}

func TestQueryExecutor_CannedPageSize(t *testing.T) {
	eng := newFakeEngine()
	db := &Database{Name: "fixtures", Engine: eng}
	x := &QueryExecutor{MaxReturnedRows: 100}

	out := x.Execute(context.Background(), queryRequest(t, db, http.MethodGet, ""), QuerySpec{
		SQL:         "select 1",
		CannedQuery: "one",
		PageSize:    3,
	})
	require.Equal(t, OutcomeView, out.Kind)
	call, _ := eng.lastCall("select 1")
	require.Equal(t, 3, call.opts.MaxRows)
	require.Equal(t, []string{"query-fixtures-one.html", "query-fixtures.html", "query.html"}, out.View.Templates)
}

func TestQueryExecutor_Interrupted(t *testing.T) {
	eng := newFakeEngine()
	eng.respond = func(string, map[string]any, QueryOptions) (*Page, error) {
		return nil, fmt.Errorf("select: %w", ErrQueryInterrupted)
	}
	db := &Database{Name: "fixtures", Engine: eng}
	out := (&QueryExecutor{}).Execute(context.Background(), queryRequest(t, db, http.MethodGet, ""), QuerySpec{SQL: "select 1"})

	require.Equal(t, OutcomeError, out.Kind)
	require.Equal(t, http.StatusBadRequest, out.Err.Status)
	require.Equal(t, "SQL Interrupted", out.Err.Title)
	require.True(t, out.Err.MessageIsHTML)
}

func TestQueryExecutor_WritePreview(t *testing.T) {
	eng := newFakeEngine()
	catalog := testCatalog(eng)
	t.Cleanup(func() { catalog.Close() })
	db, _ := catalog.Get("scratch")

	spec := QuerySpec{SQL: "insert into names (name) values (:name)", CannedQuery: "add_name", Write: true}
	out := (&QueryExecutor{}).Execute(context.Background(), queryRequest(t, db, http.MethodGet, ""), spec)

	require.Equal(t, OutcomeView, out.Kind)
	require.Empty(t, out.View.Data.Rows)
	require.Empty(t, eng.writes)

	extra, err := out.View.Extra.Resolve(context.Background())
	require.NoError(t, err)
	require.Equal(t, true, extra["canned_write"])
	require.Equal(t, [][]any{}, extra["display_rows"])
}

func TestQueryExecutor_WritePost(t *testing.T) {
	eng := newFakeEngine()
	catalog := testCatalog(eng)
	t.Cleanup(func() { catalog.Close() })
	db, _ := catalog.Get("scratch")

	req := queryRequest(t, db, http.MethodPost, "")
	req.Form = url.Values{"name": {"Cleo"}}
	spec := QuerySpec{SQL: "insert into names (name) values (:name)", CannedQuery: "add_name", Write: true}
	out := (&QueryExecutor{}).Execute(context.Background(), req, spec)

	require.Equal(t, OutcomeRedirect, out.Kind)
	require.Equal(t, "/scratch/add_name", out.Location)
	require.True(t, out.ForwardQuery)
	require.Len(t, eng.writes, 1)
	require.Equal(t, map[string]any{"name": "Cleo"}, eng.writes[0].params)
}

func TestQueryExecutor_WriteToImmutable(t *testing.T) {
	eng := newFakeEngine()
	db := &Database{Name: "fixtures", Engine: eng}
	req := queryRequest(t, db, http.MethodPost, "")
	out := (&QueryExecutor{}).Execute(context.Background(), req, QuerySpec{SQL: "delete from t", Write: true})

	require.Equal(t, OutcomeError, out.Kind)
	require.True(t, errors.Is(out.Err, ErrInvalidQuery))
	require.Contains(t, out.Err.Message, "readonly database")
}

func TestQueryExecutor_TimeLimit(t *testing.T) {
	x := &QueryExecutor{TimeLimit: time.Second}
	require.Equal(t, time.Second, x.timeLimit(""))
	require.Equal(t, 10*time.Millisecond, x.timeLimit("10"))
	require.Equal(t, time.Second, x.timeLimit("5000"), "override cannot raise the limit")
	require.Equal(t, time.Second, x.timeLimit("abc"))

	unlimited := &QueryExecutor{}
	require.Equal(t, 5*time.Second, unlimited.timeLimit("5000"))
}
