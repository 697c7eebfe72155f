package engine

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/JonMunkholm/dataserve/internal/core"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestBindNamed(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		params   map[string]any
		wantSQL  string
		wantArgs []any
	}{
		{
			name:     "positional in order of first use",
			query:    "select * from t where a = :a and b = :b or a = :a",
			params:   map[string]any{"a": 1, "b": "x"},
			wantSQL:  "select * from t where a = $1 and b = $2 or a = $1",
			wantArgs: []any{1, "x"},
		},
		{
			name:     "missing parameter binds empty string",
			query:    "select :missing",
			wantSQL:  "select $1",
			wantArgs: []any{""},
		},
		{
			name:    "casts are untouched",
			query:   "select '1'::int, now()::date",
			wantSQL: "select '1'::int, now()::date",
		},
		{
			name:     "quoted text is untouched",
			query:    "select ':not_a_param', :real",
			params:   map[string]any{"real": true},
			wantSQL:  "select ':not_a_param', $1",
			wantArgs: []any{true},
		},
		{
			name:    "lone colon",
			query:   "select 1 : 2",
			wantSQL: "select 1 : 2",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args := BindNamed(tt.query, tt.params)
			require.Equal(t, tt.wantSQL, sql)
			if diff := cmp.Diff(tt.wantArgs, args); diff != "" {
				t.Errorf("args mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

// TestPostgres_Integration runs against a live server when
// TEST_DATABASE_URL is set.
func TestPostgres_Integration(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	p, err := OpenPostgres(ctx, "pg", PostgresOptions{URL: url, MaxConns: 2})
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })

	require.NoError(t, p.ExecuteWrite(ctx, `drop table if exists dataserve_test`, nil))
	require.NoError(t, p.ExecuteWrite(ctx, `create table dataserve_test (id serial primary key, name text)`, nil))
	t.Cleanup(func() { p.ExecuteWrite(ctx, `drop table dataserve_test`, nil) })
	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, p.ExecuteWrite(ctx, `insert into dataserve_test (name) values (:name)`, map[string]any{"name": name}))
	}

	exists, err := p.TableExists(ctx, "dataserve_test")
	require.NoError(t, err)
	require.True(t, exists)

	pks, err := p.PrimaryKeys(ctx, "dataserve_test")
	require.NoError(t, err)
	require.Equal(t, []string{"id"}, pks)

	page, err := p.Execute(ctx, `select name from dataserve_test order by id`, nil, core.QueryOptions{Paginate: true, PageSize: 2})
	require.NoError(t, err)
	require.Equal(t, [][]any{{"a"}, {"b"}}, page.Rows)
	require.Equal(t, encodeCursor(2), page.Next)

	_, err = p.Execute(ctx, `select pg_sleep(1)`, nil, core.QueryOptions{TimeLimit: 50 * time.Millisecond})
	require.ErrorIs(t, err, core.ErrQueryInterrupted)
}
