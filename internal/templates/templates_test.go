package templates

import (
	"context"
	"io"
	"testing"

	"github.com/JonMunkholm/dataserve/internal/core"
	"github.com/a-h/templ"
	"github.com/stretchr/testify/require"
)

func TestRender_PicksFirstRegistered(t *testing.T) {
	s := New()
	s.Register("table-fixtures-facetable.html", func(map[string]any) templ.Component {
		return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
			_, err := io.WriteString(w, "custom")
			return err
		})
	})

	out, err := s.Render(context.Background(), []string{"table-fixtures-facetable.html", "table.html"}, nil)
	require.NoError(t, err)
	require.Equal(t, "custom", string(out))

	out, err = s.Render(context.Background(), []string{"table-other.html", "table.html"}, map[string]any{"table": "other"})
	require.NoError(t, err)
	require.Contains(t, string(out), "<h1>other</h1>")

	_, err = s.Render(context.Background(), []string{"nope.html"}, nil)
	require.EqualError(t, err, "no template found: nope.html")
}

func TestTablePage(t *testing.T) {
	data := map[string]any{
		"database":  "fixtures",
		"table":     "facetable",
		"columns":   []string{"pk", "name"},
		"query_ms":  1.5,
		"next_url":  "/fixtures/facetable?_next=Mg",
		"renderers": map[string]string{"json": "/fixtures/facetable.json"},
		"url_csv":   "/fixtures/facetable.csv?_size=max",
		"display_rows": [][]any{
			{core.Markup(`<a href="/fixtures/facetable/1">1</a>`), "<script>"},
			{nil, []byte{0xff}},
		},
		"url_csv_hidden_args": []core.QueryArg{{Key: "_size", Value: "max"}},
		"dataset":             core.DatasetInfo{Source: "Census", SourceURL: "https://example.com"},
		"version":             "0.9.0",
	}
	out, err := New().Render(context.Background(), []string{"table.html"}, data)
	require.NoError(t, err)
	html := string(out)

	require.Contains(t, html, `<a href="/fixtures/facetable/1">1</a>`)
	require.Contains(t, html, "&lt;script&gt;")
	require.NotContains(t, html, "<script>")
	require.Contains(t, html, "&nbsp;")
	require.Contains(t, html, "&lt;Binary data: 1 bytes&gt;")
	require.Contains(t, html, ">Next page</a>")
	require.Contains(t, html, "Query took 1.500ms")
	require.Contains(t, html, `name="_size"`)
	require.Contains(t, html, ">Census</a>")
	require.Contains(t, html, "Powered by dataserve 0.9.0")
}

func TestErrorPage(t *testing.T) {
	render := func(data map[string]any) string {
		out, err := New().Render(context.Background(), []string{"error.html"}, data)
		require.NoError(t, err)
		return string(out)
	}

	html := render(map[string]any{"status": 404, "error": "Table not found: <x>", "code": "DB002"})
	require.Contains(t, html, "<h1>Error 404</h1>")
	require.Contains(t, html, "Table not found: &lt;x&gt;")
	require.Contains(t, html, "Reference: DB002")

	html = render(map[string]any{"title": "SQL Interrupted", "error": "<b>slow</b>", "message_is_html": true})
	require.Contains(t, html, "<h1>SQL Interrupted</h1>")
	require.Contains(t, html, "<b>slow</b>")
}

func TestQueryPage(t *testing.T) {
	data := map[string]any{
		"database":               "fixtures",
		"title":                  "Add a city",
		"query":                  core.QueryInfo{SQL: "insert into t values (:name)"},
		"canned_write":           true,
		"named_parameter_values": []core.NamedValue{{Name: "name", Value: "O'Brien"}},
	}
	out, err := New().Render(context.Background(), []string{"query.html"}, data)
	require.NoError(t, err)
	html := string(out)

	require.Contains(t, html, `method="post"`)
	require.Contains(t, html, "<pre>insert into t values (:name)</pre>")
	require.Contains(t, html, `name="name"`)
	require.NotContains(t, html, "export-links", "write queries have no results")
}

func TestDatabasePage(t *testing.T) {
	count := 15
	data := map[string]any{
		"database":      "fixtures",
		"database_path": "/fixtures-abc1234",
		"allow_sql":     true,
		"tables": []core.TableSummary{
			{Name: "facetable", Columns: []string{"pk", "state"}, Count: &count},
		},
	}
	out, err := New().Render(context.Background(), []string{"database.html"}, data)
	require.NoError(t, err)
	html := string(out)

	require.Contains(t, html, `<a href="/fixtures-abc1234/facetable">facetable</a>`)
	require.Contains(t, html, "15 rows")
	require.Contains(t, html, `<textarea name="sql">`)
}
