package core

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// stubTemplates records the names and context of the last render.
type stubTemplates struct {
	names []string
	data  map[string]any
}

func (s *stubTemplates) Render(_ context.Context, names []string, data map[string]any) ([]byte, error) {
	s.names, s.data = names, data
	return []byte("<html>" + names[0] + "</html>"), nil
}

func dispatchRequest(path, rawQuery, format string) *Request {
	q, _ := url.ParseQuery(rawQuery)
	return &Request{
		Method:      http.MethodGet,
		Path:        path,
		RawQuery:    rawQuery,
		Query:       q,
		Negotiation: Negotiation{Format: format},
	}
}

func testView() *View {
	return &View{
		Name: "table",
		Data: &ResultData{
			Database:          "fixtures",
			Table:             "facetable",
			Columns:           []string{"pk", "city_id"},
			Rows:              [][]any{{int64(1), int64(2)}},
			ExpandableColumns: []string{"city_id"},
		},
		Extra: ContextBuilder{
			Eager: map[string]any{"filters": []string{}},
			Deferred: func(context.Context) (map[string]any, error) {
				return map[string]any{"display_rows": [][]any{}}, nil
			},
		},
		Templates: []string{"table-fixtures-facetable.html", "table.html"},
	}
}

func TestRendererRegistry(t *testing.T) {
	r := NewRendererRegistry()
	require.NoError(t, r.Register("json", RenderJSON))
	require.NoError(t, r.Register("yaml", RenderJSON))
	require.Error(t, r.Register("json", RenderJSON), "duplicate")
	require.Error(t, r.Register("csv", RenderJSON), "csv is built in")
	require.Error(t, r.Register("jsono", RenderJSON), "jsono is reserved")
	require.Equal(t, []string{"json", "yaml"}, r.Names())

	_, ok := r.Lookup("yaml")
	require.True(t, ok)
	_, ok = r.Lookup("xml")
	require.False(t, ok)
}

func TestDispatcher_JSON(t *testing.T) {
	reg := NewRendererRegistry()
	require.NoError(t, reg.Register("json", RenderJSON))
	d := &Dispatcher{
		Renderers: reg,
		Info: func(string) DatasetInfo {
			return DatasetInfo{Source: "Tests", License: "Apache 2.0"}
		},
	}

	out := d.Dispatch(context.Background(), dispatchRequest("/fixtures/facetable.json", "", "json"), testView(), 1500*time.Microsecond)
	require.Equal(t, OutcomeResponse, out.Kind)
	body := string(out.Response.Body)
	require.Contains(t, body, `"query_ms":1.5`)
	require.Contains(t, body, `"source":"Tests"`)
	require.Contains(t, body, `"license":"Apache 2.0"`)
}

func TestDispatcher_LegacyObjectsRedirect(t *testing.T) {
	d := &Dispatcher{Renderers: NewRendererRegistry()}

	out := d.Dispatch(context.Background(), dispatchRequest("/fixtures/facetable.jsono", "state=CA", FormatLegacyObjects), testView(), 0)
	require.Equal(t, OutcomeRedirect, out.Kind)
	require.Equal(t, "/fixtures/facetable.json?state=CA&_shape=objects", out.Location)

	out = d.Dispatch(context.Background(), dispatchRequest("/fixtures/table.with.dots", "_format=jsono", FormatLegacyObjects), testView(), 0)
	require.Equal(t, "/fixtures/table.with.dots.json?_shape=objects", out.Location)
}

func TestDispatcher_NilResponseIsNotFound(t *testing.T) {
	reg := NewRendererRegistry()
	require.NoError(t, reg.Register("empty", func(context.Context, url.Values, *ResultData, string) (*Response, error) {
		return nil, nil
	}))
	require.NoError(t, reg.Register("broken", func(context.Context, url.Values, *ResultData, string) (*Response, error) {
		return nil, errors.New("renderer exploded")
	}))
	d := &Dispatcher{Renderers: reg}

	out := d.Dispatch(context.Background(), dispatchRequest("/fixtures/facetable.empty", "", "empty"), testView(), 0)
	require.Equal(t, OutcomeError, out.Kind)
	require.Equal(t, http.StatusNotFound, out.Err.Status)
	require.Equal(t, "No data", out.Err.Message)

	out = d.Dispatch(context.Background(), dispatchRequest("/fixtures/facetable.broken", "", "broken"), testView(), 0)
	require.Equal(t, OutcomeError, out.Kind)
	require.Equal(t, http.StatusInternalServerError, out.Err.Status)
}

func TestDispatcher_HTML(t *testing.T) {
	reg := NewRendererRegistry()
	require.NoError(t, reg.Register("json", RenderJSON))
	tmpl := &stubTemplates{}
	d := &Dispatcher{Renderers: reg, Templates: tmpl, Version: "1.0", Settings: map[string]any{"allow_sql": true}}

	out := d.Dispatch(context.Background(), dispatchRequest("/fixtures/facetable", "state=CA&_labels=on", ""), testView(), 0)
	require.Equal(t, OutcomeResponse, out.Kind)
	require.Equal(t, "text/html; charset=utf-8", out.Response.ContentType)
	require.Equal(t, []string{"table-fixtures-facetable.html", "table.html"}, tmpl.names)

	data := tmpl.data
	require.Equal(t, "facetable", data["table"])
	require.Equal(t, []string{}, data["filters"])
	require.Equal(t, [][]any{}, data["display_rows"])
	require.Equal(t, map[string]string{"json": "/fixtures/facetable.json?state=CA&_labels=on"}, data["renderers"])
	require.Equal(t, "/fixtures/facetable.csv?state=CA&_labels=on&_size=max", data["url_csv"])
	require.Equal(t, "/fixtures/facetable.csv", data["url_csv_path"])
	require.Equal(t, []QueryArg{{Key: "state", Value: "CA"}, {Key: "_size", Value: "max"}}, data["url_csv_hidden_args"])
	require.Equal(t, "1.0", data["version"])
	require.Equal(t, "table", data["view_name"])
}

func TestDispatcher_UnknownFormatFallsBackToHTML(t *testing.T) {
	tmpl := &stubTemplates{}
	d := &Dispatcher{Renderers: NewRendererRegistry(), Templates: tmpl}

	out := d.Dispatch(context.Background(), dispatchRequest("/fixtures/facetable", "_format=xml", "xml"), testView(), 0)
	require.Equal(t, OutcomeResponse, out.Kind)
	require.True(t, strings.HasPrefix(string(out.Response.Body), "<html>"))
}

func TestDispatcher_ContextDebug(t *testing.T) {
	d := &Dispatcher{Renderers: NewRendererRegistry(), Templates: &stubTemplates{}, TemplateDebug: true}

	out := d.Dispatch(context.Background(), dispatchRequest("/fixtures/facetable", "_context=1", ""), testView(), 0)
	require.Equal(t, OutcomeResponse, out.Kind)
	body := string(out.Response.Body)
	require.True(t, strings.HasPrefix(body, "<pre>"))
	require.Contains(t, body, "&#34;view_name&#34;: &#34;table&#34;")
}
