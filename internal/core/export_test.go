package core

import (
	"bytes"
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func pagesFetch(pages map[string]*Page) FetchFunc {
	return func(_ context.Context, next string) (*Page, error) {
		p, ok := pages[next]
		if !ok {
			return nil, errors.New("unexpected cursor " + next)
		}
		return p, nil
	}
}

func TestExport_LabeledColumns(t *testing.T) {
	page := &Page{
		Columns:         []string{"id", "owner"},
		Rows:            [][]any{{int64(1), LabeledValue{Value: int64(1), Label: "alice"}}},
		ExpandedColumns: []string{"owner"},
	}
	x, err := (&Exporter{}).Begin(context.Background(), ExportRequest{Name: "t"}, pagesFetch(map[string]*Page{"": page}))
	require.NoError(t, err)
	defer x.Close()

	var buf bytes.Buffer
	require.NoError(t, x.WriteTo(context.Background(), &buf))
	require.Equal(t, "id,owner,owner_label\r\n1,1,alice\r\n", buf.String())
}

func TestExport_NullExpandedValue(t *testing.T) {
	page := &Page{
		Columns:         []string{"id", "owner"},
		Rows:            [][]any{{int64(2), nil}},
		ExpandedColumns: []string{"owner"},
	}
	x, err := (&Exporter{}).Begin(context.Background(), ExportRequest{}, pagesFetch(map[string]*Page{"": page}))
	require.NoError(t, err)
	defer x.Close()

	var buf bytes.Buffer
	require.NoError(t, x.WriteTo(context.Background(), &buf))
	require.Equal(t, "id,owner,owner_label\r\n2,,\r\n", buf.String())
}

func TestExport_StreamWalksEveryPage(t *testing.T) {
	pages := map[string]*Page{
		"":   {Columns: []string{"n"}, Rows: [][]any{{int64(1)}, {int64(2)}}, Next: "Mg"},
		"Mg": {Columns: []string{"n"}, Rows: [][]any{{int64(3)}}, Next: "Mw"},
		"Mw": {Columns: []string{"n"}, Rows: [][]any{{"four, quoted"}}},
	}
	limiter := NewExportLimiter(1, time.Second)
	e := &Exporter{AllowStream: true, Limiter: limiter}

	x, err := e.Begin(context.Background(), ExportRequest{Stream: true}, pagesFetch(pages))
	require.NoError(t, err)
	require.Equal(t, 1, limiter.ActiveCount())

	var buf bytes.Buffer
	require.NoError(t, x.WriteTo(context.Background(), &buf))
	x.Close()
	x.Close()

	require.Equal(t, "n\r\n1\r\n2\r\n3\r\n\"four, quoted\"\r\n", buf.String())
	require.Equal(t, 0, limiter.ActiveCount())
}

func TestExport_WithoutStreamStopsAfterFirstPage(t *testing.T) {
	pages := map[string]*Page{
		"": {Columns: []string{"n"}, Rows: [][]any{{int64(1)}}, Next: "Mg"},
	}
	x, err := (&Exporter{}).Begin(context.Background(), ExportRequest{}, pagesFetch(pages))
	require.NoError(t, err)
	defer x.Close()

	var buf bytes.Buffer
	require.NoError(t, x.WriteTo(context.Background(), &buf))
	require.Equal(t, "n\r\n1\r\n", buf.String())
}

func TestExport_ErrorAfterHeadersIsAppended(t *testing.T) {
	pages := map[string]*Page{
		"": {Columns: []string{"n"}, Rows: [][]any{{int64(1)}}, Next: "Mg"},
	}
	e := &Exporter{AllowStream: true}
	x, err := e.Begin(context.Background(), ExportRequest{Stream: true}, pagesFetch(pages))
	require.NoError(t, err)
	defer x.Close()

	var buf bytes.Buffer
	err = x.WriteTo(context.Background(), &buf)
	require.Error(t, err)
	require.True(t, strings.HasPrefix(buf.String(), "n\r\n1\r\n"))
	require.Contains(t, buf.String(), "unexpected cursor Mg")
}

func TestExport_CancelStopsFetching(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	first := &Page{Columns: []string{"n"}, Rows: [][]any{{int64(1)}}, Next: "Mg"}
	calls := 0
	fetch := func(_ context.Context, next string) (*Page, error) {
		calls++
		if next != "" {
			t.Errorf("fetched page %q after the client went away", next)
		}
		return first, nil
	}
	e := &Exporter{AllowStream: true}
	x, err := e.Begin(ctx, ExportRequest{Stream: true}, fetch)
	require.NoError(t, err)
	defer x.Close()

	w := &cancelAfterWrite{cancel: cancel}
	err = x.WriteTo(ctx, w)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, calls)
	require.Equal(t, "n\r\n1\r\n", w.buf.String())
	require.Equal(t, 1, x.Rows())
	require.Equal(t, int64(len("n\r\n1\r\n")), x.BytesWritten())
}

// cancelAfterWrite cancels its context once the first page is written.
type cancelAfterWrite struct {
	buf    bytes.Buffer
	cancel context.CancelFunc
}

func (c *cancelAfterWrite) Write(p []byte) (int, error) {
	n, err := c.buf.Write(p)
	c.cancel()
	return n, err
}

func TestExport_UnlabeledExpandedCell(t *testing.T) {
	page := &Page{
		Columns:         []string{"id", "owner"},
		Rows:            [][]any{{int64(1), LabeledValue{Value: int64(1), Label: "alice"}}, {int64(2), int64(7)}},
		ExpandedColumns: []string{"owner"},
	}
	x, err := (&Exporter{}).Begin(context.Background(), ExportRequest{}, pagesFetch(map[string]*Page{"": page}))
	require.NoError(t, err)
	defer x.Close()

	var buf bytes.Buffer
	err = x.WriteTo(context.Background(), &buf)
	require.EqualError(t, err, "column owner: expected a labeled value, got int64")
	require.Equal(t, "id,owner,owner_label\r\n1,1,alice\r\ncolumn owner: expected a labeled value, got int64", buf.String())
	require.Equal(t, 1, x.Rows())
}

func TestExport_SizeLimit(t *testing.T) {
	page := &Page{Columns: []string{"v"}}
	for i := 0; i < 2000; i++ {
		page.Rows = append(page.Rows, []any{strings.Repeat("x", 1000)})
	}
	e := &Exporter{MaxBytes: 1024 * 1024}
	x, err := e.Begin(context.Background(), ExportRequest{}, pagesFetch(map[string]*Page{"": page}))
	require.NoError(t, err)
	defer x.Close()

	var buf bytes.Buffer
	err = x.WriteTo(context.Background(), &buf)
	require.ErrorIs(t, err, ErrExportTooLarge)
	require.Contains(t, buf.String(), "CSV contains more than")
	require.Less(t, buf.Len(), 1024*1024+200)
}

func TestExporter_Check(t *testing.T) {
	tests := []struct {
		name    string
		e       Exporter
		req     ExportRequest
		wantErr string
	}{
		{"single page always allowed", Exporter{}, ExportRequest{Next: "MTA"}, ""},
		{"streaming disabled", Exporter{}, ExportRequest{Stream: true}, "CSV streaming is disabled"},
		{"stream with cursor", Exporter{AllowStream: true}, ExportRequest{Stream: true, Next: "MTA"}, "_next not allowed for CSV streaming"},
		{"stream allowed", Exporter{AllowStream: true}, ExportRequest{Stream: true}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.e.Check(tt.req)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.EqualError(t, err, tt.wantErr)
			require.Equal(t, KindConfigRejected, Classify(err).Kind)
		})
	}
}

func TestExport_FirstPageErrorReleasesSlot(t *testing.T) {
	limiter := NewExportLimiter(1, time.Second)
	e := &Exporter{AllowStream: true, Limiter: limiter}
	_, err := e.Begin(context.Background(), ExportRequest{Stream: true}, func(context.Context, string) (*Page, error) {
		return nil, ErrQueryInterrupted
	})
	require.ErrorIs(t, err, ErrQueryInterrupted)
	require.Equal(t, 0, limiter.ActiveCount())
}

func TestExport_MisalignedPage(t *testing.T) {
	page := &Page{Columns: []string{"a", "b"}, Rows: [][]any{{"x"}}}
	_, err := (&Exporter{}).Begin(context.Background(), ExportRequest{}, pagesFetch(map[string]*Page{"": page}))
	require.EqualError(t, err, "row 0 has 1 cells, want 2")
}

func TestExport_Header(t *testing.T) {
	page := &Page{Columns: []string{"n"}}
	fetch := pagesFetch(map[string]*Page{"": page})

	x, err := (&Exporter{}).Begin(context.Background(), ExportRequest{Name: "facetable", Download: true}, fetch)
	require.NoError(t, err)
	require.Equal(t, "text/csv; charset=utf-8", x.Header().Get("Content-Type"))
	require.Equal(t, `attachment; filename="facetable.csv"`, x.Header().Get("Content-Disposition"))

	x, err = (&Exporter{}).Begin(context.Background(), ExportRequest{Name: "facetable"}, fetch)
	require.NoError(t, err)
	require.Equal(t, "text/plain; charset=utf-8", x.Header().Get("Content-Type"))
	require.Empty(t, x.Header().Get("Content-Disposition"))
}

func TestExportRequestFrom(t *testing.T) {
	q, _ := url.ParseQuery("_stream=on&_dl=1&_next=MTA")
	req := &Request{
		Query:       q,
		Database:    &Database{Name: "fixtures"},
		Negotiation: Negotiation{Args: PathArgs{Table: "facetable"}},
	}
	got := ExportRequestFrom(req)
	require.Equal(t, ExportRequest{Database: "fixtures", Name: "facetable", Stream: true, Next: "MTA", Download: true}, got)

	req.Negotiation.Args.Table = ""
	require.Equal(t, "fixtures", ExportRequestFrom(req).Name)
}

func TestLimitedWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewLimitedWriter(&buf, 10)

	n, err := w.Write([]byte("12345"))
	require.NoError(t, err)
	require.Equal(t, 5, n)

	_, err = w.Write([]byte("123456"))
	require.ErrorIs(t, err, ErrExportTooLarge)
	require.Equal(t, "12345", buf.String())
	require.Equal(t, int64(5), w.BytesWritten())

	unlimited := NewLimitedWriter(&buf, 0)
	_, err = unlimited.Write(make([]byte, 1<<20))
	require.NoError(t, err)
}

func TestFormatExportCell(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{nil, ""},
		{"text", "text"},
		{int64(-3), "-3"},
		{1.5, "1.5"},
		{true, "true"},
		{[]byte("raw"), "raw"},
		{time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), "2024-01-02T03:04:05Z"},
	}
	for _, tt := range tests {
		if got := formatExportCell(tt.in); got != tt.want {
			t.Errorf("formatExportCell(%#v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
