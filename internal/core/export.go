package core

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/JonMunkholm/dataserve/internal/logging"
	"github.com/JonMunkholm/dataserve/internal/metrics"
)

// ErrExportTooLarge is returned once an export passes max_csv_mb.
var ErrExportTooLarge = errors.New("CSV contains more than the allowed size")

// exportFlushRows is how many rows are written between flushes to the client.
const exportFlushRows = 500

// LimitedWriter fails a write that would take the total past its limit.
// The failing write is not forwarded. A limit of zero disables the check.
type LimitedWriter struct {
	w       io.Writer
	limit   int64
	written int64
}

func NewLimitedWriter(w io.Writer, limitBytes int64) *LimitedWriter {
	return &LimitedWriter{w: w, limit: limitBytes}
}

func (l *LimitedWriter) Write(p []byte) (int, error) {
	if l.limit > 0 && l.written+int64(len(p)) > l.limit {
		return 0, fmt.Errorf("%w: %d MB", ErrExportTooLarge, l.limit/(1024*1024))
	}
	n, err := l.w.Write(p)
	l.written += int64(n)
	return n, err
}

// BytesWritten returns the number of bytes forwarded so far.
func (l *LimitedWriter) BytesWritten() int64 {
	return l.written
}

// FetchFunc returns the page that starts at cursor next.
type FetchFunc func(ctx context.Context, next string) (*Page, error)

// ExportRequest carries the export flags of one request.
type ExportRequest struct {
	Database string
	// Name is the download filename without extension: table or database.
	Name     string
	Stream   bool
	Next     string
	Download bool
}

// ExportRequestFrom reads _stream, _next and _dl from req.
func ExportRequestFrom(req *Request) ExportRequest {
	name := req.Args().Table
	if name == "" && req.Database != nil {
		name = req.Database.Name
	}
	er := ExportRequest{
		Name:     name,
		Stream:   req.Query.Get("_stream") != "",
		Next:     req.Query.Get("_next"),
		Download: req.Query.Get("_dl") != "",
	}
	if req.Database != nil {
		er.Database = req.Database.Name
	}
	return er
}

// Exporter writes results as CSV, optionally walking every page.
type Exporter struct {
	AllowStream bool
	MaxBytes    int64
	Limiter     *ExportLimiter
}

// Check rejects flag combinations before any query runs.
func (e *Exporter) Check(req ExportRequest) error {
	if !req.Stream {
		return nil
	}
	if !e.AllowStream {
		return RejectedError("CSV streaming is disabled")
	}
	if req.Next != "" {
		return RejectedError("_next not allowed for CSV streaming")
	}
	return nil
}

// Begin validates req, reserves a stream slot and fetches the first page
// eagerly so query errors surface before any bytes are sent. The returned
// Export must be closed.
func (e *Exporter) Begin(ctx context.Context, req ExportRequest, fetch FetchFunc) (*Export, error) {
	if err := e.Check(req); err != nil {
		return nil, err
	}

	release := func() {}
	if req.Stream && e.Limiter != nil {
		if err := e.Limiter.Acquire(ctx); err != nil {
			metrics.ExportsTotal.WithLabelValues(req.Database, "rejected").Inc()
			return nil, err
		}
		release = e.Limiter.Release
	}

	first, err := fetch(ctx, req.Next)
	if err == nil {
		err = first.Validate()
	}
	if err != nil {
		release()
		metrics.ExportsTotal.WithLabelValues(req.Database, "error").Inc()
		return nil, err
	}

	return &Export{
		req:      req,
		first:    first,
		fetch:    fetch,
		maxBytes: e.MaxBytes,
		release:  release,
	}, nil
}

// Export is one CSV response in progress.
type Export struct {
	req      ExportRequest
	first    *Page
	fetch    FetchFunc
	maxBytes int64
	release  func()
	closed   bool
	rows     int
	bytes    int64
}

// Rows returns the number of data rows written by WriteTo.
func (x *Export) Rows() int {
	return x.rows
}

// BytesWritten returns the number of bytes of CSV written by WriteTo.
func (x *Export) BytesWritten() int64 {
	return x.bytes
}

// Headings expands every labeled column into value and label columns.
func (x *Export) Headings() []string {
	out := make([]string, 0, len(x.first.Columns))
	for _, c := range x.first.Columns {
		out = append(out, c)
		if x.first.IsExpanded(c) {
			out = append(out, c+"_label")
		}
	}
	return out
}

// Header returns the response headers for the export.
func (x *Export) Header() http.Header {
	h := http.Header{}
	if x.req.Download {
		h.Set("Content-Type", "text/csv; charset=utf-8")
		h.Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.csv"`, x.req.Name))
	} else {
		h.Set("Content-Type", "text/plain; charset=utf-8")
	}
	return h
}

// WriteTo streams the CSV to w. A failure after the headers have gone out
// is appended to the body as text and also returned.
func (x *Export) WriteTo(ctx context.Context, w io.Writer) (err error) {
	start := time.Now()
	rows := 0
	lw := NewLimitedWriter(w, x.maxBytes)
	defer func() {
		x.rows = rows
		x.bytes = lw.BytesWritten()
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		metrics.ExportsTotal.WithLabelValues(x.req.Database, outcome).Inc()
		metrics.ExportRows.WithLabelValues(x.req.Database).Add(float64(rows))
		logging.FromContext(ctx).Debug("csv export finished",
			"database", x.req.Database,
			"name", x.req.Name,
			"stream", x.req.Stream,
			"rows", rows,
			"bytes", x.bytes,
			"duration", time.Since(start),
			"error", err,
		)
	}()

	flusher, _ := w.(http.Flusher)
	cw := csv.NewWriter(lw)
	cw.UseCRLF = true

	fail := func(cause error) error {
		if !errors.Is(cause, context.Canceled) {
			io.WriteString(w, cause.Error())
		}
		return cause
	}

	if err := cw.Write(x.Headings()); err != nil {
		return fail(err)
	}

	page := x.first
	for {
		for _, row := range page.Rows {
			record, err := exportRecord(page, row)
			if err != nil {
				cw.Flush()
				return fail(err)
			}
			if err := cw.Write(record); err != nil {
				return fail(err)
			}
			rows++
			if rows%exportFlushRows == 0 {
				cw.Flush()
				if err := cw.Error(); err != nil {
					return fail(err)
				}
				if flusher != nil {
					flusher.Flush()
				}
			}
		}
		cw.Flush()
		if err := cw.Error(); err != nil {
			return fail(err)
		}
		if flusher != nil {
			flusher.Flush()
		}

		if !x.req.Stream || page.Next == "" {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		next, err := x.fetch(ctx, page.Next)
		if err == nil {
			err = next.Validate()
		}
		if err != nil {
			return fail(err)
		}
		page = next
	}
}

// Close releases the stream slot. It is safe to call more than once.
func (x *Export) Close() {
	if x.closed {
		return
	}
	x.closed = true
	x.release()
}

// exportRecord flattens one row. An expanded column holds either nil or a
// LabeledValue; nil writes two empty cells.
func exportRecord(page *Page, row []any) ([]string, error) {
	out := make([]string, 0, len(row))
	for i, cell := range row {
		if i < len(page.Columns) && page.IsExpanded(page.Columns[i]) {
			switch lv := cell.(type) {
			case nil:
				out = append(out, "", "")
			case LabeledValue:
				out = append(out, formatExportCell(lv.Value), formatExportCell(lv.Label))
			default:
				return nil, fmt.Errorf("column %s: expected a labeled value, got %T", page.Columns[i], cell)
			}
			continue
		}
		out = append(out, formatExportCell(cell))
	}
	return out, nil
}

// formatExportCell renders one value as CSV text.
func formatExportCell(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return strings.ToValidUTF8(string(val), "?")
	case int64:
		return strconv.FormatInt(val, 10)
	case int:
		return strconv.Itoa(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case time.Time:
		return val.Format(time.RFC3339)
	case LabeledValue:
		return formatExportCell(val.Label)
	default:
		return fmt.Sprint(val)
	}
}
