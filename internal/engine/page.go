// Package engine implements core.Engine for SQLite and PostgreSQL.
package engine

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/JonMunkholm/dataserve/internal/core"
	"github.com/JonMunkholm/dataserve/internal/metrics"
)

// collector accumulates rows into a page according to QueryOptions.
type collector struct {
	opts    core.QueryOptions
	offset  int
	limit   int // 0 means unlimited
	page    *core.Page
	fetched int
}

func newCollector(columns []string, opts core.QueryOptions) (*collector, error) {
	c := &collector{opts: opts, page: &core.Page{Columns: columns, Rows: [][]any{}}}
	switch {
	case opts.Paginate:
		offset, err := decodeCursor(opts.Cursor)
		if err != nil {
			return nil, err
		}
		c.offset = offset
		c.limit = opts.PageSize
	case opts.Truncate:
		c.limit = opts.MaxRows
	}
	return c, nil
}

// add appends a row. It returns false once one row past the limit has been
// seen; that row is dropped and only marks the page as having more.
func (c *collector) add(row []any) bool {
	c.fetched++
	if c.limit > 0 && c.fetched > c.limit {
		if c.opts.Paginate {
			c.page.Next = encodeCursor(c.offset + c.limit)
		} else {
			c.page.Truncated = true
		}
		return false
	}
	for i, v := range row {
		row[i] = normalizeValue(v)
	}
	c.page.Rows = append(c.page.Rows, row)
	return true
}

// paginate appends the limit/offset clause for a paginated read.
func paginate(sql string, opts core.QueryOptions) (string, error) {
	if !opts.Paginate {
		return sql, nil
	}
	offset, err := decodeCursor(opts.Cursor)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s limit %d offset %d", sql, opts.PageSize+1, offset), nil
}

func encodeCursor(offset int) string {
	return base64.RawURLEncoding.EncodeToString([]byte(strconv.Itoa(offset)))
}

func decodeCursor(cursor string) (int, error) {
	if cursor == "" {
		return 0, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid _next cursor", core.ErrInvalidQuery)
	}
	n, err := strconv.Atoi(string(raw))
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: invalid _next cursor", core.ErrInvalidQuery)
	}
	return n, nil
}

// normalizeValue converts driver values into JSON-friendly ones.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case []byte:
		if utf8.Valid(val) {
			return string(val)
		}
		return val
	case int32:
		return int64(val)
	case int16:
		return int64(val)
	case int8:
		return int64(val)
	case float32:
		return float64(val)
	}
	return v
}

// withTimeLimit derives the per-query context.
func withTimeLimit(ctx context.Context, limit time.Duration) (context.Context, context.CancelFunc) {
	if limit <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, limit)
}

// interrupted reports whether err came from the query's own deadline
// rather than from the caller going away.
func interrupted(parent, queryCtx context.Context, err error) bool {
	if parent.Err() != nil {
		return false
	}
	return errors.Is(queryCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded)
}

// filterParams keeps only the parameters sql references, adding "" for
// any that are missing.
func filterParams(sql string, params map[string]any) map[string]any {
	names := core.NamedParameters(sql)
	out := make(map[string]any, len(names))
	for _, n := range names {
		v, ok := params[n]
		if !ok {
			v = ""
		}
		out[n] = v
	}
	return out
}

func observeQuery(database string, start time.Time, err error) {
	outcome := "ok"
	switch {
	case errors.Is(err, core.ErrQueryInterrupted):
		outcome = "interrupted"
	case err != nil:
		outcome = "error"
	}
	metrics.QueryDuration.WithLabelValues(database, outcome).Observe(time.Since(start).Seconds())
}
