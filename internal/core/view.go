package core

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// QueryInfo is the SQL and parameters behind a result.
type QueryInfo struct {
	SQL    string            `json:"sql"`
	Params map[string]string `json:"params"`
}

// TableSummary describes one table on the database page.
type TableSummary struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
	Count   *int     `json:"count"`
}

// ResultData is the data every renderer and template receives.
type ResultData struct {
	Database          string         `json:"database"`
	Table             string         `json:"table,omitempty"`
	Columns           []string       `json:"columns"`
	Rows              [][]any        `json:"rows"`
	Truncated         bool           `json:"truncated"`
	Next              string         `json:"next,omitempty"`
	NextURL           string         `json:"next_url,omitempty"`
	PrimaryKeys       []string       `json:"primary_keys,omitempty"`
	ExpandedColumns   []string       `json:"expanded_columns,omitempty"`
	ExpandableColumns []string       `json:"expandable_columns,omitempty"`
	Tables            []TableSummary `json:"tables,omitempty"`
	Query             *QueryInfo     `json:"query,omitempty"`
	QueryMS           float64        `json:"query_ms"`
	Source            string         `json:"source,omitempty"`
	SourceURL         string         `json:"source_url,omitempty"`
	License           string         `json:"license,omitempty"`
	LicenseURL        string         `json:"license_url,omitempty"`
}

// Page returns the columnar part of the data for export.
func (d *ResultData) Page() *Page {
	return &Page{
		Columns:         d.Columns,
		Rows:            d.Rows,
		Truncated:       d.Truncated,
		Next:            d.Next,
		ExpandedColumns: d.ExpandedColumns,
	}
}

// Map flattens the data into template context keys.
func (d *ResultData) Map() map[string]any {
	m := map[string]any{
		"database":           d.Database,
		"table":              d.Table,
		"columns":            d.Columns,
		"rows":               d.Rows,
		"truncated":          d.Truncated,
		"next":               d.Next,
		"next_url":           d.NextURL,
		"primary_keys":       d.PrimaryKeys,
		"expanded_columns":   d.ExpandedColumns,
		"expandable_columns": d.ExpandableColumns,
		"tables":             d.Tables,
		"query_ms":           d.QueryMS,
	}
	if d.Query != nil {
		m["query"] = *d.Query
	}
	for k, v := range map[string]string{
		"source":      d.Source,
		"source_url":  d.SourceURL,
		"license":     d.License,
		"license_url": d.LicenseURL,
	} {
		if v != "" {
			m[k] = v
		}
	}
	return m
}

// ContextBuilder assembles extra template context in two phases: fields
// known up front, and fields that are only worth computing for an HTML page.
type ContextBuilder struct {
	Eager    map[string]any
	Deferred func(ctx context.Context) (map[string]any, error)
}

// Resolve collapses both phases into one mapping.
func (b ContextBuilder) Resolve(ctx context.Context) (map[string]any, error) {
	out := make(map[string]any, len(b.Eager))
	for k, v := range b.Eager {
		out[k] = v
	}
	if b.Deferred == nil {
		return out, nil
	}
	late, err := b.Deferred(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve template context: %w", err)
	}
	for k, v := range late {
		out[k] = v
	}
	return out, nil
}

// View is what a data source produces: data, extra template context and
// candidate template names, most specific first.
type View struct {
	Name      string
	Data      *ResultData
	Extra     ContextBuilder
	Templates []string
}

// Response is a complete, non-streaming response body.
type Response struct {
	Status      int
	ContentType string
	Header      http.Header
	Body        []byte
}

// OutcomeKind discriminates Outcome.
type OutcomeKind int

const (
	OutcomeView OutcomeKind = iota
	OutcomeResponse
	OutcomeRedirect
	OutcomeError
)

// Outcome is the explicit result of every step: a view or a finished
// response on success, a redirect, or a classified error.
type Outcome struct {
	Kind     OutcomeKind
	View     *View
	Response *Response
	Location string
	// ForwardQuery appends the current query string to Location.
	ForwardQuery bool
	Err          *Error
}

func ViewOutcome(v *View) Outcome { return Outcome{Kind: OutcomeView, View: v} }

func ResponseOutcome(r *Response) Outcome { return Outcome{Kind: OutcomeResponse, Response: r} }

func Redirect(location string, forwardQuery bool) Outcome {
	return Outcome{Kind: OutcomeRedirect, Location: location, ForwardQuery: forwardQuery}
}

func Failure(err error) Outcome { return Outcome{Kind: OutcomeError, Err: Classify(err)} }

// Request is the request-scoped input shared by sources, the dispatcher
// and the exporter.
type Request struct {
	Method      string
	Path        string
	RawQuery    string
	Query       url.Values
	Form        url.Values
	Database    *Database
	Hash        HashResolution
	Negotiation Negotiation

	// Next is the continuation cursor to start from.
	Next string
	// ForceMaxSize overrides _size with the largest allowed page.
	ForceMaxSize bool
}

// Args returns the de-ambiguated path arguments.
func (r *Request) Args() PathArgs {
	return r.Negotiation.Args
}
