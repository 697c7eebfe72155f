package core

import (
	"context"
	"fmt"
	"time"
)

// LabeledValue is the cell of an expanded foreign-key column: the stored
// value plus the human label looked up from the referenced table.
type LabeledValue struct {
	Value any `json:"value"`
	Label any `json:"label"`
}

// Page is one page of a query result. Rows are aligned to Columns.
// Next, when non-empty, is an opaque cursor for the following page.
type Page struct {
	Columns         []string
	Rows            [][]any
	Truncated       bool
	Next            string
	ExpandedColumns []string
}

// Validate checks that every row has exactly one cell per column.
func (p *Page) Validate() error {
	for i, row := range p.Rows {
		if len(row) != len(p.Columns) {
			return fmt.Errorf("row %d has %d cells, want %d", i, len(row), len(p.Columns))
		}
	}
	return nil
}

// IsExpanded reports whether column holds LabeledValue cells.
func (p *Page) IsExpanded(column string) bool {
	for _, c := range p.ExpandedColumns {
		if c == column {
			return true
		}
	}
	return false
}

// QueryOptions tunes a single Execute call.
type QueryOptions struct {
	// Truncate caps the result at MaxRows and sets Page.Truncated.
	Truncate bool
	MaxRows  int

	// Paginate fetches PageSize rows starting at Cursor and fills Page.Next.
	Paginate bool
	PageSize int
	Cursor   string

	// TimeLimit bounds execution. Exceeding it fails with ErrQueryInterrupted.
	TimeLimit time.Duration
}

// ForeignKey describes column -> OtherTable.OtherColumn.
type ForeignKey struct {
	Column      string
	OtherTable  string
	OtherColumn string
}

// Engine executes SQL against one database.
//
// Execute wraps syntax and operational failures with ErrInvalidQuery and
// time-limit failures with ErrQueryInterrupted. It never returns a partial
// page alongside an error.
type Engine interface {
	Execute(ctx context.Context, sql string, params map[string]any, opts QueryOptions) (*Page, error)
	ExecuteWrite(ctx context.Context, sql string, params map[string]any) error
	TableExists(ctx context.Context, name string) (bool, error)
	Tables(ctx context.Context) ([]string, error)
	TableColumns(ctx context.Context, table string) ([]string, error)
	PrimaryKeys(ctx context.Context, table string) ([]string, error)
	ForeignKeys(ctx context.Context, table string) ([]ForeignKey, error)
	// RowKey names the implicit column that orders and addresses rows of
	// a table without a primary key.
	RowKey() string
	Close() error
}
