package core

import (
	"context"
	"html"
	"strings"
)

// Markup is already-escaped HTML. Templates write it verbatim.
type Markup string

// Cell is what a per-cell renderer sees.
type Cell struct {
	Value    any
	Column   string
	Table    string // empty for custom queries
	Database string
}

// CellRenderer transforms a cell for display. ok=false passes the cell on
// to the next renderer in the chain.
type CellRenderer interface {
	RenderCell(ctx context.Context, cell Cell) (value any, ok bool)
}

// CellRendererFunc adapts a function to CellRenderer.
type CellRendererFunc func(ctx context.Context, cell Cell) (any, bool)

func (f CellRendererFunc) RenderCell(ctx context.Context, cell Cell) (any, bool) {
	return f(ctx, cell)
}

// CellChain is an ordered list of renderers; the first to answer wins.
type CellChain []CellRenderer

// Render runs the chain, then the built-in fallbacks: blank cells become a
// non-breaking space and bare URLs become links.
func (c CellChain) Render(ctx context.Context, cell Cell) any {
	for _, r := range c {
		if v, ok := r.RenderCell(ctx, cell); ok && v != nil {
			return v
		}
	}

	switch v := cell.Value.(type) {
	case nil:
		return Markup("&nbsp;")
	case string:
		if v == "" {
			return Markup("&nbsp;")
		}
		if trimmed := strings.TrimSpace(v); IsURL(trimmed) {
			escaped := html.EscapeString(trimmed)
			return Markup(`<a href="` + escaped + `">` + escaped + `</a>`)
		}
	}
	return cell.Value
}

// DisplayRows projects every row of page through the chain.
func (c CellChain) DisplayRows(ctx context.Context, page *Page, table, database string) [][]any {
	rows := make([][]any, len(page.Rows))
	for i, row := range page.Rows {
		display := make([]any, len(row))
		for j, value := range row {
			display[j] = c.Render(ctx, Cell{
				Value:    value,
				Column:   page.Columns[j],
				Table:    table,
				Database: database,
			})
		}
		rows[i] = display
	}
	return rows
}
