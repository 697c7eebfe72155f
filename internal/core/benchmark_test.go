package core

import (
	"context"
	"fmt"
	"io"
	"testing"
)

// ============================================================================
// Export Benchmarks
// ============================================================================

func benchmarkPage(rows int) *Page {
	page := &Page{
		Columns:         []string{"id", "owner", "name", "score"},
		ExpandedColumns: []string{"owner"},
	}
	for i := 0; i < rows; i++ {
		page.Rows = append(page.Rows, []any{
			int64(i),
			LabeledValue{Value: int64(i % 7), Label: fmt.Sprintf("owner %d", i%7)},
			fmt.Sprintf("row, \"quoted\" %d", i),
			float64(i) / 3,
		})
	}
	return page
}

// BenchmarkExportRecord measures per-row CSV cell formatting, the inner
// loop of every export.
func BenchmarkExportRecord(b *testing.B) {
	page := benchmarkPage(1)
	row := page.Rows[0]

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		exportRecord(page, row)
	}
}

// BenchmarkExportWriteTo measures a single-page export of 1000 rows.
func BenchmarkExportWriteTo(b *testing.B) {
	page := benchmarkPage(1000)
	fetch := func(context.Context, string) (*Page, error) { return page, nil }
	exporter := &Exporter{}
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		x, err := exporter.Begin(ctx, ExportRequest{Database: "bench", Name: "t"}, fetch)
		if err != nil {
			b.Fatal(err)
		}
		if err := x.WriteTo(ctx, io.Discard); err != nil {
			b.Fatal(err)
		}
		x.Close()
	}
}

// ============================================================================
// Query Benchmarks
// ============================================================================

func BenchmarkNamedParameters(b *testing.B) {
	sql := "select * from facilities where city = :city and state = :state and id::text like :prefix || '%'"

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		NamedParameters(sql)
	}
}

// BenchmarkDisplayRows measures the cell renderer chain over a full page.
func BenchmarkDisplayRows(b *testing.B) {
	page := &Page{Columns: []string{"id", "url", "note"}}
	for i := 0; i < 100; i++ {
		page.Rows = append(page.Rows, []any{int64(i), "https://example.com/" + fmt.Sprint(i), ""})
	}
	chain := CellChain{}
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		chain.DisplayRows(ctx, page, "t", "db")
	}
}
