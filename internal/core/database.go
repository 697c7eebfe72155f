package core

import (
	"context"
	"fmt"
)

// CountFunc returns a precomputed row count for a table, if one is known.
type CountFunc func(database, table string) (int, bool)

// DatabaseSource serves the database view: the table list, or the result
// of an arbitrary ?sql= query.
type DatabaseSource struct {
	Queries  *QueryExecutor
	AllowSQL bool
	Counts   CountFunc
	HashURLs bool
}

func (s *DatabaseSource) Data(ctx context.Context, req *Request) Outcome {
	db := req.Database
	if sql := req.Query.Get("sql"); sql != "" {
		if !s.AllowSQL {
			return Failure(RejectedError("sql= is not allowed"))
		}
		if err := ValidateReadSQL(sql); err != nil {
			return Failure(err)
		}
		return s.Queries.Execute(ctx, req, QuerySpec{SQL: sql, Editable: true})
	}

	names, err := db.Engine.Tables(ctx)
	if err != nil {
		return Failure(err)
	}
	tables := make([]TableSummary, 0, len(names))
	for _, name := range names {
		cols, err := db.Engine.TableColumns(ctx, name)
		if err != nil {
			return Failure(err)
		}
		summary := TableSummary{Name: name, Columns: cols}
		if s.Counts != nil {
			if n, ok := s.Counts(db.Name, name); ok {
				summary.Count = &n
			}
		}
		tables = append(tables, summary)
	}

	return ViewOutcome(&View{
		Name: "database",
		Data: &ResultData{
			Database: db.Name,
			Columns:  []string{},
			Rows:     [][]any{},
			Tables:   tables,
		},
		Extra: ContextBuilder{
			Eager: map[string]any{
				"database_path": DatabasePath(db, s.HashURLs),
				"hash":          db.ShortHash(),
				"allow_sql":     s.AllowSQL,
			},
		},
		Templates: []string{
			fmt.Sprintf("database-%s.html", ToCSSClass(db.Name)),
			"database.html",
		},
	})
}
