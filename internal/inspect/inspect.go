// Package inspect precomputes database hashes and table counts so serve
// can start without rereading every file.
package inspect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/JonMunkholm/dataserve/internal/core"
	"github.com/JonMunkholm/dataserve/internal/engine"
	"github.com/natefinch/atomic"
)

// TableInfo is what is recorded per table.
type TableInfo struct {
	Count int `json:"count"`
}

// DatabaseInfo is what is recorded per database file.
type DatabaseInfo struct {
	Hash   string               `json:"hash"`
	File   string               `json:"file"`
	Tables map[string]TableInfo `json:"tables"`
}

// File maps database names to their inspection results.
type File map[string]DatabaseInfo

// DatabaseName derives the database name from a file path.
func DatabaseName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Build hashes every file and counts the rows of every table.
func Build(ctx context.Context, paths []string, workers int) (File, error) {
	hashes, err := engine.HashFiles(ctx, paths, workers)
	if err != nil {
		return nil, err
	}

	out := make(File, len(paths))
	for _, path := range paths {
		db, err := engine.OpenSQLite(path, false)
		if err != nil {
			return nil, err
		}
		tables, err := countTables(ctx, db)
		db.Close()
		if err != nil {
			return nil, fmt.Errorf("inspect %s: %w", path, err)
		}
		out[DatabaseName(path)] = DatabaseInfo{
			Hash:   hashes[path],
			File:   path,
			Tables: tables,
		}
	}
	return out, nil
}

func countTables(ctx context.Context, db core.Engine) (map[string]TableInfo, error) {
	names, err := db.Tables(ctx)
	if err != nil {
		return nil, err
	}
	tables := make(map[string]TableInfo, len(names))
	for _, name := range names {
		page, err := db.Execute(ctx, "select count(*) from "+core.QuoteIdentifier(name), nil, core.QueryOptions{})
		if err != nil {
			return nil, err
		}
		count := 0
		if len(page.Rows) == 1 {
			if n, ok := page.Rows[0][0].(int64); ok {
				count = int(n)
			}
		}
		tables[name] = TableInfo{Count: count}
	}
	return tables, nil
}

// Encode writes f as indented JSON.
func Encode(w io.Writer, f File) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "    ")
	if err := enc.Encode(f); err != nil {
		return fmt.Errorf("encode inspect file: %w", err)
	}
	return nil
}

// Write stores f at path atomically.
func Write(path string, f File) error {
	var buf bytes.Buffer
	if err := Encode(&buf, f); err != nil {
		return err
	}
	if err := atomic.WriteFile(path, &buf); err != nil {
		return fmt.Errorf("write inspect file: %w", err)
	}
	return nil
}

// Read loads an inspect file written by Write.
func Read(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read inspect file: %w", err)
	}
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode inspect file %s: %w", path, err)
	}
	return f, nil
}

// Hash returns the recorded hash for database, if any.
func (f File) Hash(database string) (string, bool) {
	info, ok := f[database]
	if !ok || info.Hash == "" {
		return "", false
	}
	return info.Hash, true
}

// Count returns the recorded row count of a table.
func (f File) Count(database, table string) (int, bool) {
	t, ok := f[database].Tables[table]
	return t.Count, ok
}
