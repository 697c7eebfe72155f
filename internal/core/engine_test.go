package core

import (
	"context"
	"strings"
	"sync"
)

// fakeTable is one table known to fakeEngine.
type fakeTable struct {
	columns []string
	pks     []string
	fks     []ForeignKey
}

// fakeCall records one Execute.
type fakeCall struct {
	sql    string
	params map[string]any
	opts   QueryOptions
}

// fakeEngine answers metadata from tables and Execute from respond.
type fakeEngine struct {
	tables  map[string]fakeTable
	order   []string
	respond func(sql string, params map[string]any, opts QueryOptions) (*Page, error)

	mu     sync.Mutex
	calls  []fakeCall
	writes []fakeCall
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{tables: make(map[string]fakeTable)}
}

func (f *fakeEngine) addTable(name string, t fakeTable) *fakeEngine {
	f.tables[name] = t
	f.order = append(f.order, name)
	return f
}

func (f *fakeEngine) Execute(_ context.Context, sql string, params map[string]any, opts QueryOptions) (*Page, error) {
	f.mu.Lock()
	f.calls = append(f.calls, fakeCall{sql: sql, params: params, opts: opts})
	f.mu.Unlock()
	if f.respond == nil {
		return &Page{Columns: []string{}, Rows: [][]any{}}, nil
	}
	return f.respond(sql, params, opts)
}

func (f *fakeEngine) ExecuteWrite(_ context.Context, sql string, params map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, fakeCall{sql: sql, params: params})
	return nil
}

func (f *fakeEngine) TableExists(_ context.Context, name string) (bool, error) {
	_, ok := f.tables[name]
	return ok, nil
}

func (f *fakeEngine) Tables(context.Context) ([]string, error) {
	return f.order, nil
}

func (f *fakeEngine) TableColumns(_ context.Context, table string) ([]string, error) {
	return f.tables[table].columns, nil
}

func (f *fakeEngine) PrimaryKeys(_ context.Context, table string) ([]string, error) {
	return f.tables[table].pks, nil
}

func (f *fakeEngine) ForeignKeys(_ context.Context, table string) ([]ForeignKey, error) {
	return f.tables[table].fks, nil
}

func (f *fakeEngine) RowKey() string { return "rowid" }

func (f *fakeEngine) Close() error { return nil }

// lastCall returns the most recent Execute whose SQL contains substr.
func (f *fakeEngine) lastCall(substr string) (fakeCall, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.calls) - 1; i >= 0; i-- {
		if strings.Contains(f.calls[i].sql, substr) {
			return f.calls[i], true
		}
	}
	return fakeCall{}, false
}

// testCatalog registers an immutable "fixtures" database with hash
// "abc1234def" and a mutable "scratch" database, both backed by eng.
func testCatalog(eng Engine) *Catalog {
	c := NewCatalog()
	c.Register(&Database{Name: "fixtures", Hash: "abc1234def", Engine: eng})
	c.Register(&Database{Name: "scratch", Mutable: true, Engine: eng})
	return c
}
