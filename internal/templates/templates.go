// Package templates renders HTML pages with templ components looked up by
// template name.
package templates

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/JonMunkholm/dataserve/internal/core"
	"github.com/a-h/templ"
)

// Page builds a component from a template context.
type Page func(data map[string]any) templ.Component

// Set is a named collection of pages. Render uses the first name that is
// registered, so callers pass the most specific name first.
type Set struct {
	mu    sync.RWMutex
	pages map[string]Page
}

// New returns a set with the built-in pages registered.
func New() *Set {
	s := &Set{pages: make(map[string]Page)}
	s.Register("index.html", IndexPage)
	s.Register("database.html", DatabasePage)
	s.Register("table.html", TablePage)
	s.Register("row.html", RowPage)
	s.Register("query.html", QueryPage)
	s.Register("error.html", ErrorPage)
	return s
}

// Register adds or replaces the page for name.
func (s *Set) Register(name string, p Page) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[name] = p
}

// Lookup returns the first registered page among names.
func (s *Set) Lookup(names []string) (string, Page, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, n := range names {
		if p, ok := s.pages[n]; ok {
			return n, p, true
		}
	}
	return "", nil, false
}

// Render implements core.TemplateRenderer.
func (s *Set) Render(ctx context.Context, names []string, data map[string]any) ([]byte, error) {
	name, page, ok := s.Lookup(names)
	if !ok {
		return nil, fmt.Errorf("no template found: %s", strings.Join(names, ", "))
	}
	var buf bytes.Buffer
	if err := page(data).Render(ctx, &buf); err != nil {
		return nil, fmt.Errorf("render %s: %w", name, err)
	}
	return buf.Bytes(), nil
}

// cell writes one display value. Markup is trusted, everything else is
// escaped.
func cell(w io.Writer, v any) error {
	var s string
	switch val := v.(type) {
	case core.Markup:
		s = string(val)
	case nil:
		s = "&nbsp;"
	case core.LabeledValue:
		s = templ.EscapeString(fmt.Sprint(val.Label))
	case []byte:
		s = templ.EscapeString(fmt.Sprintf("<Binary data: %d bytes>", len(val)))
	default:
		s = templ.EscapeString(fmt.Sprint(val))
	}
	_, err := io.WriteString(w, s)
	return err
}

func str(data map[string]any, key string) string {
	v, ok := data[key]
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
