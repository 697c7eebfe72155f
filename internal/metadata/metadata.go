// Package metadata loads dataset descriptions, canned queries and label
// columns from metadata.yaml or metadata.json.
package metadata

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/JonMunkholm/dataserve/internal/core"
	"github.com/tailscale/hujson"
	"gopkg.in/yaml.v3"
)

var errUnsupportedFormat = errors.New("unsupported metadata format")

// Info is the descriptive block shared by the top level and each database.
type Info struct {
	Title       string `yaml:"title" json:"title"`
	Description string `yaml:"description" json:"description"`
	Source      string `yaml:"source" json:"source"`
	SourceURL   string `yaml:"source_url" json:"source_url"`
	License     string `yaml:"license" json:"license"`
	LicenseURL  string `yaml:"license_url" json:"license_url"`
}

// Query is a canned query. It may be written as a bare SQL string.
type Query struct {
	SQL         string   `yaml:"sql" json:"sql"`
	Title       string   `yaml:"title" json:"title"`
	Description string   `yaml:"description" json:"description"`
	Params      []string `yaml:"params" json:"params"`
	Write       bool     `yaml:"write" json:"write"`
	HideSQL     bool     `yaml:"hide_sql" json:"hide_sql"`
}

type queryFields Query

func (q *Query) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		q.SQL = node.Value
		return nil
	}
	return node.Decode((*queryFields)(q))
}

func (q *Query) UnmarshalJSON(data []byte) error {
	var sql string
	if err := json.Unmarshal(data, &sql); err == nil {
		q.SQL = sql
		return nil
	}
	return json.Unmarshal(data, (*queryFields)(q))
}

// Table holds per-table options.
type Table struct {
	Title       string `yaml:"title" json:"title"`
	LabelColumn string `yaml:"label_column" json:"label_column"`
}

// Database holds per-database metadata.
type Database struct {
	Info    `yaml:",inline"`
	Tables  map[string]Table `yaml:"tables" json:"tables"`
	Queries map[string]Query `yaml:"queries" json:"queries"`
}

// Metadata is the whole file.
type Metadata struct {
	Info      `yaml:",inline"`
	Databases map[string]Database `yaml:"databases" json:"databases"`
}

// Load reads path, choosing the parser by extension. JSON files may carry
// comments and trailing commas.
func Load(path string) (*Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read metadata: %w", err)
	}
	m, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("metadata %s: %w", path, err)
	}
	return m, nil
}

// Parse decodes data in the format named by ext (".yaml", ".yml", ".json").
func Parse(data []byte, ext string) (*Metadata, error) {
	var m Metadata
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("invalid YAML: %w", err)
		}
	case ".json":
		standardized, err := hujson.Standardize(data)
		if err != nil {
			return nil, fmt.Errorf("invalid JSON: %w", err)
		}
		if err := json.Unmarshal(standardized, &m); err != nil {
			return nil, fmt.Errorf("invalid JSON: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", errUnsupportedFormat, ext)
	}
	return &m, nil
}

// DatasetInfo merges database-level fields over the top-level ones.
func (m *Metadata) DatasetInfo(database string) core.DatasetInfo {
	if m == nil {
		return core.DatasetInfo{}
	}
	info := m.Info
	if db, ok := m.Databases[database]; ok {
		info = merge(info, db.Info)
	}
	return core.DatasetInfo(info)
}

func merge(base, over Info) Info {
	pick := func(a, b string) string {
		if b != "" {
			return b
		}
		return a
	}
	return Info{
		Title:       pick(base.Title, over.Title),
		Description: pick(base.Description, over.Description),
		Source:      pick(base.Source, over.Source),
		SourceURL:   pick(base.SourceURL, over.SourceURL),
		License:     pick(base.License, over.License),
		LicenseURL:  pick(base.LicenseURL, over.LicenseURL),
	}
}

// LabelColumn returns the configured label column for a table.
func (m *Metadata) LabelColumn(database, table string) string {
	if m == nil {
		return ""
	}
	return m.Databases[database].Tables[table].LabelColumn
}

// CannedQuery returns the named query of a database as a QuerySpec.
func (m *Metadata) CannedQuery(database, name string) (core.QuerySpec, bool) {
	if m == nil {
		return core.QuerySpec{}, false
	}
	q, ok := m.Databases[database].Queries[name]
	if !ok || q.SQL == "" {
		return core.QuerySpec{}, false
	}
	return core.QuerySpec{
		SQL:             q.SQL,
		CannedQuery:     name,
		Title:           q.Title,
		NamedParameters: q.Params,
		Write:           q.Write,
		HideSQL:         q.HideSQL,
		Metadata: map[string]any{
			"title":       q.Title,
			"description": q.Description,
		},
	}, true
}
