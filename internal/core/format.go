package core

import (
	"context"
	"net/url"
	"sort"
	"strings"
)

// Format identifiers with special handling outside the renderer registry.
const (
	FormatCSV           = "csv"
	FormatJSON          = "json"
	FormatLegacyObjects = "jsono"
)

// PathArgs are the route-derived pieces of a data URL.
type PathArgs struct {
	Table          string
	TableAndFormat string // "name.ext" segment whose split point is ambiguous
	PKPath         string
	AsFormat       string // ".json"
	AsDB           string // ".db"
}

// TableExistsFunc reports whether a table exists in the current database.
type TableExistsFunc func(ctx context.Context, name string) (bool, error)

// ResolveTableAndFormat splits a combined "table.ext" segment. Table names
// may contain dots, so a table that exists under the full name wins.
// Otherwise the longest known extension is stripped. When nothing matches
// the whole segment is the table and the format is empty.
func ResolveTableAndFormat(ctx context.Context, combined string, exists TableExistsFunc, allowed []string) (string, string, error) {
	if strings.Contains(combined, ".") && exists != nil {
		ok, err := exists(ctx, combined)
		if err != nil {
			return "", "", err
		}
		if ok {
			return combined, "", nil
		}
	}

	for _, format := range extensionCandidates(allowed) {
		suffix := "." + format
		if strings.HasSuffix(combined, suffix) && len(combined) > len(suffix) {
			return strings.TrimSuffix(combined, suffix), format, nil
		}
	}
	return combined, "", nil
}

// extensionCandidates returns allowed plus the built-in csv/jsono formats,
// longest first so "jsono" is tried before "json".
func extensionCandidates(allowed []string) []string {
	seen := make(map[string]bool, len(allowed)+2)
	var formats []string
	for _, f := range append(append([]string{}, allowed...), FormatCSV, FormatLegacyObjects) {
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		formats = append(formats, f)
	}
	sort.SliceStable(formats, func(i, j int) bool {
		return len(formats[i]) > len(formats[j])
	})
	return formats
}

// Negotiation is the resolved output format plus de-ambiguated path args.
type Negotiation struct {
	Format string // "" means the default HTML page
	Args   PathArgs
	// DefaultLabels turns on foreign-key label expansion. Only the HTML
	// page expands labels unless a request asks for them.
	DefaultLabels bool
}

// FormatNegotiator decides the output format of a request.
type FormatNegotiator struct {
	// Formats are the registered structured renderer names.
	Formats []string
}

// Negotiate applies the precedence: ?_format wins, then a path extension,
// otherwise the default page.
func (n FormatNegotiator) Negotiate(ctx context.Context, query url.Values, args PathArgs, exists TableExistsFunc) (Negotiation, error) {
	format := query.Get("_format")
	if format == "" {
		format = strings.TrimPrefix(args.AsFormat, ".")
	}
	args.AsFormat = ""

	if args.TableAndFormat != "" {
		table, ext, err := ResolveTableAndFormat(ctx, unquotePlus(args.TableAndFormat), exists, n.Formats)
		if err != nil {
			return Negotiation{}, err
		}
		if format == "" {
			format = ext
		}
		args.Table = table
		args.TableAndFormat = ""
	} else if args.Table != "" {
		args.Table = unquotePlus(args.Table)
	}

	return Negotiation{
		Format:        format,
		Args:          args,
		DefaultLabels: format == "",
	}, nil
}

// unquotePlus decodes %XX escapes and '+' as space, keeping the input when
// it is not valid escaping.
func unquotePlus(s string) string {
	decoded, err := url.QueryUnescape(s)
	if err != nil {
		return s
	}
	return decoded
}
