package core

import (
	"crypto/md5"
	"encoding/hex"
	"net/url"
	"regexp"
	"sort"
	"strings"
)

// QueryArg is one key/value pair of a query string, kept in order.
type QueryArg struct {
	Key   string
	Value string
}

// ParseQueryArgs splits a raw query string into ordered pairs. Pairs with
// an empty value are dropped.
func ParseQueryArgs(rawQuery string) []QueryArg {
	var args []QueryArg
	for _, part := range strings.FieldsFunc(rawQuery, func(r rune) bool { return r == '&' || r == ';' }) {
		key, value, _ := strings.Cut(part, "=")
		key, kerr := url.QueryUnescape(key)
		value, verr := url.QueryUnescape(value)
		if kerr != nil || verr != nil || value == "" {
			continue
		}
		args = append(args, QueryArg{Key: key, Value: value})
	}
	return args
}

// EncodeQueryArgs is the inverse of ParseQueryArgs, preserving order.
func EncodeQueryArgs(args []QueryArg) string {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		parts = append(parts, url.QueryEscape(a.Key)+"="+url.QueryEscape(a.Value))
	}
	return strings.Join(parts, "&")
}

func withQuery(path, query string) string {
	if query == "" {
		return path
	}
	return path + "?" + query
}

// PathWithAddedArgs appends args to the current query string. A query
// string embedded in path takes precedence over rawQuery.
func PathWithAddedArgs(path, rawQuery string, args ...QueryArg) string {
	if p, q, found := strings.Cut(path, "?"); found {
		path, rawQuery = p, q
	}
	current := ParseQueryArgs(rawQuery)
	current = append(current, args...)
	return withQuery(path, EncodeQueryArgs(current))
}

// PathWithRemovedArgs drops every pair whose key is in keys. A query string
// embedded in path takes precedence over rawQuery.
func PathWithRemovedArgs(path, rawQuery string, keys ...string) string {
	if p, q, found := strings.Cut(path, "?"); found {
		path, rawQuery = p, q
	}
	remove := make(map[string]bool, len(keys))
	for _, k := range keys {
		remove[k] = true
	}
	var kept []QueryArg
	for _, a := range ParseQueryArgs(rawQuery) {
		if !remove[a.Key] {
			kept = append(kept, a)
		}
	}
	return withQuery(path, EncodeQueryArgs(kept))
}

// PathWithFormat rewrites path to request format. Paths that already carry
// an extension get ?_format= instead. extra args are appended sorted by key
// unless the query already has that key.
func PathWithFormat(path, rawQuery, format string, extra ...QueryArg) string {
	present := make(map[string]bool)
	for _, a := range ParseQueryArgs(rawQuery) {
		present[a.Key] = true
	}
	var qs []QueryArg
	for _, a := range extra {
		if !present[a.Key] {
			qs = append(qs, a)
		}
	}
	if strings.Contains(path, ".") {
		rawQuery = strings.TrimPrefix(PathWithRemovedArgs("", rawQuery, "_format"), "?")
		qs = append(qs, QueryArg{Key: "_format", Value: format})
	} else {
		path = path + "." + format
	}
	sort.SliceStable(qs, func(i, j int) bool { return qs[i].Key < qs[j].Key })

	query := rawQuery
	if len(qs) > 0 {
		if query != "" {
			query += "&"
		}
		query += EncodeQueryArgs(qs)
	}
	return withQuery(path, query)
}

var (
	cssClassRe        = regexp.MustCompile(`^[a-zA-Z]+[_a-zA-Z0-9-]*$`)
	cssInvalidCharsRe = regexp.MustCompile(`[^a-zA-Z0-9_\-]`)
)

// ToCSSClass turns s into a valid CSS class / template name fragment. Names
// that need changing get a 6 character md5 suffix to stay unique.
func ToCSSClass(s string) string {
	if cssClassRe.MatchString(s) {
		return s
	}
	sum := md5.Sum([]byte(s))
	suffix := hex.EncodeToString(sum[:])[:6]
	s = strings.TrimLeft(s, "_")
	s = strings.TrimLeft(s, "-")
	s = strings.Join(strings.Fields(s), "-")
	s = cssInvalidCharsRe.ReplaceAllString(s, "")
	if s == "" {
		return suffix
	}
	return s + "-" + suffix
}

// IsURL reports whether s is a bare http(s) URL without whitespace.
func IsURL(s string) bool {
	if !strings.HasPrefix(s, "http://") && !strings.HasPrefix(s, "https://") {
		return false
	}
	return !strings.ContainsAny(s, " \t\n\r\f\v")
}
