package core

import (
	"context"
	"net/url"
	"strings"

	"github.com/JonMunkholm/dataserve/internal/metrics"
)

// UnhashedPlaceholder stands in for the hash of a database that has none.
// It never counts as a correct hash and never produces a redirect.
const UnhashedPlaceholder = "000"

// HashResolution is the outcome of checking the database path segment.
type HashResolution struct {
	Name                string
	Expected            string
	Unhashed            bool
	CorrectHashProvided bool
	// Redirect is the canonical hashed path, empty when no redirect applies.
	Redirect string
}

// HashResolver canonicalizes "name" and "name-hash" database segments.
type HashResolver struct {
	Catalog  *Catalog
	HashURLs bool
	Formats  []string
}

// Resolve finds the database for segment and decides whether the request
// should be redirected to the hash-qualified URL. providedHash comes from
// route parsing and may be empty; a "name-hash" segment overrides it.
// enforce is set when the request itself asks for hash enforcement.
func (h *HashResolver) Resolve(ctx context.Context, segment, providedHash string, args PathArgs, enforce bool) (HashResolution, error) {
	name := segment
	if _, known := h.Catalog.Get(segment); !known && strings.Contains(segment, "-") {
		idx := strings.LastIndex(segment, "-")
		nameBit, hashBit := segment[:idx], segment[idx+1:]
		if _, ok := h.Catalog.Get(nameBit); !ok {
			return HashResolution{}, NotFoundError("Database not found: %s", segment)
		}
		name, providedHash = nameBit, hashBit
	}
	name = unquotePlus(name)

	db, ok := h.Catalog.Get(name)
	if !ok {
		return HashResolution{}, NotFoundError("Database not found: %s", name)
	}

	res := HashResolution{Name: name, Expected: db.ShortHash()}
	if res.Expected == "" {
		res.Expected = UnhashedPlaceholder
		res.Unhashed = true
	}
	res.CorrectHashProvided = !res.Unhashed && res.Expected == providedHash
	if res.CorrectHashProvided {
		return res, nil
	}

	if !(h.HashURLs || enforce) || db.Mutable || res.Unhashed {
		return res, nil
	}

	if args.TableAndFormat != "" {
		table, format, err := ResolveTableAndFormat(ctx, unquotePlus(args.TableAndFormat), db.Engine.TableExists, h.Formats)
		if err != nil {
			return HashResolution{}, err
		}
		args.Table = table
		if format != "" {
			args.AsFormat = "." + format
		}
	} else if args.Table != "" {
		args.Table = unquotePlus(args.Table)
	}

	res.Redirect = canonicalPath(name, res.Expected, args)
	metrics.HashRedirects.Inc()
	return res, nil
}

// canonicalPath builds /{name}-{hash} plus the re-encoded path suffixes.
func canonicalPath(name, hash string, args PathArgs) string {
	var b strings.Builder
	b.WriteString("/")
	b.WriteString(url.PathEscape(name))
	b.WriteString("-")
	b.WriteString(hash)
	if args.Table != "" {
		b.WriteString("/")
		b.WriteString(url.QueryEscape(args.Table))
	}
	if args.PKPath != "" {
		b.WriteString("/")
		b.WriteString(args.PKPath)
	}
	b.WriteString(args.AsFormat)
	b.WriteString(args.AsDB)
	return b.String()
}

// DatabasePath is the preferred URL prefix for a database: hashed when
// hash_urls is on and the database has a hash.
func DatabasePath(db *Database, hashURLs bool) string {
	if hashURLs && db.Hash != "" {
		return "/" + url.PathEscape(db.Name) + "-" + db.ShortHash()
	}
	return "/" + url.PathEscape(db.Name)
}
