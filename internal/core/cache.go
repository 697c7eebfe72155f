package core

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// CachePolicy decides Cache-Control and the fixed response headers.
type CachePolicy struct {
	Enabled    bool
	DefaultTTL int
	HashedTTL  int
	CORS       bool
}

// TTL picks the cache lifetime in seconds. A non-negative integer _ttl
// wins; otherwise URLs carrying the correct hash get the long lifetime.
func (p CachePolicy) TTL(query url.Values, correctHash bool) int {
	if raw := query.Get("_ttl"); raw != "" && isDigits(raw) {
		if n, err := strconv.Atoi(raw); err == nil {
			return n
		}
	}
	if correctHash {
		return p.HashedTTL
	}
	return p.DefaultTTL
}

// Apply sets the headers every data response carries. Cache-Control is
// only set on 200 responses.
func (p CachePolicy) Apply(h http.Header, status, ttl int) {
	if status == http.StatusOK && p.Enabled {
		if ttl == 0 {
			h.Set("Cache-Control", "no-cache")
		} else {
			h.Set("Cache-Control", fmt.Sprintf("max-age=%d", ttl))
		}
	}
	h.Set("Referrer-Policy", "no-referrer")
	if p.CORS {
		h.Set("Access-Control-Allow-Origin", "*")
	}
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
