package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
)

// proxySet is the parsed list of trusted proxy networks.
type proxySet []*net.IPNet

// parseProxies accepts CIDRs and bare IPs. Invalid entries are logged and
// skipped.
func parseProxies(entries []string) proxySet {
	var set proxySet
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if _, network, err := net.ParseCIDR(entry); err == nil {
			set = append(set, network)
			continue
		}
		ip := net.ParseIP(entry)
		if ip == nil {
			slog.Warn("realip: invalid trusted proxy, skipping", "entry", entry)
			continue
		}
		bits := 128
		if ip.To4() != nil {
			bits = 32
		}
		set = append(set, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
	}
	return set
}

func (s proxySet) contains(ip net.IP) bool {
	if ip == nil {
		return false
	}
	for _, network := range s {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// clientIP returns the forwarded client address when the connection comes
// from a trusted proxy and the forwarded value is a valid IP.
func (s proxySet) clientIP(r *http.Request) (string, bool) {
	if !s.contains(hostIP(r.RemoteAddr)) {
		return "", false
	}
	candidate := strings.TrimSpace(r.Header.Get("X-Real-IP"))
	if candidate == "" {
		xff := r.Header.Get("X-Forwarded-For")
		first, _, _ := strings.Cut(xff, ",")
		candidate = strings.TrimSpace(first)
	}
	if ip := net.ParseIP(candidate); ip != nil {
		return ip.String(), true
	}
	return "", false
}

// TrustedRealIP rewrites RemoteAddr from X-Real-IP or X-Forwarded-For,
// but only for requests arriving from a trusted proxy. Everyone else keeps
// their connection address so rate limits cannot be dodged by spoofing.
func TrustedRealIP(trusted []string) func(http.Handler) http.Handler {
	proxies := parseProxies(trusted)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if ip, ok := proxies.clientIP(r); ok {
				r.RemoteAddr = ip
			}
			next.ServeHTTP(w, r)
		})
	}
}

// hostIP parses the IP out of "host:port" or a bare address.
func hostIP(addr string) net.IP {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return net.ParseIP(host)
	}
	return net.ParseIP(addr)
}
