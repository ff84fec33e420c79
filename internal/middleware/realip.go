package middleware

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP returns the originating client IP for a request.
// Cloudflare's header wins when the site is fronted by CF, then the
// first X-Forwarded-For hop, then the connection address.
func ClientIP(r *http.Request) string {
	if ip := r.Header.Get("CF-Connecting-IP"); ip != "" {
		return ip
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		if r.RemoteAddr == "" {
			return "0.0.0.0"
		}
		return r.RemoteAddr
	}
	return host
}

// IsPrivateIP reports whether the IP is localhost or on a private
// network. Used for the development challenge bypass.
func IsPrivateIP(ip string) bool {
	if ip == "" {
		return true
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	return parsed.IsLoopback() || parsed.IsPrivate()
}
