// Package clientip extracts the caller address used for login history and rate limiting.
package clientip

import (
	"net/http"
	"net/netip"
	"strings"
)

// RealClientIP returns the peer address of r. Proxy headers are ignored: the API is
// reached directly, and a forged X-Forwarded-For would let a client dodge rate limits.
// IPv4-mapped IPv6 addresses are unmapped so one client keys to one bucket.
func RealClientIP(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if ap, err := netip.ParseAddrPort(addr); err == nil {
		return ap.Addr().Unmap().WithZone("").String()
	}
	if a, err := netip.ParseAddr(strings.Trim(addr, "[]")); err == nil {
		return a.Unmap().WithZone("").String()
	}
	return addr
}
