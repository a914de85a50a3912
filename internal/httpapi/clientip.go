package httpapi

import (
	"net"
	"net/http"
	"strings"

	"github.com/BrandonDHaskell/postback-receiver/internal/postback/service"
)

// callerIP is the address the access guard checks.  A present
// X-Forwarded-For header is taken whole as one token, so a proxy chain
// "a, b" never matches a single allow-listed address.
func callerIP(r *http.Request) string {
	if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
		return normalizeAddr(xff)
	}
	return peerIP(r)
}

// peerIP is the transport peer address without its port.
func peerIP(r *http.Request) string {
	return normalizeAddr(r.RemoteAddr)
}

// normalizeAddr strips a trailing port and unmaps IPv4-mapped IPv6
// addresses.  Anything that does not parse is returned as given.
func normalizeAddr(s string) string {
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	return service.CanonicalAddr(s)
}
