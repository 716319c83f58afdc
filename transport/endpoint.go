package transport

import (
	"fmt"
	"net/url"
	"strings"
)

// BuildEndpoint derives the websocket endpoint of the PTY bridge. An
// explicitly configured base address wins over the page origin; the http(s)
// scheme is substituted for ws(s), preserving the secure/insecure choice,
// and the fixed bridge path is appended.
func BuildEndpoint(base, origin, path string) (string, error) {
	addr := base
	if addr == "" {
		addr = origin
	}
	if addr == "" {
		return "", fmt.Errorf("no bridge base address or origin configured")
	}

	u, err := url.Parse(addr)
	if err != nil {
		return "", fmt.Errorf("parse bridge address %q: %w", addr, err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
		// already a websocket address
	default:
		return "", fmt.Errorf("unsupported bridge scheme %q", u.Scheme)
	}

	u.Path = strings.TrimSuffix(u.Path, "/") + path
	return u.String(), nil
}
