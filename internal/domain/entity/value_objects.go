package entity

import (
	"fmt"
	"net/url"
	"strings"
)

// RPCURL represents a typed URL for an RPC endpoint.
type RPCURL string

// NewRPCURL creates a new RPCURL instance.
func NewRPCURL(rawURL string) (RPCURL, error) {
	if strings.TrimSpace(rawURL) == "" {
		return "", fmt.Errorf("rpc url cannot be empty")
	}

	u, err := url.ParseRequestURI(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid rpc url format '%s': %w", rawURL, err)
	}

	scheme := strings.ToLower(u.Scheme)
	switch scheme {
	case "ws", "wss":
	case "http":
		// The adapter only speaks websocket.
		u.Scheme = "ws"
		rawURL = u.String()
	case "https":
		u.Scheme = "wss"
		rawURL = u.String()
	default:
		return "", fmt.Errorf("rpc url '%s' has unsupported scheme: '%s'", rawURL, scheme)
	}

	return RPCURL(rawURL), nil
}

// String returns the string representation of the RPCURL.
func (r RPCURL) String() string {
	return string(r)
}
