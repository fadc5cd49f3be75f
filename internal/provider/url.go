package provider

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
)

// deriveRelayURL turns the configured base address into the WebSocket
// endpoint for a reverse provider connection. The raw token never appears
// in the URL; the relay identifies the provider by its hash. A base with
// a non-trivial path addresses a specific tunnel and is kept as-is;
// otherwise the standard /socket endpoint is appended.
func deriveRelayURL(base, token string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid relay URL %q: %w", base, err)
	}

	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported relay URL scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("relay URL %q has no host", base)
	}

	if u.Path == "" || u.Path == "/" {
		u.Path = "/socket"
	}

	sum := sha256.Sum256([]byte(token))
	q := u.Query()
	q.Set("token", hex.EncodeToString(sum[:]))
	q.Set("reverse", "true")
	u.RawQuery = q.Encode()

	return u.String(), nil
}
