// Package proxy implements client-side handshakes for upstream proxies.
//
// When a provider is configured with an upstream proxy, every TCP channel
// is opened through it: the dialer connects to the proxy, negotiates
// SOCKS5 or HTTP CONNECT, and returns a connection that behaves like a
// direct connection to the target.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"
)

// Proxy types.
const (
	TypeSOCKS5 = "socks5"
	TypeHTTP   = "http"
)

// DefaultTimeout bounds proxy dialing and handshaking when the caller
// does not supply a timeout.
const DefaultTimeout = 10 * time.Second

var (
	// ErrAuthFailed is returned when the proxy rejects the configured credentials.
	ErrAuthFailed = errors.New("proxy authentication failed")

	// ErrHandshakeFailed is returned when proxy negotiation fails.
	ErrHandshakeFailed = errors.New("proxy handshake failed")
)

// Config describes an upstream proxy.
type Config struct {
	// Address is the proxy endpoint as host:port.
	Address string

	// Type selects the handshake: "socks5" (default) or "http".
	Type string

	// Username and Password enable proxy authentication when non-empty.
	Username string
	Password string
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Address == "" {
		return fmt.Errorf("proxy address is required")
	}
	if _, _, err := net.SplitHostPort(c.Address); err != nil {
		return fmt.Errorf("proxy address %q: %w", c.Address, err)
	}
	switch c.Type {
	case "", TypeSOCKS5, TypeHTTP:
	default:
		return fmt.Errorf("unknown proxy type %q", c.Type)
	}
	// RFC 1929 encodes credential lengths in a single byte.
	if len(c.Username) > 255 || len(c.Password) > 255 {
		return fmt.Errorf("proxy credentials exceed 255 bytes")
	}
	return nil
}

func (c *Config) hasAuth() bool {
	return c.Username != "" || c.Password != ""
}

// Dialer opens TCP connections to channel targets, negotiating with an
// upstream proxy when one is configured. A nil Config dials directly.
type Dialer struct {
	cfg     *Config
	timeout time.Duration
}

// NewDialer creates a Dialer. cfg may be nil for direct connections.
func NewDialer(cfg *Config, timeout time.Duration) *Dialer {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Dialer{cfg: cfg, timeout: timeout}
}

// DialContext opens a TCP connection to address:port. When an upstream
// proxy is configured the returned connection is already tunneled: the
// handshake has completed and application bytes flow end to end.
func (d *Dialer) DialContext(ctx context.Context, address string, port uint16) (net.Conn, error) {
	target := net.JoinHostPort(address, strconv.Itoa(int(port)))

	dialer := &net.Dialer{Timeout: d.timeout}
	if d.cfg == nil || d.cfg.Address == "" {
		return dialer.DialContext(ctx, "tcp", target)
	}

	conn, err := dialer.DialContext(ctx, "tcp", d.cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("dial proxy %s: %w", d.cfg.Address, err)
	}

	// Bound the whole handshake, not individual reads.
	deadline := time.Now().Add(d.timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	conn.SetDeadline(deadline)

	switch d.cfg.Type {
	case TypeHTTP:
		err = d.handshakeHTTP(conn, address, port)
	default:
		err = d.handshakeSOCKS5(conn, address, port)
	}
	if err != nil {
		conn.Close()
		return nil, err
	}

	conn.SetDeadline(time.Time{})
	return conn, nil
}
