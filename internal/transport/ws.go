// Package transport dials the relay WebSocket and adapts it to the byte
// stream the frame codec expects.
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"
)

const (
	// readLimit caps a single WebSocket message from the relay.
	readLimit = 16 * 1024 * 1024

	// DefaultConnectTimeout bounds the dial and upgrade handshake.
	DefaultConnectTimeout = 10 * time.Second
)

// Options configures the relay dial.
type Options struct {
	// ConnectTimeout bounds the TCP connect, TLS handshake and WebSocket
	// upgrade together. Defaults to DefaultConnectTimeout.
	ConnectTimeout time.Duration

	// InsecureSkipVerify disables TLS certificate verification. For
	// relays running on self-signed certificates only.
	InsecureSkipVerify bool
}

// Dial connects to the relay at wsURL (ws:// or wss://) and returns the
// connection as a byte stream.
func Dial(ctx context.Context, wsURL string, opts Options) (*Stream, error) {
	timeout := opts.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// The websocket library insists on context-based timeouts, so the
	// HTTP client must not carry one of its own.
	httpClient := &http.Client{}
	if opts.InsecureSkipVerify {
		httpClient.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPClient: httpClient,
	})
	if err != nil {
		return nil, fmt.Errorf("relay dial failed: %w", err)
	}
	conn.SetReadLimit(readLimit)

	return &Stream{conn: conn}, nil
}

// Stream adapts the WebSocket connection to an io.ReadWriteCloser. Each
// Write becomes one binary message; Reads continue across message
// boundaries. Reads are not safe for concurrent use; the provider owns
// them from a single loop. Writes go through the connection's own
// serialization.
type Stream struct {
	conn   *websocket.Conn
	reader io.Reader
	closed atomic.Bool
}

// Read returns bytes from the current message, moving on to the next
// message when one is exhausted. Blocks until data arrives, the peer
// closes, or Close is called.
func (s *Stream) Read(p []byte) (int, error) {
	for {
		if s.reader == nil {
			msgType, reader, err := s.conn.Reader(context.Background())
			if err != nil {
				return 0, err
			}
			if msgType != websocket.MessageBinary {
				return 0, fmt.Errorf("unexpected message type %v", msgType)
			}
			s.reader = reader
		}

		n, err := s.reader.Read(p)
		if err == io.EOF {
			s.reader = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

// Write sends p as one binary message.
func (s *Stream) Write(p []byte) (int, error) {
	if s.closed.Load() {
		return 0, net.ErrClosed
	}
	if err := s.conn.Write(context.Background(), websocket.MessageBinary, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close closes the WebSocket with a normal status and unblocks any
// pending Read. Safe to call more than once.
func (s *Stream) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.conn.Close(websocket.StatusNormalClosure, "")
}
