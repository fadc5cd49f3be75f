// Package integration provides end-to-end tests for Cloudflyer. A fake
// relay server accepts real WebSocket connections and speaks the real
// frame protocol, so the whole stack from transport dial to channel data
// is exercised over an actual network socket.
package integration

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"

	"github.com/cloudflyer-project/cloudflyer-go/internal/logging"
	"github.com/cloudflyer-project/cloudflyer-go/internal/protocol"
	"github.com/cloudflyer-project/cloudflyer-go/internal/provider"
)

// relaySession is one accepted provider connection as the relay sees it.
type relaySession struct {
	nc   net.Conn
	auth *protocol.AuthPayload

	writeMu sync.Mutex
	writer  *protocol.FrameWriter

	frames chan *protocol.Frame
	closed chan struct{}
}

func (s *relaySession) write(frameType uint8, id uuid.UUID, payload []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.writer.WriteFrame(frameType, id, payload)
}

// writeData sends a DATA frame the way the relay would, compressing
// payloads past the threshold.
func (s *relaySession) writeData(t *testing.T, id uuid.UUID, proto uint8, data []byte) {
	t.Helper()
	payload, comp := protocol.CompressPayload(data)
	d := &protocol.DataPayload{Protocol: proto, Compression: comp, Data: payload}
	if err := s.write(protocol.FrameData, id, d.Encode()); err != nil {
		t.Fatalf("write data frame: %v", err)
	}
}

func (s *relaySession) pump(reader *protocol.FrameReader) {
	for {
		f, err := reader.Read()
		if err != nil {
			close(s.frames)
			close(s.closed)
			return
		}
		s.frames <- f
	}
}

// relayServer is an in-process relay endpoint. It validates the handshake
// query, answers AUTH frames and hands authenticated sessions to the test.
type relayServer struct {
	t     *testing.T
	token string

	// rejectWith, when set, refuses every authentication with this message.
	rejectWith string

	ts       *httptest.Server
	sessions chan *relaySession
}

func newRelayServer(t *testing.T, token string) *relayServer {
	t.Helper()
	rs := &relayServer{
		t:        t,
		token:    token,
		sessions: make(chan *relaySession, 4),
	}
	rs.ts = httptest.NewServer(http.HandlerFunc(rs.handle))
	t.Cleanup(rs.ts.Close)
	return rs
}

func (rs *relayServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/socket" {
		rs.t.Errorf("handshake path = %q, want %q", r.URL.Path, "/socket")
	}
	sum := sha256.Sum256([]byte(rs.token))
	q := r.URL.Query()
	if got, want := q.Get("token"), hex.EncodeToString(sum[:]); got != want {
		rs.t.Errorf("handshake token = %q, want sha256 %q", got, want)
	}
	if got := q.Get("reverse"); got != "true" {
		rs.t.Errorf("handshake reverse = %q, want %q", got, "true")
	}

	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	nc := websocket.NetConn(context.Background(), c, websocket.MessageBinary)

	reader := protocol.NewFrameReader(nc)
	sess := &relaySession{
		nc:     nc,
		writer: protocol.NewFrameWriter(nc),
		frames: make(chan *protocol.Frame, 256),
		closed: make(chan struct{}),
	}

	frame, err := reader.Read()
	if err != nil {
		nc.Close()
		return
	}
	if frame.Type != protocol.FrameAuth {
		rs.t.Errorf("first frame = %s, want AUTH", protocol.FrameTypeName(frame.Type))
		nc.Close()
		return
	}
	auth, err := protocol.DecodeAuth(frame.Payload)
	if err != nil {
		rs.t.Errorf("decode auth payload: %v", err)
		nc.Close()
		return
	}
	sess.auth = auth

	resp := &protocol.AuthResponsePayload{Success: auth.Token == rs.token}
	if rs.rejectWith != "" {
		resp = &protocol.AuthResponsePayload{Success: false, Error: rs.rejectWith}
	}
	if err := sess.write(protocol.FrameAuthResponse, frame.ChannelID, resp.Encode()); err != nil {
		nc.Close()
		return
	}

	rs.sessions <- sess
	sess.pump(reader)
}

func (rs *relayServer) waitSession(t *testing.T) *relaySession {
	t.Helper()
	select {
	case sess := <-rs.sessions:
		return sess
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a provider connection")
		return nil
	}
}

// waitFrame returns the next frame of the wanted type, skipping others.
func waitFrame(t *testing.T, sess *relaySession, frameType uint8) *protocol.Frame {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case f, ok := <-sess.frames:
			if !ok {
				t.Fatalf("connection closed while waiting for %s", protocol.FrameTypeName(frameType))
			}
			if f.Type == frameType {
				return f
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s frame", protocol.FrameTypeName(frameType))
		}
	}
}

// readChannelData collects echoed DATA frames for a channel until want
// bytes have arrived, reporting whether any frame came gzip-compressed.
func readChannelData(t *testing.T, sess *relaySession, id uuid.UUID, want int) ([]byte, bool) {
	t.Helper()
	got := make([]byte, 0, want)
	sawGzip := false
	for len(got) < want {
		f := waitFrame(t, sess, protocol.FrameData)
		if f.ChannelID != id {
			t.Fatalf("data on channel %s, want %s", f.ChannelID, id)
		}
		d, err := protocol.DecodeData(f.Payload)
		if err != nil {
			t.Fatalf("decode data payload: %v", err)
		}
		if d.Compression == protocol.CompressionGzip {
			sawGzip = true
		}
		plain, err := protocol.DecompressPayload(d.Data, d.Compression)
		if err != nil {
			t.Fatalf("decompress data payload: %v", err)
		}
		got = append(got, plain...)
	}
	return got, sawGzip
}

func startEchoServer(t *testing.T) (string, uint16) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("echo listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				io.Copy(c, c)
			}(conn)
		}
	}()
	addr := ln.Addr().(*net.TCPAddr)
	return addr.IP.String(), uint16(addr.Port)
}

func startProvider(t *testing.T, rs *relayServer, mutate func(*provider.Options)) *provider.Provider {
	t.Helper()
	opts := provider.Options{
		URL:               rs.ts.URL,
		Token:             rs.token,
		ReconnectInterval: 50 * time.Millisecond,
		ConnectTimeout:    5 * time.Second,
		Logger:            logging.NopLogger(),
	}
	if mutate != nil {
		mutate(&opts)
	}
	p, err := provider.New(opts)
	if err != nil {
		t.Fatalf("provider.New() error = %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// TestConnectOverWebSocket dials a live relay endpoint and verifies the
// handshake query, the AUTH payload and partner count pushes.
func TestConnectOverWebSocket(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	rs := newRelayServer(t, "integration-token")
	p := startProvider(t, rs, nil)

	if err := p.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	sess := rs.waitSession(t)

	if sess.auth.Token != "integration-token" {
		t.Errorf("auth token = %q, want %q", sess.auth.Token, "integration-token")
	}
	if sess.auth.Instance != p.InstanceID() {
		t.Errorf("auth instance = %s, want %s", sess.auth.Instance, p.InstanceID())
	}
	if !sess.auth.Reverse {
		t.Error("auth reverse flag not set")
	}
	if !p.IsConnected() {
		t.Error("IsConnected() = false after successful Connect")
	}

	if err := sess.write(protocol.FramePartners, uuid.Nil, (&protocol.PartnersPayload{Count: 3}).Encode()); err != nil {
		t.Fatalf("write partners frame: %v", err)
	}
	waitFor(t, "partner count", func() bool { return p.PartnersCount() == 3 })

	p.Close()
	select {
	case <-sess.closed:
	case <-time.After(5 * time.Second):
		t.Fatal("relay did not observe the connection close")
	}
}

// TestTCPChannelOverWebSocket opens a TCP channel to a local echo server
// and round-trips data through real frames on a real socket.
func TestTCPChannelOverWebSocket(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	echoHost, echoPort := startEchoServer(t)
	rs := newRelayServer(t, "integration-token")
	p := startProvider(t, rs, nil)

	if err := p.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	sess := rs.waitSession(t)

	chID := uuid.New()
	connect := &protocol.ConnectPayload{Protocol: protocol.ProtocolTCP, Address: echoHost, Port: echoPort}
	if err := sess.write(protocol.FrameConnect, chID, connect.Encode()); err != nil {
		t.Fatalf("write connect frame: %v", err)
	}

	respFrame := waitFrame(t, sess, protocol.FrameConnectResponse)
	if respFrame.ChannelID != chID {
		t.Errorf("connect response channel = %s, want %s", respFrame.ChannelID, chID)
	}
	resp, err := protocol.DecodeConnectResponse(respFrame.Payload)
	if err != nil {
		t.Fatalf("decode connect response: %v", err)
	}
	if !resp.Success {
		t.Fatalf("connect refused: %s", resp.Error)
	}

	msg := []byte("ping through the relay")
	sess.writeData(t, chID, protocol.ProtocolTCP, msg)
	echoed, _ := readChannelData(t, sess, chID, len(msg))
	if !bytes.Equal(echoed, msg) {
		t.Errorf("echo = %q, want %q", echoed, msg)
	}

	// Past the compression threshold both directions gzip: writeData
	// compresses the inbound copy, the channel compresses the echo.
	big := bytes.Repeat([]byte("cloudflyer integration payload "), 100)
	sess.writeData(t, chID, protocol.ProtocolTCP, big)
	bigEchoed, sawGzip := readChannelData(t, sess, chID, len(big))
	if !bytes.Equal(bigEchoed, big) {
		t.Errorf("large echo mismatch: got %d bytes, want %d", len(bigEchoed), len(big))
	}
	if !sawGzip {
		t.Error("large echo never used gzip compression")
	}

	if got := p.ChannelCount(); got != 1 {
		t.Errorf("ChannelCount() = %d, want 1", got)
	}

	if err := sess.write(protocol.FrameDisconnect, chID, nil); err != nil {
		t.Fatalf("write disconnect frame: %v", err)
	}
	waitFor(t, "channel teardown", func() bool { return p.ChannelCount() == 0 })
}

// TestReconnectReplaysConnectorTokens drops the relay side of the link and
// verifies the provider redials, re-authenticates with the same instance
// ID and re-announces held connector tokens.
func TestReconnectReplaysConnectorTokens(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	rs := newRelayServer(t, "integration-token")
	p := startProvider(t, rs, nil)

	if err := p.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	first := rs.waitSession(t)

	if err := p.AddConnectorToken("edge-park-7"); err != nil {
		t.Fatalf("AddConnectorToken() error = %v", err)
	}
	f := waitFrame(t, first, protocol.FrameConnector)
	msg, err := protocol.DecodeConnector(f.Payload)
	if err != nil {
		t.Fatalf("decode connector payload: %v", err)
	}
	if msg.Operation != protocol.ConnectorAdd || msg.Token != "edge-park-7" {
		t.Errorf("connector frame = %s %q, want add %q",
			protocol.ConnectorOpName(msg.Operation), msg.Token, "edge-park-7")
	}

	// Drop the link from the relay side; the provider redials on its own.
	first.nc.Close()

	second := rs.waitSession(t)
	if second.auth.Instance != first.auth.Instance {
		t.Errorf("instance changed across reconnect: %s then %s",
			first.auth.Instance, second.auth.Instance)
	}

	f = waitFrame(t, second, protocol.FrameConnector)
	msg, err = protocol.DecodeConnector(f.Payload)
	if err != nil {
		t.Fatalf("decode replayed connector payload: %v", err)
	}
	if msg.Operation != protocol.ConnectorAdd || msg.Token != "edge-park-7" {
		t.Errorf("replayed connector frame = %s %q, want add %q",
			protocol.ConnectorOpName(msg.Operation), msg.Token, "edge-park-7")
	}

	waitFor(t, "reconnect", func() bool { return p.IsConnected() })
}

// TestRejectedTokenOverWebSocket verifies a relay refusal surfaces as
// ErrAuthFailed with the relay's message attached.
func TestRejectedTokenOverWebSocket(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	rs := newRelayServer(t, "integration-token")
	rs.rejectWith = "unknown provider token"
	p := startProvider(t, rs, func(o *provider.Options) { o.MaxReconnectAttempts = 1 })

	err := p.Connect(context.Background())
	if !errors.Is(err, provider.ErrAuthFailed) {
		t.Fatalf("Connect() error = %v, want ErrAuthFailed", err)
	}
	if !strings.Contains(err.Error(), "unknown provider token") {
		t.Errorf("error %q does not carry the relay message", err)
	}
	if p.IsConnected() {
		t.Error("IsConnected() = true after rejected auth")
	}
}
