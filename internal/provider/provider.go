// Package provider implements the tunnel provider: a long-lived client
// that keeps one authenticated relay connection open, serves
// relay-initiated TCP/UDP channels through it, and reconnects with a
// fixed delay when the connection drops.
package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/cloudflyer-project/cloudflyer-go/internal/channel"
	"github.com/cloudflyer-project/cloudflyer-go/internal/logging"
	"github.com/cloudflyer-project/cloudflyer-go/internal/metrics"
	"github.com/cloudflyer-project/cloudflyer-go/internal/protocol"
	"github.com/cloudflyer-project/cloudflyer-go/internal/proxy"
	"github.com/cloudflyer-project/cloudflyer-go/internal/recovery"
	"github.com/cloudflyer-project/cloudflyer-go/internal/transport"
)

// Defaults for Options.
const (
	DefaultReconnectInterval = 5 * time.Second
	DefaultConnectTimeout    = 10 * time.Second
)

var (
	// ErrClosed is returned by operations on a closed provider.
	ErrClosed = errors.New("provider closed")

	// ErrAuthFailed means the relay rejected the provider token.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrConnectTimeout means no authentication verdict arrived within
	// the connect timeout.
	ErrConnectTimeout = errors.New("connect timeout")

	// ErrAlreadyConnected is returned by Connect while a connection
	// already exists or is being established.
	ErrAlreadyConnected = errors.New("already connected")

	// ErrNotConnected is returned when a frame cannot be sent because
	// no relay connection is up.
	ErrNotConnected = errors.New("not connected")
)

// Options configures a Provider.
type Options struct {
	// URL is the relay base address (http, https, ws or wss).
	URL string

	// Token authenticates this provider with the relay.
	Token string

	// ReconnectInterval is the fixed delay between reconnect attempts.
	ReconnectInterval time.Duration

	// MaxReconnectAttempts caps consecutive failed attempts.
	// 0 means retry forever.
	MaxReconnectAttempts int

	// ConnectTimeout bounds dial plus authentication per attempt.
	ConnectTimeout time.Duration

	// Proxy routes TCP channel dials through an upstream proxy.
	// UDP channels and the relay connection itself are never proxied.
	Proxy *proxy.Config

	// InsecureSkipVerify disables TLS verification on the relay dial.
	InsecureSkipVerify bool

	// Logger for provider events. Defaults to a nop logger.
	Logger *slog.Logger

	// Metrics sink. Optional.
	Metrics *metrics.Metrics

	// Clock drives the connect timeout and reconnect pacing. Swapped
	// for a mock in tests.
	Clock clock.Clock
}

// authResult is the verdict the read loop delivers to a waiting connect.
type authResult struct {
	success bool
	errText string
}

// relayConn is one physical relay connection. All writes are serialized
// through writeMu; reads belong to the single read loop.
type relayConn struct {
	stream io.ReadWriteCloser
	reader *protocol.FrameReader

	writeMu sync.Mutex
	writer  *protocol.FrameWriter

	authCh    chan authResult
	closeOnce sync.Once
}

func (c *relayConn) writeFrame(f *protocol.Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.writer.Write(f)
}

func (c *relayConn) close() {
	c.closeOnce.Do(func() { c.stream.Close() })
}

// Provider is the tunnel provider instance.
type Provider struct {
	opts    Options
	logger  *slog.Logger
	metrics *metrics.Metrics
	clock   clock.Clock

	instanceID uuid.UUID
	wsURL      string

	// dial opens the relay byte stream. Swapped for an in-memory pipe
	// in tests.
	dial func(ctx context.Context) (io.ReadWriteCloser, error)

	registry *channel.Registry
	tokens   *tokenSet

	// In-flight connector operations keyed by the correlation UUID sent
	// in the frame header. Responses for add and remove are otherwise
	// indistinguishable.
	pendingMu sync.Mutex
	pending   map[uuid.UUID]uint8

	state atomic.Int32

	mu       sync.Mutex // guards conn and attempts
	conn     *relayConn
	attempts int // consecutive failed connect attempts

	partners      atomic.Int64
	bytesSent     atomic.Uint64
	bytesReceived atomic.Uint64

	closed    atomic.Bool
	closeCh   chan struct{}
	closeOnce sync.Once

	retryCh  chan struct{}
	loopOnce sync.Once
}

// New creates a provider. It validates the options but does not connect.
func New(opts Options) (*Provider, error) {
	if opts.Token == "" {
		return nil, errors.New("provider token required")
	}
	wsURL, err := deriveRelayURL(opts.URL, opts.Token)
	if err != nil {
		return nil, err
	}
	if opts.Proxy != nil {
		if err := opts.Proxy.Validate(); err != nil {
			return nil, err
		}
	}
	if opts.ReconnectInterval <= 0 {
		opts.ReconnectInterval = DefaultReconnectInterval
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logging.NopLogger()
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}

	p := &Provider{
		opts:       opts,
		logger:     opts.Logger.With(logging.KeyComponent, "provider"),
		metrics:    opts.Metrics,
		clock:      opts.Clock,
		instanceID: uuid.New(),
		wsURL:      wsURL,
		tokens:     newTokenSet(),
		pending:    make(map[uuid.UUID]uint8),
		closeCh:    make(chan struct{}),
		retryCh:    make(chan struct{}, 1),
	}
	p.dial = func(ctx context.Context) (io.ReadWriteCloser, error) {
		return transport.Dial(ctx, p.wsURL, transport.Options{
			ConnectTimeout:     p.opts.ConnectTimeout,
			InsecureSkipVerify: p.opts.InsecureSkipVerify,
		})
	}
	p.registry = channel.NewRegistry(channel.Config{
		Dialer:         proxy.NewDialer(opts.Proxy, opts.ConnectTimeout),
		ConnectTimeout: opts.ConnectTimeout,
		Logger:         opts.Logger,
		Metrics:        opts.Metrics,
	}, p)
	p.state.Store(int32(StateDisconnected))
	return p, nil
}

// Connect establishes the relay connection and authenticates. It returns
// once the relay accepts or rejects the token, the connect timeout fires,
// ctx is cancelled, or the provider is closed. On failure the background
// retry cycle takes over while attempts remain; the error is still
// returned to the caller.
func (p *Provider) Connect(ctx context.Context) error {
	if p.closed.Load() {
		return ErrClosed
	}
	if !p.state.CompareAndSwap(int32(StateDisconnected), int32(StateConnecting)) {
		return ErrAlreadyConnected
	}
	p.loopOnce.Do(func() { go p.reconnectLoop() })

	err := p.connectOnce(ctx)
	if err != nil {
		p.wakeRetry()
	}
	return err
}

// connectOnce performs a single dial-and-authenticate attempt. The caller
// has already moved the state to Connecting.
func (p *Provider) connectOnce(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, p.opts.ConnectTimeout)
	stream, err := p.dial(dialCtx)
	cancel()
	if err != nil {
		p.connectFailed(err)
		return err
	}

	conn := &relayConn{
		stream: stream,
		reader: protocol.NewFrameReader(stream),
		writer: protocol.NewFrameWriter(stream),
		authCh: make(chan authResult, 1),
	}

	// Close tears down under the same lock; a dial that finishes after
	// Close must not revive the state machine.
	p.mu.Lock()
	if p.closed.Load() {
		p.mu.Unlock()
		stream.Close()
		return ErrClosed
	}
	p.conn = conn
	p.state.Store(int32(StateAuthenticating))
	p.mu.Unlock()

	go p.readLoop(conn)

	auth := &protocol.AuthPayload{
		Token:    p.opts.Token,
		Instance: p.instanceID,
		Reverse:  true,
	}
	if err := p.writeFrameTo(conn, &protocol.Frame{
		Type:    protocol.FrameAuth,
		Payload: auth.Encode(),
	}); err != nil {
		conn.close()
		err = fmt.Errorf("auth send failed: %w", err)
		p.connectFailed(err)
		return err
	}

	timer := p.clock.Timer(p.opts.ConnectTimeout)
	defer timer.Stop()

	select {
	case res := <-conn.authCh:
		if !res.success {
			conn.close()
			err := fmt.Errorf("%w: %s", ErrAuthFailed, res.errText)
			if p.metrics != nil {
				p.metrics.RecordAuthFailure()
			}
			p.connectFailed(err)
			return err
		}
	case <-timer.C:
		conn.close()
		p.connectFailed(ErrConnectTimeout)
		return ErrConnectTimeout
	case <-ctx.Done():
		conn.close()
		p.connectFailed(ctx.Err())
		return ctx.Err()
	case <-p.closeCh:
		conn.close()
		return ErrClosed
	}

	// The read loop moved the state to Ready before it delivered the
	// verdict; the connection may already be serving channels, or may
	// already have dropped into the retry cycle. Only a racing Close
	// turns the verdict into an error.
	if p.closed.Load() {
		conn.close()
		return ErrClosed
	}
	return nil
}

// connectFailed records a failed attempt and returns the state machine to
// Disconnected unless the provider is shutting down.
func (p *Provider) connectFailed(err error) {
	p.mu.Lock()
	p.attempts++
	attempts := p.attempts
	p.conn = nil
	p.mu.Unlock()

	if !p.closed.Load() {
		p.state.Store(int32(StateDisconnected))
	}
	p.logger.Warn("relay connect failed",
		logging.KeyError, err,
		logging.KeyAttempt, attempts)
}

// readLoop is the single reader for one relay connection. Frames are
// dispatched synchronously in arrival order.
func (p *Provider) readLoop(conn *relayConn) {
	defer recovery.RecoverWithCallback(p.logger, "provider.readLoop", p.countPanic)

	for {
		frame, err := conn.reader.Read()
		if err != nil {
			p.handleDisconnect(conn, err)
			return
		}
		if p.metrics != nil {
			p.metrics.RecordFrameReceived(protocol.FrameTypeName(frame.Type))
		}
		p.dispatch(conn, frame)
	}
}

// dispatch routes one inbound frame. Malformed payloads are logged and
// dropped; they never take the connection down.
func (p *Provider) dispatch(conn *relayConn, f *protocol.Frame) {
	switch f.Type {
	case protocol.FrameAuthResponse:
		res, err := protocol.DecodeAuthResponse(f.Payload)
		if err != nil {
			p.logger.Warn("malformed auth response", logging.KeyError, err)
			return
		}
		if res.Success {
			p.mu.Lock()
			current := p.conn == conn
			if current {
				p.attempts = 0
			}
			p.mu.Unlock()
			// Ready must be stored here, in the read loop, so the store
			// always precedes the read error that follows a drop:
			// handleDisconnect starts the retry cycle only from Ready. A
			// verdict from a superseded connection changes nothing.
			if current && p.state.CompareAndSwap(int32(StateAuthenticating), int32(StateReady)) {
				// Re-assert connector membership before anything else
				// happens on this connection.
				p.replayTokens(conn)
				if p.metrics != nil {
					p.metrics.RecordRelayConnect()
				}
				p.logger.Info("relay connection ready",
					logging.KeyURL, p.opts.URL,
					logging.KeyInstanceID, p.instanceID.String())
			}
		}
		select {
		case conn.authCh <- authResult{success: res.Success, errText: res.Error}:
		default:
		}

	case protocol.FrameConnect:
		req, err := protocol.DecodeConnect(f.Payload)
		if err != nil {
			p.logger.Warn("malformed connect frame",
				logging.KeyChannelID, f.ChannelID.String(),
				logging.KeyError, err)
			return
		}
		p.registry.HandleConnect(f.ChannelID, req)

	case protocol.FrameData:
		msg, err := protocol.DecodeData(f.Payload)
		if err != nil {
			p.logger.Warn("malformed data frame",
				logging.KeyChannelID, f.ChannelID.String(),
				logging.KeyError, err)
			return
		}
		data, err := protocol.DecompressPayload(msg.Data, msg.Compression)
		if err != nil {
			p.logger.Warn("data decompression failed",
				logging.KeyChannelID, f.ChannelID.String(),
				logging.KeyError, err)
			return
		}
		msg.Data = data
		msg.Compression = protocol.CompressionNone
		p.bytesReceived.Add(uint64(len(data)))
		p.registry.HandleData(f.ChannelID, msg)

	case protocol.FrameDisconnect:
		p.registry.HandleDisconnect(f.ChannelID)

	case protocol.FrameConnectorResponse:
		res, err := protocol.DecodeConnectorResponse(f.Payload)
		if err != nil {
			p.logger.Warn("malformed connector response", logging.KeyError, err)
			return
		}
		p.handleConnectorResponse(f.ChannelID, res)

	case protocol.FramePartners:
		msg, err := protocol.DecodePartners(f.Payload)
		if err != nil {
			p.logger.Warn("malformed partners frame", logging.KeyError, err)
			return
		}
		p.partners.Store(int64(msg.Count))
		if p.metrics != nil {
			p.metrics.SetPartners(int(msg.Count))
		}

	case protocol.FrameLog:
		msg, err := protocol.DecodeLog(f.Payload)
		if err != nil {
			p.logger.Warn("malformed log frame", logging.KeyError, err)
			return
		}
		p.logRelayMessage(msg)

	default:
		p.logger.Debug("unknown frame dropped",
			logging.KeyFrameType, fmt.Sprintf("0x%02x", f.Type))
	}
}

// replayTokens re-announces every held connector token. Runs once per
// successful authentication.
func (p *Provider) replayTokens(conn *relayConn) {
	for _, token := range p.tokens.list() {
		corrID := uuid.New()
		p.trackConnector(corrID, protocol.ConnectorAdd)
		payload := &protocol.ConnectorPayload{
			Operation: protocol.ConnectorAdd,
			Token:     token,
		}
		if err := p.writeFrameTo(conn, &protocol.Frame{
			Type:      protocol.FrameConnector,
			ChannelID: corrID,
			Payload:   payload.Encode(),
		}); err != nil {
			p.settleConnector(corrID)
			p.logger.Warn("connector token replay failed", logging.KeyError, err)
			return
		}
	}
	if n := p.tokens.size(); n > 0 {
		p.logger.Debug("connector tokens replayed", logging.KeyCount, n)
	}
}

// handleConnectorResponse confirms or reports a connector operation. The
// relay echoes the request's correlation ID in the frame header, which is
// what ties the response back to an add or a remove. A confirmed add
// carrying a token ensures membership, which covers tokens the relay
// assigned for empty add requests. A confirmed remove leaves the set
// alone; the token was already dropped when the request went out.
func (p *Provider) handleConnectorResponse(corrID uuid.UUID, res *protocol.ConnectorResponsePayload) {
	op, known := p.settleConnector(corrID)

	if !res.Success {
		p.logger.Warn("connector operation rejected", logging.KeyError, res.Error)
		return
	}
	if known && op == protocol.ConnectorAdd && res.Token != "" {
		p.tokens.add(res.Token)
		if p.metrics != nil {
			p.metrics.SetConnectorTokens(p.tokens.size())
		}
	}
	p.logger.Debug("connector operation confirmed", logging.KeyCount, p.tokens.size())
}

// trackConnector records an in-flight connector request so its response
// can be matched back to the operation that produced it.
func (p *Provider) trackConnector(corrID uuid.UUID, op uint8) {
	p.pendingMu.Lock()
	p.pending[corrID] = op
	p.pendingMu.Unlock()
}

// settleConnector consumes the in-flight record for corrID and reports
// which operation it belonged to.
func (p *Provider) settleConnector(corrID uuid.UUID) (uint8, bool) {
	p.pendingMu.Lock()
	op, ok := p.pending[corrID]
	delete(p.pending, corrID)
	p.pendingMu.Unlock()
	return op, ok
}

// dropPending discards all in-flight connector records. Responses cannot
// arrive once the link that carried the requests is gone.
func (p *Provider) dropPending() {
	p.pendingMu.Lock()
	p.pending = make(map[uuid.UUID]uint8)
	p.pendingMu.Unlock()
}

// logRelayMessage surfaces relay-side log frames through the local logger.
func (p *Provider) logRelayMessage(msg *protocol.LogPayload) {
	switch msg.Level {
	case protocol.LogLevelDebug:
		p.logger.Debug(msg.Message, logging.KeyComponent, "relay")
	case protocol.LogLevelInfo:
		p.logger.Info(msg.Message, logging.KeyComponent, "relay")
	case protocol.LogLevelWarn:
		p.logger.Warn(msg.Message, logging.KeyComponent, "relay")
	default:
		p.logger.Error(msg.Message, logging.KeyComponent, "relay")
	}
}

// handleDisconnect tears down after a read failure on conn and, when the
// connection had been Ready, starts the retry cycle.
func (p *Provider) handleDisconnect(conn *relayConn, err error) {
	conn.close()

	// A failure verdict unblocks a connect still waiting on auth.
	select {
	case conn.authCh <- authResult{success: false, errText: err.Error()}:
	default:
	}

	p.mu.Lock()
	current := p.conn == conn
	if current {
		p.conn = nil
	}
	p.mu.Unlock()
	if !current || p.closed.Load() {
		return
	}
	p.dropPending()

	// If the connection never reached Ready, connectOnce owns the
	// failure handling.
	if !p.state.CompareAndSwap(int32(StateReady), int32(StateDisconnected)) {
		return
	}

	count := p.registry.CloseAll()
	p.logger.Warn("relay connection lost",
		logging.KeyError, err,
		logging.KeyCount, count)
	if p.metrics != nil {
		p.metrics.RecordRelayDisconnect("error")
	}
	p.wakeRetry()
}

// wakeRetry nudges the reconnect loop.
func (p *Provider) wakeRetry() {
	select {
	case p.retryCh <- struct{}{}:
	default:
	}
}

func (p *Provider) countPanic(interface{}) {
	if p.metrics != nil {
		p.metrics.RecordPanic()
	}
}

// reconnectLoop lives for the provider's lifetime once started. Each
// nudge runs one retry cycle; cycles never overlap.
func (p *Provider) reconnectLoop() {
	defer recovery.RecoverWithCallback(p.logger, "provider.reconnectLoop", p.countPanic)

	for {
		select {
		case <-p.closeCh:
			return
		case <-p.retryCh:
		}
		p.runRetryCycle()
	}
}

// runRetryCycle attempts reconnects sequentially with a fixed delay until
// one succeeds, attempts are exhausted, or the provider closes.
func (p *Provider) runRetryCycle() {
	for {
		if p.closed.Load() {
			return
		}

		p.mu.Lock()
		attempts := p.attempts
		p.mu.Unlock()
		if p.opts.MaxReconnectAttempts > 0 && attempts >= p.opts.MaxReconnectAttempts {
			p.logger.Error("reconnect attempts exhausted",
				logging.KeyAttempt, attempts)
			return
		}

		timer := p.clock.Timer(p.opts.ReconnectInterval)
		select {
		case <-timer.C:
		case <-p.closeCh:
			timer.Stop()
			return
		}

		if !p.state.CompareAndSwap(int32(StateDisconnected), int32(StateConnecting)) {
			// An explicit Connect took over, or the provider closed.
			return
		}

		if p.metrics != nil {
			p.metrics.RecordReconnectAttempt()
		}
		p.logger.Info("reconnecting to relay", logging.KeyAttempt, attempts+1)

		if err := p.connectOnce(context.Background()); err == nil {
			return
		}
	}
}

// Close shuts the provider down: suppresses reconnects, force-destroys
// all channels, and closes the relay socket. Idempotent; safe when never
// connected.
func (p *Provider) Close() error {
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		p.state.Store(int32(StateClosing))
		close(p.closeCh)

		p.mu.Lock()
		conn := p.conn
		p.conn = nil
		p.mu.Unlock()
		if conn != nil {
			conn.close()
			if p.metrics != nil {
				p.metrics.RecordRelayDisconnect("close")
			}
		}

		p.dropPending()
		count := p.registry.CloseAll()
		p.logger.Info("provider closed", logging.KeyCount, count)
		p.state.Store(int32(StateDisconnected))
	})
	return nil
}

// writeFrame sends one frame on the current relay connection.
func (p *Provider) writeFrame(f *protocol.Frame) error {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return p.writeFrameTo(conn, f)
}

func (p *Provider) writeFrameTo(conn *relayConn, f *protocol.Frame) error {
	if err := conn.writeFrame(f); err != nil {
		return err
	}
	if p.metrics != nil {
		p.metrics.RecordFrameSent(protocol.FrameTypeName(f.Type))
	}
	return nil
}

// WriteConnectResponse implements channel.RelayWriter.
func (p *Provider) WriteConnectResponse(channelID uuid.UUID, success bool, errorMsg string) error {
	payload := &protocol.ConnectResponsePayload{Success: success, Error: errorMsg}
	return p.writeFrame(&protocol.Frame{
		Type:      protocol.FrameConnectResponse,
		ChannelID: channelID,
		Payload:   payload.Encode(),
	})
}

// WriteData implements channel.RelayWriter. Large payloads are
// gzip-compressed before they hit the wire.
func (p *Provider) WriteData(channelID uuid.UUID, proto uint8, peerAddr string, peerPort uint16, data []byte) error {
	body, compression := protocol.CompressPayload(data)
	payload := &protocol.DataPayload{
		Protocol:    proto,
		Compression: compression,
		Address:     peerAddr,
		Port:        peerPort,
		Data:        body,
	}
	if err := p.writeFrame(&protocol.Frame{
		Type:      protocol.FrameData,
		ChannelID: channelID,
		Payload:   payload.Encode(),
	}); err != nil {
		return err
	}
	p.bytesSent.Add(uint64(len(data)))
	return nil
}

// WriteDisconnect implements channel.RelayWriter.
func (p *Provider) WriteDisconnect(channelID uuid.UUID) error {
	return p.writeFrame(&protocol.Frame{
		Type:      protocol.FrameDisconnect,
		ChannelID: channelID,
	})
}

// AddConnectorToken registers a connector token and announces it to the
// relay. A non-empty token is kept locally even while disconnected and
// replayed after the next authentication. An empty token asks the relay
// to generate one; membership is recorded when the response carrying the
// assigned token arrives, so an empty add requires a live connection.
func (p *Provider) AddConnectorToken(token string) error {
	if p.closed.Load() {
		return ErrClosed
	}
	if token != "" {
		p.tokens.add(token)
		if p.metrics != nil {
			p.metrics.SetConnectorTokens(p.tokens.size())
		}
	}

	err := p.sendConnector(protocol.ConnectorAdd, token)
	if err != nil && token != "" && errors.Is(err, ErrNotConnected) {
		// Kept locally; the replay after reconnect announces it.
		return nil
	}
	return err
}

// RemoveConnectorToken withdraws a token locally and tells the relay. The
// local removal is immediate; a failure response never re-adds it.
func (p *Provider) RemoveConnectorToken(token string) error {
	if p.closed.Load() {
		return ErrClosed
	}
	p.tokens.remove(token)
	if p.metrics != nil {
		p.metrics.SetConnectorTokens(p.tokens.size())
	}

	err := p.sendConnector(protocol.ConnectorRemove, token)
	if errors.Is(err, ErrNotConnected) {
		return nil
	}
	return err
}

func (p *Provider) sendConnector(op uint8, token string) error {
	corrID := uuid.New()
	p.trackConnector(corrID, op)

	payload := &protocol.ConnectorPayload{Operation: op, Token: token}
	err := p.writeFrame(&protocol.Frame{
		Type:      protocol.FrameConnector,
		ChannelID: corrID,
		Payload:   payload.Encode(),
	})
	if err != nil {
		p.settleConnector(corrID)
	}
	if p.metrics != nil {
		p.metrics.RecordConnectorOp(protocol.ConnectorOpName(op), err == nil)
	}
	return err
}

// State returns the current connection state.
func (p *Provider) State() State {
	return State(p.state.Load())
}

// IsConnected reports whether the relay connection is authenticated and
// serving.
func (p *Provider) IsConnected() bool {
	return p.State() == StateReady
}

// IsClosed reports whether Close has been called.
func (p *Provider) IsClosed() bool {
	return p.closed.Load()
}

// PartnersCount returns the last peer count announced by the relay.
func (p *Provider) PartnersCount() int {
	return int(p.partners.Load())
}

// ConnectorTokens returns the registered connector tokens, sorted.
func (p *Provider) ConnectorTokens() []string {
	return p.tokens.list()
}

// InstanceID returns the stable identifier for this provider instance.
func (p *Provider) InstanceID() uuid.UUID {
	return p.instanceID
}

// ChannelCount returns the number of live channels.
func (p *Provider) ChannelCount() int {
	return p.registry.Count()
}

// BytesSent returns the total channel payload bytes forwarded to the
// relay.
func (p *Provider) BytesSent() uint64 {
	return p.bytesSent.Load()
}

// BytesReceived returns the total channel payload bytes received from the
// relay.
func (p *Provider) BytesReceived() uint64 {
	return p.bytesReceived.Load()
}
