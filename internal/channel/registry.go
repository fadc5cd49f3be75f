// Package channel owns the set of live TCP and UDP channels opened on
// behalf of the relay. It bridges relay frames to real sockets and back.
package channel

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/cloudflyer-project/cloudflyer-go/internal/logging"
	"github.com/cloudflyer-project/cloudflyer-go/internal/metrics"
	"github.com/cloudflyer-project/cloudflyer-go/internal/protocol"
	"github.com/cloudflyer-project/cloudflyer-go/internal/proxy"
)

// Buffer sizes for socket pumps. The UDP buffer leaves headroom under the
// frame payload limit so a read worth of datagram plus the longest textual
// peer address still encodes into one Data frame.
const (
	tcpBufferSize = 32 * 1024
	udpBufferSize = protocol.MaxPayloadSize - 64
)

// RelayWriter sends frames back to the relay. Implemented by the provider
// connection; decoupled here so the registry can be tested against a mock.
type RelayWriter interface {
	WriteConnectResponse(channelID uuid.UUID, success bool, errorMsg string) error
	WriteData(channelID uuid.UUID, proto uint8, peerAddr string, peerPort uint16, data []byte) error
	WriteDisconnect(channelID uuid.UUID) error
}

// Dialer opens TCP connections to channel targets.
type Dialer interface {
	DialContext(ctx context.Context, address string, port uint16) (net.Conn, error)
}

// Config holds registry configuration.
type Config struct {
	// Dialer opens TCP targets, directly or through an upstream proxy.
	// Defaults to a direct dialer.
	Dialer Dialer

	// ConnectTimeout bounds target dials.
	ConnectTimeout time.Duration

	// Logger for channel events.
	Logger *slog.Logger

	// Metrics sink. Optional.
	Metrics *metrics.Metrics
}

// Channel is one live relay-requested connection.
type Channel struct {
	ID       uuid.UUID
	Protocol uint8

	// Fixed UDP target from the connect request, nil when unbound.
	target *net.UDPAddr

	// Last peer a datagram arrived from; reply destination when the
	// relay does not name one.
	peerMu   sync.Mutex
	lastPeer *net.UDPAddr

	open atomic.Bool

	// sockMu orders socket attachment against close. A channel closed
	// while its dial is still in flight must stay closed.
	sockMu  sync.Mutex
	dead    bool
	conn    net.Conn     // TCP socket
	udpConn *net.UDPConn // UDP socket
}

// close marks the channel dead and shuts whatever socket it holds. Safe
// to call more than once and before any socket is attached.
func (c *Channel) close() {
	c.sockMu.Lock()
	c.dead = true
	conn, udpConn := c.conn, c.udpConn
	c.sockMu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if udpConn != nil {
		udpConn.Close()
	}
}

// attach hands the dialed socket to the channel. It reports false when the
// channel died while the dial was in flight; the socket then stays with
// the caller.
func (c *Channel) attach(conn net.Conn) bool {
	c.sockMu.Lock()
	defer c.sockMu.Unlock()
	if c.dead {
		return false
	}
	c.conn = conn
	return true
}

func (c *Channel) attachUDP(udpConn *net.UDPConn) bool {
	c.sockMu.Lock()
	defer c.sockMu.Unlock()
	if c.dead {
		return false
	}
	c.udpConn = udpConn
	return true
}

// Registry tracks live channels keyed by the relay-assigned channel ID.
type Registry struct {
	cfg    Config
	writer RelayWriter
	logger *slog.Logger

	mu       sync.RWMutex
	channels map[uuid.UUID]*Channel
}

// NewRegistry creates a channel registry.
func NewRegistry(cfg Config, writer RelayWriter) *Registry {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NopLogger()
	}
	if cfg.Dialer == nil {
		cfg.Dialer = proxy.NewDialer(nil, cfg.ConnectTimeout)
	}

	return &Registry{
		cfg:      cfg,
		writer:   writer,
		logger:   cfg.Logger,
		channels: make(map[uuid.UUID]*Channel),
	}
}

// HandleConnect processes a relay request to open a channel. The dial runs
// asynchronously; the relay receives a ConnectResponse either way. A second
// Connect for an already-registered channel is rejected and the existing
// channel is left untouched.
func (r *Registry) HandleConnect(channelID uuid.UUID, req *protocol.ConnectPayload) {
	r.mu.Lock()
	if _, exists := r.channels[channelID]; exists {
		r.mu.Unlock()
		r.logger.Warn("duplicate connect for open channel",
			logging.KeyChannelID, channelID.String())
		if r.cfg.Metrics != nil {
			r.cfg.Metrics.RecordChannelOpenFailure("duplicate")
		}
		r.writer.WriteConnectResponse(channelID, false, "channel already open")
		return
	}
	ch := &Channel{ID: channelID, Protocol: req.Protocol}
	r.channels[channelID] = ch
	r.mu.Unlock()

	switch req.Protocol {
	case protocol.ProtocolUDP:
		go r.openUDP(ch, req.Address, req.Port)
	default:
		go r.openTCP(ch, req.Address, req.Port)
	}
}

// HandleData forwards relay payload bytes into the channel socket. Frames
// for unknown or still-pending channels are dropped.
func (r *Registry) HandleData(channelID uuid.UUID, payload *protocol.DataPayload) {
	r.mu.RLock()
	ch := r.channels[channelID]
	r.mu.RUnlock()

	if ch == nil || !ch.open.Load() {
		r.logger.Debug("data for unknown channel dropped",
			logging.KeyChannelID, channelID.String())
		return
	}

	switch ch.Protocol {
	case protocol.ProtocolUDP:
		r.sendDatagram(ch, payload)
	default:
		if _, err := ch.conn.Write(payload.Data); err != nil {
			r.logger.Debug("channel write failed",
				logging.KeyChannelID, channelID.String(),
				logging.KeyError, err)
			// The pump sees the closed socket and tears the channel down.
			ch.close()
			return
		}
	}

	if r.cfg.Metrics != nil {
		r.cfg.Metrics.RecordBytesReceived(protocol.ProtocolName(ch.Protocol), len(payload.Data))
	}
}

// HandleDisconnect processes a relay-initiated channel teardown. No
// Disconnect frame is echoed back.
func (r *Registry) HandleDisconnect(channelID uuid.UUID) {
	if ch := r.take(channelID); ch != nil {
		ch.close()
		r.logger.Debug("channel closed by relay",
			logging.KeyChannelID, channelID.String())
	}
}

// CloseAll tears down every channel without notifying the relay. It is
// called when the relay connection itself is lost. Returns the number of
// channels closed.
func (r *Registry) CloseAll() int {
	r.mu.Lock()
	channels := r.channels
	r.channels = make(map[uuid.UUID]*Channel)
	r.mu.Unlock()

	for _, ch := range channels {
		ch.close()
		if ch.open.Load() && r.cfg.Metrics != nil {
			r.cfg.Metrics.RecordChannelClose()
		}
	}
	return len(channels)
}

// Count returns the number of registered channels, including pending dials.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}

// take removes and returns the channel, nil if it was already gone.
func (r *Registry) take(id uuid.UUID) *Channel {
	r.mu.Lock()
	ch, ok := r.channels[id]
	if ok {
		delete(r.channels, id)
	}
	r.mu.Unlock()

	if !ok {
		return nil
	}
	if ch.open.Load() && r.cfg.Metrics != nil {
		r.cfg.Metrics.RecordChannelClose()
	}
	return ch
}

// teardown closes the socket and, when this side noticed the failure
// first, tells the relay the channel is gone.
func (r *Registry) teardown(ch *Channel) {
	ch.close()
	if r.take(ch.ID) != nil {
		r.writer.WriteDisconnect(ch.ID)
		r.logger.Debug("channel closed",
			logging.KeyChannelID, ch.ID.String(),
			logging.KeyProtocol, protocol.ProtocolName(ch.Protocol))
	}
}
