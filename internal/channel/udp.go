package channel

import (
	"net"
	"strconv"
	"time"

	"github.com/cloudflyer-project/cloudflyer-go/internal/logging"
	"github.com/cloudflyer-project/cloudflyer-go/internal/protocol"
	"github.com/cloudflyer-project/cloudflyer-go/internal/recovery"
)

// openUDP binds a local socket for the channel and pumps inbound
// datagrams. The connect address may be empty for an unbound channel that
// only replies to whoever the relay targets explicitly.
func (r *Registry) openUDP(ch *Channel, address string, port uint16) {
	defer recovery.RecoverWithLog(r.logger, "channel.openUDP")

	start := time.Now()

	if address != "" {
		target, err := net.ResolveUDPAddr("udp", net.JoinHostPort(address, strconv.Itoa(int(port))))
		if err != nil {
			if r.take(ch.ID) == nil {
				return
			}
			if r.cfg.Metrics != nil {
				r.cfg.Metrics.RecordChannelOpenFailure("resolve")
			}
			r.writer.WriteConnectResponse(ch.ID, false, err.Error())
			return
		}
		ch.target = target
	}

	// Dual-stack bind; fall back to IPv4 when IPv6 is unavailable.
	udpConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv6zero})
	if err != nil {
		udpConn, err = net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero})
	}
	if err != nil {
		if r.take(ch.ID) == nil {
			return
		}
		if r.cfg.Metrics != nil {
			r.cfg.Metrics.RecordChannelOpenFailure("bind")
		}
		r.writer.WriteConnectResponse(ch.ID, false, err.Error())
		return
	}

	if !ch.attachUDP(udpConn) {
		udpConn.Close()
		r.logger.Debug("channel withdrawn during bind",
			logging.KeyChannelID, ch.ID.String())
		return
	}
	ch.open.Store(true)

	if err := r.writer.WriteConnectResponse(ch.ID, true, ""); err != nil {
		r.take(ch.ID)
		ch.close()
		return
	}

	r.logger.Debug("udp channel open",
		logging.KeyChannelID, ch.ID.String(),
		logging.KeyAddress, address,
		logging.KeyPort, port)
	if r.cfg.Metrics != nil {
		r.cfg.Metrics.RecordChannelOpen("udp", time.Since(start).Seconds())
	}

	r.pumpUDP(ch)
}

// pumpUDP forwards inbound datagrams to the relay, remembering the peer
// each one arrived from.
func (r *Registry) pumpUDP(ch *Channel) {
	defer r.teardown(ch)

	buf := make([]byte, udpBufferSize)
	for {
		n, addr, err := ch.udpConn.ReadFromUDP(buf)
		if n > 0 {
			ch.setLastPeer(addr)
			if werr := r.writer.WriteData(ch.ID, protocol.ProtocolUDP, addr.IP.String(), uint16(addr.Port), buf[:n]); werr != nil {
				return
			}
			if r.cfg.Metrics != nil {
				r.cfg.Metrics.RecordBytesSent("udp", n)
			}
		}
		if err != nil {
			return
		}
	}
}

// sendDatagram routes an outbound datagram. An explicit peer in the
// payload wins, then the connect-time target, then the last-seen peer.
func (r *Registry) sendDatagram(ch *Channel, payload *protocol.DataPayload) {
	var dst *net.UDPAddr
	switch {
	case payload.Address != "":
		addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(payload.Address, strconv.Itoa(int(payload.Port))))
		if err != nil {
			r.logger.Debug("datagram target unresolvable",
				logging.KeyChannelID, ch.ID.String(),
				logging.KeyAddress, payload.Address,
				logging.KeyError, err)
			return
		}
		dst = addr
	case ch.target != nil:
		dst = ch.target
	default:
		dst = ch.lastPeerAddr()
	}

	if dst == nil {
		r.logger.Debug("datagram with no destination dropped",
			logging.KeyChannelID, ch.ID.String())
		return
	}

	if _, err := ch.udpConn.WriteToUDP(payload.Data, dst); err != nil {
		r.logger.Debug("datagram send failed",
			logging.KeyChannelID, ch.ID.String(),
			logging.KeyError, err)
	}
}

func (c *Channel) setLastPeer(addr *net.UDPAddr) {
	c.peerMu.Lock()
	c.lastPeer = addr
	c.peerMu.Unlock()
}

func (c *Channel) lastPeerAddr() *net.UDPAddr {
	c.peerMu.Lock()
	defer c.peerMu.Unlock()
	return c.lastPeer
}
