package channel

import (
	"context"
	"time"

	"github.com/cloudflyer-project/cloudflyer-go/internal/logging"
	"github.com/cloudflyer-project/cloudflyer-go/internal/protocol"
	"github.com/cloudflyer-project/cloudflyer-go/internal/recovery"
)

// openTCP dials the target and, on success, pumps it until either side
// closes. Runs in its own goroutine per channel.
func (r *Registry) openTCP(ch *Channel, address string, port uint16) {
	defer recovery.RecoverWithLog(r.logger, "channel.openTCP")

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.ConnectTimeout)
	conn, err := r.cfg.Dialer.DialContext(ctx, address, port)
	cancel()
	if err != nil {
		// No response when the channel was withdrawn mid-dial; the relay
		// already gave up on it.
		if r.take(ch.ID) == nil {
			return
		}
		r.logger.Debug("channel dial failed",
			logging.KeyChannelID, ch.ID.String(),
			logging.KeyAddress, address,
			logging.KeyPort, port,
			logging.KeyError, err)
		if r.cfg.Metrics != nil {
			r.cfg.Metrics.RecordChannelOpenFailure("dial")
		}
		r.writer.WriteConnectResponse(ch.ID, false, err.Error())
		return
	}

	if !ch.attach(conn) {
		conn.Close()
		r.logger.Debug("channel withdrawn during dial",
			logging.KeyChannelID, ch.ID.String())
		return
	}
	ch.open.Store(true)

	if err := r.writer.WriteConnectResponse(ch.ID, true, ""); err != nil {
		// Relay connection is gone; the channel cannot be used.
		r.take(ch.ID)
		ch.close()
		return
	}

	r.logger.Debug("tcp channel open",
		logging.KeyChannelID, ch.ID.String(),
		logging.KeyAddress, address,
		logging.KeyPort, port)
	if r.cfg.Metrics != nil {
		r.cfg.Metrics.RecordChannelOpen("tcp", time.Since(start).Seconds())
	}

	r.pumpTCP(ch)
}

// pumpTCP forwards bytes from the target socket to the relay until the
// socket fails or the channel is torn down.
func (r *Registry) pumpTCP(ch *Channel) {
	defer r.teardown(ch)

	buf := make([]byte, tcpBufferSize)
	for {
		n, err := ch.conn.Read(buf)
		if n > 0 {
			if werr := r.writer.WriteData(ch.ID, protocol.ProtocolTCP, "", 0, buf[:n]); werr != nil {
				return
			}
			if r.cfg.Metrics != nil {
				r.cfg.Metrics.RecordBytesSent("tcp", n)
			}
		}
		if err != nil {
			// EOF and socket teardown both end the channel.
			return
		}
	}
}
