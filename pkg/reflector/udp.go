package reflector

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/svxgo/svxreflector/pkg/logger"
	"github.com/svxgo/svxreflector/pkg/protocol"
	"github.com/svxgo/svxreflector/pkg/tg"
)

// udpLoop receives datagrams and dispatches them serially under the
// reflector lock, preserving per-client ordering
func (r *Reflector) udpLoop(ctx context.Context) error {
	buffer := make([]byte, 4096)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := r.udpConn.SetReadDeadline(time.Now().Add(100 * time.Millisecond)); err != nil {
			r.log.Warn("Failed to set read deadline", logger.Error(err))
			continue
		}
		n, addr, err := r.udpConn.ReadFromUDP(buffer)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			r.log.Error("Failed to read from UDP", logger.Error(err))
			continue
		}

		data := make([]byte, n)
		copy(data, buffer[:n])

		r.mu.Lock()
		r.handleDatagram(data, addr)
		r.mu.Unlock()
	}
}

// handleDatagram runs the datagram dispatch pipeline: decode, client
// lookup, source validation, port learning, sequence policy, then the
// per-type branch. Caller holds r.mu.
func (r *Reflector) handleDatagram(data []byte, addr *net.UDPAddr) {
	header, payload, err := protocol.ParseUdpHeader(data)
	if err != nil {
		r.log.WarnThrottled("udp/header", "Unpacking failed for UDP message header",
			logger.String("addr", addr.String()))
		return
	}

	c, ok := r.clients[header.ClientID]
	if !ok {
		r.log.WarnThrottled("udp/client", "Incoming UDP datagram has invalid client id",
			logger.Uint32("client_id", header.ClientID),
			logger.String("addr", addr.String()))
		return
	}

	if !c.RemoteHost().Equal(addr.IP) {
		r.log.WarnThrottled(fmt.Sprintf("client/%d/srcip", c.id),
			"Incoming UDP datagram has the wrong source ip",
			logger.String("callsign", c.Callsign()),
			logger.String("addr", addr.String()))
		return
	}

	if c.RemoteUdpPort() == 0 {
		c.setRemoteUdpPort(uint16(addr.Port))
		r.sendUdpMsg(c, protocol.MsgUdpHeartbeat{})
	} else if uint16(addr.Port) != c.RemoteUdpPort() {
		r.log.WarnThrottled(fmt.Sprintf("client/%d/srcport", c.id),
			"Incoming UDP datagram has the wrong source UDP port number",
			logger.String("callsign", c.Callsign()),
			logger.String("addr", addr.String()))
		return
	}

	accept, lost := c.checkUdpRxSeq(header.Seq)
	if !accept {
		r.log.Info("Dropping out of sequence frame",
			logger.String("callsign", c.Callsign()),
			logger.Uint16("seq", header.Seq))
		return
	}
	if lost > 0 {
		r.log.Info("UDP frame(s) lost",
			logger.String("callsign", c.Callsign()),
			logger.Uint16("lost", lost),
			logger.Uint16("seq", header.Seq))
	}

	c.UpdateLastHeard()

	switch header.Type {
	case protocol.UdpTypeHeartbeat:
		// Liveness already recorded above

	case protocol.UdpTypeAudio:
		r.handleUdpAudio(c, payload)

	case protocol.UdpTypeFlushSamples:
		r.handleUdpFlushSamples(c)

	case protocol.UdpTypeAllSamplesFlushed:
		// Ignore

	default:
		// Ignore unknown datagram types so the protocol can grow while
		// staying backwards compatible
	}
}

// handleUdpAudio relays one audio frame if the sender holds, or can
// acquire, the talker slot of its talkgroup. Caller holds r.mu.
func (r *Reflector) handleUdpAudio(c *Client, payload []byte) {
	if r.tgh.IsBlocked(c) {
		return
	}

	msg, err := protocol.ParseUdpAudio(payload)
	if err != nil {
		// A single bad datagram never terminates the session
		r.log.WarnThrottled(fmt.Sprintf("client/%d/audio", c.id),
			"Could not unpack incoming MsgUdpAudio message",
			logger.String("callsign", c.Callsign()))
		return
	}

	tgid := r.tgh.TGForClient(c)
	if tgid == 0 || len(msg.AudioData) == 0 {
		return
	}

	// Installs the talker when the slot is free, refreshes it when the
	// sender already holds it, and refuses everyone else
	r.tgh.SetTalkerForTG(tgid, c)
	if r.tgh.TalkerForTG(tgid) != tg.Client(c) {
		return
	}

	r.broadcastUdpMsg(*msg, And(TgFilter(tgid), ExceptFilter(c)))
}

// handleUdpFlushSamples ends the sender's transmission. Caller holds
// r.mu.
func (r *Reflector) handleUdpFlushSamples(c *Client) {
	tgid := r.tgh.TGForClient(c)
	if tgid > 0 && r.tgh.TalkerForTG(tgid) == tg.Client(c) {
		r.tgh.SetTalkerForTG(tgid, nil)
	}

	// Waiting for every listener to report its own flush would stall
	// on large reflectors, so the flush is acknowledged right away
	r.sendUdpMsg(c, protocol.MsgUdpAllSamplesFlushed{})
}
