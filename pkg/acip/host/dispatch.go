package host

import (
	"context"
	"strings"
	"time"

	"github.com/zfogg/ascii-chat/pkg/acip/acerr"
	"github.com/zfogg/ascii-chat/pkg/acip/packet"
	"github.com/zfogg/ascii-chat/pkg/acip/ratelimit"
)

// receiveLoop parses framed packets from c's connection until it errors
// or is removed, verifying sequence monotonicity and per-client rate
// limits before dispatching by packet type.
func (h *Host) receiveLoop(c *Client) {
	ip := peerIP(c.Conn.PeerID())

	for {
		if c.State() == StateRemoved {
			return
		}

		c.Conn.SetReadDeadline(time.Now().Add(h.cfg.PingInterval * 3))
		pkt, err := packet.DecodeStream(c.Conn)
		if err != nil {
			code, _ := acerr.CodeOf(err)
			if acerr.Recoverable(code) {
				h.logger.Debug("recoverable decode error, disconnecting client", "client_id", c.ID, "error", err)
			}
			c.Transition(StateErrored)
			return
		}
		c.Touch()

		if !c.CheckSequence(pkt.Sequence) {
			h.logger.Warn("sequence regression, disconnecting client", "client_id", c.ID)
			c.Transition(StateErrored)
			return
		}

		if kind := rateLimitKindFor(pkt.Type); kind != "" {
			ok, err := h.limiter.Check(ip, kind, nil)
			if err == nil && !ok {
				if h.recordOffense(c) {
					return
				}
				continue
			}
			h.limiter.Record(ip, kind)
		}

		h.dispatch(c, pkt)
	}
}

// recordOffense increments c's offense counter and disconnects after the
// third offense within a minute. It returns true if the
// client was disconnected.
func (h *Host) recordOffense(c *Client) bool {
	if c.RecordOffense() >= h.cfg.MaxOffensesPerMinute {
		h.stats.OffenseKicks++
		c.Transition(StateErrored)
		return true
	}
	return false
}

func (h *Host) dispatch(c *Client, pkt *packet.Packet) {
	plaintext := pkt.Payload
	if c.Secure != nil && !pkt.Type.IsHandshake() {
		opened, err := c.Secure.Open(pkt.Payload)
		if err != nil {
			h.logger.Warn("AEAD open failed, disconnecting client", "client_id", c.ID, "error", err)
			c.Transition(StateErrored)
			return
		}
		plaintext = opened
	}

	switch pkt.Type {
	case packet.TypePing:
		h.enqueue(c, packet.TypePong, nil)
	case packet.TypePong:
		c.ResetMissedPong()
	case packet.TypeClientCapabilities:
		h.handleCapabilities(c, plaintext)
	case packet.TypeClientJoin:
		c.Transition(StateActive)
		h.stats.ClientsJoined++
	case packet.TypeClientLeave:
		c.Transition(StateDisconnecting)
	case packet.TypeImageFrame:
		h.fanOutVideo(c, plaintext)
	case packet.TypeAudioBatch:
		h.fanOutAudio(c, plaintext)
	default:
		if pkt.Type.IsMediaControl() {
			// Unrecognized but in-range control packet: ignore rather than
			// disconnect, matching the taxonomy's "UnknownType" being
			// recoverable at this layer.
			return
		}
	}
}

func (h *Host) handleCapabilities(c *Client, payload []byte) {
	if len(payload) != packet.SettingsSize {
		return
	}
	settings, err := packet.DecodeSettings(payload)
	if err != nil {
		return
	}
	c.SetCapabilities(Capabilities{
		TerminalWidth:  settings.Width,
		TerminalHeight: settings.Height,
		ColorMode:      settings.ColorMode,
		RenderMode:     settings.RenderMode,
	})
}

// enqueue encodes payload under typ and pushes it onto c's send queue,
// sealing it first unless typ is a handshake packet or c has no secure
// stream yet.
func (h *Host) enqueue(c *Client, typ packet.Type, payload []byte) {
	out := payload
	if c.Secure != nil && !typ.IsHandshake() {
		sealed, err := c.Secure.Seal(payload)
		if err != nil {
			h.logger.Warn("AEAD seal failed, disconnecting client", "client_id", c.ID, "error", err)
			c.Transition(StateErrored)
			return
		}
		out = sealed
	}

	ctx, cancel := context.WithTimeout(h.ctx, h.cfg.BackpressureTimeout)
	defer cancel()
	if err := c.Queue.Enqueue(ctx, typ, out); err != nil {
		h.logger.Debug("send queue enqueue failed", "client_id", c.ID, "type", typ, "error", err)
	}
}

// sendLoop drains c's SendQueue and writes framed packets to the wire
// until the connection closes or the host shuts down. Media packets pass
// through the client's pacer first so a fan-out burst of frames drains
// smoothly instead of monopolizing the socket.
func (h *Host) sendLoop(c *Client) {
	defer h.wg.Done()
	for {
		msg, err := c.Queue.Next(h.ctx)
		if err != nil {
			return
		}
		if c.pacer != nil && isMediaType(msg.typ) {
			if err := c.pacer.Wait(h.ctx); err != nil {
				return
			}
		}
		encoded, err := packet.EncodeNext(msg.typ, msg.data)
		if err != nil {
			continue
		}
		c.Conn.SetWriteDeadline(time.Now().Add(h.cfg.BackpressureTimeout))
		if _, err := c.Conn.Write(encoded); err != nil {
			c.Transition(StateErrored)
			return
		}
	}
}

func rateLimitKindFor(typ packet.Type) ratelimit.Kind {
	switch typ {
	case packet.TypeImageFrame:
		return ratelimit.KindImageFrame
	case packet.TypeAudioBatch:
		return ratelimit.KindAudio
	case packet.TypePing:
		return ratelimit.KindPing
	case packet.TypeClientJoin:
		return ratelimit.KindClientJoin
	default:
		if typ.IsMediaControl() {
			return ratelimit.KindControl
		}
		return ""
	}
}

func peerIP(peerID string) string {
	if idx := strings.LastIndex(peerID, ":"); idx > 0 {
		return peerID[:idx]
	}
	return peerID
}
