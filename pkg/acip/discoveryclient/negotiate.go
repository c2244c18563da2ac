package discoveryclient

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/zfogg/ascii-chat/pkg/acip/acerr"
	"github.com/zfogg/ascii-chat/pkg/acip/discoveryservice"
	"github.com/zfogg/ascii-chat/pkg/acip/election"
	"github.com/zfogg/ascii-chat/pkg/acip/packet"
)

// NAT_QUALITY signal bodies carry a leading subtype byte: a quality
// record broadcast during negotiation, or the elected host's listener
// advertisement. The discovery-service never inspects these.
const (
	natBodyQuality   = 0
	natBodyHostReady = 1
)

// hostReady is the elected host's "listener open" advertisement.
type hostReady struct {
	Address string
	Port    uint16
}

func encodeHostReady(hr hostReady) []byte {
	var buf bytes.Buffer
	buf.WriteByte(natBodyHostReady)
	binary.Write(&buf, binary.BigEndian, hr.Port)
	binary.Write(&buf, binary.BigEndian, uint16(len(hr.Address)))
	buf.WriteString(hr.Address)
	return buf.Bytes()
}

func decodeHostReady(body []byte) (hostReady, error) {
	r := bytes.NewReader(body)
	var hr hostReady
	subtype, err := r.ReadByte()
	if err != nil || subtype != natBodyHostReady {
		return hr, acerr.New(acerr.CorruptPayload, "not a host-ready body")
	}
	if err := binary.Read(r, binary.BigEndian, &hr.Port); err != nil {
		return hr, acerr.Wrap(acerr.CorruptPayload, "read host port", err)
	}
	var addrLen uint16
	if err := binary.Read(r, binary.BigEndian, &addrLen); err != nil {
		return hr, acerr.Wrap(acerr.CorruptPayload, "read address length", err)
	}
	addr := make([]byte, addrLen)
	if _, err := io.ReadFull(r, addr); err != nil {
		return hr, acerr.Wrap(acerr.CorruptPayload, "read address", err)
	}
	hr.Address = string(addr)
	return hr, nil
}

// gatherQuality measures this participant's NAT-quality record: a STUN
// binding probe for the reflexive address and latency, an ICE gathering
// pass for the candidate summary, and local interface inspection for the
// public-IP and LAN-reachability bits.
func (c *Client) gatherQuality(ctx context.Context) election.Quality {
	q := election.Quality{
		NATType:        election.NATUnknown,
		WeAreInitiator: c.cfg.SessionString == "",
	}
	copy(q.ParticipantUUID[:], c.participantID[:])

	if hasGlobalUnicastInterface() {
		q.HasPublicIP = true
	}
	q.LANReachable = hasPrivateInterface()

	stunServers := c.cfg.STUNServers
	if len(stunServers) == 0 {
		stunServers = []string{"stun:stun.l.google.com:19302"}
	}
	if probe, err := election.ProbeSTUN(stunHostPort(stunServers[0]), 3*time.Second); err == nil {
		q.StunLatencyMs = probe.LatencyMs
		q.PublicAddress = probe.PublicAddress
		q.PublicPort = probe.PublicPort
		q.NATType = election.NATModerate
		c.logger.DebugElection("stun probe complete",
			"public", probe.PublicAddress, "latency_ms", probe.LatencyMs)
	} else {
		c.logger.DebugElection("stun probe failed", "error", err)
	}

	if summary, err := election.GatherCandidateSummary(ctx, stunServers, c.cfg.TURNServers, 3*time.Second); err == nil {
		q.Candidates = summary
		if summary.HasSrflx && q.NATType == election.NATUnknown {
			q.NATType = election.NATModerate
		}
	}

	q.RTTToDiscoveryMs = c.discoveryRTTMs
	return q
}

// stunHostPort strips the "stun:" URL scheme for the raw UDP probe,
// which wants a bare host:port.
func stunHostPort(server string) string {
	for _, prefix := range []string{"stun:", "stuns:"} {
		if len(server) > len(prefix) && server[:len(prefix)] == prefix {
			return server[len(prefix):]
		}
	}
	return server
}

// hasGlobalUnicastInterface reports whether any local interface carries a
// non-private global unicast address (tier 0's has_public_ip bit).
func hasGlobalUnicastInterface() bool {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return false
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		ip := ipNet.IP
		if ip.IsGlobalUnicast() && !ip.IsPrivate() {
			return true
		}
	}
	return false
}

func hasPrivateInterface() bool {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return false
	}
	for _, addr := range addrs {
		if ipNet, ok := addr.(*net.IPNet); ok && ipNet.IP.IsPrivate() {
			return true
		}
	}
	return false
}

// broadcastQuality signs and broadcasts our NAT-quality record to every
// session participant through the signaling relay.
func (c *Client) broadcastQuality(q election.Quality) error {
	sq := election.SignedQuality{Quality: q}
	if c.cfg.Identity != nil {
		sq.PubKey = c.cfg.Identity.Public
		sq.Signature = election.SignQuality(c.cfg.Identity, c.sessionID, q)
	} else {
		sq.PubKey = make([]byte, 32)
	}

	body := append([]byte{natBodyQuality}, election.EncodeSignedQuality(sq)...)
	return c.svc.SendSignal(packet.TypeNATQuality, discoveryservice.SignalMessage{
		SessionUUID: uuid.UUID(c.sessionID),
		FromID:      c.participantID,
		ToID:        uuid.Nil,
		Body:        body,
	})
}

// collectQualities waits for NAT-quality broadcasts from the declared
// peer set, returning once every peer has replied or the negotiation
// deadline elapses -- whichever comes first, using only what arrived.
// Non-quality signals received while waiting are handed to
// pending so the caller can replay them (e.g. an early SDP offer).
func (c *Client) collectQualities(peers map[uuid.UUID]bool, pending *[]Signal) map[uuid.UUID]election.Quality {
	got := make(map[uuid.UUID]election.Quality)

	deadline := time.NewTimer(c.cfg.NegotiationDeadline)
	defer deadline.Stop()
	poll := time.NewTicker(100 * time.Millisecond)
	defer poll.Stop()

	for len(got) < len(peers) {
		select {
		case sig, ok := <-c.svc.Signals():
			if !ok {
				return got
			}
			if sig.Type != packet.TypeNATQuality || len(sig.Msg.Body) == 0 || sig.Msg.Body[0] != natBodyQuality {
				*pending = append(*pending, sig)
				continue
			}
			sq, err := election.DecodeSignedQuality(sig.Msg.Body[1:])
			if err != nil {
				c.logger.DebugElection("dropping malformed quality record", "from", sig.Msg.FromID, "error", err)
				continue
			}
			if len(sq.Signature) > 0 && !election.VerifyQuality(sq.PubKey, c.sessionID, sq.Quality, sq.Signature) {
				c.logger.Warn("rejecting quality record with bad signature", "from", sig.Msg.FromID)
				continue
			}
			if !peers[sig.Msg.FromID] {
				continue
			}
			got[sig.Msg.FromID] = sq.Quality
			c.logger.DebugElection("peer quality received",
				"from", sig.Msg.FromID, "tier", election.Tier(sq.Quality))
		case <-deadline.C:
			return got
		case <-poll.C:
			if c.shouldExit() {
				return got
			}
		}
	}
	return got
}
