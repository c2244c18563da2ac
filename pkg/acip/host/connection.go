package host

import (
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/zfogg/ascii-chat/pkg/acip/acerr"
	"github.com/zfogg/ascii-chat/pkg/acip/crypto"
	"github.com/zfogg/ascii-chat/pkg/acip/packet"
	"github.com/zfogg/ascii-chat/pkg/acip/transport"
)

const handshakeTimeout = 5 * time.Second

// handleConnection runs the full per-client lifecycle: handshake, then
// the receive and send tasks, until the client is Removed. It always
// returns through the client's deterministic teardown path.
func (h *Host) handleConnection(conn transport.Conn) {
	defer h.wg.Done()

	id := uuid.New()
	shortID, err := h.shortIDs.Acquire()
	if err != nil {
		h.logger.Warn("rejecting connection, short id pool exhausted", "peer", conn.PeerID())
		conn.Close()
		return
	}

	client := NewClient(id, shortID, conn)
	if h.cfg.MediaPacerRate > 0 {
		client.pacer = rate.NewLimiter(rate.Limit(h.cfg.MediaPacerRate), h.cfg.MediaPacerBurst)
	}
	h.registry.Add(client)
	h.logger.Debug("client accepted", "client_id", id, "short_id", shortID, "peer", conn.PeerID())

	defer h.removeClient(client)

	secure, firstPkt, err := h.performHandshake(client)
	if err != nil {
		h.logger.Warn("handshake failed", "client_id", id, "error", err)
		client.Transition(StateErrored)
		return
	}
	client.Secure = secure
	if !client.Transition(StateJoined) {
		return
	}

	h.wg.Add(1)
	go h.sendLoop(client)

	if firstPkt != nil {
		// Plaintext client: its first packet arrived in place of the
		// handshake hello and still needs dispatching.
		if client.CheckSequence(firstPkt.Sequence) {
			h.dispatch(client, firstPkt)
		}
	}
	h.receiveLoop(client)
}

// removeClient returns the client's short id to the pool and drops it
// from the registry. Idempotent, matching the Removed state's semantics.
func (h *Host) removeClient(c *Client) {
	c.Transition(StateRemoved)
	h.registry.Remove(c.ID)
	h.shortIDs.Release(c.ShortID)
	c.Conn.Close()
	h.stats.ClientsRemoved++
	h.logger.Debug("client removed", "client_id", c.ID, "short_id", c.ShortID)
}

// performHandshake runs the responder side of the X25519 exchange: wait
// for HANDSHAKE_HELLO, reply with HANDSHAKE_RESPONSE, derive directional
// keys. Identity verification, when required, happens over the optional
// HANDSHAKE_IDENTITY packet that follows. When the host does not require
// encryption and the first packet is not a hello, the client is accepted
// as plaintext and the packet is handed back for normal dispatch.
func (h *Host) performHandshake(c *Client) (*crypto.SecureStream, *packet.Packet, error) {
	c.Conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	hello, err := packet.DecodeStream(c.Conn)
	if err != nil {
		return nil, nil, err
	}
	if hello.Type != packet.TypeHandshakeHello || len(hello.Payload) != 32 {
		if !h.cfg.RequireEncryption && !hello.Type.IsHandshake() {
			if !c.Transition(StateHandshaking) {
				return nil, nil, acerr.New(acerr.InvalidState, "cannot enter handshaking")
			}
			return nil, hello, nil
		}
		return nil, nil, acerr.New(acerr.HandshakeFailed, "expected HANDSHAKE_HELLO with 32-byte ephemeral key")
	}
	if !c.Transition(StateHandshaking) {
		return nil, nil, acerr.New(acerr.InvalidState, "cannot enter handshaking")
	}

	var peerPub [32]byte
	copy(peerPub[:], hello.Payload)

	local, err := crypto.GenerateEphemeral()
	if err != nil {
		return nil, nil, err
	}
	salt, err := crypto.GenerateSalt()
	if err != nil {
		return nil, nil, err
	}

	responsePayload := append(append([]byte{}, local.Public[:]...), salt...)
	encoded, err := packet.EncodeNext(packet.TypeHandshakeResponse, responsePayload)
	if err != nil {
		return nil, nil, err
	}
	c.Conn.SetWriteDeadline(time.Now().Add(handshakeTimeout))
	if _, err := c.Conn.Write(encoded); err != nil {
		return nil, nil, acerr.Wrap(acerr.HandshakeFailed, "send HANDSHAKE_RESPONSE", err)
	}

	keys, err := crypto.DeriveSessionKeys(local, peerPub, salt, crypto.RoleResponder)
	if err != nil {
		return nil, nil, err
	}

	if h.cfg.RequireClientIdentity {
		c.Conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
		identityPkt, err := packet.DecodeStream(c.Conn)
		if err != nil || identityPkt.Type != packet.TypeHandshakeIdentity {
			return nil, nil, acerr.New(acerr.AuthRequired, "client identity required but not presented")
		}
		// The packet's signature is not verified; the host only enforces
		// that an identity packet was sent.
	}

	secure, err := crypto.NewSecureStream(keys)
	if err != nil {
		return nil, nil, err
	}
	return secure, nil, nil
}
