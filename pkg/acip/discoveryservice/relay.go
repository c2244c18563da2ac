package discoveryservice

import (
	"sync"

	"github.com/google/uuid"

	"github.com/zfogg/ascii-chat/pkg/acip/acerr"
	"github.com/zfogg/ascii-chat/pkg/acip/crypto"
	"github.com/zfogg/ascii-chat/pkg/acip/packet"
	"github.com/zfogg/ascii-chat/pkg/acip/transport"
)

// participantConn is one connected signaling endpoint: a session's
// participant, its transport, and the secure stream negotiated at
// handshake.
type participantConn struct {
	sessionID     uuid.UUID
	participantID uuid.UUID
	conn          transport.Conn
	secure        *crypto.SecureStream
}

// SignalingRelay is a stateless message bus keyed by
// session UUID then participant UUID. It forwards WEBRTC_SDP, WEBRTC_ICE,
// and NAT_QUALITY messages verbatim to one recipient or broadcasts to a
// session's current participant set, with no queuing for recipients that
// are not currently connected.
type SignalingRelay struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]map[uuid.UUID]*participantConn
}

// NewSignalingRelay builds an empty relay.
func NewSignalingRelay() *SignalingRelay {
	return &SignalingRelay{sessions: make(map[uuid.UUID]map[uuid.UUID]*participantConn)}
}

// Register associates a live connection with (sessionID, participantID),
// replacing any prior connection for that pair.
func (r *SignalingRelay) Register(sessionID, participantID uuid.UUID, conn transport.Conn, secure *crypto.SecureStream) {
	r.mu.Lock()
	defer r.mu.Unlock()
	participants, ok := r.sessions[sessionID]
	if !ok {
		participants = make(map[uuid.UUID]*participantConn)
		r.sessions[sessionID] = participants
	}
	participants[participantID] = &participantConn{
		sessionID: sessionID, participantID: participantID, conn: conn, secure: secure,
	}
}

// Unregister drops a participant's connection from the relay. Idempotent.
func (r *SignalingRelay) Unregister(sessionID, participantID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if participants, ok := r.sessions[sessionID]; ok {
		delete(participants, participantID)
		if len(participants) == 0 {
			delete(r.sessions, sessionID)
		}
	}
}

// Connected reports how many participants of sessionID currently have a
// live connection registered.
func (r *SignalingRelay) Connected(sessionID uuid.UUID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions[sessionID])
}

// IsRegistered reports whether participantID currently has a live
// connection registered for sessionID.
func (r *SignalingRelay) IsRegistered(sessionID, participantID uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[sessionID][participantID]
	return ok
}

// Forward sends typ/payload to msg.ToID, or broadcasts to every other
// connected participant of the session when msg.ToID is uuid.Nil. It
// returns acerr.NotFound if a named recipient is not currently connected;
// the caller sends that back to the sender as ACIP_ERROR.
func (r *SignalingRelay) Forward(typ packet.Type, msg SignalMessage) error {
	body, err := msg.Encode()
	if err != nil {
		return err
	}

	r.mu.RLock()
	participants := r.sessions[msg.SessionUUID]
	var targets []*participantConn
	if msg.ToID == uuid.Nil {
		for id, p := range participants {
			if id != msg.FromID {
				targets = append(targets, p)
			}
		}
	} else if p, ok := participants[msg.ToID]; ok {
		targets = append(targets, p)
	}
	r.mu.RUnlock()

	if msg.ToID != uuid.Nil && len(targets) == 0 {
		return acerr.New(acerr.NotFound, "signaling recipient not connected")
	}

	for _, target := range targets {
		sealed := body
		if target.secure != nil {
			sealed, err = target.secure.Seal(body)
			if err != nil {
				continue
			}
		}
		encoded, err := packet.EncodeNext(typ, sealed)
		if err != nil {
			continue
		}
		target.conn.Write(encoded)
	}
	return nil
}
