package discoveryclient

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zfogg/ascii-chat/pkg/acip/acerr"
	"github.com/zfogg/ascii-chat/pkg/acip/crypto"
	"github.com/zfogg/ascii-chat/pkg/acip/discoveryservice"
	"github.com/zfogg/ascii-chat/pkg/acip/logx"
	"github.com/zfogg/ascii-chat/pkg/acip/packet"
	"github.com/zfogg/ascii-chat/pkg/acip/transport"
)

const (
	requestTimeout = 5 * time.Second
	dialTimeout    = 5 * time.Second
)

// Signal is one relayed signaling message received from the
// discovery-service: a WEBRTC_SDP, WEBRTC_ICE, or NAT_QUALITY envelope.
type Signal struct {
	Type packet.Type
	Msg  discoveryservice.SignalMessage
}

// ServiceConn is the secure control connection to the discovery-service:
// request/response session operations plus an inbound stream of relayed
// signaling messages.
type ServiceConn struct {
	logger *logx.Logger

	conn   transport.Conn
	secure *crypto.SecureStream

	replies chan *packet.Packet
	signals chan Signal

	reqMu sync.Mutex // serializes request/response exchanges

	closeOnce sync.Once
	done      chan struct{}
}

// DialService connects to the discovery-service, runs the initiator side
// of the handshake, and starts the receive pump.
func DialService(server string, port int, shouldExit transport.ShouldExit, logger *logx.Logger) (*ServiceConn, error) {
	conn, err := transport.DialParallel(server, port, dialTimeout, shouldExit, transport.DefaultKeepalive, logger.Logger)
	if err != nil {
		return nil, err
	}

	secure, err := initiatorHandshake(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	logger.DebugCrypto("discovery-service handshake complete", "peer", conn.PeerID())

	sc := &ServiceConn{
		logger:  logger,
		conn:    conn,
		secure:  secure,
		replies: make(chan *packet.Packet, 4),
		signals: make(chan Signal, 16),
		done:    make(chan struct{}),
	}
	go sc.readPump()
	return sc, nil
}

// InitiatorHandshake sends HANDSHAKE_HELLO, reads HANDSHAKE_RESPONSE
// (peer ephemeral key + salt), and derives the directional keys. It is
// shared by the direct-connect client binary, which performs the same
// exchange against a server-mode host.
func InitiatorHandshake(conn transport.Conn) (*crypto.SecureStream, error) {
	return initiatorHandshake(conn)
}

func initiatorHandshake(conn transport.Conn) (*crypto.SecureStream, error) {
	local, err := crypto.GenerateEphemeral()
	if err != nil {
		return nil, err
	}

	encoded, err := packet.EncodeNext(packet.TypeHandshakeHello, local.Public[:])
	if err != nil {
		return nil, err
	}
	conn.SetWriteDeadline(time.Now().Add(requestTimeout))
	if _, err := conn.Write(encoded); err != nil {
		return nil, acerr.Wrap(acerr.HandshakeFailed, "send HANDSHAKE_HELLO", err)
	}

	conn.SetReadDeadline(time.Now().Add(requestTimeout))
	resp, err := packet.DecodeStream(conn)
	if err != nil {
		return nil, err
	}
	if resp.Type != packet.TypeHandshakeResponse || len(resp.Payload) != 64 {
		return nil, acerr.New(acerr.HandshakeFailed, "expected HANDSHAKE_RESPONSE with key and salt")
	}

	var peerPub [32]byte
	copy(peerPub[:], resp.Payload[:32])
	salt := resp.Payload[32:]

	keys, err := crypto.DeriveSessionKeys(local, peerPub, salt, crypto.RoleInitiator)
	if err != nil {
		return nil, err
	}
	return crypto.NewSecureStream(keys)
}

// readPump decodes and decrypts inbound packets, routing request replies
// and relayed signaling to their channels until the connection closes.
func (sc *ServiceConn) readPump() {
	defer close(sc.signals)
	for {
		sc.conn.SetReadDeadline(time.Time{})
		pkt, err := packet.DecodeStream(sc.conn)
		if err != nil {
			select {
			case <-sc.done:
			default:
				sc.logger.DebugSignaling("discovery connection read failed", "error", err)
			}
			return
		}

		plaintext, err := sc.secure.Open(pkt.Payload)
		if err != nil {
			sc.logger.Warn("discovery connection AEAD open failed", "error", err)
			sc.Close()
			return
		}
		pkt.Payload = plaintext

		switch pkt.Type {
		case packet.TypeWebRTCSDP, packet.TypeWebRTCICE, packet.TypeNATQuality:
			msg, err := discoveryservice.DecodeSignalMessage(pkt.Payload)
			if err != nil {
				sc.logger.DebugSignaling("dropping malformed signal", "error", err)
				continue
			}
			select {
			case sc.signals <- Signal{Type: pkt.Type, Msg: msg}:
			case <-sc.done:
				return
			}
		default:
			select {
			case sc.replies <- pkt:
			case <-sc.done:
				return
			}
		}
	}
}

// Signals returns the inbound signaling stream. The channel closes when
// the connection does.
func (sc *ServiceConn) Signals() <-chan Signal { return sc.signals }

// Close tears down the connection. Idempotent.
func (sc *ServiceConn) Close() error {
	sc.closeOnce.Do(func() { close(sc.done) })
	return sc.conn.Close()
}

func (sc *ServiceConn) send(typ packet.Type, payload []byte) error {
	sealed, err := sc.secure.Seal(payload)
	if err != nil {
		return err
	}
	encoded, err := packet.EncodeNext(typ, sealed)
	if err != nil {
		return err
	}
	sc.conn.SetWriteDeadline(time.Now().Add(requestTimeout))
	if _, err := sc.conn.Write(encoded); err != nil {
		return acerr.Wrap(acerr.ConnectionReset, "send to discovery-service", err)
	}
	return nil
}

// request performs one request/response exchange. The service answers
// requests in order on this connection, so the next packet read is taken
// as the reply. An ACIP_ERROR left behind by a failed SendSignal is read
// here first and returned as this request's error.
func (sc *ServiceConn) request(typ packet.Type, payload []byte, shouldExit transport.ShouldExit) (*packet.Packet, error) {
	sc.reqMu.Lock()
	defer sc.reqMu.Unlock()

	if err := sc.send(typ, payload); err != nil {
		return nil, err
	}

	deadline := time.NewTimer(requestTimeout)
	defer deadline.Stop()
	poll := time.NewTicker(100 * time.Millisecond)
	defer poll.Stop()

	for {
		select {
		case reply, ok := <-sc.replies:
			if !ok {
				return nil, acerr.New(acerr.EndOfStream, "discovery connection closed")
			}
			if reply.Type == packet.TypeACIPError {
				return nil, decodeErrorReply(reply.Payload)
			}
			return reply, nil
		case <-deadline.C:
			return nil, acerr.New(acerr.Timeout, "discovery-service request timed out")
		case <-poll.C:
			if shouldExit != nil && shouldExit() {
				return nil, acerr.New(acerr.Timeout, "request cancelled by shouldExit predicate")
			}
		case <-sc.done:
			return nil, acerr.New(acerr.EndOfStream, "discovery connection closed")
		}
	}
}

// decodeErrorReply turns an ACIP_ERROR payload back into an acerr.Error
// with the peer's stable code.
func decodeErrorReply(payload []byte) error {
	if len(payload) < 2 {
		return acerr.New(acerr.CorruptPayload, "truncated ACIP_ERROR")
	}
	code := acerr.Code(uint16(payload[0])<<8 | uint16(payload[1]))
	msg := "discovery-service error"
	if len(payload) >= 4 {
		n := int(payload[2])<<8 | int(payload[3])
		if 4+n <= len(payload) {
			msg = string(payload[4 : 4+n])
		}
	}
	return acerr.New(code, msg)
}

// CreateSession asks the service to create a session with us as creator.
func (sc *ServiceConn) CreateSession(creatorID uuid.UUID, pubKey []byte, shouldExit transport.ShouldExit) (discoveryservice.SessionCreatedResponse, error) {
	req := discoveryservice.SessionCreateRequest{CreatorID: creatorID, CreatorPubKey: pad32(pubKey)}
	reply, err := sc.request(packet.TypeSessionCreate, req.Encode(), shouldExit)
	if err != nil {
		return discoveryservice.SessionCreatedResponse{}, err
	}
	if reply.Type != packet.TypeSessionCreated {
		return discoveryservice.SessionCreatedResponse{}, acerr.New(acerr.UnknownType, "unexpected reply to SESSION_CREATE")
	}
	return discoveryservice.DecodeSessionCreatedResponse(reply.Payload)
}

// LookupSession resolves a session string to its session info.
func (sc *ServiceConn) LookupSession(sessionString string, shouldExit transport.ShouldExit) (discoveryservice.SessionInfoResponse, error) {
	req := discoveryservice.SessionLookupRequest{SessionString: sessionString}
	reply, err := sc.request(packet.TypeSessionLookup, req.Encode(), shouldExit)
	if err != nil {
		return discoveryservice.SessionInfoResponse{}, err
	}
	if reply.Type != packet.TypeSessionInfo {
		return discoveryservice.SessionInfoResponse{}, acerr.New(acerr.UnknownType, "unexpected reply to SESSION_LOOKUP")
	}
	return discoveryservice.DecodeSessionInfoResponse(reply.Payload)
}

// JoinSession adds us to sessionID's participant list.
func (sc *ServiceConn) JoinSession(sessionID, participantID uuid.UUID, pubKey []byte, shouldExit transport.ShouldExit) (discoveryservice.SessionInfoResponse, error) {
	req := discoveryservice.SessionJoinRequest{
		SessionUUID: sessionID, ParticipantID: participantID, ParticipantPubKey: pad32(pubKey),
	}
	reply, err := sc.request(packet.TypeSessionJoin, req.Encode(), shouldExit)
	if err != nil {
		return discoveryservice.SessionInfoResponse{}, err
	}
	if reply.Type != packet.TypeSessionJoined {
		return discoveryservice.SessionInfoResponse{}, acerr.New(acerr.UnknownType, "unexpected reply to SESSION_JOIN")
	}
	return discoveryservice.DecodeSessionInfoResponse(reply.Payload)
}

// SessionInfo fetches the current participant list and host.
func (sc *ServiceConn) SessionInfo(sessionID uuid.UUID, shouldExit transport.ShouldExit) (discoveryservice.SessionInfoResponse, error) {
	req := discoveryservice.SessionInfoRequest{SessionUUID: sessionID}
	reply, err := sc.request(packet.TypeSessionInfo, req.Encode(), shouldExit)
	if err != nil {
		return discoveryservice.SessionInfoResponse{}, err
	}
	if reply.Type != packet.TypeSessionInfo {
		return discoveryservice.SessionInfoResponse{}, acerr.New(acerr.UnknownType, "unexpected reply to SESSION_INFO")
	}
	return discoveryservice.DecodeSessionInfoResponse(reply.Payload)
}

// SendSignal relays a signaling message through the service. Unlike the
// session operations it expects no reply; a delivery failure comes back
// asynchronously as ACIP_ERROR and is surfaced on the next request.
func (sc *ServiceConn) SendSignal(typ packet.Type, msg discoveryservice.SignalMessage) error {
	payload, err := msg.Encode()
	if err != nil {
		return err
	}
	return sc.send(typ, payload)
}

func pad32(b []byte) []byte {
	out := make([]byte, 32)
	copy(out, b)
	return out
}
