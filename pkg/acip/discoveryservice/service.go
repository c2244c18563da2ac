// Package discoveryservice implements the session-registry and signaling
// process: a sqlite-backed store of sessions and
// participants, session_create/lookup/join/info, a stateless signaling
// relay for WebRTC negotiation and NAT-quality advisories, a periodic
// cleanup ticker, and a thin mDNS self-advertisement.
package discoveryservice

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zfogg/ascii-chat/pkg/acip/acerr"
	"github.com/zfogg/ascii-chat/pkg/acip/crypto"
	"github.com/zfogg/ascii-chat/pkg/acip/packet"
	"github.com/zfogg/ascii-chat/pkg/acip/ratelimit"
	"github.com/zfogg/ascii-chat/pkg/acip/transport"
)

// Config tunes a Service's identity requirements and housekeeping
// schedule. STUN/TURN fields mirror the CLI surface; the
// service itself never dials them -- they are accepted for parity with
// the discovery-client's NAT-quality gathering configuration and are not
// yet relayed as a protocol message (see DESIGN.md).
type Config struct {
	RequireServerIdentity bool
	RequireClientIdentity bool

	// StaticKey, when set, replaces the per-connection ephemeral X25519
	// key on the service side of the handshake (the --encrypt-key flag),
	// so clients that pin the service's fingerprint can authenticate it.
	StaticKey *crypto.EphemeralKeyPair

	STUNServers    []string
	TURNServers    []string
	TURNUsername   string
	TURNCredential string
	TURNSecret     string
	UPnP           bool

	CleanupInterval     time.Duration
	ParticipantGracePeriod time.Duration
}

// DefaultConfig carries the protocol's housekeeping intervals.
func DefaultConfig() Config {
	return Config{
		CleanupInterval:        5 * time.Minute,
		ParticipantGracePeriod: 5 * time.Second,
	}
}

// Service runs the discovery-service's accept loop, session store,
// signaling relay, and housekeeping tasks.
type Service struct {
	logger  *slog.Logger
	cfg     Config
	store   *Store
	limiter ratelimit.Limiter
	relay   *SignalingRelay
	mdns    *mdnsAdvertiser

	listener net.Listener

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Service over an already-open Store and Limiter (typically
// sharing one sqlite *sql.DB, per the "last call wins" construction
// convention in ratelimit.SQLiteLimiter.SetDB).
func New(cfg Config, store *Store, limiter ratelimit.Limiter, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		logger:  logger,
		cfg:     cfg,
		store:   store,
		limiter: limiter,
		relay:   NewSignalingRelay(),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Listen opens the accept loop's listening socket.
func (s *Service) Listen(address string) error {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return acerr.Wrap(acerr.ConnectionRefused, "listen "+address, err)
	}
	s.listener = ln
	return nil
}

// Addr reports the listener's bound address.
func (s *Service) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Run starts the accept loop, the cleanup ticker, and the mDNS
// advertisement; it blocks until Stop is called or the listener errors.
func (s *Service) Run() error {
	if s.listener == nil {
		return acerr.New(acerr.InvalidState, "Listen must be called before Run")
	}

	if advertiser, err := startMDNSAdvertiser(s.logger); err != nil {
		s.logger.Warn("mdns advertisement unavailable", "error", err)
	} else {
		s.mdns = advertiser
	}

	s.wg.Add(1)
	go s.cleanupLoop()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return nil
			default:
				return acerr.Wrap(acerr.ConnectionReset, "accept loop", err)
			}
		}
		tcpConn := transport.WrapTCP(conn, transport.DefaultKeepalive, s.logger)
		s.wg.Add(1)
		go s.handleConnection(tcpConn)
	}
}

// Stop cancels the accept loop, cleanup ticker, and mDNS advertisement,
// and waits for every in-flight connection handler to exit.
func (s *Service) Stop() {
	s.cancel()
	if s.listener != nil {
		s.listener.Close()
	}
	if s.mdns != nil {
		s.mdns.Close()
	}
	s.wg.Wait()
}

func (s *Service) cleanupLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := s.limiter.Cleanup(time.Hour); err != nil {
				s.logger.Warn("rate limiter cleanup failed", "error", err)
			}
			if n, err := s.store.CleanupEmptySessions(time.Hour, time.Now()); err != nil {
				s.logger.Warn("session cleanup failed", "error", err)
			} else if n > 0 {
				s.logger.Debug("cleaned up empty sessions", "count", n)
			}
		}
	}
}

const handshakeTimeout = 5 * time.Second

// handleConnection runs the responder-side handshake then dispatches
// discovery-protocol packets until the peer disconnects.
func (s *Service) handleConnection(conn transport.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	ip := peerIP(conn.PeerID())
	if ok, err := s.limiter.Check(ip, ratelimit.KindConnection, nil); err == nil && !ok {
		s.logger.Debug("connection rate limited", "peer", conn.PeerID())
		return
	}
	s.limiter.Record(ip, ratelimit.KindConnection)

	secure, err := s.performHandshake(conn)
	if err != nil {
		s.logger.Debug("discovery-service handshake failed", "peer", conn.PeerID(), "error", err)
		return
	}

	var sessionID, participantID uuid.UUID
	defer func() {
		if sessionID != uuid.Nil && participantID != uuid.Nil {
			s.relay.Unregister(sessionID, participantID)
			s.scheduleParticipantRemoval(sessionID, participantID)
		}
	}()

	for {
		conn.SetReadDeadline(time.Now().Add(handshakeTimeout * 6))
		pkt, err := packet.DecodeStream(conn)
		if err != nil {
			return
		}

		plaintext := pkt.Payload
		if secure != nil {
			opened, err := secure.Open(pkt.Payload)
			if err != nil {
				s.logger.Debug("discovery-service AEAD open failed", "peer", conn.PeerID(), "error", err)
				return
			}
			plaintext = opened
		}

		reply, replyType, joined := s.dispatch(ip, pkt.Type, plaintext)
		if joined != nil {
			sessionID, participantID = joined.session, joined.participant
			s.relay.Register(sessionID, participantID, conn, secure)
		}
		if reply == nil {
			continue
		}

		out := reply
		if secure != nil {
			sealed, err := secure.Seal(reply)
			if err != nil {
				return
			}
			out = sealed
		}
		encoded, err := packet.EncodeNext(replyType, out)
		if err != nil {
			continue
		}
		conn.SetWriteDeadline(time.Now().Add(handshakeTimeout))
		if _, err := conn.Write(encoded); err != nil {
			return
		}
	}
}

// scheduleParticipantRemoval removes participantID from the store after
// the grace period unless it reconnects first.
func (s *Service) scheduleParticipantRemoval(sessionID, participantID uuid.UUID) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		select {
		case <-time.After(s.cfg.ParticipantGracePeriod):
		case <-s.ctx.Done():
			return
		}
		if s.relay.IsRegistered(sessionID, participantID) {
			return // reconnected during the grace period
		}
		s.store.RemoveParticipant(sessionID, participantID)
	}()
}

type joinedIdentity struct {
	session     uuid.UUID
	participant uuid.UUID
}

func peerIP(peerID string) string {
	if host, _, err := net.SplitHostPort(peerID); err == nil {
		return host
	}
	return peerID
}

// performHandshake runs the responder side of the X25519 exchange,
// identical in shape to the star-topology host's; identity
// enforcement, when required, happens in the session operations
// themselves (a missing/zero pubkey is rejected with AuthRequired).
func (s *Service) performHandshake(conn transport.Conn) (*crypto.SecureStream, error) {
	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	hello, err := packet.DecodeStream(conn)
	if err != nil {
		return nil, err
	}
	if hello.Type != packet.TypeHandshakeHello || len(hello.Payload) != 32 {
		return nil, acerr.New(acerr.HandshakeFailed, "expected HANDSHAKE_HELLO with 32-byte ephemeral key")
	}

	var peerPub [32]byte
	copy(peerPub[:], hello.Payload)

	local := s.cfg.StaticKey
	if local == nil {
		generated, err := crypto.GenerateEphemeral()
		if err != nil {
			return nil, err
		}
		local = generated
	}
	salt, err := crypto.GenerateSalt()
	if err != nil {
		return nil, err
	}

	responsePayload := append(append([]byte{}, local.Public[:]...), salt...)
	encoded, err := packet.EncodeNext(packet.TypeHandshakeResponse, responsePayload)
	if err != nil {
		return nil, err
	}
	conn.SetWriteDeadline(time.Now().Add(handshakeTimeout))
	if _, err := conn.Write(encoded); err != nil {
		return nil, acerr.Wrap(acerr.HandshakeFailed, "send HANDSHAKE_RESPONSE", err)
	}

	keys, err := crypto.DeriveSessionKeys(local, peerPub, salt, crypto.RoleResponder)
	if err != nil {
		return nil, err
	}
	return crypto.NewSecureStream(keys)
}
