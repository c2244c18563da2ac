package discoveryclient

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/zfogg/ascii-chat/pkg/acip/acerr"
	"github.com/zfogg/ascii-chat/pkg/acip/crypto"
	"github.com/zfogg/ascii-chat/pkg/acip/election"
	"github.com/zfogg/ascii-chat/pkg/acip/host"
	"github.com/zfogg/ascii-chat/pkg/acip/logx"
	"github.com/zfogg/ascii-chat/pkg/acip/packet"
	"github.com/zfogg/ascii-chat/pkg/acip/ratelimit"
	"github.com/zfogg/ascii-chat/pkg/acip/transport"
)

// Config parameterizes one discovery-mode run.
type Config struct {
	// SessionString joins an existing session; empty creates one (we are
	// the initiator).
	SessionString string

	DiscoveryServer string
	DiscoveryPort   int

	// ListenPort is the media port opened if we win the election.
	ListenPort int

	STUNServers    []string
	TURNServers    []string
	TURNUsername   string
	TURNCredential string

	// Identity signs our NAT-quality broadcasts; nil broadcasts unsigned.
	Identity *crypto.Identity

	// ShouldExit is polled at least every 100ms by every blocking wait.
	ShouldExit transport.ShouldExit

	// OnStateChange observes transitions; may be nil.
	OnStateChange StateCallback

	// Mixer backs the star host if we win the election; nil uses the
	// passthrough mixer.
	Mixer host.Mixer

	NegotiationDeadline  time.Duration // default 10s
	DirectConnectTimeout time.Duration // default 5s
}

func (c Config) withDefaults() Config {
	if c.NegotiationDeadline == 0 {
		c.NegotiationDeadline = 10 * time.Second
	}
	if c.DirectConnectTimeout == 0 {
		c.DirectConnectTimeout = 5 * time.Second
	}
	if c.Mixer == nil {
		c.Mixer = host.PassthroughMixer{}
	}
	return c
}

// Client drives the discovery state machine to completion.
type Client struct {
	cfg    Config
	logger *logx.Logger

	svc           *ServiceConn
	sessionID     uuid.UUID
	sessionString string
	participantID uuid.UUID

	discoveryRTTMs uint32

	mu    sync.Mutex
	state State

	hostRuntime *host.Host
	mediaConn   transport.Conn

	// peerIPs caches each participant's IP as observed by the
	// discovery-service, refreshed on every session_info fetch.
	peerIPs map[uuid.UUID]string

	pcsMu     sync.Mutex
	answerPCs map[uuid.UUID]*webrtc.PeerConnection
}

// New builds a Client; Run drives it.
func New(cfg Config, logger *logx.Logger) *Client {
	return &Client{
		cfg:           cfg.withDefaults(),
		logger:        logger,
		participantID: uuid.New(),
		state:         StateInit,
		peerIPs:       make(map[uuid.UUID]string),
		answerPCs:     make(map[uuid.UUID]*webrtc.PeerConnection),
	}
}

// ParticipantID returns this participant's generated UUID.
func (c *Client) ParticipantID() uuid.UUID { return c.participantID }

// SessionString returns the session's human identifier, available once
// the session has been created or joined.
func (c *Client) SessionString() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionString
}

// State returns the current machine state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(next State) {
	c.mu.Lock()
	prev := c.state
	c.state = next
	c.mu.Unlock()
	if prev != next {
		c.logger.Info("discovery state change", "from", prev.String(), "to", next.String())
		if c.cfg.OnStateChange != nil {
			c.cfg.OnStateChange(prev, next)
		}
	}
}

func (c *Client) shouldExit() bool {
	return c.cfg.ShouldExit != nil && c.cfg.ShouldExit()
}

// Run executes the state machine until a terminal state. It returns nil
// on Ended and the fatal error on Failed.
func (c *Client) Run(ctx context.Context) error {
	err := c.run(ctx)
	c.teardown()
	if err != nil {
		c.setState(StateFailed)
		return err
	}
	c.setState(StateEnded)
	return nil
}

func (c *Client) run(ctx context.Context) error {
	c.setState(StateConnectingDiscovery)
	svc, err := DialService(c.cfg.DiscoveryServer, c.cfg.DiscoveryPort, c.cfg.ShouldExit, c.logger)
	if err != nil {
		return err
	}
	c.svc = svc

	if err := c.createOrJoin(); err != nil {
		return err
	}

	for {
		if err := c.waitForPeer(); err != nil {
			return err
		}

		c.setState(StateNegotiating)
		winner, hostAddr, pending, err := c.negotiate(ctx)
		if err != nil {
			return err
		}

		var sessionErr error
		if winner == c.participantID {
			c.setState(StateStartingHost)
			sessionErr = c.runAsHost(pending)
		} else {
			c.setState(StateConnectingHost)
			sessionErr = c.runAsParticipant(winner, hostAddr, pending)
		}

		if c.shouldExit() {
			return nil
		}
		if sessionErr != nil {
			code, _ := acerr.CodeOf(sessionErr)
			if code == acerr.MigrationInProgress {
				c.setState(StateMigrating)
				continue
			}
			return sessionErr
		}
		return nil
	}
}

// createOrJoin resolves the session string (or creates a session when we
// have none) and registers us as a participant.
func (c *Client) createOrJoin() error {
	var pubKey []byte
	if c.cfg.Identity != nil {
		pubKey = c.cfg.Identity.Public
	}

	if c.cfg.SessionString == "" {
		c.setState(StateCreatingSession)
		start := time.Now()
		created, err := c.svc.CreateSession(c.participantID, pubKey, c.cfg.ShouldExit)
		if err != nil {
			return err
		}
		c.discoveryRTTMs = uint32(time.Since(start).Milliseconds())

		c.mu.Lock()
		c.sessionID = created.SessionUUID
		c.sessionString = created.SessionString
		c.mu.Unlock()
		c.logger.Info("session created", "session_string", created.SessionString)
		return nil
	}

	c.setState(StateJoiningSession)
	start := time.Now()
	info, err := c.svc.LookupSession(c.cfg.SessionString, c.cfg.ShouldExit)
	if err != nil {
		return err
	}
	c.discoveryRTTMs = uint32(time.Since(start).Milliseconds())

	if _, err := c.svc.JoinSession(info.SessionUUID, c.participantID, pubKey, c.cfg.ShouldExit); err != nil {
		return err
	}
	c.mu.Lock()
	c.sessionID = info.SessionUUID
	c.sessionString = c.cfg.SessionString
	c.mu.Unlock()
	c.logger.Info("session joined", "session_string", c.cfg.SessionString)
	return nil
}

// waitForPeer polls session_info until at least two participants are
// present.
func (c *Client) waitForPeer() error {
	c.setState(StateWaitingPeer)
	for {
		info, err := c.svc.SessionInfo(c.sessionID, c.cfg.ShouldExit)
		if err != nil {
			return err
		}
		if len(info.Participants) >= 2 {
			return nil
		}
		for i := 0; i < 10; i++ {
			if c.shouldExit() {
				return acerr.New(acerr.Timeout, "cancelled while waiting for a peer")
			}
			time.Sleep(100 * time.Millisecond)
		}
	}
}

// negotiate gathers our NAT quality, broadcasts it, collects the peers',
// and runs the deterministic election. It returns the winner, the host's
// advertised address if one arrived early, and any signals consumed
// while waiting that belong to a later phase.
func (c *Client) negotiate(ctx context.Context) (uuid.UUID, string, []Signal, error) {
	info, err := c.svc.SessionInfo(c.sessionID, c.cfg.ShouldExit)
	if err != nil {
		return uuid.Nil, "", nil, err
	}

	peers := make(map[uuid.UUID]bool)
	c.mu.Lock()
	for _, p := range info.Participants {
		c.peerIPs[p.ParticipantID] = p.IP
		if p.ParticipantID != c.participantID {
			peers[p.ParticipantID] = true
		}
	}
	c.mu.Unlock()
	if len(peers) == 0 {
		return uuid.Nil, "", nil, acerr.New(acerr.InvalidState, "no peers left to negotiate with")
	}

	us := c.gatherQuality(ctx)
	if err := c.broadcastQuality(us); err != nil {
		return uuid.Nil, "", nil, err
	}

	var pending []Signal
	collected := c.collectQualities(peers, &pending)
	if c.shouldExit() {
		return uuid.Nil, "", nil, acerr.New(acerr.Timeout, "negotiation cancelled")
	}

	peerQualities := make([]election.Quality, 0, len(collected))
	for _, q := range collected {
		peerQualities = append(peerQualities, q)
	}
	winner := uuid.UUID(election.Elect(us, peerQualities))
	c.logger.Info("host election complete",
		"winner", winner, "we_host", winner == c.participantID,
		"peers_heard", len(collected), "peers_declared", len(peers))

	var hostAddr string
	for _, sig := range pending {
		if sig.Type == packet.TypeNATQuality {
			if hr, err := decodeHostReady(sig.Msg.Body); err == nil && sig.Msg.FromID == winner {
				hostAddr = c.hostAddrFrom(winner, hr)
			}
		}
	}
	return winner, hostAddr, pending, nil
}

// runAsHost opens the media listener, advertises it, answers WebRTC
// offers from peers that cannot reach us directly, and serves the
// session until shutdown.
func (c *Client) runAsHost(pending []Signal) error {
	cfg := host.DefaultConfig()
	h := host.New(cfg, c.cfg.Mixer, ratelimit.NewMemoryLimiter(c.logger.Logger), c.cfg.Identity, c.logger.Logger)
	if err := h.Listen(listenAddr(c.cfg.ListenPort)); err != nil {
		return err
	}
	c.mu.Lock()
	c.hostRuntime = h
	c.mu.Unlock()

	errCh := make(chan error, 1)
	go func() { errCh <- h.Run() }()

	ready := encodeHostReady(hostReady{Address: "", Port: uint16(c.cfg.ListenPort)})
	if err := c.svc.SendSignal(packet.TypeNATQuality, signalTo(c.sessionID, c.participantID, uuid.Nil, ready)); err != nil {
		c.logger.Warn("host-ready broadcast failed", "error", err)
	}

	c.setState(StateActive)

	for _, sig := range pending {
		c.handleHostSignal(sig, h)
	}

	poll := time.NewTicker(100 * time.Millisecond)
	defer poll.Stop()
	for {
		select {
		case sig, ok := <-c.svc.Signals():
			if !ok {
				return acerr.New(acerr.EndOfStream, "discovery connection lost")
			}
			c.handleHostSignal(sig, h)
		case err := <-errCh:
			return err
		case <-poll.C:
			if c.shouldExit() {
				return nil
			}
		}
	}
}

// handleHostSignal answers WebRTC offers and feeds ICE candidates while
// we are hosting.
func (c *Client) handleHostSignal(sig Signal, h *host.Host) {
	switch sig.Type {
	case packet.TypeWebRTCSDP:
		if err := c.answerWebRTC(sig.Msg.FromID, sig.Msg.Body, h.Attach); err != nil {
			c.logger.Warn("answering webrtc offer failed", "from", sig.Msg.FromID, "error", err)
		}
	case packet.TypeWebRTCICE:
		c.pcsMu.Lock()
		pc := c.answerPCs[sig.Msg.FromID]
		c.pcsMu.Unlock()
		if pc != nil {
			addRemoteCandidate(pc, sig.Msg.Body, c.logger)
		}
	}
}

// runAsParticipant connects to the winner -- direct TCP first, WebRTC
// DataChannel fallback -- and runs the media session until the host is
// lost (returning MigrationInProgress) or we are told to exit.
func (c *Client) runAsParticipant(hostID uuid.UUID, hostAddr string, pending []Signal) error {
	if hostAddr == "" {
		addr, err := c.awaitHostReady(hostID, pending)
		if err != nil {
			return err
		}
		hostAddr = addr
	}

	conn := c.dialHostDirect(hostAddr)
	if conn == nil {
		c.logger.Info("direct connect failed, falling back to webrtc", "host", hostID)
		var err error
		conn, err = c.offerWebRTC(hostID)
		if err != nil {
			return err
		}
	}

	c.mu.Lock()
	c.mediaConn = conn
	c.mu.Unlock()

	secure, err := c.mediaHandshake(conn)
	if err != nil {
		conn.Close()
		return err
	}

	c.setState(StateActive)
	err = c.mediaLoop(conn, secure)
	conn.Close()
	if err != nil && !c.shouldExit() {
		c.logger.Info("host lost, migrating", "error", err)
		return acerr.Wrap(acerr.MigrationInProgress, "host connection lost", err)
	}
	return nil
}

// awaitHostReady waits for the winner's listener advertisement.
func (c *Client) awaitHostReady(hostID uuid.UUID, pending []Signal) (string, error) {
	for _, sig := range pending {
		if sig.Type == packet.TypeNATQuality && sig.Msg.FromID == hostID {
			if hr, err := decodeHostReady(sig.Msg.Body); err == nil {
				return c.hostAddrFrom(hostID, hr), nil
			}
		}
	}

	deadline := time.NewTimer(c.cfg.NegotiationDeadline)
	defer deadline.Stop()
	poll := time.NewTicker(100 * time.Millisecond)
	defer poll.Stop()

	for {
		select {
		case sig, ok := <-c.svc.Signals():
			if !ok {
				return "", acerr.New(acerr.EndOfStream, "discovery connection lost")
			}
			if sig.Type == packet.TypeNATQuality && sig.Msg.FromID == hostID {
				if hr, err := decodeHostReady(sig.Msg.Body); err == nil {
					return c.hostAddrFrom(hostID, hr), nil
				}
			}
		case <-deadline.C:
			return "", acerr.New(acerr.Timeout, "host never advertised its listener")
		case <-poll.C:
			if c.shouldExit() {
				return "", acerr.New(acerr.Timeout, "cancelled waiting for host")
			}
		}
	}
}

// dialHostDirect attempts the direct TCP path; nil means fall back.
func (c *Client) dialHostDirect(hostAddr string) transport.Conn {
	hostName, port, err := splitHostPort(hostAddr)
	if err != nil {
		return nil
	}
	conn, err := transport.DialParallel(hostName, port, c.cfg.DirectConnectTimeout, c.cfg.ShouldExit, transport.DefaultKeepalive, c.logger.Logger)
	if err != nil {
		return nil
	}
	return conn
}

// mediaHandshake runs the initiator handshake on the media transport and
// declares protocol version and capabilities, in the order the wire
// protocol requires.
func (c *Client) mediaHandshake(conn transport.Conn) (*crypto.SecureStream, error) {
	secure, err := initiatorHandshake(conn)
	if err != nil {
		return nil, err
	}

	settings, err := packet.DefaultSettings().Encode()
	if err != nil {
		return nil, err
	}

	for _, msg := range []struct {
		typ     packet.Type
		payload []byte
	}{
		{packet.TypeProtocolVersion, []byte{0, 1}},
		{packet.TypeClientCapabilities, settings},
		{packet.TypeClientJoin, nil},
	} {
		sealed, err := secure.Seal(msg.payload)
		if err != nil {
			return nil, err
		}
		encoded, err := packet.EncodeNext(msg.typ, sealed)
		if err != nil {
			return nil, err
		}
		conn.SetWriteDeadline(time.Now().Add(requestTimeout))
		if _, err := conn.Write(encoded); err != nil {
			return nil, acerr.Wrap(acerr.ConnectionReset, "send join", err)
		}
	}
	return secure, nil
}

// mediaLoop services the media connection: answer pings, track frames.
// It returns when the connection drops (triggering migration) or the
// exit predicate fires.
func (c *Client) mediaLoop(conn transport.Conn, secure *crypto.SecureStream) error {
	for {
		if c.shouldExit() {
			return nil
		}
		conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		pkt, err := packet.DecodeStream(conn)
		if err != nil {
			code, _ := acerr.CodeOf(err)
			if code == acerr.Timeout {
				continue
			}
			return err
		}

		// The host seals every post-handshake packet, so each one is opened
		// to keep the receive nonce counter in step.
		if _, err := secure.Open(pkt.Payload); err != nil {
			return err
		}

		switch pkt.Type {
		case packet.TypePing:
			sealed, err := secure.Seal(nil)
			if err != nil {
				return err
			}
			encoded, err := packet.EncodeNext(packet.TypePong, sealed)
			if err != nil {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(requestTimeout))
			if _, err := conn.Write(encoded); err != nil {
				return acerr.Wrap(acerr.ConnectionReset, "send pong", err)
			}
		case packet.TypeImageFrame, packet.TypeAudioBatch:
			// Rendering and playback live outside the session fabric;
			// the frames are decrypted above and dropped here.
		}
	}
}

func (c *Client) teardown() {
	c.pcsMu.Lock()
	for _, pc := range c.answerPCs {
		pc.Close()
	}
	c.answerPCs = make(map[uuid.UUID]*webrtc.PeerConnection)
	c.pcsMu.Unlock()

	c.mu.Lock()
	h := c.hostRuntime
	conn := c.mediaConn
	c.hostRuntime = nil
	c.mediaConn = nil
	c.mu.Unlock()

	if h != nil {
		h.Stop()
	}
	if conn != nil {
		conn.Close()
	}
	if c.svc != nil {
		c.svc.Close()
	}
}
