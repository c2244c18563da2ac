// Package host implements the star-topology session host:
// a single accept loop, per-client receive/send tasks, media fan-out
// through an external Mixer, per-client rate limiting, and liveness
// pings, running as the session creator (server mode) or the elected
// host (discovery mode).
package host

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zfogg/ascii-chat/pkg/acip/acerr"
	"github.com/zfogg/ascii-chat/pkg/acip/crypto"
	"github.com/zfogg/ascii-chat/pkg/acip/ratelimit"
	"github.com/zfogg/ascii-chat/pkg/acip/transport"
)

// Config tunes a Host's lifecycle parameters.
type Config struct {
	PingInterval        time.Duration
	MaxMissedPongs       int32
	MaxOffensesPerMinute int32
	BackpressureTimeout  time.Duration
	RequireServerIdentity bool
	RequireClientIdentity bool

	// RequireEncryption rejects clients whose first packet is not a
	// HANDSHAKE_HELLO. When false, a client may skip the handshake and
	// speak plaintext (the --no-encrypt client mode).
	RequireEncryption bool

	// MediaPacerRate/Burst smooth per-client outbound media bursts so a
	// fan-out of large frames doesn't starve control traffic. Zero rate
	// disables pacing.
	MediaPacerRate  float64
	MediaPacerBurst int
}

// DefaultConfig carries the protocol's liveness and backpressure numbers.
func DefaultConfig() Config {
	return Config{
		PingInterval:         5 * time.Second,
		MaxMissedPongs:       3,
		MaxOffensesPerMinute: 3,
		BackpressureTimeout:  2 * time.Second,
		RequireEncryption:    true,
		MediaPacerRate:       240,
		MediaPacerBurst:      32,
	}
}

// Host runs the accept loop and per-client tasks for one session.
type Host struct {
	logger   *slog.Logger
	cfg      Config
	identity *crypto.Identity
	mixer    Mixer
	limiter  ratelimit.Limiter

	registry *ClientRegistry
	shortIDs *ShortIDPool

	listener net.Listener

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	stats Stats
}

// Stats is a point-in-time snapshot of host activity, exposed for tests
// and operational tooling (not a public HTTP API -- out of scope).
type Stats struct {
	ClientsJoined   uint64
	ClientsRemoved  uint64
	FramesRelayed   uint64
	OffenseKicks    uint64
	MissedPongKicks uint64
}

// New builds a Host. mixer and limiter are required external
// collaborators; identity may be nil if neither RequireServerIdentity nor
// RequireClientIdentity is set.
func New(cfg Config, mixer Mixer, limiter ratelimit.Limiter, identity *crypto.Identity, logger *slog.Logger) *Host {
	ctx, cancel := context.WithCancel(context.Background())
	return &Host{
		logger:   logger,
		cfg:      cfg,
		identity: identity,
		mixer:    mixer,
		limiter:  limiter,
		registry: NewClientRegistry(),
		shortIDs: NewShortIDPool(),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Listen opens the accept loop's listening socket on address.
func (h *Host) Listen(address string) error {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return acerr.Wrap(acerr.ConnectionRefused, "listen "+address, err)
	}
	h.listener = ln
	return nil
}

// Addr reports the listener's bound address, useful when address used
// port 0.
func (h *Host) Addr() net.Addr {
	if h.listener == nil {
		return nil
	}
	return h.listener.Addr()
}

// Run starts the accept loop and liveness ticker; it blocks until Stop
// is called or the listener errors.
func (h *Host) Run() error {
	if h.listener == nil {
		return acerr.New(acerr.InvalidState, "Listen must be called before Run")
	}

	h.wg.Add(1)
	go h.livenessLoop()

	return h.acceptLoop(h.listener)
}

func (h *Host) acceptLoop(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-h.ctx.Done():
				return nil
			default:
				return acerr.Wrap(acerr.ConnectionReset, "accept loop", err)
			}
		}

		tcpConn := transport.WrapTCP(conn, transport.DefaultKeepalive, h.logger)
		h.wg.Add(1)
		go h.handleConnection(tcpConn)
	}
}

// ServeOn runs a second accept loop on an already-open listener, used by
// the server binary's optional IPv6 listener. The listener is closed
// when the Host stops.
func (h *Host) ServeOn(ln net.Listener) error {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		<-h.ctx.Done()
		ln.Close()
	}()
	return h.acceptLoop(ln)
}

// Attach hands an externally established connection (a WebSocket upgrade
// or a WebRTC DataChannel negotiated through the signaling relay) to the
// same per-client pipeline the accept loop feeds.
func (h *Host) Attach(conn transport.Conn) {
	h.wg.Add(1)
	go h.handleConnection(conn)
}

// Stop cancels every in-flight client task and closes the listener,
// releasing all resources through each client's deterministic teardown
// path.
func (h *Host) Stop() {
	h.cancel()
	if h.listener != nil {
		h.listener.Close()
	}
	h.registry.Each(uuid.Nil, func(c *Client) {
		c.Conn.Close()
	})
	h.wg.Wait()
}

// Snapshot returns a copy of the host's running statistics.
func (h *Host) Snapshot() Stats { return h.stats }

// Registry exposes the client registry for tests and signaling glue.
func (h *Host) Registry() *ClientRegistry { return h.registry }
