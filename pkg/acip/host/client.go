package host

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/zfogg/ascii-chat/pkg/acip/crypto"
	"github.com/zfogg/ascii-chat/pkg/acip/packet"
	"github.com/zfogg/ascii-chat/pkg/acip/transport"
)

// Capabilities is the set of declared rendering capabilities a client
// reports at join.
type Capabilities struct {
	TerminalWidth  uint32
	TerminalHeight uint32
	ColorMode      packet.ColorMode
	RenderMode     packet.RenderMode
	Charset        string
}

// Client is the star host's exclusive record for one connected peer. It
// is created on accept and removed on disconnect/error/kick; the short
// id is returned to the back of the pool's ring on removal for later reuse.
type Client struct {
	ID      uuid.UUID
	ShortID uint32

	Conn   transport.Conn
	Secure *crypto.SecureStream
	Queue  *SendQueue

	// pacer smooths this client's outbound media writes; nil disables
	// pacing. Set once by the host before the send loop starts.
	pacer *rate.Limiter

	state *stateMachine

	mu           sync.RWMutex
	capabilities Capabilities
	lastAudioBuf []byte

	lastSeen   atomic.Int64 // unix nanos
	recvSeq    uint32
	offenses   atomic.Int32 // rate-limit violations within the current minute
	missedPong atomic.Int32
}

// NewClient wraps a freshly accepted connection as a Client record.
func NewClient(id uuid.UUID, shortID uint32, conn transport.Conn) *Client {
	c := &Client{
		ID:      id,
		ShortID: shortID,
		Conn:    conn,
		Queue:   NewSendQueue(nil),
		state:   newStateMachine(),
	}
	c.Touch()
	return c
}

// State returns the client's current lifecycle state.
func (c *Client) State() State { return c.state.Current() }

// Transition attempts to move the client to next; see stateMachine.Transition.
func (c *Client) Transition(next State) bool { return c.state.Transition(next) }

// Touch records current activity for the liveness check.
func (c *Client) Touch() { c.lastSeen.Store(time.Now().UnixNano()) }

// LastSeen returns the last Touch time.
func (c *Client) LastSeen() time.Time { return time.Unix(0, c.lastSeen.Load()) }

// SetCapabilities stores declared rendering capabilities from a
// CLIENT_CAPABILITIES packet.
func (c *Client) SetCapabilities(caps Capabilities) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.capabilities = caps
}

// CapabilitiesSnapshot returns a copy of the declared capabilities.
func (c *Client) CapabilitiesSnapshot() Capabilities {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.capabilities
}

// CheckSequence enforces per-client sequence monotonicity and updates the
// tracked high-water sequence. One high-water mark is shared by every
// packet type the client sends; sequences are not tracked per
// packet-type class.
func (c *Client) CheckSequence(seq uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.recvSeq != 0 && seq <= c.recvSeq {
		return false
	}
	c.recvSeq = seq
	return true
}

// RecordOffense increments the per-minute rate-limit offense counter and
// reports the new count; the host disconnects after the third offense
// within a minute.
func (c *Client) RecordOffense() int32 { return c.offenses.Add(1) }

// ResetOffenses clears the offense counter, called by the host's
// per-minute offense-window ticker.
func (c *Client) ResetOffenses() { c.offenses.Store(0) }

// RecordMissedPong increments the missed-pong counter; three consecutive
// misses trigger disconnection.
func (c *Client) RecordMissedPong() int32 { return c.missedPong.Add(1) }

// ResetMissedPong clears the missed-pong counter on any received PONG.
func (c *Client) ResetMissedPong() { c.missedPong.Store(0) }

// lastAudio returns the most recent AUDIO_BATCH payload this client
// contributed, for other destinations' mixes.
func (c *Client) lastAudio() []byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastAudioBuf
}

// setLastAudio records sender's latest audio contribution.
func (c *Client) setLastAudio(payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastAudioBuf = payload
}
