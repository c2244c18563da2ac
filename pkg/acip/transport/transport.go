// Package transport unifies TCP, WebSocket, and WebRTC DataChannel
// connections behind one Conn interface so the framing codec and crypto
// handshake never need to know which one they're riding on.
package transport

import (
	"io"
	"time"
)

// ShouldExit is a caller-provided cancellation predicate. Operations that
// take one (DialParallel here, and callers in election/discoveryclient,
// which reuse this type) poll it roughly every 100ms and return promptly
// once it reports true; DialTCP, DialWebSocket and Conn reads and writes
// take no predicate and are bounded only by their timeouts and deadlines.
type ShouldExit func() bool

// never is the default predicate used when a caller passes nil.
func never() bool { return false }

func orNever(p ShouldExit) ShouldExit {
	if p == nil {
		return never
	}
	return p
}

// Kind identifies which concrete transport a Conn rides on.
type Kind string

const (
	KindTCP     Kind = "tcp"
	KindWS      Kind = "websocket"
	KindWebRTC  Kind = "webrtc"
)

// Conn is the capability set every transport variant implements: a
// deadline-aware io.ReadWriteCloser plus peer identity and liveness.
// decode_stream-style callers pass a Conn directly to packet.DecodeStream
// after arranging a read deadline through SetReadDeadline.
type Conn interface {
	io.Reader
	io.Writer
	io.Closer

	// SetReadDeadline arms the next Read's timeout, mirroring net.Conn.
	SetReadDeadline(t time.Time) error
	// SetWriteDeadline arms the next Write's timeout, mirroring net.Conn.
	SetWriteDeadline(t time.Time) error

	// Kind reports which concrete transport this Conn rides on.
	Kind() Kind
	// PeerID is an implementation-defined stable identifier for logging
	// and dedup (remote address for TCP/WS, DataChannel label for WebRTC).
	PeerID() string
	// IsAlive reports whether the connection believes itself usable. It
	// is a liveness hint, not a guarantee -- a send can still fail right
	// after IsAlive returns true.
	IsAlive() bool
}
