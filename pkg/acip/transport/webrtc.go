package transport

import (
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/zfogg/ascii-chat/pkg/acip/acerr"
)

// WebRTCConn adapts a *webrtc.DataChannel to Conn. The channel's open
// state is cached locally (rather than queried live) so that swapping
// OnMessage/OnOpen callbacks after the channel is already open never
// races the pion internal state machine.
type WebRTCConn struct {
	pc     *webrtc.PeerConnection
	dc     *webrtc.DataChannel
	logger *slog.Logger

	open   atomic.Bool
	closed atomic.Bool

	pipeR *io.PipeReader
	pipeW *io.PipeWriter

	mu sync.Mutex
}

// WrapDataChannel attaches Conn behavior to an established DataChannel.
// The caller is expected to have already negotiated the PeerConnection
// (SDP/ICE exchange happens through the discovery-service's signaling
// relay, not this package).
func WrapDataChannel(pc *webrtc.PeerConnection, dc *webrtc.DataChannel, logger *slog.Logger) *WebRTCConn {
	pr, pw := io.Pipe()
	w := &WebRTCConn{pc: pc, dc: dc, logger: logger, pipeR: pr, pipeW: pw}

	dc.OnOpen(func() {
		w.open.Store(true)
		if logger != nil {
			logger.Debug("webrtc data channel open", "label", dc.Label())
		}
	})
	dc.OnClose(func() {
		w.open.Store(false)
		w.pipeW.CloseWithError(acerr.New(acerr.EndOfStream, "data channel closed"))
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if w.closed.Load() {
			return
		}
		if _, err := w.pipeW.Write(msg.Data); err != nil && logger != nil {
			logger.Debug("webrtc message dropped, reader gone", "error", err)
		}
	})

	if dc.ReadyState() == webrtc.DataChannelStateOpen {
		w.open.Store(true)
	}

	return w
}

func (w *WebRTCConn) Read(p []byte) (int, error) { return w.pipeR.Read(p) }

// Write sends one DataChannel message per call; the WebRTC transport
// is message-oriented, so callers should pass one already-framed
// packet per Write rather than arbitrary stream chunks.
func (w *WebRTCConn) Write(p []byte) (int, error) {
	if !w.open.Load() {
		return 0, acerr.New(acerr.NotOpen, "data channel not open")
	}
	if err := w.dc.Send(p); err != nil {
		return 0, acerr.Wrap(acerr.ConnectionReset, "data channel send", err)
	}
	return len(p), nil
}

func (w *WebRTCConn) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed.Swap(true) {
		return nil
	}
	w.open.Store(false)
	w.pipeR.Close()
	w.pipeW.Close()
	if err := w.dc.Close(); err != nil {
		return acerr.Wrap(acerr.ConnectionReset, "close data channel", err)
	}
	return nil
}

func (w *WebRTCConn) SetReadDeadline(t time.Time) error  { return nil }
func (w *WebRTCConn) SetWriteDeadline(t time.Time) error { return nil }

func (w *WebRTCConn) Kind() Kind { return KindWebRTC }

func (w *WebRTCConn) PeerID() string { return w.dc.Label() }

func (w *WebRTCConn) IsAlive() bool { return w.open.Load() && !w.closed.Load() }
