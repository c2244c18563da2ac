package transport

import (
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zfogg/ascii-chat/pkg/acip/acerr"
)

// reassemblyTimeout bounds how long a fragmented WebSocket message may
// take to complete before the partial buffer is discarded.
const reassemblyTimeout = 2 * time.Second

const maxMessageSize = packetMaxSize

// packetMaxSize mirrors packet.MaxPayloadSize + packet.HeaderSize without
// importing the packet package, to avoid a dependency cycle (packet
// never needs to know about transports).
const packetMaxSize = 16*1024*1024 + 20

// wsUpgrader disables permessage-deflate: the extension has a known
// interop regression, so it stays off.
var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:    4096,
	WriteBufferSize:   4096,
	EnableCompression: false,
	CheckOrigin:       func(r *http.Request) bool { return true },
}

// WSConn adapts a *websocket.Conn to Conn. Reassembly across fragments is
// handled internally by gorilla/websocket; this wrapper only bounds how
// long a single logical message may take to arrive.
type WSConn struct {
	conn   *websocket.Conn
	logger *slog.Logger

	mu      sync.Mutex
	closing atomic.Bool

	pipeR *io.PipeReader
	pipeW *io.PipeWriter
}

// UpgradeWebSocket upgrades an HTTP request to a WebSocket connection and
// wraps it as a Conn.
func UpgradeWebSocket(w http.ResponseWriter, r *http.Request, logger *slog.Logger) (*WSConn, error) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, acerr.Wrap(acerr.HandshakeFailed, "upgrade websocket", err)
	}
	conn.SetCompressionLevel(0)
	return newWSConn(conn, logger), nil
}

// DialWebSocket establishes an outbound WebSocket connection to url.
func DialWebSocket(url string, timeout time.Duration, logger *slog.Logger) (*WSConn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout:  timeout,
		EnableCompression: false,
	}
	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		return nil, acerr.Wrap(acerr.ConnectionRefused, "dial websocket "+url, err)
	}
	return newWSConn(conn, logger), nil
}

func newWSConn(conn *websocket.Conn, logger *slog.Logger) *WSConn {
	pr, pw := io.Pipe()
	w := &WSConn{conn: conn, logger: logger, pipeR: pr, pipeW: pw}
	go w.readLoop()
	return w
}

// readLoop pumps whole WebSocket messages into the internal pipe so Read
// presents a plain byte stream to packet.DecodeStream, same as TCP does.
func (w *WSConn) readLoop() {
	for {
		w.mu.Lock()
		if w.closing.Load() {
			w.mu.Unlock()
			return
		}
		w.mu.Unlock()

		// Wait for the next message without a deadline, then bound only
		// the reassembly of its remaining fragments.
		w.conn.SetReadDeadline(time.Time{})
		msgType, r, err := w.conn.NextReader()
		var data []byte
		if err == nil {
			w.conn.SetReadDeadline(time.Now().Add(reassemblyTimeout))
			data, err = io.ReadAll(r)
		}

		// Re-check under lock before acting on the result: cleanup may
		// have raced us between the blocking read and here.
		w.mu.Lock()
		if w.closing.Load() {
			w.mu.Unlock()
			return
		}
		w.mu.Unlock()

		if err != nil {
			w.pipeW.CloseWithError(acerr.Wrap(acerr.Timeout, "websocket read", err))
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		if len(data) > maxMessageSize {
			if w.logger != nil {
				w.logger.Debug("dropping oversize websocket message", "size", len(data))
			}
			continue
		}
		if _, err := w.pipeW.Write(data); err != nil {
			return
		}
	}
}

func (w *WSConn) Read(p []byte) (int, error) { return w.pipeR.Read(p) }

func (w *WSConn) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closing.Load() {
		return 0, acerr.New(acerr.NotOpen, "websocket is closing")
	}
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, acerr.Wrap(acerr.ConnectionReset, "websocket write", err)
	}
	return len(p), nil
}

func (w *WSConn) Close() error {
	w.mu.Lock()
	alreadyClosing := w.closing.Swap(true)
	w.mu.Unlock()
	if alreadyClosing {
		return nil
	}

	w.pipeR.Close()
	w.pipeW.Close()
	return w.conn.Close()
}

func (w *WSConn) SetReadDeadline(t time.Time) error  { return nil } // handled internally by readLoop
func (w *WSConn) SetWriteDeadline(t time.Time) error { return w.conn.SetWriteDeadline(t) }

func (w *WSConn) Kind() Kind { return KindWS }

func (w *WSConn) PeerID() string { return w.conn.RemoteAddr().String() }

func (w *WSConn) IsAlive() bool { return !w.closing.Load() }
