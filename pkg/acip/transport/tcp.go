package transport

import (
	"log/slog"
	"net"
	"time"

	"github.com/zfogg/ascii-chat/pkg/acip/acerr"
)

// TCPConn wraps a net.Conn (always a *net.TCPConn in practice) as a Conn,
// with keepalive enabled and tuned.
type TCPConn struct {
	conn   net.Conn
	logger *slog.Logger
}

// KeepaliveConfig tunes the platform-specific idle/interval/count knobs
// exposed by net.TCPConn.SetKeepAliveConfig (Go 1.23+).
type KeepaliveConfig struct {
	Idle     time.Duration
	Interval time.Duration
	Count    int
}

// DefaultKeepalive matches common server defaults: start probing after
// 30s idle, probe every 10s, give up after 3 misses.
var DefaultKeepalive = KeepaliveConfig{Idle: 30 * time.Second, Interval: 10 * time.Second, Count: 3}

// WrapTCP adapts an already-established net.Conn into a Conn, enabling
// keepalive with cfg when the underlying conn supports it.
func WrapTCP(conn net.Conn, cfg KeepaliveConfig, logger *slog.Logger) *TCPConn {
	if tcp, ok := conn.(*net.TCPConn); ok {
		if err := tcp.SetKeepAliveConfig(net.KeepAliveConfig{
			Enable:   true,
			Idle:     cfg.Idle,
			Interval: cfg.Interval,
			Count:    cfg.Count,
		}); err != nil && logger != nil {
			logger.Debug("tcp keepalive tuning unavailable on this platform", "error", err)
		}
	}
	return &TCPConn{conn: conn, logger: logger}
}

func (t *TCPConn) Read(p []byte) (int, error)  { return t.conn.Read(p) }
func (t *TCPConn) Write(p []byte) (int, error) { return t.conn.Write(p) }

func (t *TCPConn) Close() error { return t.conn.Close() }

func (t *TCPConn) SetReadDeadline(d time.Time) error  { return t.conn.SetReadDeadline(d) }
func (t *TCPConn) SetWriteDeadline(d time.Time) error { return t.conn.SetWriteDeadline(d) }

func (t *TCPConn) Kind() Kind { return KindTCP }

func (t *TCPConn) PeerID() string { return t.conn.RemoteAddr().String() }

func (t *TCPConn) IsAlive() bool {
	// A zero-length, zero-deadline write probe isn't reliable across
	// platforms; treat "not yet closed" as alive and let the next
	// Send/Recv surface a real error.
	return t.conn != nil
}

// DialTCP connects to address with timeout, returning a Conn with
// keepalive already configured.
func DialTCP(address string, timeout time.Duration, cfg KeepaliveConfig, logger *slog.Logger) (*TCPConn, error) {
	conn, err := net.DialTimeout("tcp", address, timeout)
	if err != nil {
		return nil, acerr.Wrap(acerr.ConnectionRefused, "dial tcp "+address, err)
	}
	return WrapTCP(conn, cfg, logger), nil
}
