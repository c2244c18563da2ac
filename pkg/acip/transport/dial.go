package transport

import (
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/zfogg/ascii-chat/pkg/acip/acerr"
)

// DialParallel resolves host, launches one TCP connect attempt per
// address family (IPv4 and IPv6) in parallel, and returns whichever
// connects first -- closing the loser. Each attempt observes
// perAttemptTimeout; the overall call also polls shouldExit roughly
// every 100ms and gives up early if it reports true.
func DialParallel(host string, port int, perAttemptTimeout time.Duration, shouldExit ShouldExit, cfg KeepaliveConfig, logger *slog.Logger) (*TCPConn, error) {
	shouldExit = orNever(shouldExit)

	ips, err := net.LookupIP(host)
	if err != nil {
		return nil, acerr.Wrap(acerr.ConnectionRefused, "resolve "+host, err)
	}

	var v4, v6 net.IP
	for _, ip := range ips {
		if ip4 := ip.To4(); ip4 != nil {
			if v4 == nil {
				v4 = ip4
			}
		} else if v6 == nil {
			v6 = ip
		}
	}
	if v4 == nil && v6 == nil {
		return nil, acerr.New(acerr.ConnectionRefused, "no addresses resolved for "+host)
	}

	type attemptResult struct {
		conn net.Conn
		err  error
	}

	attempts := 0
	results := make(chan attemptResult, 2)
	dialOne := func(ip net.IP) {
		addr := net.JoinHostPort(ip.String(), strconv.Itoa(port))
		conn, err := net.DialTimeout("tcp", addr, perAttemptTimeout)
		results <- attemptResult{conn: conn, err: err}
	}

	if v4 != nil {
		attempts++
		go dialOne(v4)
	}
	if v6 != nil {
		attempts++
		go dialOne(v6)
	}

	poll := time.NewTicker(100 * time.Millisecond)
	defer poll.Stop()

	var lastErr error
	received := 0
	for received < attempts {
		select {
		case res := <-results:
			received++
			if res.err == nil {
				// Drain and close any later winner in the background.
				go func(remaining int) {
					for i := 0; i < remaining; i++ {
						if late := <-results; late.conn != nil {
							late.conn.Close()
						}
					}
				}(attempts - received)
				return WrapTCP(res.conn, cfg, logger), nil
			}
			lastErr = res.err
			if logger != nil {
				logger.Debug("parallel dial attempt failed", "error", res.err)
			}
		case <-poll.C:
			if shouldExit() {
				return nil, acerr.New(acerr.Timeout, "dial cancelled by shouldExit predicate")
			}
		}
	}

	if lastErr == nil {
		lastErr = acerr.New(acerr.ConnectionRefused, "no dial attempts succeeded")
	}
	return nil, acerr.Wrap(acerr.ConnectionRefused, "parallel dial "+host, lastErr)
}
