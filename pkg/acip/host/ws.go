package host

import (
	"net"
	"net/http"

	"github.com/zfogg/ascii-chat/pkg/acip/acerr"
	"github.com/zfogg/ascii-chat/pkg/acip/transport"
)

// ServeWebSocket runs an HTTP listener that upgrades connections to the
// WebSocket transport and attaches them to the host's client pipeline,
// so a session can mix raw-TCP and WebSocket participants. It blocks
// until the Host stops.
func (h *Host) ServeWebSocket(address string) error {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return acerr.Wrap(acerr.ConnectionRefused, "listen websocket "+address, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		conn, err := transport.UpgradeWebSocket(w, r, h.logger)
		if err != nil {
			h.logger.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
			return
		}
		h.Attach(conn)
	})

	server := &http.Server{Handler: mux}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		<-h.ctx.Done()
		server.Close()
	}()

	h.logger.Info("websocket listener started", "address", ln.Addr().String())
	if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
		select {
		case <-h.ctx.Done():
			return nil
		default:
			return acerr.Wrap(acerr.ConnectionReset, "websocket serve", err)
		}
	}
	return nil
}
