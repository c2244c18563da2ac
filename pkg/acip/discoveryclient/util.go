package discoveryclient

import (
	"net"
	"strconv"

	"github.com/google/uuid"

	"github.com/zfogg/ascii-chat/pkg/acip/acerr"
	"github.com/zfogg/ascii-chat/pkg/acip/discoveryservice"
)

func signalTo(session, from, to uuid.UUID, body []byte) discoveryservice.SignalMessage {
	return discoveryservice.SignalMessage{SessionUUID: session, FromID: from, ToID: to, Body: body}
}

func listenAddr(port int) string {
	return net.JoinHostPort("", strconv.Itoa(port))
}

func splitHostPort(addr string) (string, int, error) {
	hostName, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, acerr.Wrap(acerr.InvalidParam, "parse host address", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, acerr.Wrap(acerr.InvalidParam, "parse host port", err)
	}
	return hostName, port, nil
}

// hostAddrFrom resolves the elected host's dialable address: the address
// it advertised, or -- when it advertised none -- the IP the
// discovery-service observed for it at join time.
func (c *Client) hostAddrFrom(hostID uuid.UUID, hr hostReady) string {
	address := hr.Address
	if address == "" {
		c.mu.Lock()
		address = c.peerIPs[hostID]
		c.mu.Unlock()
	}
	if address == "" {
		return ""
	}
	return net.JoinHostPort(address, strconv.Itoa(int(hr.Port)))
}
