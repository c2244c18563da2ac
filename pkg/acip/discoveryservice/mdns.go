package discoveryservice

import (
	"fmt"
	"log/slog"
	"net"

	"golang.org/x/net/ipv4"

	"github.com/pion/mdns/v2"
)

// serviceLocalName is the mDNS name the discovery-service answers queries
// for. pion/mdns resolves single names rather than full DNS-SD SRV
// records, so this is a thin "can a LAN peer find me by name" hook, not
// a service-type broadcast.
const serviceLocalName = "ascii-chat-discovery-service.local."

type mdnsAdvertiser struct {
	conn *mdns.Conn
}

// startMDNSAdvertiser joins the mDNS multicast group and answers queries
// for serviceLocalName with this host's address.
func startMDNSAdvertiser(logger *slog.Logger) (*mdnsAdvertiser, error) {
	addr, err := net.ResolveUDPAddr("udp4", mdns.DefaultAddressIPv4)
	if err != nil {
		return nil, fmt.Errorf("resolve mdns multicast address: %w", err)
	}
	socket, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("listen mdns multicast socket: %w", err)
	}

	conn, err := mdns.Server(ipv4.NewPacketConn(socket), nil, &mdns.Config{
		LocalNames: []string{serviceLocalName},
	})
	if err != nil {
		socket.Close()
		return nil, fmt.Errorf("start mdns server: %w", err)
	}

	if logger != nil {
		logger.Debug("mdns advertisement started", "name", serviceLocalName)
	}
	return &mdnsAdvertiser{conn: conn}, nil
}

// Close tears down the mDNS responder.
func (a *mdnsAdvertiser) Close() error {
	if a == nil || a.conn == nil {
		return nil
	}
	return a.conn.Close()
}
