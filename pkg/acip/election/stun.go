package election

import (
	"net"
	"time"

	"github.com/pion/stun/v3"

	"github.com/zfogg/ascii-chat/pkg/acip/acerr"
)

// StunProbeResult is what a single STUN binding request reveals about
// this host's reflexive address and round-trip latency.
type StunProbeResult struct {
	PublicAddress string
	PublicPort    uint16
	LatencyMs     uint32
}

// ProbeSTUN sends one STUN binding request to server ("host:port") over
// UDP and reports the XOR-mapped address plus round-trip latency, feeding
// stun_latency_ms and public address/port in the NAT-quality record.
func ProbeSTUN(server string, timeout time.Duration) (*StunProbeResult, error) {
	conn, err := net.DialTimeout("udp4", server, timeout)
	if err != nil {
		return nil, acerr.Wrap(acerr.ConnectionRefused, "dial stun server "+server, err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(timeout))

	client, err := stun.NewClient(conn)
	if err != nil {
		return nil, acerr.Wrap(acerr.HandshakeFailed, "create stun client", err)
	}
	defer client.Close()

	message := stun.MustBuild(stun.TransactionID, stun.BindingRequest)

	var result StunProbeResult
	var probeErr error
	start := time.Now()

	done := make(chan struct{})
	err = client.Do(message, func(ev stun.Event) {
		defer close(done)
		if ev.Error != nil {
			probeErr = ev.Error
			return
		}
		var xorAddr stun.XORMappedAddress
		if err := xorAddr.GetFrom(ev.Message); err != nil {
			probeErr = err
			return
		}
		result.PublicAddress = xorAddr.IP.String()
		result.PublicPort = uint16(xorAddr.Port)
	})
	if err != nil {
		return nil, acerr.Wrap(acerr.Timeout, "stun binding request", err)
	}

	select {
	case <-done:
	case <-time.After(timeout):
		return nil, acerr.New(acerr.Timeout, "stun binding response timed out")
	}
	if probeErr != nil {
		return nil, acerr.Wrap(acerr.Timeout, "stun binding response", probeErr)
	}

	result.LatencyMs = uint32(time.Since(start).Milliseconds())
	return &result, nil
}
