package discoveryclient

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/zfogg/ascii-chat/pkg/acip/acerr"
	"github.com/zfogg/ascii-chat/pkg/acip/discoveryservice"
	"github.com/zfogg/ascii-chat/pkg/acip/logx"
)

func testLogger(t *testing.T) *logx.Logger {
	t.Helper()
	cfg := logx.NewConfig()
	cfg.Level = logx.LevelError
	log, err := logx.New(cfg)
	require.NoError(t, err)
	return log
}

func TestHostReadyRoundTrip(t *testing.T) {
	hr := hostReady{Address: "203.0.113.9", Port: 27225}
	decoded, err := decodeHostReady(encodeHostReady(hr))
	require.NoError(t, err)
	require.Equal(t, hr, decoded)
}

func TestHostReadyRejectsQualityBody(t *testing.T) {
	_, err := decodeHostReady([]byte{natBodyQuality, 0, 0})
	require.Error(t, err)
}

func TestHostReadyEmptyAddress(t *testing.T) {
	decoded, err := decodeHostReady(encodeHostReady(hostReady{Port: 9000}))
	require.NoError(t, err)
	require.Empty(t, decoded.Address)
	require.Equal(t, uint16(9000), decoded.Port)
}

func TestDecodeErrorReplyCarriesCode(t *testing.T) {
	msg := discoveryservice.ACIPErrorMessage{
		Code:    uint16(acerr.RateLimited),
		Message: "session_create rate limit exceeded",
	}
	err := decodeErrorReply(msg.Encode())
	code, ok := acerr.CodeOf(err)
	require.True(t, ok)
	require.Equal(t, acerr.RateLimited, code)
	require.Contains(t, err.Error(), "rate limit")
}

func TestDecodeErrorReplyTruncated(t *testing.T) {
	err := decodeErrorReply([]byte{0x00})
	code, ok := acerr.CodeOf(err)
	require.True(t, ok)
	require.Equal(t, acerr.CorruptPayload, code)
}

func TestStateStringsAndTerminality(t *testing.T) {
	require.Equal(t, "negotiating", StateNegotiating.String())
	require.Equal(t, "starting_host", StateStartingHost.String())
	require.False(t, StateActive.Terminal())
	require.True(t, StateEnded.Terminal())
	require.True(t, StateFailed.Terminal())
}

func TestHostAddrFromPrefersAdvertisedAddress(t *testing.T) {
	c := New(Config{}, testLogger(t))
	hostID := c.ParticipantID() // any uuid works for the lookup

	addr := c.hostAddrFrom(hostID, hostReady{Address: "192.0.2.5", Port: 27225})
	require.Equal(t, "192.0.2.5:27225", addr)
}

func TestHostAddrFromFallsBackToObservedIP(t *testing.T) {
	c := New(Config{}, testLogger(t))
	hostID := c.ParticipantID()
	c.peerIPs[hostID] = "198.51.100.4"

	addr := c.hostAddrFrom(hostID, hostReady{Port: 27225})
	require.Equal(t, "198.51.100.4:27225", addr)
}

func TestHostAddrFromUnknownHost(t *testing.T) {
	c := New(Config{}, testLogger(t))
	require.Empty(t, c.hostAddrFrom(uuid.New(), hostReady{Port: 27225}))
}
