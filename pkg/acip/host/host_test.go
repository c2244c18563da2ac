package host

import (
	"bytes"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/zfogg/ascii-chat/pkg/acip/crypto"
	"github.com/zfogg/ascii-chat/pkg/acip/packet"
	"github.com/zfogg/ascii-chat/pkg/acip/ratelimit"
	"github.com/zfogg/ascii-chat/pkg/acip/transport"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testPeer performs the initiator side of the handshake against a Host
// and gives the test a raw net.Conn plus a SecureStream to exchange
// subsequent framed packets with.
type testPeer struct {
	conn   net.Conn
	secure *crypto.SecureStream
}

func dialTestPeer(t *testing.T, addr string) *testPeer {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)

	local, err := crypto.GenerateEphemeral()
	require.NoError(t, err)

	hello, err := packet.EncodeNext(packet.TypeHandshakeHello, local.Public[:])
	require.NoError(t, err)
	_, err = conn.Write(hello)
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	resp, err := packet.DecodeStream(conn)
	require.NoError(t, err)
	require.Equal(t, packet.TypeHandshakeResponse, resp.Type)
	require.Len(t, resp.Payload, 64)

	var peerPub [32]byte
	copy(peerPub[:], resp.Payload[:32])
	salt := resp.Payload[32:]

	keys, err := crypto.DeriveSessionKeys(local, peerPub, salt, crypto.RoleInitiator)
	require.NoError(t, err)
	secure, err := crypto.NewSecureStream(keys)
	require.NoError(t, err)

	return &testPeer{conn: conn, secure: secure}
}

func (p *testPeer) sendSealed(t *testing.T, typ packet.Type, plaintext []byte) {
	t.Helper()
	sealed, err := p.secure.Seal(plaintext)
	require.NoError(t, err)
	encoded, err := packet.EncodeNext(typ, sealed)
	require.NoError(t, err)
	_, err = p.conn.Write(encoded)
	require.NoError(t, err)
}

func (p *testPeer) recvSealed(t *testing.T, timeout time.Duration) *packet.Packet {
	t.Helper()
	p.conn.SetReadDeadline(time.Now().Add(timeout))
	pkt, err := packet.DecodeStream(p.conn)
	require.NoError(t, err)
	opened, err := p.secure.Open(pkt.Payload)
	require.NoError(t, err)
	pkt.Payload = opened
	return pkt
}

func newTestHost(t *testing.T) *Host {
	t.Helper()
	cfg := DefaultConfig()
	cfg.PingInterval = time.Hour // keep liveness pings out of the test's way
	h := New(cfg, PassthroughMixer{}, ratelimit.NewMemoryLimiter(nil), nil, discardLogger())
	require.NoError(t, h.Listen("127.0.0.1:0"))
	go h.Run()
	t.Cleanup(h.Stop)
	return h
}

// activeClients counts registered clients whose CLIENT_JOIN has been
// processed; fan-out only reaches clients in that state.
func activeClients(h *Host) int {
	n := 0
	h.Registry().Each(uuid.Nil, func(c *Client) {
		if c.State() == StateActive {
			n++
		}
	})
	return n
}

func TestFanOutDeliversFrameToOtherClients(t *testing.T) {
	h := newTestHost(t)
	addr := h.Addr().String()

	peerA := dialTestPeer(t, addr)
	peerA.sendSealed(t, packet.TypeClientJoin, nil)

	peerB := dialTestPeer(t, addr)
	peerB.sendSealed(t, packet.TypeClientJoin, nil)

	require.Eventually(t, func() bool { return activeClients(h) == 2 }, time.Second, 10*time.Millisecond)

	frame := []byte("pretend-ascii-frame-bytes")
	peerA.sendSealed(t, packet.TypeImageFrame, frame)

	got := peerB.recvSealed(t, 2*time.Second)
	require.Equal(t, packet.TypeImageFrame, got.Type)
	require.Equal(t, frame, got.Payload)
}

// wsTestPeer is a handshake-completed peer riding the WebSocket
// transport, attached to the host the way the upgrade endpoint attaches
// real connections.
type wsTestPeer struct {
	conn   transport.Conn
	secure *crypto.SecureStream
}

func dialWSTestPeer(t *testing.T, h *Host) *wsTestPeer {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := transport.UpgradeWebSocket(w, r, discardLogger())
		if err != nil {
			return
		}
		h.Attach(conn)
	}))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, err := transport.DialWebSocket(url, time.Second, discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	local, err := crypto.GenerateEphemeral()
	require.NoError(t, err)
	hello, err := packet.EncodeNext(packet.TypeHandshakeHello, local.Public[:])
	require.NoError(t, err)
	_, err = conn.Write(hello)
	require.NoError(t, err)

	resp, err := packet.DecodeStream(conn)
	require.NoError(t, err)
	require.Equal(t, packet.TypeHandshakeResponse, resp.Type)

	var peerPub [32]byte
	copy(peerPub[:], resp.Payload[:32])
	keys, err := crypto.DeriveSessionKeys(local, peerPub, resp.Payload[32:], crypto.RoleInitiator)
	require.NoError(t, err)
	secure, err := crypto.NewSecureStream(keys)
	require.NoError(t, err)

	return &wsTestPeer{conn: conn, secure: secure}
}

func TestMixedTransportFanOut(t *testing.T) {
	h := newTestHost(t)

	tcpPeer := dialTestPeer(t, h.Addr().String())
	tcpPeer.sendSealed(t, packet.TypeClientJoin, nil)

	wsPeer := dialWSTestPeer(t, h)
	sealed, err := wsPeer.secure.Seal(nil)
	require.NoError(t, err)
	joinPkt, err := packet.EncodeNext(packet.TypeClientJoin, sealed)
	require.NoError(t, err)
	_, err = wsPeer.conn.Write(joinPkt)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return activeClients(h) == 2 }, time.Second, 10*time.Millisecond)

	frame := bytes.Repeat([]byte{0x5A}, 230*1024)
	tcpPeer.sendSealed(t, packet.TypeImageFrame, frame)

	got := make(chan *packet.Packet, 1)
	go func() {
		pkt, err := packet.DecodeStream(wsPeer.conn)
		if err != nil {
			got <- nil
			return
		}
		opened, err := wsPeer.secure.Open(pkt.Payload)
		if err != nil {
			got <- nil
			return
		}
		pkt.Payload = opened
		got <- pkt
	}()

	select {
	case pkt := <-got:
		require.NotNil(t, pkt)
		require.Equal(t, packet.TypeImageFrame, pkt.Type)
		require.Equal(t, frame, pkt.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("websocket client never received the relayed frame")
	}
}

func TestShortIDReusedAfterRemoval(t *testing.T) {
	pool := NewShortIDPool()
	id, err := pool.Acquire()
	require.NoError(t, err)
	pool.Release(id)
	// The pool is a ring: the released id comes back once every id still
	// free ahead of it has been handed out.
	for i := 0; i < PoolSize-1; i++ {
		_, err := pool.Acquire()
		require.NoError(t, err)
	}
	again, err := pool.Acquire()
	require.NoError(t, err)
	require.Equal(t, id, again)
}

func TestShortIDPoolExhausted(t *testing.T) {
	pool := NewShortIDPool()
	for i := 0; i < PoolSize; i++ {
		_, err := pool.Acquire()
		require.NoError(t, err)
	}
	_, err := pool.Acquire()
	require.Error(t, err)
}

func TestStateMachineRemovedIsTerminalAndIdempotent(t *testing.T) {
	m := newStateMachine()
	require.True(t, m.Transition(StateHandshaking))
	require.True(t, m.Transition(StateJoined))
	require.True(t, m.Transition(StateRemoved))
	require.True(t, m.Transition(StateRemoved))
	require.False(t, m.Transition(StateActive))
}
