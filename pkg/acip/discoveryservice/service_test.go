package discoveryservice

import (
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/zfogg/ascii-chat/pkg/acip/crypto"
	"github.com/zfogg/ascii-chat/pkg/acip/packet"
	"github.com/zfogg/ascii-chat/pkg/acip/ratelimit"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

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

	var peerPub [32]byte
	copy(peerPub[:], resp.Payload[:32])
	salt := resp.Payload[32:]

	keys, err := crypto.DeriveSessionKeys(local, peerPub, salt, crypto.RoleInitiator)
	require.NoError(t, err)
	secure, err := crypto.NewSecureStream(keys)
	require.NoError(t, err)

	return &testPeer{conn: conn, secure: secure}
}

func (p *testPeer) roundTrip(t *testing.T, typ packet.Type, payload []byte, timeout time.Duration) *packet.Packet {
	t.Helper()
	sealed, err := p.secure.Seal(payload)
	require.NoError(t, err)
	encoded, err := packet.EncodeNext(typ, sealed)
	require.NoError(t, err)
	_, err = p.conn.Write(encoded)
	require.NoError(t, err)

	p.conn.SetReadDeadline(time.Now().Add(timeout))
	pkt, err := packet.DecodeStream(p.conn)
	require.NoError(t, err)
	opened, err := p.secure.Open(pkt.Payload)
	require.NoError(t, err)
	pkt.Payload = opened
	return pkt
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	store, err := OpenStore("")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	limiter := ratelimit.NewMemoryLimiter(nil)
	svc := New(DefaultConfig(), store, limiter, discardLogger())
	require.NoError(t, svc.Listen("127.0.0.1:0"))
	go svc.Run()
	t.Cleanup(svc.Stop)
	return svc
}

func TestSessionCreateThenLookup(t *testing.T) {
	svc := newTestService(t)
	peer := dialTestPeer(t, svc.Addr().String())

	creatorID := uuid.New()
	req := SessionCreateRequest{CreatorID: creatorID, CreatorPubKey: zero32()}
	created := peer.roundTrip(t, packet.TypeSessionCreate, req.Encode(), 2*time.Second)
	require.Equal(t, packet.TypeSessionCreated, created.Type)

	createdResp, err := DecodeSessionCreatedResponse(created.Payload)
	require.NoError(t, err)
	require.True(t, ValidateSessionString(createdResp.SessionString))

	lookupReq := SessionLookupRequest{SessionString: createdResp.SessionString}
	info := peer.roundTrip(t, packet.TypeSessionLookup, lookupReq.Encode(), 2*time.Second)
	require.Equal(t, packet.TypeSessionInfo, info.Type)

	infoResp, err := DecodeSessionInfoResponse(info.Payload)
	require.NoError(t, err)
	require.Equal(t, createdResp.SessionUUID, infoResp.SessionUUID)
	require.Len(t, infoResp.Participants, 1)
	require.Equal(t, creatorID, infoResp.Participants[0].ParticipantID)
}

func TestSessionCreateRateLimited(t *testing.T) {
	svc := newTestService(t)
	peer := dialTestPeer(t, svc.Addr().String())

	successes := 0
	var rateLimited bool
	for i := 0; i < 11; i++ {
		req := SessionCreateRequest{CreatorID: uuid.New(), CreatorPubKey: zero32()}
		reply := peer.roundTrip(t, packet.TypeSessionCreate, req.Encode(), 2*time.Second)
		if reply.Type == packet.TypeSessionCreated {
			successes++
		} else {
			rateLimited = true
		}
	}
	require.Equal(t, 10, successes)
	require.True(t, rateLimited)
}

func TestSessionJoinRejectsDuplicate(t *testing.T) {
	svc := newTestService(t)
	peer := dialTestPeer(t, svc.Addr().String())

	creatorID := uuid.New()
	createReq := SessionCreateRequest{CreatorID: creatorID, CreatorPubKey: zero32()}
	created := peer.roundTrip(t, packet.TypeSessionCreate, createReq.Encode(), 2*time.Second)
	createdResp, err := DecodeSessionCreatedResponse(created.Payload)
	require.NoError(t, err)

	joinReq := SessionJoinRequest{SessionUUID: createdResp.SessionUUID, ParticipantID: creatorID, ParticipantPubKey: zero32()}
	dup := peer.roundTrip(t, packet.TypeSessionJoin, joinReq.Encode(), 2*time.Second)
	require.Equal(t, packet.TypeACIPError, dup.Type)

	otherJoin := SessionJoinRequest{SessionUUID: createdResp.SessionUUID, ParticipantID: uuid.New(), ParticipantPubKey: zero32()}
	ok := peer.roundTrip(t, packet.TypeSessionJoin, otherJoin.Encode(), 2*time.Second)
	require.Equal(t, packet.TypeSessionJoined, ok.Type)
}

func TestValidateSessionStringGrammar(t *testing.T) {
	require.True(t, ValidateSessionString("swift-river-canyon"))
	require.False(t, ValidateSessionString("Swift-River-Canyon"))
	require.False(t, ValidateSessionString("swift-river"))
	require.False(t, ValidateSessionString("-swift-river-canyon"))
	require.False(t, ValidateSessionString("swift_river_canyon"))
}
