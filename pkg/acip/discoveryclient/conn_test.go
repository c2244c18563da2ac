package discoveryclient

import (
	"net"
	"strconv"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/zfogg/ascii-chat/pkg/acip/discoveryservice"
	"github.com/zfogg/ascii-chat/pkg/acip/ratelimit"
)

func startTestService(t *testing.T) (host string, port int) {
	t.Helper()
	store, err := discoveryservice.OpenStore("")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	svc := discoveryservice.New(
		discoveryservice.DefaultConfig(), store,
		ratelimit.NewMemoryLimiter(nil), testLogger(t).Logger,
	)
	require.NoError(t, svc.Listen("127.0.0.1:0"))
	go svc.Run()
	t.Cleanup(svc.Stop)

	hostName, portStr, err := net.SplitHostPort(svc.Addr().String())
	require.NoError(t, err)
	p, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return hostName, p
}

func TestServiceConnCreateLookupJoin(t *testing.T) {
	hostName, port := startTestService(t)

	creator, err := DialService(hostName, port, nil, testLogger(t))
	require.NoError(t, err)
	defer creator.Close()

	creatorID := uuid.New()
	created, err := creator.CreateSession(creatorID, nil, nil)
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, created.SessionUUID)
	require.True(t, discoveryservice.ValidateSessionString(created.SessionString))

	joiner, err := DialService(hostName, port, nil, testLogger(t))
	require.NoError(t, err)
	defer joiner.Close()

	info, err := joiner.LookupSession(created.SessionString, nil)
	require.NoError(t, err)
	require.Equal(t, created.SessionUUID, info.SessionUUID)

	joinerID := uuid.New()
	joined, err := joiner.JoinSession(created.SessionUUID, joinerID, nil, nil)
	require.NoError(t, err)
	require.Len(t, joined.Participants, 2)
}

func TestServiceConnLookupUnknownSession(t *testing.T) {
	hostName, port := startTestService(t)

	sc, err := DialService(hostName, port, nil, testLogger(t))
	require.NoError(t, err)
	defer sc.Close()

	_, err = sc.LookupSession("never-created-session", nil)
	require.Error(t, err)
}
