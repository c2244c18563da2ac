package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryLimiterSlidingWindow(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	restore := nowFunc
	defer func() { nowFunc = restore }()

	cur := base
	nowFunc = func() time.Time { return cur }

	limiter := NewMemoryLimiter(nil)
	lim := Limit{Max: 3, Window: time.Minute}

	for i := 0; i < 3; i++ {
		ok, err := limiter.Check("192.0.2.1", KindSessionCreate, &lim)
		require.NoError(t, err)
		require.True(t, ok)
		require.NoError(t, limiter.Record("192.0.2.1", KindSessionCreate))
	}

	ok, err := limiter.Check("192.0.2.1", KindSessionCreate, &lim)
	require.NoError(t, err)
	require.False(t, ok, "4th check within window must be rejected")

	cur = cur.Add(time.Minute + time.Second)
	ok, err = limiter.Check("192.0.2.1", KindSessionCreate, &lim)
	require.NoError(t, err)
	require.True(t, ok, "check succeeds again once the window has fully elapsed")
}

func TestMemoryLimiterPerIPIsolation(t *testing.T) {
	limiter := NewMemoryLimiter(nil)
	lim := Limit{Max: 1, Window: time.Minute}

	require.NoError(t, limiter.Record("192.0.2.1", KindPing))
	okA, _ := limiter.Check("192.0.2.1", KindPing, &lim)
	okB, _ := limiter.Check("192.0.2.2", KindPing, &lim)
	require.False(t, okA)
	require.True(t, okB)
}

func TestMemoryLimiterCleanupEvicts(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	restore := nowFunc
	defer func() { nowFunc = restore }()
	cur := base
	nowFunc = func() time.Time { return cur }

	limiter := NewMemoryLimiter(nil)
	require.NoError(t, limiter.Record("192.0.2.1", KindControl))

	cur = cur.Add(2 * time.Hour)
	require.NoError(t, limiter.Cleanup(time.Hour))

	lim := Limit{Max: 1000, Window: time.Hour}
	ok, err := limiter.Check("192.0.2.1", KindControl, &lim)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestSQLiteLimiterSlidingWindow(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	restore := nowFunc
	defer func() { nowFunc = restore }()
	cur := base
	nowFunc = func() time.Time { return cur }

	limiter, err := NewSQLiteLimiter(nil, "")
	require.NoError(t, err)
	defer limiter.Destroy()

	lim := Limit{Max: 2, Window: time.Minute}
	require.NoError(t, limiter.Record("198.51.100.9", KindSessionJoin))
	require.NoError(t, limiter.Record("198.51.100.9", KindSessionJoin))

	ok, err := limiter.Check("198.51.100.9", KindSessionJoin, &lim)
	require.NoError(t, err)
	require.False(t, ok)

	cur = cur.Add(2 * time.Minute)
	ok, err = limiter.Check("198.51.100.9", KindSessionJoin, &lim)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestSQLiteLimiterSetDBLastCallWins(t *testing.T) {
	limiter, err := NewSQLiteLimiter(nil, "")
	require.NoError(t, err)
	defer limiter.Destroy()

	require.NoError(t, limiter.Record("203.0.113.4", KindControl))

	second, err := NewSQLiteLimiter(nil, "")
	require.NoError(t, err)
	require.NoError(t, limiter.SetDB(second.db))

	lim := Limit{Max: 1000, Window: time.Hour}
	ok, err := limiter.Check("203.0.113.4", KindControl, &lim)
	require.NoError(t, err)
	require.True(t, ok, "SetDB replaces the ledger; the earlier record is gone")
}

func TestDefaultLimitValues(t *testing.T) {
	require.Equal(t, 10, DefaultLimits[KindSessionCreate].Max)
	require.Equal(t, time.Minute, DefaultLimits[KindSessionCreate].Window)
	require.Equal(t, 120, DefaultLimits[KindImageFrame].Max)
	require.Equal(t, time.Second, DefaultLimits[KindImageFrame].Window)
}
