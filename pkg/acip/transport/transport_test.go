package transport

import (
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTCPConnRoundTrip(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	serverDone := make(chan []byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			serverDone <- nil
			return
		}
		defer conn.Close()
		buf := make([]byte, 5)
		n, _ := conn.Read(buf)
		serverDone <- buf[:n]
	}()

	client, err := DialTCP(ln.Addr().String(), time.Second, DefaultKeepalive, nil)
	require.NoError(t, err)
	defer client.Close()

	require.Equal(t, KindTCP, client.Kind())
	require.True(t, client.IsAlive())

	_, err = client.Write([]byte("hello"))
	require.NoError(t, err)

	got := <-serverDone
	require.Equal(t, []byte("hello"), got)
}

func TestDialParallelHonorsShouldExit(t *testing.T) {
	exitNow := func() bool { return true }

	// "198.51.100.1" is TEST-NET-2 (RFC 5737): guaranteed unroutable, so
	// the dial will sit waiting and the cancellation predicate must fire
	// well before any OS-level connect timeout would.
	start := time.Now()
	_, err := DialParallel("198.51.100.1", 9, 5*time.Second, exitNow, DefaultKeepalive, nil)
	require.Error(t, err)
	require.Less(t, time.Since(start), 2*time.Second)
}

func TestDialParallelSucceedsOnLoopback(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err == nil {
			conn.Close()
		}
	}()

	_, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	conn, err := DialParallel("127.0.0.1", port, time.Second, nil, DefaultKeepalive, nil)
	require.NoError(t, err)
	defer conn.Close()
}
