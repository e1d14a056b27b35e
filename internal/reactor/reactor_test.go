package reactor

import (
	"net"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) []Backend {
	t.Helper()
	out := []Backend{BackendPoll}
	if runtime.GOOS == "linux" {
		out = append(out, BackendEpoll)
	}
	return out
}

// tcpPair returns both ends of a loopback connection.
func tcpPair(t *testing.T) (*net.TCPConn, *net.TCPConn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			accepted <- nil
			return
		}
		accepted <- c
	}()
	client, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	server := <-accepted
	require.NotNil(t, server)
	t.Cleanup(func() { client.Close(); server.Close() })
	return client.(*net.TCPConn), server.(*net.TCPConn)
}

func waitEvents(t *testing.T, r *Reactor, d time.Duration) []Event {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		evs, err := r.RunOnce(20 * time.Millisecond)
		require.NoError(t, err)
		if len(evs) > 0 {
			return append([]Event(nil), evs...)
		}
	}
	return nil
}

func TestRunOnceTimeoutIsSilent(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(string(b), func(t *testing.T) {
			r, err := New(b)
			require.NoError(t, err)
			defer r.Close()
			assert.Equal(t, b, r.Backend())

			_, server := tcpPair(t)
			fd, err := FD(server)
			require.NoError(t, err)
			require.NoError(t, r.RegisterForRead(fd, "srv"))

			start := time.Now()
			evs, err := r.RunOnce(30 * time.Millisecond)
			require.NoError(t, err)
			assert.Empty(t, evs)
			assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
		})
	}
}

func TestReadReadiness(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(string(b), func(t *testing.T) {
			r, err := New(b)
			require.NoError(t, err)
			defer r.Close()

			client, server := tcpPair(t)
			fd, err := FD(server)
			require.NoError(t, err)
			require.NoError(t, r.RegisterForRead(fd, "srv"))
			assert.Equal(t, 1, r.Len())

			_, err = client.Write([]byte("PING"))
			require.NoError(t, err)

			evs := waitEvents(t, r, time.Second)
			require.Len(t, evs, 1)
			assert.Equal(t, fd, evs[0].FD)
			assert.Equal(t, "srv", evs[0].Ref)
			assert.NotZero(t, evs[0].Ready&Read)
			assert.Zero(t, evs[0].Ready&Write)
		})
	}
}

func TestWriteInterestAndUnregister(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(string(b), func(t *testing.T) {
			r, err := New(b)
			require.NoError(t, err)
			defer r.Close()

			client, _ := tcpPair(t)
			fd, err := FD(client)
			require.NoError(t, err)

			require.NoError(t, r.RegisterForWrite(fd, 1))
			evs := waitEvents(t, r, time.Second)
			require.Len(t, evs, 1)
			assert.Equal(t, Write, evs[0].Ready)

			require.NoError(t, r.Unregister(fd, Write))
			in, ok := r.Interest(fd)
			require.True(t, ok)
			assert.Equal(t, Interest(0), in)

			evs, err = r.RunOnce(20 * time.Millisecond)
			require.NoError(t, err)
			assert.Empty(t, evs)
		})
	}
}

func TestRegisterMergesInterest(t *testing.T) {
	r, err := New(BackendPoll)
	require.NoError(t, err)
	defer r.Close()

	client, _ := tcpPair(t)
	fd, err := FD(client)
	require.NoError(t, err)

	require.NoError(t, r.RegisterForRead(fd, "a"))
	require.NoError(t, r.RegisterForWrite(fd, "b"))
	in, ok := r.Interest(fd)
	require.True(t, ok)
	assert.Equal(t, Read|Write, in)
	assert.Equal(t, 1, r.Len())

	evs := waitEvents(t, r, time.Second)
	require.Len(t, evs, 1)
	assert.Equal(t, "b", evs[0].Ref)
}

func TestDeregisterIsIdempotent(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(string(b), func(t *testing.T) {
			r, err := New(b)
			require.NoError(t, err)
			defer r.Close()

			client, server := tcpPair(t)
			fd, err := FD(server)
			require.NoError(t, err)
			require.NoError(t, r.RegisterForRead(fd, nil))

			require.NoError(t, r.Deregister(fd))
			require.NoError(t, r.Deregister(fd))
			assert.Equal(t, 0, r.Len())

			_, err = client.Write([]byte("x"))
			require.NoError(t, err)
			evs, err := r.RunOnce(30 * time.Millisecond)
			require.NoError(t, err)
			assert.Empty(t, evs)
		})
	}
}

func TestHangupWithoutInterest(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(string(b), func(t *testing.T) {
			r, err := New(b)
			require.NoError(t, err)
			defer r.Close()

			client, server := tcpPair(t)
			fd, err := FD(server)
			require.NoError(t, err)
			require.NoError(t, r.RegisterForWrite(fd, nil))
			require.NoError(t, r.Unregister(fd, Write))

			require.NoError(t, client.SetLinger(0))
			require.NoError(t, client.Close())

			evs := waitEvents(t, r, 2*time.Second)
			require.Len(t, evs, 1)
			assert.Equal(t, Hangup, evs[0].Ready)
		})
	}
}

func TestParseBackend(t *testing.T) {
	b, err := ParseBackend("")
	require.NoError(t, err)
	assert.Equal(t, BackendAuto, b)
	b, err = ParseBackend(" EPOLL ")
	require.NoError(t, err)
	assert.Equal(t, BackendEpoll, b)
	_, err = ParseBackend("kqueue")
	assert.Error(t, err)

	_, err = New(Backend("select"))
	assert.Error(t, err)
}

func TestClosedReactor(t *testing.T) {
	r, err := New(BackendAuto)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
	_, err = r.RunOnce(0)
	assert.Error(t, err)
	assert.Error(t, r.RegisterForRead(0, nil))
}

func TestInterestString(t *testing.T) {
	assert.Equal(t, "none", Interest(0).String())
	assert.Equal(t, "read|write", (Read | Write).String())
	assert.Equal(t, "hangup", Hangup.String())
}
