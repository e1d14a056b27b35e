package relay

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/matst80/tcprelay/internal/endpoint"
	"github.com/stretchr/testify/require"
)

var local = endpoint.Endpoint{Host: "127.0.0.1", Port: 0}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Emit(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) all(kind Kind) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) count(kind Kind) int { return len(r.all(kind)) }

func (r *recorder) waitFor(t *testing.T, kind Kind) Event {
	t.Helper()
	var ev Event
	require.Eventually(t, func() bool {
		evs := r.all(kind)
		if len(evs) == 0 {
			return false
		}
		ev = evs[0]
		return true
	}, 3*time.Second, 5*time.Millisecond, "no %s event", kind)
	return ev
}

func testConfig(strategy Strategy) Config {
	cfg := DefaultConfig()
	cfg.Strategy = strategy
	cfg.PollTimeout = 10 * time.Millisecond
	cfg.ConnectTimeout = time.Second
	return cfg
}

type running struct {
	srv    *Server
	cancel context.CancelFunc
	done   chan error
	once   sync.Once
	err    error
}

func (r *running) stop() error {
	r.once.Do(func() {
		r.cancel()
		select {
		case r.err = <-r.done:
		case <-time.After(5 * time.Second):
			r.err = errors.New("serve did not return")
		}
	})
	return r.err
}

func startServer(t *testing.T, cfg Config, table *endpoint.Table, opts ...Option) *running {
	t.Helper()
	srv, err := NewServer(cfg, table, opts...)
	require.NoError(t, err)
	require.NoError(t, srv.Listen())
	ctx, cancel := context.WithCancel(context.Background())
	r := &running{srv: srv, cancel: cancel, done: make(chan error, 1)}
	go func() { r.done <- srv.Serve(ctx) }()
	t.Cleanup(func() { require.NoError(t, r.stop()) })
	require.Eventually(t, srv.Ready, time.Second, 5*time.Millisecond)
	return r
}

func mapTo(dest endpoint.Endpoint) *endpoint.Table {
	tbl := endpoint.NewTable()
	_ = tbl.Insert(local, dest)
	return tbl
}

func epFromAddr(a net.Addr) endpoint.Endpoint {
	ta := a.(*net.TCPAddr)
	return endpoint.Endpoint{Host: ta.IP.String(), Port: ta.Port}
}

// serveTCP runs handle for every connection accepted on a loopback listener.
func serveTCP(t *testing.T, handle func(net.Conn)) (endpoint.Endpoint, *atomic.Int32) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	var accepted atomic.Int32
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			accepted.Add(1)
			go handle(c)
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return epFromAddr(ln.Addr()), &accepted
}

func echo(c net.Conn) {
	defer c.Close()
	buf := make([]byte, 32*1024)
	for {
		n, err := c.Read(buf)
		if n > 0 {
			if _, werr := c.Write(buf[:n]); werr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func pingPong(c net.Conn) {
	defer c.Close()
	buf := make([]byte, 64)
	for {
		n, err := c.Read(buf)
		if err != nil {
			return
		}
		reply := "?"
		if string(buf[:n]) == "PING" {
			reply = "PONG"
		}
		if _, err := c.Write([]byte(reply)); err != nil {
			return
		}
	}
}

// deadPort returns an endpoint nothing listens on.
func deadPort(t *testing.T) endpoint.Endpoint {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ep := epFromAddr(ln.Addr())
	require.NoError(t, ln.Close())
	return ep
}

func dial(t *testing.T, r *running, listen endpoint.Endpoint) net.Conn {
	t.Helper()
	addr := r.srv.Addr(listen)
	require.NotNil(t, addr)
	c, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	require.NoError(t, c.SetDeadline(time.Now().Add(10*time.Second)))
	t.Cleanup(func() { c.Close() })
	return c
}

func tcpPair(t *testing.T) (*net.TCPConn, *net.TCPConn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	ch := make(chan net.Conn, 1)
	go func() {
		c, _ := ln.Accept()
		ch <- c
	}()
	client, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	server := <-ch
	require.NotNil(t, server)
	t.Cleanup(func() { client.Close(); server.Close() })
	return client.(*net.TCPConn), server.(*net.TCPConn)
}

func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7 + i/251)
	}
	return b
}
