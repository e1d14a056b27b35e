package relay

import (
	"context"
	"net"

	"github.com/benbjohnson/clock"
	"github.com/matst80/tcprelay/internal/endpoint"
)

// Limiter decides whether a client may open another connection.
type Limiter interface {
	AllowConnection(client string) bool
}

// Dispatcher turns accepted connections into running sessions.
type Dispatcher struct {
	table   *endpoint.Table
	cfg     Config
	clock   clock.Clock
	sink    Sink
	limiter Limiter
	pool    *WorkerPool
}

// NewDispatcher wires a dispatcher. pool is required for isolated dispatch
// and ignored otherwise; limiter may be nil.
func NewDispatcher(table *endpoint.Table, cfg Config, clk clock.Clock, sink Sink, limiter Limiter, pool *WorkerPool) *Dispatcher {
	return &Dispatcher{table: table, cfg: cfg, clock: clk, sink: sink, limiter: limiter, pool: pool}
}

// OnAccept routes conn, accepted on listen, to a session. Every failure is
// handled here: the connection is closed and an event reports why.
func (d *Dispatcher) OnAccept(ctx context.Context, acceptor *Loop, listen endpoint.Endpoint, conn *net.TCPConn) {
	remote := conn.RemoteAddr().String()
	if d.limiter != nil {
		host, _, err := net.SplitHostPort(remote)
		if err != nil {
			host = remote
		}
		if !d.limiter.AllowConnection(host) {
			_ = conn.Close()
			d.sink.Emit(Event{Kind: KindRejected, Listen: listen, Remote: remote, Err: ErrRejected, Time: d.clock.Now()})
			return
		}
	}
	dest, ok := d.table.Lookup(listen)
	if !ok {
		_ = conn.Close()
		d.sink.Emit(Event{Kind: KindRoutingFailed, Listen: listen, Remote: remote, Err: ErrRoutingMiss, Time: d.clock.Now()})
		return
	}
	s, err := newSession(conn, listen, dest, d.cfg, d.clock, d.sink)
	if err != nil {
		_ = conn.Close()
		d.sink.Emit(Event{Kind: KindClosed, Listen: listen, Dest: dest, Remote: remote, Reason: ReasonIOError, Err: err, Time: d.clock.Now()})
		return
	}
	s.emit(Event{Kind: KindAccepted})

	if d.cfg.Dispatch != DispatchIsolated {
		acceptor.Attach(s)
		return
	}
	err = d.pool.Submit(ctx, func(ctx context.Context) {
		runIsolated(ctx, d.cfg, d.clock, d.sink, s)
	})
	if err != nil {
		s.Close(ReasonShutdown, err)
	}
}
