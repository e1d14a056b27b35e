package relay

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/matst80/tcprelay/internal/endpoint"
	"github.com/matst80/tcprelay/internal/reactor"
)

// acceptGrace bounds an accept on a listener reported ready; the connection
// should already be queued.
const acceptGrace = 50 * time.Millisecond

type listener struct {
	ln     *net.TCPListener
	fd     int
	listen endpoint.Endpoint
}

// Loop drives one reactor. The acceptor loop owns the listeners and, in
// shared mode, every session; an isolated worker's loop owns one session.
type Loop struct {
	r     *reactor.Reactor
	cfg   Config
	clock clock.Clock
	sink  Sink
	ctx   context.Context

	sessions  map[*Session]struct{}
	listeners map[int]*listener
	onAccept  func(ctx context.Context, l *Loop, ln *listener, c *net.TCPConn)
}

func newLoop(cfg Config, clk clock.Clock, sink Sink) (*Loop, error) {
	r, err := reactor.New(cfg.Backend)
	if err != nil {
		return nil, err
	}
	return &Loop{
		r:         r,
		cfg:       cfg,
		clock:     clk,
		sink:      sink,
		ctx:       context.Background(),
		sessions:  make(map[*Session]struct{}),
		listeners: make(map[int]*listener),
	}, nil
}

func (l *Loop) addListener(ln *listener) error {
	if err := l.r.RegisterForRead(ln.fd, ln); err != nil {
		return err
	}
	l.listeners[ln.fd] = ln
	return nil
}

// Attach hands s to this loop and starts its strategy.
func (l *Loop) Attach(s *Session) {
	s.loop = l
	l.sessions[s] = struct{}{}
	s.engine.Start(s)
}

func (l *Loop) forget(s *Session) { delete(l.sessions, s) }

// Sessions is the number of open sessions driven here.
func (l *Loop) Sessions() int { return len(l.sessions) }

// Run waits for readiness and dispatches it until ctx ends or nothing is left
// to drive. A failing wait shuts down everything on this loop and is
// returned.
func (l *Loop) Run(ctx context.Context) error {
	l.ctx = ctx
	for len(l.sessions) > 0 || len(l.listeners) > 0 {
		if ctx.Err() != nil {
			l.shutdown()
			return nil
		}
		evs, err := l.r.RunOnce(l.cfg.PollTimeout)
		if err != nil {
			l.sink.Emit(Event{Kind: KindReactorError, Err: err, Time: l.clock.Now()})
			l.shutdown()
			return err
		}
		for _, ev := range evs {
			l.dispatch(ev)
		}
		l.sweepIdle()
	}
	return nil
}

func (l *Loop) dispatch(ev reactor.Event) {
	switch ref := ev.Ref.(type) {
	case *listener:
		l.accept(ref)
	case *sessionRef:
		// Events gathered before an earlier one in the same batch closed the
		// session are stale.
		if ref.s.Closed() || ref.s.loop != l {
			return
		}
		ref.s.engine.OnReady(ref.s, ref.side, ev.Ready)
	}
}

func (l *Loop) accept(ln *listener) {
	if _, ok := l.listeners[ln.fd]; !ok {
		return
	}
	_ = ln.ln.SetDeadline(time.Now().Add(acceptGrace))
	c, err := ln.ln.AcceptTCP()
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return
		}
		if errors.Is(err, net.ErrClosed) {
			l.dropListener(ln)
			return
		}
		l.sink.Emit(Event{Kind: KindAcceptError, Listen: ln.listen, Err: err, Time: l.clock.Now()})
		return
	}
	if l.onAccept == nil {
		_ = c.Close()
		return
	}
	l.onAccept(l.ctx, l, ln, c)
}

func (l *Loop) dropListener(ln *listener) {
	_ = l.r.Deregister(ln.fd)
	delete(l.listeners, ln.fd)
}

func (l *Loop) sweepIdle() {
	if l.cfg.IdleTimeout <= 0 {
		return
	}
	now := l.clock.Now()
	for s := range l.sessions {
		if now.Sub(s.lastActive) >= l.cfg.IdleTimeout {
			s.Close(ReasonIdleTimeout, nil)
		}
	}
}

func (l *Loop) shutdown() {
	for s := range l.sessions {
		s.Close(ReasonShutdown, nil)
	}
	for _, ln := range l.listeners {
		l.dropListener(ln)
	}
}

// Close releases the reactor. Run must have returned.
func (l *Loop) Close() error { return l.r.Close() }

// runIsolated drives a single session on a private reactor until it closes.
func runIsolated(ctx context.Context, cfg Config, clk clock.Clock, sink Sink, s *Session) {
	l, err := newLoop(cfg, clk, sink)
	if err != nil {
		sink.Emit(Event{Kind: KindReactorError, Session: s.ID, Listen: s.Listen, Dest: s.Dest, Err: err, Time: clk.Now()})
		s.Close(ReasonIOError, err)
		return
	}
	defer l.Close()
	// Attach may dial the upstream, which must already follow ctx.
	l.ctx = ctx
	l.Attach(s)
	_ = l.Run(ctx)
}
