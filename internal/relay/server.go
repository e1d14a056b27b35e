package relay

import (
	"context"
	"errors"
	"net"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"github.com/matst80/tcprelay/internal/endpoint"
	"github.com/matst80/tcprelay/internal/reactor"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// Server accepts on every mapped listen endpoint and relays to the mapped
// destinations.
type Server struct {
	cfg     Config
	table   *endpoint.Table
	extra   []endpoint.Endpoint
	clock   clock.Clock
	sink    Sink
	limiter Limiter

	listeners []*listener
	pool      *WorkerPool
	ready     atomic.Bool
}

type Option func(*Server)

func WithSink(s Sink) Option { return func(srv *Server) { srv.sink = s } }

func WithClock(c clock.Clock) Option { return func(srv *Server) { srv.clock = c } }

func WithLimiter(l Limiter) Option { return func(srv *Server) { srv.limiter = l } }

// WithListeners binds additional endpoints whether or not they are mapped.
// Connections on an unmapped one are closed as routing misses.
func WithListeners(eps ...endpoint.Endpoint) Option {
	return func(srv *Server) { srv.extra = append(srv.extra, eps...) }
}

func NewServer(cfg Config, table *endpoint.Table, opts ...Option) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if table == nil {
		table = endpoint.NewTable()
	}
	s := &Server{cfg: cfg, table: table, clock: clock.New(), sink: NopSink}
	for _, o := range opts {
		o(s)
	}
	if s.sink == nil {
		s.sink = NopSink
	}
	if cfg.Dispatch == DispatchIsolated {
		p, err := NewWorkerPool(cfg.Workers)
		if err != nil {
			return nil, err
		}
		s.pool = p
	}
	return s, nil
}

func (s *Server) endpoints() []endpoint.Endpoint {
	seen := map[string]bool{}
	var out []endpoint.Endpoint
	add := func(ep endpoint.Endpoint) {
		if seen[ep.Key()] {
			return
		}
		seen[ep.Key()] = true
		out = append(out, ep)
	}
	for _, e := range s.table.Entries() {
		add(e.Listen)
	}
	for _, ep := range s.extra {
		add(ep)
	}
	return out
}

// Listen binds every listen endpoint. If one fails, those already bound are
// released and a *BindError is returned.
func (s *Server) Listen() error {
	eps := s.endpoints()
	if len(eps) == 0 {
		return errors.New("no listen endpoints configured")
	}
	for _, ep := range eps {
		ln, err := net.Listen("tcp", ep.Addr())
		if err != nil {
			_ = s.closeListeners()
			s.listeners = nil
			return &BindError{Endpoint: ep, Err: err}
		}
		tl := ln.(*net.TCPListener)
		fd, err := reactor.FD(tl)
		if err != nil {
			_ = tl.Close()
			_ = s.closeListeners()
			s.listeners = nil
			return &BindError{Endpoint: ep, Err: err}
		}
		s.listeners = append(s.listeners, &listener{ln: tl, fd: fd, listen: ep})
	}
	return nil
}

// Addr returns the bound address for listen, which differs from the
// configured one when port 0 was requested.
func (s *Server) Addr(listen endpoint.Endpoint) net.Addr {
	for _, ln := range s.listeners {
		if ln.listen.Equal(listen) {
			return ln.ln.Addr()
		}
	}
	return nil
}

func (s *Server) Addrs() []net.Addr {
	out := make([]net.Addr, 0, len(s.listeners))
	for _, ln := range s.listeners {
		out = append(out, ln.ln.Addr())
	}
	return out
}

// Ready reports whether the acceptor loop is running.
func (s *Server) Ready() bool { return s.ready.Load() }

// ActiveWorkers is the number of busy pool workers in isolated mode.
func (s *Server) ActiveWorkers() int {
	if s.pool == nil {
		return 0
	}
	return s.pool.Active()
}

// Serve runs the acceptor loop, and the worker pool in isolated mode, until
// ctx ends. Listeners are closed on return. A reactor failure is returned
// after everything it drove has been shut down.
func (s *Server) Serve(ctx context.Context) error {
	if len(s.listeners) == 0 {
		return errors.New("server is not listening")
	}
	loop, err := newLoop(s.cfg, s.clock, s.sink)
	if err != nil {
		_ = s.closeListeners()
		return err
	}
	for _, ln := range s.listeners {
		if err := loop.addListener(ln); err != nil {
			_ = loop.Close()
			_ = s.closeListeners()
			return err
		}
	}
	disp := NewDispatcher(s.table, s.cfg, s.clock, s.sink, s.limiter, s.pool)
	loop.onAccept = func(ctx context.Context, l *Loop, ln *listener, c *net.TCPConn) {
		disp.OnAccept(ctx, l, ln.listen, c)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	if s.pool != nil {
		g.Go(func() error { return s.pool.Run(gctx) })
	}
	g.Go(func() error {
		defer cancel()
		s.ready.Store(true)
		defer s.ready.Store(false)
		err := loop.Run(gctx)
		return multierr.Combine(err, loop.Close(), s.closeListeners())
	})
	return g.Wait()
}

// ListenAndServe binds and serves.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

func (s *Server) closeListeners() error {
	var errs error
	for _, ln := range s.listeners {
		if err := ln.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}
