package relay

import (
	"net"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/matst80/tcprelay/internal/endpoint"
	"github.com/matst80/tcprelay/internal/reactor"
	"go.uber.org/multierr"
)

// State of a connection session.
type State int

const (
	Accepted State = iota
	AwaitingClientRead
	Forwarding
	AwaitingUpstreamResponse
	AwaitingClientWrite
	BidirectionalRelay
	Closed
)

func (s State) String() string {
	switch s {
	case Accepted:
		return "accepted"
	case AwaitingClientRead:
		return "awaiting_client_read"
	case Forwarding:
		return "forwarding"
	case AwaitingUpstreamResponse:
		return "awaiting_upstream_response"
	case AwaitingClientWrite:
		return "awaiting_client_write"
	case BidirectionalRelay:
		return "bidirectional_relay"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Side names one of a session's two sockets.
type Side uint8

const (
	ClientSide Side = iota
	UpstreamSide
)

func (s Side) String() string {
	if s == ClientSide {
		return "client"
	}
	return "upstream"
}

// sessionRef is the reactor attachment of a session socket.
type sessionRef struct {
	s    *Session
	side Side
}

// Session is one client connection and, once needed, its upstream
// connection. It is driven by exactly one loop and is not safe for
// concurrent use.
type Session struct {
	ID        string
	Listen    endpoint.Endpoint
	Dest      endpoint.Endpoint
	Remote    string
	CreatedAt time.Time

	cfg    Config
	engine Engine
	clock  clock.Clock
	sink   Sink
	loop   *Loop
	state  State

	client   *socket
	upstream *socket
	refs     [2]*sessionRef

	buf  []byte
	resp []byte

	lastActive time.Time
	// peerDone is set when the client half-closed right after a full payload.
	peerDone bool
	// discarding is set while input behind a truncated capture is dropped.
	discarding bool
	// lingering marks a finished one-shot exchange waiting for discarding to end.
	lingering bool
	reason    CloseReason
	sent      int64
	received  int64
}

func newSession(conn *net.TCPConn, listen, dest endpoint.Endpoint, cfg Config, clk clock.Clock, sink Sink) (*Session, error) {
	sock, err := newSocket(conn)
	if err != nil {
		return nil, err
	}
	now := clk.Now()
	s := &Session{
		ID:         uuid.NewString(),
		Listen:     listen,
		Dest:       dest,
		Remote:     conn.RemoteAddr().String(),
		CreatedAt:  now,
		cfg:        cfg,
		engine:     NewEngine(cfg),
		clock:      clk,
		sink:       sink,
		client:     sock,
		buf:        make([]byte, cfg.BufferSize),
		lastActive: now,
	}
	if cfg.Strategy == StoreAndForward {
		s.resp = make([]byte, cfg.BufferSize)
	}
	s.refs[ClientSide] = &sessionRef{s: s, side: ClientSide}
	s.refs[UpstreamSide] = &sessionRef{s: s, side: UpstreamSide}
	return s, nil
}

// State reports the current state.
func (s *Session) State() State { return s.state }

// Closed reports whether the session reached its terminal state.
func (s *Session) Closed() bool { return s.state == Closed }

// Reason is the close reason once Closed.
func (s *Session) Reason() CloseReason { return s.reason }

// BytesSent is the number of bytes written to the upstream.
func (s *Session) BytesSent() int64 { return s.sent }

// BytesReceived is the number of bytes written back to the client.
func (s *Session) BytesReceived() int64 { return s.received }

func (s *Session) sock(side Side) *socket {
	if side == ClientSide {
		return s.client
	}
	return s.upstream
}

func (s *Session) touch() { s.lastActive = s.clock.Now() }

func (s *Session) registerRead(side Side) error {
	return s.loop.r.RegisterForRead(s.sock(side).fd, s.refs[side])
}

func (s *Session) registerWrite(side Side) error {
	return s.loop.r.RegisterForWrite(s.sock(side).fd, s.refs[side])
}

func (s *Session) unregisterRead(side Side) error {
	return s.loop.r.Unregister(s.sock(side).fd, reactor.Read)
}

func (s *Session) unregisterWrite(side Side) error {
	return s.loop.r.Unregister(s.sock(side).fd, reactor.Write)
}

func (s *Session) emit(e Event) {
	e.Session = s.ID
	e.Listen = s.Listen
	e.Dest = s.Dest
	e.Remote = s.Remote
	e.Time = s.clock.Now()
	s.sink.Emit(e)
}

func (s *Session) forwarded(dir Direction, p []byte) {
	e := Event{Kind: KindForwarding, Bytes: len(p), Direction: dir}
	if s.cfg.TracePayload && wantsPayload(s.sink) {
		e.Data = append([]byte(nil), p...)
	}
	if dir == ClientToUpstream {
		s.sent += int64(len(p))
	} else {
		s.received += int64(len(p))
	}
	s.emit(e)
}

// Close tears the session down once: both sockets leave the reactor before
// their handles are closed, then a single session.closed event is emitted.
// Later calls do nothing and return nil.
func (s *Session) Close(reason CloseReason, cause error) error {
	if s.state == Closed {
		return nil
	}
	s.state = Closed
	s.reason = reason
	var errs error
	for _, sock := range []*socket{s.client, s.upstream} {
		if sock == nil {
			continue
		}
		if s.loop != nil {
			errs = multierr.Append(errs, s.loop.r.Deregister(sock.fd))
		}
		errs = multierr.Append(errs, sock.close())
	}
	if s.loop != nil {
		s.loop.forget(s)
	}
	s.emit(Event{Kind: KindClosed, Reason: reason, Err: cause, Duration: s.clock.Since(s.CreatedAt)})
	return errs
}
