package relay

import (
	"errors"
	"io"
	"net"

	"github.com/matst80/tcprelay/internal/reactor"
)

// Engine moves bytes for a session on readiness. Both strategies share the
// session lifecycle: they leave Accepted in Start and finish by closing the
// session.
type Engine interface {
	Start(s *Session)
	OnReady(s *Session, side Side, ready reactor.Interest)
}

// NewEngine returns the engine for cfg.Strategy.
func NewEngine(cfg Config) Engine {
	if cfg.Strategy == StoreAndForward {
		return storeAndForward{exchange: cfg.Exchange}
	}
	return bidirectionalStream{}
}

// maxDrainReads bounds the reads spent discarding overrun input per readiness
// event; discarding continues on later events until the client goes quiet.
const maxDrainReads = 16

func other(side Side) Side {
	if side == ClientSide {
		return UpstreamSide
	}
	return ClientSide
}

func closedBy(side Side) CloseReason {
	if side == ClientSide {
		return ReasonPeerClosed
	}
	return ReasonUpstreamClosed
}

func direction(from Side) Direction {
	if from == ClientSide {
		return ClientToUpstream
	}
	return UpstreamToClient
}

func hangupOnly(ready reactor.Interest) bool {
	return ready&(reactor.Read|reactor.Write) == 0
}

func (s *Session) dialUpstream() error {
	d := net.Dialer{Timeout: s.cfg.ConnectTimeout}
	c, err := d.DialContext(s.loop.ctx, "tcp", s.Dest.Addr())
	if err != nil {
		return &UpstreamConnectError{Dest: s.Dest, Err: err}
	}
	tc, ok := c.(*net.TCPConn)
	if !ok {
		_ = c.Close()
		return &UpstreamConnectError{Dest: s.Dest, Err: errors.New("not a tcp connection")}
	}
	sock, err := newSocket(tc)
	if err != nil {
		_ = tc.Close()
		return &UpstreamConnectError{Dest: s.Dest, Err: err}
	}
	s.upstream = sock
	return nil
}

// readFailed closes s for a failed or finished read on side and reports
// whether it did.
func (s *Session) readFailed(side Side, err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, io.EOF):
		s.Close(closedBy(side), nil)
	default:
		s.Close(ReasonIOError, &PartialIOError{Op: "read", Side: side, Err: err})
	}
	return true
}

func (s *Session) writeFailed(side Side, err error) bool {
	if err == nil {
		return false
	}
	s.Close(ReasonIOError, &PartialIOError{Op: "write", Side: side, Err: err})
	return true
}

// fail closes s on a reactor registration error.
func (s *Session) fail(err error) bool {
	if err == nil {
		return false
	}
	s.Close(ReasonIOError, err)
	return true
}

type storeAndForward struct {
	exchange Exchange
}

func (e storeAndForward) Start(s *Session) {
	if s.fail(s.registerRead(ClientSide)) {
		return
	}
	s.state = AwaitingClientRead
}

func (e storeAndForward) OnReady(s *Session, side Side, ready reactor.Interest) {
	if hangupOnly(ready) {
		s.Close(closedBy(side), nil)
		return
	}
	if s.discarding && side == ClientSide && ready&reactor.Read != 0 {
		e.discard(s)
		if s.Closed() {
			return
		}
		ready &^= reactor.Read
	}
	switch s.state {
	case AwaitingClientRead:
		if side == ClientSide && ready&reactor.Read != 0 {
			e.readRequest(s)
		}
	case Forwarding:
		if side == UpstreamSide && ready&reactor.Write != 0 {
			e.flushRequest(s)
		}
	case AwaitingUpstreamResponse:
		if side == UpstreamSide && ready&reactor.Read != 0 {
			e.readResponse(s)
		}
	case AwaitingClientWrite:
		if side == ClientSide && ready&reactor.Write != 0 {
			e.flushResponse(s)
		}
	}
}

func (e storeAndForward) readRequest(s *Session) {
	n, err := s.client.read(s.buf)
	if s.readFailed(ClientSide, err) || n == 0 {
		return
	}
	s.touch()
	s.state = Forwarding
	if n == len(s.buf) {
		n = e.truncate(s, n)
		if s.Closed() {
			return
		}
	}
	// Overrun input is still being discarded, so client read interest stays.
	if !s.discarding && s.fail(s.unregisterRead(ClientSide)) {
		return
	}
	if s.upstream == nil {
		if err := s.dialUpstream(); err != nil {
			s.Close(ReasonConnectFailed, err)
			return
		}
	}
	payload := s.buf[:n]
	s.upstream.queue(payload)
	s.forwarded(ClientToUpstream, payload)
	e.flushRequest(s)
}

// truncate handles a capture that filled the whole buffer. If more input is
// already waiting the payload keeps capacity-1 bytes and everything the
// client queued behind it is discarded; otherwise the full payload stands.
func (e storeAndForward) truncate(s *Session, n int) int {
	m, err := s.client.read(s.resp)
	switch {
	case errors.Is(err, io.EOF):
		s.peerDone = true
		return n
	case err != nil:
		s.Close(ReasonIOError, &PartialIOError{Op: "read", Side: ClientSide, Err: err})
		return n
	case m == 0:
		return n
	}
	s.discarding = true
	e.discard(s)
	return n - 1
}

// discard drops client input left behind a truncated capture, at most
// maxDrainReads reads per call. It stops once a read finds nothing queued.
// Discarded bytes do not count as activity.
func (e storeAndForward) discard(s *Session) {
	for i := 0; i < maxDrainReads; i++ {
		m, err := s.client.read(s.resp)
		switch {
		case errors.Is(err, io.EOF):
			s.peerDone = true
			e.stopDiscarding(s)
			return
		case err != nil:
			s.Close(ReasonIOError, &PartialIOError{Op: "read", Side: ClientSide, Err: err})
			return
		case m == 0:
			e.stopDiscarding(s)
			return
		}
	}
}

func (e storeAndForward) stopDiscarding(s *Session) {
	s.discarding = false
	switch {
	case s.lingering:
		s.Close(ReasonExchangeComplete, nil)
	case s.state == AwaitingClientRead:
		if s.peerDone {
			s.Close(ReasonPeerClosed, nil)
		}
	default:
		s.fail(s.unregisterRead(ClientSide))
	}
}

func (e storeAndForward) flushRequest(s *Session) {
	wrote, done, err := s.upstream.flush()
	if s.writeFailed(UpstreamSide, err) {
		return
	}
	if wrote > 0 {
		s.touch()
	}
	if !done {
		s.fail(s.registerWrite(UpstreamSide))
		return
	}
	if s.fail(s.unregisterWrite(UpstreamSide)) || s.fail(s.registerRead(UpstreamSide)) {
		return
	}
	s.state = AwaitingUpstreamResponse
}

func (e storeAndForward) readResponse(s *Session) {
	n, err := s.upstream.read(s.resp)
	if s.readFailed(UpstreamSide, err) || n == 0 {
		return
	}
	s.touch()
	if s.fail(s.unregisterRead(UpstreamSide)) {
		return
	}
	chunk := s.resp[:n]
	s.client.queue(chunk)
	s.forwarded(UpstreamToClient, chunk)
	s.state = AwaitingClientWrite
	e.flushResponse(s)
}

func (e storeAndForward) flushResponse(s *Session) {
	wrote, done, err := s.client.flush()
	if s.writeFailed(ClientSide, err) {
		return
	}
	if wrote > 0 {
		s.touch()
	}
	if !done {
		s.fail(s.registerWrite(ClientSide))
		return
	}
	if s.fail(s.unregisterWrite(ClientSide)) {
		return
	}
	switch {
	case e.exchange != ExchangeReuse && s.discarding:
		// Closing with unread input would reset the client. Signal the end of
		// the response and close once the overrun is drained.
		s.lingering = true
		if err := s.client.conn.CloseWrite(); err != nil {
			s.Close(ReasonIOError, &PartialIOError{Op: "write", Side: ClientSide, Err: err})
		}
	case e.exchange != ExchangeReuse:
		s.Close(ReasonExchangeComplete, nil)
	case s.peerDone:
		s.Close(ReasonPeerClosed, nil)
	default:
		if s.fail(s.registerRead(ClientSide)) {
			return
		}
		s.state = AwaitingClientRead
	}
}

type bidirectionalStream struct{}

func (bidirectionalStream) Start(s *Session) {
	if err := s.dialUpstream(); err != nil {
		s.Close(ReasonConnectFailed, err)
		return
	}
	if s.fail(s.registerRead(ClientSide)) || s.fail(s.registerRead(UpstreamSide)) {
		return
	}
	s.state = BidirectionalRelay
}

func (e bidirectionalStream) OnReady(s *Session, side Side, ready reactor.Interest) {
	if s.state != BidirectionalRelay {
		return
	}
	if hangupOnly(ready) {
		s.Close(closedBy(side), nil)
		return
	}
	if ready&reactor.Write != 0 && !e.drain(s, side) {
		return
	}
	if ready&reactor.Read != 0 {
		e.pump(s, side)
	}
}

// drain flushes bytes held for side and resumes reading from the opposite
// socket once they are all out. It reports whether the session is still
// open.
func (bidirectionalStream) drain(s *Session, side Side) bool {
	sock := s.sock(side)
	wrote, done, err := sock.flush()
	if s.writeFailed(side, err) {
		return false
	}
	if wrote > 0 {
		s.touch()
	}
	if !done {
		return true
	}
	return !s.fail(s.unregisterWrite(side)) && !s.fail(s.registerRead(other(side)))
}

// pump moves one chunk from side to its peer. Bytes the peer cannot take yet
// are held, and side is not read again until they are flushed.
func (bidirectionalStream) pump(s *Session, from Side) {
	src, dst := s.sock(from), s.sock(other(from))
	if len(dst.pending) > 0 {
		return
	}
	n, err := src.read(s.buf)
	if s.readFailed(from, err) || n == 0 {
		return
	}
	s.touch()
	chunk := s.buf[:n]
	s.forwarded(direction(from), chunk)
	w, err := dst.write(chunk)
	if s.writeFailed(other(from), err) {
		return
	}
	if w == n {
		return
	}
	dst.queue(chunk[w:])
	if s.fail(s.unregisterRead(from)) {
		return
	}
	s.fail(s.registerWrite(other(from)))
}
