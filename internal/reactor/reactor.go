// Package reactor multiplexes readiness of many sockets onto one goroutine.
//
// A Reactor is owned by the loop that calls RunOnce; none of its methods are
// safe for concurrent use. Registered descriptors belong to net.Conn values
// whose runtime poller keeps them non-blocking, so the reactor only reports
// readiness and never reads or writes itself.
package reactor

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// Interest is a set of readiness conditions.
type Interest uint8

const (
	Read Interest = 1 << iota
	Write
	// Hangup is only ever reported, never registered: the descriptor hit an
	// error or was hung up on. It is delivered even with no interest set.
	Hangup
)

func (i Interest) String() string {
	var parts []string
	if i&Read != 0 {
		parts = append(parts, "read")
	}
	if i&Write != 0 {
		parts = append(parts, "write")
	}
	if i&Hangup != 0 {
		parts = append(parts, "hangup")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// Event is one ready descriptor. Ref is the value given at registration.
type Event struct {
	FD    int
	Ready Interest
	Ref   any
}

// Backend selects the readiness syscall.
type Backend string

const (
	BackendAuto  Backend = "auto"
	BackendEpoll Backend = "epoll"
	BackendPoll  Backend = "poll"
)

// ErrUnsupported is returned for a backend the platform does not have.
var ErrUnsupported = errors.New("reactor backend not supported on " + runtime.GOOS)

// ParseBackend accepts "", auto, epoll or poll.
func ParseBackend(s string) (Backend, error) {
	switch b := Backend(strings.ToLower(strings.TrimSpace(s))); b {
	case "", BackendAuto:
		return BackendAuto, nil
	case BackendEpoll, BackendPoll:
		return b, nil
	default:
		return "", fmt.Errorf("unknown reactor backend %q", s)
	}
}

type poller interface {
	add(fd int, in Interest) error
	modify(fd int, in Interest) error
	remove(fd int) error
	// wait blocks up to timeout (negative: forever) and calls fn for each
	// ready descriptor. Error and hangup conditions are reported as Hangup
	// plus both readable and writable, so the owner observes them on its
	// next I/O call.
	wait(timeout time.Duration, fn func(fd int, ready Interest)) error
	close() error
}

type registration struct {
	interest Interest
	ref      any
}

// Reactor tracks registrations over a single selection context.
type Reactor struct {
	backend Backend
	p       poller
	regs    map[int]*registration
	events  []Event
	closed  bool
}

// New opens a selection context for backend. BackendAuto picks epoll where
// available and poll elsewhere.
func New(backend Backend) (*Reactor, error) {
	var (
		p   poller
		err error
	)
	switch backend {
	case "", BackendAuto:
		backend = BackendEpoll
		p, err = newEpoll()
		if errors.Is(err, ErrUnsupported) {
			backend = BackendPoll
			p, err = newPoll()
		}
	case BackendEpoll:
		p, err = newEpoll()
	case BackendPoll:
		p, err = newPoll()
	default:
		return nil, fmt.Errorf("unknown reactor backend %q", backend)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s reactor: %w", backend, err)
	}
	return &Reactor{backend: backend, p: p, regs: make(map[int]*registration)}, nil
}

// Backend reports the backend actually in use.
func (r *Reactor) Backend() Backend { return r.backend }

// RegisterForRead adds read interest for fd, registering it if needed.
func (r *Reactor) RegisterForRead(fd int, ref any) error { return r.register(fd, Read, ref) }

// RegisterForWrite adds write interest for fd, registering it if needed.
func (r *Reactor) RegisterForWrite(fd int, ref any) error { return r.register(fd, Write, ref) }

func (r *Reactor) register(fd int, in Interest, ref any) error {
	if r.closed {
		return errClosed
	}
	reg, ok := r.regs[fd]
	if !ok {
		if err := r.p.add(fd, in); err != nil {
			return fmt.Errorf("register fd %d: %w", fd, err)
		}
		r.regs[fd] = &registration{interest: in, ref: ref}
		return nil
	}
	reg.ref = ref
	if reg.interest&in == in {
		return nil
	}
	if err := r.p.modify(fd, reg.interest|in); err != nil {
		return fmt.Errorf("modify fd %d: %w", fd, err)
	}
	reg.interest |= in
	return nil
}

// Unregister clears the given interest bits. The descriptor stays registered
// with whatever interest remains, possibly none.
func (r *Reactor) Unregister(fd int, in Interest) error {
	reg, ok := r.regs[fd]
	if !ok || reg.interest&in == 0 {
		return nil
	}
	next := reg.interest &^ in
	if err := r.p.modify(fd, next); err != nil {
		return fmt.Errorf("modify fd %d: %w", fd, err)
	}
	reg.interest = next
	return nil
}

// Deregister forgets fd entirely. Unknown descriptors are ignored so callers
// can tear down unconditionally. Call it before closing the descriptor.
func (r *Reactor) Deregister(fd int) error {
	if _, ok := r.regs[fd]; !ok {
		return nil
	}
	delete(r.regs, fd)
	if r.closed {
		return nil
	}
	if err := r.p.remove(fd); err != nil && !errors.Is(err, unix.ENOENT) && !errors.Is(err, unix.EBADF) {
		return fmt.Errorf("deregister fd %d: %w", fd, err)
	}
	return nil
}

// Interest reports the current interest for fd.
func (r *Reactor) Interest(fd int) (Interest, bool) {
	reg, ok := r.regs[fd]
	if !ok {
		return 0, false
	}
	return reg.interest, true
}

// Len is the number of registered descriptors.
func (r *Reactor) Len() int { return len(r.regs) }

var errClosed = errors.New("reactor closed")

// RunOnce waits up to timeout for readiness. A timeout yields no events and
// no error, as does a wait interrupted by a signal. The returned slice is
// reused by the next call.
func (r *Reactor) RunOnce(timeout time.Duration) ([]Event, error) {
	if r.closed {
		return nil, errClosed
	}
	r.events = r.events[:0]
	err := r.p.wait(timeout, func(fd int, ready Interest) {
		reg, ok := r.regs[fd]
		if !ok {
			return
		}
		ready &= reg.interest | Hangup
		if ready == 0 {
			return
		}
		r.events = append(r.events, Event{FD: fd, Ready: ready, Ref: reg.ref})
	})
	if err != nil {
		if errors.Is(err, syscall.EINTR) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s wait: %w", r.backend, err)
	}
	return r.events, nil
}

// Close releases the selection context. Registered descriptors are not
// closed.
func (r *Reactor) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.regs = map[int]*registration{}
	return r.p.close()
}

// FD extracts the descriptor of a socket without changing its mode.
func FD(c syscall.Conn) (int, error) {
	rc, err := c.SyscallConn()
	if err != nil {
		return -1, err
	}
	fd := -1
	if err := rc.Control(func(f uintptr) { fd = int(f) }); err != nil {
		return -1, err
	}
	return fd, nil
}

func timeoutMillis(d time.Duration) int {
	if d < 0 {
		return -1
	}
	ms := d.Milliseconds()
	if ms == 0 && d > 0 {
		ms = 1
	}
	return int(ms)
}
