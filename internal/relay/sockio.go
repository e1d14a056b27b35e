//go:build unix

package relay

import (
	"errors"
	"io"
	"net"
	"syscall"

	"github.com/matst80/tcprelay/internal/reactor"
	"golang.org/x/sys/unix"
)

// socket performs single non-blocking syscalls on a TCP connection. A return
// of (0, nil) means the descriptor was not ready.
type socket struct {
	conn    *net.TCPConn
	raw     syscall.RawConn
	fd      int
	pending []byte
	closed  bool
}

func newSocket(c *net.TCPConn) (*socket, error) {
	raw, err := c.SyscallConn()
	if err != nil {
		return nil, err
	}
	fd, err := reactor.FD(c)
	if err != nil {
		return nil, err
	}
	return &socket{conn: c, raw: raw, fd: fd}, nil
}

func retryable(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EINTR)
}

func (s *socket) read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	var (
		n     int
		opErr error
	)
	err := s.raw.Read(func(fd uintptr) bool {
		n, opErr = unix.Read(int(fd), p)
		return true
	})
	if err != nil {
		return 0, err
	}
	if opErr != nil {
		if retryable(opErr) {
			return 0, nil
		}
		return 0, opErr
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

func (s *socket) write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	var (
		n     int
		opErr error
	)
	err := s.raw.Write(func(fd uintptr) bool {
		n, opErr = unix.Write(int(fd), p)
		return true
	})
	if err != nil {
		return 0, err
	}
	if opErr != nil {
		if retryable(opErr) {
			return 0, nil
		}
		return 0, opErr
	}
	return n, nil
}

// queue appends p to the pending output. p is copied.
func (s *socket) queue(p []byte) {
	s.pending = append(s.pending, p...)
}

// flush writes as much pending output as the socket accepts and reports
// whether everything went out.
func (s *socket) flush() (int, bool, error) {
	total := 0
	for len(s.pending) > 0 {
		n, err := s.write(s.pending)
		if err != nil {
			return total, false, err
		}
		if n == 0 {
			return total, false, nil
		}
		total += n
		s.pending = s.pending[n:]
	}
	s.pending = s.pending[:0]
	return total, true, nil
}

func (s *socket) close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}
