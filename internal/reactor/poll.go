//go:build unix

package reactor

import (
	"time"

	"golang.org/x/sys/unix"
)

// poller backed by poll(2). The descriptor slice is rebuilt in place: removal
// swaps the last entry into the freed slot.
type pollPoller struct {
	fds   []unix.PollFd
	index map[int]int
}

func newPoll() (poller, error) {
	return &pollPoller{index: make(map[int]int)}, nil
}

func pollMask(in Interest) int16 {
	var m int16
	if in&Read != 0 {
		m |= unix.POLLIN
	}
	if in&Write != 0 {
		m |= unix.POLLOUT
	}
	return m
}

func (p *pollPoller) add(fd int, in Interest) error {
	if _, ok := p.index[fd]; ok {
		return unix.EEXIST
	}
	p.index[fd] = len(p.fds)
	p.fds = append(p.fds, unix.PollFd{Fd: int32(fd), Events: pollMask(in)})
	return nil
}

func (p *pollPoller) modify(fd int, in Interest) error {
	i, ok := p.index[fd]
	if !ok {
		return unix.ENOENT
	}
	p.fds[i].Events = pollMask(in)
	return nil
}

func (p *pollPoller) remove(fd int) error {
	i, ok := p.index[fd]
	if !ok {
		return unix.ENOENT
	}
	last := len(p.fds) - 1
	if i != last {
		p.fds[i] = p.fds[last]
		p.index[int(p.fds[i].Fd)] = i
	}
	p.fds = p.fds[:last]
	delete(p.index, fd)
	return nil
}

func (p *pollPoller) wait(timeout time.Duration, fn func(int, Interest)) error {
	if len(p.fds) == 0 {
		// poll(2) with no descriptors is a plain sleep.
		if timeout > 0 {
			time.Sleep(timeout)
		}
		return nil
	}
	n, err := unix.Poll(p.fds, timeoutMillis(timeout))
	if err != nil {
		return err
	}
	for i := 0; i < len(p.fds) && n > 0; i++ {
		re := p.fds[i].Revents
		if re == 0 {
			continue
		}
		n--
		var ready Interest
		if re&unix.POLLIN != 0 {
			ready |= Read
		}
		if re&unix.POLLOUT != 0 {
			ready |= Write
		}
		if re&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
			ready |= Read | Write | Hangup
		}
		fn(int(p.fds[i].Fd), ready)
	}
	return nil
}

func (p *pollPoller) close() error {
	p.fds = nil
	p.index = map[int]int{}
	return nil
}
