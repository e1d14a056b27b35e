package reactor

import (
	"time"

	"golang.org/x/sys/unix"
)

const maxEpollEvents = 128

type epoller struct {
	fd     int
	events []unix.EpollEvent
}

func newEpoll() (poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &epoller{fd: fd, events: make([]unix.EpollEvent, maxEpollEvents)}, nil
}

func epollMask(in Interest) uint32 {
	var m uint32
	if in&Read != 0 {
		m |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if in&Write != 0 {
		m |= unix.EPOLLOUT
	}
	return m
}

func (p *epoller) add(fd int, in Interest) error {
	ev := unix.EpollEvent{Events: epollMask(in), Fd: int32(fd)}
	return unix.EpollCtl(p.fd, unix.EPOLL_CTL_ADD, fd, &ev)
}

func (p *epoller) modify(fd int, in Interest) error {
	ev := unix.EpollEvent{Events: epollMask(in), Fd: int32(fd)}
	return unix.EpollCtl(p.fd, unix.EPOLL_CTL_MOD, fd, &ev)
}

func (p *epoller) remove(fd int) error {
	return unix.EpollCtl(p.fd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (p *epoller) wait(timeout time.Duration, fn func(int, Interest)) error {
	n, err := unix.EpollWait(p.fd, p.events, timeoutMillis(timeout))
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		ev := p.events[i]
		var ready Interest
		if ev.Events&(unix.EPOLLIN|unix.EPOLLRDHUP) != 0 {
			ready |= Read
		}
		if ev.Events&unix.EPOLLOUT != 0 {
			ready |= Write
		}
		if ev.Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
			ready |= Read | Write | Hangup
		}
		fn(int(ev.Fd), ready)
	}
	return nil
}

func (p *epoller) close() error { return unix.Close(p.fd) }
