package main

import (
	"context"
	"sync"

	"github.com/matst80/tcprelay/internal/relay"
)

type serverState struct {
	mu      sync.Mutex
	closing bool
	ready   bool
	c       counters
}

func newServerState() *serverState {
	return &serverState{}
}

var _ StateStore = (*serverState)(nil)

func (s *serverState) setClosing(closing bool) { s.mu.Lock(); s.closing = closing; s.mu.Unlock() }
func (s *serverState) setReady(ready bool)     { s.mu.Lock(); s.ready = ready; s.mu.Unlock() }
func (s *serverState) isClosing() bool         { s.mu.Lock(); defer s.mu.Unlock(); return s.closing }
func (s *serverState) isReady() bool           { s.mu.Lock(); defer s.mu.Unlock(); return s.ready }

func (s *serverState) record(ev relay.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch ev.Kind {
	case relay.KindAccepted:
		s.c.Accepted++
		s.c.Active++
	case relay.KindRoutingFailed:
		s.c.RoutingFailures++
	case relay.KindRejected:
		s.c.Rejected++
	case relay.KindForwarding:
		if ev.Direction == relay.ClientToUpstream {
			s.c.BytesUp += int64(ev.Bytes)
		} else {
			s.c.BytesDown += int64(ev.Bytes)
		}
	case relay.KindClosed:
		s.c.Closed++
		// Sessions that failed before acceptance carry no ID and were never
		// counted as active.
		if ev.Session != "" {
			s.c.Active--
		}
		switch ev.Reason {
		case relay.ReasonIdleTimeout:
			s.c.IdleTimeouts++
		case relay.ReasonConnectFailed:
			s.c.ConnectFailures++
		}
	case relay.KindReactorError, relay.KindAcceptError:
		s.c.Errors++
	}
}

func (s *serverState) getStats() counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c
}

func (s *serverState) peers(context.Context) ([]instanceCounters, error) { return nil, nil }
