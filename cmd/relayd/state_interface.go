package main

import (
	"context"

	"github.com/matst80/tcprelay/internal/relay"
)

// StateStore keeps process state for the ops endpoints; the Redis variant also
// shares it with other relay instances.
type StateStore interface {
	record(ev relay.Event)
	setClosing(closing bool)
	setReady(ready bool)
	isClosing() bool
	isReady() bool
	getStats() counters
	// peers returns the last published counters of every instance, including
	// this one. Local-only stores return nil.
	peers(ctx context.Context) ([]instanceCounters, error)
}

// counters are cumulative except Active.
type counters struct {
	Active          int64 `json:"active"`
	Accepted        int64 `json:"accepted"`
	Closed          int64 `json:"closed"`
	RoutingFailures int64 `json:"routing_failures"`
	Rejected        int64 `json:"rejected"`
	IdleTimeouts    int64 `json:"idle_timeouts"`
	ConnectFailures int64 `json:"connect_failures"`
	Errors          int64 `json:"errors"`
	BytesUp         int64 `json:"bytes_up"`
	BytesDown       int64 `json:"bytes_down"`
}

type instanceCounters struct {
	Instance string `json:"instance"`
	counters
}
