package relay

import (
	"errors"
	"fmt"

	"github.com/matst80/tcprelay/internal/endpoint"
)

// ErrRoutingMiss means an accepted connection's listen endpoint has no
// mapping. The connection is closed and reported; nothing is retried.
var ErrRoutingMiss = errors.New("no mapping for listen endpoint")

// ErrRejected is reported for connections refused by the limiter.
var ErrRejected = errors.New("connection rate limited")

// BindError is fatal at startup.
type BindError struct {
	Endpoint endpoint.Endpoint
	Err      error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("bind %s: %v", e.Endpoint.Addr(), e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

// UpstreamConnectError closes the client without writing anything to it.
type UpstreamConnectError struct {
	Dest endpoint.Endpoint
	Err  error
}

func (e *UpstreamConnectError) Error() string {
	return fmt.Sprintf("connect upstream %s: %v", e.Dest.Addr(), e.Err)
}

func (e *UpstreamConnectError) Unwrap() error { return e.Err }

// PartialIOError is a read or write failure in the middle of a transfer.
type PartialIOError struct {
	Op   string
	Side Side
	Err  error
}

func (e *PartialIOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Side, e.Op, e.Err)
}

func (e *PartialIOError) Unwrap() error { return e.Err }
