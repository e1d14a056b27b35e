package relay

import (
	"time"

	"github.com/matst80/tcprelay/internal/endpoint"
)

// Kind names a lifecycle event.
type Kind string

const (
	KindAccepted      Kind = "session.accepted"
	KindRoutingFailed Kind = "session.routing_failed"
	KindRejected      Kind = "session.rejected"
	KindForwarding    Kind = "session.forwarding"
	KindClosed        Kind = "session.closed"
	KindReactorError  Kind = "reactor.error"
	// KindAcceptError is a failed accept on a ready listener; the listener
	// stays registered.
	KindAcceptError Kind = "listener.accept_error"
)

// Direction of a forwarded chunk.
type Direction string

const (
	ClientToUpstream Direction = "client_to_upstream"
	UpstreamToClient Direction = "upstream_to_client"
)

// CloseReason explains a session.closed event.
type CloseReason string

const (
	ReasonPeerClosed       CloseReason = "peer_closed"
	ReasonUpstreamClosed   CloseReason = "upstream_closed"
	ReasonIOError          CloseReason = "io_error"
	ReasonConnectFailed    CloseReason = "upstream_connect_failed"
	ReasonIdleTimeout      CloseReason = "idle_timeout"
	ReasonExchangeComplete CloseReason = "exchange_complete"
	ReasonShutdown         CloseReason = "shutdown"
)

// Event is what the core reports. Fields not relevant to a Kind are zero.
type Event struct {
	Kind      Kind
	Time      time.Time
	Session   string
	Listen    endpoint.Endpoint
	Dest      endpoint.Endpoint
	Remote    string
	Bytes     int
	Direction Direction
	Reason    CloseReason
	Err       error
	// Data holds a copy of forwarded bytes when payload tracing is on.
	Data []byte
	// Duration is the session lifetime on session.closed.
	Duration time.Duration
}

// Sink consumes events. Emit is called from reactor goroutines and must not
// block for long.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Emit(e Event) { f(e) }

type nopSink struct{}

func (nopSink) Emit(Event) {}

// PayloadTracer is implemented by sinks that decide at emit time whether
// forwarding events should carry a copy of the payload. Sinks without it
// always get one while tracing is on.
type PayloadTracer interface {
	TracePayload() bool
}

func wantsPayload(s Sink) bool {
	if pt, ok := s.(PayloadTracer); ok {
		return pt.TracePayload()
	}
	return true
}

// NopSink discards events.
var NopSink Sink = nopSink{}
