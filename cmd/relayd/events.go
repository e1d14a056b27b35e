package main

import (
	"github.com/matst80/tcprelay/internal/obs"
	"github.com/matst80/tcprelay/internal/relay"
)

const previewLimit = 64

// eventSink turns relay events into log lines, Prometheus samples and state
// counters.
type eventSink struct {
	state StateStore
}

func newEventSink(state StateStore) *eventSink {
	return &eventSink{state: state}
}

// TracePayload limits payload copies to when previews are actually logged.
func (e *eventSink) TracePayload() bool { return obs.DebugEnabled() }

func (e *eventSink) Emit(ev relay.Event) {
	e.state.record(ev)
	name := string(ev.Kind)
	switch ev.Kind {
	case relay.KindAccepted:
		obs.SessionsAcceptedTotal.Inc()
		obs.ActiveSessions.Inc()
		obs.Info(name, eventFields(ev))
	case relay.KindRoutingFailed:
		obs.RoutingFailuresTotal.Inc()
		obs.Warn(name, eventFields(ev))
	case relay.KindRejected:
		obs.RejectedTotal.Inc()
		obs.Warn(name, eventFields(ev))
	case relay.KindForwarding:
		obs.BytesRelayedTotal.WithLabelValues(string(ev.Direction)).Add(float64(ev.Bytes))
		if obs.DebugEnabled() {
			f := eventFields(ev)
			if ev.Data != nil {
				f["preview"] = preview(ev.Data)
			}
			obs.Debug(name, f)
		}
	case relay.KindClosed:
		if ev.Session != "" {
			obs.ActiveSessions.Dec()
			obs.SessionDurationSeconds.Observe(ev.Duration.Seconds())
		}
		obs.SessionsClosedTotal.WithLabelValues(string(ev.Reason)).Inc()
		switch ev.Reason {
		case relay.ReasonIOError, relay.ReasonConnectFailed:
			obs.ErrorsTotal.WithLabelValues(string(ev.Reason)).Inc()
			obs.Error(name, eventFields(ev))
		default:
			obs.Info(name, eventFields(ev))
		}
	case relay.KindReactorError:
		obs.ErrorsTotal.WithLabelValues("reactor").Inc()
		obs.Error(name, eventFields(ev))
	case relay.KindAcceptError:
		obs.ErrorsTotal.WithLabelValues("accept").Inc()
		obs.Error(name, eventFields(ev))
	}
}

func eventFields(ev relay.Event) obs.Fields {
	f := obs.Fields{}
	if ev.Session != "" {
		f["session"] = ev.Session
	}
	if ev.Listen.Host != "" || ev.Listen.Port != 0 {
		f["listen"] = ev.Listen.Addr()
	}
	if ev.Dest.Host != "" {
		f["dest"] = ev.Dest.Addr()
		if ev.Dest.Encrypted {
			f["dest_ssl"] = true
		}
	}
	if ev.Remote != "" {
		f["remote"] = ev.Remote
	}
	if ev.Bytes > 0 {
		f["bytes"] = ev.Bytes
	}
	if ev.Direction != "" {
		f["direction"] = string(ev.Direction)
	}
	if ev.Reason != "" {
		f["reason"] = string(ev.Reason)
	}
	if ev.Duration > 0 {
		f["duration_ms"] = ev.Duration.Milliseconds()
	}
	if ev.Err != nil {
		f["err"] = ev.Err.Error()
	}
	return f
}

// preview renders up to previewLimit bytes with non-printable bytes as '.'.
func preview(b []byte) string {
	if len(b) > previewLimit {
		b = b[:previewLimit]
	}
	out := make([]byte, len(b))
	for i, c := range b {
		if c < 0x20 || c > 0x7e {
			c = '.'
		}
		out[i] = c
	}
	return string(out)
}
