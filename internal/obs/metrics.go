package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveSessions         = promauto.NewGauge(prometheus.GaugeOpts{Name: "tcprelay_active_sessions", Help: "Sessions currently open"})
	SessionsAcceptedTotal  = promauto.NewCounter(prometheus.CounterOpts{Name: "tcprelay_sessions_accepted_total", Help: "Client connections routed to a session"})
	SessionsClosedTotal    = promauto.NewCounterVec(prometheus.CounterOpts{Name: "tcprelay_sessions_closed_total", Help: "Closed sessions by reason"}, []string{"reason"})
	RoutingFailuresTotal   = promauto.NewCounter(prometheus.CounterOpts{Name: "tcprelay_routing_failures_total", Help: "Connections with no mapping for their listen endpoint"})
	RejectedTotal          = promauto.NewCounter(prometheus.CounterOpts{Name: "tcprelay_rejected_total", Help: "Connections refused by the rate limiter"})
	BytesRelayedTotal      = promauto.NewCounterVec(prometheus.CounterOpts{Name: "tcprelay_bytes_relayed_total", Help: "Bytes forwarded by direction"}, []string{"direction"})
	ErrorsTotal            = promauto.NewCounterVec(prometheus.CounterOpts{Name: "tcprelay_errors_total", Help: "Errors by type"}, []string{"type"})
	SessionDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{Name: "tcprelay_session_duration_seconds", Help: "Session lifetime seconds", Buckets: prometheus.ExponentialBuckets(0.001, 2, 18)})
)
