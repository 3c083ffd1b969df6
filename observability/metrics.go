package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"pinpilot-telemetry/application"
)

var (
	registerOnce sync.Once

	linkState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "pinpilot",
			Subsystem: "link",
			Name:      "state",
			Help:      "Link state (0 disassociated, 1 associating, 2 associated, 3 failed).",
		},
	)
	sessionState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "pinpilot",
			Subsystem: "session",
			Name:      "state",
			Help:      "Session state (0 disconnected, 1 connecting, 2 connected, 3 backoff).",
		},
	)
	outboxDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "pinpilot",
			Subsystem: "outbox",
			Name:      "depth",
			Help:      "Messages waiting for the next session.",
		},
	)
	messagesSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pinpilot",
			Subsystem: "session",
			Name:      "messages_sent_total",
			Help:      "Messages accepted by the broker.",
		},
	)
	messagesDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pinpilot",
			Subsystem: "outbox",
			Name:      "messages_dropped_total",
			Help:      "Messages evicted by the drop-oldest policy.",
		},
	)
	sessionReconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pinpilot",
			Subsystem: "session",
			Name:      "reconnects_total",
			Help:      "Successful session establishments.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			linkState,
			sessionState,
			outboxDepth,
			messagesSent,
			messagesDropped,
			sessionReconnects,
		)
	})
}

// Reporter translates stats snapshots into metrics. Totals arrive as
// monotonic snapshot values, so the reporter keeps the previous
// snapshot and feeds the counters the difference.
type Reporter struct {
	mu   sync.Mutex
	last application.Stats
}

func NewReporter() *Reporter {
	RegisterMetrics()
	return &Reporter{}
}

func (r *Reporter) Record(stats application.Stats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	linkState.Set(float64(stats.Link))
	sessionState.Set(float64(stats.Session.State))
	outboxDepth.Set(float64(stats.Session.Buffered))

	if d := stats.Session.Sent - r.last.Session.Sent; d > 0 {
		messagesSent.Add(float64(d))
	}
	if d := stats.Session.Dropped - r.last.Session.Dropped; d > 0 {
		messagesDropped.Add(float64(d))
	}
	if d := stats.Session.Reconnects - r.last.Session.Reconnects; d > 0 {
		sessionReconnects.Add(float64(d))
	}

	r.last = stats
}
