// Package metrics exposes client counters through Prometheus. A nil *Metrics
// is valid and records nothing.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/julianstephens/evlog/internal/evlog/conn"
)

// Config configures New.
type Config struct {
	// Namespace is the metrics namespace (default: "evlog").
	Namespace string

	// ConstLabels are added to every metric, e.g. the server address.
	ConstLabels prometheus.Labels

	// Registry receives the collectors (default: prometheus.DefaultRegisterer).
	Registry prometheus.Registerer
}

// Result label values.
const (
	ResultOK       = "ok"
	ResultError    = "error"
	ResultConflict = "conflict"
)

type Metrics struct {
	dials      *prometheus.CounterVec
	reconnects prometheus.Counter
	replayed   prometheus.Counter
	sends      *prometheus.CounterVec
	events     prometheus.Counter
	queued     prometheus.Gauge
}

// New registers the client collectors. Registering twice on the same
// registry panics, as promauto does.
func New(cfg Config) *Metrics {
	if cfg.Namespace == "" {
		cfg.Namespace = "evlog"
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(cfg.Registry)

	return &Metrics{
		dials: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   "client",
			Name:        "dials_total",
			Help:        "Connection attempts by result",
			ConstLabels: cfg.ConstLabels,
		}, []string{"result"}),

		reconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   "client",
			Name:        "reconnects_total",
			Help:        "Connections established after the first one",
			ConstLabels: cfg.ConstLabels,
		}),

		replayed: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   "client",
			Name:        "replayed_requests_total",
			Help:        "Queued requests reissued on a new connection",
			ConstLabels: cfg.ConstLabels,
		}),

		sends: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   "client",
			Name:        "sends_total",
			Help:        "Answered appends by result",
			ConstLabels: cfg.ConstLabels,
		}, []string{"result"}),

		events: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   "client",
			Name:        "events_received_total",
			Help:        "Events delivered to the subscription handler",
			ConstLabels: cfg.ConstLabels,
		}),

		queued: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   "client",
			Name:        "queued_requests",
			Help:        "Requests waiting for an answer",
			ConstLabels: cfg.ConstLabels,
		}),
	}
}

func (m *Metrics) ObserveDial(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.dials.WithLabelValues(ResultError).Inc()
		return
	}
	m.dials.WithLabelValues(ResultOK).Inc()
}

// ObserveReconnect records a connection after the first along with the
// number of requests replayed on it.
func (m *Metrics) ObserveReconnect(replayed int) {
	if m == nil {
		return
	}
	m.reconnects.Inc()
	m.replayed.Add(float64(replayed))
}

func (m *Metrics) ObserveSend(err error) {
	if m == nil {
		return
	}
	switch {
	case err == nil:
		m.sends.WithLabelValues(ResultOK).Inc()
	case errors.Is(err, conn.ErrVersionConflict):
		m.sends.WithLabelValues(ResultConflict).Inc()
	default:
		m.sends.WithLabelValues(ResultError).Inc()
	}
}

func (m *Metrics) AddEvents(n int) {
	if m == nil {
		return
	}
	m.events.Add(float64(n))
}

func (m *Metrics) SetQueued(n int) {
	if m == nil {
		return
	}
	m.queued.Set(float64(n))
}
