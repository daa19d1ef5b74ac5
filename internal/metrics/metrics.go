// Package metrics exports bridge activity as Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"hue-go-bridge/internal/events"
)

// Subscriber delivers every bus event.
type Subscriber interface {
	OnAll(h events.Handler) func()
}

// Metrics implements the dispatcher and automation observers.
type Metrics struct {
	requests      *prometheus.CounterVec
	unhandled     *prometheus.CounterVec
	ruleTriggers  *prometheus.CounterVec
	scheduleFires *prometheus.CounterVec
	daylight      prometheus.Gauge
	events        *prometheus.CounterVec
	gatherer      prometheus.Gatherer
	unsubscribe   func()
}

// New creates the collectors and registers them with reg. The registry is
// also what Handler serves.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "huebridge_requests_total",
				Help: "API requests answered, by resource family and method.",
			},
			[]string{"family", "method"}),
		unhandled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "huebridge_unhandled_requests_total",
				Help: "API requests no route answered.",
			},
			[]string{"method"}),
		ruleTriggers: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "huebridge_rule_triggers_total",
				Help: "Rule firings.",
			},
			[]string{"rule"}),
		scheduleFires: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "huebridge_schedule_fires_total",
				Help: "Schedule commands executed.",
			},
			[]string{"schedule"}),
		daylight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "huebridge_daylight",
				Help: "1 between sunrise and sunset, else 0.",
			}),
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "huebridge_events_total",
				Help: "Bus events delivered, by type.",
			},
			[]string{"type"}),
		gatherer: reg,
	}
	reg.MustRegister(m.requests)
	reg.MustRegister(m.unhandled)
	reg.MustRegister(m.ruleTriggers)
	reg.MustRegister(m.scheduleFires)
	reg.MustRegister(m.daylight)
	reg.MustRegister(m.events)
	return m
}

// Start counts every bus event.
func (m *Metrics) Start(sub Subscriber) {
	m.unsubscribe = sub.OnAll(func(ev events.Event) {
		m.events.WithLabelValues(ev.Type).Inc()
	})
}

func (m *Metrics) Stop() {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) RequestHandled(family, method string) {
	m.requests.WithLabelValues(family, method).Inc()
}

func (m *Metrics) RequestUnhandled(method string) {
	m.unhandled.WithLabelValues(method).Inc()
}

func (m *Metrics) RuleTriggered(id string) {
	m.ruleTriggers.WithLabelValues(id).Inc()
}

func (m *Metrics) ScheduleFired(id string) {
	m.scheduleFires.WithLabelValues(id).Inc()
}

func (m *Metrics) DaylightChanged(daylight bool) {
	if daylight {
		m.daylight.Set(1)
	} else {
		m.daylight.Set(0)
	}
}
