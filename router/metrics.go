package router

import "github.com/prometheus/client_golang/prometheus"

// Metrics is an optional set of prometheus collectors a caller can attach
// via WithMetrics; nothing in the router depends on them, so a server
// built without metrics pays no cost beyond nil checks.
type Metrics struct {
	requestsTotal   *prometheus.CounterVec
	notFoundTotal   prometheus.Counter
	dispatchSeconds prometheus.Histogram
}

// NewMetrics registers the router's collectors on reg and returns a
// Metrics handle. Call WithMetrics on a Builder to attach it.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coaphald",
			Subsystem: "router",
			Name:      "requests_total",
			Help:      "Requests dispatched, labelled by matched resource.",
		}, []string{"resource"}),
		notFoundTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "coaphald",
			Subsystem: "router",
			Name:      "not_found_total",
			Help:      "Requests that matched no registered resource.",
		}),
		dispatchSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "coaphald",
			Subsystem: "router",
			Name:      "dispatch_seconds",
			Help:      "Time spent dispatching to a resource, including block handler interception.",
		}),
	}
	reg.MustRegister(m.requestsTotal, m.notFoundTotal, m.dispatchSeconds)
	return m
}

// WithMetrics attaches a Metrics handle to the Builder; Build wires it
// into the resulting Server. Never call this twice on the same Builder.
func (b *Builder) WithMetrics(m *Metrics) *Builder {
	b.metrics = m
	return b
}
