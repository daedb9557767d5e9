// Package metrics holds the Prometheus collectors of the pipeline. All
// methods are safe on a nil *Metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tiedye"

type Metrics struct {
	MessagesAccepted prometheus.Counter
	MessagesRejected *prometheus.CounterVec
	ScanTicks        prometheus.Counter
	Dispatched       prometheus.Counter
	InFlight         prometheus.Gauge
	Processed        *prometheus.CounterVec
	ConvertSeconds   prometheus.Histogram
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		MessagesAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_accepted_total",
			Help:      "Messages whose photo was placed in the queue.",
		}),
		MessagesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_rejected_total",
			Help:      "Recipients and messages refused, by reason.",
		}, []string{"reason"}),
		ScanTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_scans_total",
			Help:      "Queue directory scans.",
		}),
		Dispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_dispatched_total",
			Help:      "Queue entries handed to the processor.",
		}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_in_flight",
			Help:      "Queue entries currently being processed.",
		}),
		Processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "photos_processed_total",
			Help:      "Processor outcomes, by result.",
		}, []string{"result"}),
		ConvertSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "convert_duration_seconds",
			Help:      "Time spent in the conversion step.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
	}
	if reg != nil {
		reg.MustRegister(m.MessagesAccepted, m.MessagesRejected, m.ScanTicks,
			m.Dispatched, m.InFlight, m.Processed, m.ConvertSeconds)
	}
	return m
}

func (m *Metrics) Accepted() {
	if m != nil {
		m.MessagesAccepted.Inc()
	}
}

func (m *Metrics) Rejected(reason string) {
	if m != nil {
		m.MessagesRejected.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) Scanned() {
	if m != nil {
		m.ScanTicks.Inc()
	}
}

func (m *Metrics) DispatchStarted() {
	if m != nil {
		m.Dispatched.Inc()
		m.InFlight.Inc()
	}
}

func (m *Metrics) DispatchSettled() {
	if m != nil {
		m.InFlight.Dec()
	}
}

func (m *Metrics) Result(result string) {
	if m != nil {
		m.Processed.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) ObserveConvert(seconds float64) {
	if m != nil {
		m.ConvertSeconds.Observe(seconds)
	}
}
