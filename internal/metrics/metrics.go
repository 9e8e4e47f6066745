// Package metrics records store activity with Prometheus collectors.
package metrics

import (
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"
)

// Recorder receives store and stream events.
type Recorder interface {
	MutationCompleted(op string, err error)
	QueryCompleted(query string, d time.Duration, err error)
	StreamOpened(stream string)
	StreamClosed(stream string)
	ChangesDropped(n int)
}

// Nop discards everything.
type Nop struct{}

func (Nop) MutationCompleted(string, error) {}
func (Nop) QueryCompleted(string, time.Duration, error) {}
func (Nop) StreamOpened(string) {}
func (Nop) StreamClosed(string) {}
func (Nop) ChangesDropped(int) {}

type PrometheusRecorder struct {
	mutations      *prometheus.CounterVec
	queryDuration  *prometheus.HistogramVec
	queryErrors    *prometheus.CounterVec
	openStreams    *prometheus.GaugeVec
	droppedChanges prometheus.Counter
}

// NewPrometheusRecorder registers the expense store collectors on reg.
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	factory := promauto.With(reg)
	return &PrometheusRecorder{
		mutations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "expense_store_mutations_total",
				Help: "Total number of store mutations",
			},
			[]string{"operation", "status"},
		),
		queryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "expense_store_query_duration_milliseconds",
				Help:    "Store query duration in milliseconds",
				Buckets: prometheus.ExponentialBuckets(0.25, 2, 12),
			},
			[]string{"query"},
		),
		queryErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "expense_store_query_errors_total",
				Help: "Total number of failed store queries",
			},
			[]string{"query"},
		),
		openStreams: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "expense_store_open_streams",
				Help: "Number of live query streams currently open",
			},
			[]string{"stream"},
		),
		droppedChanges: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "expense_store_dropped_changes_total",
				Help: "Changes not delivered to a subscriber because its buffer was full",
			},
		),
	}
}

func (m *PrometheusRecorder) MutationCompleted(op string, err error) {
	m.mutations.WithLabelValues(op, status(err)).Inc()
}

func (m *PrometheusRecorder) QueryCompleted(query string, d time.Duration, err error) {
	m.queryDuration.WithLabelValues(query).Observe(float64(d.Microseconds()) / 1000)
	if err != nil {
		m.queryErrors.WithLabelValues(query).Inc()
	}
}

func (m *PrometheusRecorder) StreamOpened(stream string) {
	m.openStreams.WithLabelValues(stream).Inc()
}

func (m *PrometheusRecorder) StreamClosed(stream string) {
	m.openStreams.WithLabelValues(stream).Dec()
}

func (m *PrometheusRecorder) ChangesDropped(n int) {
	if n > 0 {
		m.droppedChanges.Add(float64(n))
	}
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// WriteText dumps every metric family gathered from g in the Prometheus
// text exposition format.
func WriteText(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}
