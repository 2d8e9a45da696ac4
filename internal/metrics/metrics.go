// Package metrics exposes Prometheus collectors for withholding outcomes and
// HTTP traffic.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

type Metrics struct {
	registry *prometheus.Registry

	withholdings      *prometheus.CounterVec
	withheldAmount    *prometheus.CounterVec
	withholdingSkips  *prometheus.CounterVec
	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
	workerBatchEvents prometheus.Counter
}

// New registers all collectors on a fresh registry together with the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		withholdings: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "creatorbank",
			Name:      "withholdings_total",
			Help:      "Tax withholdings applied, by currency.",
		}, []string{"currency"}),
		withheldAmount: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "creatorbank",
			Name:      "withheld_amount_total",
			Help:      "Sum of withheld amounts in major currency units, by currency.",
		}, []string{"currency"}),
		withholdingSkips: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "creatorbank",
			Name:      "withholdings_skipped_total",
			Help:      "Withholding attempts that changed nothing, by reason.",
		}, []string{"reason"}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "creatorbank",
			Name:      "http_requests_total",
			Help:      "HTTP requests served, by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "creatorbank",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		workerBatchEvents: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "creatorbank",
			Name:      "sweeper_withholdings_total",
			Help:      "Earnings withheld by the periodic sweep.",
		}),
	}
}

// ObserveWithholding implements tax.Recorder.
func (m *Metrics) ObserveWithholding(currency string, amount decimal.Decimal) {
	m.withholdings.WithLabelValues(currency).Inc()
	m.withheldAmount.WithLabelValues(currency).Add(amount.InexactFloat64())
}

// ObserveWithholdingSkipped implements tax.Recorder.
func (m *Metrics) ObserveWithholdingSkipped(reason string) {
	m.withholdingSkips.WithLabelValues(reason).Inc()
}

// ObserveSweep counts earnings processed by one sweeper pass.
func (m *Metrics) ObserveSweep(processed int) {
	if processed > 0 {
		m.workerBatchEvents.Add(float64(processed))
	}
}

// ObserveHTTP records one served request. route is the matched pattern, not
// the raw path, so user ids do not explode label cardinality.
func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
