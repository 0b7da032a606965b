package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/odyssey-erp/odyssey-books/internal/accounting/shared"
	jobmetrics "github.com/odyssey-erp/odyssey-books/internal/jobs"
)

// Metrics mengumpulkan metrik Prometheus untuk aplikasi.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	allocations        *prometheus.CounterVec
	allocationAttempts *prometheus.HistogramVec
	postings           *prometheus.CounterVec

	jobs *jobmetrics.Metrics
}

// NewMetrics menginisialisasi registry dan metrik dasar.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_http_requests_total",
		Help: "Jumlah permintaan HTTP berdasarkan route dan status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "odyssey_http_request_duration_seconds",
		Help:    "Durasi permintaan HTTP per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	allocations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_voucher_allocations_total",
		Help: "Voucher number allocations by voucher type and outcome.",
	}, []string{"voucher_type", "outcome"})
	attempts := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "odyssey_voucher_allocation_attempts",
		Help:    "Candidates tried per voucher number allocation.",
		Buckets: []float64{1, 2, 3, 4, 5, 8},
	}, []string{"voucher_type"})
	postings := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_journal_postings_total",
		Help: "Journal postings by voucher type, status and outcome.",
	}, []string{"voucher_type", "status", "outcome"})
	registry.MustRegister(requests, duration, allocations, attempts, postings)
	return &Metrics{
		registry:           registry,
		handler:            promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:      requests,
		requestDuration:    duration,
		allocations:        allocations,
		allocationAttempts: attempts,
		postings:           postings,
		jobs:               jobmetrics.NewMetrics(registry),
	}
}

// Handler mengembalikan http.Handler untuk endpoint /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware mencatat metrik untuk setiap permintaan HTTP.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// ObserveAllocation records one voucher number allocation.
func (m *Metrics) ObserveAllocation(voucherType string, attempts int, err error) {
	if m == nil {
		return
	}
	m.allocations.WithLabelValues(voucherType, outcome(err)).Inc()
	if attempts > 0 {
		m.allocationAttempts.WithLabelValues(voucherType).Observe(float64(attempts))
	}
}

// ObservePosting records one journal posting.
func (m *Metrics) ObservePosting(voucherType string, status string, err error) {
	if m == nil {
		return
	}
	m.postings.WithLabelValues(voucherType, status, outcome(err)).Inc()
}

// Jobs returns the background job collectors sharing this registry.
func (m *Metrics) Jobs() *jobmetrics.Metrics {
	if m == nil {
		return nil
	}
	return m.jobs
}

// Registerer mengekspos registry untuk pendaftaran metrik khusus.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return shared.KindName(err)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
