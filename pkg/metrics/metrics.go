package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors for the hiot client, the poller and the bridge
// server. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	upstreamRequests *prometheus.CounterVec
	upstreamDuration *prometheus.HistogramVec
	reauths          prometheus.Counter
	authRetries      prometheus.Counter
	energyFailures   *prometheus.CounterVec
	pollErrors       *prometheus.CounterVec
	lastPoll         *prometheus.GaugeVec
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
}

// New creates a Metrics with its own registry so that multiple instances can
// coexist in tests.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		upstreamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hiot",
			Name:      "upstream_requests_total",
			Help:      "Requests made to the HT HomeService API by method and status class.",
		}, []string{"method", "status"}),
		upstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "hiot",
			Name:      "upstream_request_duration_seconds",
			Help:      "Duration of requests made to the HT HomeService API.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		reauths: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hiot",
			Name:      "reauthentications_total",
			Help:      "Number of logins performed to recover an expired session.",
		}),
		authRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hiot",
			Name:      "auth_retries_total",
			Help:      "Number of requests retried after a 401 response.",
		}),
		energyFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hiot",
			Name:      "energy_fetch_failures_total",
			Help:      "Energy cells that could not be fetched by energy type and metric.",
		}, []string{"energy_type", "metric"}),
		pollErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hiot",
			Name:      "poll_errors_total",
			Help:      "Failed poll cycles by loop.",
		}, []string{"loop"}),
		lastPoll: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "hiot",
			Name:      "last_successful_poll_timestamp_seconds",
			Help:      "Unix time of the last successful poll by loop.",
		}, []string{"loop"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hiot",
			Name:      "http_requests_total",
			Help:      "Bridge HTTP requests by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "hiot",
			Name:      "http_request_duration_seconds",
			Help:      "Bridge HTTP request durations by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.upstreamRequests,
		m.upstreamDuration,
		m.reauths,
		m.authRetries,
		m.energyFailures,
		m.pollErrors,
		m.lastPoll,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func statusClass(code int) string {
	if code <= 0 {
		return "error"
	}
	return strconv.Itoa(code/100) + "xx"
}

// UpstreamRequest records one HTTP exchange with the HT HomeService API. A
// zero status means the request never got a response.
func (m *Metrics) UpstreamRequest(method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.upstreamRequests.WithLabelValues(method, statusClass(status)).Inc()
	m.upstreamDuration.WithLabelValues(method).Observe(d.Seconds())
}

// Reauthenticated records a recovery login.
func (m *Metrics) Reauthenticated() {
	if m == nil {
		return
	}
	m.reauths.Inc()
}

// AuthRetry records a request retried after a 401.
func (m *Metrics) AuthRetry() {
	if m == nil {
		return
	}
	m.authRetries.Inc()
}

// EnergyFailure records a failed energy cell.
func (m *Metrics) EnergyFailure(energyType, metric string) {
	if m == nil {
		return
	}
	m.energyFailures.WithLabelValues(energyType, metric).Inc()
}

// PollResult records the outcome of one poll cycle of loop.
func (m *Metrics) PollResult(loop string, err error, at time.Time) {
	if m == nil {
		return
	}
	if err != nil {
		m.pollErrors.WithLabelValues(loop).Inc()
		return
	}
	m.lastPoll.WithLabelValues(loop).Set(float64(at.Unix()))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// WrapHandler records the request count and duration of next under route.
func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		m.httpRequests.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}
