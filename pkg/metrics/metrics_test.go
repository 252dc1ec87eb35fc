package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestMetrics(t *testing.T) {
	m := New()
	m.UpstreamRequest(http.MethodGet, http.StatusOK, 10*time.Millisecond)
	m.UpstreamRequest(http.MethodGet, http.StatusUnauthorized, 10*time.Millisecond)
	m.UpstreamRequest(http.MethodPost, 0, time.Millisecond)
	m.Reauthenticated()
	m.AuthRetry()
	m.AuthRetry()
	m.EnergyFailure("GAS", "fee")
	m.PollResult("devices", nil, time.Unix(1700000000, 0))
	m.PollResult("energy", errors.New("boom"), time.Now())

	out := scrape(t, m)
	assert.Contains(t, out, `hiot_upstream_requests_total{method="GET",status="2xx"} 1`)
	assert.Contains(t, out, `hiot_upstream_requests_total{method="GET",status="4xx"} 1`)
	assert.Contains(t, out, `hiot_upstream_requests_total{method="POST",status="error"} 1`)
	assert.Contains(t, out, `hiot_reauthentications_total 1`)
	assert.Contains(t, out, `hiot_auth_retries_total 2`)
	assert.Contains(t, out, `hiot_energy_fetch_failures_total{energy_type="GAS",metric="fee"} 1`)
	assert.Contains(t, out, `hiot_last_successful_poll_timestamp_seconds{loop="devices"} 1.7e+09`)
	assert.Contains(t, out, `hiot_poll_errors_total{loop="energy"} 1`)
}

func TestWrapHandler(t *testing.T) {
	m := New()
	h := m.WrapHandler("/api/states", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/states", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)

	assert.Contains(t, scrape(t, m), `hiot_http_requests_total{route="/api/states",status="418"} 1`)
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.UpstreamRequest(http.MethodGet, http.StatusOK, time.Second)
		m.Reauthenticated()
		m.AuthRetry()
		m.EnergyFailure("ELEC", "usage")
		m.PollResult("devices", nil, time.Now())
	})
	assert.Nil(t, m.Registry())

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	assert.NotNil(t, m.WrapHandler("/", next))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
