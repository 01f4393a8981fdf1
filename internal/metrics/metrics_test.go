package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	return string(body)
}

func TestRecordRequest(t *testing.T) {
	m := New("test")
	m.RecordRequest(ResultSuccess, "svc1", 42*time.Millisecond)
	m.RecordRequest(ResultSuccess, "svc1", 10*time.Millisecond)
	m.RecordRequest(ResultUnauthorized, "unknown", time.Millisecond)

	body := scrape(t, m)
	assert.Contains(t, body, `credproxy_requests_total{result="success",service_name="svc1"} 2`)
	assert.Contains(t, body, `credproxy_requests_total{result="unauthorized",service_name="unknown"} 1`)
	assert.Contains(t, body, "credproxy_request_duration_seconds_bucket")
}

func TestActiveServicesGauge(t *testing.T) {
	m := New("test")
	m.SetActiveServices(3)
	assert.Contains(t, scrape(t, m), "credproxy_active_services_total 3")

	m.SetActiveServices(2)
	assert.Contains(t, scrape(t, m), "credproxy_active_services_total 2")
}

func TestAppInfoAndIsolation(t *testing.T) {
	m := New("1.2.3")
	body := scrape(t, m)
	assert.Contains(t, body, `credproxy_app_info{name="credproxy",version="1.2.3"} 1`)
	assert.NotContains(t, body, "go_goroutines", "runtime collectors must stay off the endpoint")
}
