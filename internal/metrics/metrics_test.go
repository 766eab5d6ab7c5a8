package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMetricsHandlerExposesRecordedValues(t *testing.T) {
	m := NewMetrics()
	m.RecordRequest("hit")
	m.RecordCacheHit()
	m.RecordCacheMiss()
	m.AddBytesTransferred(128)
	m.UpdateOriginHealth("10.0.0.1:80", true)
	m.SetCacheOccupancy(1000, 1_048_000)
	m.IncrementConnections()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	m.Handler().ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "proxy_requests_total")
	assert.Contains(t, body, "proxy_cache_hits_total 1")
	assert.Contains(t, body, "proxy_cache_misses_total 1")
	assert.Contains(t, body, "proxy_bytes_transferred_total 128")
	assert.Contains(t, body, `proxy_origin_backend_health{addr="10.0.0.1:80"} 1`)
}

func TestNewMetricsInstancesDoNotCollide(t *testing.T) {
	a := NewMetrics()
	b := NewMetrics()
	a.RecordCacheHit()
	b.RecordCacheMiss()
	// Each instance owns its own registry, so constructing two in the
	// same test process must not panic on duplicate registration.
}
