package service

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsServiceExposesCollectors(t *testing.T) {
	m := NewMetricsService()
	m.ObserveHTTPRequest(http.MethodGet, "/api/v1/forms", http.StatusOK, 15*time.Millisecond)
	m.RecordWorkflow(OpReply, OutcomeSuccess)
	m.RecordReconcile("advanced", 2)
	m.RecordReconcile("orphan", 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestTotal.WithLabelValues(http.MethodGet, "/api/v1/forms", "200")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.reconcileFixed.WithLabelValues("advanced")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `workflow_operations_total{operation="reply",outcome="success"} 1`)
	assert.Contains(t, body, "http_requests_total")
	assert.NotContains(t, body, `kind="orphan"`)
}

func TestNilMetricsServiceIsSafe(t *testing.T) {
	var m *MetricsService
	m.ObserveHTTPRequest(http.MethodGet, "/", 200, time.Millisecond)
	m.RecordCacheOperation(true, time.Millisecond)
	m.RecordWorkflow(OpFinalize, OutcomeFailure)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
