package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/request-portal-api/internal/dto"
	"github.com/noah-isme/request-portal-api/internal/models"
)

func TestMetricsServiceRecordsTransitions(t *testing.T) {
	m := NewMetricsService()
	m.RecordTransition(OpTakeOwnership, OutcomeOK)
	m.RecordTransition(OpTakeOwnership, "conflict")
	m.RecordTransition(OpTakeOwnership, "conflict")
	m.ObserveLockWait(3 * time.Millisecond)
	m.ObserveHTTPRequest(http.MethodGet, "/api/v1/requests", http.StatusOK, 10*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues(OpTakeOwnership, OutcomeOK)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.transitions.WithLabelValues(OpTakeOwnership, "conflict")))
	assert.EqualValues(t, 1, m.Snapshot().RequestsTotal)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "request_transitions_total")
	assert.Contains(t, rec.Body.String(), "request_lock_wait_seconds")
}

func TestMetricsServiceNilSafe(t *testing.T) {
	var m *MetricsService
	m.RecordTransition("x", OutcomeOK)
	m.ObserveLockWait(time.Second)
	m.RecordCacheOperation(true, time.Millisecond)
	m.RecordNotification("sent")
	assert.Zero(t, m.Snapshot().RequestsTotal)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRequestServiceRecordsOutcomes(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	req := f.create(t, student)
	_, err := f.svc.TakeOwnership(ctx, officer1, req.ID)
	require.NoError(t, err)
	_, err = f.svc.TakeOwnership(ctx, officer2, req.ID)
	require.Error(t, err)
	_, err = f.svc.UpdatePriority(ctx, officer1, req.ID, dto.PriorityInput{PriorityID: models.PriorityNormal})
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.transitions.WithLabelValues(OpCreate, OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.transitions.WithLabelValues(OpTakeOwnership, OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.transitions.WithLabelValues(OpTakeOwnership, "conflict")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.transitions.WithLabelValues(OpUpdatePriority, OutcomeNoop)))
}
