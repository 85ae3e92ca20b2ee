package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/request-portal-api/internal/models"
	"github.com/noah-isme/request-portal-api/internal/service"
	"github.com/noah-isme/request-portal-api/internal/workflow"
	appErrors "github.com/noah-isme/request-portal-api/pkg/errors"
)

type directoryMock struct {
	unitFilter string
	err        error
}

func (d *directoryMock) Units(context.Context) ([]models.Unit, error) {
	if d.err != nil {
		return nil, d.err
	}
	return []models.Unit{{ID: "unit-it", Name: "IT Services"}}, nil
}

func (d *directoryMock) Categories(_ context.Context, unitID string) ([]models.Category, error) {
	d.unitFilter = unitID
	return []models.Category{{ID: "cat-network", Name: "Network"}}, d.err
}

func TestDirectoryHandlerCatalog(t *testing.T) {
	h := NewDirectoryHandler(&directoryMock{})
	c, w := newTestContext(http.MethodGet, "/catalog", nil, nil)
	h.Catalog(c)

	require.Equal(t, http.StatusOK, w.Code)
	var catalog workflow.Catalog
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &catalog))
	assert.Equal(t, workflow.CatalogVersion, catalog.Version)
	assert.Len(t, catalog.Statuses, 6)
	assert.Len(t, catalog.Priorities, 3)
}

func TestDirectoryHandlerLists(t *testing.T) {
	mock := &directoryMock{}
	h := NewDirectoryHandler(mock)

	c, w := newTestContext(http.MethodGet, "/units", nil, &testOfficer)
	h.Units(c)
	require.Equal(t, http.StatusOK, w.Code)

	c, w = newTestContext(http.MethodGet, "/categories?unitId=unit-it", nil, &testOfficer)
	h.Categories(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "unit-it", mock.unitFilter)

	mock.err = appErrors.Wrap(errors.New("db down"), appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list units")
	c, w = newTestContext(http.MethodGet, "/units", nil, &testOfficer)
	h.Units(c)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestMetricsHandlerReady(t *testing.T) {
	metrics := service.NewMetricsService()
	h := NewMetricsHandler(metrics, map[string]ReadinessCheck{
		"postgres": func(context.Context) error { return nil },
	})
	c, w := newTestContext(http.MethodGet, "/ready", nil, nil)
	h.Ready(c)
	assert.Equal(t, http.StatusOK, w.Code)

	h = NewMetricsHandler(metrics, map[string]ReadinessCheck{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	})
	c, w = newTestContext(http.MethodGet, "/ready", nil, nil)
	h.Ready(c)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "unavailable", body.Status)
	assert.Equal(t, "ok", body.Checks["postgres"])
	assert.Equal(t, "connection refused", body.Checks["redis"])
}

func TestMetricsHandlerPrometheus(t *testing.T) {
	metrics := service.NewMetricsService()
	metrics.RecordTransition(service.OpTakeOwnership, service.OutcomeOK)
	h := NewMetricsHandler(metrics, nil)

	c, w := newTestContext(http.MethodGet, "/metrics", nil, nil)
	h.Prometheus(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `request_transitions_total{operation="take_ownership",outcome="ok"} 1`)

	c, w = newTestContext(http.MethodGet, "/health", nil, nil)
	h.Health(c)
	assert.Equal(t, http.StatusOK, w.Code)
}
