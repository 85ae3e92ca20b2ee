package router

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/request-portal-api/internal/handler"
	"github.com/noah-isme/request-portal-api/internal/service"
)

func testEngine() *gin.Engine {
	gin.SetMode(gin.TestMode)
	metrics := service.NewMetricsService()
	auth := service.NewAuthService(nil, nil, nil, nil, service.AuthConfig{AccessTokenSecret: "secret", AccessTokenExpiry: time.Minute})
	return New(Dependencies{
		Logger:      zap.NewNop(),
		Auth:        auth,
		Metrics:     metrics,
		Requests:    handler.NewRequestHandler(nil, nil),
		Attachments: handler.NewAttachmentHandler(nil, ""),
		Directory:   handler.NewDirectoryHandler(nil),
		AuthHandler: handler.NewAuthHandler(auth),
		Observe:     handler.NewMetricsHandler(metrics, nil),
	})
}

func TestRoutesRegistered(t *testing.T) {
	r := testEngine()
	registered := map[string]bool{}
	for _, route := range r.Routes() {
		registered[route.Method+" "+route.Path] = true
	}
	for _, want := range []string{
		"POST /api/v1/requests",
		"GET /api/v1/requests",
		"GET /api/v1/requests/:id",
		"GET /api/v1/requests/:id/timeline",
		"GET /api/v1/requests/:id/timeline/export",
		"POST /api/v1/requests/:id/responses",
		"POST /api/v1/requests/:id/take-ownership",
		"POST /api/v1/requests/:id/assign",
		"POST /api/v1/requests/:id/transfer",
		"PUT /api/v1/requests/:id/priority",
		"POST /api/v1/requests/:id/cancel",
		"GET /api/v1/requests/:id/reconcile",
		"GET /api/v1/catalog",
		"GET /api/v1/units",
		"GET /api/v1/categories",
		"POST /api/v1/attachments",
		"GET /api/v1/attachments/:id/download",
		"GET /api/v1/files/:token",
		"POST /api/v1/auth/login",
		"POST /api/v1/auth/refresh",
		"POST /api/v1/auth/logout",
		"GET /api/v1/auth/me",
		"GET /health",
		"GET /ready",
		"GET /metrics",
	} {
		assert.True(t, registered[want], "missing route %s", want)
	}
	assert.False(t, registered["GET /docs/*any"])
}

func TestSecuredRoutesRequireToken(t *testing.T) {
	r := testEngine()

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/requests", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/catalog", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"statuses"`)
}
