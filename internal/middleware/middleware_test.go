package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/request-portal-api/internal/models"
	"github.com/noah-isme/request-portal-api/internal/workflow"
	appErrors "github.com/noah-isme/request-portal-api/pkg/errors"
)

type stubAuthenticator struct {
	units      []string
	resolveErr error
}

func (s stubAuthenticator) ValidateToken(token string) (*models.JWTClaims, error) {
	switch token {
	case "officer":
		return &models.JWTClaims{UserID: "officer-1", Role: models.RoleOfficer}, nil
	case "student":
		return &models.JWTClaims{UserID: "student-1", Role: models.RoleStudent}, nil
	}
	return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
}

func (s stubAuthenticator) ResolvePrincipal(_ context.Context, claims *models.JWTClaims) (workflow.Principal, error) {
	if s.resolveErr != nil {
		return workflow.Principal{}, s.resolveErr
	}
	return workflow.Principal{UserID: claims.UserID, Role: claims.Role, UnitIDs: s.units}, nil
}

func protectedRouter(auth Authenticator, roles ...models.UserRole) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	group := r.Group("/", JWT(auth))
	if len(roles) > 0 {
		group.Use(RequireRoles(roles...))
	}
	group.GET("/whoami", func(c *gin.Context) {
		p, _ := Principal(c)
		c.JSON(http.StatusOK, gin.H{"user": p.UserID, "units": p.UnitIDs})
	})
	return r
}

func doGet(r http.Handler, path, auth string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	r.ServeHTTP(rec, req)
	return rec
}

func TestJWTResolvesPrincipal(t *testing.T) {
	r := protectedRouter(stubAuthenticator{units: []string{"unit-it"}})

	rec := doGet(r, "/whoami", "Bearer officer")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		User  string   `json:"user"`
		Units []string `json:"units"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "officer-1", body.User)
	assert.Equal(t, []string{"unit-it"}, body.Units)
}

func TestJWTRejects(t *testing.T) {
	r := protectedRouter(stubAuthenticator{})
	for _, header := range []string{"", "Basic abc", "Bearer ", "Bearer nope"} {
		rec := doGet(r, "/whoami", header)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "header %q", header)
	}

	failing := protectedRouter(stubAuthenticator{resolveErr: appErrors.ErrInternal})
	assert.Equal(t, http.StatusInternalServerError, doGet(failing, "/whoami", "Bearer officer").Code)
}

func TestRequireRoles(t *testing.T) {
	r := protectedRouter(stubAuthenticator{}, models.RoleOfficer, models.RoleAdmin)
	assert.Equal(t, http.StatusOK, doGet(r, "/whoami", "Bearer officer").Code)
	assert.Equal(t, http.StatusForbidden, doGet(r, "/whoami", "Bearer student").Code)
}

type observedRequest struct {
	method, path string
	status       int
}

type recordingObserver struct {
	mu   sync.Mutex
	seen []observedRequest
}

func (o *recordingObserver) ObserveHTTPRequest(method, path string, status int, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.seen = append(o.seen, observedRequest{method, path, status})
}

func TestMetricsUsesRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	obs := &recordingObserver{}
	r := gin.New()
	r.Use(Metrics(obs))
	r.GET("/requests/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	doGet(r, "/requests/abc", "")
	doGet(r, "/nowhere/xyz", "")

	require.Len(t, obs.seen, 2)
	assert.Equal(t, observedRequest{http.MethodGet, "/requests/:id", http.StatusNoContent}, obs.seen[0])
	assert.Equal(t, unmatchedRoute, obs.seen[1].path)
	assert.Equal(t, http.StatusNotFound, obs.seen[1].status)
}

func TestResponseMeta(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	assert.Nil(t, ExtractMeta(c))

	SetMeta(c, "catalogVersion", 1)
	meta := ExtractMeta(c)
	require.NotNil(t, meta)
	assert.Equal(t, 1, meta["catalogVersion"])
}
