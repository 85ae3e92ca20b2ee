package handler

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/request-portal-api/internal/middleware"
	"github.com/noah-isme/request-portal-api/internal/models"
	"github.com/noah-isme/request-portal-api/internal/service"
)

type authRepoStub struct {
	user   *models.User
	tokens map[string]*models.RefreshToken
}

func (s *authRepoStub) FindByEmail(_ context.Context, email string) (*models.User, error) {
	if s.user == nil || s.user.Email != email {
		return nil, sql.ErrNoRows
	}
	return s.user, nil
}

func (s *authRepoStub) FindByID(_ context.Context, id string) (*models.User, error) {
	if s.user == nil || s.user.ID != id {
		return nil, sql.ErrNoRows
	}
	return s.user, nil
}

func (s *authRepoStub) UpdateLastLogin(context.Context, string, time.Time) error { return nil }

func (s *authRepoStub) RevokeUserRefreshTokens(context.Context, string) error { return nil }

func (s *authRepoStub) CreateRefreshToken(_ context.Context, token *models.RefreshToken) error {
	s.tokens[token.Token] = token
	return nil
}

func (s *authRepoStub) FindRefreshToken(_ context.Context, token string) (*models.RefreshToken, error) {
	rt, ok := s.tokens[token]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return rt, nil
}

func (s *authRepoStub) RevokeRefreshToken(_ context.Context, id string, at time.Time) error {
	for _, rt := range s.tokens {
		if rt.ID == id && !rt.Revoked {
			rt.Revoked, rt.RevokedAt = true, &at
			return nil
		}
	}
	return sql.ErrNoRows
}

type unitsStub map[string][]string

func (u unitsStub) UnitIDsForUser(_ context.Context, userID string) ([]string, error) {
	return u[userID], nil
}

func newAuthHandlerForTest(t *testing.T) (*AuthHandler, *authRepoStub) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("secret-pass"), bcrypt.MinCost)
	require.NoError(t, err)
	repo := &authRepoStub{
		user:   &models.User{ID: "officer-1", Email: "it@example.edu", FullName: "Ida Officer", PasswordHash: string(hash), Role: models.RoleOfficer, Active: true},
		tokens: map[string]*models.RefreshToken{},
	}
	svc := service.NewAuthService(repo, unitsStub{"officer-1": {"unit-it"}}, nil, nil, service.AuthConfig{
		AccessTokenSecret:  "test-secret",
		AccessTokenExpiry:  time.Minute,
		RefreshTokenExpiry: time.Hour,
	})
	return NewAuthHandler(svc), repo
}

func TestAuthHandlerLoginRefreshLogout(t *testing.T) {
	h, repo := newAuthHandlerForTest(t)

	c, w := newTestContext(http.MethodPost, "/auth/login", []byte(`{"email":"it@example.edu","password":"secret-pass"}`), nil)
	h.Login(c)
	require.Equal(t, http.StatusOK, w.Code)
	var pair models.TokenPair
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &pair))
	require.NotEmpty(t, pair.RefreshToken)
	assert.Equal(t, []string{"unit-it"}, pair.User.UnitIDs)

	body, _ := json.Marshal(models.RefreshTokenRequest{RefreshToken: pair.RefreshToken})
	c, w = newTestContext(http.MethodPost, "/auth/refresh", body, nil)
	h.Refresh(c)
	require.Equal(t, http.StatusOK, w.Code)
	var rotated models.TokenPair
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &rotated))
	assert.True(t, repo.tokens[pair.RefreshToken].Revoked)

	body, _ = json.Marshal(models.RefreshTokenRequest{RefreshToken: rotated.RefreshToken})
	c, w = newTestContext(http.MethodPost, "/auth/logout", body, nil)
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "officer-1", Role: models.RoleOfficer})
	h.Logout(c)
	c.Writer.WriteHeaderNow()
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())
	assert.True(t, repo.tokens[rotated.RefreshToken].Revoked)
}

func TestAuthHandlerLoginRejectsBadCredentials(t *testing.T) {
	h, _ := newAuthHandlerForTest(t)

	c, w := newTestContext(http.MethodPost, "/auth/login", []byte(`{"email":"it@example.edu","password":"nope"}`), nil)
	h.Login(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	c, w = newTestContext(http.MethodPost, "/auth/login", []byte(`{`), nil)
	h.Login(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuthHandlerMe(t *testing.T) {
	h, _ := newAuthHandlerForTest(t)

	c, w := newTestContext(http.MethodGet, "/auth/me", nil, nil)
	h.Me(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	c, w = newTestContext(http.MethodGet, "/auth/me", nil, nil)
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "officer-1", Role: models.RoleOfficer})
	h.Me(c)
	require.Equal(t, http.StatusOK, w.Code)
	var info models.UserInfo
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &info))
	assert.Equal(t, "Ida Officer", info.FullName)
	assert.Equal(t, []string{"unit-it"}, info.UnitIDs)
}
