package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/request-portal-api/internal/models"
	"github.com/noah-isme/request-portal-api/internal/workflow"
	appErrors "github.com/noah-isme/request-portal-api/pkg/errors"
	"github.com/noah-isme/request-portal-api/pkg/response"
)

// Context keys set by JWT.
const (
	ContextUserKey      = "currentUser"
	ContextPrincipalKey = "currentPrincipal"
)

// Authenticator validates access tokens and resolves the acting principal.
type Authenticator interface {
	ValidateToken(token string) (*models.JWTClaims, error)
	ResolvePrincipal(ctx context.Context, claims *models.JWTClaims) (workflow.Principal, error)
}

// JWT protects routes by requiring a valid access token. The resolved
// principal carries the officer's current unit membership.
func JWT(auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := bearerToken(c.GetHeader("Authorization"))
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		claims, err := auth.ValidateToken(token)
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		principal, err := auth.ResolvePrincipal(c.Request.Context(), claims)
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		c.Set(ContextUserKey, claims)
		c.Set(ContextPrincipalKey, principal)
		c.Next()
	}
}

func bearerToken(header string) (string, error) {
	if header == "" {
		return "", appErrors.ErrUnauthorized
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", appErrors.Clone(appErrors.ErrUnauthorized, "invalid authorization header")
	}
	return strings.TrimSpace(parts[1]), nil
}

// Claims returns the token claims stored by JWT.
func Claims(c *gin.Context) (*models.JWTClaims, bool) {
	value, exists := c.Get(ContextUserKey)
	if !exists {
		return nil, false
	}
	claims, ok := value.(*models.JWTClaims)
	return claims, ok
}

// Principal returns the principal stored by JWT.
func Principal(c *gin.Context) (workflow.Principal, bool) {
	value, exists := c.Get(ContextPrincipalKey)
	if !exists {
		return workflow.Principal{}, false
	}
	p, ok := value.(workflow.Principal)
	return p, ok
}
