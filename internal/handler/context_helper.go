package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/request-portal-api/internal/middleware"
	"github.com/noah-isme/request-portal-api/internal/workflow"
	appErrors "github.com/noah-isme/request-portal-api/pkg/errors"
	"github.com/noah-isme/request-portal-api/pkg/response"
)

// principalFromContext writes a 401 and reports false when JWT did not run.
func principalFromContext(c *gin.Context) (workflow.Principal, bool) {
	principal, ok := middleware.Principal(c)
	if !ok || principal.UserID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return workflow.Principal{}, false
	}
	return principal, true
}

// bindJSON decodes the body into dst and writes a 400 on failure. An empty
// body decodes as the zero value when allowEmpty is set.
func bindJSON(c *gin.Context, dst interface{}, allowEmpty bool) bool {
	if allowEmpty && c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(dst); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return false
	}
	return true
}

func queryInt(c *gin.Context, key string, fallback int) int {
	if v, err := strconv.Atoi(c.Query(key)); err == nil {
		return v
	}
	return fallback
}

// queryList accepts both repeated keys and comma-separated values.
func queryList(c *gin.Context, key string) []string {
	var out []string
	for _, raw := range c.QueryArray(key) {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func respond(c *gin.Context, status int, data interface{}) {
	response.JSON(c, status, data, nil, middleware.ExtractMeta(c))
}
