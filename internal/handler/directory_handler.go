package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/request-portal-api/internal/models"
	"github.com/noah-isme/request-portal-api/internal/workflow"
	"github.com/noah-isme/request-portal-api/pkg/response"
)

type directoryReader interface {
	Units(ctx context.Context) ([]models.Unit, error)
	Categories(ctx context.Context, unitID string) ([]models.Category, error)
}

// DirectoryHandler serves the lookup data clients need to build forms.
type DirectoryHandler struct {
	directory directoryReader
}

// NewDirectoryHandler constructs the handler.
func NewDirectoryHandler(directory directoryReader) *DirectoryHandler {
	return &DirectoryHandler{directory: directory}
}

// Catalog godoc
// @Summary Status and priority catalog
// @Description Versioned id to label table for statuses and priorities
// @Tags Directory
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /catalog [get]
func (h *DirectoryHandler) Catalog(c *gin.Context) {
	response.OK(c, workflow.CurrentCatalog())
}

// Units godoc
// @Summary List units
// @Tags Directory
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /units [get]
func (h *DirectoryHandler) Units(c *gin.Context) {
	units, err := h.directory.Units(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, units, nil)
}

// Categories godoc
// @Summary List categories
// @Tags Directory
// @Produce json
// @Param unitId query string false "Only categories for this unit plus unscoped ones"
// @Success 200 {object} response.Envelope
// @Router /categories [get]
func (h *DirectoryHandler) Categories(c *gin.Context) {
	categories, err := h.directory.Categories(c.Request.Context(), c.Query("unitId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, categories, nil)
}
