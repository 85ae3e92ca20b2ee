package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/request-portal-api/internal/dto"
	"github.com/noah-isme/request-portal-api/internal/middleware"
	"github.com/noah-isme/request-portal-api/internal/models"
	"github.com/noah-isme/request-portal-api/internal/service"
	"github.com/noah-isme/request-portal-api/internal/workflow"
	appErrors "github.com/noah-isme/request-portal-api/pkg/errors"
	"github.com/noah-isme/request-portal-api/pkg/response"
)

type requestOperations interface {
	Create(ctx context.Context, actor workflow.Principal, input dto.CreateRequestInput) (*models.Request, error)
	TakeOwnership(ctx context.Context, actor workflow.Principal, requestID string) (*models.Request, error)
	Assign(ctx context.Context, actor workflow.Principal, requestID string, input dto.AssignInput) (*models.Request, error)
	Transfer(ctx context.Context, actor workflow.Principal, requestID string, input dto.TransferInput) (*models.Request, error)
	AddResponse(ctx context.Context, actor workflow.Principal, requestID string, input dto.AddResponseInput) (*models.TimelineEntry, error)
	UpdatePriority(ctx context.Context, actor workflow.Principal, requestID string, input dto.PriorityInput) (*models.Request, error)
	Cancel(ctx context.Context, actor workflow.Principal, requestID string, input dto.CancelInput) (*models.Request, error)
	Get(ctx context.Context, actor workflow.Principal, requestID string) (*dto.RequestDetail, error)
	Timeline(ctx context.Context, actor workflow.Principal, requestID string) ([]models.TimelineEntry, error)
	List(ctx context.Context, actor workflow.Principal, query dto.RequestQuery) ([]models.Request, *models.Pagination, error)
	Reconcile(ctx context.Context, actor workflow.Principal, requestID string) (*dto.ReconcileReport, error)
}

type transcriptExporter interface {
	Transcript(ctx context.Context, actor workflow.Principal, requestID, format string) (*service.Transcript, error)
}

// RequestHandler exposes the request lifecycle over HTTP.
type RequestHandler struct {
	requests requestOperations
	exports  transcriptExporter
}

// NewRequestHandler constructs the handler.
func NewRequestHandler(requests requestOperations, exports transcriptExporter) *RequestHandler {
	return &RequestHandler{requests: requests, exports: exports}
}

// Create godoc
// @Summary Raise a request
// @Tags Requests
// @Accept json
// @Produce json
// @Param payload body dto.CreateRequestInput true "Request payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /requests [post]
func (h *RequestHandler) Create(c *gin.Context) {
	actor, ok := principalFromContext(c)
	if !ok {
		return
	}
	var input dto.CreateRequestInput
	if !bindJSON(c, &input, false) {
		return
	}
	req, err := h.requests.Create(c.Request.Context(), actor, input)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Location", c.FullPath()+"/"+req.ID)
	respond(c, http.StatusCreated, gin.H{"message": "request created", "id": req.ID})
}

// List godoc
// @Summary List requests
// @Tags Requests
// @Produce json
// @Param scope query string false "mine, assigned, unit or all"
// @Param status query string false "Comma separated status ids"
// @Param unitId query string false "Unit filter"
// @Param search query string false "Title search"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /requests [get]
func (h *RequestHandler) List(c *gin.Context) {
	actor, ok := principalFromContext(c)
	if !ok {
		return
	}
	query := dto.RequestQuery{
		Scope:    c.Query("scope"),
		UnitID:   c.Query("unitId"),
		Search:   c.Query("search"),
		Page:     queryInt(c, "page", 1),
		PageSize: queryInt(c, "page_size", 20),
	}
	for _, raw := range queryList(c, "status") {
		id, err := strconv.Atoi(raw)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("invalid status %q", raw)))
			return
		}
		query.Status = append(query.Status, models.RequestStatus(id))
	}

	items, pagination, err := h.requests.List(c.Request.Context(), actor, query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination, middleware.ExtractMeta(c))
}

// Get godoc
// @Summary Request detail with allowed actions
// @Tags Requests
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /requests/{id} [get]
func (h *RequestHandler) Get(c *gin.Context) {
	actor, ok := principalFromContext(c)
	if !ok {
		return
	}
	detail, err := h.requests.Get(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetMeta(c, "catalogVersion", workflow.CatalogVersion)
	respond(c, http.StatusOK, detail)
}

// Timeline godoc
// @Summary Ordered request timeline
// @Tags Requests
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /requests/{id}/timeline [get]
func (h *RequestHandler) Timeline(c *gin.Context) {
	actor, ok := principalFromContext(c)
	if !ok {
		return
	}
	entries, err := h.requests.Timeline(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	respond(c, http.StatusOK, entries)
}

// ExportTimeline godoc
// @Summary Download the timeline transcript
// @Tags Requests
// @Produce text/csv
// @Produce application/pdf
// @Param id path string true "Request ID"
// @Param format query string false "csv or pdf"
// @Success 200 {file} file
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /requests/{id}/timeline/export [get]
func (h *RequestHandler) ExportTimeline(c *gin.Context) {
	actor, ok := principalFromContext(c)
	if !ok {
		return
	}
	transcript, err := h.exports.Transcript(c.Request.Context(), actor, c.Param("id"), c.DefaultQuery("format", service.FormatCSV))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", transcript.Filename))
	c.Data(http.StatusOK, transcript.ContentType, transcript.Body)
}

// AddResponse godoc
// @Summary Comment on a request, optionally changing its status
// @Tags Requests
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body dto.AddResponseInput true "Response payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /requests/{id}/responses [post]
func (h *RequestHandler) AddResponse(c *gin.Context) {
	actor, ok := principalFromContext(c)
	if !ok {
		return
	}
	var input dto.AddResponseInput
	if !bindJSON(c, &input, false) {
		return
	}
	entry, err := h.requests.AddResponse(c.Request.Context(), actor, c.Param("id"), input)
	if err != nil {
		response.Error(c, err)
		return
	}
	respond(c, http.StatusCreated, dto.ResponseResult{Message: "response added", Entry: entry})
}

// TakeOwnership godoc
// @Summary Claim an unassigned request
// @Tags Requests
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /requests/{id}/take-ownership [post]
func (h *RequestHandler) TakeOwnership(c *gin.Context) {
	actor, ok := principalFromContext(c)
	if !ok {
		return
	}
	req, err := h.requests.TakeOwnership(c.Request.Context(), actor, c.Param("id"))
	h.transition(c, req, err, "ownership taken")
}

// Assign godoc
// @Summary Assign a request to an officer
// @Tags Requests
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body dto.AssignInput true "Officer"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /requests/{id}/assign [post]
func (h *RequestHandler) Assign(c *gin.Context) {
	actor, ok := principalFromContext(c)
	if !ok {
		return
	}
	var input dto.AssignInput
	if !bindJSON(c, &input, false) {
		return
	}
	req, err := h.requests.Assign(c.Request.Context(), actor, c.Param("id"), input)
	h.transition(c, req, err, "request assigned")
}

// Transfer godoc
// @Summary Transfer ownership to another officer of the unit
// @Tags Requests
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body dto.TransferInput true "Target officer"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /requests/{id}/transfer [post]
func (h *RequestHandler) Transfer(c *gin.Context) {
	actor, ok := principalFromContext(c)
	if !ok {
		return
	}
	var input dto.TransferInput
	if !bindJSON(c, &input, false) {
		return
	}
	req, err := h.requests.Transfer(c.Request.Context(), actor, c.Param("id"), input)
	h.transition(c, req, err, "request transferred")
}

// UpdatePriority godoc
// @Summary Change request priority
// @Tags Requests
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body dto.PriorityInput true "Priority"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /requests/{id}/priority [put]
func (h *RequestHandler) UpdatePriority(c *gin.Context) {
	actor, ok := principalFromContext(c)
	if !ok {
		return
	}
	var input dto.PriorityInput
	if !bindJSON(c, &input, false) {
		return
	}
	req, err := h.requests.UpdatePriority(c.Request.Context(), actor, c.Param("id"), input)
	h.transition(c, req, err, "priority updated")
}

// Cancel godoc
// @Summary Cancel a request
// @Tags Requests
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body dto.CancelInput false "Reason"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /requests/{id}/cancel [post]
func (h *RequestHandler) Cancel(c *gin.Context) {
	actor, ok := principalFromContext(c)
	if !ok {
		return
	}
	var input dto.CancelInput
	if !bindJSON(c, &input, true) {
		return
	}
	req, err := h.requests.Cancel(c.Request.Context(), actor, c.Param("id"), input)
	h.transition(c, req, err, "request cancelled")
}

// Reconcile godoc
// @Summary Compare stored status with a replay of the timeline
// @Tags Requests
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /requests/{id}/reconcile [get]
func (h *RequestHandler) Reconcile(c *gin.Context) {
	actor, ok := principalFromContext(c)
	if !ok {
		return
	}
	report, err := h.requests.Reconcile(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	respond(c, http.StatusOK, report)
}

func (h *RequestHandler) transition(c *gin.Context, req *models.Request, err error, message string) {
	if err != nil {
		response.Error(c, err)
		return
	}
	respond(c, http.StatusOK, dto.TransitionResult{
		Message:       message,
		RequestID:     req.ID,
		NewStatusID:   req.Status,
		NewPriorityID: req.Priority,
		Version:       req.Version,
	})
}
