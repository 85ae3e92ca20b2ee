package dto

import (
	"github.com/noah-isme/request-portal-api/internal/models"
	"github.com/noah-isme/request-portal-api/internal/workflow"
)

// Listing scopes accepted by GET /requests.
const (
	ScopeMine     = "mine"
	ScopeAssigned = "assigned"
	ScopeUnit     = "unit"
	ScopeAll      = "all"
)

// CreateRequestInput is the payload for raising a request.
type CreateRequestInput struct {
	Title         string   `json:"title" validate:"required,max=200"`
	Description   string   `json:"description" validate:"required,max=10000"`
	CategoryID    string   `json:"categoryId" validate:"required"`
	UnitID        string   `json:"unitId" validate:"required"`
	AttachmentIDs []string `json:"attachmentIds" validate:"omitempty,unique,dive,required,uuid"`
}

// AddResponseInput is a comment with an optional status change. A zero
// NewStatusID keeps the current status.
type AddResponseInput struct {
	Comment       string               `json:"comment" validate:"max=10000"`
	NewStatusID   models.RequestStatus `json:"newStatusId"`
	AttachmentIDs []string             `json:"attachmentIds" validate:"omitempty,unique,dive,required,uuid"`
}

// AssignInput names the officer an admin hands a request to.
type AssignInput struct {
	OfficerID string `json:"officerId" validate:"required"`
}

// TransferInput moves ownership to another officer of the same unit.
type TransferInput struct {
	TargetOfficerID string `json:"targetOfficerId" validate:"required"`
	Comment         string `json:"comment" validate:"max=10000"`
}

// PriorityInput changes the request priority.
type PriorityInput struct {
	PriorityID models.RequestPriority `json:"priorityId" validate:"required"`
}

// CancelInput carries an optional reason.
type CancelInput struct {
	Reason string `json:"reason" validate:"max=10000"`
}

// RequestQuery mirrors the listing filters.
type RequestQuery struct {
	Scope    string
	Status   []models.RequestStatus
	UnitID   string
	Search   string
	Page     int
	PageSize int
}

// RequestDetail is a request with resolved labels and the caller's allowed
// actions. AllowedActions is advisory; the engine re-checks every mutation.
type RequestDetail struct {
	models.Request
	StatusLabel    string                 `json:"statusLabel"`
	PriorityLabel  string                 `json:"priorityLabel"`
	Terminal       bool                   `json:"terminal"`
	AllowedActions []workflow.Action      `json:"allowedActions"`
	NextStatuses   []models.RequestStatus `json:"nextStatuses"`
}

// TransitionResult is returned by ownership, status and priority operations.
type TransitionResult struct {
	Message       string                 `json:"message"`
	RequestID     string                 `json:"id"`
	NewStatusID   models.RequestStatus   `json:"newStatusId"`
	NewPriorityID models.RequestPriority `json:"newPriorityId"`
	Version       int64                  `json:"version"`
}

// ResponseResult is returned by AddResponse.
type ResponseResult struct {
	Message string                `json:"message"`
	Entry   *models.TimelineEntry `json:"entry"`
}

// ReconcileReport compares the stored status with a replay of the timeline.
type ReconcileReport struct {
	RequestID  string               `json:"requestId"`
	Consistent bool                 `json:"consistent"`
	Status     models.RequestStatus `json:"status"`
	Replayed   models.RequestStatus `json:"replayed"`
	Entries    int                  `json:"entries"`
	Problems   []string             `json:"problems,omitempty"`
}
