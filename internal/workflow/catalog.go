// Package workflow holds the request state machine rules shared by the
// lifecycle engine and by API consumers: the versioned status and priority
// catalog, the officer transition table and the permission evaluator.
package workflow

import "github.com/noah-isme/request-portal-api/internal/models"

// CatalogVersion changes whenever an id, code or label below changes. Every
// consumer must be updated together.
const CatalogVersion = 1

// StatusInfo describes one catalog status.
type StatusInfo struct {
	ID       models.RequestStatus `json:"id"`
	Code     string               `json:"code"`
	Label    string               `json:"label"`
	Terminal bool                 `json:"terminal"`
}

// PriorityInfo describes one catalog priority.
type PriorityInfo struct {
	ID    models.RequestPriority `json:"id"`
	Code  string                 `json:"code"`
	Label string                 `json:"label"`
}

// Catalog is the id↔label table served to clients.
type Catalog struct {
	Version    int            `json:"version"`
	Statuses   []StatusInfo   `json:"statuses"`
	Priorities []PriorityInfo `json:"priorities"`
}

var statuses = []StatusInfo{
	{ID: models.StatusPending, Code: "PENDING", Label: "Pending"},
	{ID: models.StatusInProgress, Code: "IN_PROGRESS", Label: "In progress"},
	{ID: models.StatusAnsweredWaitingResponse, Code: "ANSWERED_WAITING_RESPONSE", Label: "Answered, waiting for response"},
	{ID: models.StatusResolvedSuccessfully, Code: "RESOLVED_SUCCESSFULLY", Label: "Resolved successfully", Terminal: true},
	{ID: models.StatusResolvedNegatively, Code: "RESOLVED_NEGATIVELY", Label: "Resolved negatively", Terminal: true},
	{ID: models.StatusCancelled, Code: "CANCELLED", Label: "Cancelled", Terminal: true},
}

var priorities = []PriorityInfo{
	{ID: models.PriorityLow, Code: "LOW", Label: "Low"},
	{ID: models.PriorityNormal, Code: "NORMAL", Label: "Normal"},
	{ID: models.PriorityHigh, Code: "HIGH", Label: "High"},
}

// transitions lists the statuses an assigned officer may move a request to.
// Cancellation is not here: it has its own operation.
var transitions = map[models.RequestStatus][]models.RequestStatus{
	models.StatusPending: {models.StatusInProgress},
	models.StatusInProgress: {
		models.StatusAnsweredWaitingResponse,
		models.StatusResolvedSuccessfully,
		models.StatusResolvedNegatively,
	},
	models.StatusAnsweredWaitingResponse: {
		models.StatusInProgress,
		models.StatusResolvedSuccessfully,
		models.StatusResolvedNegatively,
	},
}

// CurrentCatalog returns a copy of the catalog.
func CurrentCatalog() Catalog {
	return Catalog{
		Version:    CatalogVersion,
		Statuses:   append([]StatusInfo(nil), statuses...),
		Priorities: append([]PriorityInfo(nil), priorities...),
	}
}

// LookupStatus returns the catalog row for id.
func LookupStatus(id models.RequestStatus) (StatusInfo, bool) {
	for _, s := range statuses {
		if s.ID == id {
			return s, true
		}
	}
	return StatusInfo{}, false
}

// LookupPriority returns the catalog row for id.
func LookupPriority(id models.RequestPriority) (PriorityInfo, bool) {
	for _, p := range priorities {
		if p.ID == id {
			return p, true
		}
	}
	return PriorityInfo{}, false
}

// StatusLabel returns the human label or "Unknown".
func StatusLabel(id models.RequestStatus) string {
	if s, ok := LookupStatus(id); ok {
		return s.Label
	}
	return "Unknown"
}

// PriorityLabel returns the human label or "Unknown".
func PriorityLabel(id models.RequestPriority) string {
	if p, ok := LookupPriority(id); ok {
		return p.Label
	}
	return "Unknown"
}

// IsTerminal reports whether no further mutation is allowed from status.
func IsTerminal(status models.RequestStatus) bool {
	s, ok := LookupStatus(status)
	return ok && s.Terminal
}

// CanTransition reports whether an assigned officer may move from one status
// to another. A status never transitions to itself; that is a comment.
func CanTransition(from, to models.RequestStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// NextStatuses lists the statuses reachable from status.
func NextStatuses(status models.RequestStatus) []models.RequestStatus {
	return append([]models.RequestStatus(nil), transitions[status]...)
}

// Replay folds ledger entries into the status they imply. ok is false for an
// empty ledger.
func Replay(entries []models.TimelineEntry) (status models.RequestStatus, ok bool) {
	for _, e := range entries {
		status = e.NewStatus
		ok = true
	}
	return status, ok
}
