package models

import "time"

// RequestStatus is the wire id of a request status. Ids are fixed; the
// id↔label table lives in the workflow catalog.
type RequestStatus int

const (
	StatusPending                 RequestStatus = 1
	StatusInProgress              RequestStatus = 2
	StatusAnsweredWaitingResponse RequestStatus = 3
	StatusResolvedSuccessfully    RequestStatus = 4
	StatusResolvedNegatively      RequestStatus = 5
	StatusCancelled               RequestStatus = 6
)

// RequestPriority is the wire id of a request priority.
type RequestPriority int

const (
	PriorityLow    RequestPriority = 1
	PriorityNormal RequestPriority = 2
	PriorityHigh   RequestPriority = 3
)

// Request is a support ticket raised against a unit. Status is a cache of the
// last timeline entry; Version is bumped on every committed mutation.
type Request struct {
	ID                string          `db:"id" json:"id"`
	Title             string          `db:"title" json:"title"`
	Description       string          `db:"description" json:"description"`
	CategoryID        string          `db:"category_id" json:"categoryId"`
	UnitID            string          `db:"unit_id" json:"unitId"`
	RequesterID       string          `db:"requester_id" json:"requesterId"`
	AssignedOfficerID *string         `db:"assigned_officer_id" json:"assignedOfficerId"`
	Status            RequestStatus   `db:"status_id" json:"statusId"`
	Priority          RequestPriority `db:"priority_id" json:"priorityId"`
	Version           int64           `db:"version" json:"version"`
	CreatedAt         time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updatedAt"`
}

// IsAssignedTo reports whether userID currently owns the request.
func (r *Request) IsAssignedTo(userID string) bool {
	return r != nil && r.AssignedOfficerID != nil && *r.AssignedOfficerID == userID
}

// RequestFilter constrains listing queries.
type RequestFilter struct {
	Status            []RequestStatus
	UnitIDs           []string
	RequesterID       string
	AssignedOfficerID string
	// VisibleTo narrows results to requests the officer raised, owns, or can
	// see through unit membership.
	VisibleTo *RequestVisibility
	Search    string
	Page      int
	PageSize  int
}

// RequestVisibility describes the officer-side visibility scope.
type RequestVisibility struct {
	UserID  string
	UnitIDs []string
}
