package workflow

import (
	"sort"

	"github.com/noah-isme/request-portal-api/internal/models"
)

// Action is something a principal may do to a request.
type Action string

const (
	ActionComment        Action = "COMMENT"
	ActionChangeStatus   Action = "CHANGE_STATUS"
	ActionAssign         Action = "ASSIGN"
	ActionTransfer       Action = "TRANSFER"
	ActionUpdatePriority Action = "UPDATE_PRIORITY"
	ActionCancel         Action = "CANCEL"
)

// ActionSet is an unordered set of actions.
type ActionSet map[Action]struct{}

func newActionSet(actions ...Action) ActionSet {
	set := make(ActionSet, len(actions))
	for _, a := range actions {
		set[a] = struct{}{}
	}
	return set
}

// Has reports membership.
func (s ActionSet) Has(a Action) bool {
	_, ok := s[a]
	return ok
}

// Slice returns the actions sorted for stable output.
func (s ActionSet) Slice() []Action {
	out := make([]Action, 0, len(s))
	for a := range s {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Principal is the acting identity as supplied by the identity collaborator.
type Principal struct {
	UserID  string
	Role    models.UserRole
	UnitIDs []string
}

// InUnit reports unit membership.
func (p Principal) InUnit(unitID string) bool {
	for _, id := range p.UnitIDs {
		if id == unitID {
			return true
		}
	}
	return false
}

// Allowed evaluates which actions p may take on r. Rules apply in order and
// the first match wins:
//  1. closed requests allow nothing
//  2. admins dispatch (assign, transfer, priority, cancel) but never comment
//  3. the requester may comment and cancel
//  4. the assigned officer may comment, change status, transfer and reprioritise
//  5. an officer of the request's unit may claim an unassigned request
//  6. nobody else may act
func Allowed(p Principal, r *models.Request) ActionSet {
	if r == nil || IsTerminal(r.Status) {
		return newActionSet()
	}
	switch {
	case p.Role == models.RoleAdmin:
		return newActionSet(ActionAssign, ActionTransfer, ActionUpdatePriority, ActionCancel)
	case p.UserID != "" && p.UserID == r.RequesterID:
		return newActionSet(ActionComment, ActionCancel)
	case p.UserID != "" && r.IsAssignedTo(p.UserID):
		return newActionSet(ActionComment, ActionChangeStatus, ActionTransfer, ActionUpdatePriority)
	case p.Role == models.RoleOfficer && r.AssignedOfficerID == nil && p.InUnit(r.UnitID):
		return newActionSet(ActionAssign)
	}
	return newActionSet()
}

// CanView reports whether p may read r and its timeline.
func CanView(p Principal, r *models.Request) bool {
	if r == nil {
		return false
	}
	switch {
	case p.Role == models.RoleAdmin:
		return true
	case p.UserID == r.RequesterID:
		return true
	case r.IsAssignedTo(p.UserID):
		return true
	case p.Role == models.RoleOfficer && p.InUnit(r.UnitID):
		return true
	}
	return false
}
