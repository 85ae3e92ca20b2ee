package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/request-portal-api/internal/dto"
	"github.com/noah-isme/request-portal-api/internal/models"
	"github.com/noah-isme/request-portal-api/internal/repository"
	"github.com/noah-isme/request-portal-api/internal/workflow"
	appErrors "github.com/noah-isme/request-portal-api/pkg/errors"
	"github.com/noah-isme/request-portal-api/pkg/lock"
	"github.com/noah-isme/request-portal-api/pkg/logger"
)

const (
	defaultLockTimeout    = 2 * time.Second
	defaultMaxAttachments = 5
	defaultPageSize       = 20
	maxPageSize           = 100
)

// Operation names used for logging and metrics.
const (
	OpCreate         = "create"
	OpTakeOwnership  = "take_ownership"
	OpAssign         = "assign"
	OpTransfer       = "transfer"
	OpAddResponse    = "add_response"
	OpUpdatePriority = "update_priority"
	OpCancel         = "cancel"
)

type requestStore interface {
	Create(ctx context.Context, req *models.Request, entry *models.TimelineEntry, attachmentIDs []string) error
	GetByID(ctx context.Context, id string) (*models.Request, error)
	List(ctx context.Context, filter models.RequestFilter) ([]models.Request, int, error)
	Apply(ctx context.Context, t repository.Transition) error
}

type ledgerReader interface {
	List(ctx context.Context, requestID string) ([]models.TimelineEntry, error)
}

type requestDirectory interface {
	GetUnit(ctx context.Context, id string) (*models.Unit, error)
	GetCategory(ctx context.Context, id string) (*models.Category, error)
	UnitIDsForUser(ctx context.Context, userID string) ([]string, error)
}

type officerReader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type attachmentLookup interface {
	FindByIDs(ctx context.Context, ids []string) ([]models.Attachment, error)
}

// RequestNotifier receives committed ledger entries. Implementations must not
// block.
type RequestNotifier interface {
	Notify(req *models.Request, entry *models.TimelineEntry)
}

// RequestService is the request lifecycle engine. Every mutation runs under a
// per-request lock and commits the request update together with exactly one
// ledger entry.
type RequestService struct {
	repo        requestStore
	timeline    ledgerReader
	directory   requestDirectory
	users       officerReader
	attachments attachmentLookup

	locker         lock.Locker
	lockTimeout    time.Duration
	notifier       RequestNotifier
	cache          *CacheService
	metrics        *MetricsService
	maxAttachments int

	validator *validator.Validate
	logger    *zap.Logger
}

// RequestServiceOption configures the service.
type RequestServiceOption func(*RequestService)

// WithLocker replaces the in-process lock.
func WithLocker(l lock.Locker) RequestServiceOption {
	return func(s *RequestService) {
		if l != nil {
			s.locker = l
		}
	}
}

// WithLockTimeout bounds how long a mutation waits for its request lock.
func WithLockTimeout(d time.Duration) RequestServiceOption {
	return func(s *RequestService) {
		if d > 0 {
			s.lockTimeout = d
		}
	}
}

// WithNotifier sets the post-commit notifier.
func WithNotifier(n RequestNotifier) RequestServiceOption {
	return func(s *RequestService) {
		s.notifier = n
	}
}

// WithTimelineCache enables cached timeline reads.
func WithTimelineCache(c *CacheService) RequestServiceOption {
	return func(s *RequestService) {
		s.cache = c
	}
}

// WithRequestMetrics records transitions and lock waits.
func WithRequestMetrics(m *MetricsService) RequestServiceOption {
	return func(s *RequestService) {
		s.metrics = m
	}
}

// WithMaxAttachments caps attachments per ledger entry.
func WithMaxAttachments(n int) RequestServiceOption {
	return func(s *RequestService) {
		if n > 0 {
			s.maxAttachments = n
		}
	}
}

// NewRequestService wires the engine.
func NewRequestService(
	repo requestStore,
	timeline ledgerReader,
	directory requestDirectory,
	users officerReader,
	attachments attachmentLookup,
	validate *validator.Validate,
	logger *zap.Logger,
	opts ...RequestServiceOption,
) *RequestService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &RequestService{
		repo:           repo,
		timeline:       timeline,
		directory:      directory,
		users:          users,
		attachments:    attachments,
		locker:         lock.NewKeyedMutex(),
		lockTimeout:    defaultLockTimeout,
		maxAttachments: defaultMaxAttachments,
		validator:      validate,
		logger:         logger,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Create raises a new request with its creation entry.
func (s *RequestService) Create(ctx context.Context, actor workflow.Principal, input dto.CreateRequestInput) (req *models.Request, err error) {
	defer func() { s.record(OpCreate, err, req != nil) }()

	if actor.UserID == "" {
		return nil, appErrors.ErrUnauthorized
	}
	if actor.Role != models.RoleStudent && actor.Role != models.RoleOfficer {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only students and officers can raise requests")
	}
	if err := s.validator.Struct(input); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}
	title := strings.TrimSpace(input.Title)
	description := strings.TrimSpace(input.Description)
	if title == "" || description == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "title and description are required")
	}
	if err := s.checkAttachmentCount(input.AttachmentIDs); err != nil {
		return nil, err
	}

	if _, err := s.directory.GetUnit(ctx, input.UnitID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "unknown unit")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load unit")
	}
	category, err := s.directory.GetCategory(ctx, input.CategoryID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "unknown category")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load category")
	}
	if category.UnitID != nil && *category.UnitID != input.UnitID {
		return nil, appErrors.Clone(appErrors.ErrValidation, "category does not belong to unit")
	}
	if err := s.checkAttachments(ctx, actor, input.AttachmentIDs); err != nil {
		return nil, err
	}

	created := &models.Request{
		Title:       title,
		Description: description,
		CategoryID:  input.CategoryID,
		UnitID:      input.UnitID,
		RequesterID: actor.UserID,
		Status:      models.StatusPending,
		Priority:    models.PriorityNormal,
		Version:     1,
	}
	entry := &models.TimelineEntry{
		Kind:      models.EntryKindCreated,
		ActorID:   actor.UserID,
		ActorRole: actor.Role,
		NewStatus: models.StatusPending,
		Comment:   &description,
	}
	if err := s.repo.Create(ctx, created, entry, input.AttachmentIDs); err != nil {
		return nil, s.writeError(err, "failed to create request")
	}

	logger.FromContext(ctx, s.logger).Info("request created",
		zap.String("request_id", created.ID),
		zap.String("requester_id", actor.UserID),
		zap.String("unit_id", created.UnitID),
	)
	s.afterCommit(ctx, created, entry)
	return created, nil
}

// TakeOwnership lets an officer of the request's unit claim it.
func (s *RequestService) TakeOwnership(ctx context.Context, actor workflow.Principal, requestID string) (*models.Request, error) {
	req, _, err := s.mutate(ctx, OpTakeOwnership, actor, requestID, func(current *models.Request, allowed workflow.ActionSet) (*repository.Transition, error) {
		if actor.Role != models.RoleOfficer {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "only officers can take ownership")
		}
		if current.AssignedOfficerID != nil {
			if actor.InUnit(current.UnitID) && actor.UserID != current.RequesterID {
				return nil, appErrors.Clone(appErrors.ErrConflict, "request already has an assigned officer")
			}
			return nil, appErrors.Clone(appErrors.ErrForbidden, "not allowed to take ownership")
		}
		if !allowed.Has(workflow.ActionAssign) {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "not allowed to take ownership")
		}
		return s.assignment(current, actor.UserID), nil
	})
	return req, err
}

// Assign hands an unassigned request to an eligible officer. Admin only.
func (s *RequestService) Assign(ctx context.Context, actor workflow.Principal, requestID string, input dto.AssignInput) (*models.Request, error) {
	if err := s.validator.Struct(input); err != nil {
		s.record(OpAssign, err, false)
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}
	req, _, err := s.mutate(ctx, OpAssign, actor, requestID, func(current *models.Request, allowed workflow.ActionSet) (*repository.Transition, error) {
		if actor.Role != models.RoleAdmin || !allowed.Has(workflow.ActionAssign) {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "only admins can assign requests")
		}
		if current.AssignedOfficerID != nil {
			return nil, appErrors.Clone(appErrors.ErrConflict, "request already has an assigned officer")
		}
		if err := s.checkOfficer(ctx, current, input.OfficerID); err != nil {
			return nil, err
		}
		return s.assignment(current, input.OfficerID), nil
	})
	return req, err
}

// Transfer moves ownership to another officer of the same unit.
func (s *RequestService) Transfer(ctx context.Context, actor workflow.Principal, requestID string, input dto.TransferInput) (*models.Request, error) {
	if err := s.validator.Struct(input); err != nil {
		s.record(OpTransfer, err, false)
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}
	req, _, err := s.mutate(ctx, OpTransfer, actor, requestID, func(current *models.Request, allowed workflow.ActionSet) (*repository.Transition, error) {
		if !allowed.Has(workflow.ActionTransfer) {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "not allowed to transfer request")
		}
		if current.AssignedOfficerID == nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "request has no assigned officer")
		}
		from := *current.AssignedOfficerID
		if input.TargetOfficerID == from {
			return nil, appErrors.Clone(appErrors.ErrValidation, "request is already assigned to that officer")
		}
		if err := s.checkOfficer(ctx, current, input.TargetOfficerID); err != nil {
			return nil, err
		}

		next := *current
		to := input.TargetOfficerID
		next.AssignedOfficerID = &to
		return &repository.Transition{
			Request: &next,
			Entry: &models.TimelineEntry{
				Kind:     models.EntryKindTransfer,
				Comment:  optionalText(input.Comment),
				Metadata: models.EntryMetadata{FromOfficerID: &from, ToOfficerID: &to},
			},
		}, nil
	})
	return req, err
}

// AddResponse appends a comment, optionally moving the request to a new
// status. A zero NewStatusID keeps the current status.
func (s *RequestService) AddResponse(ctx context.Context, actor workflow.Principal, requestID string, input dto.AddResponseInput) (*models.TimelineEntry, error) {
	if err := s.validator.Struct(input); err != nil {
		s.record(OpAddResponse, err, false)
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}
	if input.NewStatusID != 0 {
		if _, ok := workflow.LookupStatus(input.NewStatusID); !ok {
			err := appErrors.Clone(appErrors.ErrValidation, "unknown status")
			s.record(OpAddResponse, err, false)
			return nil, err
		}
	}
	if err := s.checkAttachmentCount(input.AttachmentIDs); err != nil {
		s.record(OpAddResponse, err, false)
		return nil, err
	}

	_, entry, err := s.mutate(ctx, OpAddResponse, actor, requestID, func(current *models.Request, allowed workflow.ActionSet) (*repository.Transition, error) {
		if !allowed.Has(workflow.ActionComment) {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "not allowed to respond to request")
		}
		target := input.NewStatusID
		if target == 0 {
			target = current.Status
		}
		kind := models.EntryKindComment
		if target != current.Status {
			if !allowed.Has(workflow.ActionChangeStatus) {
				return nil, appErrors.Clone(appErrors.ErrForbidden, "not allowed to change status")
			}
			if !workflow.CanTransition(current.Status, target) {
				return nil, appErrors.Clone(appErrors.ErrInvalidTransition,
					fmt.Sprintf("cannot move from %s to %s", workflow.StatusLabel(current.Status), workflow.StatusLabel(target)))
			}
			kind = models.EntryKindStatusChange
		}

		comment := optionalText(input.Comment)
		if kind == models.EntryKindComment && comment == nil && len(input.AttachmentIDs) == 0 {
			return nil, appErrors.Clone(appErrors.ErrValidation, "response must include a comment, an attachment or a status change")
		}
		if err := s.checkAttachments(ctx, actor, input.AttachmentIDs); err != nil {
			return nil, err
		}

		next := *current
		next.Status = target
		return &repository.Transition{
			Request:       &next,
			Entry:         &models.TimelineEntry{Kind: kind, Comment: comment},
			AttachmentIDs: input.AttachmentIDs,
		}, nil
	})
	return entry, err
}

// UpdatePriority changes the priority. Setting the current priority again is a
// no-op that writes nothing.
func (s *RequestService) UpdatePriority(ctx context.Context, actor workflow.Principal, requestID string, input dto.PriorityInput) (*models.Request, error) {
	if _, ok := workflow.LookupPriority(input.PriorityID); !ok {
		err := appErrors.Clone(appErrors.ErrValidation, "unknown priority")
		s.record(OpUpdatePriority, err, false)
		return nil, err
	}
	req, _, err := s.mutate(ctx, OpUpdatePriority, actor, requestID, func(current *models.Request, allowed workflow.ActionSet) (*repository.Transition, error) {
		if !allowed.Has(workflow.ActionUpdatePriority) {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "not allowed to change priority")
		}
		if current.Priority == input.PriorityID {
			return nil, nil
		}
		from, to := current.Priority, input.PriorityID
		next := *current
		next.Priority = to
		return &repository.Transition{
			Request: &next,
			Entry: &models.TimelineEntry{
				Kind:     models.EntryKindPriorityChange,
				Metadata: models.EntryMetadata{FromPriority: &from, ToPriority: &to},
			},
		}, nil
	})
	return req, err
}

// Cancel closes the request on behalf of the requester or an admin.
func (s *RequestService) Cancel(ctx context.Context, actor workflow.Principal, requestID string, input dto.CancelInput) (*models.Request, error) {
	if err := s.validator.Struct(input); err != nil {
		s.record(OpCancel, err, false)
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}
	req, _, err := s.mutate(ctx, OpCancel, actor, requestID, func(current *models.Request, allowed workflow.ActionSet) (*repository.Transition, error) {
		if !allowed.Has(workflow.ActionCancel) {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "not allowed to cancel request")
		}
		next := *current
		next.Status = models.StatusCancelled
		return &repository.Transition{
			Request: &next,
			Entry:   &models.TimelineEntry{Kind: models.EntryKindCancellation, Comment: optionalText(input.Reason)},
		}, nil
	})
	return req, err
}

// Get returns a request with labels and the caller's allowed actions.
func (s *RequestService) Get(ctx context.Context, actor workflow.Principal, requestID string) (*dto.RequestDetail, error) {
	req, err := s.viewable(ctx, actor, requestID)
	if err != nil {
		return nil, err
	}
	allowed := workflow.Allowed(actor, req)
	next := []models.RequestStatus{}
	if allowed.Has(workflow.ActionChangeStatus) {
		next = workflow.NextStatuses(req.Status)
	}
	return &dto.RequestDetail{
		Request:        *req,
		StatusLabel:    workflow.StatusLabel(req.Status),
		PriorityLabel:  workflow.PriorityLabel(req.Priority),
		Terminal:       workflow.IsTerminal(req.Status),
		AllowedActions: allowed.Slice(),
		NextStatuses:   next,
	}, nil
}

// Timeline returns the ordered ledger of a request.
func (s *RequestService) Timeline(ctx context.Context, actor workflow.Principal, requestID string) ([]models.TimelineEntry, error) {
	req, err := s.viewable(ctx, actor, requestID)
	if err != nil {
		return nil, err
	}

	key := TimelineKey(req.ID, req.Version)
	var cached []models.TimelineEntry
	if s.cache.Get(ctx, key, &cached) {
		return cached, nil
	}

	entries, err := s.timeline.List(ctx, req.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load timeline")
	}
	// A mutation may have committed between the two reads; only cache a
	// ledger that matches the version it is keyed by.
	if int64(len(entries)) == req.Version {
		s.cache.Set(ctx, key, entries, 0)
	}
	return entries, nil
}

// List returns the requests visible to the actor within the requested scope.
func (s *RequestService) List(ctx context.Context, actor workflow.Principal, query dto.RequestQuery) ([]models.Request, *models.Pagination, error) {
	if actor.UserID == "" {
		return nil, nil, appErrors.ErrUnauthorized
	}
	for _, st := range query.Status {
		if _, ok := workflow.LookupStatus(st); !ok {
			return nil, nil, appErrors.Clone(appErrors.ErrValidation, "unknown status filter")
		}
	}
	switch query.Scope {
	case "", dto.ScopeMine, dto.ScopeAssigned, dto.ScopeUnit, dto.ScopeAll:
	default:
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "unknown scope")
	}

	page, size := query.Page, query.PageSize
	if page < 1 {
		page = 1
	}
	if size <= 0 || size > maxPageSize {
		size = defaultPageSize
	}
	filter := models.RequestFilter{Status: query.Status, Search: strings.TrimSpace(query.Search), Page: page, PageSize: size}
	pagination := &models.Pagination{Page: page, PageSize: size}

	switch actor.Role {
	case models.RoleAdmin:
		if query.UnitID != "" {
			filter.UnitIDs = []string{query.UnitID}
		}
	case models.RoleOfficer:
		switch query.Scope {
		case dto.ScopeMine:
			filter.RequesterID = actor.UserID
		case dto.ScopeAssigned:
			filter.AssignedOfficerID = actor.UserID
		case dto.ScopeUnit:
			if query.UnitID != "" {
				if !actor.InUnit(query.UnitID) {
					return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "not a member of unit")
				}
				filter.UnitIDs = []string{query.UnitID}
			} else {
				if len(actor.UnitIDs) == 0 {
					return []models.Request{}, pagination, nil
				}
				filter.UnitIDs = actor.UnitIDs
			}
		default:
			filter.VisibleTo = &models.RequestVisibility{UserID: actor.UserID, UnitIDs: actor.UnitIDs}
			if query.UnitID != "" {
				filter.UnitIDs = []string{query.UnitID}
			}
		}
	case models.RoleStudent:
		filter.RequesterID = actor.UserID
	default:
		return nil, nil, appErrors.ErrForbidden
	}

	items, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list requests")
	}
	if items == nil {
		items = []models.Request{}
	}
	pagination.TotalCount = total
	return items, pagination, nil
}

// Reconcile replays the ledger and compares it with the stored request.
func (s *RequestService) Reconcile(ctx context.Context, actor workflow.Principal, requestID string) (*dto.ReconcileReport, error) {
	if actor.Role != models.RoleAdmin {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only admins can reconcile requests")
	}
	req, err := s.load(ctx, requestID)
	if err != nil {
		return nil, err
	}
	entries, err := s.timeline.List(ctx, requestID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load timeline")
	}

	report := ReconcileLedger(req, entries)
	if !report.Consistent {
		s.logger.Warn("ledger inconsistent",
			zap.String("request_id", requestID),
			zap.Strings("problems", report.Problems),
		)
	}
	return report, nil
}

// ReconcileLedger checks a ledger against its request: sequences must be
// contiguous from zero, each entry must start where the previous one ended,
// the replayed status must match and there must be one entry per version.
func ReconcileLedger(req *models.Request, entries []models.TimelineEntry) *dto.ReconcileReport {
	report := &dto.ReconcileReport{RequestID: req.ID, Status: req.Status, Entries: len(entries)}

	replayed, ok := workflow.Replay(entries)
	report.Replayed = replayed
	if !ok {
		report.Problems = append(report.Problems, "ledger is empty")
	}
	for i, e := range entries {
		if e.Sequence != int64(i) {
			report.Problems = append(report.Problems, fmt.Sprintf("entry %d has sequence %d", i, e.Sequence))
		}
		if i == 0 {
			if e.PreviousStatus != nil {
				report.Problems = append(report.Problems, "entry zero has a previous status")
			}
			continue
		}
		if e.PreviousStatus == nil || *e.PreviousStatus != entries[i-1].NewStatus {
			report.Problems = append(report.Problems, fmt.Sprintf("entry %d does not continue from entry %d", i, i-1))
		}
	}
	if ok && replayed != req.Status {
		report.Problems = append(report.Problems,
			fmt.Sprintf("replayed status %s differs from stored %s", workflow.StatusLabel(replayed), workflow.StatusLabel(req.Status)))
	}
	if int64(len(entries)) != req.Version {
		report.Problems = append(report.Problems, fmt.Sprintf("%d entries for version %d", len(entries), req.Version))
	}
	report.Consistent = len(report.Problems) == 0
	return report
}

type mutation func(current *models.Request, allowed workflow.ActionSet) (*repository.Transition, error)

// mutate runs fn under the request lock and commits its transition. A nil
// transition from fn is a no-op.
func (s *RequestService) mutate(ctx context.Context, op string, actor workflow.Principal, requestID string, fn mutation) (req *models.Request, entry *models.TimelineEntry, err error) {
	noop := false
	defer func() {
		if err == nil && noop {
			s.metrics.RecordTransition(op, OutcomeNoop)
			return
		}
		s.record(op, err, true)
	}()

	if actor.UserID == "" {
		return nil, nil, appErrors.ErrUnauthorized
	}
	if !validID(requestID) {
		return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "request not found")
	}

	log := logger.FromContext(ctx, s.logger)
	req, t, err := s.commitLocked(ctx, actor, requestID, fn)
	if err != nil {
		log.Debug("request mutation rejected",
			zap.String("operation", op),
			zap.String("request_id", requestID),
			zap.String("actor_id", actor.UserID),
			zap.Error(err),
		)
		return nil, nil, err
	}
	if t == nil {
		noop = true
		return req, nil, nil
	}

	log.Info("request updated",
		zap.String("operation", op),
		zap.String("request_id", req.ID),
		zap.String("actor_id", actor.UserID),
		zap.String("kind", string(t.Entry.Kind)),
		zap.Int64("sequence", t.Entry.Sequence),
		zap.Int64("version", req.Version),
	)
	s.afterCommit(ctx, req, t.Entry)
	return req, t.Entry, nil
}

func (s *RequestService) commitLocked(ctx context.Context, actor workflow.Principal, requestID string, fn mutation) (*models.Request, *repository.Transition, error) {
	release, err := s.acquire(ctx, requestID)
	if err != nil {
		return nil, nil, err
	}
	defer release()

	current, err := s.load(ctx, requestID)
	if err != nil {
		return nil, nil, err
	}
	if workflow.IsTerminal(current.Status) {
		return nil, nil, appErrors.Clone(appErrors.ErrTerminalState,
			fmt.Sprintf("request is %s", strings.ToLower(workflow.StatusLabel(current.Status))))
	}

	t, err := fn(current, workflow.Allowed(actor, current))
	if err != nil {
		return nil, nil, err
	}
	if t == nil {
		return current, nil, nil
	}

	previous := current.Status
	t.Entry.ActorID = actor.UserID
	t.Entry.ActorRole = actor.Role
	t.Entry.PreviousStatus = &previous
	t.Entry.NewStatus = t.Request.Status
	if err := s.repo.Apply(ctx, *t); err != nil {
		return nil, nil, s.writeError(err, "failed to update request")
	}
	return t.Request, t, nil
}

func (s *RequestService) acquire(ctx context.Context, requestID string) (lock.Release, error) {
	lockCtx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()

	start := time.Now()
	release, err := s.locker.Acquire(lockCtx, requestID)
	s.metrics.ObserveLockWait(time.Since(start))
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			busy := appErrors.Clone(appErrors.ErrBusy, "")
			busy.Err = err
			return nil, busy
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to lock request")
	}
	return release, nil
}

func (s *RequestService) afterCommit(ctx context.Context, req *models.Request, entry *models.TimelineEntry) {
	if s.notifier != nil {
		s.notifier.Notify(req, entry)
	}
	s.cache.InvalidateRequest(context.WithoutCancel(ctx), req.ID)
}

func (s *RequestService) load(ctx context.Context, requestID string) (*models.Request, error) {
	if !validID(requestID) {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "request not found")
	}
	req, err := s.repo.GetByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load request")
	}
	return req, nil
}

func (s *RequestService) viewable(ctx context.Context, actor workflow.Principal, requestID string) (*models.Request, error) {
	if actor.UserID == "" {
		return nil, appErrors.ErrUnauthorized
	}
	req, err := s.load(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !workflow.CanView(actor, req) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not allowed to view request")
	}
	return req, nil
}

func (s *RequestService) assignment(current *models.Request, officerID string) *repository.Transition {
	next := *current
	to := officerID
	next.AssignedOfficerID = &to
	if next.Status == models.StatusPending {
		next.Status = models.StatusInProgress
	}
	return &repository.Transition{
		Request:           &next,
		Entry:             &models.TimelineEntry{Kind: models.EntryKindAssignment, Metadata: models.EntryMetadata{ToOfficerID: &to}},
		RequireUnassigned: true,
	}
}

// checkOfficer verifies that officerID may own req.
func (s *RequestService) checkOfficer(ctx context.Context, req *models.Request, officerID string) error {
	user, err := s.users.FindByID(ctx, officerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "officer not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load officer")
	}
	if user.ID == req.RequesterID {
		return appErrors.Clone(appErrors.ErrValidation, "requester cannot own their own request")
	}
	if user.Role != models.RoleOfficer || !user.Active {
		return appErrors.Clone(appErrors.ErrValidation, "target is not an active officer")
	}
	units, err := s.directory.UnitIDsForUser(ctx, user.ID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load officer units")
	}
	if !slices.Contains(units, req.UnitID) {
		return appErrors.Clone(appErrors.ErrValidation, "officer is not a member of the request unit")
	}
	return nil
}

func (s *RequestService) checkAttachmentCount(ids []string) error {
	if len(ids) > s.maxAttachments {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("at most %d attachments per entry", s.maxAttachments))
	}
	return nil
}

// checkAttachments requires every id to be an unlinked upload of the actor.
// The repository repeats the check atomically when linking.
func (s *RequestService) checkAttachments(ctx context.Context, actor workflow.Principal, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	found, err := s.attachments.FindByIDs(ctx, ids)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load attachments")
	}
	byID := make(map[string]models.Attachment, len(found))
	for _, att := range found {
		byID[att.ID] = att
	}
	for _, id := range ids {
		att, ok := byID[id]
		switch {
		case !ok:
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("attachment %s not found", id))
		case att.UploadedBy != actor.UserID:
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("attachment %s belongs to another user", id))
		case att.EntryID != nil:
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("attachment %s is already in use", id))
		}
	}
	return nil
}

func (s *RequestService) writeError(err error, message string) error {
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return appErrors.Clone(appErrors.ErrNotFound, "request not found")
	case errors.Is(err, repository.ErrVersionConflict):
		return appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, "request was modified concurrently")
	case errors.Is(err, repository.ErrAlreadyAssigned):
		return appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, "request already has an assigned officer")
	case errors.Is(err, repository.ErrAttachmentUnavailable):
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "attachment unavailable")
	default:
		s.logger.Error(message, zap.Error(err))
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
	}
}

// record counts an operation outcome. Rejections before the lock are counted
// too so the error mix is visible.
func (s *RequestService) record(op string, err error, done bool) {
	if err != nil {
		s.metrics.RecordTransition(op, strings.ToLower(appErrors.FromError(err).Code))
		return
	}
	if done {
		s.metrics.RecordTransition(op, OutcomeOK)
	}
}

// validID reports whether id can name a stored row. Ids are uuids.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func optionalText(raw string) *string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
