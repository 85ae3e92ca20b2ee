package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/request-portal-api/internal/models"
)

var (
	// ErrVersionConflict is returned when the stored version no longer matches
	// the version the caller read.
	ErrVersionConflict = errors.New("request version conflict")
	// ErrAlreadyAssigned is returned when a claim finds an officer already set.
	ErrAlreadyAssigned = errors.New("request already assigned")
	// ErrAttachmentUnavailable is returned when an attachment is missing,
	// already linked, or owned by someone else.
	ErrAttachmentUnavailable = errors.New("attachment unavailable")
)

const requestColumns = `id, title, description, category_id, unit_id, requester_id, assigned_officer_id,
       status_id, priority_id, version, created_at, updated_at`

// RequestRepository persists requests together with their timeline. Timeline
// rows are only written here, inside the same transaction as the request row.
type RequestRepository struct {
	db *sqlx.DB
}

// NewRequestRepository constructs the repository.
func NewRequestRepository(db *sqlx.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

// Create inserts a request and its creation entry, linking any attachments to
// that entry.
func (r *RequestRepository) Create(ctx context.Context, req *models.Request, entry *models.TimelineEntry, attachmentIDs []string) (err error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now
	}
	req.UpdatedAt = req.CreatedAt
	if req.Version == 0 {
		req.Version = 1
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create request: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const insert = `INSERT INTO requests
	(id, title, description, category_id, unit_id, requester_id, assigned_officer_id, status_id, priority_id, version, created_at, updated_at)
	VALUES (:id, :title, :description, :category_id, :unit_id, :requester_id, :assigned_officer_id, :status_id, :priority_id, :version, :created_at, :updated_at)`
	if _, err = tx.NamedExecContext(ctx, insert, req); err != nil {
		return fmt.Errorf("insert request: %w", err)
	}

	entry.RequestID = req.ID
	entry.CreatedAt = req.CreatedAt
	if err = appendEntryTx(ctx, tx, entry); err != nil {
		return err
	}
	if err = linkAttachmentsTx(ctx, tx, entry, attachmentIDs); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit create request: %w", err)
	}
	return nil
}

// GetByID fetches a request. Missing rows return sql.ErrNoRows.
func (r *RequestRepository) GetByID(ctx context.Context, id string) (*models.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM requests WHERE id = $1`
	var req models.Request
	if err := r.db.GetContext(ctx, &req, query, id); err != nil {
		if isMissing(err) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("get request: %w", err)
	}
	return &req, nil
}

// List returns requests matching the filter, newest first, with the total.
func (r *RequestRepository) List(ctx context.Context, filter models.RequestFilter) ([]models.Request, int, error) {
	conditions := make([]string, 0, 6)
	args := make([]interface{}, 0, 6)
	next := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if len(filter.Status) > 0 {
		ids := make([]int64, len(filter.Status))
		for i, s := range filter.Status {
			ids[i] = int64(s)
		}
		conditions = append(conditions, "status_id = ANY("+next(pq.Array(ids))+")")
	}
	if len(filter.UnitIDs) > 0 {
		conditions = append(conditions, "unit_id = ANY("+next(pq.Array(filter.UnitIDs))+")")
	}
	if filter.RequesterID != "" {
		conditions = append(conditions, "requester_id = "+next(filter.RequesterID))
	}
	if filter.AssignedOfficerID != "" {
		conditions = append(conditions, "assigned_officer_id = "+next(filter.AssignedOfficerID))
	}
	if v := filter.VisibleTo; v != nil {
		user := next(v.UserID)
		units := next(pq.Array(v.UnitIDs))
		conditions = append(conditions, fmt.Sprintf("(requester_id = %s OR assigned_officer_id = %s OR unit_id = ANY(%s))", user, user, units))
	}
	if filter.Search != "" {
		conditions = append(conditions, "title ILIKE "+next("%"+filter.Search+"%"))
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}

	listQuery := fmt.Sprintf("SELECT %s FROM requests%s ORDER BY created_at DESC, id LIMIT %d OFFSET %d",
		requestColumns, where, pageSize, (page-1)*pageSize)
	var items []models.Request
	if err := r.db.SelectContext(ctx, &items, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list requests: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM requests"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count requests: %w", err)
	}
	return items, total, nil
}

// Transition is one committed mutation of a request.
type Transition struct {
	// Request holds the desired state. Its Version must be the version the
	// caller read; on success it is advanced.
	Request *models.Request
	Entry   *models.TimelineEntry
	// AttachmentIDs are linked to Entry in order.
	AttachmentIDs []string
	// RequireUnassigned rejects the write if an officer is already assigned.
	RequireUnassigned bool
}

// Apply writes the new request state and appends its timeline entry in one
// transaction. The request row is locked for the duration so entry sequence
// numbers are allocated without gaps or duplicates.
func (r *RequestRepository) Apply(ctx context.Context, t Transition) (err error) {
	req := t.Request
	if req == nil || t.Entry == nil {
		return fmt.Errorf("apply transition: request and entry required")
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transition: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var current struct {
		Version           int64   `db:"version"`
		AssignedOfficerID *string `db:"assigned_officer_id"`
	}
	const lock = `SELECT version, assigned_officer_id FROM requests WHERE id = $1 FOR UPDATE`
	if err = tx.GetContext(ctx, &current, lock, req.ID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return err
		}
		return fmt.Errorf("lock request: %w", err)
	}
	if current.Version != req.Version {
		err = ErrVersionConflict
		return err
	}
	if t.RequireUnassigned && current.AssignedOfficerID != nil {
		err = ErrAlreadyAssigned
		return err
	}

	now := time.Now().UTC()
	const update = `UPDATE requests
	SET status_id = $1, priority_id = $2, assigned_officer_id = $3, unit_id = $4, version = version + 1, updated_at = $5
	WHERE id = $6 AND version = $7`
	result, err := tx.ExecContext(ctx, update, req.Status, req.Priority, req.AssignedOfficerID, req.UnitID, now, req.ID, req.Version)
	if err != nil {
		return fmt.Errorf("update request: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check request update rows: %w", err)
	}
	if rows == 0 {
		err = ErrVersionConflict
		return err
	}

	t.Entry.RequestID = req.ID
	t.Entry.CreatedAt = now
	if err = appendEntryTx(ctx, tx, t.Entry); err != nil {
		return err
	}
	if err = linkAttachmentsTx(ctx, tx, t.Entry, t.AttachmentIDs); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transition: %w", err)
	}
	req.Version++
	req.UpdatedAt = now
	return nil
}

// appendEntryTx allocates the next sequence for the request and inserts the
// entry. Callers must hold the request row lock or have just inserted it.
func appendEntryTx(ctx context.Context, tx *sqlx.Tx, entry *models.TimelineEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	const nextSeq = `SELECT COALESCE(MAX(sequence), -1) + 1 FROM timeline_entries WHERE request_id = $1`
	if err := tx.GetContext(ctx, &entry.Sequence, nextSeq, entry.RequestID); err != nil {
		return fmt.Errorf("next timeline sequence: %w", err)
	}
	if (entry.Sequence == 0) != (entry.PreviousStatus == nil) {
		return fmt.Errorf("timeline entry %d: previous status must be set on every entry but the first", entry.Sequence)
	}

	const insert = `INSERT INTO timeline_entries
	(id, request_id, sequence, kind, actor_id, actor_role, previous_status_id, new_status_id, comment, metadata, created_at)
	VALUES (:id, :request_id, :sequence, :kind, :actor_id, :actor_role, :previous_status_id, :new_status_id, :comment, :metadata, :created_at)`
	if _, err := tx.NamedExecContext(ctx, insert, entry); err != nil {
		return fmt.Errorf("append timeline entry: %w", err)
	}
	return nil
}

// linkAttachmentsTx binds unlinked attachments uploaded by the entry's actor.
func linkAttachmentsTx(ctx context.Context, tx *sqlx.Tx, entry *models.TimelineEntry, ids []string) error {
	const link = `UPDATE attachments SET entry_id = $1, position = $2
	WHERE id = $3 AND uploaded_by = $4 AND entry_id IS NULL`
	entry.Attachments = entry.Attachments[:0]
	for i, id := range ids {
		result, err := tx.ExecContext(ctx, link, entry.ID, i, id, entry.ActorID)
		if err != nil {
			return fmt.Errorf("link attachment %s: %w", id, err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("check attachment link rows: %w", err)
		}
		if rows == 0 {
			return fmt.Errorf("%w: %s", ErrAttachmentUnavailable, id)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	query, args, err := sqlx.In(`SELECT `+attachmentColumns+` FROM attachments WHERE id IN (?) ORDER BY position`, ids)
	if err != nil {
		return fmt.Errorf("build attachment query: %w", err)
	}
	if err := tx.SelectContext(ctx, &entry.Attachments, tx.Rebind(query), args...); err != nil {
		return fmt.Errorf("load linked attachments: %w", err)
	}
	return nil
}
