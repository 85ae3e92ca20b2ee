package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/request-portal-api/internal/models"
)

const attachmentColumns = `id, entry_id, position, filename, extension, mime_type, size_bytes, storage_path, uploaded_by, uploaded_at`

// AttachmentRepository stores attachment metadata. Blobs live in storage.
type AttachmentRepository struct {
	db *sqlx.DB
}

// NewAttachmentRepository constructs the repository.
func NewAttachmentRepository(db *sqlx.DB) *AttachmentRepository {
	return &AttachmentRepository{db: db}
}

// Create records a freshly uploaded, unlinked attachment.
func (r *AttachmentRepository) Create(ctx context.Context, att *models.Attachment) error {
	if att.ID == "" {
		att.ID = uuid.NewString()
	}
	if att.UploadedAt.IsZero() {
		att.UploadedAt = time.Now().UTC()
	}
	const query = `INSERT INTO attachments
	(id, entry_id, position, filename, extension, mime_type, size_bytes, storage_path, uploaded_by, uploaded_at)
	VALUES (:id, :entry_id, :position, :filename, :extension, :mime_type, :size_bytes, :storage_path, :uploaded_by, :uploaded_at)`
	if _, err := r.db.NamedExecContext(ctx, query, att); err != nil {
		return fmt.Errorf("create attachment: %w", err)
	}
	return nil
}

// GetByID fetches attachment metadata. Missing rows return sql.ErrNoRows.
func (r *AttachmentRepository) GetByID(ctx context.Context, id string) (*models.Attachment, error) {
	var att models.Attachment
	if err := r.db.GetContext(ctx, &att, `SELECT `+attachmentColumns+` FROM attachments WHERE id = $1`, id); err != nil {
		if isMissing(err) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("get attachment: %w", err)
	}
	return &att, nil
}

// FindByIDs returns the attachments among ids that exist, in no particular order.
func (r *AttachmentRepository) FindByIDs(ctx context.Context, ids []string) ([]models.Attachment, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`SELECT `+attachmentColumns+` FROM attachments WHERE id IN (?)`, ids)
	if err != nil {
		return nil, fmt.Errorf("build attachment query: %w", err)
	}
	var items []models.Attachment
	if err := r.db.SelectContext(ctx, &items, r.db.Rebind(query), args...); err != nil {
		if isMalformedID(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("find attachments: %w", err)
	}
	return items, nil
}

// RequestIDForAttachment resolves the request an attachment belongs to
// through its timeline entry. Unlinked attachments return sql.ErrNoRows.
func (r *AttachmentRepository) RequestIDForAttachment(ctx context.Context, attachmentID string) (string, error) {
	const query = `SELECT te.request_id FROM attachments a
	JOIN timeline_entries te ON te.id = a.entry_id
	WHERE a.id = $1`
	var requestID string
	if err := r.db.GetContext(ctx, &requestID, query, attachmentID); err != nil {
		if isMissing(err) {
			return "", sql.ErrNoRows
		}
		return "", fmt.Errorf("resolve attachment request: %w", err)
	}
	return requestID, nil
}
