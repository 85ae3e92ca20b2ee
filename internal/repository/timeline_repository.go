package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/request-portal-api/internal/models"
)

// TimelineRepository reads the request ledger. It has no write path; entries
// are appended by RequestRepository alongside the request update.
type TimelineRepository struct {
	db *sqlx.DB
}

// NewTimelineRepository constructs the repository.
func NewTimelineRepository(db *sqlx.DB) *TimelineRepository {
	return &TimelineRepository{db: db}
}

// List returns every entry of a request in sequence order with attachments.
func (r *TimelineRepository) List(ctx context.Context, requestID string) ([]models.TimelineEntry, error) {
	const entriesQuery = `SELECT id, request_id, sequence, kind, actor_id, actor_role, previous_status_id, new_status_id, comment, metadata, created_at
	FROM timeline_entries WHERE request_id = $1 ORDER BY sequence ASC`
	var entries []models.TimelineEntry
	if err := r.db.SelectContext(ctx, &entries, entriesQuery, requestID); err != nil {
		if isMalformedID(err) {
			return []models.TimelineEntry{}, nil
		}
		return nil, fmt.Errorf("list timeline entries: %w", err)
	}
	if len(entries) == 0 {
		return entries, nil
	}

	const attachmentsQuery = `SELECT a.id, a.entry_id, a.position, a.filename, a.extension, a.mime_type, a.size_bytes, a.storage_path, a.uploaded_by, a.uploaded_at
	FROM attachments a JOIN timeline_entries te ON te.id = a.entry_id
	WHERE te.request_id = $1 ORDER BY te.sequence, a.position`
	var attachments []models.Attachment
	if err := r.db.SelectContext(ctx, &attachments, attachmentsQuery, requestID); err != nil {
		return nil, fmt.Errorf("list timeline attachments: %w", err)
	}

	index := make(map[string]int, len(entries))
	for i := range entries {
		entries[i].Attachments = []models.Attachment{}
		index[entries[i].ID] = i
	}
	for _, att := range attachments {
		if att.EntryID == nil {
			continue
		}
		if i, ok := index[*att.EntryID]; ok {
			entries[i].Attachments = append(entries[i].Attachments, att)
		}
	}
	return entries, nil
}
