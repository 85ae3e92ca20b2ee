package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// EntryKind classifies a timeline entry.
type EntryKind string

const (
	EntryKindCreated        EntryKind = "CREATED"
	EntryKindComment        EntryKind = "COMMENT"
	EntryKindStatusChange   EntryKind = "STATUS_CHANGE"
	EntryKindAssignment     EntryKind = "ASSIGNMENT"
	EntryKindTransfer       EntryKind = "TRANSFER"
	EntryKindPriorityChange EntryKind = "PRIORITY_CHANGE"
	EntryKindCancellation   EntryKind = "CANCELLATION"
)

// EntryMetadata carries structured details for assignment and priority
// entries. Stored as JSONB.
type EntryMetadata struct {
	FromOfficerID *string          `json:"fromOfficerId,omitempty"`
	ToOfficerID   *string          `json:"toOfficerId,omitempty"`
	FromPriority  *RequestPriority `json:"fromPriority,omitempty"`
	ToPriority    *RequestPriority `json:"toPriority,omitempty"`
}

// Value implements driver.Valuer.
func (m EntryMetadata) Value() (driver.Value, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// Scan implements sql.Scanner.
func (m *EntryMetadata) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*m = EntryMetadata{}
		return nil
	case []byte:
		if len(v) == 0 {
			*m = EntryMetadata{}
			return nil
		}
		return json.Unmarshal(v, m)
	case string:
		if v == "" {
			*m = EntryMetadata{}
			return nil
		}
		return json.Unmarshal([]byte(v), m)
	default:
		return fmt.Errorf("unsupported metadata type %T", src)
	}
}

// TimelineEntry is one immutable ledger row. Sequence is strictly increasing
// per request and starts at zero for the creation entry.
type TimelineEntry struct {
	ID             string         `db:"id" json:"id"`
	RequestID      string         `db:"request_id" json:"requestId"`
	Sequence       int64          `db:"sequence" json:"sequence"`
	Kind           EntryKind      `db:"kind" json:"kind"`
	ActorID        string         `db:"actor_id" json:"actorId"`
	ActorRole      UserRole       `db:"actor_role" json:"actorRole"`
	PreviousStatus *RequestStatus `db:"previous_status_id" json:"previousStatusId"`
	NewStatus      RequestStatus  `db:"new_status_id" json:"newStatusId"`
	Comment        *string        `db:"comment" json:"comment,omitempty"`
	Metadata       EntryMetadata  `db:"metadata" json:"metadata"`
	Attachments    []Attachment   `db:"-" json:"attachments"`
	CreatedAt      time.Time      `db:"created_at" json:"createdAt"`
}

// Attachment is an uploaded file. It is unlinked until an entry references it
// and immutable afterwards.
type Attachment struct {
	ID          string    `db:"id" json:"id"`
	EntryID     *string   `db:"entry_id" json:"entryId,omitempty"`
	Position    int       `db:"position" json:"-"`
	Filename    string    `db:"filename" json:"filename"`
	Extension   string    `db:"extension" json:"extension"`
	MimeType    string    `db:"mime_type" json:"mimeType"`
	SizeBytes   int64     `db:"size_bytes" json:"sizeBytes"`
	StoragePath string    `db:"storage_path" json:"-"`
	UploadedBy  string    `db:"uploaded_by" json:"uploadedBy"`
	UploadedAt  time.Time `db:"uploaded_at" json:"uploadedAt"`
}
