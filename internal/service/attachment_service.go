package service

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/request-portal-api/internal/dto"
	"github.com/noah-isme/request-portal-api/internal/models"
	"github.com/noah-isme/request-portal-api/internal/workflow"
	appErrors "github.com/noah-isme/request-portal-api/pkg/errors"
	"github.com/noah-isme/request-portal-api/pkg/storage"
)

// sniffLen covers the signatures mimetype inspects for office documents.
const sniffLen = 3072

type attachmentStore interface {
	Create(ctx context.Context, att *models.Attachment) error
	GetByID(ctx context.Context, id string) (*models.Attachment, error)
	RequestIDForAttachment(ctx context.Context, attachmentID string) (string, error)
}

type blobStore interface {
	Put(key string, r io.Reader, limit int64) (int64, error)
	Open(key string) (*os.File, error)
	Delete(key string) error
}

type requestViewer interface {
	Get(ctx context.Context, actor workflow.Principal, requestID string) (*dto.RequestDetail, error)
}

// AttachmentLimits bounds uploads.
type AttachmentLimits struct {
	MaxFileSizeBytes int64
	AllowedMIMEs     []string
}

// SignedDownload is a short-lived link to an attachment blob.
type SignedDownload struct {
	Token     string    `json:"token"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// AttachmentService stores uploads and hands out signed download links.
// Uploads stay unlinked until a request operation references them.
type AttachmentService struct {
	repo     attachmentStore
	files    blobStore
	signer   *storage.SignedURLSigner
	requests requestViewer
	limits   AttachmentLimits
	logger   *zap.Logger
	now      func() time.Time
}

// NewAttachmentService constructs the service.
func NewAttachmentService(repo attachmentStore, files blobStore, signer *storage.SignedURLSigner, requests requestViewer, limits AttachmentLimits, logger *zap.Logger) *AttachmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AttachmentService{
		repo:     repo,
		files:    files,
		signer:   signer,
		requests: requests,
		limits:   limits,
		logger:   logger,
		now:      time.Now,
	}
}

// Upload sniffs the content type, enforces limits and stores the blob.
func (s *AttachmentService) Upload(ctx context.Context, actor workflow.Principal, filename string, r io.Reader) (*models.Attachment, error) {
	if actor.UserID == "" {
		return nil, appErrors.ErrUnauthorized
	}
	filename = filepath.Base(strings.TrimSpace(filename))
	if filename == "" || filename == "." || filename == string(filepath.Separator) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "filename is required")
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "failed to read upload")
	}
	if n == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "file is empty")
	}
	head = head[:n]

	detected := mimetype.Detect(head)
	if len(s.limits.AllowedMIMEs) > 0 && !mimetype.EqualsAny(detected.String(), s.limits.AllowedMIMEs...) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "file type "+detected.String()+" is not allowed")
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if detected.Extension() != "" {
		ext = detected.Extension()
	}

	now := s.now().UTC()
	att := &models.Attachment{
		ID:         uuid.NewString(),
		Filename:   filename,
		Extension:  ext,
		MimeType:   detected.String(),
		UploadedBy: actor.UserID,
		UploadedAt: now,
	}
	att.StoragePath = storage.AttachmentKey(att.ID, ext, now)

	size, err := s.files.Put(att.StoragePath, io.MultiReader(bytes.NewReader(head), r), s.limits.MaxFileSizeBytes)
	if err != nil {
		if errors.Is(err, storage.ErrTooLarge) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "file exceeds size limit")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store file")
	}
	att.SizeBytes = size

	if err := s.repo.Create(ctx, att); err != nil {
		if delErr := s.files.Delete(att.StoragePath); delErr != nil {
			s.logger.Warn("orphaned attachment blob", zap.String("key", att.StoragePath), zap.Error(delErr))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save attachment")
	}

	s.logger.Info("attachment uploaded",
		zap.String("attachment_id", att.ID),
		zap.String("uploaded_by", actor.UserID),
		zap.String("mime_type", att.MimeType),
		zap.Int64("size_bytes", size),
	)
	return att, nil
}

// Download authorises the actor and returns a signed link. Unlinked uploads
// are visible to their uploader only; linked ones follow request visibility.
func (s *AttachmentService) Download(ctx context.Context, actor workflow.Principal, attachmentID string) (*SignedDownload, error) {
	if actor.UserID == "" {
		return nil, appErrors.ErrUnauthorized
	}
	att, err := s.repo.GetByID(ctx, attachmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "attachment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load attachment")
	}

	if att.EntryID == nil {
		if att.UploadedBy != actor.UserID {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "not allowed to download attachment")
		}
	} else {
		requestID, err := s.repo.RequestIDForAttachment(ctx, att.ID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrNotFound, "attachment not found")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve attachment request")
		}
		if _, err := s.requests.Get(ctx, actor, requestID); err != nil {
			return nil, err
		}
	}

	token, expires, err := s.signer.Generate(att.ID, att.StoragePath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign download")
	}
	return &SignedDownload{Token: token, ExpiresAt: expires}, nil
}

// Open resolves a signed token to the attachment and its blob. The caller
// closes the file.
func (s *AttachmentService) Open(ctx context.Context, token string) (*models.Attachment, *os.File, error) {
	claims, err := s.signer.Parse(token)
	if err != nil {
		if errors.Is(err, storage.ErrTokenExpired) {
			return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "download link expired")
		}
		return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "invalid download link")
	}
	att, err := s.repo.GetByID(ctx, claims.AttachmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "attachment not found")
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load attachment")
	}
	if att.StoragePath != claims.Key {
		return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "invalid download link")
	}
	file, err := s.files.Open(att.StoragePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "attachment file missing")
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open attachment")
	}
	return att, file, nil
}
