package handler

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/request-portal-api/internal/models"
	"github.com/noah-isme/request-portal-api/internal/service"
	"github.com/noah-isme/request-portal-api/internal/workflow"
	appErrors "github.com/noah-isme/request-portal-api/pkg/errors"
	"github.com/noah-isme/request-portal-api/pkg/response"
)

type attachmentOperations interface {
	Upload(ctx context.Context, actor workflow.Principal, filename string, r io.Reader) (*models.Attachment, error)
	Download(ctx context.Context, actor workflow.Principal, attachmentID string) (*service.SignedDownload, error)
	Open(ctx context.Context, token string) (*models.Attachment, *os.File, error)
}

// AttachmentHandler handles uploads and signed downloads.
type AttachmentHandler struct {
	attachments attachmentOperations
	filesPrefix string
}

// NewAttachmentHandler constructs the handler. apiPrefix is used to build the
// signed file URLs handed to clients.
func NewAttachmentHandler(attachments attachmentOperations, apiPrefix string) *AttachmentHandler {
	prefix := strings.TrimRight(apiPrefix, "/")
	if prefix == "" {
		prefix = "/api/v1"
	}
	return &AttachmentHandler{attachments: attachments, filesPrefix: prefix + "/files/"}
}

// Upload godoc
// @Summary Upload an attachment
// @Description The returned id can be referenced by a create or response call
// @Tags Attachments
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "File"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /attachments [post]
func (h *AttachmentHandler) Upload(c *gin.Context) {
	actor, ok := principalFromContext(c)
	if !ok {
		return
	}
	header, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "multipart field \"file\" is required"))
		return
	}
	att, err := h.upload(c.Request.Context(), actor, header)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, att)
}

func (h *AttachmentHandler) upload(ctx context.Context, actor workflow.Principal, header *multipart.FileHeader) (*models.Attachment, error) {
	file, err := header.Open()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "failed to read upload")
	}
	defer file.Close()
	return h.attachments.Upload(ctx, actor, header.Filename, file)
}

// Download godoc
// @Summary Get a signed download link
// @Tags Attachments
// @Produce json
// @Param id path string true "Attachment ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /attachments/{id}/download [get]
func (h *AttachmentHandler) Download(c *gin.Context) {
	actor, ok := principalFromContext(c)
	if !ok {
		return
	}
	link, err := h.attachments.Download(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	link.URL = h.filesPrefix + link.Token
	if c.Query("redirect") == "true" {
		c.Header("Cache-Control", "no-store")
		c.Redirect(http.StatusFound, link.URL)
		return
	}
	response.OK(c, link)
}

// File godoc
// @Summary Stream a file behind a signed token
// @Tags Attachments
// @Produce application/octet-stream
// @Param token path string true "Signed token"
// @Success 200 {file} file
// @Failure 403 {object} response.Envelope
// @Router /files/{token} [get]
func (h *AttachmentHandler) File(c *gin.Context) {
	att, file, err := h.attachments.Open(c.Request.Context(), c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to stat attachment"))
		return
	}
	c.Header("Cache-Control", "private, no-store")
	c.Header("X-Content-Type-Options", "nosniff")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", att.Filename))
	c.DataFromReader(http.StatusOK, info.Size(), att.MimeType, file, nil)
}
