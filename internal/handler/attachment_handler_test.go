package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/request-portal-api/internal/models"
	"github.com/noah-isme/request-portal-api/internal/service"
	"github.com/noah-isme/request-portal-api/internal/workflow"
	appErrors "github.com/noah-isme/request-portal-api/pkg/errors"
)

type attachmentServiceMock struct {
	uploaded string
	content  []byte
	openPath string
	err      error
}

func (m *attachmentServiceMock) Upload(_ context.Context, actor workflow.Principal, filename string, r io.Reader) (*models.Attachment, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.uploaded = filename
	m.content, _ = io.ReadAll(r)
	return &models.Attachment{ID: "att-1", Filename: filename, UploadedBy: actor.UserID}, nil
}

func (m *attachmentServiceMock) Download(_ context.Context, _ workflow.Principal, id string) (*service.SignedDownload, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &service.SignedDownload{Token: "tok-" + id, ExpiresAt: time.Now().Add(time.Minute)}, nil
}

func (m *attachmentServiceMock) Open(_ context.Context, token string) (*models.Attachment, *os.File, error) {
	if m.err != nil {
		return nil, nil, m.err
	}
	f, err := os.Open(m.openPath)
	if err != nil {
		return nil, nil, err
	}
	return &models.Attachment{ID: "att-1", Filename: "notes.txt", MimeType: "text/plain; charset=utf-8"}, f, nil
}

func multipartBody(t *testing.T, field, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	writer := multipart.NewWriter(buf)
	part, err := writer.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	return buf, writer.FormDataContentType()
}

func TestAttachmentHandlerUpload(t *testing.T) {
	mock := &attachmentServiceMock{}
	h := NewAttachmentHandler(mock, "/api/v1")

	body, contentType := multipartBody(t, "file", "notes.txt", []byte("hello"))
	c, w := newTestContext(http.MethodPost, "/attachments", nil, &testOfficer)
	c.Request = httptestRequest(http.MethodPost, "/attachments", body, contentType)
	h.Upload(c)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "notes.txt", mock.uploaded)
	assert.Equal(t, []byte("hello"), mock.content)

	body, contentType = multipartBody(t, "other", "notes.txt", []byte("hello"))
	c, w = newTestContext(http.MethodPost, "/attachments", nil, &testOfficer)
	c.Request = httptestRequest(http.MethodPost, "/attachments", body, contentType)
	h.Upload(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAttachmentHandlerDownload(t *testing.T) {
	h := NewAttachmentHandler(&attachmentServiceMock{}, "/api/v1/")

	c, w := newTestContext(http.MethodGet, "/attachments/att-1/download", nil, &testOfficer)
	c.Params = gin.Params{{Key: "id", Value: "att-1"}}
	h.Download(c)
	require.Equal(t, http.StatusOK, w.Code)
	var link service.SignedDownload
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &link))
	assert.Equal(t, "/api/v1/files/tok-att-1", link.URL)

	c, w = newTestContext(http.MethodGet, "/attachments/att-1/download?redirect=true", nil, &testOfficer)
	c.Params = gin.Params{{Key: "id", Value: "att-1"}}
	h.Download(c)
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/api/v1/files/tok-att-1", w.Header().Get("Location"))
}

func TestAttachmentHandlerFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blob")
	require.NoError(t, os.WriteFile(path, []byte("file body"), 0o600))
	mock := &attachmentServiceMock{openPath: path}
	h := NewAttachmentHandler(mock, "")

	c, w := newTestContext(http.MethodGet, "/files/tok", nil, nil)
	c.Params = gin.Params{{Key: "token", Value: "tok"}}
	h.File(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "file body", w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Disposition"), "notes.txt")
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))

	mock.err = appErrors.Clone(appErrors.ErrForbidden, "download link expired")
	c, w = newTestContext(http.MethodGet, "/files/tok", nil, nil)
	c.Params = gin.Params{{Key: "token", Value: "tok"}}
	h.File(c)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func httptestRequest(method, target string, body io.Reader, contentType string) *http.Request {
	req, _ := http.NewRequest(method, target, body)
	req.Header.Set("Content-Type", contentType)
	return req
}
