package service

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/request-portal-api/internal/dto"
	"github.com/noah-isme/request-portal-api/internal/models"
	appErrors "github.com/noah-isme/request-portal-api/pkg/errors"
)

func TestExportServiceTranscriptCSV(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	req := f.create(t, student)
	_, err := f.svc.TakeOwnership(ctx, officer1, req.ID)
	require.NoError(t, err)
	_, err = f.svc.AddResponse(ctx, officer1, req.ID, dto.AddResponseInput{Comment: "Router restarted, \"please\" retry", NewStatusID: models.StatusAnsweredWaitingResponse})
	require.NoError(t, err)

	users := userDirectoryStub{"officer-1": {ID: "officer-1", FullName: "Ida Officer"}}
	svc := NewExportService(f.svc, users, nil)

	out, err := svc.Transcript(ctx, student, req.ID, "CSV")
	require.NoError(t, err)
	assert.Equal(t, "text/csv", out.ContentType)
	assert.Equal(t, "request_"+req.ID+"_timeline.csv", out.Filename)

	lines := strings.Split(strings.TrimSpace(string(out.Body)), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "#,When,Actor,Event,Status,Comment,Attachments", lines[0])
	assert.Contains(t, lines[1], "student-1")
	assert.Contains(t, lines[2], "Ida Officer")
	assert.Contains(t, lines[3], "Status In progress -> Answered, waiting for response")
	assert.Contains(t, lines[3], `""please""`)
}

func TestExportServiceTranscriptPDF(t *testing.T) {
	f := newEngineFixture(t)
	req := f.create(t, student)
	svc := NewExportService(f.svc, nil, nil)

	out, err := svc.Transcript(context.Background(), admin, req.ID, "pdf")
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", out.ContentType)
	assert.True(t, bytes.HasPrefix(out.Body, []byte("%PDF")))
}

func TestExportServiceTranscriptRejections(t *testing.T) {
	f := newEngineFixture(t)
	req := f.create(t, student)
	svc := NewExportService(f.svc, nil, nil)

	_, err := svc.Transcript(context.Background(), student, req.ID, "xlsx")
	requireCode(t, err, appErrors.ErrValidation)

	_, err = svc.Transcript(context.Background(), student2, req.ID, "csv")
	requireCode(t, err, appErrors.ErrForbidden)

	_, err = svc.Transcript(context.Background(), student, "missing", "csv")
	requireCode(t, err, appErrors.ErrNotFound)
}
