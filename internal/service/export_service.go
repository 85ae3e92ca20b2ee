package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/request-portal-api/internal/dto"
	"github.com/noah-isme/request-portal-api/internal/models"
	"github.com/noah-isme/request-portal-api/internal/workflow"
	appErrors "github.com/noah-isme/request-portal-api/pkg/errors"
	"github.com/noah-isme/request-portal-api/pkg/export"
)

// Transcript formats accepted by the export endpoint.
const (
	FormatCSV = "csv"
	FormatPDF = "pdf"
)

const transcriptTimeLayout = "2006-01-02 15:04 MST"

type transcriptSource interface {
	Get(ctx context.Context, actor workflow.Principal, requestID string) (*dto.RequestDetail, error)
	Timeline(ctx context.Context, actor workflow.Principal, requestID string) ([]models.TimelineEntry, error)
}

type transcriptRenderer interface {
	Render(table export.Table) ([]byte, error)
	ContentType() string
	Extension() string
}

// Transcript is a rendered timeline ready to stream.
type Transcript struct {
	Filename    string
	ContentType string
	Body        []byte
}

// ExportService renders request timelines as downloadable transcripts.
type ExportService struct {
	requests  transcriptSource
	users     officerReader
	renderers map[string]transcriptRenderer
	logger    *zap.Logger
}

// NewExportService constructs an ExportService. users may be nil, in which
// case actors are listed by id.
func NewExportService(requests transcriptSource, users officerReader, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportService{
		requests: requests,
		users:    users,
		renderers: map[string]transcriptRenderer{
			FormatCSV: export.NewCSVExporter(),
			FormatPDF: export.NewPDFExporter(),
		},
		logger: logger,
	}
}

// Transcript renders the timeline of a request the actor can view.
func (s *ExportService) Transcript(ctx context.Context, actor workflow.Principal, requestID, format string) (*Transcript, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = FormatCSV
	}
	renderer, ok := s.renderers[format]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}

	detail, err := s.requests.Get(ctx, actor, requestID)
	if err != nil {
		return nil, err
	}
	entries, err := s.requests.Timeline(ctx, actor, requestID)
	if err != nil {
		return nil, err
	}

	body, err := renderer.Render(s.buildTable(ctx, detail, entries))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render transcript")
	}
	s.logger.Debug("transcript rendered",
		zap.String("request_id", requestID),
		zap.String("format", format),
		zap.Int("entries", len(entries)),
	)
	return &Transcript{
		Filename:    transcriptFilename(detail.ID) + renderer.Extension(),
		ContentType: renderer.ContentType(),
		Body:        body,
	}, nil
}

func (s *ExportService) buildTable(ctx context.Context, detail *dto.RequestDetail, entries []models.TimelineEntry) export.Table {
	names := map[string]string{}
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			strconv.FormatInt(e.Sequence, 10),
			e.CreatedAt.UTC().Format(transcriptTimeLayout),
			s.actorName(ctx, names, e.ActorID),
			entryEvent(e),
			workflow.StatusLabel(e.NewStatus),
			derefText(e.Comment),
			attachmentNames(e.Attachments),
		})
	}
	return export.Table{
		Title: detail.Title,
		Subtitle: []string{
			"Request " + detail.ID,
			"Status: " + detail.StatusLabel + "   Priority: " + detail.PriorityLabel,
			"Generated " + time.Now().UTC().Format(transcriptTimeLayout),
		},
		Headers: []string{"#", "When", "Actor", "Event", "Status", "Comment", "Attachments"},
		Rows:    rows,
		Widths:  []float64{1, 3, 3, 3, 3, 8, 3},
	}
}

func (s *ExportService) actorName(ctx context.Context, seen map[string]string, userID string) string {
	if name, ok := seen[userID]; ok {
		return name
	}
	name := userID
	if s.users != nil {
		user, err := s.users.FindByID(ctx, userID)
		switch {
		case err == nil && user.FullName != "":
			name = user.FullName
		case err != nil && !errors.Is(err, sql.ErrNoRows):
			s.logger.Warn("transcript actor lookup failed", zap.String("user_id", userID), zap.Error(err))
		}
	}
	seen[userID] = name
	return name
}

func entryEvent(e models.TimelineEntry) string {
	switch e.Kind {
	case models.EntryKindCreated:
		return "Created"
	case models.EntryKindStatusChange:
		if e.PreviousStatus != nil {
			return fmt.Sprintf("Status %s -> %s", workflow.StatusLabel(*e.PreviousStatus), workflow.StatusLabel(e.NewStatus))
		}
		return "Status changed"
	case models.EntryKindAssignment:
		return "Assigned"
	case models.EntryKindTransfer:
		return "Transferred"
	case models.EntryKindPriorityChange:
		if e.Metadata.FromPriority != nil && e.Metadata.ToPriority != nil {
			return fmt.Sprintf("Priority %s -> %s", workflow.PriorityLabel(*e.Metadata.FromPriority), workflow.PriorityLabel(*e.Metadata.ToPriority))
		}
		return "Priority changed"
	case models.EntryKindCancellation:
		return "Cancelled"
	default:
		return "Comment"
	}
}

func attachmentNames(atts []models.Attachment) string {
	names := make([]string, 0, len(atts))
	for _, a := range atts {
		names = append(names, a.Filename)
	}
	return strings.Join(names, ", ")
}

func derefText(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}

func transcriptFilename(requestID string) string {
	id := strings.NewReplacer("/", "-", "\\", "-", "..", ".").Replace(requestID)
	if len(id) > 64 {
		id = id[:64]
	}
	return "request_" + id + "_timeline"
}
