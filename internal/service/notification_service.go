package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/request-portal-api/internal/models"
	"github.com/noah-isme/request-portal-api/internal/workflow"
	"github.com/noah-isme/request-portal-api/pkg/jobs"
)

const notificationJobType = "request.notification"

// Notification is one message to one recipient about a committed change.
type Notification struct {
	RecipientID string           `json:"recipientId"`
	RequestID   string           `json:"requestId"`
	Kind        models.EntryKind `json:"kind"`
	Sequence    int64            `json:"sequence"`
	Subject     string           `json:"subject"`
	Body        string           `json:"body"`
	OccurredAt  time.Time        `json:"occurredAt"`
}

// NotificationSender delivers a notification through some channel.
type NotificationSender interface {
	Send(ctx context.Context, n Notification) error
}

// LogSender writes notifications to the log. It is the default channel.
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender constructs a LogSender.
func NewLogSender(logger *zap.Logger) *LogSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSender{logger: logger}
}

// Send implements NotificationSender.
func (s *LogSender) Send(_ context.Context, n Notification) error {
	s.logger.Info("notification",
		zap.String("recipient_id", n.RecipientID),
		zap.String("request_id", n.RequestID),
		zap.String("kind", string(n.Kind)),
		zap.Int64("sequence", n.Sequence),
		zap.String("subject", n.Subject),
	)
	return nil
}

// NotificationService fans committed ledger entries out to the people involved
// in a request. Dispatch goes through a bounded queue and never blocks or
// fails the caller.
type NotificationService struct {
	queue   *jobs.Queue
	sender  NotificationSender
	metrics *MetricsService
	logger  *zap.Logger
	enabled bool
}

// NewNotificationService wires the sender behind a job queue.
func NewNotificationService(sender NotificationSender, metrics *MetricsService, logger *zap.Logger, cfg jobs.QueueConfig, enabled bool) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sender == nil {
		sender = NewLogSender(logger)
	}
	svc := &NotificationService{sender: sender, metrics: metrics, logger: logger, enabled: enabled}
	cfg.Logger = logger
	svc.queue = jobs.NewQueue("notifications", svc.handle, cfg)
	return svc
}

// Start launches the queue workers.
func (s *NotificationService) Start(ctx context.Context) {
	if s == nil || !s.enabled {
		return
	}
	s.queue.Start(ctx)
}

// Stop drains the queue.
func (s *NotificationService) Stop(ctx context.Context) error {
	if s == nil || !s.enabled {
		return nil
	}
	return s.queue.Stop(ctx)
}

// Stats exposes the queue counters.
func (s *NotificationService) Stats() jobs.Stats {
	if s == nil {
		return jobs.Stats{}
	}
	return s.queue.Stats()
}

// Notify enqueues one job per recipient of entry. Enqueue failures are logged
// and counted.
func (s *NotificationService) Notify(req *models.Request, entry *models.TimelineEntry) {
	if s == nil || !s.enabled || req == nil || entry == nil {
		return
	}
	for _, recipient := range Recipients(req, entry) {
		n := Notification{
			RecipientID: recipient,
			RequestID:   req.ID,
			Kind:        entry.Kind,
			Sequence:    entry.Sequence,
			Subject:     notificationSubject(req, entry),
			OccurredAt:  entry.CreatedAt,
		}
		if entry.Comment != nil {
			n.Body = *entry.Comment
		}
		job := jobs.Job{ID: uuid.NewString(), Type: notificationJobType, Payload: n, Enqueued: time.Now().UTC()}
		if err := s.queue.Enqueue(job); err != nil {
			s.metrics.RecordNotification("dropped")
			s.logger.Warn("notification dropped",
				zap.String("request_id", req.ID),
				zap.String("recipient_id", recipient),
				zap.Error(err),
			)
		}
	}
}

func (s *NotificationService) handle(ctx context.Context, job jobs.Job) error {
	n, ok := job.Payload.(Notification)
	if !ok {
		s.metrics.RecordNotification("failed")
		return errors.New("unexpected notification payload")
	}
	if err := s.sender.Send(ctx, n); err != nil {
		s.metrics.RecordNotification("failed")
		return fmt.Errorf("send notification to %s: %w", n.RecipientID, err)
	}
	s.metrics.RecordNotification("sent")
	return nil
}

// Recipients lists who should hear about entry: the requester, the assigned
// officer and, for transfers, the previous owner. The actor is never notified
// of their own change.
func Recipients(req *models.Request, entry *models.TimelineEntry) []string {
	candidates := []string{req.RequesterID}
	if req.AssignedOfficerID != nil {
		candidates = append(candidates, *req.AssignedOfficerID)
	}
	if entry.Metadata.FromOfficerID != nil {
		candidates = append(candidates, *entry.Metadata.FromOfficerID)
	}

	seen := make(map[string]struct{}, len(candidates))
	out := make([]string, 0, len(candidates))
	for _, id := range candidates {
		if id == "" || id == entry.ActorID {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func notificationSubject(req *models.Request, entry *models.TimelineEntry) string {
	switch entry.Kind {
	case models.EntryKindStatusChange, models.EntryKindCancellation:
		return fmt.Sprintf("%s: %s", req.Title, workflow.StatusLabel(entry.NewStatus))
	case models.EntryKindAssignment:
		return fmt.Sprintf("%s: assigned", req.Title)
	case models.EntryKindTransfer:
		return fmt.Sprintf("%s: transferred", req.Title)
	case models.EntryKindPriorityChange:
		return fmt.Sprintf("%s: priority %s", req.Title, workflow.PriorityLabel(req.Priority))
	case models.EntryKindCreated:
		return fmt.Sprintf("%s: created", req.Title)
	default:
		return fmt.Sprintf("%s: new response", req.Title)
	}
}
