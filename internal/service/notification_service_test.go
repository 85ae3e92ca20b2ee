package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/request-portal-api/internal/models"
	"github.com/noah-isme/request-portal-api/pkg/jobs"
)

type captureSender struct {
	mu    sync.Mutex
	sent  []Notification
	fails int
}

func (c *captureSender) Send(_ context.Context, n Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fails > 0 {
		c.fails--
		return assert.AnError
	}
	c.sent = append(c.sent, n)
	return nil
}

func (c *captureSender) recipients() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.sent))
	for _, n := range c.sent {
		out = append(out, n.RecipientID)
	}
	return out
}

func TestRecipients(t *testing.T) {
	officer := "officer-2"
	previous := "officer-1"
	req := &models.Request{RequesterID: "student-1", AssignedOfficerID: &officer}

	transfer := &models.TimelineEntry{ActorID: "officer-1", Kind: models.EntryKindTransfer, Metadata: models.EntryMetadata{FromOfficerID: &previous, ToOfficerID: &officer}}
	assert.Equal(t, []string{"student-1", "officer-2"}, Recipients(req, transfer))

	byAdmin := &models.TimelineEntry{ActorID: "admin-1", Kind: models.EntryKindTransfer, Metadata: models.EntryMetadata{FromOfficerID: &previous, ToOfficerID: &officer}}
	assert.Equal(t, []string{"student-1", "officer-2", "officer-1"}, Recipients(req, byAdmin))

	comment := &models.TimelineEntry{ActorID: "student-1", Kind: models.EntryKindComment}
	assert.Equal(t, []string{"officer-2"}, Recipients(req, comment))

	created := &models.TimelineEntry{ActorID: "student-1", Kind: models.EntryKindCreated}
	assert.Empty(t, Recipients(&models.Request{RequesterID: "student-1"}, created))
}

func TestNotificationServiceDeliversWithRetry(t *testing.T) {
	sender := &captureSender{fails: 1}
	metrics := NewMetricsService()
	svc := NewNotificationService(sender, metrics, zap.NewNop(), jobs.QueueConfig{Workers: 1, BufferSize: 8, MaxRetries: 2, RetryDelay: time.Millisecond}, true)
	svc.Start(context.Background())

	officer := "officer-1"
	comment := "please reboot"
	req := &models.Request{ID: "req-1", Title: "Wi-Fi", RequesterID: "student-1", AssignedOfficerID: &officer, Status: models.StatusAnsweredWaitingResponse}
	svc.Notify(req, &models.TimelineEntry{ActorID: officer, Kind: models.EntryKindStatusChange, NewStatus: models.StatusAnsweredWaitingResponse, Comment: &comment})

	require.Eventually(t, func() bool { return len(sender.recipients()) == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, svc.Stop(context.Background()))

	assert.Equal(t, []string{"student-1"}, sender.recipients())
	assert.Equal(t, "Wi-Fi: Answered, waiting for response", sender.sent[0].Subject)
	assert.Equal(t, comment, sender.sent[0].Body)
	assert.EqualValues(t, 1, svc.Stats().Processed)
}

func TestNotificationServiceDisabled(t *testing.T) {
	sender := &captureSender{}
	svc := NewNotificationService(sender, nil, nil, jobs.QueueConfig{}, false)
	svc.Start(context.Background())
	svc.Notify(&models.Request{ID: "req-1", RequesterID: "student-1"}, &models.TimelineEntry{ActorID: "admin-1"})
	require.NoError(t, svc.Stop(context.Background()))
	assert.Empty(t, sender.recipients())
}
