package service

import (
	"context"
	"encoding/json"
	"path"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/request-portal-api/internal/dto"
	"github.com/noah-isme/request-portal-api/internal/models"
	appErrors "github.com/noah-isme/request-portal-api/pkg/errors"
)

type stubCacheRepo struct {
	store   map[string][]byte
	deleted []string
	getErr  error
}

func (s *stubCacheRepo) Get(_ context.Context, key string, dest interface{}) error {
	if s.getErr != nil {
		return s.getErr
	}
	payload, ok := s.store[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(payload, dest)
}

func (s *stubCacheRepo) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	if s.store == nil {
		s.store = make(map[string][]byte)
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	s.store[key] = payload
	return nil
}

func (s *stubCacheRepo) DeleteByPattern(_ context.Context, pattern string) error {
	s.deleted = append(s.deleted, pattern)
	for key := range s.store {
		if ok, _ := path.Match(pattern, key); ok {
			delete(s.store, key)
		}
	}
	return nil
}

func TestCacheServiceDisabled(t *testing.T) {
	repo := &stubCacheRepo{}
	svc := NewCacheService(repo, nil, time.Minute, zap.NewNop(), false)

	svc.Set(context.Background(), "k", "v", 0)
	var out string
	assert.False(t, svc.Get(context.Background(), "k", &out))
	assert.Empty(t, repo.store)

	var nilSvc *CacheService
	assert.False(t, nilSvc.Enabled())
	nilSvc.InvalidateRequest(context.Background(), "req-1")
}

func TestCacheServiceErrorsAreMisses(t *testing.T) {
	repo := &stubCacheRepo{getErr: assert.AnError}
	svc := NewCacheService(repo, NewMetricsService(), time.Minute, nil, true)

	var out string
	assert.False(t, svc.Get(context.Background(), "k", &out))
	assert.Equal(t, 0.0, svc.metrics.Snapshot().CacheHitRatio)
}

func TestCacheServiceInvalidateRequest(t *testing.T) {
	repo := &stubCacheRepo{}
	svc := NewCacheService(repo, nil, time.Minute, zap.NewNop(), true)
	ctx := context.Background()

	svc.Set(ctx, TimelineKey("req-1", 1), []int{1}, 0)
	svc.Set(ctx, TimelineKey("req-1", 2), []int{1, 2}, 0)
	svc.Set(ctx, TimelineKey("req-2", 1), []int{1}, 0)

	svc.InvalidateRequest(ctx, "req-1")
	assert.Equal(t, []string{"timeline:req-1:*"}, repo.deleted)
	assert.Len(t, repo.store, 1)
	assert.Contains(t, repo.store, "timeline:req-2:v1")
}

func TestRequestServiceTimelineCache(t *testing.T) {
	repo := &stubCacheRepo{}
	metrics := NewMetricsService()
	cache := NewCacheService(repo, metrics, time.Minute, zap.NewNop(), true)
	f := newEngineFixture(t, WithTimelineCache(cache))
	ctx := context.Background()
	req := f.create(t, student)

	first, err := f.svc.Timeline(ctx, student, req.ID)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, 1, f.timeline.calls)

	second, err := f.svc.Timeline(ctx, student, req.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, f.timeline.calls)
	assert.Equal(t, first[0].ID, second[0].ID)

	_, err = f.svc.AddResponse(ctx, student, req.ID, dto.AddResponseInput{Comment: "any news?"})
	require.NoError(t, err)
	assert.NotContains(t, repo.store, TimelineKey(req.ID, 1))

	third, err := f.svc.Timeline(ctx, student, req.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, f.timeline.calls)
	require.Len(t, third, 2)
	assert.Equal(t, models.EntryKindComment, third[1].Kind)
	assert.Contains(t, repo.store, TimelineKey(req.ID, 2))
	assert.InDelta(t, 1.0/3.0, metrics.Snapshot().CacheHitRatio, 0.001)
}
