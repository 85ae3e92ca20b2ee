package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/request-portal-api/internal/models"
	appErrors "github.com/noah-isme/request-portal-api/pkg/errors"
)

const directoryTTL = 10 * time.Minute

type directoryLister interface {
	ListUnits(ctx context.Context) ([]models.Unit, error)
	ListCategories(ctx context.Context, unitID string) ([]models.Category, error)
}

// DirectoryService serves the read-only unit and category lists used by the
// request form. Lists change rarely, so they are read through the cache.
type DirectoryService struct {
	repo   directoryLister
	cache  *CacheService
	logger *zap.Logger
}

// NewDirectoryService constructs the service. cache may be nil.
func NewDirectoryService(repo directoryLister, cache *CacheService, logger *zap.Logger) *DirectoryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DirectoryService{repo: repo, cache: cache, logger: logger}
}

// Units lists every unit.
func (s *DirectoryService) Units(ctx context.Context) ([]models.Unit, error) {
	const key = "directory:units"
	var units []models.Unit
	if s.cache.Get(ctx, key, &units) {
		return units, nil
	}
	units, err := s.repo.ListUnits(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list units")
	}
	if units == nil {
		units = []models.Unit{}
	}
	s.cache.Set(ctx, key, units, directoryTTL)
	return units, nil
}

// Categories lists categories. A non-empty unitID keeps the unit's own
// categories plus the unscoped ones.
func (s *DirectoryService) Categories(ctx context.Context, unitID string) ([]models.Category, error) {
	unitID = strings.TrimSpace(unitID)
	key := "directory:categories:" + unitID
	var categories []models.Category
	if s.cache.Get(ctx, key, &categories) {
		return categories, nil
	}
	categories, err := s.repo.ListCategories(ctx, unitID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list categories")
	}
	if categories == nil {
		categories = []models.Category{}
	}
	s.cache.Set(ctx, key, categories, directoryTTL)
	return categories, nil
}
