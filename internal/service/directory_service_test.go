package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/request-portal-api/internal/models"
	appErrors "github.com/noah-isme/request-portal-api/pkg/errors"
)

type countingDirectory struct {
	unitCalls     int
	categoryCalls int
	err           error
}

func (d *countingDirectory) ListUnits(context.Context) ([]models.Unit, error) {
	d.unitCalls++
	if d.err != nil {
		return nil, d.err
	}
	return []models.Unit{{ID: "unit-it", Name: "IT Services"}}, nil
}

func (d *countingDirectory) ListCategories(_ context.Context, unitID string) ([]models.Category, error) {
	d.categoryCalls++
	if d.err != nil {
		return nil, d.err
	}
	if unitID == "" {
		return nil, nil
	}
	return []models.Category{{ID: "cat-network", Name: "Network", UnitID: strPtr(unitID)}}, nil
}

func TestDirectoryServiceReadsThroughCache(t *testing.T) {
	repo := &countingDirectory{}
	cache := NewCacheService(&stubCacheRepo{}, nil, time.Minute, nil, true)
	svc := NewDirectoryService(repo, cache, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		units, err := svc.Units(ctx)
		require.NoError(t, err)
		assert.Len(t, units, 1)
	}
	assert.Equal(t, 1, repo.unitCalls)

	cats, err := svc.Categories(ctx, " unit-it ")
	require.NoError(t, err)
	require.Len(t, cats, 1)
	_, err = svc.Categories(ctx, "unit-it")
	require.NoError(t, err)
	assert.Equal(t, 1, repo.categoryCalls)

	all, err := svc.Categories(ctx, "")
	require.NoError(t, err)
	assert.NotNil(t, all)
	assert.Empty(t, all)
}

func TestDirectoryServiceWithoutCache(t *testing.T) {
	repo := &countingDirectory{}
	svc := NewDirectoryService(repo, nil, nil)

	_, err := svc.Units(context.Background())
	require.NoError(t, err)
	_, err = svc.Units(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, repo.unitCalls)

	repo.err = errors.New("db down")
	_, err = svc.Units(context.Background())
	requireCode(t, err, appErrors.ErrInternal)
}
