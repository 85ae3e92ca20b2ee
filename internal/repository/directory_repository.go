package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/request-portal-api/internal/models"
)

// DirectoryRepository reads units, categories and unit membership. The core
// never writes these tables.
type DirectoryRepository struct {
	db *sqlx.DB
}

// NewDirectoryRepository constructs the repository.
func NewDirectoryRepository(db *sqlx.DB) *DirectoryRepository {
	return &DirectoryRepository{db: db}
}

// ListUnits returns all units by name.
func (r *DirectoryRepository) ListUnits(ctx context.Context) ([]models.Unit, error) {
	var units []models.Unit
	if err := r.db.SelectContext(ctx, &units, `SELECT id, name FROM units ORDER BY name`); err != nil {
		return nil, fmt.Errorf("list units: %w", err)
	}
	return units, nil
}

// ListCategories returns categories, optionally narrowed to one unit.
func (r *DirectoryRepository) ListCategories(ctx context.Context, unitID string) ([]models.Category, error) {
	var (
		categories []models.Category
		err        error
	)
	if unitID == "" {
		err = r.db.SelectContext(ctx, &categories, `SELECT id, name, unit_id FROM categories ORDER BY name`)
	} else {
		err = r.db.SelectContext(ctx, &categories, `SELECT id, name, unit_id FROM categories WHERE unit_id = $1 OR unit_id IS NULL ORDER BY name`, unitID)
	}
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	return categories, nil
}

// GetUnit fetches a unit. Missing rows return sql.ErrNoRows.
func (r *DirectoryRepository) GetUnit(ctx context.Context, id string) (*models.Unit, error) {
	var unit models.Unit
	if err := r.db.GetContext(ctx, &unit, `SELECT id, name FROM units WHERE id = $1`, id); err != nil {
		if isMissing(err) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("get unit: %w", err)
	}
	return &unit, nil
}

// GetCategory fetches a category. Missing rows return sql.ErrNoRows.
func (r *DirectoryRepository) GetCategory(ctx context.Context, id string) (*models.Category, error) {
	var category models.Category
	if err := r.db.GetContext(ctx, &category, `SELECT id, name, unit_id FROM categories WHERE id = $1`, id); err != nil {
		if isMissing(err) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("get category: %w", err)
	}
	return &category, nil
}

// UnitIDsForUser lists the units a user belongs to.
func (r *DirectoryRepository) UnitIDsForUser(ctx context.Context, userID string) ([]string, error) {
	ids := []string{}
	if err := r.db.SelectContext(ctx, &ids, `SELECT unit_id FROM unit_members WHERE user_id = $1 ORDER BY unit_id`, userID); err != nil {
		if isMalformedID(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("list user units: %w", err)
	}
	return ids, nil
}
