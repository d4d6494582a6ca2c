package catalog

import (
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/edgeward/fleet-backend/internal/domain"
	"github.com/edgeward/fleet-backend/internal/platform/dbctx"
	"github.com/edgeward/fleet-backend/internal/platform/logger"
)

type BundleRepo interface {
	Create(dbc dbctx.Context, rows []*types.Bundle) ([]*types.Bundle, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Bundle, error)
	CreateVersions(dbc dbctx.Context, rows []*types.BundleVersion) ([]*types.BundleVersion, error)
	GetVersion(dbc dbctx.Context, bundleID uuid.UUID, version string) (*types.BundleVersion, error)
}

type bundleRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewBundleRepo(db *gorm.DB, baseLog *logger.Logger) BundleRepo {
	return &bundleRepo{db: db, log: baseLog.With("repo", "BundleRepo")}
}

func (r *bundleRepo) Create(dbc dbctx.Context, rows []*types.Bundle) ([]*types.Bundle, error) {
	t := dbc.DB(r.db)
	if len(rows) == 0 {
		return []*types.Bundle{}, nil
	}
	if err := t.Create(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *bundleRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Bundle, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	t := dbc.DB(r.db)
	var row types.Bundle
	if err := t.Where("id = ?", id).Limit(1).Find(&row).Error; err != nil {
		return nil, err
	}
	if row.ID == uuid.Nil {
		return nil, nil
	}
	return &row, nil
}

func (r *bundleRepo) CreateVersions(dbc dbctx.Context, rows []*types.BundleVersion) ([]*types.BundleVersion, error) {
	t := dbc.DB(r.db)
	if len(rows) == 0 {
		return []*types.BundleVersion{}, nil
	}
	if err := t.Create(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *bundleRepo) GetVersion(dbc dbctx.Context, bundleID uuid.UUID, version string) (*types.BundleVersion, error) {
	version = strings.TrimSpace(version)
	if bundleID == uuid.Nil || version == "" {
		return nil, nil
	}
	t := dbc.DB(r.db)
	var row types.BundleVersion
	if err := t.
		Where("bundle_id = ? AND version = ?", bundleID, version).
		Limit(1).
		Find(&row).Error; err != nil {
		return nil, err
	}
	if row.ID == uuid.Nil {
		return nil, nil
	}
	return &row, nil
}
