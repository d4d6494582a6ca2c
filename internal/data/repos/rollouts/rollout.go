package rollouts

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/edgeward/fleet-backend/internal/domain"
	domainrollouts "github.com/edgeward/fleet-backend/internal/domain/rollouts"
	"github.com/edgeward/fleet-backend/internal/platform/dbctx"
	"github.com/edgeward/fleet-backend/internal/platform/logger"
)

// RolloutListFilter narrows List. Zero values mean no filter.
type RolloutListFilter struct {
	TenantID uuid.UUID
	BundleID uuid.UUID
	Status   string
	Page     int
	PageSize int
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 200
)

func (f RolloutListFilter) Normalize() RolloutListFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize <= 0 {
		f.PageSize = DefaultPageSize
	}
	if f.PageSize > MaxPageSize {
		f.PageSize = MaxPageSize
	}
	f.Status = strings.TrimSpace(strings.ToLower(f.Status))
	return f
}

type RolloutRepo interface {
	Create(dbc dbctx.Context, rows []*types.Rollout) ([]*types.Rollout, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Rollout, error)
	LockByID(dbc dbctx.Context, id uuid.UUID) (*types.Rollout, error)

	// ExistsActiveForBundle reports whether a pending, in-progress or paused rollout targets bundleID.
	ExistsActiveForBundle(dbc dbctx.Context, bundleID uuid.UUID) (bool, error)
	ListActiveByTenant(dbc dbctx.Context, tenantID uuid.UUID) ([]*types.Rollout, error)
	ListActiveByBundle(dbc dbctx.Context, bundleID uuid.UUID) ([]*types.Rollout, error)
	ListByBundle(dbc dbctx.Context, tenantID, bundleID uuid.UUID) ([]*types.Rollout, error)
	// ListByStatus pages by id: pass the last id of the previous page as afterID.
	ListByStatus(dbc dbctx.Context, statuses []string, afterID uuid.UUID, limit int) ([]*types.Rollout, error)
	List(dbc dbctx.Context, filter RolloutListFilter) ([]*types.Rollout, int64, error)
}

type rolloutRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRolloutRepo(db *gorm.DB, baseLog *logger.Logger) RolloutRepo {
	return &rolloutRepo{db: db, log: baseLog.With("repo", "RolloutRepo")}
}

func activeStatuses() []string {
	out := make([]string, 0, len(domainrollouts.ActiveRolloutStatuses))
	for _, s := range domainrollouts.ActiveRolloutStatuses {
		out = append(out, string(s))
	}
	return out
}

func (r *rolloutRepo) Create(dbc dbctx.Context, rows []*types.Rollout) ([]*types.Rollout, error) {
	t := dbc.DB(r.db)
	if len(rows) == 0 {
		return []*types.Rollout{}, nil
	}
	if err := t.Create(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *rolloutRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Rollout, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	t := dbc.DB(r.db)
	var row types.Rollout
	if err := t.Where("id = ?", id).Limit(1).Find(&row).Error; err != nil {
		return nil, err
	}
	if row.ID == uuid.Nil {
		return nil, nil
	}
	return &row, nil
}

func (r *rolloutRepo) LockByID(dbc dbctx.Context, id uuid.UUID) (*types.Rollout, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	t := dbc.DB(r.db)
	var row types.Rollout
	err := t.
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		Limit(1).
		Find(&row).Error
	if err != nil {
		return nil, err
	}
	if row.ID == uuid.Nil {
		return nil, nil
	}
	return &row, nil
}

func (r *rolloutRepo) ExistsActiveForBundle(dbc dbctx.Context, bundleID uuid.UUID) (bool, error) {
	t := dbc.DB(r.db)
	if bundleID == uuid.Nil {
		return false, nil
	}
	var count int64
	if err := t.
		Model(&types.Rollout{}).
		Where("bundle_id = ? AND status IN ?", bundleID, activeStatuses()).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *rolloutRepo) ListActiveByTenant(dbc dbctx.Context, tenantID uuid.UUID) ([]*types.Rollout, error) {
	t := dbc.DB(r.db)
	var out []*types.Rollout
	if tenantID == uuid.Nil {
		return out, nil
	}
	if err := t.
		Where("tenant_id = ? AND status IN ?", tenantID, activeStatuses()).
		Order("created_at DESC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *rolloutRepo) ListActiveByBundle(dbc dbctx.Context, bundleID uuid.UUID) ([]*types.Rollout, error) {
	t := dbc.DB(r.db)
	var out []*types.Rollout
	if bundleID == uuid.Nil {
		return out, nil
	}
	if err := t.
		Where("bundle_id = ? AND status IN ?", bundleID, activeStatuses()).
		Order("created_at DESC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *rolloutRepo) ListByBundle(dbc dbctx.Context, tenantID, bundleID uuid.UUID) ([]*types.Rollout, error) {
	t := dbc.DB(r.db)
	var out []*types.Rollout
	if bundleID == uuid.Nil {
		return out, nil
	}
	q := t.Where("bundle_id = ?", bundleID)
	if tenantID != uuid.Nil {
		q = q.Where("tenant_id = ?", tenantID)
	}
	if err := q.Order("created_at DESC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *rolloutRepo) ListByStatus(dbc dbctx.Context, statuses []string, afterID uuid.UUID, limit int) ([]*types.Rollout, error) {
	t := dbc.DB(r.db)
	var out []*types.Rollout
	if len(statuses) == 0 {
		return out, nil
	}
	q := t.Where("status IN ?", statuses)
	if afterID != uuid.Nil {
		q = q.Where("id > ?", afterID)
	}
	q = q.Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *rolloutRepo) List(dbc dbctx.Context, filter RolloutListFilter) ([]*types.Rollout, int64, error) {
	t := dbc.DB(r.db)
	filter = filter.Normalize()
	scoped := func() *gorm.DB {
		q := t.Model(&types.Rollout{})
		if filter.TenantID != uuid.Nil {
			q = q.Where("tenant_id = ?", filter.TenantID)
		}
		if filter.BundleID != uuid.Nil {
			q = q.Where("bundle_id = ?", filter.BundleID)
		}
		if filter.Status != "" {
			q = q.Where("status = ?", filter.Status)
		}
		return q
	}
	var total int64
	if err := scoped().Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var out []*types.Rollout
	if err := scoped().Order("created_at DESC").
		Offset((filter.Page - 1) * filter.PageSize).
		Limit(filter.PageSize).
		Find(&out).Error; err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// rolloutTouch is the default updated_at stamp for child updates.
func rolloutTouch(updates map[string]interface{}) map[string]interface{} {
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	return updates
}
