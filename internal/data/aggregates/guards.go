package aggregates

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	types "github.com/edgeward/fleet-backend/internal/domain"
	domainagg "github.com/edgeward/fleet-backend/internal/domain/aggregates"
	"github.com/edgeward/fleet-backend/internal/platform/dbctx"
)

// CASGuard persists rollout headers with a compare-and-set on version.
type CASGuard struct {
	db *gorm.DB
}

func NewCASGuard(db *gorm.DB) CASGuard {
	return CASGuard{db: db}
}

func (g CASGuard) conn(dbc dbctx.Context) (*gorm.DB, error) {
	if dbc.Tx != nil {
		return dbc.Tx.WithContext(dbc.Ctx), nil
	}
	if g.db != nil {
		return g.db.WithContext(dbc.Ctx), nil
	}
	return nil, ValidationError("missing db transaction context")
}

// SaveRollout writes the mutable header columns of r only if the stored
// version still equals r.Version, then bumps r.Version. Losing the race is a
// conflict.
func (g CASGuard) SaveRollout(dbc dbctx.Context, r *types.Rollout, now time.Time) error {
	db, err := g.conn(dbc)
	if err != nil {
		return err
	}
	res := db.Model(&types.Rollout{}).
		Where("id = ? AND version = ?", r.ID, r.Version).
		Updates(map[string]any{
			"status":               string(r.Status),
			"current_phase_number": r.CurrentPhaseNumber,
			"started_at":           r.StartedAt,
			"completed_at":         r.CompletedAt,
			"updated_at":           now,
			"version":              r.Version + 1,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ConflictError("rollout was modified concurrently")
	}
	r.Version++
	r.UpdatedAt = now
	return nil
}

// checkPreconditions enforces the optional expectations a command carries.
// Operators send the version they last saw; the monitor pins status and phase.
func checkPreconditions(r *types.Rollout, in domainagg.RolloutCommandInput) error {
	if in.ExpectedVersion != nil && *in.ExpectedVersion != r.Version {
		return ConflictError(fmt.Sprintf("rollout version mismatch (expected=%d actual=%d)", *in.ExpectedVersion, r.Version))
	}
	if in.ExpectedStatus != nil && *in.ExpectedStatus != r.Status {
		return ConflictError(fmt.Sprintf("rollout status changed (expected=%s actual=%s)", *in.ExpectedStatus, r.Status))
	}
	if in.ExpectedPhaseNumber != nil && *in.ExpectedPhaseNumber != r.CurrentPhaseNumber {
		return ConflictError(fmt.Sprintf("rollout phase changed (expected=%d actual=%d)", *in.ExpectedPhaseNumber, r.CurrentPhaseNumber))
	}
	return nil
}
