package monitor

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/edgeward/fleet-backend/internal/data/repos"
	types "github.com/edgeward/fleet-backend/internal/domain"
	domainagg "github.com/edgeward/fleet-backend/internal/domain/aggregates"
	"github.com/edgeward/fleet-backend/internal/domain/rollouts"
	"github.com/edgeward/fleet-backend/internal/observability"
	"github.com/edgeward/fleet-backend/internal/platform/dbctx"
	"github.com/edgeward/fleet-backend/internal/platform/envutil"
	"github.com/edgeward/fleet-backend/internal/platform/logger"
)

const Actor = "monitor"

type Config struct {
	Enabled   bool
	Interval  time.Duration
	Policy    BreachPolicy
	LockTTL   time.Duration
	BatchSize int
}

func LoadConfig(log *logger.Logger) Config {
	policy, ok := ParseBreachPolicy(envutil.String("MONITOR_BREACH_POLICY", string(BreachPause), log))
	if !ok {
		log.Warn("unknown MONITOR_BREACH_POLICY, using pause")
		policy = BreachPause
	}
	return Config{
		Enabled:   envutil.Bool("MONITOR_ENABLED", true, log),
		Interval:  envutil.Duration("MONITOR_INTERVAL", 15*time.Second, log),
		Policy:    policy,
		LockTTL:   envutil.Duration("MONITOR_LOCK_TTL", 45*time.Second, log),
		BatchSize: envutil.Int("MONITOR_BATCH_SIZE", 200, log),
	}
}

// Commander applies a phased rollout command; RolloutService satisfies it.
type Commander interface {
	Execute(ctx context.Context, cmd rollouts.Command, in domainagg.RolloutCommandInput) (*types.Rollout, error)
}

type Deps struct {
	Rollouts  repos.RolloutRepo
	Phases    repos.RolloutPhaseRepo
	Commander Commander
	Lock      LeaderLock
	Metrics   *observability.Metrics
	Now       func() time.Time
}

type Monitor struct {
	log  *logger.Logger
	cfg  Config
	deps Deps
}

func New(baseLog *logger.Logger, cfg Config, deps Deps) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if cfg.Policy == "" {
		cfg.Policy = BreachPause
	}
	if deps.Lock == nil {
		deps.Lock = NewSoloLock()
	}
	if deps.Now == nil {
		deps.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Monitor{log: baseLog.With("component", "RolloutMonitor"), cfg: cfg, deps: deps}
}

// Run ticks until ctx is done. It always returns nil so a stopped monitor does
// not tear down the rest of the process.
func (m *Monitor) Run(ctx context.Context) error {
	if !m.cfg.Enabled {
		m.log.Info("Rollout monitor disabled")
		return nil
	}
	m.log.Info("Starting rollout monitor", "interval", m.cfg.Interval.String(), "policy", string(m.cfg.Policy))
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
			if err := m.deps.Lock.Release(releaseCtx); err != nil {
				m.log.Warn("monitor lock release failed", "error", err)
			}
			cancel()
			m.log.Info("Rollout monitor stopped")
			return nil
		case <-ticker.C:
			func() {
				defer func() {
					if r := recover(); r != nil {
						m.log.Error("Rollout monitor panic", "panic", r)
					}
				}()
				if _, err := m.Tick(ctx); err != nil {
					m.log.Warn("monitor tick failed", "error", err)
				}
			}()
		}
	}
}

type TickResult struct {
	Leader    bool
	Evaluated int
	Applied   int
	Decisions map[uuid.UUID]Decision
}

// Tick evaluates every in-progress rollout once.
func (m *Monitor) Tick(ctx context.Context) (TickResult, error) {
	start := time.Now()
	res := TickResult{Decisions: map[uuid.UUID]Decision{}}

	ctx, span := observability.StartSpan(ctx, "monitor.tick")
	defer span.End()

	leader, err := m.deps.Lock.Acquire(ctx)
	if err != nil {
		observability.RecordError(span, err)
		m.deps.Metrics.ObserveMonitorTick("lock_error", time.Since(start))
		return res, err
	}
	if !leader {
		m.deps.Metrics.ObserveMonitorTick("standby", time.Since(start))
		return res, nil
	}
	res.Leader = true

	active, err := m.load(ctx)
	if err != nil {
		observability.RecordError(span, err)
		m.deps.Metrics.ObserveMonitorTick("error", time.Since(start))
		return res, err
	}

	now := m.deps.Now()
	for _, r := range active {
		res.Evaluated++
		phase, _ := r.CurrentPhase()
		d := Evaluate(r, phase, m.cfg.Policy, now)
		res.Decisions[r.ID] = d
		if d.Action == ActionHold {
			continue
		}
		if m.apply(ctx, r, d, now) {
			res.Applied++
		}
	}
	span.SetAttributes(
		attribute.Int("monitor.evaluated", res.Evaluated),
		attribute.Int("monitor.applied", res.Applied),
	)
	m.deps.Metrics.ObserveMonitorTick("ok", time.Since(start))
	return res, nil
}

// load pages through every in-progress rollout in id order. Ids are stable
// while the tick advances rollouts, so no row is skipped or seen twice.
func (m *Monitor) load(ctx context.Context) ([]*types.Rollout, error) {
	dbc := dbctx.Of(ctx)
	var (
		out   []*types.Rollout
		after uuid.UUID
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := m.deps.Rollouts.ListByStatus(dbc, []string{string(rollouts.RolloutInProgress)}, after, m.cfg.BatchSize)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			return out, nil
		}
		if err := m.attachPhases(dbc, page); err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(page) < m.cfg.BatchSize {
			return out, nil
		}
		after = page[len(page)-1].ID
	}
}

func (m *Monitor) attachPhases(dbc dbctx.Context, rows []*types.Rollout) error {
	ids := make([]uuid.UUID, 0, len(rows))
	byID := make(map[uuid.UUID]*types.Rollout, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
		byID[r.ID] = r
	}
	phases, err := m.deps.Phases.ListByRolloutIDs(dbc, ids)
	if err != nil {
		return err
	}
	for _, p := range phases {
		if r, ok := byID[p.RolloutID]; ok {
			r.Phases = append(r.Phases, p)
		}
	}
	for _, r := range rows {
		r.SortPhases()
	}
	return nil
}

// apply issues the decided command guarded by the observed status and phase,
// so an operator command that lands first wins and the monitor backs off.
func (m *Monitor) apply(ctx context.Context, r *types.Rollout, d Decision, now time.Time) bool {
	status := rollouts.RolloutInProgress
	phaseNumber := r.CurrentPhaseNumber
	_, err := m.deps.Commander.Execute(ctx, d.Command, domainagg.RolloutCommandInput{
		TenantID:            r.TenantID,
		RolloutID:           r.ID,
		Actor:               Actor,
		Reason:              d.Reason,
		ExpectedPhaseNumber: &phaseNumber,
		ExpectedStatus:      &status,
		At:                  now,
	})
	outcome := "applied"
	switch {
	case err == nil:
	case domainagg.IsCode(err, domainagg.CodeConflict):
		outcome = "conflict"
	case domainagg.IsCode(err, domainagg.CodeValidation):
		outcome = "rejected"
	default:
		outcome = "error"
	}
	m.deps.Metrics.IncMonitorDecision(string(d.Command), outcome)

	log := m.log.With("rollout_id", r.ID, "command", string(d.Command), "phase", phaseNumber)
	switch outcome {
	case "applied":
		log.Info("monitor applied command", "reason", d.Reason)
		return true
	case "conflict":
		log.Debug("monitor lost race to another writer", "error", err)
	default:
		log.Warn("monitor command failed", "outcome", outcome, "error", err, "code", string(domainagg.CodeOf(err)))
	}
	return false
}
