package monitor

import (
	"fmt"
	"strings"
	"time"

	types "github.com/edgeward/fleet-backend/internal/domain"
	"github.com/edgeward/fleet-backend/internal/domain/rollouts"
)

// BreachPolicy is the command issued when a phase exceeds its failure threshold.
type BreachPolicy string

const (
	BreachPause    BreachPolicy = "pause"
	BreachRollback BreachPolicy = "rollback"
	BreachFail     BreachPolicy = "fail"
)

func ParseBreachPolicy(raw string) (BreachPolicy, bool) {
	switch p := BreachPolicy(strings.ToLower(strings.TrimSpace(raw))); p {
	case BreachPause, BreachRollback, BreachFail:
		return p, true
	default:
		return "", false
	}
}

func (p BreachPolicy) command() rollouts.Command {
	switch p {
	case BreachRollback:
		return rollouts.CommandRollback
	case BreachFail:
		return rollouts.CommandFail
	default:
		return rollouts.CommandPause
	}
}

// Action is what one evaluation decided for a rollout.
type Action string

const (
	ActionHold    Action = "hold"
	ActionAdvance Action = "advance"
	ActionBreach  Action = "breach"
)

type Decision struct {
	Action  Action
	Command rollouts.Command
	Reason  string
}

// Evaluate inspects the current phase of an in-progress rollout. Phases without
// a minimum healthy duration are only advanced by an operator.
func Evaluate(r *types.Rollout, phase *types.RolloutPhase, policy BreachPolicy, now time.Time) Decision {
	hold := func(reason string) Decision { return Decision{Action: ActionHold, Reason: reason} }
	if r == nil || r.Status != rollouts.RolloutInProgress {
		return hold("rollout not in progress")
	}
	if phase == nil || phase.Status != rollouts.PhaseInProgress {
		return hold("current phase not in progress")
	}

	rate := phase.FailureRate()
	if rate > r.FailureThreshold {
		return Decision{
			Action:  ActionBreach,
			Command: policy.command(),
			Reason:  fmt.Sprintf("phase %d failure rate %.4f exceeds threshold %.4f", phase.PhaseNumber, rate, r.FailureThreshold),
		}
	}

	minHealthy := phase.MinHealthyDuration()
	if minHealthy == nil {
		return hold("phase requires manual advance")
	}
	if phase.StartedAt == nil {
		return hold("phase has no start time")
	}
	healthyFor := now.Sub(*phase.StartedAt)
	if healthyFor < *minHealthy {
		return hold(fmt.Sprintf("phase healthy for %s of %s", healthyFor.Truncate(time.Second), *minHealthy))
	}
	return Decision{
		Action:  ActionAdvance,
		Command: rollouts.CommandAdvance,
		Reason:  fmt.Sprintf("phase %d healthy for %s at failure rate %.4f", phase.PhaseNumber, healthyFor.Truncate(time.Second), rate),
	}
}
