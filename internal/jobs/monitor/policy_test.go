package monitor

import (
	"testing"
	"time"

	types "github.com/edgeward/fleet-backend/internal/domain"
	"github.com/edgeward/fleet-backend/internal/domain/rollouts"
)

func TestEvaluate(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	started := now.Add(-10 * time.Minute)
	minute := int64(60)
	hour := int64(3600)

	phase := func(success, failure int, minHealthy *int64, startedAt *time.Time) *types.RolloutPhase {
		return &types.RolloutPhase{
			PhaseNumber:               0,
			Status:                    rollouts.PhaseInProgress,
			SuccessCount:              success,
			FailureCount:              failure,
			MinHealthyDurationSeconds: minHealthy,
			StartedAt:                 startedAt,
		}
	}
	inProgress := &types.Rollout{Status: rollouts.RolloutInProgress, FailureThreshold: 0.1}

	tests := []struct {
		name    string
		rollout *types.Rollout
		phase   *types.RolloutPhase
		policy  BreachPolicy
		action  Action
		command rollouts.Command
	}{
		{"healthy long enough", inProgress, phase(10, 1, &minute, &started), BreachPause, ActionAdvance, rollouts.CommandAdvance},
		{"not healthy long enough", inProgress, phase(10, 0, &hour, &started), BreachPause, ActionHold, ""},
		{"manual advance only", inProgress, phase(10, 0, nil, &started), BreachPause, ActionHold, ""},
		{"nothing reported counts as healthy", inProgress, phase(0, 0, &minute, &started), BreachPause, ActionAdvance, rollouts.CommandAdvance},
		{"breach pauses", inProgress, phase(8, 2, &minute, &started), BreachPause, ActionBreach, rollouts.CommandPause},
		{"breach rolls back", inProgress, phase(8, 2, nil, &started), BreachRollback, ActionBreach, rollouts.CommandRollback},
		{"breach fails", inProgress, phase(0, 1, &hour, &started), BreachFail, ActionBreach, rollouts.CommandFail},
		{"rate equal to threshold is healthy", inProgress, phase(9, 1, &minute, &started), BreachPause, ActionAdvance, rollouts.CommandAdvance},
		{"paused rollout holds", &types.Rollout{Status: rollouts.RolloutPaused, FailureThreshold: 0.1}, phase(0, 5, &minute, &started), BreachPause, ActionHold, ""},
		{"missing phase holds", inProgress, nil, BreachPause, ActionHold, ""},
		{"missing start time holds", inProgress, phase(1, 0, &minute, nil), BreachPause, ActionHold, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Evaluate(tt.rollout, tt.phase, tt.policy, now)
			if d.Action != tt.action || d.Command != tt.command {
				t.Fatalf("decision: want=%s/%s got=%s/%s (%s)", tt.action, tt.command, d.Action, d.Command, d.Reason)
			}
			if d.Reason == "" {
				t.Fatalf("decision should carry a reason")
			}
		})
	}
}

func TestParseBreachPolicy(t *testing.T) {
	for raw, want := range map[string]BreachPolicy{"pause": BreachPause, " Rollback ": BreachRollback, "FAIL": BreachFail} {
		got, ok := ParseBreachPolicy(raw)
		if !ok || got != want {
			t.Fatalf("ParseBreachPolicy(%q): want=%s got=%s ok=%v", raw, want, got, ok)
		}
	}
	if _, ok := ParseBreachPolicy("explode"); ok {
		t.Fatalf("unknown policy should not parse")
	}
}
