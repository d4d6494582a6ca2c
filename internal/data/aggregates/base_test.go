package aggregates

import (
	"context"
	"errors"
	"testing"
	"time"

	domainagg "github.com/edgeward/fleet-backend/internal/domain/aggregates"
	"github.com/edgeward/fleet-backend/internal/domain/rollouts"
	"github.com/edgeward/fleet-backend/internal/platform/dbctx"
)

// countingRunner runs fn without a database and counts calls.
type countingRunner struct {
	calls int
}

func (r *countingRunner) InTx(ctx context.Context, fn func(dbc dbctx.Context) error) error {
	r.calls++
	return fn(dbctx.Of(ctx))
}

type recordedOp struct {
	name   string
	status string
}

type recordingHooks struct {
	ops       []recordedOp
	conflicts []string
	retries   []string
}

func (h *recordingHooks) ObserveOperation(name, status string, _ time.Duration) {
	h.ops = append(h.ops, recordedOp{name: name, status: status})
}
func (h *recordingHooks) IncConflict(name string) { h.conflicts = append(h.conflicts, name) }
func (h *recordingHooks) IncRetry(name string)    { h.retries = append(h.retries, name) }

func TestExecuteWriteReportsStatus(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status string
	}{
		{"success", nil, "success"},
		{"transition", func() error {
			_, err := rollouts.NextRolloutStatus(rollouts.RolloutPending, rollouts.CommandResume, false)
			return err
		}(), string(domainagg.CodeValidation)},
		{"forbidden", ForbiddenError("other tenant"), string(domainagg.CodeForbidden)},
		{"not found", NotFoundError("no rollout"), string(domainagg.CodeNotFound)},
		{"unexpected", errors.New("disk on fire"), string(domainagg.CodeUnexpected)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			hooks := &recordingHooks{}
			runner := &countingRunner{}
			err := executeWrite(context.Background(), BaseDeps{Runner: runner, Hooks: hooks}, "Rollouts.Test", func(dbctx.Context) error {
				return tc.err
			})
			if (err == nil) != (tc.err == nil) {
				t.Fatalf("error: want=%v got=%v", tc.err, err)
			}
			if runner.calls != 1 {
				t.Fatalf("attempts: want=1 got=%d", runner.calls)
			}
			if len(hooks.ops) != 1 || hooks.ops[0].status != tc.status || hooks.ops[0].name != "Rollouts.Test" {
				t.Fatalf("ops: %+v", hooks.ops)
			}
			if len(hooks.retries) != 0 || len(hooks.conflicts) != 0 {
				t.Fatalf("unexpected counters: retries=%v conflicts=%v", hooks.retries, hooks.conflicts)
			}
		})
	}
}

func TestExecuteWriteCountsConflicts(t *testing.T) {
	hooks := &recordingHooks{}
	runner := &countingRunner{}
	err := executeWrite(context.Background(), BaseDeps{Runner: runner, Hooks: hooks}, "Rollouts.Phased.Pause", func(dbctx.Context) error {
		return ConflictError("rollout was modified concurrently")
	})
	if !domainagg.IsCode(err, domainagg.CodeConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if runner.calls != 1 {
		t.Fatalf("conflicts must not be replayed: calls=%d", runner.calls)
	}
	if len(hooks.conflicts) != 1 || hooks.conflicts[0] != "Rollouts.Phased.Pause" {
		t.Fatalf("conflicts: %+v", hooks.conflicts)
	}
	if domainagg.MessageOf(err) != "rollout was modified concurrently" {
		t.Fatalf("message: %q", domainagg.MessageOf(err))
	}
}

func TestExecuteWriteReplaysRetryableFailures(t *testing.T) {
	hooks := &recordingHooks{}
	runner := &countingRunner{}
	err := executeWrite(context.Background(), BaseDeps{Runner: runner, Hooks: hooks}, "Rollouts.Flat.Create", func(dbctx.Context) error {
		if runner.calls < 3 {
			return RetryableError("database is locked")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success on third attempt, got %v", err)
	}
	if runner.calls != 3 {
		t.Fatalf("attempts: want=3 got=%d", runner.calls)
	}
	if len(hooks.retries) != 2 {
		t.Fatalf("retries: want=2 got=%v", hooks.retries)
	}
	if len(hooks.ops) != 1 || hooks.ops[0].status != "success" {
		t.Fatalf("ops: %+v", hooks.ops)
	}
}

func TestExecuteWriteGivesUpAfterMaxAttempts(t *testing.T) {
	hooks := &recordingHooks{}
	runner := &countingRunner{}
	err := executeWrite(context.Background(), BaseDeps{Runner: runner, Hooks: hooks, MaxAttempts: 2}, "Rollouts.Phased.Start", func(dbctx.Context) error {
		return RetryableError("serialization failure")
	})
	if !domainagg.IsCode(err, domainagg.CodeRetryable) {
		t.Fatalf("expected retryable, got %v", err)
	}
	if runner.calls != 2 || len(hooks.retries) != 1 {
		t.Fatalf("calls=%d retries=%v", runner.calls, hooks.retries)
	}
	if hooks.ops[0].status != string(domainagg.CodeRetryable) {
		t.Fatalf("status: %s", hooks.ops[0].status)
	}
}

func TestExecuteWriteStopsRetryingWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	runner := TxRunnerFunc(func(ctx context.Context, fn func(dbctx.Context) error) error {
		calls++
		return fn(dbctx.Of(ctx))
	})
	err := executeWrite(ctx, BaseDeps{Runner: runner}, "Rollouts.Phased.Advance", func(dbctx.Context) error {
		cancel()
		return RetryableError("deadlock detected")
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if calls != 1 {
		t.Fatalf("attempts after cancel: want=1 got=%d", calls)
	}
}

func TestWriteStatus(t *testing.T) {
	if got := writeStatus(nil); got != "success" {
		t.Fatalf("nil: %s", got)
	}
	if got := writeStatus(MapError("op", context.DeadlineExceeded)); got != string(domainagg.CodeRetryable) {
		t.Fatalf("deadline: %s", got)
	}
	if got := writeStatus(errors.New("plain")); got != "failure" {
		t.Fatalf("uncoded: %s", got)
	}
}
