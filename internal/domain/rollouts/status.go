package rollouts

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidTransition is the sentinel every state-machine rejection wraps.
var ErrInvalidTransition = errors.New("invalid status transition")

// TransitionError describes a rejected state-machine step.
type TransitionError struct {
	Entity string
	From   string
	Action string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid status transition: cannot %s %s in status %q", e.Action, e.Entity, e.From)
}

func (e *TransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// RolloutStatus is the phased rollout lifecycle.
type RolloutStatus string

const (
	RolloutPending    RolloutStatus = "pending"
	RolloutInProgress RolloutStatus = "in_progress"
	RolloutPaused     RolloutStatus = "paused"
	RolloutCompleted  RolloutStatus = "completed"
	RolloutFailed     RolloutStatus = "failed"
	RolloutRolledBack RolloutStatus = "rolled_back"
	RolloutCancelled  RolloutStatus = "cancelled"
)

// ActiveRolloutStatuses are the statuses that block a second rollout for the same bundle.
var ActiveRolloutStatuses = []RolloutStatus{RolloutPending, RolloutInProgress, RolloutPaused}

func (s RolloutStatus) IsActive() bool {
	switch s {
	case RolloutPending, RolloutInProgress, RolloutPaused:
		return true
	default:
		return false
	}
}

func (s RolloutStatus) IsTerminal() bool {
	switch s {
	case RolloutCompleted, RolloutFailed, RolloutRolledBack, RolloutCancelled:
		return true
	default:
		return false
	}
}

func ParseRolloutStatus(raw string) (RolloutStatus, bool) {
	s := RolloutStatus(strings.ToLower(strings.TrimSpace(raw)))
	switch s {
	case RolloutPending, RolloutInProgress, RolloutPaused, RolloutCompleted, RolloutFailed, RolloutRolledBack, RolloutCancelled:
		return s, true
	default:
		return "", false
	}
}

// Command is an operator or monitor action against a phased rollout.
type Command string

const (
	CommandStart    Command = "start"
	CommandPause    Command = "pause"
	CommandResume   Command = "resume"
	CommandAdvance  Command = "advance"
	CommandRollback Command = "rollback"
	CommandCancel   Command = "cancel"
	CommandFail     Command = "fail"

	// Audit-only commands; they never pass through NextRolloutStatus.
	CommandCreate          Command = "create"
	CommandRetryAssignment Command = "retry_assignment"
)

// NextRolloutStatus is the phased rollout transition table. lastPhase only
// matters for CommandAdvance.
func NextRolloutStatus(from RolloutStatus, cmd Command, lastPhase bool) (RolloutStatus, error) {
	reject := &TransitionError{Entity: "rollout", From: string(from), Action: string(cmd)}
	switch cmd {
	case CommandStart:
		if from == RolloutPending {
			return RolloutInProgress, nil
		}
	case CommandPause:
		if from == RolloutInProgress {
			return RolloutPaused, nil
		}
	case CommandResume:
		if from == RolloutPaused {
			return RolloutInProgress, nil
		}
	case CommandAdvance:
		if from == RolloutInProgress {
			if lastPhase {
				return RolloutCompleted, nil
			}
			return RolloutInProgress, nil
		}
	case CommandRollback:
		if from == RolloutInProgress || from == RolloutPaused {
			return RolloutRolledBack, nil
		}
	case CommandCancel:
		if from.IsActive() {
			return RolloutCancelled, nil
		}
	case CommandFail:
		if from == RolloutInProgress || from == RolloutPaused {
			return RolloutFailed, nil
		}
	}
	return from, reject
}

// PhaseStatus is the lifecycle of one phase.
type PhaseStatus string

const (
	PhasePending    PhaseStatus = "pending"
	PhaseInProgress PhaseStatus = "in_progress"
	PhaseCompleted  PhaseStatus = "completed"
	PhaseFailed     PhaseStatus = "failed"
)

func CheckPhaseTransition(from, to PhaseStatus) error {
	ok := false
	switch from {
	case PhasePending:
		ok = to == PhaseInProgress
	case PhaseInProgress:
		ok = to == PhaseCompleted || to == PhaseFailed
	}
	if !ok {
		return &TransitionError{Entity: "phase", From: string(from), Action: "move to " + string(to)}
	}
	return nil
}

// AssignmentStatus is the lifecycle of one device assignment.
type AssignmentStatus string

const (
	AssignmentPending   AssignmentStatus = "pending"
	AssignmentAssigned  AssignmentStatus = "assigned"
	AssignmentSucceeded AssignmentStatus = "succeeded"
	AssignmentFailed    AssignmentStatus = "failed"
)

func ParseAssignmentStatus(raw string) (AssignmentStatus, bool) {
	s := AssignmentStatus(strings.ToLower(strings.TrimSpace(raw)))
	switch s {
	case AssignmentPending, AssignmentAssigned, AssignmentSucceeded, AssignmentFailed:
		return s, true
	default:
		return "", false
	}
}

// CheckAssignmentTransition reports whether from -> to is legal. A repeat of the
// current status is legal and reported as unchanged so duplicate agent reports
// are harmless.
func CheckAssignmentTransition(from, to AssignmentStatus) (changed bool, err error) {
	if from == to {
		return false, nil
	}
	switch from {
	case AssignmentPending:
		if to == AssignmentAssigned {
			return true, nil
		}
	case AssignmentAssigned:
		if to == AssignmentSucceeded || to == AssignmentFailed {
			return true, nil
		}
	case AssignmentFailed:
		if to == AssignmentAssigned {
			return true, nil
		}
	}
	return false, &TransitionError{Entity: "assignment", From: string(from), Action: "move to " + string(to)}
}

// FlatStatus is the lifecycle of a flat rollout record.
type FlatStatus string

const (
	FlatPending    FlatStatus = "pending"
	FlatInProgress FlatStatus = "in_progress"
	FlatSucceeded  FlatStatus = "succeeded"
	FlatFailed     FlatStatus = "failed"
	FlatCancelled  FlatStatus = "cancelled"
)

func ParseFlatStatus(raw string) (FlatStatus, bool) {
	s := FlatStatus(strings.ToLower(strings.TrimSpace(raw)))
	switch s {
	case FlatPending, FlatInProgress, FlatSucceeded, FlatFailed, FlatCancelled:
		return s, true
	default:
		return "", false
	}
}

func (s FlatStatus) IsCancellable() bool {
	return s == FlatPending || s == FlatInProgress
}

// CheckFlatTransition validates a reported status change for a flat record.
func CheckFlatTransition(from, to FlatStatus, errorMessage string) error {
	ok := false
	switch to {
	case FlatInProgress:
		ok = from == FlatPending
	case FlatSucceeded:
		ok = from == FlatPending || from == FlatInProgress
	case FlatFailed:
		if from == FlatPending || from == FlatInProgress {
			if strings.TrimSpace(errorMessage) == "" {
				return fmt.Errorf("%w: failed status requires an error message", ErrInvalidTransition)
			}
			ok = true
		}
	case FlatPending:
		ok = from == FlatFailed
	case FlatCancelled:
		ok = from.IsCancellable()
	}
	if !ok {
		return &TransitionError{Entity: "flat rollout record", From: string(from), Action: "move to " + string(to)}
	}
	return nil
}

// Aggregate statuses reported for a flat rollout group.
const (
	AggregateCompleted  = "completed"
	AggregateCancelled  = "cancelled"
	AggregateFailed     = "failed"
	AggregateInProgress = "in_progress"
	AggregatePending    = "pending"
)

// FlatCounts tallies flat records by status.
type FlatCounts struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
	Succeeded  int `json:"succeeded"`
	Failed     int `json:"failed"`
	Cancelled  int `json:"cancelled"`
}

func (c *FlatCounts) Add(s FlatStatus) {
	c.Total++
	switch s {
	case FlatPending:
		c.Pending++
	case FlatInProgress:
		c.InProgress++
	case FlatSucceeded:
		c.Succeeded++
	case FlatFailed:
		c.Failed++
	case FlatCancelled:
		c.Cancelled++
	}
}

// AggregateFlatStatus applies the group status precedence; the order of checks matters.
func AggregateFlatStatus(c FlatCounts) string {
	switch {
	case c.Total > 0 && c.Succeeded == c.Total:
		return AggregateCompleted
	case c.Cancelled > 0:
		return AggregateCancelled
	case c.Failed > 0 && c.Pending == 0 && c.InProgress == 0:
		return AggregateFailed
	case c.InProgress > 0 || c.Succeeded > 0:
		return AggregateInProgress
	default:
		return AggregatePending
	}
}
