// Package aggregates holds the write contracts for rollouts: the input and
// result shapes of every command, the error codes callers branch on, and
// the table ownership of each aggregate.
//
// A command either commits every row it touches (rollout, phases,
// assignments, desired state, audit event) or none of them.
package aggregates
