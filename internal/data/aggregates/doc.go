// Package aggregates implements the rollout write paths declared in
// internal/domain/aggregates on top of the gorm repos.
//
// Every write takes the rollout row lock, re-checks the caller's
// expectations, mutates, and saves the header with a version
// compare-and-set, all in one transaction.
package aggregates
