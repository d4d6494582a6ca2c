package aggregates

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	domainagg "github.com/edgeward/fleet-backend/internal/domain/aggregates"
	"github.com/edgeward/fleet-backend/internal/domain/rollouts"
)

// codedError is raised inside a write and classified by MapError once the
// transaction has unwound.
type codedError struct {
	code domainagg.ErrorCode
	msg  string
}

func (e *codedError) Error() string { return e.msg }

func coded(code domainagg.ErrorCode, msg string) error {
	return &codedError{code: code, msg: strings.TrimSpace(msg)}
}

func ValidationError(msg string) error { return coded(domainagg.CodeValidation, msg) }
func NotFoundError(msg string) error   { return coded(domainagg.CodeNotFound, msg) }
func ConflictError(msg string) error   { return coded(domainagg.CodeConflict, msg) }
func ForbiddenError(msg string) error  { return coded(domainagg.CodeForbidden, msg) }
func RetryableError(msg string) error  { return coded(domainagg.CodeRetryable, msg) }

// Postgres SQLSTATEs that classify driver errors.
const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgLockNotAvailable     = "55P03"
)

// MapError classifies err into a *domainagg.Error for op. Errors that are
// already classified pass through untouched.
func MapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*domainagg.Error); ok {
		return err
	}

	var ce *codedError
	if errors.As(err, &ce) {
		return domainagg.NewError(ce.code, op, ce.msg, err)
	}
	var pgErr *pgconn.PgError
	switch {
	case errors.Is(err, rollouts.ErrInvalidTransition), errors.Is(err, rollouts.ErrInvalidPercentages):
		return domainagg.Wrap(domainagg.CodeValidation, op, err)
	case errors.Is(err, gorm.ErrRecordNotFound):
		return domainagg.Wrap(domainagg.CodeNotFound, op, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return domainagg.Wrap(domainagg.CodeRetryable, op, err)
	case errors.As(err, &pgErr):
		switch pgErr.Code {
		case pgUniqueViolation:
			return domainagg.Wrap(domainagg.CodeConflict, op, err)
		case pgSerializationFailure, pgDeadlockDetected, pgLockNotAvailable:
			return domainagg.Wrap(domainagg.CodeRetryable, op, err)
		}
	}
	return domainagg.Wrap(classifyMessage(err.Error()), op, err)
}

// classifyMessage covers drivers without typed errors (sqlite in tests).
func classifyMessage(raw string) domainagg.ErrorCode {
	msg := strings.ToLower(raw)
	for _, s := range []string{"duplicate key", "unique constraint failed", "already exists"} {
		if strings.Contains(msg, s) {
			return domainagg.CodeConflict
		}
	}
	for _, s := range []string{"deadlock", "serialization", "database is locked", "timeout", "temporar"} {
		if strings.Contains(msg, s) {
			return domainagg.CodeRetryable
		}
	}
	return domainagg.CodeUnexpected
}
