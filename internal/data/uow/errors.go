package uow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/yungbote/allocation/internal/data/repos/products"
	"github.com/yungbote/allocation/internal/domain/allocation"
)

// ErrTxDone is returned by Commit on a transaction that already finished.
var ErrTxDone = errors.New("unit of work: transaction already finished")

type Code string

const (
	CodeNotFound  Code = "not_found"
	CodeConflict  Code = "conflict"
	CodeRetryable Code = "retryable"
	CodeInternal  Code = "internal"
)

// Error is a storage failure tagged with a stable code.
type Error struct {
	Code  Code
	Op    string
	Cause error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Code, e.Cause)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Code, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

func wrap(code Code, op string, err error) error {
	return &Error{Code: code, Op: op, Cause: err}
}

// MapError maps infrastructure failures into unit-of-work error codes.
// Domain errors and already-mapped errors pass through untouched.
func MapError(op string, err error) error {
	if err == nil {
		return nil
	}
	var mapped *Error
	if errors.As(err, &mapped) {
		return err
	}
	var domainErr *allocation.Error
	if errors.As(err, &domainErr) {
		return err
	}
	switch {
	case errors.Is(err, ErrTxDone):
		return err
	case errors.Is(err, products.ErrVersionConflict), errors.Is(err, products.ErrAlreadyExists):
		return wrap(CodeConflict, op, err)
	case errors.Is(err, gorm.ErrRecordNotFound):
		return wrap(CodeNotFound, op, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return wrap(CodeRetryable, op, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch strings.TrimSpace(pgErr.Code) {
		case "23505":
			return wrap(CodeConflict, op, err) // unique_violation
		case "40001", "40P01", "55P03":
			return wrap(CodeRetryable, op, err) // serialization/deadlock/lock_not_available
		}
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "duplicate key"),
		strings.Contains(msg, "unique constraint"),
		strings.Contains(msg, "already exists"):
		return wrap(CodeConflict, op, err)
	case strings.Contains(msg, "deadlock"),
		strings.Contains(msg, "serialization"),
		strings.Contains(msg, "database is locked"),
		strings.Contains(msg, "timeout"):
		return wrap(CodeRetryable, op, err)
	default:
		return wrap(CodeInternal, op, err)
	}
}

// CodeOf returns the code of a mapped error, or "".
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

func IsConflict(err error) bool { return CodeOf(err) == CodeConflict }
