package allocation

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode standardizes allocation failure semantics.
type ErrorCode string

const (
	CodeInvalidSKU     ErrorCode = "invalid_sku"
	CodeUnknownBatch   ErrorCode = "unknown_batch"
	CodeDuplicateBatch ErrorCode = "duplicate_batch"
	CodeValidation     ErrorCode = "validation"
)

var (
	// ErrInvalidSKU indicates an allocation request for a product that does not exist.
	ErrInvalidSKU = errors.New("invalid sku")
	// ErrUnknownBatch indicates a batch reference that no product owns.
	ErrUnknownBatch = errors.New("unknown batch")
	// ErrDuplicateBatch indicates a batch reference already present on the product.
	ErrDuplicateBatch = errors.New("duplicate batch")
)

// Error is the canonical allocation error wrapper.
type Error struct {
	Code    ErrorCode
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	op := strings.TrimSpace(e.Op)
	msg := strings.TrimSpace(e.Message)
	switch {
	case op != "" && msg != "":
		return fmt.Sprintf("%s: %s (%s)", op, msg, e.Code)
	case op != "":
		return fmt.Sprintf("%s (%s)", op, e.Code)
	case msg != "":
		return fmt.Sprintf("%s (%s)", msg, e.Code)
	default:
		return string(e.Code)
	}
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError builds an allocation error with explicit code + operation.
func NewError(code ErrorCode, op, message string, cause error) error {
	return &Error{
		Code:    code,
		Op:      strings.TrimSpace(op),
		Message: strings.TrimSpace(message),
		Cause:   cause,
	}
}

// InvalidSKU reports that no product exists for sku.
func InvalidSKU(op, sku string) error {
	return NewError(CodeInvalidSKU, op, fmt.Sprintf("invalid sku %s", sku), ErrInvalidSKU)
}

// UnknownBatch reports that no product owns the batch reference.
func UnknownBatch(op, ref string) error {
	return NewError(CodeUnknownBatch, op, fmt.Sprintf("unknown batch %s", ref), ErrUnknownBatch)
}

// IsCode checks whether err (or wrapped err) carries the given allocation code.
func IsCode(err error, code ErrorCode) bool {
	var allocErr *Error
	if !errors.As(err, &allocErr) {
		return false
	}
	return allocErr.Code == code
}

// CodeOf extracts the allocation error code when available.
func CodeOf(err error) ErrorCode {
	var allocErr *Error
	if !errors.As(err, &allocErr) {
		return ""
	}
	return allocErr.Code
}
