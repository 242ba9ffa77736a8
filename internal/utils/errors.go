package utils

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the triage funnel. Match them with errors.Is.
var (
	// ErrServiceUnavailable marks an external capability that is not configured or not reachable.
	ErrServiceUnavailable = errors.New("service unavailable")
	// ErrServiceError marks an external capability that responded with a failure or malformed data.
	ErrServiceError = errors.New("service error")
	// ErrContractViolation marks a response that breaks a structural contract, e.g. a verdict
	// batch whose length differs from the request or a vector of the wrong dimension.
	ErrContractViolation = errors.New("contract violation")
	// ErrPersistenceFailure marks a failed save of durable state.
	ErrPersistenceFailure = errors.New("persistence failure")
)

// AppError wraps an operation, human-facing message, error kind, and underlying error.
type AppError struct {
	Kind error
	Op   string
	Msg  string
	Err  error
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is reports whether target is the kind of this error.
func (e *AppError) Is(target error) bool {
	return e.Kind != nil && target == e.Kind
}

// NewAppError constructs an AppError without a kind.
func NewAppError(op, msg string, err error) error {
	return &AppError{Op: op, Msg: msg, Err: err}
}

// Unavailable builds an ErrServiceUnavailable error.
func Unavailable(op, msg string, err error) error {
	return &AppError{Kind: ErrServiceUnavailable, Op: op, Msg: msg, Err: err}
}

// ServiceFailure builds an ErrServiceError error.
func ServiceFailure(op, msg string, err error) error {
	return &AppError{Kind: ErrServiceError, Op: op, Msg: msg, Err: err}
}

// ContractViolation builds an ErrContractViolation error.
func ContractViolation(op, msg string) error {
	return &AppError{Kind: ErrContractViolation, Op: op, Msg: msg}
}

// PersistenceFailure builds an ErrPersistenceFailure error.
func PersistenceFailure(op, msg string, err error) error {
	return &AppError{Kind: ErrPersistenceFailure, Op: op, Msg: msg, Err: err}
}

// KindOf returns a short label for the error kind, used for metrics and logs.
func KindOf(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrContractViolation):
		return "contract_violation"
	case errors.Is(err, ErrPersistenceFailure):
		return "persistence_failure"
	case errors.Is(err, ErrServiceUnavailable):
		return "service_unavailable"
	case errors.Is(err, ErrServiceError):
		return "service_error"
	default:
		return "internal"
	}
}
