package domain

import (
	"errors"
	"fmt"
)

// ValidationError rejects malformed order or algorithm parameters before
// any broker call is made.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// Validationf builds a ValidationError for field with a formatted reason.
func Validationf(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// StateError rejects an operation that is illegal in the order's current
// lifecycle state, such as cancelling an order that already filled.
type StateError struct {
	OrderID string
	Status  OrderStatus
	Op      string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("order %s: cannot %s in status %s", e.OrderID, e.Op, e.Status)
}

// NotFoundError reports an unknown order, algorithmic order, or risk limit.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s: not found", e.Kind, e.ID)
}

// BackendError wraps a broker collaborator failure, keeping the HTTP status
// and raw payload when the venue provided them.
type BackendError struct {
	Op         string
	Venue      string
	StatusCode int
	Body       string
	Err        error
}

func (e *BackendError) Error() string {
	msg := fmt.Sprintf("%s %s failed", e.Venue, e.Op)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// RiskBlockedError reports an order stopped by a failing risk check whose
// remediation action does not permit the order to proceed. It carries the
// structured check result so callers can inspect the limit that fired.
type RiskBlockedError struct {
	Result RiskCheckResult
}

func (e *RiskBlockedError) Error() string {
	return fmt.Sprintf("risk blocked: %s: %s", e.Result.LimitType, e.Result.Message)
}

// IsValidation reports whether err is or wraps a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsState reports whether err is or wraps a StateError.
func IsState(err error) bool {
	var se *StateError
	return errors.As(err, &se)
}

// IsNotFound reports whether err is or wraps a NotFoundError.
func IsNotFound(err error) bool {
	var ne *NotFoundError
	return errors.As(err, &ne)
}

// IsBackend reports whether err is or wraps a BackendError.
func IsBackend(err error) bool {
	var be *BackendError
	return errors.As(err, &be)
}

// IsRiskBlocked reports whether err is or wraps a RiskBlockedError.
func IsRiskBlocked(err error) bool {
	var re *RiskBlockedError
	return errors.As(err, &re)
}
