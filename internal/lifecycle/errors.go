package lifecycle

import (
	"fmt"

	"freightdesk/internal/models"
)

// ValidationError reports malformed or out-of-range input. It is never
// retried; the API layer surfaces it verbatim.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// InvalidTransitionError carries the current status and the legal next
// states so the caller can self-correct.
type InvalidTransitionError struct {
	Current   models.OrderStatus
	Attempted models.OrderStatus
	Valid     []models.OrderStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot transition order from %s to %s (valid: %v)", e.Current, e.Attempted, e.Valid)
}

// ConcurrencyConflictError signals the caller should re-read and retry the
// whole operation once.
type ConcurrencyConflictError struct {
	OrderID string
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("concurrent update on order %s", e.OrderID)
}
