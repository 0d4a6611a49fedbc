package models

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrListingMismatch     = errors.New("listing does not belong to seller")
	ErrListingInactive     = errors.New("listing is inactive")
	ErrForbidden           = errors.New("forbidden")
	ErrNotFound            = errors.New("not found")
	ErrProviderFailure     = errors.New("provider failure")
	ErrDuplicateWebhook    = errors.New("duplicate webhook")
	ErrInvalidInput        = errors.New("invalid input")
	ErrIdempotencyConflict = errors.New("idempotency conflict")
)

// Refinements keep their parent class for errors.Is.
var (
	ErrQuoteRequired = fmt.Errorf("%w: shipment quote required", ErrInvalidTransition)
	ErrAlreadyPaid   = fmt.Errorf("%w: order already paid", ErrInvalidTransition)
)

// TransitionError builds an ErrInvalidTransition with the observed status
func TransitionError(orderID string, current OrderStatus, action string) error {
	return fmt.Errorf("%w: cannot %s order %s in status %s", ErrInvalidTransition, action, orderID, current)
}
