package service

import (
	"errors"

	"transfer-service/internal/models"
)

var reasons = []struct {
	err    error
	reason string
}{
	{models.ErrInsufficientStock, "insufficient_stock"},
	{models.ErrListingMismatch, "listing_mismatch"},
	{models.ErrListingInactive, "listing_inactive"},
	{models.ErrInvalidTransition, "invalid_transition"},
	{models.ErrForbidden, "forbidden"},
	{models.ErrNotFound, "not_found"},
	{models.ErrProviderFailure, "provider_failure"},
	{models.ErrDuplicateWebhook, "duplicate_webhook"},
	{models.ErrInvalidInput, "invalid_input"},
	{models.ErrIdempotencyConflict, "idempotency_conflict"},
}

// errorReason classifies err for metric labels
func errorReason(err error) string {
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.reason
		}
	}
	return "error"
}

// isUserError reports whether err is an expected outcome of a caller's request
func isUserError(err error) bool {
	switch errorReason(err) {
	case "error", "provider_failure":
		return false
	}
	return true
}
