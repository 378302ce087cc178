package models

import "errors"

// Error taxonomy for booking operations. The HTTP layer maps these to
// status codes with errors.Is; anything unmatched is an internal failure.
var (
	ErrNotFound                   = errors.New("not found")
	ErrForbidden                  = errors.New("forbidden")
	ErrInvalidState               = errors.New("invalid state transition")
	ErrInvalidRange               = errors.New("invalid date range")
	ErrConflict                   = errors.New("dates conflict with an existing booking")
	ErrValidation                 = errors.New("validation failed")
	ErrPaymentAuthorizationFailed = errors.New("payment authorization failed")

	// ErrReconciliationStale marks a processor notification older than
	// the state already recorded; the handler discards it.
	ErrReconciliationStale = errors.New("payment notification is stale")
)
