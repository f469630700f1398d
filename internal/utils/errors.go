package utils

import "errors"

// Common application errors used across services.
var (
	// ErrAuthFailure means token acquisition failed. Hard stop: no charge is
	// attempted after this.
	ErrAuthFailure = errors.New("AUTH_FAILURE")

	// ErrLookupFailure means a BIN, commission, or status call failed.
	// Typically recoverable by the caller.
	ErrLookupFailure = errors.New("LOOKUP_FAILURE")

	// ErrInvalidPayload means a hash-key bundle or invoice id failed to
	// decode. The input is untrusted and must be rejected, never crashed on.
	ErrInvalidPayload = errors.New("INVALID_PAYLOAD")

	// ErrValidationError means missing or malformed user input, surfaced
	// before any network call.
	ErrValidationError = errors.New("VALIDATION_ERROR")

	// ErrAlreadyProcessed is not a failure: the order is already paid and the
	// handler is an idempotent no-op.
	ErrAlreadyProcessed = errors.New("ALREADY_PROCESSED")

	ErrOrderNotFound   = errors.New("ORDER_NOT_FOUND")
	ErrMappingNotFound = errors.New("MAPPING_NOT_FOUND")

	// ErrExhaustedRetries means the bounded collision-retry loop for order id
	// minting ran out of attempts.
	ErrExhaustedRetries = errors.New("EXHAUSTED_RETRIES")

	ErrInvalidOrderKey = errors.New("INVALID_ORDER_KEY")
)
