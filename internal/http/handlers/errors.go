// Package handlers defines HTTP-layer error codes used by the webhook API.
//
// Codes are lowercase snake_case and travel in the "error" field of the
// failure envelope (see response.go). Clients branch on the code; the message
// is for humans.
//
// Example response:
//
//	{
//	  "error": "validation_failed",
//	  "message": "payload failed validation",
//	  "details": {"direction": "must be a valid value"},
//	  "requestId": "e1b9be03-4999-4289-9f03-999b042d65d6"
//	}
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeNotFound         = "not_found"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeUnavailable      = "unavailable"
	ErrCodeInternal         = "internal_error"

	// Domain-specific:
	ErrCodeInvalidPayload   = "invalid_payload"
	ErrCodeValidationFailed = "validation_failed"
	ErrCodeStoreFailed      = "store_failed"
)
