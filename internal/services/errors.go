// Package services defines the business logic of the inbound pipeline. This
// file centralizes common service-level error values so that they can be
// consistently returned by service methods and checked by callers.
//
// Translation into user-facing messages or HTTP status codes is performed at
// the handler layer.
package services

import (
	"errors"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

var (
	// ErrInvalidPayload is returned when the request body cannot be decoded.
	ErrInvalidPayload = errors.New("invalid payload")

	// ErrValidation is the class of every field-level validation failure.
	ErrValidation = errors.New("validation failed")

	// ErrCursorContention is returned when the queue cursor could not be
	// advanced within the retry budget.
	ErrCursorContention = errors.New("queue cursor contention")

	// errLostRace rolls back a transaction whose message insert lost to a
	// concurrent delivery of the same external id.
	errLostRace = errors.New("lost insert race")
)

// ValidationError carries per-field details of a rejected payload.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %v", ErrValidation, e.Fields)
}

// Unwrap makes errors.Is(err, ErrValidation) hold.
func (e *ValidationError) Unwrap() error { return ErrValidation }

// newValidationError converts ozzo-validation output into a ValidationError.
// Internal rule errors are returned unchanged.
func newValidationError(err error) error {
	if err == nil {
		return nil
	}
	var verrs validation.Errors
	if !errors.As(err, &verrs) {
		return err
	}
	fields := make(map[string]string, len(verrs))
	for k, v := range verrs {
		fields[k] = v.Error()
	}
	return &ValidationError{Fields: fields}
}

// storeErr tags a persistence failure with the step that failed.
func storeErr(op string, err error) error {
	return fmt.Errorf("%s: %w", op, err)
}
