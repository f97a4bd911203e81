package models

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks malformed input: oversized content, bad ids.
	ErrValidation = errors.New("invalid input")
	// ErrNotFound marks a missing conversation, category or message.
	ErrNotFound = errors.New("not found")
	// ErrPermission marks a requester without access to a department.
	ErrPermission = errors.New("permission denied")
	// ErrDelivery marks a recipient that cannot be reached.
	ErrDelivery = errors.New("recipient unreachable")
	// ErrTimeout marks an elapsed selection or confirmation window.
	ErrTimeout = errors.New("timed out")
	// ErrConstraint marks a write rejected by a uniqueness or referential rule.
	ErrConstraint = errors.New("constraint violation")
)

// Validationf returns an ErrValidation with a caller-facing explanation.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFoundf returns an ErrNotFound with a caller-facing explanation.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}
