// Package core defines the weekly-plan domain types and shared errors.
package core

import "errors"

// Errors shared across packages
var (
	// Lookup errors
	ErrNotFound = errors.New("not found")

	// Upstream errors
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	// Validation errors
	ErrInvalidInput    = errors.New("invalid input")
	ErrMissingRequired = errors.New("missing required field")
)
