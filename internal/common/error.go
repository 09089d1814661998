// Package common defines shared constants and sentinel errors used across
// the medkeeper server. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")
	ErrorConflict = errors.New("conflict")

	// Service-level errors.
	ErrorInternal               = errors.New("internal error")
	ErrorUnauthorized           = errors.New("unauthorized")
	ErrorForbidden              = errors.New("forbidden")
	ErrPasswordRotationRequired = errors.New("password rotation required")

	// Validation errors.
	ErrorValidation = errors.New("validation error")

	// Auth errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")

	// Token lifecycle errors.
	ErrTokenExpired = errors.New("token expired")
)
