// Package common defines shared constants, the error catalog and small
// helpers used across the postboard server. Callers should use errors.Is
// and errors.As to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Auth errors (invalid, malformed or expired token).
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)
