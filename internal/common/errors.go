// Package common defines shared constants and sentinel errors used across
// the auth service, the gateway and the operator CLI. Callers should use
// errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors (generic/internal flow control).
	ErrorInternal   = errors.New("internal error")
	ErrInvalidInput = errors.New("invalid input")

	// Access token errors.
	ErrTokenMalformed        = errors.New("token malformed")
	ErrTokenSignatureInvalid = errors.New("token signature invalid")
	ErrTokenExpired          = errors.New("token expired")

	// Refresh token lifecycle errors.
	ErrRefreshTokenInvalid = errors.New("refresh token invalid")
	ErrRefreshTokenExpired = errors.New("refresh token expired")

	// Credential errors.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountDisabled    = errors.New("account disabled")
	ErrDuplicateEmail     = errors.New("email already registered")

	// Infrastructure errors.
	ErrStoreUnavailable = errors.New("token store unavailable")

	// Configuration errors.
	ErrWeakSigningKey    = errors.New("signing key shorter than 256 bits")
	ErrInvalidSigningKey = errors.New("signing key is not valid base64")
)
