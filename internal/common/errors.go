// Package common defines shared constants and sentinel errors used across
// client and server layers of everkeep. Callers should use errors.Is to
// match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound = errors.New("not found")

	// Service-level errors (generic/internal flow control).
	ErrInternal      = errors.New("internal error")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrExternalStore = errors.New("external store error")

	// Validation errors (malformed or rejected input).
	ErrValidation = errors.New("validation error")

	// State-machine errors. ErrStateConflict means a conditional write found
	// the row in a different state than expected; the caller must re-fetch
	// and re-decide, not blindly retry.
	ErrStateConflict = errors.New("state conflict")
	ErrExpired       = errors.New("expired")
	ErrSelfReference = errors.New("self reference")

	// Crypto errors. Malformed or tampered ciphertext is unrecoverable.
	ErrCrypto = errors.New("crypto error")

	// Auth errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")

	// Token lifecycle errors.
	ErrTokenExpired        = errors.New("token expired")
	ErrRefreshTokenExpired = errors.New("refresh token expired")
)
