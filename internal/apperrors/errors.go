package apperrors

import (
	"errors"
	"fmt"
)

// Authentication and authorization failures
var (
	ErrMissingCredential = errors.New("missing credential")
	ErrMalformedHeader   = errors.New("malformed authorization header")
	ErrEmptyToken        = fmt.Errorf("empty token segment: %w", ErrMalformedHeader)
	ErrExpiredToken      = errors.New("token is expired")
	ErrInvalidSignature  = errors.New("token is malformed or has bad signature")
	ErrNotYetValid       = errors.New("token is not valid yet")
	ErrTokenRevoked      = errors.New("token is revoked")
	ErrInsufficientRole  = errors.New("insufficient role")
	ErrUnauthenticated   = errors.New("unauthenticated")
)

// Infrastructure and startup failures
var (
	ErrStoreUnavailable    = errors.New("token store unavailable")
	ErrSecretMisconfigured = errors.New("signing secret is not configured")
)

// User directory and refresh token records
var (
	ErrUserAlreadyExists  = errors.New("user already exists")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidCredentials = errors.New("invalid username or password")

	ErrRefreshTokenNotFound = errors.New("refresh token not found")
	ErrRefreshTokenExists   = errors.New("refresh token already exists")
)

// Reason returns short stable label for the error kind.
// Used as log field and metric label, so values must not change.
func Reason(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrMissingCredential):
		return "missing_credential"
	case errors.Is(err, ErrEmptyToken):
		return "empty_token"
	case errors.Is(err, ErrMalformedHeader):
		return "malformed_header"
	case errors.Is(err, ErrExpiredToken):
		return "expired"
	case errors.Is(err, ErrNotYetValid):
		return "not_yet_valid"
	case errors.Is(err, ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, ErrTokenRevoked):
		return "revoked"
	case errors.Is(err, ErrInsufficientRole):
		return "insufficient_role"
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	case errors.Is(err, ErrRefreshTokenNotFound):
		return "not_found"
	default:
		return "other"
	}
}
