package apperrors

import (
	"errors"
)

var (
	ErrUserAlreadyExists = errors.New("user already exists")
	ErrUserNotFound      = errors.New("user not found")

	// The only kind surfaced for credential validation failures
	// Absent, expired, revoked and malformed tokens are deliberately indistinguishable to callers
	ErrInvalidCredential = errors.New("invalid credential")

	// Transient storage failure, callers may retry with their own policy
	ErrStoreUnavailable = errors.New("token store unavailable")

	// Signing key misconfigured or unavailable, not retryable
	ErrEncoding = errors.New("token encoding failed")

	// Unique constraint hit on a freshly generated token value
	// Caller has to regenerate the value and retry once
	ErrDuplicateToken = errors.New("duplicate token value")
)
