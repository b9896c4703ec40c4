package models

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Account state errors
	ErrAccountDisabled = errors.New("account is disabled")
)

// LoginBlockedError is returned when an identity is inside an active
// lockout window. RetryAfter is the remaining block duration; the
// caller composes the user-facing message from it.
type LoginBlockedError struct {
	RetryAfter time.Duration
}

func (e *LoginBlockedError) Error() string {
	return fmt.Sprintf("login blocked for another %s", e.RetryAfter)
}

// InvalidCredentialsError is returned after a failed credential check
// below the blocking threshold. Remaining is the number of attempts
// left before the short block engages, floored at zero.
type InvalidCredentialsError struct {
	Remaining int
}

func (e *InvalidCredentialsError) Error() string {
	return fmt.Sprintf("invalid credentials, %d attempts remaining", e.Remaining)
}
