package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// ErrAccountLocked is returned by lockout-guarded writes while locked_until is in the future
	ErrAccountLocked = errors.New("account is locked")

	// Authorization gate errors
	ErrInviteCodeExhausted = errors.New("could not allocate a unique invite code")
	ErrInvalidTransition   = errors.New("authorization entry is not in a state that allows this change")
)
