package service

import "errors"

// Credential failures are deliberately unified: a caller can never tell an
// unknown user from a wrong password, a bad bind, or an unreachable directory.
var (
	ErrInvalidInput        = errors.New("missing or empty credential fields")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	ErrReuseDetected       = errors.New("refresh token reuse detected")
	ErrForbidden           = errors.New("operation not permitted on this session")
	ErrTooManyAttempts     = errors.New("too many failed attempts")
	ErrAlreadyRegistered   = errors.New("email or username already registered")
	// ErrRoleNotLoaded is a programming-error-class failure: a caller tried to
	// mint a token from an identity whose role relation was never loaded.
	ErrRoleNotLoaded = errors.New("identity role not loaded")
)
