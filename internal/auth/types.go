package auth

import "errors"

// Role is the authorisation tier carried in an access token.
type Role string

const (
	// RoleAdmin may operate locks and manage portal entries.
	RoleAdmin Role = "admin"
)

// Sentinel errors for auth operations.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNotConfigured      = errors.New("no operator password configured")
	ErrTokenInvalid       = errors.New("invalid token")
	ErrInvalidHash        = errors.New("invalid password hash")
)
