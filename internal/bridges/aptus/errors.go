package aptus

import (
	"context"
	"errors"

	portal "github.com/nerrad567/aptus-home/internal/aptus"
	"github.com/nerrad567/aptus-home/internal/doorlock"
)

var (
	// ErrNoPortal is returned when no portal is connected for the entry.
	ErrNoPortal = errors.New("aptus bridge: no portal connected")

	// ErrEntryRequired is returned by doorman calls when several entries are
	// connected and none was named.
	ErrEntryRequired = errors.New("aptus bridge: entry_id required with several portals")

	// ErrPortalExists is returned when an entry already has a portal.
	ErrPortalExists = errors.New("aptus bridge: portal already connected")

	// ErrMissingCode is returned by doorman unlock without a code.
	ErrMissingCode = errors.New("aptus bridge: door code required")
)

// Error codes carried in acks and responses.
const (
	ErrCodeDeviceUnreachable = "DEVICE_UNREACHABLE"
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeNotConfigured     = "NOT_CONFIGURED"
	ErrCodeNotSupported      = "NOT_SUPPORTED"
	ErrCodeTimeout           = "TIMEOUT"
	ErrCodeAuthFailed        = "AUTH_FAILED"
	ErrCodePortalError       = "PORTAL_ERROR"
)

// ErrorCode maps an error from a bridge operation to its wire code.
func ErrorCode(err error) string {
	var apiErr *portal.APIError
	switch {
	case errors.Is(err, doorlock.ErrLockNotFound),
		errors.Is(err, ErrNoPortal):
		return ErrCodeNotConfigured
	case errors.Is(err, doorlock.ErrNotSupported):
		return ErrCodeNotSupported
	case errors.Is(err, ErrEntryRequired),
		errors.Is(err, ErrMissingCode):
		return ErrCodeInvalidParameters
	case errors.Is(err, context.DeadlineExceeded):
		return ErrCodeTimeout
	case errors.Is(err, portal.ErrInvalidCredentials),
		errors.Is(err, portal.ErrMissingCredentials):
		return ErrCodeAuthFailed
	case errors.As(err, &apiErr):
		return ErrCodePortalError
	default:
		return ErrCodeDeviceUnreachable
	}
}
