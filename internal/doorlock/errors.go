package doorlock

import "errors"

var (
	// ErrLockNotFound is returned when no entity has the requested id.
	ErrLockNotFound = errors.New("doorlock: lock not found")

	// ErrNotSupported is returned by Lock: entrance doors relock by themselves
	// and cannot be locked remotely.
	ErrNotSupported = errors.New("doorlock: entrance doors cannot be locked remotely")

	// ErrUnavailable is returned when the door is no longer listed on the portal.
	ErrUnavailable = errors.New("doorlock: lock unavailable")
)
