package setup

import "errors"

var (
	// ErrInvalidHost is returned by ValidateHost for URLs that are not an
	// Aptus portal root.
	ErrInvalidHost = errors.New("setup: host must look like https://<domain>.aptustotal.se/AptusPortal/")

	// ErrEntryNotFound is returned when no entry matches the lookup.
	ErrEntryNotFound = errors.New("setup: entry not found")

	// ErrEntryExists is returned when an entry for the same host is already stored.
	ErrEntryExists = errors.New("setup: entry already exists")

	// ErrEntryNotReady is returned by Connect when the portal cannot be
	// reached or rejects the stored credentials. Callers should retry later.
	ErrEntryNotReady = errors.New("setup: entry not ready")
)
