package setup

import (
	"context"
	"fmt"
)

// Connect sets up a stored entry: it builds a client and logs in. Any
// failure is wrapped in ErrEntryNotReady so the caller retries the entry
// later instead of dropping it.
func Connect[C PortalClient](ctx context.Context, entry Entry, newClient func(Entry) (C, error)) (C, error) {
	var zero C

	client, err := newClient(entry)
	if err != nil {
		return zero, fmt.Errorf("%w: %s: %w", ErrEntryNotReady, entry.Host, err)
	}
	if err := client.Login(ctx); err != nil {
		return zero, fmt.Errorf("%w: %s: %w", ErrEntryNotReady, entry.Host, err)
	}
	return client, nil
}

// Unload ends the portal session of a set-up entry.
func Unload(ctx context.Context, client PortalClient) error {
	if err := client.Logout(ctx); err != nil {
		return fmt.Errorf("logging out: %w", err)
	}
	return nil
}
