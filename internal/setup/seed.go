package setup

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// EnsureEntry stores an entry for credentials that come from the config
// file rather than the flow. An existing entry for the same host gets the
// new credentials; no login is attempted.
func EnsureEntry(ctx context.Context, store Store, in Input) (*Entry, error) {
	host, err := ValidateHost(in.Host)
	if err != nil {
		return nil, err
	}

	existing, err := store.GetByHost(ctx, host)
	switch {
	case err == nil:
		if existing.Username == in.Username && existing.Password == in.Password {
			return existing, nil
		}
		existing.Username = in.Username
		existing.Password = in.Password
		if err := store.Update(ctx, existing); err != nil {
			return nil, fmt.Errorf("updating entry for %s: %w", host, err)
		}
		return existing, nil

	case errors.Is(err, ErrEntryNotFound):
		entry := &Entry{
			ID:       uuid.NewString(),
			Host:     host,
			Username: in.Username,
			Password: in.Password,
			Title:    EntryTitle,
		}
		if err := store.Create(ctx, entry); err != nil {
			return nil, fmt.Errorf("creating entry for %s: %w", host, err)
		}
		return entry, nil

	default:
		return nil, fmt.Errorf("looking up entry for %s: %w", host, err)
	}
}
