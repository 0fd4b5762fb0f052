package main

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nerrad567/aptus-home/internal/aptus"
	bridge "github.com/nerrad567/aptus-home/internal/bridges/aptus"
	"github.com/nerrad567/aptus-home/internal/doorlock"
	"github.com/nerrad567/aptus-home/internal/infrastructure/config"
	"github.com/nerrad567/aptus-home/internal/infrastructure/logging"
	"github.com/nerrad567/aptus-home/internal/setup"
)

// portalHost is the part of the bridge that owns loaded portals.
type portalHost interface {
	AddPortal(ctx context.Context, entryID string, p bridge.Portal) (doorlock.SyncResult, error)
	RemovePortal(ctx context.Context, entryID string) error
}

// entryLister lists stored entries at startup.
type entryLister interface {
	List(ctx context.Context) ([]setup.Entry, error)
}

// portalManager loads stored entries into the bridge and ends their sessions
// on unload. It implements api.EntryLifecycle.
type portalManager struct {
	host      portalHost
	newClient func(setup.Entry) (bridge.Portal, error)
	logger    *logging.Logger

	mu      sync.Mutex
	clients map[string]bridge.Portal
}

func newPortalManager(cfg config.AptusConfig, host portalHost, observer aptus.Observer, logger *logging.Logger) *portalManager {
	return &portalManager{
		host:   host,
		logger: logger,
		newClient: func(entry setup.Entry) (bridge.Portal, error) {
			client, err := aptus.New(aptus.Config{
				BaseURL:           entry.Host,
				Username:          entry.Username,
				Password:          entry.Password,
				Timeout:           cfg.GetRequestTimeout(),
				RequestsPerSecond: cfg.RequestsPerSecond,
			})
			if err != nil {
				return nil, err
			}
			client.SetLogger(logger.With("entry_id", entry.ID))
			if observer != nil {
				client.SetObserver(observer)
			}
			return client, nil
		},
		clients: make(map[string]bridge.Portal),
	}
}

// probeClient is the configuration flow's client factory.
func (m *portalManager) probeClient(entry setup.Entry) (setup.PortalClient, error) {
	client, err := m.newClient(entry)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// SetupEntry logs in to the entry's portal and hands the session to the
// bridge. A failed login returns an error wrapping setup.ErrEntryNotReady and
// loads nothing.
func (m *portalManager) SetupEntry(ctx context.Context, entry setup.Entry) error {
	client, err := setup.Connect(ctx, entry, m.newClient)
	if err != nil {
		return err
	}
	return m.add(ctx, entry, client)
}

func (m *portalManager) add(ctx context.Context, entry setup.Entry, client bridge.Portal) error {
	m.mu.Lock()
	if _, ok := m.clients[entry.ID]; ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", bridge.ErrPortalExists, entry.ID)
	}
	m.clients[entry.ID] = client
	m.mu.Unlock()

	res, err := m.host.AddPortal(ctx, entry.ID, client)
	switch {
	case errors.Is(err, bridge.ErrPortalExists):
		m.mu.Lock()
		delete(m.clients, entry.ID)
		m.mu.Unlock()
		return err
	case err != nil:
		// Registered; door discovery is retried by the keepalive loop.
		m.logger.Warn("portal loaded without doors", "entry_id", entry.ID, "error", err)
	default:
		m.logger.Info("portal loaded",
			"entry_id", entry.ID,
			"host", entry.Host,
			"added", len(res.Added),
			"unavailable", len(res.Unavailable),
		)
	}
	return nil
}

// LoadAll sets up every stored entry. An entry whose portal cannot be
// reached is still registered with a logged-out session so the bridge keeps
// retrying it.
func (m *portalManager) LoadAll(ctx context.Context, store entryLister) error {
	entries, err := store.List(ctx)
	if err != nil {
		return fmt.Errorf("listing entries: %w", err)
	}

	for _, entry := range entries {
		err := m.SetupEntry(ctx, entry)
		if err == nil {
			continue
		}
		if !errors.Is(err, setup.ErrEntryNotReady) {
			return fmt.Errorf("loading entry %s: %w", entry.ID, err)
		}

		m.logger.Warn("portal not ready, will retry", "entry_id", entry.ID, "error", err)
		client, clientErr := m.newClient(entry)
		if clientErr != nil {
			m.logger.Error("skipping entry with unusable host", "entry_id", entry.ID, "error", clientErr)
			continue
		}
		if err := m.add(ctx, entry, client); err != nil {
			return fmt.Errorf("loading entry %s: %w", entry.ID, err)
		}
	}
	return nil
}

// UnloadEntry removes the entry's doors from the bridge and logs its
// session out.
func (m *portalManager) UnloadEntry(ctx context.Context, entryID string) error {
	m.mu.Lock()
	client, ok := m.clients[entryID]
	delete(m.clients, entryID)
	m.mu.Unlock()

	removeErr := m.host.RemovePortal(ctx, entryID)
	if !ok {
		return removeErr
	}
	if err := setup.Unload(ctx, client); err != nil {
		m.logger.Warn("portal logout failed", "entry_id", entryID, "error", err)
	}
	return removeErr
}

// UnloadAll logs out every loaded portal. Doors stay in the registry so a
// restart restores them.
func (m *portalManager) UnloadAll(ctx context.Context) {
	m.mu.Lock()
	clients := m.clients
	m.clients = make(map[string]bridge.Portal)
	m.mu.Unlock()

	for entryID, client := range clients {
		if err := setup.Unload(ctx, client); err != nil {
			m.logger.Warn("portal logout failed", "entry_id", entryID, "error", err)
		}
	}
}
