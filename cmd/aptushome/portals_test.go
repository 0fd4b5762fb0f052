package main

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/nerrad567/aptus-home/internal/aptus"
	bridge "github.com/nerrad567/aptus-home/internal/bridges/aptus"
	"github.com/nerrad567/aptus-home/internal/doorlock"
	"github.com/nerrad567/aptus-home/internal/infrastructure/config"
	"github.com/nerrad567/aptus-home/internal/infrastructure/logging"
	"github.com/nerrad567/aptus-home/internal/setup"
)

// mockPortal is a bridge.Portal that only tracks its session.
type mockPortal struct {
	mu       sync.Mutex
	loginErr error
	loggedIn bool
	logouts  int
}

func (p *mockPortal) Login(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loginErr != nil {
		return p.loginErr
	}
	p.loggedIn = true
	return nil
}

func (p *mockPortal) Relogin(ctx context.Context) error { return p.Login(ctx) }

func (p *mockPortal) Logout(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loggedIn = false
	p.logouts++
	return nil
}

func (p *mockPortal) IsLoggedIn() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loggedIn
}

func (p *mockPortal) ListEntranceDoors(context.Context) ([]aptus.Lock, error) { return nil, nil }
func (p *mockPortal) UnlockEntranceDoor(context.Context, int) (aptus.Result, error) { return nil, nil }
func (p *mockPortal) DoormanLockStatus(context.Context) (aptus.Result, error) { return nil, nil }
func (p *mockPortal) LockDoorman(context.Context) (aptus.Result, error) { return nil, nil }
func (p *mockPortal) UnlockDoorman(context.Context, string) (aptus.Result, error) { return nil, nil }
func (p *mockPortal) PollOngoingCall(context.Context) (aptus.Result, error) { return nil, nil }

// mockHost records portals handed to the bridge.
type mockHost struct {
	added   map[string]bridge.Portal
	removed []string
	addErr  error
}

func (h *mockHost) AddPortal(_ context.Context, entryID string, p bridge.Portal) (doorlock.SyncResult, error) {
	if _, ok := h.added[entryID]; ok {
		return doorlock.SyncResult{}, bridge.ErrPortalExists
	}
	h.added[entryID] = p
	return doorlock.SyncResult{Added: []string{"aptus_lock_1"}}, h.addErr
}

func (h *mockHost) RemovePortal(_ context.Context, entryID string) error {
	if _, ok := h.added[entryID]; !ok {
		return bridge.ErrNoPortal
	}
	delete(h.added, entryID)
	h.removed = append(h.removed, entryID)
	return nil
}

type staticEntries []setup.Entry

func (s staticEntries) List(context.Context) ([]setup.Entry, error) { return s, nil }

func newTestManager(portals map[string]*mockPortal) (*portalManager, *mockHost) {
	host := &mockHost{added: make(map[string]bridge.Portal)}
	m := newPortalManager(config.AptusConfig{}, host, nil, logging.Default())
	m.newClient = func(e setup.Entry) (bridge.Portal, error) {
		p, ok := portals[e.ID]
		if !ok {
			return nil, aptus.ErrInvalidBaseURL
		}
		return p, nil
	}
	return m, host
}

func TestPortalManager_SetupAndUnload(t *testing.T) {
	p := &mockPortal{}
	m, host := newTestManager(map[string]*mockPortal{"e1": p})
	ctx := context.Background()

	if err := m.SetupEntry(ctx, setup.Entry{ID: "e1"}); err != nil {
		t.Fatalf("SetupEntry() error = %v", err)
	}
	if !p.IsLoggedIn() || host.added["e1"] != bridge.Portal(p) {
		t.Fatal("portal should be logged in and handed to the bridge")
	}

	if err := m.SetupEntry(ctx, setup.Entry{ID: "e1"}); !errors.Is(err, bridge.ErrPortalExists) {
		t.Errorf("second SetupEntry() error = %v, want ErrPortalExists", err)
	}

	if err := m.UnloadEntry(ctx, "e1"); err != nil {
		t.Fatalf("UnloadEntry() error = %v", err)
	}
	if p.IsLoggedIn() || p.logouts != 1 {
		t.Errorf("loggedIn = %v, logouts = %d", p.IsLoggedIn(), p.logouts)
	}
	if diff := cmp.Diff([]string{"e1"}, host.removed); diff != "" {
		t.Errorf("removed mismatch (-want +got):\n%s", diff)
	}

	if err := m.UnloadEntry(ctx, "e1"); !errors.Is(err, bridge.ErrNoPortal) {
		t.Errorf("UnloadEntry() of unloaded entry error = %v, want ErrNoPortal", err)
	}
}

func TestPortalManager_SetupEntry_LoginFails(t *testing.T) {
	p := &mockPortal{loginErr: aptus.ErrInvalidCredentials}
	m, host := newTestManager(map[string]*mockPortal{"e1": p})

	err := m.SetupEntry(context.Background(), setup.Entry{ID: "e1"})
	if !errors.Is(err, setup.ErrEntryNotReady) || !errors.Is(err, aptus.ErrInvalidCredentials) {
		t.Fatalf("SetupEntry() error = %v", err)
	}
	if len(host.added) != 0 {
		t.Error("nothing should be loaded")
	}
}

func TestPortalManager_DiscoveryFailureKeepsPortal(t *testing.T) {
	m, host := newTestManager(map[string]*mockPortal{"e1": {}})
	host.addErr = aptus.ErrConnectionFailed

	if err := m.SetupEntry(context.Background(), setup.Entry{ID: "e1"}); err != nil {
		t.Fatalf("SetupEntry() error = %v", err)
	}
	if _, ok := host.added["e1"]; !ok {
		t.Error("portal should stay registered")
	}
}

func TestPortalManager_LoadAll(t *testing.T) {
	up := &mockPortal{}
	down := &mockPortal{loginErr: aptus.ErrConnectionFailed}
	m, host := newTestManager(map[string]*mockPortal{"up": up, "down": down})

	entries := staticEntries{{ID: "up"}, {ID: "down"}, {ID: "broken"}}
	if err := m.LoadAll(context.Background(), entries); err != nil {
		t.Fatalf("LoadAll() error = %v", err)
	}

	var ids []string
	for id := range host.added {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	if diff := cmp.Diff([]string{"down", "up"}, ids); diff != "" {
		t.Errorf("loaded mismatch (-want +got):\n%s", diff)
	}
	if !up.IsLoggedIn() || down.IsLoggedIn() {
		t.Error("only the reachable portal should be logged in")
	}

	m.UnloadAll(context.Background())
	if up.logouts != 1 || down.logouts != 1 {
		t.Errorf("logouts = %d, %d", up.logouts, down.logouts)
	}
	if len(host.removed) != 0 {
		t.Error("UnloadAll should keep doors registered")
	}
}

func TestPortalManager_ProbeClient(t *testing.T) {
	m := newPortalManager(config.AptusConfig{RequestTimeout: 5, RequestsPerSecond: 1},
		&mockHost{added: make(map[string]bridge.Portal)}, nil, logging.Default())

	if _, err := m.probeClient(setup.Entry{Host: "not a url"}); !errors.Is(err, aptus.ErrInvalidBaseURL) {
		t.Errorf("probeClient() error = %v, want ErrInvalidBaseURL", err)
	}

	client, err := m.probeClient(setup.Entry{
		ID:       "e1",
		Host:     "https://demo.aptustotal.se/AptusPortal/",
		Username: "anna",
		Password: "s3cret",
	})
	if err != nil {
		t.Fatalf("probeClient() error = %v", err)
	}
	if c, ok := client.(*aptus.Client); !ok || c.IsLoggedIn() {
		t.Errorf("probeClient() = %T, want a logged-out *aptus.Client", client)
	}
}
