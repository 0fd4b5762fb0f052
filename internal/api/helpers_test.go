package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/aptus-home/internal/aptus"
	"github.com/nerrad567/aptus-home/internal/audit"
	"github.com/nerrad567/aptus-home/internal/auth"
	bridge "github.com/nerrad567/aptus-home/internal/bridges/aptus"
	"github.com/nerrad567/aptus-home/internal/doorlock"
	"github.com/nerrad567/aptus-home/internal/infrastructure/config"
	"github.com/nerrad567/aptus-home/internal/infrastructure/database"
	"github.com/nerrad567/aptus-home/internal/infrastructure/logging"
	"github.com/nerrad567/aptus-home/internal/infrastructure/mqtt"
	"github.com/nerrad567/aptus-home/internal/metrics"
	"github.com/nerrad567/aptus-home/internal/setup"
	_ "github.com/nerrad567/aptus-home/migrations"
)

const (
	testSecret   = "test-secret-key-at-least-32-characters-long"
	testPassword = "correct-horse"
	testHost     = "https://demo.aptustotal.se/AptusPortal/"
)

// operatorHash is computed once; Argon2id is slow on purpose.
var operatorHash = sync.OnceValue(func() string {
	h, err := auth.HashPassword(testPassword)
	if err != nil {
		panic(err)
	}
	return h
})

// fakeBridge is an in-memory LockBridge.
type fakeBridge struct {
	mu sync.Mutex

	locks   map[string]doorlock.State
	portals []bridge.PortalStatus
	stats   bridge.BridgeStatistics
	err     error

	origins    []bridge.Origin
	codes      []string
	doormanFor []string
	discovered []string
}

func newFakeBridge() *fakeBridge {
	locked := true
	return &fakeBridge{
		locks: map[string]doorlock.State{
			"aptus_lock_12": {ID: "aptus_lock_12", EntryID: "e1", LockID: 12, Name: "Main entrance", Available: true, Locked: &locked},
			"aptus_lock_7":  {ID: "aptus_lock_7", EntryID: "e2", LockID: 7, Name: "Bike room", Available: false, Locked: &locked},
		},
		portals: []bridge.PortalStatus{{EntryID: "e1", LoggedIn: true}},
		stats:   bridge.BridgeStatistics{CommandsReceived: 4, CommandsFailed: 1},
	}
}

func (b *fakeBridge) setErr(err error) {
	b.mu.Lock()
	b.err = err
	b.mu.Unlock()
}

func (b *fakeBridge) Locks() []doorlock.State {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]doorlock.State, 0, len(b.locks))
	for _, st := range b.locks {
		out = append(out, st)
	}
	return out
}

func (b *fakeBridge) LockState(id string) (doorlock.State, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.locks[id]
	if !ok {
		return doorlock.State{}, fmt.Errorf("%w: %s", doorlock.ErrLockNotFound, id)
	}
	return st, nil
}

func (b *fakeBridge) Unlock(_ context.Context, id string, origin bridge.Origin) (aptus.Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.origins = append(b.origins, origin)
	if b.err != nil {
		return nil, b.err
	}
	st, ok := b.locks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", doorlock.ErrLockNotFound, id)
	}
	unlocked := false
	st.Locked = &unlocked
	b.locks[id] = st
	return aptus.Result{"StatusText": "Door opened"}, nil
}

func (b *fakeBridge) Lock(_ context.Context, id string, origin bridge.Origin) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.origins = append(b.origins, origin)
	if _, ok := b.locks[id]; !ok {
		return fmt.Errorf("%w: %s", doorlock.ErrLockNotFound, id)
	}
	return doorlock.ErrNotSupported
}

func (b *fakeBridge) DoormanStatus(_ context.Context, entryID string) (aptus.Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.doormanFor = append(b.doormanFor, entryID)
	if b.err != nil {
		return nil, b.err
	}
	return aptus.Result{"IsLocked": true}, nil
}

func (b *fakeBridge) LockDoorman(_ context.Context, entryID string, origin bridge.Origin) (aptus.Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.doormanFor = append(b.doormanFor, entryID)
	b.origins = append(b.origins, origin)
	if b.err != nil {
		return nil, b.err
	}
	return aptus.Result{"StatusText": "Locked"}, nil
}

func (b *fakeBridge) UnlockDoorman(_ context.Context, entryID, code string, origin bridge.Origin) (aptus.Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.doormanFor = append(b.doormanFor, entryID)
	b.origins = append(b.origins, origin)
	if code == "" {
		return nil, bridge.ErrMissingCode
	}
	b.codes = append(b.codes, code)
	if b.err != nil {
		return nil, b.err
	}
	return aptus.Result{"StatusText": "Unlocked"}, nil
}

func (b *fakeBridge) Discover(_ context.Context, entryID string) (doorlock.SyncResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.discovered = append(b.discovered, entryID)
	if b.err != nil {
		return doorlock.SyncResult{}, b.err
	}
	return doorlock.SyncResult{Added: []string{"aptus_lock_99"}}, nil
}

func (b *fakeBridge) PortalStatuses() []bridge.PortalStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.portals)
}

func (b *fakeBridge) Stats() bridge.BridgeStatistics {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

// fakeLifecycle records entry setup and unload calls.
type fakeLifecycle struct {
	mu       sync.Mutex
	setupErr error
	setups   []string
	unloads  []string
}

func (l *fakeLifecycle) SetupEntry(_ context.Context, entry setup.Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.setups = append(l.setups, entry.ID)
	return l.setupErr
}

func (l *fakeLifecycle) UnloadEntry(_ context.Context, entryID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.unloads = append(l.unloads, entryID)
	return nil
}

// fakePortalClient satisfies setup.PortalClient for the flow probe.
type fakePortalClient struct{ loginErr error }

func (c fakePortalClient) Login(context.Context) error  { return c.loginErr }
func (c fakePortalClient) Logout(context.Context) error { return nil }

// fakeSubscriber captures WebSocket relay subscriptions.
type fakeSubscriber struct {
	mu       sync.Mutex
	handlers map[string]mqtt.MessageHandler
}

func (f *fakeSubscriber) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.handlers == nil {
		f.handlers = make(map[string]mqtt.MessageHandler)
	}
	f.handlers[topic] = handler
	return nil
}

func (f *fakeSubscriber) IsConnected() bool { return true }

func (f *fakeSubscriber) deliver(t *testing.T, pattern, topic string, payload []byte) {
	t.Helper()
	f.mu.Lock()
	h, ok := f.handlers[pattern]
	f.mu.Unlock()
	if !ok {
		t.Fatalf("no subscription for %s", pattern)
	}
	if err := h(topic, payload); err != nil {
		t.Fatalf("handler(%s) error = %v", topic, err)
	}
}

type testEnv struct {
	srv       *Server
	handler   http.Handler
	bridge    *fakeBridge
	lifecycle *fakeLifecycle
	store     *setup.SQLiteStore
	audit     *audit.SQLiteRepository
	mqtt      *fakeSubscriber
	loginErr  error
}

type envOption func(*Deps)

func withRateLimit(perMinute int) envOption {
	return func(d *Deps) {
		d.Security.RateLimit = config.RateLimitConfig{Enabled: true, RequestsPerMinute: perMinute}
	}
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, database.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	env := &testEnv{
		bridge:    newFakeBridge(),
		lifecycle: &fakeLifecycle{},
		store:     setup.NewSQLiteStore(db.DB),
		audit:     audit.NewSQLiteRepository(db.DB),
		mqtt:      &fakeSubscriber{},
	}
	flow := setup.NewFlow(env.store, func(setup.Entry) (setup.PortalClient, error) {
		return fakePortalClient{loginErr: env.loginErr}, nil
	})

	deps := Deps{
		Config: config.APIConfig{Host: "127.0.0.1", Port: 0},
		WS: config.WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Security: config.SecurityConfig{
			JWT:   config.JWTConfig{Secret: testSecret, AccessTokenTTL: 15},
			Admin: config.AdminConfig{Username: "admin", PasswordHash: operatorHash()},
		},
		Logger:    logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test"),
		Bridge:    env.bridge,
		Flow:      flow,
		Entries:   env.store,
		Lifecycle: env.lifecycle,
		Audit:     env.audit,
		Metrics:   metrics.New(),
		MQTT:      env.mqtt,
		Version:   "test",
	}
	for _, opt := range opts {
		opt(&deps)
	}

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	env.srv = srv
	env.handler = srv.Handler()
	return env
}

// token returns a valid access token for the operator.
func (e *testEnv) token(t *testing.T) string {
	t.Helper()
	tok, err := auth.GenerateAccessToken("admin", auth.RoleAdmin, testSecret, 15)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}
	return tok
}

// do sends a request through the router. Authenticated requests carry the
// operator's token.
func (e *testEnv) do(t *testing.T, method, path, body string, authed bool) *httptest.ResponseRecorder {
	t.Helper()
	req := newRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	if authed {
		req.Header.Set("Authorization", "Bearer "+e.token(t))
	}
	return serve(e, req)
}

func newRequest(method, path, body string) *http.Request {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	return httptest.NewRequest(method, path, r)
}

func serve(e *testEnv, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

// nextAudit waits for the next queued audit entry.
func (e *testEnv) nextAudit(t *testing.T) *audit.AuditLog {
	t.Helper()
	select {
	case entry := <-e.srv.auditCh:
		return entry
	case <-time.After(time.Second):
		t.Fatal("no audit entry queued")
		return nil
	}
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decoding %q: %v", w.Body.String(), err)
	}
	return v
}
