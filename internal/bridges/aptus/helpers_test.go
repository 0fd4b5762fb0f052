package aptus

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	portal "github.com/nerrad567/aptus-home/internal/aptus"
	"github.com/nerrad567/aptus-home/internal/audit"
	"github.com/nerrad567/aptus-home/internal/doorlock"
	"github.com/nerrad567/aptus-home/internal/infrastructure/influxdb"
	"github.com/nerrad567/aptus-home/internal/infrastructure/mqtt"
)

// PublishedMessage is one message captured by MockMQTTClient.
type PublishedMessage struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

// MockMQTTClient records publications and lets tests inject messages.
type MockMQTTClient struct {
	mu        sync.Mutex
	connected bool
	published []PublishedMessage
	handlers  map[string]mqtt.MessageHandler
}

func NewMockMQTTClient() *MockMQTTClient {
	return &MockMQTTClient{
		connected: true,
		handlers:  make(map[string]mqtt.MessageHandler),
	}
}

func (m *MockMQTTClient) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, PublishedMessage{Topic: topic, Payload: payload, QoS: qos, Retained: retained})
	return nil
}

func (m *MockMQTTClient) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[topic] = handler
	return nil
}

func (m *MockMQTTClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockMQTTClient) SetConnected(v bool) {
	m.mu.Lock()
	m.connected = v
	m.mu.Unlock()
}

// SimulateMessage delivers payload to the handler whose pattern matches topic.
func (m *MockMQTTClient) SimulateMessage(t *testing.T, topic string, payload []byte) error {
	t.Helper()
	m.mu.Lock()
	var handler mqtt.MessageHandler
	for pattern, h := range m.handlers {
		if topicMatches(pattern, topic) {
			handler = h
			break
		}
	}
	m.mu.Unlock()

	if handler == nil {
		t.Fatalf("no subscription matches %s", topic)
	}
	return handler(topic, payload)
}

// GetPublished returns the messages published on topic.
func (m *MockMQTTClient) GetPublished(topic string) []PublishedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []PublishedMessage
	for _, msg := range m.published {
		if msg.Topic == topic {
			out = append(out, msg)
		}
	}
	return out
}

// WaitPublished waits until at least n messages were published on topic.
func (m *MockMQTTClient) WaitPublished(t *testing.T, topic string, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for len(m.GetPublished(topic)) < n {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d messages on %s", n, topic)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// LastPublished decodes the latest message on topic into v.
func (m *MockMQTTClient) LastPublished(t *testing.T, topic string, v any) PublishedMessage {
	t.Helper()
	msgs := m.GetPublished(topic)
	if len(msgs) == 0 {
		t.Fatalf("nothing published on %s", topic)
	}
	last := msgs[len(msgs)-1]
	if v != nil {
		if err := json.Unmarshal(last.Payload, v); err != nil {
			t.Fatalf("decoding %s: %v", topic, err)
		}
	}
	return last
}

func (m *MockMQTTClient) ClearPublished() {
	m.mu.Lock()
	m.published = nil
	m.mu.Unlock()
}

func topicMatches(pattern, topic string) bool {
	pp := strings.Split(pattern, "/")
	tp := strings.Split(topic, "/")
	for i, p := range pp {
		if p == "#" {
			return true
		}
		if i >= len(tp) || (p != "+" && p != tp[i]) {
			return false
		}
	}
	return len(pp) == len(tp)
}

// fakePortal is an in-memory Portal.
type fakePortal struct {
	mu sync.Mutex

	loggedIn   bool
	doors      []portal.Lock
	listErr    error
	unlockErr  error
	reloginErr error
	doormanErr error
	pollResult portal.Result
	pollErr    error

	// unlockGate, when set, holds UnlockEntranceDoor until it is closed.
	unlockGate chan struct{}

	unlocked []int
	codes    []string
	relogins int
	polls    int
}

func newFakePortal(doors ...portal.Lock) *fakePortal {
	return &fakePortal{loggedIn: true, doors: doors}
}

func (p *fakePortal) Login(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loggedIn = true
	return nil
}

func (p *fakePortal) Relogin(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.relogins++
	if p.reloginErr != nil {
		return p.reloginErr
	}
	p.loggedIn = true
	return nil
}

func (p *fakePortal) Logout(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loggedIn = false
	return nil
}

func (p *fakePortal) IsLoggedIn() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loggedIn
}

func (p *fakePortal) ListEntranceDoors(context.Context) ([]portal.Lock, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.loggedIn {
		return nil, portal.ErrNotLoggedIn
	}
	if p.listErr != nil {
		return nil, p.listErr
	}
	return append([]portal.Lock(nil), p.doors...), nil
}

func (p *fakePortal) UnlockEntranceDoor(_ context.Context, lockID int) (portal.Result, error) {
	p.mu.Lock()
	gate := p.unlockGate
	p.mu.Unlock()
	if gate != nil {
		<-gate
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.unlockErr != nil {
		return nil, p.unlockErr
	}
	p.unlocked = append(p.unlocked, lockID)
	return portal.Result{"StatusText": "Door opened"}, nil
}

func (p *fakePortal) DoormanLockStatus(context.Context) (portal.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.doormanErr != nil {
		return nil, p.doormanErr
	}
	return portal.Result{"IsLocked": true}, nil
}

func (p *fakePortal) LockDoorman(context.Context) (portal.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.doormanErr != nil {
		return nil, p.doormanErr
	}
	return portal.Result{"StatusText": "Locked"}, nil
}

func (p *fakePortal) UnlockDoorman(_ context.Context, code string) (portal.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.doormanErr != nil {
		return nil, p.doormanErr
	}
	p.codes = append(p.codes, code)
	return portal.Result{"StatusText": "Unlocked"}, nil
}

func (p *fakePortal) PollOngoingCall(context.Context) (portal.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.polls++
	if p.pollErr != nil {
		return nil, p.pollErr
	}
	return p.pollResult, nil
}

func (p *fakePortal) set(fn func(p *fakePortal)) {
	p.mu.Lock()
	fn(p)
	p.mu.Unlock()
}

// memRepo is an in-memory doorlock.Repository.
type memRepo struct {
	mu      sync.Mutex
	records map[string]doorlock.Record
}

func newMemRepo() *memRepo {
	return &memRepo{records: make(map[string]doorlock.Record)}
}

func (r *memRepo) List(context.Context) ([]doorlock.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]doorlock.Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}
	return out, nil
}

func (r *memRepo) Upsert(_ context.Context, rec doorlock.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[rec.ID] = rec
	return nil
}

func (r *memRepo) DeleteByEntry(_ context.Context, entryID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, rec := range r.records {
		if rec.EntryID == entryID {
			delete(r.records, id)
		}
	}
	return nil
}

type recordingAudit struct {
	mu   sync.Mutex
	logs []audit.AuditLog
}

func (a *recordingAudit) Create(_ context.Context, log *audit.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, *log)
	return nil
}

func (a *recordingAudit) all() []audit.AuditLog {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]audit.AuditLog(nil), a.logs...)
}

type recordingMetrics struct {
	mu       sync.Mutex
	commands []string
	buzzes   int
	states   map[string]int
}

func (m *recordingMetrics) ObserveCommand(command, source, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commands = append(m.commands, command+"/"+source+"/"+outcome)
}

func (m *recordingMetrics) ObserveBuzz() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buzzes++
}

func (m *recordingMetrics) SetLockStates(counts map[string]int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states = counts
}

type recordingTelemetry struct {
	mu     sync.Mutex
	events []influxdb.LockEvent
	buzzes []string
}

func (r *recordingTelemetry) WriteLockEvent(ev influxdb.LockEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingTelemetry) WriteBuzzEvent(entryID string, _ time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buzzes = append(r.buzzes, entryID)
}

type testBridge struct {
	*Bridge
	mqtt      *MockMQTTClient
	audit     *recordingAudit
	metrics   *recordingMetrics
	telemetry *recordingTelemetry
}

func newTestBridge(t *testing.T) *testBridge {
	t.Helper()
	tb := &testBridge{
		mqtt:      NewMockMQTTClient(),
		audit:     &recordingAudit{},
		metrics:   &recordingMetrics{},
		telemetry: &recordingTelemetry{},
	}

	b, err := NewBridge(BridgeOptions{
		BridgeID:   "aptus-test",
		Version:    "test",
		MQTTClient: tb.mqtt,
		Registry:   doorlock.NewRegistry(newMemRepo(), time.Minute),
		Audit:      tb.audit,
		Telemetry:  tb.telemetry,
		Metrics:    tb.metrics,
	})
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}
	tb.Bridge = b
	t.Cleanup(b.Stop)
	return tb
}

// withPortal registers a portal for entry "e1" listing doors 12 and 7.
func (tb *testBridge) withPortal(t *testing.T) *fakePortal {
	t.Helper()
	p := newFakePortal(
		portal.Lock{ID: 12, Name: "Main entrance (Building A)", RawID: "entranceDoor_12"},
		portal.Lock{ID: 7, Name: "Bike room", RawID: "entranceDoor_7"},
	)
	if _, err := tb.AddPortal(context.Background(), "e1", p); err != nil {
		t.Fatalf("AddPortal() error = %v", err)
	}
	tb.mqtt.ClearPublished()
	return p
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	return b
}
