package aptus

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	portal "github.com/nerrad567/aptus-home/internal/aptus"
	"github.com/nerrad567/aptus-home/internal/audit"
	"github.com/nerrad567/aptus-home/internal/doorlock"
	"github.com/nerrad567/aptus-home/internal/infrastructure/influxdb"
	"github.com/nerrad567/aptus-home/internal/infrastructure/mqtt"
	"github.com/nerrad567/aptus-home/internal/metrics"
)

const (
	// minTopicParts covers aptushome/{type}/aptus/{id}.
	minTopicParts = 4

	// commandTimeout bounds one portal command including a re-login.
	commandTimeout = 45 * time.Second

	// auditTimeout bounds the audit write that follows a command.
	auditTimeout = 5 * time.Second

	defaultTickInterval      = time.Second
	defaultKeepaliveInterval = 5 * time.Minute
)

// Command sources.
const (
	SourceAPI  = "api"
	SourceMQTT = "mqtt"
)

// Logger is the subset of logging.Logger the bridge uses.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// MQTTClient is the part of the MQTT client the bridge uses.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
}

// Portal is one logged-in Aptus portal account. *aptus.Client satisfies it.
type Portal interface {
	Login(ctx context.Context) error
	Relogin(ctx context.Context) error
	Logout(ctx context.Context) error
	IsLoggedIn() bool
	ListEntranceDoors(ctx context.Context) ([]portal.Lock, error)
	UnlockEntranceDoor(ctx context.Context, lockID int) (portal.Result, error)
	DoormanLockStatus(ctx context.Context) (portal.Result, error)
	LockDoorman(ctx context.Context) (portal.Result, error)
	UnlockDoorman(ctx context.Context, code string) (portal.Result, error)
	PollOngoingCall(ctx context.Context) (portal.Result, error)
}

// AuditRecorder stores command outcomes. Satisfied by *audit.SQLiteRepository.
type AuditRecorder interface {
	Create(ctx context.Context, log *audit.AuditLog) error
}

// Telemetry receives lock and buzz events. Satisfied by *influxdb.Client.
type Telemetry interface {
	WriteLockEvent(ev influxdb.LockEvent)
	WriteBuzzEvent(entryID string, at time.Time)
}

// Metrics receives command counters. Satisfied by *metrics.Collector.
type Metrics interface {
	ObserveCommand(command, source, outcome string)
	ObserveBuzz()
	SetLockStates(counts map[string]int)
}

// Origin identifies who issued a command.
type Origin struct {
	Source string
	UserID string
}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	// BridgeID identifies the bridge in health and discovery messages.
	BridgeID string
	Version  string

	HealthInterval time.Duration

	// CallPollInterval is the entrance call poll period. 0 disables polling.
	CallPollInterval time.Duration

	// KeepaliveInterval is how often lost portal sessions are re-established.
	KeepaliveInterval time.Duration

	MQTTClient MQTTClient
	Registry   *doorlock.Registry
	Logger     Logger

	// Optional sinks.
	Audit     AuditRecorder
	Telemetry Telemetry
	Metrics   Metrics
}

// Bridge connects Aptus portals to the MQTT bus.
//
// It handles:
//   - door and doorman commands from MQTT or the HTTP API
//   - retained door state, including the relock after the unlock window
//   - entrance panel calls, published as buzz events
//   - health reporting and portal session keepalive
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	id                string
	callPollInterval  time.Duration
	keepaliveInterval time.Duration
	tickInterval      time.Duration
	clock             func() time.Time

	mqtt      MQTTClient
	registry  *doorlock.Registry
	health    *HealthReporter
	audit     AuditRecorder
	telemetry Telemetry
	metrics   Metrics

	portals   map[string]Portal
	portalsMu sync.RWMutex

	// lastCall holds the last poll payload per entry.
	lastCall map[string]string
	callMu   sync.Mutex

	commandsReceived atomic.Uint64
	commandsFailed   atomic.Uint64
	buzzEvents       atomic.Uint64
	portalErrors     atomic.Uint64

	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
	stopMu    sync.Mutex
	stopped   bool
	ctx       context.Context
	ctxCancel context.CancelFunc

	logger   Logger
	loggerMu sync.RWMutex
}

// NewBridge creates a bridge. Call Start to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("lock registry is required")
	}
	if opts.BridgeID == "" {
		opts.BridgeID = "aptus-bridge"
	}
	if opts.KeepaliveInterval <= 0 {
		opts.KeepaliveInterval = defaultKeepaliveInterval
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	b := &Bridge{
		id:                opts.BridgeID,
		callPollInterval:  opts.CallPollInterval,
		keepaliveInterval: opts.KeepaliveInterval,
		tickInterval:      defaultTickInterval,
		clock:             time.Now,
		mqtt:              opts.MQTTClient,
		registry:          opts.Registry,
		audit:             opts.Audit,
		telemetry:         opts.Telemetry,
		metrics:           opts.Metrics,
		portals:           make(map[string]Portal),
		lastCall:          make(map[string]string),
		done:              make(chan struct{}),
		ctx:               ctx,
		ctxCancel:         ctxCancel,
		logger:            opts.Logger,
	}

	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:  opts.BridgeID,
		Version:   opts.Version,
		Interval:  opts.HealthInterval,
		Publisher: opts.MQTTClient,
		Source:    b,
	})
	if opts.Logger != nil {
		b.health.SetLogger(opts.Logger)
	}

	return b, nil
}

// SetLogger sets the bridge logger.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()
	b.health.SetLogger(logger)
}

// Start subscribes to commands and requests, publishes the current doors and
// starts the background loops.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	topics := mqtt.Topics{}
	if err := b.mqtt.Subscribe(topics.BridgeCommands(Protocol), 1, b.dispatch); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	if err := b.mqtt.Subscribe(topics.BridgeRequests(Protocol), 1, b.dispatch); err != nil {
		return fmt.Errorf("subscribe to requests: %w", err)
	}

	b.registry.Tick(b.clock())
	b.publishDiscovery()
	for _, e := range b.registry.List() {
		b.publishState(e)
	}
	b.updateLockMetrics()

	b.health.Start(ctx)

	b.wg.Add(2) //nolint:mnd // tick and keepalive loops
	go b.tickLoop(ctx)
	go b.keepaliveLoop(ctx)
	if b.callPollInterval > 0 {
		b.wg.Add(1)
		go b.callPollLoop(ctx)
	}

	if err := b.health.PublishNow(); err != nil {
		b.logError("failed to publish health", err)
	}

	b.logInfo("bridge started",
		"bridge_id", b.id,
		"portals", len(b.PortalStatuses()),
		"locks", b.registry.Count())
	return nil
}

// Stop shuts the bridge down and waits for in-flight commands. Portal
// sessions are left to their owner.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.stopMu.Lock()
		b.stopped = true
		b.stopMu.Unlock()

		close(b.done)
		b.ctxCancel()
		b.health.Stop()
		b.wg.Wait()
		b.logInfo("bridge stopped")
	})
}

// dispatch handles a command or request on its own goroutine. The MQTT
// client delivers messages in order on one goroutine, and a command can spend
// seconds on portal round trips and a re-login.
func (b *Bridge) dispatch(topic string, payload []byte) error {
	b.stopMu.Lock()
	if b.stopped {
		b.stopMu.Unlock()
		return nil
	}
	b.wg.Add(1)
	b.stopMu.Unlock()

	go func() {
		defer b.wg.Done()
		if err := b.handleMQTTMessage(topic, payload); err != nil {
			b.logWarn("dropping MQTT message", "topic", topic, "error", err)
		}
	}()
	return nil
}

// AddPortal registers the portal of a config entry and discovers its doors.
// The portal stays registered when discovery fails; the keepalive loop logs
// in again and retries.
func (b *Bridge) AddPortal(ctx context.Context, entryID string, p Portal) (doorlock.SyncResult, error) {
	b.portalsMu.Lock()
	if _, ok := b.portals[entryID]; ok {
		b.portalsMu.Unlock()
		return doorlock.SyncResult{}, fmt.Errorf("%w: %s", ErrPortalExists, entryID)
	}
	b.portals[entryID] = p
	b.portalsMu.Unlock()

	b.logInfo("portal added", "entry_id", entryID, "logged_in", p.IsLoggedIn())

	res, err := b.Discover(ctx, entryID)
	if err := b.health.PublishNow(); err != nil {
		b.logError("failed to publish health", err)
	}
	return res, err
}

// RemovePortal unregisters an entry, forgets its doors and clears their
// retained state. Logging the portal out is left to the caller.
func (b *Bridge) RemovePortal(ctx context.Context, entryID string) error {
	b.portalsMu.Lock()
	if _, ok := b.portals[entryID]; !ok {
		b.portalsMu.Unlock()
		return fmt.Errorf("%w: %s", ErrNoPortal, entryID)
	}
	delete(b.portals, entryID)
	b.portalsMu.Unlock()

	b.callMu.Lock()
	delete(b.lastCall, entryID)
	b.callMu.Unlock()

	removed := b.registry.ListByEntry(entryID)
	if err := b.registry.RemoveEntry(ctx, entryID); err != nil {
		return fmt.Errorf("removing locks of %s: %w", entryID, err)
	}
	for _, e := range removed {
		b.publish(mqtt.Topics{}.BridgeState(Protocol, e.ID()), nil, true)
	}
	b.publishDiscovery()
	b.updateLockMetrics()

	if err := b.health.PublishNow(); err != nil {
		b.logError("failed to publish health", err)
	}
	b.logInfo("portal removed", "entry_id", entryID, "locks", len(removed))
	return nil
}

// PortalStatuses returns the session state of every portal, by entry id.
func (b *Bridge) PortalStatuses() []PortalStatus {
	b.portalsMu.RLock()
	out := make([]PortalStatus, 0, len(b.portals))
	for id, p := range b.portals {
		out = append(out, PortalStatus{EntryID: id, LoggedIn: p.IsLoggedIn()})
	}
	b.portalsMu.RUnlock()

	slices.SortFunc(out, func(a, b PortalStatus) int { return strings.Compare(a.EntryID, b.EntryID) })
	return out
}

// Stats returns the bridge counters.
func (b *Bridge) Stats() BridgeStatistics {
	return BridgeStatistics{
		CommandsReceived: b.commandsReceived.Load(),
		CommandsFailed:   b.commandsFailed.Load(),
		BuzzEvents:       b.buzzEvents.Load(),
		PortalErrors:     b.portalErrors.Load(),
	}
}

// DeviceCount returns the number of managed doors.
func (b *Bridge) DeviceCount() int {
	return b.registry.Count()
}

// Locks returns a snapshot of every door.
func (b *Bridge) Locks() []doorlock.State {
	entities := b.registry.List()
	out := make([]doorlock.State, 0, len(entities))
	for _, e := range entities {
		out = append(out, e.State())
	}
	return out
}

// LockState returns the state of one door.
func (b *Bridge) LockState(entityID string) (doorlock.State, error) {
	e, err := b.registry.Get(entityID)
	if err != nil {
		return doorlock.State{}, err
	}
	return e.State(), nil
}

// resolvePortal returns the portal of entryID. An empty entryID selects the only
// connected portal.
func (b *Bridge) resolvePortal(entryID string) (string, Portal, error) {
	b.portalsMu.RLock()
	defer b.portalsMu.RUnlock()

	if entryID != "" {
		p, ok := b.portals[entryID]
		if !ok {
			return "", nil, fmt.Errorf("%w: %s", ErrNoPortal, entryID)
		}
		return entryID, p, nil
	}

	switch len(b.portals) {
	case 0:
		return "", nil, ErrNoPortal
	case 1:
		for id, p := range b.portals {
			return id, p, nil
		}
	}
	return "", nil, ErrEntryRequired
}

func (b *Bridge) portalSnapshot() map[string]Portal {
	b.portalsMu.RLock()
	defer b.portalsMu.RUnlock()

	out := make(map[string]Portal, len(b.portals))
	for id, p := range b.portals {
		out[id] = p
	}
	return out
}

func (b *Bridge) publishState(e *doorlock.Entity) {
	payload, err := json.Marshal(NewStateMessage(e.State()))
	if err != nil {
		b.logError("failed to marshal state", err)
		return
	}
	b.publish(mqtt.Topics{}.BridgeState(Protocol, e.ID()), payload, true)
}

func (b *Bridge) publishDiscovery() {
	msg := DiscoveryMessage{
		Timestamp: time.Now().UTC(),
		Bridge:    b.id,
		Devices:   []DiscoveredLock{},
	}
	for _, s := range b.Locks() {
		msg.Devices = append(msg.Devices, discoveredLock(s))
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		b.logError("failed to marshal discovery", err)
		return
	}
	b.publish(mqtt.Topics{}.BridgeDiscovery(Protocol), payload, true)
}

func (b *Bridge) publish(topic string, payload []byte, retained bool) {
	if err := b.mqtt.Publish(topic, payload, 1, retained); err != nil {
		b.logError("failed to publish", err, "topic", topic)
	}
}

func (b *Bridge) updateLockMetrics() {
	if b.metrics == nil {
		return
	}
	counts := map[string]int{}
	for _, s := range b.Locks() {
		counts[metrics.LockState(s.Available, s.Locked)]++
	}
	b.metrics.SetLockStates(counts)
}

func (b *Bridge) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

func (b *Bridge) logInfo(msg string, args ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Info(msg, args...)
	}
}

func (b *Bridge) logWarn(msg string, args ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Warn(msg, args...)
	}
}

func (b *Bridge) logDebug(msg string, args ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Debug(msg, args...)
	}
}

func (b *Bridge) logError(msg string, err error, args ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Error(msg, append([]any{"error", err}, args...)...)
	}
}
