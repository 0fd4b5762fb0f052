package aptus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nerrad567/aptus-home/internal/infrastructure/mqtt"
)

const pollTimeout = 15 * time.Second

// tickLoop re-derives door state so relocks after the unlock window are
// published.
func (b *Bridge) tickLoop(ctx context.Context) {
	defer b.wg.Done()

	ticker := time.NewTicker(b.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.done:
			return
		case <-ticker.C:
			b.tick()
		}
	}
}

func (b *Bridge) tick() {
	changed := b.registry.Tick(b.clock())
	for _, e := range changed {
		b.publishState(e)
	}
	if len(changed) > 0 {
		b.updateLockMetrics()
	}
}

func (b *Bridge) keepaliveLoop(ctx context.Context) {
	defer b.wg.Done()

	ticker := time.NewTicker(b.keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.done:
			return
		case <-ticker.C:
			b.keepalive(b.ctx)
		}
	}
}

// keepalive logs in again on every portal that lost its session, and
// discovers the doors of portals that have none yet.
func (b *Bridge) keepalive(ctx context.Context) {
	for entryID, p := range b.portalSnapshot() {
		if !p.IsLoggedIn() {
			if err := p.Relogin(ctx); err != nil {
				b.portalErrors.Add(1)
				b.logWarn("portal re-login failed", "entry_id", entryID, "error", err)
				continue
			}
			b.logInfo("portal session restored", "entry_id", entryID)
			if err := b.health.PublishNow(); err != nil {
				b.logError("failed to publish health", err)
			}
		}

		if len(b.registry.ListByEntry(entryID)) == 0 {
			if _, err := b.Discover(ctx, entryID); err != nil {
				b.logWarn("door discovery retry failed", "entry_id", entryID, "error", err)
			}
		}
	}
}

func (b *Bridge) callPollLoop(ctx context.Context) {
	defer b.wg.Done()

	ticker := time.NewTicker(b.callPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.done:
			return
		case <-ticker.C:
			b.pollCalls(b.ctx)
		}
	}
}

// pollCalls asks every logged-in portal for an ongoing entrance call and
// publishes a buzz event when an entry's poll payload changes to an active
// call.
func (b *Bridge) pollCalls(ctx context.Context) {
	for entryID, p := range b.portalSnapshot() {
		if !p.IsLoggedIn() {
			continue
		}

		pollCtx, cancel := context.WithTimeout(ctx, pollTimeout)
		result, err := p.PollOngoingCall(pollCtx)
		cancel()
		if err != nil {
			b.portalErrors.Add(1)
			b.logDebug("call poll failed", "entry_id", entryID, "error", err)
			continue
		}

		// Map keys marshal sorted, so equal payloads give equal keys.
		raw, err := json.Marshal(result)
		if err != nil {
			continue
		}
		key := string(raw)

		b.callMu.Lock()
		prev, seen := b.lastCall[entryID]
		b.lastCall[entryID] = key
		b.callMu.Unlock()

		if (seen && prev == key) || !callActive(result) {
			continue
		}
		b.publishBuzz(entryID, result)
	}
}

func (b *Bridge) publishBuzz(entryID string, payload map[string]any) {
	now := b.clock()
	b.buzzEvents.Add(1)
	if b.metrics != nil {
		b.metrics.ObserveBuzz()
	}
	if b.telemetry != nil {
		b.telemetry.WriteBuzzEvent(entryID, now)
	}

	msg := EventMessage{
		Type:      EventBuzz,
		Timestamp: now.UTC(),
		EntryID:   entryID,
		Payload:   payload,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		b.logError("failed to marshal buzz event", err)
		return
	}
	b.publish(mqtt.Topics{}.BridgeEvent(Protocol, EventBuzz), data, false)
	b.logInfo("entrance call", "entry_id", entryID)
}

// callActive reports whether a poll payload carries anything besides empty
// or false values.
func callActive(result map[string]any) bool {
	for _, v := range result {
		switch v := v.(type) {
		case nil:
		case bool:
			if v {
				return true
			}
		case string:
			if v != "" {
				return true
			}
		case float64:
			if v != 0 {
				return true
			}
		case []any:
			if len(v) > 0 {
				return true
			}
		case map[string]any:
			if callActive(v) {
				return true
			}
		default:
			return true
		}
	}
	return false
}
