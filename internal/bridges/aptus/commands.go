package aptus

import (
	"context"
	"fmt"
	"slices"
	"time"

	portal "github.com/nerrad567/aptus-home/internal/aptus"
	"github.com/nerrad567/aptus-home/internal/audit"
	"github.com/nerrad567/aptus-home/internal/doorlock"
	"github.com/nerrad567/aptus-home/internal/infrastructure/influxdb"
)

// Unlock releases an entrance door. The door reads unlocked until its unlock
// window passes.
func (b *Bridge) Unlock(ctx context.Context, entityID string, origin Origin) (portal.Result, error) {
	rec := commandRecord{action: audit.ActionUnlock, entityType: audit.EntityLock, entityID: entityID, origin: origin}

	e, err := b.registry.Get(entityID)
	if err != nil {
		rec.err = err
		b.record(ctx, rec)
		return nil, err
	}
	rec.entryID = e.EntryID()

	_, p, err := b.resolvePortal(e.EntryID())
	if err != nil {
		rec.err = err
		b.record(ctx, rec)
		return nil, err
	}

	start := time.Now()
	result, err := e.Unlock(ctx, p)
	rec.latency = time.Since(start)
	rec.err = err
	b.record(ctx, rec)
	if err != nil {
		b.portalErrors.Add(1)
		return nil, err
	}

	b.publishState(e)
	b.updateLockMetrics()
	b.logInfo("door unlocked", "entity_id", entityID, "source", origin.Source)
	return result, nil
}

// Lock fails for entrance doors, which relock by themselves. The attempt is
// still recorded.
func (b *Bridge) Lock(ctx context.Context, entityID string, origin Origin) error {
	rec := commandRecord{action: audit.ActionLock, entityType: audit.EntityLock, entityID: entityID, origin: origin}

	e, err := b.registry.Get(entityID)
	if err == nil {
		rec.entryID = e.EntryID()
		err = e.Lock(ctx)
	}
	rec.err = err
	b.record(ctx, rec)
	return err
}

// DoormanStatus reads the apartment lock of an entry. An empty entryID
// selects the only connected portal.
func (b *Bridge) DoormanStatus(ctx context.Context, entryID string) (portal.Result, error) {
	_, p, err := b.resolvePortal(entryID)
	if err != nil {
		return nil, err
	}
	result, err := p.DoormanLockStatus(ctx)
	if err != nil {
		b.portalErrors.Add(1)
		return nil, err
	}
	return result, nil
}

// LockDoorman locks the apartment lock of an entry.
func (b *Bridge) LockDoorman(ctx context.Context, entryID string, origin Origin) (portal.Result, error) {
	return b.doorman(ctx, audit.ActionDoormanLock, entryID, origin, func(p Portal) (portal.Result, error) {
		return p.LockDoorman(ctx)
	})
}

// UnlockDoorman unlocks the apartment lock of an entry with the user's code.
// The code is never logged or recorded.
func (b *Bridge) UnlockDoorman(ctx context.Context, entryID, code string, origin Origin) (portal.Result, error) {
	if code == "" {
		b.record(ctx, commandRecord{action: audit.ActionDoormanUnlock, entityType: audit.EntityDoorman,
			entityID: entryID, entryID: entryID, origin: origin, err: ErrMissingCode})
		return nil, ErrMissingCode
	}
	return b.doorman(ctx, audit.ActionDoormanUnlock, entryID, origin, func(p Portal) (portal.Result, error) {
		return p.UnlockDoorman(ctx, code)
	})
}

func (b *Bridge) doorman(ctx context.Context, action, entryID string, origin Origin,
	call func(Portal) (portal.Result, error),
) (portal.Result, error) {
	rec := commandRecord{action: action, entityType: audit.EntityDoorman, entityID: entryID, entryID: entryID, origin: origin}

	id, p, err := b.resolvePortal(entryID)
	if err != nil {
		rec.err = err
		b.record(ctx, rec)
		return nil, err
	}
	rec.entityID, rec.entryID = id, id

	start := time.Now()
	result, err := call(p)
	rec.latency = time.Since(start)
	rec.err = err
	b.record(ctx, rec)
	if err != nil {
		b.portalErrors.Add(1)
		return nil, err
	}
	return result, nil
}

// Discover lists the doors of one entry, or of every entry when entryID is
// empty, and reconciles the registry with them. Changed doors and the
// discovery list are republished.
func (b *Bridge) Discover(ctx context.Context, entryID string) (doorlock.SyncResult, error) {
	var entries map[string]Portal
	if entryID == "" {
		entries = b.portalSnapshot()
	} else {
		id, p, err := b.resolvePortal(entryID)
		if err != nil {
			return doorlock.SyncResult{}, err
		}
		entries = map[string]Portal{id: p}
	}

	ids := make([]string, 0, len(entries))
	for id := range entries {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	var (
		total    doorlock.SyncResult
		firstErr error
	)
	for _, id := range ids {
		locks, err := entries[id].ListEntranceDoors(ctx)
		if err != nil {
			b.portalErrors.Add(1)
			b.logWarn("door discovery failed", "entry_id", id, "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("listing doors of %s: %w", id, err)
			}
			continue
		}

		res, err := b.registry.Sync(ctx, id, locks)
		mergeSync(&total, res)
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("syncing doors of %s: %w", id, err)
		}
	}

	if total.Changed() {
		now := b.clock()
		for _, group := range [][]string{total.Added, total.Renamed, total.Restored, total.Unavailable} {
			for _, id := range group {
				if e, err := b.registry.Get(id); err == nil {
					e.Update(now)
					b.publishState(e)
				}
			}
		}
		b.publishDiscovery()
		b.updateLockMetrics()
	}

	return total, firstErr
}

func mergeSync(dst *doorlock.SyncResult, src doorlock.SyncResult) {
	dst.Added = append(dst.Added, src.Added...)
	dst.Renamed = append(dst.Renamed, src.Renamed...)
	dst.Restored = append(dst.Restored, src.Restored...)
	dst.Unavailable = append(dst.Unavailable, src.Unavailable...)
}

type commandRecord struct {
	action     string
	entityType string
	entityID   string
	entryID    string
	origin     Origin
	latency    time.Duration
	err        error
}

// record feeds a command outcome to the counters, metrics, telemetry and
// audit trail.
func (b *Bridge) record(ctx context.Context, r commandRecord) {
	b.commandsReceived.Add(1)

	outcome := audit.OutcomeSuccess
	if r.err != nil {
		outcome = audit.OutcomeFailure
		b.commandsFailed.Add(1)
		b.logWarn("command failed",
			"command", r.action, "entity_id", r.entityID, "source", r.origin.Source, "error", r.err)
	}

	if b.metrics != nil {
		b.metrics.ObserveCommand(r.action, r.origin.Source, outcome)
	}

	if b.telemetry != nil {
		b.telemetry.WriteLockEvent(influxdb.LockEvent{
			EntityID: r.entityID,
			EntryID:  r.entryID,
			Command:  r.action,
			Source:   r.origin.Source,
			Success:  r.err == nil,
			Latency:  r.latency,
			Time:     b.clock(),
		})
	}

	if b.audit == nil {
		return
	}

	details := map[string]any{}
	if r.entryID != "" {
		details["entry_id"] = r.entryID
	}
	if r.err != nil {
		details["error"] = r.err.Error()
		details["code"] = ErrorCode(r.err)
	}
	if r.latency > 0 {
		details["latency_ms"] = r.latency.Milliseconds()
	}

	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
	defer cancel()

	log := &audit.AuditLog{
		Action:     r.action,
		EntityType: r.entityType,
		EntityID:   r.entityID,
		UserID:     r.origin.UserID,
		Source:     r.origin.Source,
		Outcome:    outcome,
		Details:    details,
	}
	if err := b.audit.Create(auditCtx, log); err != nil {
		b.logError("failed to write audit log", err, "command", r.action)
	}
}
