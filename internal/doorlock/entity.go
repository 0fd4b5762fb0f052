package doorlock

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/nerrad567/aptus-home/internal/aptus"
)

// DefaultUnlockDuration is how long an entrance door stays released.
const DefaultUnlockDuration = 5 * time.Second

const uniqueIDPrefix = "aptus_lock_"

// UniqueID returns the entity id of a portal door.
func UniqueID(portalLockID int) string {
	return uniqueIDPrefix + strconv.Itoa(portalLockID)
}

// Unlocker releases an entrance door on the portal.
type Unlocker interface {
	UnlockEntranceDoor(ctx context.Context, lockID int) (aptus.Result, error)
}

// State is a point-in-time view of an entity.
type State struct {
	ID             string     `json:"id"`
	EntryID        string     `json:"entry_id"`
	LockID         int        `json:"lock_id"`
	Name           string     `json:"name"`
	Available      bool       `json:"available"`
	Locked         *bool      `json:"locked"`
	UnlockedAt     *time.Time `json:"unlocked_at,omitempty"`
	UnlockDuration float64    `json:"unlock_duration_seconds"`
}

// Entity is one entrance door.
//
// Thread Safety: all methods are safe for concurrent use.
type Entity struct {
	id      string
	entryID string
	lockID  int
	rawID   string
	window  time.Duration
	clock   func() time.Time

	mu         sync.RWMutex
	name       string
	available  bool
	locked     *bool
	unlockedAt time.Time
}

// NewEntity creates an available entity for a door of the given entry.
// A non-positive window means DefaultUnlockDuration.
func NewEntity(entryID string, lock aptus.Lock, window time.Duration) *Entity {
	if window <= 0 {
		window = DefaultUnlockDuration
	}
	return &Entity{
		id:        UniqueID(lock.ID),
		entryID:   entryID,
		lockID:    lock.ID,
		rawID:     lock.RawID,
		name:      lock.Name,
		available: true,
		window:    window,
		clock:     time.Now,
	}
}

// ID returns the unique id, aptus_lock_<portal id>.
func (e *Entity) ID() string { return e.id }

// EntryID returns the config entry that owns the door.
func (e *Entity) EntryID() string { return e.entryID }

// LockID returns the portal's numeric door id.
func (e *Entity) LockID() int { return e.lockID }

// Name returns the display name.
func (e *Entity) Name() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.name
}

// Available reports whether the door is still listed on the portal.
func (e *Entity) Available() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.available
}

// IsLocked returns the derived lock state, nil while unknown.
func (e *Entity) IsLocked() *bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return copyBool(e.locked)
}

// State returns a snapshot of the entity.
func (e *Entity) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()

	s := State{
		ID:             e.id,
		EntryID:        e.entryID,
		LockID:         e.lockID,
		Name:           e.name,
		Available:      e.available,
		Locked:         copyBool(e.locked),
		UnlockDuration: e.window.Seconds(),
	}
	if !e.unlockedAt.IsZero() {
		t := e.unlockedAt
		s.UnlockedAt = &t
	}
	return s
}

// Unlock releases the door through u. On success the entity reads as
// unlocked until the window passes; on failure its state is unchanged.
func (e *Entity) Unlock(ctx context.Context, u Unlocker) (aptus.Result, error) {
	if !e.Available() {
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, e.id)
	}

	result, err := u.UnlockEntranceDoor(ctx, e.lockID)
	if err != nil {
		return nil, fmt.Errorf("unlocking %s: %w", e.id, err)
	}

	unlocked := false
	e.mu.Lock()
	e.unlockedAt = e.clock()
	e.locked = &unlocked
	e.mu.Unlock()

	return result, nil
}

// Lock always fails with ErrNotSupported and leaves the state alone.
func (e *Entity) Lock(context.Context) error {
	return fmt.Errorf("%w: %s", ErrNotSupported, e.id)
}

// Update re-derives the lock state at now and reports whether it changed.
func (e *Entity) Update(now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	locked := true
	if !e.unlockedAt.IsZero() {
		if now.Sub(e.unlockedAt) < e.window {
			locked = false
		} else {
			e.unlockedAt = time.Time{}
		}
	}

	changed := e.locked == nil || *e.locked != locked
	e.locked = &locked
	return changed
}

func (e *Entity) setName(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.name == name {
		return false
	}
	e.name = name
	return true
}

func (e *Entity) setAvailable(available bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.available == available {
		return false
	}
	e.available = available
	return true
}

func (e *Entity) record() Record {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Record{
		ID:        e.id,
		EntryID:   e.entryID,
		LockID:    e.lockID,
		Name:      e.name,
		RawID:     e.rawID,
		Available: e.available,
	}
}

func copyBool(b *bool) *bool {
	if b == nil {
		return nil
	}
	v := *b
	return &v
}
