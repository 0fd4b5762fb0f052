package doorlock

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/nerrad567/aptus-home/internal/aptus"
)

// Logger is the subset of logging.Logger the registry uses.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any) {}
func (noopLogger) Warn(string, ...any) {}

// SyncResult lists the entity ids a Sync touched.
type SyncResult struct {
	Added       []string `json:"added"`
	Renamed     []string `json:"renamed"`
	Restored    []string `json:"restored"`
	Unavailable []string `json:"unavailable"`
}

// Changed reports whether the sync changed anything.
func (s SyncResult) Changed() bool {
	return len(s.Added)+len(s.Renamed)+len(s.Restored)+len(s.Unavailable) > 0
}

// Registry holds the lock entities of all entries.
//
// Thread Safety: all methods are safe for concurrent use.
type Registry struct {
	repo   Repository
	window time.Duration
	logger Logger

	mu       sync.RWMutex
	entities map[string]*Entity
}

// NewRegistry creates an empty registry. window is the unlock window given
// to every entity.
func NewRegistry(repo Repository, window time.Duration) *Registry {
	return &Registry{
		repo:     repo,
		window:   window,
		logger:   noopLogger{},
		entities: make(map[string]*Entity),
	}
}

// SetLogger sets the registry logger.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// Load replaces the registry contents with the stored locks. Loaded entities
// have unknown lock state.
func (r *Registry) Load(ctx context.Context) error {
	records, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading locks: %w", err)
	}

	entities := make(map[string]*Entity, len(records))
	for _, rec := range records {
		e := NewEntity(rec.EntryID, aptus.Lock{ID: rec.LockID, Name: rec.Name, RawID: rec.RawID}, r.window)
		e.available = rec.Available
		entities[e.id] = e
	}

	r.mu.Lock()
	r.entities = entities
	r.mu.Unlock()

	r.logger.Info("lock registry loaded", "count", len(entities))
	return nil
}

// Sync reconciles the entities of one entry with the doors the portal lists:
// new doors are added, renamed doors renamed, and doors that disappeared are
// kept but flagged unavailable. A door id already owned by another entry is
// skipped.
func (r *Registry) Sync(ctx context.Context, entryID string, locks []aptus.Lock) (SyncResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var (
		result SyncResult
		dirty  []*Entity
		seen   = make(map[string]bool, len(locks))
	)

	for _, lock := range locks {
		id := UniqueID(lock.ID)
		e, ok := r.entities[id]
		switch {
		case !ok:
			e = NewEntity(entryID, lock, r.window)
			r.entities[id] = e
			result.Added = append(result.Added, id)
			dirty = append(dirty, e)

		case e.entryID != entryID:
			r.logger.Warn("door id already belongs to another entry, skipping",
				"lock_id", id, "entry_id", entryID, "owner_entry_id", e.entryID)
			continue

		default:
			renamed := e.setName(lock.Name)
			restored := e.setAvailable(true)
			if renamed {
				result.Renamed = append(result.Renamed, id)
			}
			if restored {
				result.Restored = append(result.Restored, id)
			}
			if renamed || restored {
				dirty = append(dirty, e)
			}
		}
		seen[id] = true
	}

	for id, e := range r.entities {
		if e.entryID != entryID || seen[id] {
			continue
		}
		if e.setAvailable(false) {
			result.Unavailable = append(result.Unavailable, id)
			dirty = append(dirty, e)
		}
	}
	slices.Sort(result.Unavailable)

	for _, e := range dirty {
		if err := r.repo.Upsert(ctx, e.record()); err != nil {
			return result, fmt.Errorf("persisting %s: %w", e.id, err)
		}
	}

	if result.Changed() {
		r.logger.Info("locks synchronised",
			"entry_id", entryID,
			"added", len(result.Added),
			"renamed", len(result.Renamed),
			"restored", len(result.Restored),
			"unavailable", len(result.Unavailable))
	}
	return result, nil
}

// RemoveEntry drops the entities of an entry, in memory and in storage.
func (r *Registry) RemoveEntry(ctx context.Context, entryID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.repo.DeleteByEntry(ctx, entryID); err != nil {
		return err
	}
	for id, e := range r.entities {
		if e.entryID == entryID {
			delete(r.entities, id)
		}
	}
	return nil
}

// Get returns the entity with the given unique id.
func (r *Registry) Get(id string) (*Entity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entities[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLockNotFound, id)
	}
	return e, nil
}

// List returns all entities ordered by portal door id.
func (r *Registry) List() []*Entity {
	return r.filter(func(*Entity) bool { return true })
}

// ListByEntry returns the entities of one entry ordered by portal door id.
func (r *Registry) ListByEntry(entryID string) []*Entity {
	return r.filter(func(e *Entity) bool { return e.entryID == entryID })
}

// Count returns the number of entities.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entities)
}

// Tick updates every entity at now and returns those whose state changed.
func (r *Registry) Tick(now time.Time) []*Entity {
	var changed []*Entity
	for _, e := range r.List() {
		if e.Update(now) {
			changed = append(changed, e)
		}
	}
	return changed
}

func (r *Registry) filter(keep func(*Entity) bool) []*Entity {
	r.mu.RLock()
	out := make([]*Entity, 0, len(r.entities))
	for _, e := range r.entities {
		if keep(e) {
			out = append(out, e)
		}
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b *Entity) int {
		return cmp.Compare(a.lockID, b.lockID)
	})
	return out
}
