package doorlock

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Record is the persisted form of an entity. Lock state is not persisted:
// it is only meaningful for a few seconds.
type Record struct {
	ID        string
	EntryID   string
	LockID    int
	Name      string
	RawID     string
	Available bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Repository persists lock entities.
type Repository interface {
	List(ctx context.Context) ([]Record, error)
	Upsert(ctx context.Context, rec Record) error
	DeleteByEntry(ctx context.Context, entryID string) error
}

// SQLiteRepository implements Repository on the locks table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a lock repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// List returns every stored lock ordered by entry and portal id.
func (r *SQLiteRepository) List(ctx context.Context) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, entry_id, portal_lock_id, name, raw_id, available, created_at, updated_at
		 FROM locks ORDER BY entry_id, portal_lock_id`)
	if err != nil {
		return nil, fmt.Errorf("querying locks: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			rec                  Record
			available            int
			createdAt, updatedAt string
		)
		if err := rows.Scan(&rec.ID, &rec.EntryID, &rec.LockID, &rec.Name, &rec.RawID,
			&available, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning lock: %w", err)
		}
		rec.Available = available != 0
		if rec.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at %q: %w", createdAt, err)
		}
		if rec.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
			return nil, fmt.Errorf("parsing updated_at %q: %w", updatedAt, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating locks: %w", err)
	}
	return records, nil
}

// Upsert inserts a lock or updates its name, raw id and availability.
func (r *SQLiteRepository) Upsert(ctx context.Context, rec Record) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO locks (id, entry_id, portal_lock_id, name, raw_id, available, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		     name = excluded.name,
		     raw_id = excluded.raw_id,
		     available = excluded.available,
		     updated_at = excluded.updated_at`,
		rec.ID, rec.EntryID, rec.LockID, rec.Name, rec.RawID, boolToInt(rec.Available), now, now,
	)
	if err != nil {
		return fmt.Errorf("upserting lock %s: %w", rec.ID, err)
	}
	return nil
}

// DeleteByEntry removes every lock of an entry.
func (r *SQLiteRepository) DeleteByEntry(ctx context.Context, entryID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM locks WHERE entry_id = ?`, entryID); err != nil {
		return fmt.Errorf("deleting locks of entry %s: %w", entryID, err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
