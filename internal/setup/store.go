package setup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
)

// Store persists config entries.
type Store interface {
	Create(ctx context.Context, entry *Entry) error
	Get(ctx context.Context, id string) (*Entry, error)
	GetByHost(ctx context.Context, host string) (*Entry, error)
	List(ctx context.Context) ([]Entry, error)
	Update(ctx context.Context, entry *Entry) error
	Delete(ctx context.Context, id string) error
}

// SQLiteStore implements Store on the portal_entries table.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates an entry store.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

const entryColumns = `id, host, username, password, title, created_at, updated_at`

// Create inserts an entry. Timestamps are set to now.
func (s *SQLiteStore) Create(ctx context.Context, entry *Entry) error {
	now := time.Now().UTC().Truncate(time.Second)
	entry.CreatedAt = now
	entry.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO portal_entries (`+entryColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Host, entry.Username, entry.Password, entry.Title,
		now.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrEntryExists, entry.Host)
		}
		return fmt.Errorf("inserting entry %s: %w", entry.ID, err)
	}
	return nil
}

// Get returns the entry with the given id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM portal_entries WHERE id = ?`, id)
	return scanEntry(row)
}

// GetByHost returns the entry for a normalised portal URL.
func (s *SQLiteStore) GetByHost(ctx context.Context, host string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM portal_entries WHERE host = ?`, host)
	return scanEntry(row)
}

// List returns all entries, oldest first.
func (s *SQLiteStore) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM portal_entries ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("querying entries: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating entries: %w", err)
	}
	return entries, nil
}

// Update replaces an entry's credentials and title.
func (s *SQLiteStore) Update(ctx context.Context, entry *Entry) error {
	now := time.Now().UTC().Truncate(time.Second)

	res, err := s.db.ExecContext(ctx,
		`UPDATE portal_entries SET username = ?, password = ?, title = ?, updated_at = ? WHERE id = ?`,
		entry.Username, entry.Password, entry.Title, now.Format(time.RFC3339), entry.ID,
	)
	if err != nil {
		return fmt.Errorf("updating entry %s: %w", entry.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 { //nolint:errcheck // sqlite3 always reports rows affected
		return ErrEntryNotFound
	}
	entry.UpdatedAt = now
	return nil
}

// Delete removes an entry. Its locks go with it (ON DELETE CASCADE).
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM portal_entries WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting entry %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 { //nolint:errcheck // sqlite3 always reports rows affected
		return ErrEntryNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*Entry, error) {
	var (
		e                    Entry
		createdAt, updatedAt string
	)
	err := row.Scan(&e.ID, &e.Host, &e.Username, &e.Password, &e.Title, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning entry: %w", err)
	}

	if e.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at %q: %w", createdAt, err)
	}
	if e.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at %q: %w", updatedAt, err)
	}
	return &e, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) &&
		(sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey)
}
