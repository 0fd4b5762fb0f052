package setup

import (
	"context"
	"sync"
	"testing"

	"github.com/nerrad567/aptus-home/internal/infrastructure/database"
	_ "github.com/nerrad567/aptus-home/migrations"
)

func openTestDB(t *testing.T) *database.DB {
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
	return db
}

// fakeClient records login and logout calls.
type fakeClient struct {
	mu        sync.Mutex
	entry     Entry
	loginErr  error
	logoutErr error
	logins    int
	logouts   int
}

func (c *fakeClient) Login(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logins++
	return c.loginErr
}

func (c *fakeClient) Logout(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logouts++
	return c.logoutErr
}

type recordingLogger struct {
	mu     sync.Mutex
	errors []string
}

func (l *recordingLogger) Debug(string, ...any) {}
func (l *recordingLogger) Warn(string, ...any)  {}
func (l *recordingLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	l.errors = append(l.errors, msg)
	l.mu.Unlock()
}
