// Package database provides SQLite connectivity for the Aptus Home bridge.
//
// This package manages:
//   - Database connection with WAL mode for concurrent access
//   - Embedded, versioned schema migrations
//   - Connection lifecycle
//
// Security Considerations:
//   - All queries use parameterised statements
//   - The database file is chmod 0600: it stores portal credentials
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Migrations are additive: new columns must be nullable or have defaults, and
// every .up.sql ships with a .down.sql.
package database
