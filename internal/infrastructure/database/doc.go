// Package database provides SQLite storage for the event journal.
//
// This package manages:
//   - Database connection with WAL mode so API reads do not block the journal writer
//   - Embedded schema migrations (see the top-level migrations package)
//   - Connection pool settings for a single-writer SQLite file
//
// Security Considerations:
//   - All queries use parameterised statements
//   - Database file permissions are set to 0600 (owner read/write only)
//   - Payloads are stored as received; do not journal topics carrying secrets
//
// Usage:
//
//	db, err := database.Open(database.Config{
//	    Path:        cfg.Database.Path,
//	    WALMode:     cfg.Database.WALMode,
//	    BusyTimeout: cfg.Database.BusyTimeout,
//	})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Multi-statement writes go through InTx. Checkpoint truncates the WAL and
// is called once on shutdown.
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql with a
// matching .down.sql. Migrations are additive: new columns must be
// nullable or carry a default.
package database
