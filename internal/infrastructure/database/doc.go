// Package database provides the SQLite handle behind the relay's event
// journal.
//
// This package manages:
//   - Opening the database file with WAL mode and a busy timeout
//   - A single-connection pool (one writer)
//   - Schema migrations loaded from an fs.FS
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql with an
// optional matching .down.sql. Each migration runs in its own transaction
// and is recorded in schema_migrations.
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Journal.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if _, err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// The database file is created with mode 0600. Message text and payloads
// are never stored.
package database
