// Package database provides SQLite connectivity for the shellylink event
// journal.
//
// It handles:
//   - opening the database with WAL mode and a busy timeout
//   - versioned schema migrations read from any fs.FS
//   - health checks for the API
//
// Usage:
//
//	db, err := database.Open(ctx, cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql with a
// matching .down.sql. New columns must be NULLABLE or carry a DEFAULT.
package database
