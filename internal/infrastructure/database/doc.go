// Package database provides the SQLite connection behind the agent's
// persistent device registry, group registry and command queue.
//
// Security Considerations:
//   - All queries use parameterised statements
//   - Database file permissions are set to 0600 (owner read/write only)
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migrations are additive: each file has both .up.sql and .down.sql, and
// the version is the YYYYMMDD_HHMMSS filename prefix.
package database
