package database

import (
	"database/sql"
	"fmt"
	"log"
)

// getSchemaVersion reads PRAGMA user_version from the database.
func getSchemaVersion(conn *sql.DB) (int, error) {
	var version int
	if err := conn.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return version, nil
}

// migrate brings the database schema up to the latest version, tracked in
// PRAGMA user_version. A database written by a newer build is refused rather
// than read with a schema this build does not know.
func migrate(conn *sql.DB) error {
	current, err := getSchemaVersion(conn)
	if err != nil {
		return err
	}

	latest := latestVersion()
	if current > latest {
		return fmt.Errorf("schema version %d is newer than this build supports (%d)", current, latest)
	}
	if current == latest {
		return nil
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}

		log.Printf("applying migration %d: %s", m.Version, m.Description)

		tx, err := conn.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if err := m.Up(tx); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}

		// Set user_version outside the transaction (modernc/sqlite requirement).
		// Safe: if we crash here, the idempotent DDL lets the migration re-run.
		if _, err := conn.Exec(fmt.Sprintf("PRAGMA user_version = %d", m.Version)); err != nil {
			return fmt.Errorf("setting version %d: %w", m.Version, err)
		}
	}

	return nil
}
