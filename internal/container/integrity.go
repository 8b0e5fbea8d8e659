package container

import (
	"context"
	"database/sql"
	"fmt"
	"os"
)

// checkApplicationID verifies the magic marker on a pre-existing target. A
// zero marker is ambiguous: the file could be an uninitialized container or
// a foreign SQLite database, and guessing would mask real errors, so it is
// treated as corruption.
func (m *Manager) checkApplicationID(ctx context.Context, db *sql.DB) error {
	if !m.existed {
		return nil
	}
	var id int64
	if err := db.QueryRowContext(ctx, "PRAGMA application_id").Scan(&id); err != nil {
		return fmt.Errorf("read application id: %w", err)
	}
	if id == 0 {
		return fmt.Errorf("%w: application id is not initialized; not a wbtn container", ErrSchema)
	}
	if id != ApplicationID {
		return fmt.Errorf("%w: wrong format (application id %#x)", ErrSchema, id)
	}
	return nil
}

// checkUserVersion enforces the version protocol on a pre-existing target.
// A zero version is recoverable: warn and upgrade on a writable open, warn
// only on read-only. A major-version difference fails unless the matching
// environment override is set.
func (m *Manager) checkUserVersion(ctx context.Context, db *sql.DB) error {
	if !m.existed {
		return nil
	}
	stored, err := readVersion(ctx, db)
	if err != nil {
		return err
	}
	if stored == 0 {
		if m.settings.Mode == ModeReadOnly {
			m.logger.Warn("container schema version is not initialized")
			return nil
		}
		m.logger.Warn("container schema version is not initialized; upgrading to current",
			"version", SchemaVersion)
		if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version=%d", SchemaVersion)); err != nil {
			return fmt.Errorf("write schema version: %w", err)
		}
		return nil
	}

	storedMajor, currentMajor := stored/1000, SchemaVersion/1000
	if storedMajor > currentMajor && !envOverride(EnvForceOpenFutureFormat) {
		return fmt.Errorf(
			"%w: cannot open future format V%d; set %s to force open",
			ErrSchema, stored, EnvForceOpenFutureFormat)
	}
	if storedMajor < currentMajor && !envOverride(EnvForceOpenPastFormat) {
		return fmt.Errorf(
			"%w: cannot open legacy format V%d; set %s to force open",
			ErrSchema, stored, EnvForceOpenPastFormat)
	}
	return nil
}

// advanceVersion moves the stored version up to current. Targets already
// past current (opened under the future-format override) are left alone.
func (m *Manager) advanceVersion(ctx context.Context, db *sql.DB) error {
	stored, err := readVersion(ctx, db)
	if err != nil {
		return err
	}
	if stored >= SchemaVersion {
		return nil
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version=%d", SchemaVersion)); err != nil {
		return fmt.Errorf("write schema version: %w", err)
	}
	return nil
}

// Version reads the stored schema version.
func (m *Manager) Version(ctx context.Context) (int, error) {
	if m.db == nil {
		return 0, ErrClosed
	}
	return readVersion(ctx, m.db)
}

// SetVersion writes the stored schema version. Downgrades always fail,
// overrides notwithstanding.
func (m *Manager) SetVersion(ctx context.Context, version int) error {
	if m.db == nil {
		return ErrClosed
	}
	if m.settings.Mode == ModeReadOnly {
		return fmt.Errorf("%w: refusing to write schema version", ErrReadOnly)
	}
	stored, err := readVersion(ctx, m.db)
	if err != nil {
		return err
	}
	if version < stored {
		return fmt.Errorf("%w: cannot downgrade schema version from %d to %d", ErrSchema, stored, version)
	}
	if _, err := m.db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version=%d", version)); err != nil {
		return fmt.Errorf("write schema version: %w", err)
	}
	return nil
}

// ApplicationIDValue reads the stored magic marker.
func (m *Manager) ApplicationIDValue(ctx context.Context) (int64, error) {
	if m.db == nil {
		return 0, ErrClosed
	}
	var id int64
	if err := m.db.QueryRowContext(ctx, "PRAGMA application_id").Scan(&id); err != nil {
		return 0, fmt.Errorf("read application id: %w", err)
	}
	return id, nil
}

func readVersion(ctx context.Context, db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}

// envOverride reports whether a force-open signal is present: set and not
// "0".
func envOverride(name string) bool {
	value := os.Getenv(name)
	return value != "" && value != "0"
}
