// Package container owns the single SQLite connection behind a wbtn file
// and the integrity protocol guarding it: the application-id magic marker,
// the monotonic schema version, journal-mode validation and the schema
// bootstrap for brand-new containers.
package container

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"slices"

	_ "modernc.org/sqlite"
)

// Version is the wbtn agent version recorded in new containers.
const Version = "0.1.0"

const (
	// ApplicationID is the magic marker in the SQLite header. The hex
	// spells "WBTN"; nothing else (extension, name, structure) decides
	// whether a file is a wbtn container.
	ApplicationID = 0x5742544E
	// SchemaVersion is major*1000+minor. Same-major containers are
	// compatible; a major difference is a format break.
	SchemaVersion = 1000
)

const (
	// EnvForceOpenFutureFormat overrides the newer-major rejection when
	// set to anything other than empty or "0".
	EnvForceOpenFutureFormat = "WBTN_FORCE_OPEN_FUTURE_FORMAT"
	// EnvForceOpenPastFormat overrides the older-major rejection.
	EnvForceOpenPastFormat = "WBTN_FORCE_OPEN_PAST_FORMAT"
)

// JournalModes lists the journal modes a container accepts.
var JournalModes = []string{"delete", "truncate", "persist", "memory", "wal", "off"}

var (
	// ErrOpen marks an invalid open configuration or a failed open.
	ErrOpen = errors.New("open failure")
	// ErrSchema marks a marker/version mismatch or an illegal downgrade.
	ErrSchema = errors.New("schema mismatch")
	// ErrClosed marks use of a connection that is not open.
	ErrClosed = errors.New("connection is closed")
	// ErrReadOnly marks a write attempted on a read-only connection.
	ErrReadOnly = errors.New("connection is read-only")
)

// Mode selects how the target is opened.
type Mode int

const (
	// ModeCreate opens the target, creating it when missing.
	ModeCreate Mode = iota
	// ModeReadOnly opens an existing target without write access.
	ModeReadOnly
	// ModeMustExist opens an existing target read-write and fails when it
	// is missing.
	ModeMustExist
	// ModeClobber discards any existing target and starts fresh.
	ModeClobber
)

// Settings configures one Manager. The zero value opens read-write with
// create-if-missing, SQLite's default journaling and full integrity
// checking.
type Settings struct {
	Mode Mode
	// JournalMode is applied via PRAGMA journal_mode when non-empty.
	// In-memory containers accept only "memory" and "off".
	JournalMode string
	// BypassIntegrityCheck skips the marker and version checks and
	// force-writes the current values. For trusted internal operations
	// only.
	BypassIntegrityCheck bool
	// PragmaOnly skips the table and baseline-info bootstrap. Used when
	// adopting a file whose contents are already known good, such as the
	// output of Migrate.
	PragmaOnly bool
	Logger     *slog.Logger
}

// Manager owns one backing connection. Open when already open and Close
// when already closed are both no-ops.
type Manager struct {
	path     string // empty for in-memory
	inMemory bool
	settings Settings
	logger   *slog.Logger

	db      *sql.DB
	existed bool
}

// New prepares a manager for the given target. The target ":memory:" (or
// an empty path) selects a pure in-memory container.
func New(path string, settings Settings) *Manager {
	logger := settings.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	inMemory := path == "" || path == ":memory:"
	if inMemory {
		path = ""
	}
	return &Manager{path: path, inMemory: inMemory, settings: settings, logger: logger}
}

// Open validates the settings, opens the backing connection, runs the
// integrity checks and bootstraps the schema on a first writable open. Any
// failure closes the partially opened connection before returning.
func (m *Manager) Open(ctx context.Context) error {
	if m.db != nil {
		return nil
	}
	if err := m.validate(); err != nil {
		return err
	}

	dsn, err := m.dsn()
	if err != nil {
		return err
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrOpen, err)
	}
	// One backing connection per manager. This also keeps an in-memory
	// container on a single connection; pooled connections would each see
	// their own private database.
	db.SetMaxOpenConns(1)

	if err := m.configure(ctx, db); err != nil {
		_ = db.Close()
		m.db = nil
		return err
	}
	m.db = db
	return nil
}

// Close releases the backing connection.
func (m *Manager) Close() error {
	if m == nil || m.db == nil {
		return nil
	}
	err := m.db.Close()
	m.db = nil
	return err
}

// InMemory reports whether the target is a pure in-memory container.
func (m *Manager) InMemory() bool { return m.inMemory }

// Existed reports whether the target held prior content when it was opened.
func (m *Manager) Existed() bool { return m.existed }

// Path returns the container file path; empty for in-memory.
func (m *Manager) Path() string { return m.path }

// ReadOnly reports whether the connection rejects writes.
func (m *Manager) ReadOnly() bool { return m.settings.Mode == ModeReadOnly }

// FileDir returns the directory holding the container file, or the process
// working directory for an in-memory container.
func (m *Manager) FileDir() (string, error) {
	if m.inMemory {
		return os.Getwd()
	}
	abs, err := filepath.Abs(m.path)
	if err != nil {
		return "", err
	}
	return filepath.Dir(abs), nil
}

// Exec runs a statement that writes. It fails on a closed or read-only
// connection before touching the store.
func (m *Manager) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if m.db == nil {
		return nil, ErrClosed
	}
	if m.settings.Mode == ModeReadOnly {
		return nil, fmt.Errorf("%w: refusing to execute %q", ErrReadOnly, query)
	}
	return m.db.ExecContext(ctx, query, args...)
}

// Query runs a read statement returning rows.
func (m *Manager) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if m.db == nil {
		return nil, ErrClosed
	}
	return m.db.QueryContext(ctx, query, args...)
}

// QueryRow runs a read statement expected to return at most one row.
func (m *Manager) QueryRow(ctx context.Context, query string, args ...any) (*sql.Row, error) {
	if m.db == nil {
		return nil, ErrClosed
	}
	return m.db.QueryRowContext(ctx, query, args...), nil
}

// Migrate vacuums the container into a fresh file at newPath and returns a
// manager opened on it. The copy is adopted under bypass and pragma-only
// settings: its contents just came out of this container and re-checking
// them would only re-run the bootstrap.
func (m *Manager) Migrate(ctx context.Context, newPath string) (*Manager, error) {
	if _, err := m.Exec(ctx, "VACUUM INTO ?", newPath); err != nil {
		return nil, fmt.Errorf("vacuum into %q: %w", newPath, err)
	}
	settings := m.settings
	settings.Mode = ModeCreate
	settings.BypassIntegrityCheck = true
	settings.PragmaOnly = true
	migrated := New(newPath, settings)
	if err := migrated.Open(ctx); err != nil {
		return nil, err
	}
	migrated.settings.BypassIntegrityCheck = m.settings.BypassIntegrityCheck
	migrated.settings.PragmaOnly = m.settings.PragmaOnly
	return migrated, nil
}

// validate rejects bad mode/journal combinations before any I/O.
func (m *Manager) validate() error {
	if m.settings.JournalMode != "" && !slices.Contains(JournalModes, m.settings.JournalMode) {
		return fmt.Errorf("%w: invalid journal mode %q", ErrOpen, m.settings.JournalMode)
	}
	if !m.inMemory {
		return nil
	}
	if m.settings.Mode != ModeCreate {
		return fmt.Errorf("%w: an in-memory container can only be opened in create mode", ErrOpen)
	}
	if m.settings.JournalMode != "" && m.settings.JournalMode != "memory" && m.settings.JournalMode != "off" {
		return fmt.Errorf("%w: invalid journal mode for in-memory container: %q", ErrOpen, m.settings.JournalMode)
	}
	return nil
}

// dsn builds the driver DSN, records whether the target previously existed
// and applies the clobber mode's removal.
func (m *Manager) dsn() (string, error) {
	if m.inMemory {
		m.existed = false
		return ":memory:", nil
	}
	abs, err := filepath.Abs(m.path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrOpen, err)
	}

	var mode string
	switch m.settings.Mode {
	case ModeReadOnly:
		mode = "ro"
	case ModeMustExist:
		mode = "rw"
	case ModeCreate:
		mode = "rwc"
	case ModeClobber:
		mode = "rwc"
		// Stale sidecar files could resurrect the old contents.
		for _, p := range []string{abs, abs + "-wal", abs + "-shm", abs + "-journal"} {
			if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
				return "", fmt.Errorf("%w: clobber %q: %v", ErrOpen, p, err)
			}
		}
	default:
		return "", fmt.Errorf("%w: invalid mode %d", ErrOpen, m.settings.Mode)
	}

	// A pre-existing, non-empty file counts as existing content; an empty
	// file is treated as a fresh container.
	info, err := os.Stat(abs)
	m.existed = err == nil && info.Size() != 0

	u := url.URL{Scheme: "file", Path: abs, RawQuery: "mode=" + mode}
	return u.String(), nil
}

// configure runs the post-open sequence: integrity checks, marker/version
// writes, journaling, foreign keys and the schema bootstrap.
func (m *Manager) configure(ctx context.Context, db *sql.DB) error {
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrOpen, err)
	}

	if !m.settings.BypassIntegrityCheck {
		if err := m.checkApplicationID(ctx, db); err != nil {
			return err
		}
		if err := m.checkUserVersion(ctx, db); err != nil {
			return err
		}
	}

	if m.settings.Mode == ModeReadOnly {
		return nil
	}

	if !m.existed {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA application_id=%d", ApplicationID)); err != nil {
			return fmt.Errorf("write application id: %w", err)
		}
	}
	if m.settings.BypassIntegrityCheck {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version=%d", SchemaVersion)); err != nil {
			return fmt.Errorf("write schema version: %w", err)
		}
	} else if err := m.advanceVersion(ctx, db); err != nil {
		return err
	}

	if m.settings.JournalMode != "" {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode="+m.settings.JournalMode); err != nil {
			return fmt.Errorf("set journal mode: %w", err)
		}
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		return fmt.Errorf("enable foreign keys: %w", err)
	}

	if m.settings.PragmaOnly {
		return nil
	}
	if err := createTables(ctx, db); err != nil {
		return err
	}
	if !m.existed {
		if err := insertBaselineInfo(ctx, db); err != nil {
			return err
		}
	}
	return nil
}
