package container

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func openAt(t *testing.T, path string, settings Settings) *Manager {
	t.Helper()
	mgr := New(path, settings)
	if err := mgr.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		_ = mgr.Close()
	})
	return mgr
}

func TestCreateWritesMarkerAndVersion(t *testing.T) {
	ctx := context.Background()
	mgr := openAt(t, filepath.Join(t.TempDir(), "new.wbtn"), Settings{})

	if mgr.Existed() {
		t.Fatal("fresh container reports prior content")
	}
	id, err := mgr.ApplicationIDValue(ctx)
	if err != nil {
		t.Fatalf("ApplicationIDValue: %v", err)
	}
	if id != ApplicationID {
		t.Fatalf("application id = %#x, want %#x", id, ApplicationID)
	}
	version, err := mgr.Version(ctx)
	if err != nil {
		t.Fatalf("Version: %v", err)
	}
	if version != SchemaVersion {
		t.Fatalf("version = %d, want %d", version, SchemaVersion)
	}
}

func TestReopenRecognizesContainer(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "c.wbtn")

	mgr := New(path, Settings{})
	if err := mgr.Open(ctx); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := mgr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	again := openAt(t, path, Settings{Mode: ModeMustExist})
	if !again.Existed() {
		t.Fatal("reopened container reports no prior content")
	}
}

func TestOpenRejectsForeignDatabase(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "foreign.db")

	// A plain SQLite database has application_id 0.
	foreign := New(path, Settings{BypassIntegrityCheck: true})
	if err := foreign.Open(ctx); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := foreign.Exec(ctx, "PRAGMA application_id=0"); err != nil {
		t.Fatalf("reset marker: %v", err)
	}
	if err := foreign.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	mgr := New(path, Settings{Mode: ModeMustExist})
	if err := mgr.Open(ctx); !errors.Is(err, ErrSchema) {
		t.Fatalf("Open = %v, want ErrSchema", err)
	}
}

func TestOpenRejectsWrongMarker(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "other.db")

	other := New(path, Settings{BypassIntegrityCheck: true})
	if err := other.Open(ctx); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := other.Exec(ctx, "PRAGMA application_id=12345"); err != nil {
		t.Fatalf("set marker: %v", err)
	}
	if err := other.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	mgr := New(path, Settings{Mode: ModeMustExist})
	if err := mgr.Open(ctx); !errors.Is(err, ErrSchema) {
		t.Fatalf("Open = %v, want ErrSchema", err)
	}
}

func TestZeroVersionUpgradesOnWritableOpen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "zero.wbtn")

	seed := New(path, Settings{BypassIntegrityCheck: true})
	if err := seed.Open(ctx); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := seed.Exec(ctx, "PRAGMA user_version=0"); err != nil {
		t.Fatalf("zero version: %v", err)
	}
	if err := seed.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	mgr := openAt(t, path, Settings{Mode: ModeMustExist})
	version, err := mgr.Version(ctx)
	if err != nil {
		t.Fatalf("Version: %v", err)
	}
	if version != SchemaVersion {
		t.Fatalf("version after upgrade = %d, want %d", version, SchemaVersion)
	}
}

func TestFutureMajorRejectedWithoutOverride(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "future.wbtn")

	futureVersion := (SchemaVersion/1000 + 1) * 1000

	seed := New(path, Settings{})
	if err := seed.Open(ctx); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := seed.SetVersion(ctx, futureVersion); err != nil {
		t.Fatalf("SetVersion: %v", err)
	}
	if err := seed.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	mgr := New(path, Settings{Mode: ModeMustExist})
	if err := mgr.Open(ctx); !errors.Is(err, ErrSchema) {
		t.Fatalf("Open = %v, want ErrSchema", err)
	}

	t.Setenv(EnvForceOpenFutureFormat, "1")
	forced := openAt(t, path, Settings{Mode: ModeReadOnly})
	if forced.ReadOnly() != true {
		t.Fatal("forced open lost read-only mode")
	}
	if err := forced.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// A writable forced open must not touch the stored future version.
	writable := openAt(t, path, Settings{Mode: ModeMustExist})
	version, err := writable.Version(ctx)
	if err != nil {
		t.Fatalf("Version: %v", err)
	}
	if version != futureVersion {
		t.Fatalf("version after forced writable open = %d, want %d", version, futureVersion)
	}
}

func TestOverrideValueZeroStaysInactive(t *testing.T) {
	t.Setenv(EnvForceOpenFutureFormat, "0")
	if envOverride(EnvForceOpenFutureFormat) {
		t.Fatal("override active for value 0")
	}
	t.Setenv(EnvForceOpenFutureFormat, "true")
	if !envOverride(EnvForceOpenFutureFormat) {
		t.Fatal("override inactive for a set value")
	}
}

func TestSetVersionRefusesDowngrade(t *testing.T) {
	ctx := context.Background()
	mgr := openAt(t, filepath.Join(t.TempDir(), "d.wbtn"), Settings{})

	if err := mgr.SetVersion(ctx, SchemaVersion-1); !errors.Is(err, ErrSchema) {
		t.Fatalf("SetVersion = %v, want ErrSchema", err)
	}
	if err := mgr.SetVersion(ctx, SchemaVersion+1); err != nil {
		t.Fatalf("upgrade SetVersion: %v", err)
	}
}

func TestReadOnlyRefusesWrites(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ro.wbtn")

	seed := New(path, Settings{})
	if err := seed.Open(ctx); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := seed.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	mgr := openAt(t, path, Settings{Mode: ModeReadOnly})
	if _, err := mgr.Exec(ctx, "INSERT INTO Episode (added_at) VALUES (1)"); !errors.Is(err, ErrReadOnly) {
		t.Fatalf("Exec = %v, want ErrReadOnly", err)
	}
	if err := mgr.SetVersion(ctx, SchemaVersion+1); !errors.Is(err, ErrReadOnly) {
		t.Fatalf("SetVersion = %v, want ErrReadOnly", err)
	}
}

func TestReadOnlyRequiresExisting(t *testing.T) {
	mgr := New(filepath.Join(t.TempDir(), "missing.wbtn"), Settings{Mode: ModeReadOnly})
	if err := mgr.Open(context.Background()); err == nil {
		_ = mgr.Close()
		t.Fatal("read-only open of a missing file succeeded")
	}
}

func TestClobberDiscardsContents(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "clobber.wbtn")

	seed := New(path, Settings{})
	if err := seed.Open(ctx); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := seed.Exec(ctx, "INSERT INTO Episode (added_at) VALUES (1)"); err != nil {
		t.Fatalf("seed row: %v", err)
	}
	if err := seed.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	mgr := openAt(t, path, Settings{Mode: ModeClobber})
	if mgr.Existed() {
		t.Fatal("clobbered container reports prior content")
	}
	row, err := mgr.QueryRow(ctx, "SELECT count() FROM Episode")
	if err != nil {
		t.Fatalf("QueryRow: %v", err)
	}
	var count int
	if err := row.Scan(&count); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if count != 0 {
		t.Fatalf("episode count after clobber = %d, want 0", count)
	}
}

func TestInMemoryModeRules(t *testing.T) {
	ctx := context.Background()

	for _, mode := range []Mode{ModeReadOnly, ModeMustExist, ModeClobber} {
		mgr := New(":memory:", Settings{Mode: mode})
		if err := mgr.Open(ctx); !errors.Is(err, ErrOpen) {
			_ = mgr.Close()
			t.Fatalf("mode %d: Open = %v, want ErrOpen", mode, err)
		}
	}

	if err := New(":memory:", Settings{JournalMode: "wal"}).Open(ctx); !errors.Is(err, ErrOpen) {
		t.Fatalf("wal in-memory Open = %v, want ErrOpen", err)
	}

	mgr := New(":memory:", Settings{JournalMode: "memory"})
	if err := mgr.Open(ctx); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer mgr.Close()
	if !mgr.InMemory() {
		t.Fatal("in-memory container not reported as such")
	}
}

func TestInvalidJournalMode(t *testing.T) {
	mgr := New(filepath.Join(t.TempDir(), "j.wbtn"), Settings{JournalMode: "bogus"})
	if err := mgr.Open(context.Background()); !errors.Is(err, ErrOpen) {
		t.Fatalf("Open = %v, want ErrOpen", err)
	}
}

func TestOpenAndCloseAreIdempotent(t *testing.T) {
	ctx := context.Background()
	mgr := New(filepath.Join(t.TempDir(), "i.wbtn"), Settings{})

	if err := mgr.Open(ctx); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := mgr.Open(ctx); err != nil {
		t.Fatalf("second Open: %v", err)
	}
	if err := mgr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := mgr.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := mgr.Query(ctx, "SELECT 1"); !errors.Is(err, ErrClosed) {
		t.Fatalf("Query after Close = %v, want ErrClosed", err)
	}
}

func TestBaselineInfoSeeded(t *testing.T) {
	ctx := context.Background()
	mgr := openAt(t, filepath.Join(t.TempDir(), "b.wbtn"), Settings{})

	row, err := mgr.QueryRow(ctx, "SELECT value FROM Info WHERE name = 'sys_agent'")
	if err != nil {
		t.Fatalf("QueryRow: %v", err)
	}
	var agent string
	if err := row.Scan(&agent); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if agent != "wbtn-go" {
		t.Fatalf("sys_agent = %q, want wbtn-go", agent)
	}
}

func TestMigrateCopiesContents(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	mgr := openAt(t, filepath.Join(dir, "src.wbtn"), Settings{})

	if _, err := mgr.Exec(ctx, "INSERT INTO Episode (added_at) VALUES (1)"); err != nil {
		t.Fatalf("seed row: %v", err)
	}

	newPath := filepath.Join(dir, "dst.wbtn")
	migrated, err := mgr.Migrate(ctx, newPath)
	if err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	defer migrated.Close()

	if _, err := os.Stat(newPath); err != nil {
		t.Fatalf("migrated file missing: %v", err)
	}
	row, err := migrated.QueryRow(ctx, "SELECT count() FROM Episode")
	if err != nil {
		t.Fatalf("QueryRow: %v", err)
	}
	var count int
	if err := row.Scan(&count); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if count != 1 {
		t.Fatalf("migrated episode count = %d, want 1", count)
	}
}
