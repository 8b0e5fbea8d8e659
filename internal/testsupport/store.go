// Package testsupport provides shared fixtures for container tests.
package testsupport

import (
	"context"
	"path/filepath"
	"testing"

	"wbtn/internal/container"
)

// MustOpenContainer opens a container manager on a fresh file under a
// per-test temp directory and registers cleanup. It returns the manager and
// the container path.
func MustOpenContainer(t testing.TB, settings container.Settings) (*container.Manager, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.wbtn")
	mgr := container.New(path, settings)
	if err := mgr.Open(context.Background()); err != nil {
		t.Fatalf("container.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = mgr.Close()
	})
	return mgr, path
}

// MustOpenMemory opens an in-memory container manager and registers cleanup.
func MustOpenMemory(t testing.TB, settings container.Settings) *container.Manager {
	t.Helper()

	mgr := container.New(":memory:", settings)
	if err := mgr.Open(context.Background()); err != nil {
		t.Fatalf("container.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = mgr.Close()
	})
	return mgr
}
