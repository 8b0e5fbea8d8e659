package pathmap

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestStoreAndLoadRoundTrip(t *testing.T) {
	base := t.TempDir()
	m := New(DefaultOptions(), base, nil)

	stored, err := m.Store(filepath.Join("episodes", "001.png"))
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if stored != "episodes/001.png" {
		t.Fatalf("stored = %q, want %q", stored, "episodes/001.png")
	}

	external, err := m.Load(stored)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := filepath.Join(base, "episodes", "001.png")
	if external != want {
		t.Fatalf("external = %q, want %q", external, want)
	}
}

func TestStoreConvertsContainedAbsolute(t *testing.T) {
	base := t.TempDir()
	m := New(DefaultOptions(), base, nil)

	stored, err := m.Store(filepath.Join(base, "cover.png"))
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if stored != "cover.png" {
		t.Fatalf("stored = %q, want %q", stored, "cover.png")
	}
}

func TestStoreRejectsAbsoluteWhenConversionDisabled(t *testing.T) {
	base := t.TempDir()
	opts := DefaultOptions()
	opts.ConvertAbsolute = false
	m := New(opts, base, nil)

	if _, err := m.Store(filepath.Join(base, "cover.png")); !errors.Is(err, ErrAbsolutePath) {
		t.Fatalf("Store = %v, want ErrAbsolutePath", err)
	}
}

func TestStoreRejectsEscape(t *testing.T) {
	base := t.TempDir()
	m := New(DefaultOptions(), base, nil)

	if _, err := m.Store(filepath.Join("..", "outside.png")); !errors.Is(err, ErrEscapesBase) {
		t.Fatalf("relative escape = %v, want ErrEscapesBase", err)
	}
	if _, err := m.Store(filepath.Join(filepath.Dir(base), "outside.png")); !errors.Is(err, ErrEscapesBase) {
		t.Fatalf("absolute escape = %v, want ErrEscapesBase", err)
	}
}

func TestLoadRejectsStoredAbsolute(t *testing.T) {
	base := t.TempDir()
	opts := DefaultOptions()
	// Conversion applies to the store direction only. A stored absolute path
	// fails regardless.
	opts.ConvertAbsolute = true
	m := New(opts, base, nil)

	if _, err := m.Load("/etc/passwd"); !errors.Is(err, ErrAbsolutePath) {
		t.Fatalf("Load = %v, want ErrAbsolutePath", err)
	}
}

func TestSelfContainedDisablesEverything(t *testing.T) {
	opts := DefaultOptions()
	opts.SelfContained = true
	m := New(opts, t.TempDir(), nil)

	if _, err := m.Store("a.png"); !errors.Is(err, ErrSelfContained) {
		t.Fatalf("Store = %v, want ErrSelfContained", err)
	}
	if _, err := m.Load("a.png"); !errors.Is(err, ErrSelfContained) {
		t.Fatalf("Load = %v, want ErrSelfContained", err)
	}
	if _, err := m.BaseDir(); !errors.Is(err, ErrSelfContained) {
		t.Fatalf("BaseDir = %v, want ErrSelfContained", err)
	}
}

func TestInitializeWinsOverSuggestion(t *testing.T) {
	base := t.TempDir()
	override := t.TempDir()
	m := New(DefaultOptions(), base, func() (string, bool, error) {
		return "suggested", true, nil
	})

	if err := m.Initialize(override); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	got, err := m.BaseDir()
	if err != nil {
		t.Fatalf("BaseDir: %v", err)
	}
	if got != override {
		t.Fatalf("BaseDir = %q, want %q", got, override)
	}
}

func TestInitializeTwiceFails(t *testing.T) {
	m := New(DefaultOptions(), t.TempDir(), nil)
	if err := m.Initialize("a"); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := m.Initialize("b"); !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("second Initialize = %v, want ErrAlreadyInitialized", err)
	}
}

func TestSuggestionResolvedOnce(t *testing.T) {
	base := t.TempDir()
	calls := 0
	m := New(DefaultOptions(), base, func() (string, bool, error) {
		calls++
		return "assets", true, nil
	})

	for i := 0; i < 3; i++ {
		got, err := m.BaseDir()
		if err != nil {
			t.Fatalf("BaseDir: %v", err)
		}
		if want := filepath.Join(base, "assets"); got != want {
			t.Fatalf("BaseDir = %q, want %q", got, want)
		}
	}
	if calls != 1 {
		t.Fatalf("suggestion consulted %d times, want 1", calls)
	}
}

func TestBadSuggestionFallsBack(t *testing.T) {
	base := t.TempDir()
	m := New(DefaultOptions(), base, func() (string, bool, error) {
		return "/absolute/elsewhere", true, nil
	})

	got, err := m.BaseDir()
	if err != nil {
		t.Fatalf("BaseDir: %v", err)
	}
	if got != base {
		t.Fatalf("BaseDir = %q, want fallback %q", got, base)
	}
}

func TestBadSuggestionFailsWithoutFallback(t *testing.T) {
	opts := DefaultOptions()
	opts.FallbackBaseDir = false
	m := New(opts, t.TempDir(), func() (string, bool, error) {
		return "../escape", true, nil
	})

	if _, err := m.BaseDir(); !errors.Is(err, ErrEscapesBase) {
		t.Fatalf("BaseDir = %v, want ErrEscapesBase", err)
	}
}

func TestAutoInitializeOff(t *testing.T) {
	opts := DefaultOptions()
	opts.AutoInitialize = false
	m := New(opts, t.TempDir(), nil)

	if _, err := m.BaseDir(); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("BaseDir = %v, want ErrNotInitialized", err)
	}
}
