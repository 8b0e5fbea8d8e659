// Package pathmap maps externally visible filesystem paths onto the
// base-relative form stored inside a container, and back. Stored paths are
// always relative to one base directory, resolved lazily and exactly once,
// which keeps a container relocatable and keeps references from escaping
// its directory.
package pathmap

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var (
	// ErrSelfContained is returned for any path operation while
	// self-contained mode is active.
	ErrSelfContained = errors.New("self-contained mode is active")
	// ErrAbsolutePath is returned when an absolute path is rejected.
	ErrAbsolutePath = errors.New("absolute path is not allowed")
	// ErrEscapesBase is returned when a path resolves outside the base
	// directory.
	ErrEscapesBase = errors.New("path escapes the base directory")
	// ErrNotInitialized is returned when the base directory is used before
	// it has been resolved and auto-initialization is disabled.
	ErrNotInitialized = errors.New("base directory is not initialized")
	// ErrAlreadyInitialized is returned when the base directory is set a
	// second time.
	ErrAlreadyInitialized = errors.New("base directory is already initialized")
)

// Options is the container-wide path policy, fixed at construction.
type Options struct {
	// SelfContained disables storing and loading paths entirely.
	SelfContained bool
	// ConvertAbsolute allows absolute inputs on the store direction, as
	// long as they land inside the base directory.
	ConvertAbsolute bool
	// FallbackBaseDir substitutes the container-file directory when the
	// suggested base directory recorded in the container is unusable,
	// instead of failing.
	FallbackBaseDir bool
	// AutoInitialize resolves the base directory on first use instead of
	// requiring an explicit Initialize call.
	AutoInitialize bool
}

// DefaultOptions mirrors the policy a plain container open uses.
func DefaultOptions() Options {
	return Options{
		ConvertAbsolute: true,
		FallbackBaseDir: true,
		AutoInitialize:  true,
	}
}

// SuggestFunc returns the base directory suggestion recorded in container
// metadata, if any. The suggestion is untrusted and validated before use.
type SuggestFunc func() (string, bool, error)

// Manager resolves the base directory for one container and converts paths
// between their external and stored forms.
type Manager struct {
	opts    Options
	fileDir string
	suggest SuggestFunc

	base        string
	initialized bool
}

// New builds a Manager. fileDir is the directory holding the container file
// (or the process working directory for in-memory containers); suggest may
// be nil when the container carries no metadata suggestion.
func New(opts Options, fileDir string, suggest SuggestFunc) *Manager {
	return &Manager{opts: opts, fileDir: filepath.Clean(fileDir), suggest: suggest}
}

// Initialize sets the base directory from a trusted caller override. The
// value is made absolute but not otherwise checked. Initializing twice
// fails.
func (m *Manager) Initialize(dir string) error {
	if m.initialized {
		return ErrAlreadyInitialized
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolve base directory: %w", err)
	}
	m.base = abs
	m.initialized = true
	return nil
}

// SelfContained reports whether path operations are disabled.
func (m *Manager) SelfContained() bool {
	return m.opts.SelfContained
}

// Initialized reports whether the base directory has been resolved.
func (m *Manager) Initialized() bool {
	return m.initialized
}

// BaseDir returns the resolved base directory, resolving it first when
// auto-initialization is enabled. Always fails in self-contained mode.
func (m *Manager) BaseDir() (string, error) {
	if m.opts.SelfContained {
		return "", fmt.Errorf("%w: cannot store or load a path", ErrSelfContained)
	}
	if m.initialized {
		return m.base, nil
	}
	if !m.opts.AutoInitialize {
		return "", ErrNotInitialized
	}
	base, err := m.resolve()
	if err != nil {
		return "", err
	}
	m.base = base
	m.initialized = true
	return m.base, nil
}

// Store converts an external path into its stored, base-relative form.
func (m *Manager) Store(path string) (string, error) {
	base, err := m.BaseDir()
	if err != nil {
		return "", err
	}
	if filepath.IsAbs(path) {
		if !m.opts.ConvertAbsolute {
			return "", fmt.Errorf("%w: cannot store %q", ErrAbsolutePath, path)
		}
		rel, ok := containedRel(base, filepath.Clean(path))
		if !ok {
			return "", fmt.Errorf("%w: %q is outside %q", ErrEscapesBase, path, base)
		}
		return filepath.ToSlash(rel), nil
	}
	resolved := filepath.Join(base, path)
	rel, ok := containedRel(base, resolved)
	if !ok {
		return "", fmt.Errorf("%w: %q is outside %q", ErrEscapesBase, path, base)
	}
	return filepath.ToSlash(rel), nil
}

// Load converts a stored path back into an external one. A stored absolute
// path signals corruption or tampering and always fails, regardless of the
// ConvertAbsolute setting.
func (m *Manager) Load(stored string) (string, error) {
	if m.opts.SelfContained {
		return "", fmt.Errorf("%w: cannot store or load a path", ErrSelfContained)
	}
	native := filepath.FromSlash(stored)
	if filepath.IsAbs(native) {
		return "", fmt.Errorf("%w: stored path %q is absolute", ErrAbsolutePath, stored)
	}
	base, err := m.BaseDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, native), nil
}

// resolve picks the base directory when no explicit override was given:
// a validated metadata suggestion when present, the container-file
// directory otherwise.
func (m *Manager) resolve() (string, error) {
	if m.suggest == nil {
		return m.fileDir, nil
	}
	suggested, ok, err := m.suggest()
	if err != nil {
		return "", fmt.Errorf("read suggested base directory: %w", err)
	}
	if !ok {
		return m.fileDir, nil
	}
	suggested = filepath.FromSlash(suggested)
	if filepath.IsAbs(suggested) {
		if m.opts.FallbackBaseDir {
			return m.fileDir, nil
		}
		return "", fmt.Errorf("%w: suggested base directory %q", ErrAbsolutePath, suggested)
	}
	resolved := filepath.Join(m.fileDir, suggested)
	if _, ok := containedRel(m.fileDir, resolved); !ok {
		if m.opts.FallbackBaseDir {
			return m.fileDir, nil
		}
		return "", fmt.Errorf("%w: suggested base directory %q is outside %q", ErrEscapesBase, suggested, m.fileDir)
	}
	return resolved, nil
}

// containedRel returns target relative to base when target lies within (or
// equals) base.
func containedRel(base, target string) (string, bool) {
	rel, err := filepath.Rel(base, target)
	if err != nil {
		return "", false
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return rel, true
}
