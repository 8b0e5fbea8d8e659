// Package config loads the wbtn CLI configuration: a TOML file controlling
// container open defaults, path virtualization policy, value conversion
// behavior and log output.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Container contains container open defaults.
type Container struct {
	// JournalMode is applied on open when non-empty. In-memory containers
	// accept only "memory" and "off".
	JournalMode string `toml:"journal_mode"`
	// LockTimeout is how many seconds a CLI command waits for the container
	// file lock before giving up.
	LockTimeout int `toml:"lock_timeout"`
}

// Paths contains path virtualization policy.
type Paths struct {
	// BaseDir overrides base-directory resolution when non-empty.
	BaseDir string `toml:"base_dir"`
	// SelfContained disables external payload files entirely.
	SelfContained bool `toml:"self_contained"`
	// ConvertAbsolute accepts absolute paths on the store direction when
	// they land inside the base directory.
	ConvertAbsolute bool `toml:"convert_absolute"`
	// FallbackBaseDir substitutes the container-file directory when the
	// recorded base-directory suggestion is unusable.
	FallbackBaseDir bool `toml:"fallback_base_dir"`
}

// Values contains value conversion behavior.
type Values struct {
	// PrimitiveTags gives str/int/float/bytes values explicit conversion
	// tags instead of storing them untagged.
	PrimitiveTags bool `toml:"primitive_tags"`
	// StrictLoad verifies each stored value's native type against its
	// conversion tag.
	StrictLoad bool `toml:"strict_load"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for the wbtn CLI.
type Config struct {
	Container Container `toml:"container"`
	Paths     Paths     `toml:"paths"`
	Values    Values    `toml:"values"`
	Logging   Logging   `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration
// file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/wbtn/config.toml")
}

// Load locates, parses, and validates a configuration file. It returns the
// config, the resolved path and whether a file actually existed there.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("wbtn.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}
	return defaultPath, false, nil
}

// normalize expands user-relative path fields in place.
func (c *Config) normalize() error {
	if c.Paths.BaseDir != "" {
		expanded, err := expandPath(c.Paths.BaseDir)
		if err != nil {
			return err
		}
		c.Paths.BaseDir = expanded
	}
	return nil
}

// Validate rejects configuration values outside their accepted sets.
func (c *Config) Validate() error {
	if c.Container.JournalMode != "" {
		modes := []string{"delete", "truncate", "persist", "memory", "wal", "off"}
		if !slices.Contains(modes, c.Container.JournalMode) {
			return fmt.Errorf("invalid journal_mode %q", c.Container.JournalMode)
		}
	}
	if c.Container.LockTimeout < 0 {
		return fmt.Errorf("lock_timeout must not be negative")
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("invalid logging format %q (expected console or json)", c.Logging.Format)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging level %q", c.Logging.Level)
	}
	return nil
}

// WriteSample writes the annotated sample configuration to path, creating
// parent directories as needed. It refuses to overwrite an existing file.
func WriteSample(path string) error {
	expanded, err := expandPath(path)
	if err != nil {
		return err
	}
	if _, err := os.Stat(expanded); err == nil {
		return fmt.Errorf("config file already exists at %s", expanded)
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(expanded, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func expandPath(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	return abs, nil
}
