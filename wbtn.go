// Package wbtn reads and writes wbtn container files: portable, versioned
// archives for webtoon content built on an embedded SQLite database. A file
// is a container if and only if it carries the WBTN application-id marker;
// the schema version gates compatibility across format generations.
//
// Open returns a Webtoon whose sub-managers cover the container surface:
// container-wide metadata (Info), episodes and their metadata (Episodes),
// content payloads inline or spilled to external files (Contents), and
// auxiliary files (ExtraFiles). External paths are virtualized against a
// base directory so a container and its payload files relocate together.
package wbtn

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"wbtn/internal/container"
	"wbtn/internal/convert"
	"wbtn/internal/pathmap"
	"wbtn/internal/records"
)

// Version is the wbtn agent version.
const Version = container.Version

// Format constants, re-exported from the connection layer.
const (
	ApplicationID = container.ApplicationID
	SchemaVersion = container.SchemaVersion
)

// Open modes, re-exported from the connection layer.
const (
	ModeCreate    = container.ModeCreate
	ModeReadOnly  = container.ModeReadOnly
	ModeMustExist = container.ModeMustExist
	ModeClobber   = container.ModeClobber
)

// options collects everything the functional options can set.
type options struct {
	settings  container.Settings
	paths     pathmap.Options
	baseDir   string
	primitive bool
	strict    bool
}

func defaultOptions() options {
	return options{paths: pathmap.DefaultOptions()}
}

// Option adjusts how a container is opened.
type Option func(*options)

// WithMode selects the open mode. The default creates the file when missing.
func WithMode(mode container.Mode) Option {
	return func(o *options) { o.settings.Mode = mode }
}

// WithJournalMode applies a journal mode on open. In-memory containers
// accept only "memory" and "off".
func WithJournalMode(mode string) Option {
	return func(o *options) { o.settings.JournalMode = mode }
}

// WithBypassIntegrityCheck skips the marker and version checks and
// force-writes the current values. For trusted internal operations only.
func WithBypassIntegrityCheck() Option {
	return func(o *options) { o.settings.BypassIntegrityCheck = true }
}

// WithLogger routes open-time warnings to the given logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.settings.Logger = logger }
}

// WithSelfContained disables path storage entirely; every payload must be
// inline.
func WithSelfContained() Option {
	return func(o *options) { o.paths.SelfContained = true }
}

// WithBaseDir overrides base-directory resolution with a trusted directory.
func WithBaseDir(dir string) Option {
	return func(o *options) { o.baseDir = dir }
}

// WithConvertAbsolute controls whether absolute paths are accepted on the
// store direction, as long as they land inside the base directory. On by
// default.
func WithConvertAbsolute(allow bool) Option {
	return func(o *options) { o.paths.ConvertAbsolute = allow }
}

// WithFallbackBaseDir controls whether an unusable base-directory suggestion
// recorded in the container falls back to the container-file directory
// instead of failing. On by default.
func WithFallbackBaseDir(fallback bool) Option {
	return func(o *options) { o.paths.FallbackBaseDir = fallback }
}

// WithAutoInitialize controls whether the base directory resolves itself on
// first use. On by default; off requires an explicit base directory before
// any path operation.
func WithAutoInitialize(auto bool) Option {
	return func(o *options) { o.paths.AutoInitialize = auto }
}

// WithPrimitiveTags gives str/int/float/bytes values explicit conversion
// tags instead of storing them untagged.
func WithPrimitiveTags() Option {
	return func(o *options) { o.primitive = true }
}

// WithStrictLoad makes loads verify each stored value's native type against
// its conversion tag.
func WithStrictLoad() Option {
	return func(o *options) { o.strict = true }
}

// Webtoon is one open container.
type Webtoon struct {
	conn  *container.Manager
	paths *pathmap.Manager
	codec *convert.Codec
	opts  options

	Info       *records.InfoManager
	Episodes   *records.EpisodeManager
	Contents   *records.ContentManager
	ExtraFiles *records.ExtraFileManager
}

// Open opens (or creates) the container at path. The path ":memory:" or ""
// selects a pure in-memory container.
func Open(ctx context.Context, path string, opts ...Option) (*Webtoon, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	conn := container.New(path, o.settings)
	if err := conn.Open(ctx); err != nil {
		return nil, err
	}
	w, err := assemble(conn, o)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return w, nil
}

// assemble wires the path layer, codec and managers around an open
// connection.
func assemble(conn *container.Manager, o options) (*Webtoon, error) {
	fileDir, err := conn.FileDir()
	if err != nil {
		return nil, err
	}
	paths := pathmap.New(o.paths, fileDir, suggestBaseDir(conn))
	if o.baseDir != "" {
		if err := paths.Initialize(o.baseDir); err != nil {
			return nil, err
		}
	}
	codec := &convert.Codec{Paths: paths, PrimitiveTags: o.primitive, Strict: o.strict}
	return &Webtoon{
		conn:       conn,
		paths:      paths,
		codec:      codec,
		opts:       o,
		Info:       records.NewInfoManager(conn, codec),
		Episodes:   records.NewEpisodeManager(conn, codec),
		Contents:   records.NewContentManager(conn, codec, paths),
		ExtraFiles: records.NewExtraFileManager(conn, codec, paths),
	}, nil
}

// suggestBaseDir reads the sys_base_directory Info row directly, bypassing
// the codec: the codec's path layer is what the suggestion feeds. The lookup
// runs lazily at the first path operation, so it carries its own context.
func suggestBaseDir(conn *container.Manager) pathmap.SuggestFunc {
	return func() (string, bool, error) {
		row, err := conn.QueryRow(context.Background(),
			"SELECT value FROM Info WHERE name = 'sys_base_directory'")
		if err != nil {
			return "", false, err
		}
		var suggested sql.NullString
		if err := row.Scan(&suggested); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return "", false, nil
			}
			return "", false, err
		}
		if !suggested.Valid || suggested.String == "" {
			return "", false, nil
		}
		return suggested.String, true, nil
	}
}

// Close releases the container.
func (w *Webtoon) Close() error {
	if w == nil {
		return nil
	}
	return w.conn.Close()
}

// Path returns the container file path; empty for in-memory.
func (w *Webtoon) Path() string { return w.conn.Path() }

// InMemory reports whether the container is purely in-memory.
func (w *Webtoon) InMemory() bool { return w.conn.InMemory() }

// ReadOnly reports whether the container rejects writes.
func (w *Webtoon) ReadOnly() bool { return w.conn.ReadOnly() }

// Existed reports whether the container held prior content when opened.
func (w *Webtoon) Existed() bool { return w.conn.Existed() }

// SchemaVersion returns the container's stored schema version.
func (w *Webtoon) SchemaVersion(ctx context.Context) (int, error) {
	return w.conn.Version(ctx)
}

// SetSchemaVersion advances the stored schema version. Downgrades fail.
func (w *Webtoon) SetSchemaVersion(ctx context.Context, version int) error {
	return w.conn.SetVersion(ctx, version)
}

// BaseDir returns the resolved base directory for path virtualization.
func (w *Webtoon) BaseDir() (string, error) {
	return w.paths.BaseDir()
}

// Migrate vacuums the container into a fresh file at newPath and returns a
// Webtoon opened on it with the same options. The source stays open.
func (w *Webtoon) Migrate(ctx context.Context, newPath string) (*Webtoon, error) {
	conn, err := w.conn.Migrate(ctx, newPath)
	if err != nil {
		return nil, err
	}
	migrated, err := assemble(conn, w.opts)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return migrated, nil
}

// Vacuum compacts the container in place.
func (w *Webtoon) Vacuum(ctx context.Context) error {
	if _, err := w.conn.Exec(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("vacuum: %w", err)
	}
	return nil
}
