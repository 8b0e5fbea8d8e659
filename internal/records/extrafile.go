package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"wbtn/internal/container"
	"wbtn/internal/convert"
	"wbtn/internal/fileutil"
	"wbtn/internal/pathmap"
)

// ExtraFile is one row of the ExtraFile table: an auxiliary file attached to
// the container outside the episode/content hierarchy. Path identifies the
// file and is always present; Value may hold an inline copy of its payload.
type ExtraFile struct {
	FileID     int64
	Kind       string
	Value      convert.Value
	Conversion convert.Tag
	Path       string
	AddedAt    time.Time
}

// Inline reports whether the row holds its payload inline.
func (f ExtraFile) Inline() bool {
	return !f.Value.IsNull()
}

// ExtraFileHandle is a lazy reference to an ExtraFile row, mirroring
// ContentHandle.
type ExtraFileHandle struct {
	id     int64
	record *ExtraFile
	mgr    *ExtraFileManager
}

// ID returns the row id without touching the store. With keep unset a
// resolved handle reverts to the id-only state.
func (h *ExtraFileHandle) ID(keep bool) int64 {
	if h.record != nil {
		id := h.record.FileID
		if !keep {
			h.record = nil
		}
		return id
	}
	return h.id
}

// Resolved reports whether the handle currently holds its row.
func (h *ExtraFileHandle) Resolved() bool {
	return h.record != nil
}

// Resolve returns the row, fetching it when the handle is unresolved.
func (h *ExtraFileHandle) Resolve(ctx context.Context, keep bool) (ExtraFile, error) {
	if h.record != nil {
		return *h.record, nil
	}
	rec, err := h.mgr.Get(ctx, h.id)
	if err != nil {
		return ExtraFile{}, err
	}
	if keep {
		h.record = &rec
	}
	return rec, nil
}

// ExtraFileManager maintains ExtraFile rows.
type ExtraFileManager struct {
	conn  *container.Manager
	codec *convert.Codec
	paths *pathmap.Manager
}

// NewExtraFileManager builds an ExtraFileManager on the given connection,
// codec and path layer.
func NewExtraFileManager(conn *container.Manager, codec *convert.Codec, paths *pathmap.Manager) *ExtraFileManager {
	return &ExtraFileManager{conn: conn, codec: codec, paths: paths}
}

// Handle wraps a row id in an unresolved handle.
func (m *ExtraFileManager) Handle(id int64) *ExtraFileHandle {
	return &ExtraFileHandle{id: id, mgr: m}
}

// AddPath registers an external file that already exists at path. The tag
// describes how its bytes decode and is mandatory.
func (m *ExtraFileManager) AddPath(ctx context.Context, path string, tag convert.Tag, kind string) (int64, error) {
	if tag == convert.TagNone {
		return 0, fmt.Errorf("%w: extra files require a conversion tag", ErrInvalidArgument)
	}
	stored, err := m.paths.Store(path)
	if err != nil {
		return 0, err
	}
	res, err := m.conn.Exec(ctx,
		"INSERT INTO ExtraFile (kind, conversion, value, path, added_at) VALUES (?, ?, NULL, ?, ?)",
		nullableString(kind), string(tag), stored, timestampNow())
	if err != nil {
		return 0, fmt.Errorf("add extra file: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("add extra file: %w", err)
	}
	return id, nil
}

// AddValue registers a file identified by path whose payload is stored
// inline instead of on disk. The tag is inferred from the value.
func (m *ExtraFileManager) AddValue(ctx context.Context, path string, value convert.Value, kind string) (int64, error) {
	tag, expr, arg, err := m.codec.Dump(value, convert.TagNone)
	if err != nil {
		return 0, err
	}
	stored, err := m.paths.Store(path)
	if err != nil {
		return 0, err
	}
	res, err := m.conn.Exec(ctx,
		"INSERT INTO ExtraFile (kind, conversion, value, path, added_at) VALUES (?, ?, "+expr+", ?, ?)",
		nullableString(kind), nullableTag(tag), arg, stored, timestampNow())
	if err != nil {
		return 0, fmt.Errorf("add extra file value: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("add extra file value: %w", err)
	}
	return id, nil
}

// AddPayload writes a value to path and registers the file. When the insert
// fails after the file was written, the file is removed and the insert error
// propagates. In self-contained mode the call fails before anything touches
// the filesystem; an extra file has no inline fallback because the path is
// its identity.
func (m *ExtraFileManager) AddPayload(ctx context.Context, path string, value convert.Value, kind string, mkdir bool) (int64, error) {
	if m.paths.SelfContained() {
		return 0, fmt.Errorf("%w: cannot write an extra file payload", pathmap.ErrSelfContained)
	}
	data, err := m.codec.DumpBytes(value)
	if err != nil {
		return 0, err
	}
	if err := fileutil.WritePayload(path, data, mkdir); err != nil {
		return 0, err
	}
	id, err := m.AddPath(ctx, path, m.codec.PrimitiveTag(value), kind)
	if err != nil {
		fileutil.RemoveQuiet(path)
		return 0, err
	}
	return id, nil
}

const extraFileColumns = "file_id, kind, conversion, " +
	convert.SelectValueExpr + ", path, added_at"

// Get fetches an extra file row by id.
func (m *ExtraFileManager) Get(ctx context.Context, id int64) (ExtraFile, error) {
	row, err := m.conn.QueryRow(ctx,
		"SELECT "+extraFileColumns+" FROM ExtraFile WHERE file_id = ?", id)
	if err != nil {
		return ExtraFile{}, err
	}
	rec, err := m.scanExtraFile(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ExtraFile{}, fmt.Errorf("%w: extra file %d", ErrNotFound, id)
		}
		return ExtraFile{}, fmt.Errorf("get extra file %d: %w", id, err)
	}
	return rec, nil
}

// GetByPath fetches an extra file row by its external path.
func (m *ExtraFileManager) GetByPath(ctx context.Context, path string) (ExtraFile, error) {
	stored, err := m.paths.Store(path)
	if err != nil {
		return ExtraFile{}, err
	}
	row, err := m.conn.QueryRow(ctx,
		"SELECT "+extraFileColumns+" FROM ExtraFile WHERE path = ?", stored)
	if err != nil {
		return ExtraFile{}, err
	}
	rec, err := m.scanExtraFile(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ExtraFile{}, fmt.Errorf("%w: extra file %q", ErrNotFound, path)
		}
		return ExtraFile{}, fmt.Errorf("get extra file %q: %w", path, err)
	}
	return rec, nil
}

// ExtraFileUpdate describes an update to one extra file row. Value and a new
// Path are mutually exclusive; repointing to a path requires a tag, moving a
// value inline forbids one.
type ExtraFileUpdate struct {
	Value      *convert.Value
	Path       string
	Conversion convert.Tag
}

// Update rewrites the payload columns of an extra file row. The path column
// never becomes NULL; clearing is expressed by moving a value inline while
// the path keeps identifying the row.
func (m *ExtraFileManager) Update(ctx context.Context, id int64, upd ExtraFileUpdate) error {
	switch {
	case upd.Value != nil && upd.Path != "":
		return fmt.Errorf("%w: value and path are mutually exclusive", ErrInvalidArgument)
	case upd.Value != nil:
		if upd.Conversion != convert.TagNone {
			return fmt.Errorf("%w: inline values carry an inferred conversion tag", ErrInvalidArgument)
		}
		tag, expr, arg, err := m.codec.Dump(*upd.Value, convert.TagNone)
		if err != nil {
			return err
		}
		return m.applyUpdate(ctx, id,
			"UPDATE ExtraFile SET conversion = ?, value = "+expr+" WHERE file_id = ?",
			nullableTag(tag), arg, id)
	case upd.Path != "":
		if upd.Conversion == convert.TagNone {
			return fmt.Errorf("%w: repointing an extra file requires a conversion tag", ErrInvalidArgument)
		}
		stored, err := m.paths.Store(upd.Path)
		if err != nil {
			return err
		}
		return m.applyUpdate(ctx, id,
			"UPDATE ExtraFile SET conversion = ?, value = NULL, path = ? WHERE file_id = ?",
			string(upd.Conversion), stored, id)
	default:
		return fmt.Errorf("%w: nothing to update", ErrInvalidArgument)
	}
}

func (m *ExtraFileManager) applyUpdate(ctx context.Context, id int64, query string, args ...any) error {
	res, err := m.conn.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update extra file %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: extra file %d", ErrNotFound, id)
	}
	return nil
}

// Delete removes an extra file row. The file itself is left on disk.
func (m *ExtraFileManager) Delete(ctx context.Context, id int64) error {
	res, err := m.conn.Exec(ctx, "DELETE FROM ExtraFile WHERE file_id = ?", id)
	if err != nil {
		return fmt.Errorf("delete extra file %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: extra file %d", ErrNotFound, id)
	}
	return nil
}

// Iterate returns unresolved handles for extra file rows; a nil kind matches
// every row.
func (m *ExtraFileManager) Iterate(ctx context.Context, kind *string) ([]*ExtraFileHandle, error) {
	rows, err := m.conn.Query(ctx,
		"SELECT file_id FROM ExtraFile WHERE ?1 IS NULL OR kind = ?1 ORDER BY file_id", kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var handles []*ExtraFileHandle
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		handles = append(handles, m.Handle(id))
	}
	return handles, rows.Err()
}

// Len counts extra file rows.
func (m *ExtraFileManager) Len(ctx context.Context) (int, error) {
	row, err := m.conn.QueryRow(ctx, "SELECT count() FROM ExtraFile")
	if err != nil {
		return 0, err
	}
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// Materialize reads a row's file payload into a value. With persist set the
// value also moves inline; the path keeps identifying the file.
func (m *ExtraFileManager) Materialize(ctx context.Context, h *ExtraFileHandle, persist bool) (convert.Value, error) {
	rec, err := h.Resolve(ctx, true)
	if err != nil {
		return convert.Value{}, err
	}
	if rec.Inline() {
		return rec.Value, nil
	}
	raw, err := fileutil.ReadPayload(rec.Path)
	if err != nil {
		return convert.Value{}, err
	}
	value, err := m.codec.LoadBytes(rec.Conversion, raw, true)
	if err != nil {
		return convert.Value{}, err
	}
	if persist {
		if err := m.Update(ctx, rec.FileID, ExtraFileUpdate{Value: &value}); err != nil {
			return convert.Value{}, err
		}
		h.record = nil
	}
	return value, nil
}

// Spill writes a row's inline value to its own path and clears the inline
// copy. A row with no inline value is left alone.
func (m *ExtraFileManager) Spill(ctx context.Context, h *ExtraFileHandle, mkdir bool) (string, error) {
	rec, err := h.Resolve(ctx, true)
	if err != nil {
		return "", err
	}
	if !rec.Inline() {
		return rec.Path, nil
	}
	tag := rec.Conversion
	if tag == convert.TagNone {
		tag = m.codec.PrimitiveTag(rec.Value)
	}
	data, err := m.codec.DumpBytes(rec.Value)
	if err != nil {
		return "", err
	}
	if err := fileutil.WritePayload(rec.Path, data, mkdir); err != nil {
		return "", err
	}
	err = m.applyUpdate(ctx, rec.FileID,
		"UPDATE ExtraFile SET conversion = ?, value = NULL WHERE file_id = ?",
		string(tag), rec.FileID)
	if err != nil {
		return "", err
	}
	h.record = nil
	return rec.Path, nil
}

// scanExtraFile decodes one extra file row from a scan function over the
// extraFileColumns projection.
func (m *ExtraFileManager) scanExtraFile(scan func(...any) error) (ExtraFile, error) {
	var (
		rec        ExtraFile
		kind       sql.NullString
		conversion sql.NullString
		stored     any
		storedPath string
		addedAt    float64
	)
	if err := scan(&rec.FileID, &kind, &conversion, &stored, &storedPath, &addedAt); err != nil {
		return ExtraFile{}, err
	}
	rec.Kind = kind.String
	rec.Conversion = tagOf(conversion)
	rec.AddedAt = container.FromTimestamp(addedAt)
	external, err := m.paths.Load(storedPath)
	if err != nil {
		return ExtraFile{}, err
	}
	rec.Path = external
	if stored == nil {
		rec.Value = convert.Null()
		return rec, nil
	}
	value, err := m.codec.Load(rec.Conversion, stored)
	if err != nil {
		return ExtraFile{}, err
	}
	rec.Value = value
	return rec, nil
}
