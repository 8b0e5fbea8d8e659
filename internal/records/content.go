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

// Content is one row of the Content table. Path is the external filesystem
// path of a spilled payload, empty when the value is stored inline.
type Content struct {
	ContentID  int64
	EpisodeNo  int64
	ContentNo  int64
	Kind       string
	Value      convert.Value
	Conversion convert.Tag
	Path       string
	AddedAt    time.Time
}

// External reports whether the row's payload lives in an external file.
func (c Content) External() bool {
	return c.Path != ""
}

// ContentHandle is a lazy reference to a Content row. A handle starts out
// unresolved, carrying only the row id; Resolve fetches the row and may keep
// it, after which reads are served from memory.
type ContentHandle struct {
	id     int64
	record *Content
	mgr    *ContentManager
}

// ID returns the row id without touching the store. With keep unset a
// resolved handle forgets its record and reverts to the id-only state.
func (h *ContentHandle) ID(keep bool) int64 {
	if h.record != nil {
		id := h.record.ContentID
		if !keep {
			h.record = nil
		}
		return id
	}
	return h.id
}

// Resolved reports whether the handle currently holds its row.
func (h *ContentHandle) Resolved() bool {
	return h.record != nil
}

// Resolve returns the row, fetching it when the handle is unresolved. With
// keep set the fetched row stays on the handle for later calls.
func (h *ContentHandle) Resolve(ctx context.Context, keep bool) (Content, error) {
	if h.record != nil {
		return *h.record, nil
	}
	rec, err := h.mgr.Get(ctx, h.id)
	if err != nil {
		return Content{}, err
	}
	if keep {
		h.record = &rec
	}
	return rec, nil
}

// ContentManager maintains Content rows, their external payload files and
// their ContentInfo metadata.
type ContentManager struct {
	conn  *container.Manager
	codec *convert.Codec
	paths *pathmap.Manager
}

// NewContentManager builds a ContentManager on the given connection, codec
// and path layer.
func NewContentManager(conn *container.Manager, codec *convert.Codec, paths *pathmap.Manager) *ContentManager {
	return &ContentManager{conn: conn, codec: codec, paths: paths}
}

// Handle wraps a row id in an unresolved handle.
func (m *ContentManager) Handle(id int64) *ContentHandle {
	return &ContentHandle{id: id, mgr: m}
}

// ResolvedHandle wraps an already fetched row.
func (m *ContentManager) ResolvedHandle(rec Content) *ContentHandle {
	return &ContentHandle{id: rec.ContentID, record: &rec, mgr: m}
}

// Add inserts an inline content row and returns its id. The conversion tag
// is inferred from the value; explicit tags belong to external payloads.
func (m *ContentManager) Add(ctx context.Context, episodeNo, contentNo int64, kind string, value convert.Value) (int64, error) {
	tag, expr, arg, err := m.codec.Dump(value, convert.TagNone)
	if err != nil {
		return 0, err
	}
	res, err := m.conn.Exec(ctx,
		"INSERT INTO Content (episode_no, content_no, kind, conversion, value, path, added_at) VALUES (?, ?, ?, ?, "+expr+", NULL, ?)",
		episodeNo, contentNo, kind, nullableTag(tag), arg, timestampNow())
	if err != nil {
		return 0, fmt.Errorf("add content: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("add content: %w", err)
	}
	return id, nil
}

// AddPath inserts a content row whose payload already lives at an external
// path. The tag is mandatory: a file on disk carries no shape of its own.
func (m *ContentManager) AddPath(ctx context.Context, episodeNo, contentNo int64, kind, path string, tag convert.Tag) (int64, error) {
	if tag == convert.TagNone {
		return 0, fmt.Errorf("%w: external content requires a conversion tag", ErrInvalidArgument)
	}
	stored, err := m.paths.Store(path)
	if err != nil {
		return 0, err
	}
	res, err := m.conn.Exec(ctx,
		"INSERT INTO Content (episode_no, content_no, kind, conversion, value, path, added_at) VALUES (?, ?, ?, ?, NULL, ?, ?)",
		episodeNo, contentNo, kind, string(tag), stored, timestampNow())
	if err != nil {
		return 0, fmt.Errorf("add content path: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("add content path: %w", err)
	}
	return id, nil
}

// AddPayload writes a value to an external file and inserts a row pointing
// at it. In self-contained mode the value is stored inline instead. When the
// insert fails after the file was written, the file is removed and the
// insert error propagates.
func (m *ContentManager) AddPayload(ctx context.Context, episodeNo, contentNo int64, kind, path string, value convert.Value, mkdir bool) (int64, error) {
	if m.paths.SelfContained() {
		return m.Add(ctx, episodeNo, contentNo, kind, value)
	}
	data, err := m.codec.DumpBytes(value)
	if err != nil {
		return 0, err
	}
	if err := fileutil.WritePayload(path, data, mkdir); err != nil {
		return 0, err
	}
	id, err := m.AddPath(ctx, episodeNo, contentNo, kind, path, m.codec.PrimitiveTag(value))
	if err != nil {
		fileutil.RemoveQuiet(path)
		return 0, err
	}
	return id, nil
}

// ContentUpdate describes an update to one content row. Value and Path are
// mutually exclusive; updating to a path requires a tag, updating to an
// inline value forbids one. With neither set the row's payload is cleared.
type ContentUpdate struct {
	Value      *convert.Value
	Path       string
	Conversion convert.Tag
}

// Update rewrites the payload columns of a content row.
func (m *ContentManager) Update(ctx context.Context, id int64, upd ContentUpdate) error {
	var tag any
	var expr string
	var valueArg, pathArg any
	switch {
	case upd.Value != nil && upd.Path != "":
		return fmt.Errorf("%w: value and path are mutually exclusive", ErrInvalidArgument)
	case upd.Value != nil:
		if upd.Conversion != convert.TagNone {
			return fmt.Errorf("%w: inline values carry an inferred conversion tag", ErrInvalidArgument)
		}
		inferred, e, arg, err := m.codec.Dump(*upd.Value, convert.TagNone)
		if err != nil {
			return err
		}
		tag, expr, valueArg = nullableTag(inferred), e, arg
	case upd.Path != "":
		if upd.Conversion == convert.TagNone {
			return fmt.Errorf("%w: external content requires a conversion tag", ErrInvalidArgument)
		}
		stored, err := m.paths.Store(upd.Path)
		if err != nil {
			return err
		}
		tag, expr, pathArg = string(upd.Conversion), "?", stored
	default:
		expr = "?"
	}
	res, err := m.conn.Exec(ctx,
		"UPDATE Content SET conversion = ?, value = "+expr+", path = ? WHERE content_id = ?",
		tag, valueArg, pathArg, id)
	if err != nil {
		return fmt.Errorf("update content %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: content %d", ErrNotFound, id)
	}
	return nil
}

// Delete removes a content row. ContentInfo rows cascade away with it. The
// external payload file, if any, is left on disk.
func (m *ContentManager) Delete(ctx context.Context, id int64) error {
	res, err := m.conn.Exec(ctx, "DELETE FROM Content WHERE content_id = ?", id)
	if err != nil {
		return fmt.Errorf("delete content %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: content %d", ErrNotFound, id)
	}
	return nil
}

const contentColumns = "content_id, episode_no, content_no, kind, conversion, " +
	convert.SelectValueExpr + ", path, added_at"

// Get fetches a content row by id.
func (m *ContentManager) Get(ctx context.Context, id int64) (Content, error) {
	row, err := m.conn.QueryRow(ctx,
		"SELECT "+contentColumns+" FROM Content WHERE content_id = ?", id)
	if err != nil {
		return Content{}, err
	}
	rec, err := m.scanContent(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Content{}, fmt.Errorf("%w: content %d", ErrNotFound, id)
		}
		return Content{}, fmt.Errorf("get content %d: %w", id, err)
	}
	return rec, nil
}

// Iterate returns unresolved handles for content rows, newest filters first:
// a nil episodeNo or kind matches every row.
func (m *ContentManager) Iterate(ctx context.Context, episodeNo *int64, kind *string) ([]*ContentHandle, error) {
	rows, err := m.conn.Query(ctx,
		"SELECT content_id FROM Content WHERE (?1 IS NULL OR episode_no = ?1) AND (?2 IS NULL OR kind = ?2) ORDER BY content_id",
		episodeNo, kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var handles []*ContentHandle
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		handles = append(handles, m.Handle(id))
	}
	return handles, rows.Err()
}

// Len counts content rows, optionally within one episode.
func (m *ContentManager) Len(ctx context.Context, episodeNo *int64) (int, error) {
	row, err := m.conn.QueryRow(ctx,
		"SELECT count() FROM Content WHERE ?1 IS NULL OR episode_no = ?1", episodeNo)
	if err != nil {
		return 0, err
	}
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// Materialize reads a row's external payload into a value. With persist set
// the value moves inline and the path column is cleared; the payload file
// itself stays on disk.
func (m *ContentManager) Materialize(ctx context.Context, h *ContentHandle, persist bool) (convert.Value, error) {
	rec, err := h.Resolve(ctx, true)
	if err != nil {
		return convert.Value{}, err
	}
	if !rec.External() {
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
		if err := m.Update(ctx, rec.ContentID, ContentUpdate{Value: &value}); err != nil {
			return convert.Value{}, err
		}
		h.record = nil
	}
	return value, nil
}

// Spill writes a row's inline value to an external file and repoints the row
// at it. A row that is already external is left alone; its existing path is
// returned.
func (m *ContentManager) Spill(ctx context.Context, h *ContentHandle, path string, mkdir bool) (string, error) {
	rec, err := h.Resolve(ctx, true)
	if err != nil {
		return "", err
	}
	if rec.External() {
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
	if err := fileutil.WritePayload(path, data, mkdir); err != nil {
		return "", err
	}
	if err := m.Update(ctx, rec.ContentID, ContentUpdate{Path: path, Conversion: tag}); err != nil {
		fileutil.RemoveQuiet(path)
		return "", err
	}
	h.record = nil
	return path, nil
}

// SetInfo stores a ContentInfo value under (id, kind).
func (m *ContentManager) SetInfo(ctx context.Context, id int64, kind string, value convert.Value, replace bool) error {
	tag, expr, arg, err := m.codec.Dump(value, convert.TagNone)
	if err != nil {
		return err
	}
	verb := "INSERT"
	if replace {
		verb = "INSERT OR REPLACE"
	}
	_, err = m.conn.Exec(ctx,
		verb+" INTO ContentInfo (content_id, kind, conversion, value) VALUES (?, ?, ?, "+expr+")",
		id, kind, nullableTag(tag), arg)
	if err != nil {
		return fmt.Errorf("set content %d info %q: %w", id, kind, err)
	}
	return nil
}

// Info returns the ContentInfo value under (id, kind).
func (m *ContentManager) Info(ctx context.Context, id int64, kind string) (convert.Value, error) {
	row, err := m.conn.QueryRow(ctx,
		"SELECT conversion, "+convert.SelectValueExpr+" FROM ContentInfo WHERE content_id = ? AND kind = ?",
		id, kind)
	if err != nil {
		return convert.Value{}, err
	}
	var conversion sql.NullString
	var stored any
	if err := row.Scan(&conversion, &stored); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return convert.Value{}, fmt.Errorf("%w: content %d info %q", ErrNotFound, id, kind)
		}
		return convert.Value{}, fmt.Errorf("get content %d info %q: %w", id, kind, err)
	}
	return m.codec.Load(tagOf(conversion), stored)
}

// InfoAll returns every ContentInfo value of a row keyed by kind.
func (m *ContentManager) InfoAll(ctx context.Context, id int64) (map[string]convert.Value, error) {
	rows, err := m.conn.Query(ctx,
		"SELECT kind, conversion, "+convert.SelectValueExpr+" FROM ContentInfo WHERE content_id = ?", id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	values := make(map[string]convert.Value)
	for rows.Next() {
		var kind string
		var conversion sql.NullString
		var stored any
		if err := rows.Scan(&kind, &conversion, &stored); err != nil {
			return nil, err
		}
		value, err := m.codec.Load(tagOf(conversion), stored)
		if err != nil {
			return nil, err
		}
		values[kind] = value
	}
	return values, rows.Err()
}

// DeleteInfo removes the ContentInfo row under (id, kind).
func (m *ContentManager) DeleteInfo(ctx context.Context, id int64, kind string) error {
	res, err := m.conn.Exec(ctx,
		"DELETE FROM ContentInfo WHERE content_id = ? AND kind = ?", id, kind)
	if err != nil {
		return fmt.Errorf("delete content %d info %q: %w", id, kind, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: content %d info %q", ErrNotFound, id, kind)
	}
	return nil
}

// scanContent decodes one content row from a scan function over the
// contentColumns projection.
func (m *ContentManager) scanContent(scan func(...any) error) (Content, error) {
	var (
		rec        Content
		conversion sql.NullString
		stored     any
		storedPath sql.NullString
		addedAt    float64
	)
	if err := scan(&rec.ContentID, &rec.EpisodeNo, &rec.ContentNo, &rec.Kind,
		&conversion, &stored, &storedPath, &addedAt); err != nil {
		return Content{}, err
	}
	rec.Conversion = tagOf(conversion)
	rec.AddedAt = container.FromTimestamp(addedAt)
	if storedPath.Valid {
		external, err := m.paths.Load(storedPath.String)
		if err != nil {
			return Content{}, err
		}
		rec.Path = external
		rec.Value = convert.Null()
		return rec, nil
	}
	value, err := m.codec.Load(rec.Conversion, stored)
	if err != nil {
		return Content{}, err
	}
	rec.Value = value
	return rec, nil
}
