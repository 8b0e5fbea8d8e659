package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"wbtn/internal/container"
	"wbtn/internal/convert"
)

// Episode is one row of the Episode table.
type Episode struct {
	EpisodeNo int64
	AddedAt   time.Time
}

// EpisodeManager maintains Episode rows and their EpisodeInfo metadata.
type EpisodeManager struct {
	conn  *container.Manager
	codec *convert.Codec
}

// NewEpisodeManager builds an EpisodeManager on the given connection and
// codec.
func NewEpisodeManager(conn *container.Manager, codec *convert.Codec) *EpisodeManager {
	return &EpisodeManager{conn: conn, codec: codec}
}

// Add inserts an episode and returns its number. With episodeNo nil the
// store assigns the next number.
func (m *EpisodeManager) Add(ctx context.Context, episodeNo *int64) (int64, error) {
	var no any
	if episodeNo != nil {
		no = *episodeNo
	}
	res, err := m.conn.Exec(ctx,
		"INSERT INTO Episode (episode_no, added_at) VALUES (?, ?)",
		no, timestampNow())
	if err != nil {
		return 0, fmt.Errorf("add episode: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("add episode: %w", err)
	}
	return id, nil
}

// Get fetches an episode row by number.
func (m *EpisodeManager) Get(ctx context.Context, episodeNo int64) (Episode, error) {
	row, err := m.conn.QueryRow(ctx,
		"SELECT episode_no, added_at FROM Episode WHERE episode_no = ?", episodeNo)
	if err != nil {
		return Episode{}, err
	}
	var no int64
	var addedAt float64
	if err := row.Scan(&no, &addedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Episode{}, fmt.Errorf("%w: episode %d", ErrNotFound, episodeNo)
		}
		return Episode{}, fmt.Errorf("get episode %d: %w", episodeNo, err)
	}
	return Episode{EpisodeNo: no, AddedAt: container.FromTimestamp(addedAt)}, nil
}

// Exists reports whether an episode number is present.
func (m *EpisodeManager) Exists(ctx context.Context, episodeNo int64) (bool, error) {
	row, err := m.conn.QueryRow(ctx,
		"SELECT 1 FROM Episode WHERE episode_no = ?", episodeNo)
	if err != nil {
		return false, err
	}
	var one int
	if err := row.Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Delete removes an episode. EpisodeInfo and Content rows (and their
// ContentInfo rows) cascade away with it.
func (m *EpisodeManager) Delete(ctx context.Context, episodeNo int64) error {
	res, err := m.conn.Exec(ctx, "DELETE FROM Episode WHERE episode_no = ?", episodeNo)
	if err != nil {
		return fmt.Errorf("delete episode %d: %w", episodeNo, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: episode %d", ErrNotFound, episodeNo)
	}
	return nil
}

// List returns every episode ordered by number.
func (m *EpisodeManager) List(ctx context.Context) ([]Episode, error) {
	rows, err := m.conn.Query(ctx,
		"SELECT episode_no, added_at FROM Episode ORDER BY episode_no")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var episodes []Episode
	for rows.Next() {
		var no int64
		var addedAt float64
		if err := rows.Scan(&no, &addedAt); err != nil {
			return nil, err
		}
		episodes = append(episodes, Episode{EpisodeNo: no, AddedAt: container.FromTimestamp(addedAt)})
	}
	return episodes, rows.Err()
}

// SetInfo stores an EpisodeInfo value under (episodeNo, kind). With replace
// unset, an existing row under the same kind aborts the insert.
func (m *EpisodeManager) SetInfo(ctx context.Context, episodeNo int64, kind string, value convert.Value, replace bool) error {
	tag, expr, arg, err := m.codec.Dump(value, convert.TagNone)
	if err != nil {
		return err
	}
	verb := "INSERT"
	if replace {
		verb = "INSERT OR REPLACE"
	}
	_, err = m.conn.Exec(ctx,
		verb+" INTO EpisodeInfo (episode_no, kind, conversion, value) VALUES (?, ?, ?, "+expr+")",
		episodeNo, kind, nullableTag(tag), arg)
	if err != nil {
		return fmt.Errorf("set episode %d info %q: %w", episodeNo, kind, err)
	}
	return nil
}

// Info returns the EpisodeInfo value under (episodeNo, kind).
func (m *EpisodeManager) Info(ctx context.Context, episodeNo int64, kind string) (convert.Value, error) {
	row, err := m.conn.QueryRow(ctx,
		"SELECT conversion, "+convert.SelectValueExpr+" FROM EpisodeInfo WHERE episode_no = ? AND kind = ?",
		episodeNo, kind)
	if err != nil {
		return convert.Value{}, err
	}
	var conversion sql.NullString
	var stored any
	if err := row.Scan(&conversion, &stored); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return convert.Value{}, fmt.Errorf("%w: episode %d info %q", ErrNotFound, episodeNo, kind)
		}
		return convert.Value{}, fmt.Errorf("get episode %d info %q: %w", episodeNo, kind, err)
	}
	return m.codec.Load(tagOf(conversion), stored)
}

// InfoAll returns every EpisodeInfo value of an episode keyed by kind.
func (m *EpisodeManager) InfoAll(ctx context.Context, episodeNo int64) (map[string]convert.Value, error) {
	rows, err := m.conn.Query(ctx,
		"SELECT kind, conversion, "+convert.SelectValueExpr+" FROM EpisodeInfo WHERE episode_no = ?",
		episodeNo)
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

// InfoKinds lists the EpisodeInfo kinds recorded for an episode.
func (m *EpisodeManager) InfoKinds(ctx context.Context, episodeNo int64) ([]string, error) {
	rows, err := m.conn.Query(ctx,
		"SELECT kind FROM EpisodeInfo WHERE episode_no = ? ORDER BY kind", episodeNo)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var kinds []string
	for rows.Next() {
		var kind string
		if err := rows.Scan(&kind); err != nil {
			return nil, err
		}
		kinds = append(kinds, kind)
	}
	return kinds, rows.Err()
}

// DeleteInfo removes the EpisodeInfo row under (episodeNo, kind).
func (m *EpisodeManager) DeleteInfo(ctx context.Context, episodeNo int64, kind string) error {
	res, err := m.conn.Exec(ctx,
		"DELETE FROM EpisodeInfo WHERE episode_no = ? AND kind = ?", episodeNo, kind)
	if err != nil {
		return fmt.Errorf("delete episode %d info %q: %w", episodeNo, kind, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: episode %d info %q", ErrNotFound, episodeNo, kind)
	}
	return nil
}
