package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"wbtn/internal/container"
	"wbtn/internal/convert"
)

// systemPrefix marks Info keys owned by the container itself. They carry
// extra deletion protection.
const systemPrefix = "sys_"

// InfoManager reads and writes the container-wide Info table.
type InfoManager struct {
	conn  *container.Manager
	codec *convert.Codec
}

// NewInfoManager builds an InfoManager on the given connection and codec.
func NewInfoManager(conn *container.Manager, codec *convert.Codec) *InfoManager {
	return &InfoManager{conn: conn, codec: codec}
}

// Get returns the value stored under name, or ErrNotFound.
func (m *InfoManager) Get(ctx context.Context, name string) (convert.Value, error) {
	row, err := m.conn.QueryRow(ctx,
		"SELECT conversion, "+convert.SelectValueExpr+" FROM Info WHERE name = ?", name)
	if err != nil {
		return convert.Value{}, err
	}
	var conversion sql.NullString
	var stored any
	if err := row.Scan(&conversion, &stored); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return convert.Value{}, fmt.Errorf("%w: info %q", ErrNotFound, name)
		}
		return convert.Value{}, fmt.Errorf("get info %q: %w", name, err)
	}
	return m.codec.Load(tagOf(conversion), stored)
}

// Set stores a value under name, replacing any previous row.
func (m *InfoManager) Set(ctx context.Context, name string, value convert.Value) error {
	tag, expr, arg, err := m.codec.Dump(value, convert.TagNone)
	if err != nil {
		return err
	}
	_, err = m.conn.Exec(ctx,
		"INSERT OR REPLACE INTO Info (name, conversion, value) VALUES (?, ?, "+expr+")",
		name, nullableTag(tag), arg)
	if err != nil {
		return fmt.Errorf("set info %q: %w", name, err)
	}
	return nil
}

// SetDefault stores a value under name only when the name is absent.
func (m *InfoManager) SetDefault(ctx context.Context, name string, value convert.Value) error {
	tag, expr, arg, err := m.codec.Dump(value, convert.TagNone)
	if err != nil {
		return err
	}
	_, err = m.conn.Exec(ctx,
		"INSERT OR IGNORE INTO Info (name, conversion, value) VALUES (?, ?, "+expr+")",
		name, nullableTag(tag), arg)
	if err != nil {
		return fmt.Errorf("set default info %q: %w", name, err)
	}
	return nil
}

// Delete removes the row under name. System keys require deleteSystem.
func (m *InfoManager) Delete(ctx context.Context, name string, deleteSystem bool) error {
	if !deleteSystem && strings.HasPrefix(name, systemPrefix) {
		return fmt.Errorf("%w: %q", ErrProtectedKey, name)
	}
	res, err := m.conn.Exec(ctx, "DELETE FROM Info WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("delete info %q: %w", name, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: info %q", ErrNotFound, name)
	}
	return nil
}

// Pop returns the value under name and removes the row.
func (m *InfoManager) Pop(ctx context.Context, name string, deleteSystem bool) (convert.Value, error) {
	value, err := m.Get(ctx, name)
	if err != nil {
		return convert.Value{}, err
	}
	if err := m.Delete(ctx, name, deleteSystem); err != nil {
		return convert.Value{}, err
	}
	return value, nil
}

// Names lists every Info key.
func (m *InfoManager) Names(ctx context.Context) ([]string, error) {
	rows, err := m.conn.Query(ctx, "SELECT name FROM Info ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Len counts the Info rows.
func (m *InfoManager) Len(ctx context.Context) (int, error) {
	row, err := m.conn.QueryRow(ctx, "SELECT count() FROM Info")
	if err != nil {
		return 0, err
	}
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// Clear removes every Info row; without deleteSystem the sys_ rows stay.
func (m *InfoManager) Clear(ctx context.Context, deleteSystem bool) error {
	query := `DELETE FROM Info WHERE name NOT LIKE 'sys\_%' ESCAPE '\'`
	if deleteSystem {
		query = "DELETE FROM Info"
	}
	if _, err := m.conn.Exec(ctx, query); err != nil {
		return fmt.Errorf("clear info: %w", err)
	}
	return nil
}

// Conversion returns the stored conversion tag under name without loading
// the value.
func (m *InfoManager) Conversion(ctx context.Context, name string) (convert.Tag, error) {
	row, err := m.conn.QueryRow(ctx, "SELECT conversion FROM Info WHERE name = ?", name)
	if err != nil {
		return convert.TagNone, err
	}
	var conversion sql.NullString
	if err := row.Scan(&conversion); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return convert.TagNone, fmt.Errorf("%w: info %q", ErrNotFound, name)
		}
		return convert.TagNone, err
	}
	return tagOf(conversion), nil
}
