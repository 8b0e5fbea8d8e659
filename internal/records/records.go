// Package records implements the row managers for the six container tables
// and the lazy two-state handles over Content and ExtraFile rows. Managers
// execute statements through the connection manager, encode and decode row
// values through the conversion codec, and virtualize path columns through
// the path layer.
package records

import (
	"database/sql"
	"errors"
	"time"

	"wbtn/internal/container"
	"wbtn/internal/convert"
)

var (
	// ErrNotFound is returned when an id or key does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument is returned for operations given an impossible
	// combination of inline value, path and conversion tag.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrProtectedKey is returned when a sys_-prefixed Info key would be
	// deleted without the explicit override.
	ErrProtectedKey = errors.New("protected system key")
)

func timestampNow() float64 {
	return container.Timestamp(time.Now())
}

// tagOf widens a nullable conversion column into a Tag.
func tagOf(conversion sql.NullString) convert.Tag {
	if !conversion.Valid {
		return convert.TagNone
	}
	return convert.Tag(conversion.String)
}

// nullableTag narrows a Tag into its stored form.
func nullableTag(tag convert.Tag) any {
	if tag == convert.TagNone {
		return nil
	}
	return string(tag)
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
