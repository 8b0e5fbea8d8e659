package container

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// The six container tables. Every column able to hold a user value is
// paired with a conversion column recording how to reconstruct it.
var tableDDL = []string{
	`CREATE TABLE IF NOT EXISTS Info (
		name TEXT UNIQUE NOT NULL,
		conversion TEXT,
		value
	)`,
	`CREATE TABLE IF NOT EXISTS Episode (
		episode_no INTEGER PRIMARY KEY NOT NULL,
		added_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS EpisodeInfo (
		episode_no INTEGER NOT NULL,
		kind TEXT NOT NULL,
		value,
		conversion TEXT,
		UNIQUE (episode_no, kind) ON CONFLICT ABORT,
		FOREIGN KEY(episode_no) REFERENCES Episode(episode_no) ON DELETE CASCADE ON UPDATE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS Content (
		content_id INTEGER PRIMARY KEY NOT NULL,
		episode_no INTEGER NOT NULL,
		content_no INTEGER NOT NULL,
		kind TEXT NOT NULL,
		value,
		conversion TEXT,
		path,
		added_at TIMESTAMP NOT NULL,
		UNIQUE (episode_no, content_no, kind) ON CONFLICT ABORT,
		FOREIGN KEY(episode_no) REFERENCES Episode(episode_no) ON DELETE CASCADE ON UPDATE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS ContentInfo (
		content_id INTEGER NOT NULL,
		kind TEXT NOT NULL,
		value,
		conversion TEXT,
		UNIQUE (content_id, kind) ON CONFLICT ABORT,
		FOREIGN KEY(content_id) REFERENCES Content(content_id) ON DELETE CASCADE ON UPDATE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS ExtraFile (
		file_id INTEGER PRIMARY KEY NOT NULL,
		kind TEXT,
		value,
		conversion TEXT,
		path UNIQUE NOT NULL,
		added_at TIMESTAMP NOT NULL
	)`,
}

func createTables(ctx context.Context, db *sql.DB) error {
	for _, ddl := range tableDDL {
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create tables: %w", err)
		}
	}
	return nil
}

// insertBaselineInfo seeds the system rows of a brand-new container.
func insertBaselineInfo(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO Info (name, conversion, value) VALUES
		('sys_agent', NULL, 'wbtn-go'),
		('sys_agent_version', NULL, ?),
		('sys_created_at', NULL, ?),
		('sys_base_directory', NULL, NULL),
		('sys_packager', NULL, NULL),
		('sys_platform', NULL, NULL)`,
		Version,
		Timestamp(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("insert baseline info: %w", err)
	}
	return nil
}

// Timestamp converts a time into the unix-seconds REAL stored in added_at
// and sys_created_at columns.
func Timestamp(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// FromTimestamp converts a stored unix-seconds REAL back into a time.
func FromTimestamp(ts float64) time.Time {
	return time.Unix(0, int64(ts*float64(time.Second)))
}
