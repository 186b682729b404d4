// Package statsdb provides an optional embedded-SQL side store for
// statistics.json/import-history.json snapshots, and the CLI's local
// scratch database for `axiomgraph stats`. It is an accelerant over the
// storage adapter's JSON singletons, not a replacement for them — the
// adapter's index.json/metadata-index.json/graph-adjacency.json remain the
// durable source of truth (spec §6).
package statsdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps a local SQLite file recording periodic statistics snapshots and
// import-history entries for fast local inspection (`axiomgraph stats`
// prints the recent imports) without re-scanning the storage adapter.
type DB struct {
	sql *sql.DB
}

// Open creates (if needed) the schema at path.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS statistics_snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			taken_at TEXT NOT NULL,
			payload TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS import_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			started_at TEXT NOT NULL,
			finished_at TEXT,
			entities INTEGER NOT NULL DEFAULT 0,
			relationships INTEGER NOT NULL DEFAULT 0,
			errors INTEGER NOT NULL DEFAULT 0,
			source TEXT NOT NULL
		);
	`); err != nil {
		db.Close()
		return nil, err
	}
	return &DB{sql: db}, nil
}

// Close closes the underlying SQLite handle.
func (d *DB) Close() error { return d.sql.Close() }

// RecordSnapshot persists a statistics() payload for later trend queries.
func (d *DB) RecordSnapshot(ctx context.Context, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = d.sql.ExecContext(ctx,
		`INSERT INTO statistics_snapshots (taken_at, payload) VALUES (?, ?)`,
		time.Now().Format(time.RFC3339Nano), string(data))
	return err
}

// ImportRecord is one append-only import-history.json row.
type ImportRecord struct {
	StartedAt     time.Time
	FinishedAt    time.Time
	Entities      int
	Relationships int
	Errors        int
	Source        string
}

// RecordImport appends an import-history entry.
func (d *DB) RecordImport(ctx context.Context, rec ImportRecord) error {
	_, err := d.sql.ExecContext(ctx,
		`INSERT INTO import_history (started_at, finished_at, entities, relationships, errors, source) VALUES (?, ?, ?, ?, ?, ?)`,
		rec.StartedAt.Format(time.RFC3339Nano), rec.FinishedAt.Format(time.RFC3339Nano),
		rec.Entities, rec.Relationships, rec.Errors, rec.Source)
	return err
}

// RecentImports returns the most recent n import-history rows, newest
// first.
func (d *DB) RecentImports(ctx context.Context, n int) ([]ImportRecord, error) {
	rows, err := d.sql.QueryContext(ctx,
		`SELECT started_at, finished_at, entities, relationships, errors, source
		 FROM import_history ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ImportRecord
	for rows.Next() {
		var rec ImportRecord
		var started, finished string
		if err := rows.Scan(&started, &finished, &rec.Entities, &rec.Relationships, &rec.Errors, &rec.Source); err != nil {
			return nil, err
		}
		rec.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		rec.FinishedAt, _ = time.Parse(time.RFC3339Nano, finished)
		out = append(out, rec)
	}
	return out, rows.Err()
}
