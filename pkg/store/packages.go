package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Package is one row of the package table, the source of truth for which
// pages are stale.
type Package struct {
	Name        string // normalized
	DisplayName string
	LastSerial  int64
}

// ChangelogEntry is one event of the index change feed.
type ChangelogEntry struct {
	Name        string // normalized
	DisplayName string
	Version     string
	Timestamp   time.Time
	Action      string
	Serial      int64
}

const upsertPackageSQL = `
INSERT INTO packages (name, display_name, last_serial)
VALUES (?, ?, ?)
ON CONFLICT(name) DO UPDATE SET
    display_name = CASE WHEN excluded.display_name != '' THEN excluded.display_name ELSE packages.display_name END,
    last_serial = max(packages.last_serial, excluded.last_serial)`

// UpsertPackages inserts or updates packages in one transaction. A stored
// last_serial is never lowered.
func (db *DB) UpsertPackages(ctx context.Context, pkgs []Package) error {
	if len(pkgs) == 0 {
		return nil
	}
	return db.tx(ctx, "upsert packages", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, upsertPackageSQL)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, p := range pkgs {
			if _, err := stmt.ExecContext(ctx, p.Name, p.DisplayName, p.LastSerial); err != nil {
				return err
			}
		}
		return nil
	})
}

// Package returns the named package.
func (db *DB) Package(ctx context.Context, name string) (Package, bool, error) {
	var p Package
	err := db.r.QueryRowContext(ctx,
		`SELECT name, display_name, last_serial FROM packages WHERE name = ?`, name,
	).Scan(&p.Name, &p.DisplayName, &p.LastSerial)
	if errors.Is(err, sql.ErrNoRows) {
		return Package{}, false, nil
	}
	if err != nil {
		return Package{}, false, storageErr(err, "read package %s", name)
	}
	return p, true, nil
}

// Watermark returns the highest changelog serial stored, 0 when empty.
func (db *DB) Watermark(ctx context.Context) (int64, error) {
	var w int64
	err := db.w.QueryRowContext(ctx, `SELECT coalesce(max(serial), 0) FROM changelog`).Scan(&w)
	return w, storageErr(err, "read watermark")
}

// AppendChangelog stores a batch of changelog entries and raises the serial
// of every package they mention, in one transaction. Since the watermark is
// the maximum stored serial, it advances atomically with the batch.
// Entries already present are ignored.
func (db *DB) AppendChangelog(ctx context.Context, entries []ChangelogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return db.tx(ctx, "append changelog", func(tx *sql.Tx) error {
		ins, err := tx.PrepareContext(ctx, `
			INSERT INTO changelog (name, display_name, version, timestamp, action, serial)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT DO NOTHING`)
		if err != nil {
			return err
		}
		defer ins.Close()
		up, err := tx.PrepareContext(ctx, upsertPackageSQL)
		if err != nil {
			return err
		}
		defer up.Close()

		for _, e := range entries {
			if _, err := ins.ExecContext(ctx, e.Name, e.DisplayName, e.Version, e.Timestamp.Unix(), e.Action, e.Serial); err != nil {
				return err
			}
			if _, err := up.ExecContext(ctx, e.Name, e.DisplayName, e.Serial); err != nil {
				return err
			}
		}
		return nil
	})
}

// Changelog returns up to limit entries with serial greater than after, in
// serial order. A non-positive limit returns everything.
func (db *DB) Changelog(ctx context.Context, after int64, limit int) ([]ChangelogEntry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.r.QueryContext(ctx, `
		SELECT name, display_name, version, timestamp, action, serial
		FROM changelog WHERE serial > ?
		ORDER BY serial, rowid LIMIT ?`, after, limit)
	if err != nil {
		return nil, storageErr(err, "read changelog")
	}
	defer rows.Close()

	var out []ChangelogEntry
	for rows.Next() {
		var e ChangelogEntry
		var ts int64
		if err := rows.Scan(&e.Name, &e.DisplayName, &e.Version, &ts, &e.Action, &e.Serial); err != nil {
			return nil, storageErr(err, "scan changelog")
		}
		e.Timestamp = time.Unix(ts, 0).UTC()
		out = append(out, e)
	}
	return out, storageErr(rows.Err(), "read changelog")
}
