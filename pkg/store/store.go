// Package store persists the mirror in SQLite.
//
// A [DB] owns two connection pools on the same file: a single-connection
// writer through which every mutation goes, and a read-only pool for queries
// such as the stale-page selection. Readers may see a state slightly behind
// in-flight writes; with WAL journaling they never block the writer.
//
// All multi-row mutations run in one transaction each, so a batch is either
// fully applied or not at all.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/matzehuels/pypidata/pkg/errors"
)

const driver = "sqlite3"

// DB is the mirror database.
type DB struct {
	w    *sql.DB
	r    *sql.DB
	path string
}

// Open opens (creating if needed) the database at path and ensures the
// schema exists. path may be a plain file name or a "file:" URI.
func Open(ctx context.Context, path string) (*DB, error) {
	if err := errors.ValidateDatabasePath(path); err != nil {
		return nil, err
	}

	w, err := sql.Open(driver, dsn(path, "_journal_mode=WAL", "_busy_timeout=10000", "_synchronous=NORMAL", "_txlock=immediate"))
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeStorage, err, "open %s", path)
	}
	w.SetMaxOpenConns(1)

	if _, err := w.ExecContext(ctx, schema); err != nil {
		w.Close()
		return nil, errors.Wrap(errors.ErrCodeStorage, err, "create schema")
	}

	r := w
	if !strings.HasPrefix(path, "file:") {
		r, err = sql.Open(driver, dsn(path, "mode=ro", "_busy_timeout=10000"))
		if err != nil {
			w.Close()
			return nil, errors.Wrap(errors.ErrCodeStorage, err, "open %s read-only", path)
		}
		r.SetMaxOpenConns(4)
	}

	return &DB{w: w, r: r, path: path}, nil
}

func dsn(path string, params ...string) string {
	if !strings.HasPrefix(path, "file:") {
		path = "file:" + path
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + strings.Join(params, "&")
}

// Path returns the path the database was opened with.
func (db *DB) Path() string { return db.path }

// Close closes both pools.
func (db *DB) Close() error {
	var err error
	if db.r != db.w {
		err = db.r.Close()
	}
	if werr := db.w.Close(); werr != nil {
		err = werr
	}
	return err
}

// tx runs fn in a writer transaction, committing on success.
func (db *DB) tx(ctx context.Context, what string, fn func(*sql.Tx) error) error {
	tx, err := db.w.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(errors.ErrCodeStorage, err, "begin %s", what)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		if errors.GetCode(err) != "" {
			return err
		}
		return errors.Wrap(errors.ErrCodeStorage, err, "%s", what)
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(errors.ErrCodeStorage, err, "commit %s", what)
	}
	return nil
}

func storageErr(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(errors.ErrCodeStorage, err, format, args...)
}

// Stats summarizes the mirror contents.
type Stats struct {
	Packages    int64
	Watermark   int64
	Changelog   int64
	JSONPages   int64
	SimplePages int64
	Tombstones  int64
	FileRecords int64
}

// Stats counts rows in the main tables.
func (db *DB) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	row := db.r.QueryRowContext(ctx, `
		SELECT
			(SELECT count(*) FROM packages),
			(SELECT coalesce(max(serial), 0) FROM changelog),
			(SELECT count(*) FROM changelog),
			(SELECT count(*) FROM json_pages),
			(SELECT count(*) FROM simple_pages),
			(SELECT count(*) FROM json_pages WHERE body IS NULL) +
			(SELECT count(*) FROM simple_pages WHERE body IS NULL),
			(SELECT count(*) FROM file_records)`)
	err := row.Scan(&s.Packages, &s.Watermark, &s.Changelog, &s.JSONPages, &s.SimplePages, &s.Tombstones, &s.FileRecords)
	return s, storageErr(err, "read stats")
}

func quoteTable(t string) string { return fmt.Sprintf("%q", t) }
