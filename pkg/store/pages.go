package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/matzehuels/pypidata/pkg/pages"
)

// PageOp is what a [PageWrite] does to the stored page.
type PageOp int

const (
	// OpStore replaces the page body and its decoded records.
	OpStore PageOp = iota
	// OpTombstone records that the page is gone and drops decoded records.
	OpTombstone
	// OpTouch revalidates an unchanged page: only the serial and fetch
	// time move, the body is kept.
	OpTouch
)

func (op PageOp) String() string {
	switch op {
	case OpStore:
		return "store"
	case OpTombstone:
		return "tombstone"
	case OpTouch:
		return "touch"
	}
	return fmt.Sprintf("PageOp(%d)", int(op))
}

// PageWrite is one page mutation, keyed by (Kind, Name).
type PageWrite struct {
	Op        PageOp
	Kind      pages.Kind
	Name      string
	URL       string
	ETag      string
	Serial    pages.Serial
	Body      []byte         // raw body for OpStore
	Decoded   *pages.Decoded // decoded records for OpStore, may be nil
	FetchedAt time.Time
}

// Stale is a package whose page of some kind is older than the package.
type Stale struct {
	Name       string
	LastSerial int64
	PageSerial int64 // 0 when never fetched or serial unknown
	ETag       string
}

// OutOfDate lists packages whose last_serial exceeds the stored serial of
// their page of the given kind. A missing page or an unknown page serial
// counts as 0. Results are ordered by name; a non-positive limit means all.
func (db *DB) OutOfDate(ctx context.Context, kind pages.Kind, limit int) ([]Stale, error) {
	if limit <= 0 {
		limit = -1
	}
	q := fmt.Sprintf(`
		SELECT p.name, p.last_serial, coalesce(d.serial, 0), coalesce(d.etag, '')
		FROM packages p LEFT JOIN %s d ON d.name = p.name
		WHERE p.last_serial > coalesce(d.serial, 0)
		ORDER BY p.name
		LIMIT ?`, quoteTable(kind.Table()))

	rows, err := db.r.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, storageErr(err, "select stale %s pages", kind)
	}
	defer rows.Close()

	var out []Stale
	for rows.Next() {
		var s Stale
		if err := rows.Scan(&s.Name, &s.LastSerial, &s.PageSerial, &s.ETag); err != nil {
			return nil, storageErr(err, "scan stale %s page", kind)
		}
		out = append(out, s)
	}
	return out, storageErr(rows.Err(), "select stale %s pages", kind)
}

// PageState is the stored metadata of a page, without its body.
type PageState struct {
	Name      string
	Serial    pages.Serial
	URL       string
	ETag      string
	Gone      bool
	FetchedAt time.Time
}

// PageStates returns the stored state of the named pages that exist.
// Unknown names are absent from the map.
func (db *DB) PageStates(ctx context.Context, kind pages.Kind, names []string) (map[string]PageState, error) {
	out := make(map[string]PageState, len(names))
	stmt, err := db.r.PrepareContext(ctx, fmt.Sprintf(`
		SELECT name, serial, serial_source, url, coalesce(etag, ''), body IS NULL, fetched_at
		FROM %s WHERE name = ?`, quoteTable(kind.Table())))
	if err != nil {
		return nil, storageErr(err, "read %s page state", kind)
	}
	defer stmt.Close()

	for _, name := range names {
		var st PageState
		var serial sql.NullInt64
		var source string
		err := stmt.QueryRowContext(ctx, name).Scan(&st.Name, &serial, &source, &st.URL, &st.ETag, &st.Gone, &st.FetchedAt)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, storageErr(err, "read %s page state for %s", kind, name)
		}
		st.Serial = pages.Serial{Value: serial.Int64, Source: pages.SerialSource(source)}
		if !serial.Valid {
			st.Serial = pages.Unknown()
		}
		out[name] = st
	}
	return out, nil
}

// Page returns the decompressed body of a stored page. gone is true for a
// tombstone; ok is false when the page was never stored.
func (db *DB) Page(ctx context.Context, kind pages.Kind, name string) (body []byte, gone, ok bool, err error) {
	var data []byte
	err = db.r.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT body FROM %s WHERE name = ?`, quoteTable(kind.Table())), name,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, false, nil
	}
	if err != nil {
		return nil, false, false, storageErr(err, "read %s page %s", kind, name)
	}
	if data == nil {
		return nil, true, true, nil
	}
	body, err = pages.Decompress(data)
	if err != nil {
		return nil, false, true, storageErr(err, "decompress %s page %s", kind, name)
	}
	return body, false, true, nil
}

// ApplyPages applies a batch of page writes in one transaction. Writes are
// applied in order, so a later write of the same (kind, name) wins.
func (db *DB) ApplyPages(ctx context.Context, batch []PageWrite) error {
	if len(batch) == 0 {
		return nil
	}
	return db.tx(ctx, fmt.Sprintf("apply batch of %d pages", len(batch)), func(tx *sql.Tx) error {
		for i := range batch {
			if err := applyPage(ctx, tx, &batch[i]); err != nil {
				return fmt.Errorf("%s %s page %s: %w", batch[i].Op, batch[i].Kind, batch[i].Name, err)
			}
		}
		return nil
	})
}

func applyPage(ctx context.Context, tx *sql.Tx, w *PageWrite) error {
	table := quoteTable(w.Kind.Table())
	fetched := w.FetchedAt
	if fetched.IsZero() {
		fetched = time.Now().UTC()
	}

	var serial sql.NullInt64
	if w.Serial.Known() {
		serial = sql.NullInt64{Int64: w.Serial.Value, Valid: true}
	}
	source := string(w.Serial.Source)
	if source == "" {
		source = string(pages.SerialUnknown)
	}

	switch w.Op {
	case OpTouch:
		_, err := tx.ExecContext(ctx, fmt.Sprintf(`
			UPDATE %s SET
				serial = CASE WHEN ? IS NULL THEN serial ELSE max(coalesce(serial, 0), ?) END,
				serial_source = CASE WHEN ? IS NULL THEN serial_source ELSE ? END,
				etag = CASE WHEN ? != '' THEN ? ELSE etag END,
				fetched_at = ?
			WHERE name = ?`, table),
			serial, serial, serial, source, w.ETag, w.ETag, fetched, w.Name)
		return err

	case OpStore, OpTombstone:
		var body []byte
		if w.Op == OpStore {
			var err error
			if body, err = pages.Compress(w.Body); err != nil {
				return err
			}
		}
		var etag sql.NullString
		if w.ETag != "" {
			etag = sql.NullString{String: w.ETag, Valid: true}
		}
		_, err := tx.ExecContext(ctx, fmt.Sprintf(`
			INSERT INTO %s (name, serial, serial_source, url, etag, body, fetched_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(name) DO UPDATE SET
				serial = excluded.serial,
				serial_source = excluded.serial_source,
				url = excluded.url,
				etag = excluded.etag,
				body = excluded.body,
				fetched_at = excluded.fetched_at`, table),
			w.Name, serial, source, w.URL, etag, body, fetched)
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown page op %d", int(w.Op))
	}

	if serial.Valid {
		if _, err := tx.ExecContext(ctx, upsertPackageSQL, w.Name, "", serial.Int64); err != nil {
			return err
		}
	}

	if w.Op == OpTombstone {
		return deleteRecords(ctx, tx, w.Kind, w.Name)
	}
	if w.Decoded == nil {
		return nil
	}
	switch {
	case w.Kind == pages.KindSimple && w.Decoded.Simple != nil:
		return replaceFileRecords(ctx, tx, w.Name, w.Decoded.Simple.Files)
	case w.Kind == pages.KindJSON && w.Decoded.Metadata != nil:
		return replaceProject(ctx, tx, w.Name, serial, w.Decoded.Metadata)
	}
	return nil
}
