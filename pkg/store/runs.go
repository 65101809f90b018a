package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Run statuses.
const (
	RunRunning   = "running"
	RunSucceeded = "succeeded"
	RunAborted   = "aborted"
	RunFailed    = "failed"
)

// Run is one row of the run ledger.
type Run struct {
	ID          string
	Command     string
	StartedAt   time.Time
	FinishedAt  *time.Time
	Status      string
	Fetched     int
	NotModified int
	TimedOut    int
	Gone        int
	Written     int
	Discarded   int
	Detail      string
}

// BeginRun records the start of a command and returns its run ID.
func (db *DB) BeginRun(ctx context.Context, command string) (string, error) {
	id := uuid.NewString()
	_, err := db.w.ExecContext(ctx,
		`INSERT INTO sync_runs (id, command, started_at, status) VALUES (?, ?, ?, ?)`,
		id, command, time.Now().UTC(), RunRunning)
	if err != nil {
		return "", storageErr(err, "begin run")
	}
	return id, nil
}

// FinishRun stores the final counts and status of a run.
func (db *DB) FinishRun(ctx context.Context, r Run) error {
	_, err := db.w.ExecContext(ctx, `
		UPDATE sync_runs SET
			finished_at = ?, status = ?, fetched = ?, not_modified = ?, timed_out = ?,
			gone = ?, written = ?, discarded = ?, detail = ?
		WHERE id = ?`,
		time.Now().UTC(), r.Status, r.Fetched, r.NotModified, r.TimedOut,
		r.Gone, r.Written, r.Discarded, r.Detail, r.ID)
	return storageErr(err, "finish run %s", r.ID)
}

// Runs returns the most recent runs, newest first.
func (db *DB) Runs(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.r.QueryContext(ctx, `
		SELECT id, command, started_at, finished_at, status, fetched, not_modified,
		       timed_out, gone, written, discarded, detail
		FROM sync_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, storageErr(err, "read runs")
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		var finished sql.NullTime
		if err := rows.Scan(&r.ID, &r.Command, &r.StartedAt, &finished, &r.Status, &r.Fetched, &r.NotModified,
			&r.TimedOut, &r.Gone, &r.Written, &r.Discarded, &r.Detail); err != nil {
			return nil, storageErr(err, "scan run")
		}
		if finished.Valid {
			t := finished.Time
			r.FinishedAt = &t
		}
		out = append(out, r)
	}
	return out, storageErr(rows.Err(), "read runs")
}
