// Package changelog replays the index change feed into the local mirror.
//
// The [Tracker] reads the local watermark (highest applied serial), then
// repeatedly asks the feed for entries after it and commits each batch in a
// single transaction. The watermark is derived from the committed entries, so
// it advances exactly when a batch does; an interrupted run resumes from the
// last committed batch.
package changelog

import (
	"context"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/pypidata/pkg/httputil"
	"github.com/matzehuels/pypidata/pkg/integrations/pypi"
	"github.com/matzehuels/pypidata/pkg/names"
	"github.com/matzehuels/pypidata/pkg/observability"
	"github.com/matzehuels/pypidata/pkg/store"
)

// Feed is the remote change feed.
type Feed interface {
	LastSerial(ctx context.Context) (int64, error)
	ChangelogSince(ctx context.Context, serial int64) ([]pypi.Event, error)
}

// Log is the local changelog store.
type Log interface {
	Watermark(ctx context.Context) (int64, error)
	AppendChangelog(ctx context.Context, entries []store.ChangelogEntry) error
}

// Options configures a [Tracker].
type Options struct {
	Logger *log.Logger
	Hooks  observability.ChangelogHooks
	// Retry governs remote calls. Defaults to 3 retries with backoff from 1s.
	Retry *httputil.Policy
}

// WithDefaults returns a copy of the options with defaults applied.
func (o Options) WithDefaults() Options {
	if o.Logger == nil {
		o.Logger = log.Default()
	}
	if o.Hooks == nil {
		o.Hooks = observability.NoopChangelogHooks{}
	}
	if o.Retry == nil {
		p := httputil.Backoff(3, time.Second)
		o.Retry = &p
	}
	return o
}

// Result summarizes a sync.
type Result struct {
	From    int64 // watermark before the sync
	To      int64 // watermark after the sync
	Latest  int64 // remote serial observed at the start
	Batches int
	Entries int
}

// Tracker synchronizes the local changelog with the remote feed.
type Tracker struct {
	feed Feed
	log  Log
	opts Options
}

// NewTracker creates a Tracker.
func NewTracker(feed Feed, l Log, opts Options) *Tracker {
	return &Tracker{feed: feed, log: l, opts: opts.WithDefaults()}
}

// Sync applies every remote entry after the local watermark. Batches are
// applied in the order received; on cancellation the batches committed so
// far are kept and ctx.Err() is returned with the partial result.
func (t *Tracker) Sync(ctx context.Context) (Result, error) {
	logger := t.opts.Logger

	w, err := t.log.Watermark(ctx)
	if err != nil {
		return Result{}, err
	}
	res := Result{From: w, To: w}

	if _, err := t.opts.Retry.Do(ctx, func() error {
		res.Latest, err = t.feed.LastSerial(ctx)
		return err
	}); err != nil {
		return res, err
	}
	logger.Info("syncing changelog", "from", w, "latest", res.Latest, "behind", max(res.Latest-w, 0))

	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		var events []pypi.Event
		if _, err := t.opts.Retry.Do(ctx, func() error {
			events, err = t.feed.ChangelogSince(ctx, w)
			return err
		}); err != nil {
			return res, err
		}
		if len(events) == 0 {
			break
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}

		entries, top := toEntries(events)
		if top <= w {
			logger.Warn("changelog batch does not advance the watermark", "watermark", w, "batch_max", top, "entries", len(entries))
			break
		}
		if err := t.log.AppendChangelog(ctx, entries); err != nil {
			return res, err
		}

		t.opts.Hooks.OnBatch(ctx, w, top, len(entries), res.Latest)
		logger.Debug("changelog batch committed", "from", w, "to", top, "entries", len(entries))

		w = top
		res.To = w
		res.Batches++
		res.Entries += len(entries)
	}

	logger.Info("changelog synced", "watermark", res.To, "batches", res.Batches, "entries", res.Entries)
	return res, nil
}

func toEntries(events []pypi.Event) ([]store.ChangelogEntry, int64) {
	entries := make([]store.ChangelogEntry, 0, len(events))
	var top int64
	for _, e := range events {
		entries = append(entries, store.ChangelogEntry{
			Name:        names.Normalize(e.Name),
			DisplayName: e.Name,
			Version:     e.Version,
			Timestamp:   e.Timestamp,
			Action:      e.Action,
			Serial:      e.Serial,
		})
		top = max(top, e.Serial)
	}
	return entries, top
}
