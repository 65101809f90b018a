// Package pipeline wires the sync stages of the mirror together.
//
// A page sync has four stages:
//
//  1. Refresh: bulk-list every project with its serial and upsert the
//     package table (optional)
//  2. Select: pick the target pages, either explicit names or every page
//     whose stored serial is behind its package
//  3. Fetch: fetch targets concurrently ([fetch.Scheduler])
//  4. Write: commit outcomes in batches through a single [Writer]
//
// Fetching and writing overlap: the scheduler hands each outcome to the
// writer as soon as it is ready, and blocks when the writer queue is full.
// Every command run is recorded in the run ledger.
//
// # Usage
//
//	runner := pipeline.NewRunner(db, client, logger, observability.Hooks{})
//	res, err := runner.SyncPages(ctx, pipeline.Options{
//	    Kinds:   []pages.Kind{pages.KindJSON},
//	    Refresh: true,
//	    Limit:   1000,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(res.Fetch[pages.KindJSON].Fetched)
package pipeline

import (
	"time"

	"github.com/matzehuels/pypidata/pkg/errors"
	"github.com/matzehuels/pypidata/pkg/fetch"
	"github.com/matzehuels/pypidata/pkg/httputil"
	"github.com/matzehuels/pypidata/pkg/names"
	"github.com/matzehuels/pypidata/pkg/pages"
)

// CommandPages is the ledger label of a page sync.
const CommandPages = "pages"

// Options configures a page sync.
type Options struct {
	// Kinds to sync, in order. Default: json, then simple.
	Kinds []pages.Kind

	// Names restricts the sync to these projects. Empty means every stale
	// page. Names are normalized and validated.
	Names []string

	// Limit caps the targets per kind. Zero means no cap.
	Limit int

	// Refresh runs the bulk package refresh before selecting targets.
	Refresh bool

	// RefreshCache bypasses the cached listing during the refresh.
	RefreshCache bool

	// AbortOnCancel discards queued outcomes on cancellation instead of
	// writing them.
	AbortOnCancel bool

	Concurrency int
	Retry       *httputil.Policy // fetch retries, default 10 x 1s
	Writer      WriterOptions

	// Command labels the run in the ledger. Default "pages".
	Command string
}

// ValidateAndSetDefaults checks the options and fills in defaults.
func (o *Options) ValidateAndSetDefaults() error {
	if len(o.Kinds) == 0 {
		o.Kinds = pages.Kinds
	}
	seen := make(map[pages.Kind]bool, len(o.Kinds))
	kinds := o.Kinds[:0:0]
	for _, k := range o.Kinds {
		k, err := pages.ParseKind(string(k))
		if err != nil {
			return err
		}
		if !seen[k] {
			seen[k] = true
			kinds = append(kinds, k)
		}
	}
	o.Kinds = kinds

	if o.Limit < 0 {
		return errors.New(errors.ErrCodeInvalidInput, "limit must not be negative: %d", o.Limit)
	}
	if o.Concurrency < 0 {
		return errors.New(errors.ErrCodeInvalidInput, "concurrency must not be negative: %d", o.Concurrency)
	}
	for _, n := range o.Names {
		if err := names.Validate(n); err != nil {
			return err
		}
	}
	o.Names = names.NormalizeAll(o.Names)
	if o.Command == "" {
		o.Command = CommandPages
	}
	return nil
}

// Result summarizes a page sync.
type Result struct {
	RunID       string
	Packages    int // rows upserted by the refresh
	Targets     map[pages.Kind]int
	Fetch       map[pages.Kind]fetch.Summary
	Writer      WriterStats
	Duration    time.Duration
	Interrupted bool
}

// Total returns the fetch summary across kinds.
func (r *Result) Total() fetch.Summary {
	var s fetch.Summary
	for _, k := range pages.Kinds {
		s = s.Add(r.Fetch[k])
	}
	return s
}
