package pipeline

import (
	"context"
	stderrors "errors"
	"sort"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/pypidata/pkg/fetch"
	"github.com/matzehuels/pypidata/pkg/names"
	"github.com/matzehuels/pypidata/pkg/observability"
	"github.com/matzehuels/pypidata/pkg/pages"
	"github.com/matzehuels/pypidata/pkg/store"
)

// Index is the remote side of a sync. [*pypi.Client] implements it.
type Index interface {
	fetch.Fetcher
	ListPackages(ctx context.Context, refresh bool) (map[string]int64, error)
}

// Runner executes syncs against one database and one index.
//
// The Runner holds no per-run state; concurrent runs against the same
// database serialize on its single writer connection.
type Runner struct {
	DB     *store.DB
	Index  Index
	Logger *log.Logger
	Hooks  observability.Hooks
}

// NewRunner creates a runner. A nil logger uses the default logger and
// missing hooks are no-ops.
func NewRunner(db *store.DB, index Index, logger *log.Logger, hooks observability.Hooks) *Runner {
	if logger == nil {
		logger = log.Default()
	}
	return &Runner{
		DB:     db,
		Index:  index,
		Logger: logger,
		Hooks:  hooks.WithDefaults(),
	}
}

// Track records fn as one run in the ledger. The run's status follows the
// error fn returns; fn may fill in the counters.
func (r *Runner) Track(ctx context.Context, command string, fn func(ctx context.Context, run *store.Run) error) error {
	id, err := r.DB.BeginRun(ctx, command)
	if err != nil {
		return err
	}
	run := store.Run{ID: id, Command: command}
	err = fn(ctx, &run)

	switch {
	case err == nil:
		run.Status = store.RunSucceeded
	case stderrors.Is(err, context.Canceled):
		run.Status = store.RunAborted
		run.Detail = err.Error()
	default:
		run.Status = store.RunFailed
		run.Detail = err.Error()
	}
	if ferr := r.DB.FinishRun(context.WithoutCancel(ctx), run); ferr != nil {
		r.Logger.Warn("could not record run", "id", id, "err", ferr)
	}
	return err
}

// RefreshPackages replaces the package table's view of the index with the
// bulk listing. Serials are never lowered. It returns the number of
// packages listed.
func (r *Runner) RefreshPackages(ctx context.Context, refresh bool) (int, error) {
	start := time.Now()
	listing, err := r.Index.ListPackages(ctx, refresh)
	if err != nil {
		return 0, err
	}

	pkgs := make([]store.Package, 0, len(listing))
	for display, serial := range listing {
		pkgs = append(pkgs, store.Package{
			Name:        names.Normalize(display),
			DisplayName: display,
			LastSerial:  serial,
		})
	}
	sort.Slice(pkgs, func(i, j int) bool { return pkgs[i].Name < pkgs[j].Name })

	if err := r.DB.UpsertPackages(ctx, pkgs); err != nil {
		return 0, err
	}
	r.Logger.Info("refreshed packages", "count", len(pkgs), "duration", time.Since(start))
	return len(pkgs), nil
}

// Targets selects the pages of kind to fetch. Explicit names are fetched
// whether stale or not, with their stored ETag and package serial; without
// names every stale page is selected.
func (r *Runner) Targets(ctx context.Context, kind pages.Kind, only []string, limit int) ([]fetch.Target, error) {
	if len(only) == 0 {
		stale, err := r.DB.OutOfDate(ctx, kind, limit)
		if err != nil {
			return nil, err
		}
		targets := make([]fetch.Target, len(stale))
		for i, s := range stale {
			targets[i] = fetch.Target{Name: s.Name, Serial: s.LastSerial, ETag: s.ETag}
		}
		return targets, nil
	}

	if limit > 0 && len(only) > limit {
		only = only[:limit]
	}
	states, err := r.DB.PageStates(ctx, kind, only)
	if err != nil {
		return nil, err
	}
	targets := make([]fetch.Target, 0, len(only))
	for _, name := range only {
		t := fetch.Target{Name: name}
		if st, ok := states[name]; ok && !st.Gone {
			t.ETag = st.ETag
		}
		pkg, ok, err := r.DB.Package(ctx, name)
		if err != nil {
			return nil, err
		}
		if ok {
			t.Serial = pkg.LastSerial
		}
		targets = append(targets, t)
	}
	return targets, nil
}

// SyncPages runs a page sync and records it in the run ledger.
//
// On cancellation the outcomes already queued are written (or discarded
// when AbortOnCancel is set) and the partial result is returned together
// with the context error.
func (r *Runner) SyncPages(ctx context.Context, opts Options) (*Result, error) {
	if err := opts.ValidateAndSetDefaults(); err != nil {
		return nil, err
	}
	res := &Result{
		Targets: make(map[pages.Kind]int, len(opts.Kinds)),
		Fetch:   make(map[pages.Kind]fetch.Summary, len(opts.Kinds)),
	}
	start := time.Now()

	err := r.Track(ctx, opts.Command, func(ctx context.Context, run *store.Run) error {
		res.RunID = run.ID
		err := r.syncPages(ctx, opts, res)

		total := res.Total()
		run.Fetched = total.Fetched
		run.NotModified = total.NotModified
		run.TimedOut = total.Timeout
		run.Gone = total.Gone
		run.Written = res.Writer.Written
		run.Discarded = res.Writer.Discarded
		return err
	})
	res.Duration = time.Since(start)
	res.Interrupted = stderrors.Is(err, context.Canceled)
	return res, err
}

func (r *Runner) syncPages(ctx context.Context, opts Options, res *Result) error {
	if opts.Refresh && len(opts.Names) == 0 {
		n, err := r.RefreshPackages(ctx, opts.RefreshCache)
		if err != nil {
			return err
		}
		res.Packages = n
	}

	wopts := opts.Writer
	if wopts.Logger == nil {
		wopts.Logger = r.Logger
	}
	if wopts.Hooks == nil {
		wopts.Hooks = r.Hooks.Write
	}
	writer := NewWriter(ctx, r.DB, wopts)

	sched := fetch.NewScheduler(r.Index, fetch.Options{
		Concurrency: opts.Concurrency,
		Retry:       opts.Retry,
		Logger:      r.Logger,
		Hooks:       r.Hooks.Fetch,
	})

	var runErr error
	for _, kind := range opts.Kinds {
		targets, err := r.Targets(ctx, kind, opts.Names, opts.Limit)
		if err != nil {
			runErr = err
			break
		}
		res.Targets[kind] = len(targets)
		r.Logger.Info("fetching pages", "kind", kind, "targets", len(targets), "concurrency", sched.Concurrency())

		sum, err := sched.Run(ctx, kind, targets, writer.Submit)
		res.Fetch[kind] = sum
		r.Logger.Info("fetched pages", "kind", kind,
			"fetched", sum.Fetched, "not_modified", sum.NotModified,
			"gone", sum.Gone, "timeout", sum.Timeout)
		if err != nil {
			runErr = err
			break
		}
	}

	interrupted := stderrors.Is(runErr, context.Canceled)
	if interrupted && opts.AbortOnCancel {
		n := writer.Abort()
		r.Logger.Warn("interrupted, discarded pending pages", "count", n)
	} else {
		if err := writer.Close(); err != nil && runErr == nil {
			runErr = err
		}
		if interrupted {
			r.Logger.Warn("interrupted, pending pages written", "written", writer.Stats().Written)
		}
	}
	res.Writer = writer.Stats()
	return runErr
}
