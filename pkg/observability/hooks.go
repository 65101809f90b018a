// Package observability provides progress hooks for a sync run.
//
// Hooks replace shared progress counters: the scheduler, the writer and the
// change tracker call the hooks they were given, and whoever is interested
// (the terminal progress view, a log line, a test) implements them. Nothing
// here is global; hooks travel in options structs.
//
// # Usage
//
//	hooks := observability.Hooks{Fetch: myFetchHooks}.WithDefaults()
//	sched := fetch.NewScheduler(client, fetch.Options{Hooks: hooks.Fetch})
//
// Implementations must be safe for concurrent use: fetch hooks are called
// from every fetch goroutine.
package observability

import (
	"context"
	"time"
)

// =============================================================================
// Fetch Hooks
// =============================================================================

// FetchHooks receives events from the fetch scheduler.
type FetchHooks interface {
	// OnFetchStart is called when a fetch is dispatched.
	OnFetchStart(ctx context.Context, kind, name string)

	// OnFetchComplete is called once per dispatched fetch that produced an
	// outcome. status is the outcome status name ("fetched", "timeout", ...).
	OnFetchComplete(ctx context.Context, kind, name, status string, attempts int, duration time.Duration)
}

// =============================================================================
// Write Hooks
// =============================================================================

// WriteHooks receives events from the write pipeline.
type WriteHooks interface {
	// OnCommit is called after each batch transaction, successful or not.
	OnCommit(ctx context.Context, items int, duration time.Duration, err error)

	// OnDiscard is called when an abort drops queued items.
	OnDiscard(ctx context.Context, items int)
}

// =============================================================================
// Changelog Hooks
// =============================================================================

// ChangelogHooks receives events from the change tracker.
type ChangelogHooks interface {
	// OnBatch is called after a changelog batch is committed.
	OnBatch(ctx context.Context, from, to int64, entries int, latest int64)
}

// =============================================================================
// No-op Implementations
// =============================================================================

// NoopFetchHooks is a no-op implementation of FetchHooks.
type NoopFetchHooks struct{}

func (NoopFetchHooks) OnFetchStart(context.Context, string, string) {}
func (NoopFetchHooks) OnFetchComplete(context.Context, string, string, string, int, time.Duration) {
}

// NoopWriteHooks is a no-op implementation of WriteHooks.
type NoopWriteHooks struct{}

func (NoopWriteHooks) OnCommit(context.Context, int, time.Duration, error) {}
func (NoopWriteHooks) OnDiscard(context.Context, int)                      {}

// NoopChangelogHooks is a no-op implementation of ChangelogHooks.
type NoopChangelogHooks struct{}

func (NoopChangelogHooks) OnBatch(context.Context, int64, int64, int, int64) {}

// =============================================================================
// Bundle
// =============================================================================

// Hooks bundles the hooks of one run.
type Hooks struct {
	Fetch     FetchHooks
	Write     WriteHooks
	Changelog ChangelogHooks
}

// WithDefaults returns a copy with nil hooks replaced by no-ops.
func (h Hooks) WithDefaults() Hooks {
	if h.Fetch == nil {
		h.Fetch = NoopFetchHooks{}
	}
	if h.Write == nil {
		h.Write = NoopWriteHooks{}
	}
	if h.Changelog == nil {
		h.Changelog = NoopChangelogHooks{}
	}
	return h
}
