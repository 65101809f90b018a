package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/pypidata/pkg/errors"
	"github.com/matzehuels/pypidata/pkg/fetch"
	"github.com/matzehuels/pypidata/pkg/httputil"
	"github.com/matzehuels/pypidata/pkg/observability"
	"github.com/matzehuels/pypidata/pkg/store"
)

// Writer defaults.
const (
	DefaultQueueSize    = 500
	DefaultBatchSize    = 100
	DefaultBatchRetries = 2
	DefaultBatchDelay   = 500 * time.Millisecond
)

// PageStore applies page writes atomically per batch. [*store.DB]
// implements it.
type PageStore interface {
	ApplyPages(ctx context.Context, batch []store.PageWrite) error
}

// WriterOptions configures a [Writer].
type WriterOptions struct {
	QueueSize int              // pending outcomes before Submit blocks, default 500
	BatchSize int              // outcomes per transaction, default 100
	Retry     *httputil.Policy // per batch, default 2 retries with backoff
	Logger    *log.Logger
	Hooks     observability.WriteHooks
}

// WithDefaults returns a copy of the options with defaults applied.
func (o WriterOptions) WithDefaults() WriterOptions {
	if o.QueueSize <= 0 {
		o.QueueSize = DefaultQueueSize
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.Retry == nil {
		p := httputil.Backoff(DefaultBatchRetries, DefaultBatchDelay)
		o.Retry = &p
	}
	if o.Logger == nil {
		o.Logger = log.Default()
	}
	if o.Hooks == nil {
		o.Hooks = observability.NoopWriteHooks{}
	}
	return o
}

// WriterStats counts what the writer did.
type WriterStats struct {
	Submitted int // accepted into the queue
	Skipped   int // outcomes with nothing to store (timeouts)
	Written   int // committed
	Discarded int // dropped by Abort or after a failure
	Batches   int // committed transactions
}

// Writer is the single consumer of page outcomes. Producers call Submit
// from any goroutine; one goroutine drains the queue and commits outcomes
// in batches, each batch in its own transaction.
//
// A batch that keeps failing stops the writer: the error is returned from
// every later Submit and from Close.
type Writer struct {
	st   PageStore
	opts WriterOptions
	ctx  context.Context

	queue  chan store.PageWrite
	quit   chan struct{} // closed by Close or Abort; unblocks Submit
	drain  chan struct{} // closed by Close
	abort  chan struct{} // closed by Abort
	failed chan struct{} // closed when a batch gives up
	done   chan struct{} // closed when the loop exits

	quitOnce, drainOnce, abortOnce sync.Once

	sealMu sync.RWMutex
	sealed bool

	mu    sync.Mutex
	err   error
	stats WriterStats
}

// NewWriter starts a writer. Transactions run under a context derived from
// ctx that is never cancelled, so a batch in progress always finishes.
func NewWriter(ctx context.Context, st PageStore, opts WriterOptions) *Writer {
	opts = opts.WithDefaults()
	w := &Writer{
		st:     st,
		opts:   opts,
		ctx:    context.WithoutCancel(ctx),
		queue:  make(chan store.PageWrite, opts.QueueSize),
		quit:   make(chan struct{}),
		drain:  make(chan struct{}),
		abort:  make(chan struct{}),
		failed: make(chan struct{}),
		done:   make(chan struct{}),
	}
	go w.loop()
	return w
}

// Submit queues an outcome for writing, blocking while the queue is full.
// Timeouts are counted and dropped. It returns ctx.Err() if ctx ends first,
// the escalated batch error if the writer failed, and a WRITER_CLOSED
// error after Close or Abort.
func (w *Writer) Submit(ctx context.Context, o fetch.Outcome) error {
	pw, ok := PageWriteFrom(o)
	if !ok {
		w.mu.Lock()
		w.stats.Skipped++
		w.mu.Unlock()
		return nil
	}

	w.sealMu.RLock()
	defer w.sealMu.RUnlock()
	if err := w.Err(); err != nil {
		return err
	}
	if w.sealed {
		return errors.New(errors.ErrCodeWriterClosed, "writer closed")
	}

	select {
	case w.queue <- pw:
		w.mu.Lock()
		w.stats.Submitted++
		w.mu.Unlock()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-w.failed:
		return w.Err()
	case <-w.quit:
		return errors.New(errors.ErrCodeWriterClosed, "writer closed")
	}
}

// Close stops accepting outcomes, writes everything already queued and
// waits for the writer to finish. It returns the escalated batch error, if
// any.
func (w *Writer) Close() error {
	w.seal()
	w.drainOnce.Do(func() { close(w.drain) })
	<-w.done
	return w.Err()
}

// Abort stops accepting outcomes and discards everything queued but not yet
// written. A batch being committed completes. It returns how many queued
// outcomes were discarded.
func (w *Writer) Abort() int {
	w.seal()
	w.abortOnce.Do(func() { close(w.abort) })
	<-w.done
	return w.Stats().Discarded
}

// Err returns the error that stopped the writer, if any.
func (w *Writer) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Stats returns a snapshot of the writer counters.
func (w *Writer) Stats() WriterStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// seal releases blocked producers and waits until none is mid-send, so the
// queue contents are final.
func (w *Writer) seal() {
	w.quitOnce.Do(func() { close(w.quit) })
	w.sealMu.Lock()
	w.sealed = true
	w.sealMu.Unlock()
}

func (w *Writer) loop() {
	defer close(w.done)
	for {
		select {
		case <-w.abort:
			w.discard()
			return
		default:
		}

		select {
		case <-w.abort:
			w.discard()
			return
		case pw := <-w.queue:
			if !w.commit(w.collect(pw)) {
				w.discard()
				return
			}
		case <-w.drain:
			for {
				select {
				case <-w.abort:
					w.discard()
					return
				case pw := <-w.queue:
					if !w.commit(w.collect(pw)) {
						w.discard()
						return
					}
				default:
					return
				}
			}
		}
	}
}

// collect builds a batch starting with first from whatever is queued.
func (w *Writer) collect(first store.PageWrite) []store.PageWrite {
	batch := make([]store.PageWrite, 1, w.opts.BatchSize)
	batch[0] = first
	for len(batch) < w.opts.BatchSize {
		select {
		case pw := <-w.queue:
			batch = append(batch, pw)
		default:
			return batch
		}
	}
	return batch
}

// commit applies a batch, retrying it whole. It reports whether the writer
// may continue.
func (w *Writer) commit(batch []store.PageWrite) bool {
	start := time.Now()
	attempts, err := w.opts.Retry.Do(w.ctx, func() error {
		if err := w.st.ApplyPages(w.ctx, batch); err != nil {
			w.opts.Logger.Debug("batch failed", "items", len(batch), "err", err)
			return httputil.Retryable(err)
		}
		return nil
	})
	w.opts.Hooks.OnCommit(w.ctx, len(batch), time.Since(start), err)

	if err != nil {
		err = fmt.Errorf("write batch of %d pages: %w", len(batch), err)
		w.opts.Logger.Error("writer stopped", "err", err)
		w.mu.Lock()
		w.err = err
		w.stats.Discarded += len(batch)
		w.mu.Unlock()
		close(w.failed)
		return false
	}

	w.mu.Lock()
	w.stats.Written += len(batch)
	w.stats.Batches++
	w.mu.Unlock()
	w.opts.Logger.Debug("batch committed", "items", len(batch), "attempts", attempts, "duration", time.Since(start))
	return true
}

// discard drops everything left in the queue.
func (w *Writer) discard() {
	n := 0
empty:
	for {
		select {
		case <-w.queue:
			n++
		default:
			break empty
		}
	}
	if n == 0 {
		return
	}
	w.mu.Lock()
	w.stats.Discarded += n
	w.mu.Unlock()
	w.opts.Hooks.OnDiscard(w.ctx, n)
	w.opts.Logger.Warn("discarded queued pages", "count", n)
}

// PageWriteFrom converts a fetch outcome into the store mutation it
// implies. Timeouts imply none.
func PageWriteFrom(o fetch.Outcome) (store.PageWrite, bool) {
	pw := store.PageWrite{
		Kind:      o.Kind,
		Name:      o.Name,
		URL:       o.URL,
		ETag:      o.ETag,
		Serial:    o.Serial,
		FetchedAt: time.Now().UTC(),
	}
	switch o.Status {
	case fetch.Fetched:
		pw.Op = store.OpStore
		pw.Body = o.Body
		pw.Decoded = o.Decoded
	case fetch.NotModified:
		pw.Op = store.OpTouch
	case fetch.Gone:
		pw.Op = store.OpTombstone
	default:
		return store.PageWrite{}, false
	}
	return pw, true
}
