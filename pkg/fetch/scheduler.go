package fetch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	perrors "github.com/matzehuels/pypidata/pkg/errors"
	"github.com/matzehuels/pypidata/pkg/httputil"
	"github.com/matzehuels/pypidata/pkg/integrations"
	"github.com/matzehuels/pypidata/pkg/observability"
	"github.com/matzehuels/pypidata/pkg/pages"
)

// Defaults for [Options].
const (
	DefaultConcurrency = 100
	DefaultRetries     = 10
	DefaultRetryDelay  = time.Second
)

// Fetcher performs a single conditional page request.
// [*pypi.Client] implements it.
type Fetcher interface {
	FetchPage(ctx context.Context, kind pages.Kind, name, etag string) (*integrations.Response, error)
	PageURL(kind pages.Kind, name string) string
}

// Options configures a [Scheduler].
type Options struct {
	Concurrency int              // max fetches in flight, default 100
	Retry       *httputil.Policy // default 10 retries, 1s apart
	Logger      *log.Logger
	Hooks       observability.FetchHooks
}

// WithDefaults returns a copy of the options with defaults applied.
func (o Options) WithDefaults() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	if o.Retry == nil {
		p := httputil.FixedPolicy(DefaultRetries, DefaultRetryDelay)
		o.Retry = &p
	}
	if o.Logger == nil {
		o.Logger = log.Default()
	}
	if o.Hooks == nil {
		o.Hooks = observability.NoopFetchHooks{}
	}
	return o
}

// Scheduler fans page fetches out over a bounded set of goroutines.
type Scheduler struct {
	f    Fetcher
	opts Options
}

// NewScheduler creates a Scheduler.
func NewScheduler(f Fetcher, opts Options) *Scheduler {
	return &Scheduler{f: f, opts: opts.WithDefaults()}
}

// Concurrency returns the in-flight ceiling.
func (s *Scheduler) Concurrency() int { return s.opts.Concurrency }

// Run fetches the page of the given kind for every target and passes each
// outcome to emit as it completes. emit may be called from several
// goroutines at once and may block; a non-nil return stops the run. The
// summary counts only outcomes emit accepted.
//
// Cancelling ctx stops dispatching. Fetches in flight are abandoned and not
// emitted; Run then returns the summary so far and ctx.Err().
func (s *Scheduler) Run(ctx context.Context, kind pages.Kind, targets []Target, emit func(context.Context, Outcome) error) (Summary, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)

	var (
		mu  sync.Mutex
		sum Summary
	)
	for _, t := range targets {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			out, err := s.Fetch(gctx, kind, t)
			if err != nil {
				return err
			}
			if err := emit(gctx, out); err != nil {
				return err
			}
			mu.Lock()
			sum.count(out)
			mu.Unlock()
			return nil
		})
	}
	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}

	mu.Lock()
	defer mu.Unlock()
	return sum, err
}

// Fetch retrieves one page. The only error is ctx.Err(); every other
// failure is folded into the outcome.
func (s *Scheduler) Fetch(ctx context.Context, kind pages.Kind, t Target) (Outcome, error) {
	// Log through the shared logger: sub-loggers from With do not share its
	// writer lock.
	logger := pageLogger{l: s.opts.Logger, kv: []any{"kind", kind, "name", t.Name}}
	start := time.Now()
	s.opts.Hooks.OnFetchStart(ctx, kind.String(), t.Name)

	var resp *integrations.Response
	attempts, err := s.opts.Retry.Do(ctx, func() error {
		var err error
		resp, err = s.f.FetchPage(ctx, kind, t.Name, t.ETag)
		if err != nil && httputil.IsRetryable(err) {
			logger.Debug("fetch failed, retrying", "err", err)
		}
		return err
	})
	if ctx.Err() != nil {
		return Outcome{}, ctx.Err()
	}

	out := Outcome{
		Kind:     kind,
		Name:     t.Name,
		URL:      s.f.PageURL(kind, t.Name),
		Attempts: attempts,
	}

	switch {
	case err == nil && resp.NotModified():
		out.Status = NotModified
		out.ETag = resp.ETag()
		if out.ETag == "" {
			out.ETag = t.ETag
		}
		out.Serial = pages.ExtractSerial(resp.Header, nil)
		if !out.Serial.Known() {
			out.Serial = carried(t.Serial)
		}
	case err == nil && len(resp.Body) == 0:
		out.Status = Gone
		out.Serial = carried(t.Serial)
		logger.Warn("empty page", "url", out.URL)
	case err == nil:
		s.decode(logger, &out, resp)
	case errors.Is(err, integrations.ErrNotFound), errors.Is(err, integrations.ErrStatus):
		out.Status = Gone
		out.Serial = carried(t.Serial)
		out.Err = err
		logger.Debug("page gone", "err", err)
	default:
		out.Status = Timeout
		out.Err = err
		if errors.Is(err, httputil.ErrExhausted) {
			out.Err = perrors.Wrap(perrors.ErrCodeTimeout, err, "%s: gave up after %d attempts", out.URL, attempts)
		}
		logger.Warn("fetch gave up", "attempts", attempts, "err", err)
	}

	s.opts.Hooks.OnFetchComplete(ctx, kind.String(), t.Name, out.Status.String(), attempts, time.Since(start))
	return out, nil
}

func (s *Scheduler) decode(logger pageLogger, out *Outcome, resp *integrations.Response) {
	out.Status = Fetched
	out.Body = resp.Body
	out.ETag = resp.ETag()

	decoded, err := pages.Decode(out.Kind, resp.Body)
	if err != nil {
		logger.Warn("page did not decode, storing raw body", "err", err)
	} else {
		out.Decoded = decoded
	}
	for _, a := range decoded.Anomalies() {
		logger.Warn("page anomaly", "index", a.Index, "problem", a.Problem, "text", a.Text)
	}

	out.Serial = pages.ExtractSerial(resp.Header, decoded.Embedded)
	if !out.Serial.Known() {
		logger.Warn("serial missing from header and body")
	}
}

// pageLogger prefixes every entry with the page it concerns.
type pageLogger struct {
	l  *log.Logger
	kv []any
}

func (p pageLogger) Debug(msg string, kv ...any) { p.l.Debug(msg, p.with(kv)...) }

func (p pageLogger) Warn(msg string, kv ...any) { p.l.Warn(msg, p.with(kv)...) }

func (p pageLogger) with(kv []any) []any {
	return append(p.kv[:len(p.kv):len(p.kv)], kv...)
}

func carried(serial int64) pages.Serial {
	if serial <= 0 {
		return pages.Unknown()
	}
	return pages.Carried(serial)
}
