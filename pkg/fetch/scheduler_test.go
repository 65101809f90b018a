package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	perrors "github.com/matzehuels/pypidata/pkg/errors"
	"github.com/matzehuels/pypidata/pkg/httputil"
	"github.com/matzehuels/pypidata/pkg/integrations"
	"github.com/matzehuels/pypidata/pkg/integrations/pypi"
	"github.com/matzehuels/pypidata/pkg/integrations/pypi/pypitest"
	"github.com/matzehuels/pypidata/pkg/pages"
)

const simpleBody = `<!DOCTYPE html>
<html><body>
<a href="https://files.example/demo-1.0.tar.gz#sha256=abc123">demo-1.0.tar.gz</a>
<a href="https://files.example/demo-1.1.tar.gz#sha256=def456">wrong-name.tar.gz</a>
</body></html>
<!--SERIAL 77-->`

const jsonBody = `{"info": {"name": "Demo", "version": "1.1", "summary": "demo"},
"last_serial": 88, "releases": {}, "urls": []}`

func quiet() *log.Logger { return log.New(io.Discard) }

func newClient(t *testing.T, ix *pypitest.Index) *pypi.Client {
	t.Helper()
	c, err := pypi.NewClient(pypi.Options{IndexURL: ix.URL, MinInterval: time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

// noSleep is a policy with the default budget that records its waits.
func noSleep(waits *[]time.Duration) *httputil.Policy {
	var mu sync.Mutex
	p := httputil.FixedPolicy(DefaultRetries, DefaultRetryDelay)
	p.Sleep = func(_ context.Context, d time.Duration) error {
		mu.Lock()
		defer mu.Unlock()
		if waits != nil {
			*waits = append(*waits, d)
		}
		return nil
	}
	return &p
}

func collect(t *testing.T, s *Scheduler, kind pages.Kind, targets []Target) (map[string]Outcome, Summary) {
	t.Helper()
	var mu sync.Mutex
	got := make(map[string]Outcome)
	sum, err := s.Run(context.Background(), kind, targets, func(_ context.Context, o Outcome) error {
		mu.Lock()
		defer mu.Unlock()
		got[o.Name] = o
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return got, sum
}

func TestFetchStatuses(t *testing.T) {
	ix := pypitest.New()
	defer ix.Close()
	ix.AddProject("header", pypitest.Project{Serial: 100, Simple: simpleBody})
	ix.AddProject("body", pypitest.Project{Serial: 100, Simple: simpleBody, NoHeader: true})
	ix.AddProject("bare", pypitest.Project{Serial: 100, Simple: "<html></html>", NoHeader: true})
	ix.AddProject("cached", pypitest.Project{Serial: 120, Simple: simpleBody, ETag: `"v1"`})
	ix.AddProject("cached-noheader", pypitest.Project{Serial: 120, Simple: simpleBody, ETag: `"v1"`, NoHeader: true})
	ix.AddProject("empty", pypitest.Project{Status: http.StatusOK})
	ix.AddProject("forbidden", pypitest.Project{Status: http.StatusForbidden})

	s := NewScheduler(newClient(t, ix), Options{Logger: quiet(), Retry: noSleep(nil)})
	got, sum := collect(t, s, pages.KindSimple, []Target{
		{Name: "header", Serial: 100},
		{Name: "body", Serial: 100},
		{Name: "bare", Serial: 100},
		{Name: "cached", Serial: 130, ETag: `"v1"`},
		{Name: "cached-noheader", Serial: 130, ETag: `"v1"`},
		{Name: "empty", Serial: 5},
		{Name: "forbidden", Serial: 6},
		{Name: "missing", Serial: 7},
		{Name: "never-listed"},
	})

	tests := []struct {
		name   string
		status Status
		serial pages.Serial
		etag   string
	}{
		{"header", Fetched, pages.Serial{Value: 100, Source: pages.SerialFromHeader}, ""},
		{"body", Fetched, pages.Serial{Value: 77, Source: pages.SerialFromBody}, ""},
		{"bare", Fetched, pages.Unknown(), ""},
		{"cached", NotModified, pages.Serial{Value: 120, Source: pages.SerialFromHeader}, `"v1"`},
		{"cached-noheader", NotModified, pages.Carried(130), `"v1"`},
		{"empty", Gone, pages.Carried(5), ""},
		{"forbidden", Gone, pages.Carried(6), ""},
		{"missing", Gone, pages.Carried(7), ""},
		{"never-listed", Gone, pages.Unknown(), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, ok := got[tt.name]
			if !ok {
				t.Fatal("no outcome emitted")
			}
			if o.Status != tt.status {
				t.Errorf("status = %v, want %v (err %v)", o.Status, tt.status, o.Err)
			}
			if o.Serial != tt.serial {
				t.Errorf("serial = %v, want %v", o.Serial, tt.serial)
			}
			if o.ETag != tt.etag {
				t.Errorf("etag = %q, want %q", o.ETag, tt.etag)
			}
			if o.Kind != pages.KindSimple || o.URL != ix.URL+"/simple/"+tt.name+"/" {
				t.Errorf("kind/url = %v %q", o.Kind, o.URL)
			}
		})
	}

	if o := got["header"]; o.Decoded == nil || o.Decoded.Simple == nil || len(o.Decoded.Simple.Files) != 2 {
		t.Errorf("header page not decoded: %+v", o.Decoded)
	}
	if o := got["cached"]; o.Body != nil || o.Decoded != nil {
		t.Error("304 outcome should carry no body")
	}

	want := Summary{Fetched: 3, NotModified: 2, Gone: 4, UnknownSerial: 1, Anomalies: 2}
	if sum != want {
		t.Errorf("summary = %+v, want %+v", sum, want)
	}
	if sum.Total() != 9 {
		t.Errorf("Total = %d", sum.Total())
	}
}

func TestFetchJSONSerialFromBody(t *testing.T) {
	ix := pypitest.New()
	defer ix.Close()
	ix.AddProject("demo", pypitest.Project{Serial: 88, JSON: jsonBody, NoHeader: true})
	ix.AddProject("broken", pypitest.Project{Serial: 90, JSON: `{"last_serial": 90, "info": `, NoHeader: true})

	s := NewScheduler(newClient(t, ix), Options{Logger: quiet(), Retry: noSleep(nil)})
	got, _ := collect(t, s, pages.KindJSON, []Target{{Name: "demo", Serial: 88}, {Name: "broken", Serial: 90}})

	demo := got["demo"]
	if demo.Status != Fetched || demo.Serial != (pages.Serial{Value: 88, Source: pages.SerialFromBody}) {
		t.Errorf("demo = %v %v", demo.Status, demo.Serial)
	}
	if demo.Decoded == nil || demo.Decoded.Metadata == nil || demo.Decoded.Metadata.Project.Name != "Demo" {
		t.Errorf("demo metadata = %+v", demo.Decoded)
	}

	broken := got["broken"]
	if broken.Status != Fetched || broken.Decoded != nil || len(broken.Body) == 0 {
		t.Errorf("broken page should be kept raw: %+v", broken)
	}
}

// flaky always fails with a retryable error.
type flaky struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *flaky) FetchPage(context.Context, pages.Kind, string, string) (*integrations.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return nil, f.err
}

func (f *flaky) PageURL(kind pages.Kind, name string) string {
	return "https://pypi.test" + kind.Path(name)
}

func TestFetchRetryBound(t *testing.T) {
	f := &flaky{err: httputil.Retryable(errors.New("connect timeout"))}
	var waits []time.Duration
	s := NewScheduler(f, Options{Logger: quiet(), Retry: noSleep(&waits)})

	out, err := s.Fetch(context.Background(), pages.KindJSON, Target{Name: "slow"})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if out.Status != Timeout {
		t.Errorf("status = %v, want timeout", out.Status)
	}
	if f.calls != 11 || out.Attempts != 11 {
		t.Errorf("calls = %d attempts = %d, want 11", f.calls, out.Attempts)
	}
	if len(waits) != 10 {
		t.Fatalf("waits = %d, want 10", len(waits))
	}
	for i, w := range waits {
		if w < time.Second {
			t.Errorf("wait %d = %v, want >= 1s", i, w)
		}
	}
	if !errors.Is(out.Err, httputil.ErrExhausted) {
		t.Errorf("Err = %v", out.Err)
	}
	if !perrors.Is(out.Err, perrors.ErrCodeTimeout) {
		t.Errorf("Err = %v, want TIMEOUT code", out.Err)
	}
}

func TestFetchPersistentServerErrorIsTimeout(t *testing.T) {
	ix := pypitest.New()
	defer ix.Close()
	ix.AddProject("down", pypitest.Project{Serial: 4, JSON: jsonBody, Status: http.StatusServiceUnavailable})

	s := NewScheduler(newClient(t, ix), Options{Logger: quiet(), Retry: noSleep(nil)})
	out, err := s.Fetch(context.Background(), pages.KindJSON, Target{Name: "down", Serial: 4, ETag: `"old"`})
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != Timeout {
		t.Errorf("status = %v, want timeout (page kept, retried next run)", out.Status)
	}
	if !perrors.Is(out.Err, perrors.ErrCodeTimeout) {
		t.Errorf("Err = %v, want TIMEOUT code", out.Err)
	}
	if got := ix.Requests("/pypi/down/json"); got != DefaultRetries+1 {
		t.Errorf("requests = %d, want %d", got, DefaultRetries+1)
	}
}

func TestFetchLogsFromConcurrentFetches(t *testing.T) {
	ix := pypitest.New()
	defer ix.Close()
	var targets []Target
	for i := range 20 {
		name := fmt.Sprintf("log-%02d", i)
		ix.AddProject(name, pypitest.Project{Serial: 1, JSON: jsonBody, FailFirst: 1})
		targets = append(targets, Target{Name: name})
	}

	var buf bytes.Buffer
	logger := log.New(&buf)
	logger.SetLevel(log.DebugLevel)
	s := NewScheduler(newClient(t, ix), Options{Concurrency: 8, Logger: logger, Retry: noSleep(nil)})
	if _, err := s.Run(context.Background(), pages.KindJSON, targets, func(context.Context, Outcome) error { return nil }); err != nil {
		t.Fatal(err)
	}

	out := buf.String()
	for _, tg := range targets {
		if !strings.Contains(out, "name="+tg.Name) {
			t.Errorf("no log entry for %s", tg.Name)
		}
	}
	if !strings.Contains(out, "kind=json") {
		t.Errorf("log entries miss the page kind:\n%s", out)
	}
}

func TestFetchRecoversAfterTransientFailures(t *testing.T) {
	ix := pypitest.New()
	defer ix.Close()
	ix.AddProject("wobbly", pypitest.Project{Serial: 3, JSON: jsonBody, FailFirst: 2})

	var waits []time.Duration
	s := NewScheduler(newClient(t, ix), Options{Logger: quiet(), Retry: noSleep(&waits)})
	out, err := s.Fetch(context.Background(), pages.KindJSON, Target{Name: "wobbly"})
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != Fetched || out.Attempts != 3 || len(waits) != 2 {
		t.Errorf("status %v attempts %d waits %d", out.Status, out.Attempts, len(waits))
	}
}

func TestRunConcurrencyCeiling(t *testing.T) {
	ix := pypitest.New()
	defer ix.Close()
	ix.Delay = 20 * time.Millisecond

	var targets []Target
	for i := range 40 {
		name := fmt.Sprintf("pkg-%02d", i)
		ix.AddProject(name, pypitest.Project{Serial: int64(i + 1), JSON: jsonBody})
		targets = append(targets, Target{Name: name, Serial: int64(i + 1)})
	}

	const limit = 5
	s := NewScheduler(newClient(t, ix), Options{Concurrency: limit, Logger: quiet(), Retry: noSleep(nil)})
	got, sum := collect(t, s, pages.KindJSON, targets)

	if len(got) != len(targets) || sum.Fetched != len(targets) {
		t.Errorf("outcomes = %d, fetched = %d", len(got), sum.Fetched)
	}
	if m := ix.MaxInFlight(); m > limit {
		t.Errorf("max in flight = %d, want <= %d", m, limit)
	}
	if m := ix.MaxInFlight(); m < 2 {
		t.Errorf("max in flight = %d, fetches did not overlap", m)
	}
}

func TestRunCancelStopsDispatch(t *testing.T) {
	ix := pypitest.New()
	defer ix.Close()
	ix.Delay = 50 * time.Millisecond

	var targets []Target
	for i := range 50 {
		name := fmt.Sprintf("pkg-%02d", i)
		ix.AddProject(name, pypitest.Project{Serial: 1, JSON: jsonBody})
		targets = append(targets, Target{Name: name})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := NewScheduler(newClient(t, ix), Options{Concurrency: 2, Logger: quiet(), Retry: noSleep(nil)})

	var mu sync.Mutex
	emitted := 0
	sum, err := s.Run(ctx, pages.KindJSON, targets, func(context.Context, Outcome) error {
		mu.Lock()
		defer mu.Unlock()
		emitted++
		if emitted == 2 {
			cancel()
		}
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if emitted >= len(targets) || sum.Total() >= len(targets) {
		t.Errorf("emitted %d of %d after cancel", emitted, len(targets))
	}
	if sum.Total() != emitted {
		t.Errorf("summary total %d != emitted %d", sum.Total(), emitted)
	}
}

func TestRunEmitErrorStops(t *testing.T) {
	ix := pypitest.New()
	defer ix.Close()
	for i := range 10 {
		ix.AddProject(fmt.Sprintf("p%d", i), pypitest.Project{Serial: 1, JSON: jsonBody})
	}
	var targets []Target
	for i := range 10 {
		targets = append(targets, Target{Name: fmt.Sprintf("p%d", i)})
	}

	boom := errors.New("writer failed")
	s := NewScheduler(newClient(t, ix), Options{Concurrency: 1, Logger: quiet(), Retry: noSleep(nil)})
	_, err := s.Run(context.Background(), pages.KindJSON, targets, func(context.Context, Outcome) error { return boom })
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
}

func TestRunCountsOnlyAcceptedOutcomes(t *testing.T) {
	ix := pypitest.New()
	defer ix.Close()
	var targets []Target
	for i := range 10 {
		name := fmt.Sprintf("q%d", i)
		ix.AddProject(name, pypitest.Project{Serial: 1, JSON: jsonBody})
		targets = append(targets, Target{Name: name})
	}

	closed := errors.New("writer closed")
	accepted := 0
	s := NewScheduler(newClient(t, ix), Options{Concurrency: 1, Logger: quiet(), Retry: noSleep(nil)})
	sum, err := s.Run(context.Background(), pages.KindJSON, targets, func(context.Context, Outcome) error {
		if accepted == 3 {
			return closed
		}
		accepted++
		return nil
	})
	if !errors.Is(err, closed) {
		t.Fatalf("err = %v, want %v", err, closed)
	}
	if sum.Fetched != 3 || sum.Total() != 3 {
		t.Errorf("summary = %+v, want 3 fetched", sum)
	}
}

type hookRecorder struct {
	mu       sync.Mutex
	started  int
	statuses map[string]string
}

func (h *hookRecorder) OnFetchStart(context.Context, string, string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.started++
}

func (h *hookRecorder) OnFetchComplete(_ context.Context, kind, name, status string, _ int, _ time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.statuses[kind+"/"+name] = status
}

func TestFetchHooks(t *testing.T) {
	ix := pypitest.New()
	defer ix.Close()
	ix.AddProject("demo", pypitest.Project{Serial: 1, JSON: jsonBody})

	h := &hookRecorder{statuses: map[string]string{}}
	s := NewScheduler(newClient(t, ix), Options{Logger: quiet(), Retry: noSleep(nil), Hooks: h})
	collect(t, s, pages.KindJSON, []Target{{Name: "demo"}, {Name: "absent"}})

	if h.started != 2 {
		t.Errorf("started = %d", h.started)
	}
	if h.statuses["json/demo"] != "fetched" || h.statuses["json/absent"] != "gone" {
		t.Errorf("statuses = %v", h.statuses)
	}
}
