package pypi

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/matzehuels/pypidata/pkg/cache"
	"github.com/matzehuels/pypidata/pkg/integrations"
	"github.com/matzehuels/pypidata/pkg/integrations/pypi/pypitest"
	"github.com/matzehuels/pypidata/pkg/pages"
)

func testClient(t *testing.T, ix *pypitest.Index, c cache.Cache) *Client {
	t.Helper()
	client, err := NewClient(Options{
		IndexURL:    ix.URL,
		MinInterval: time.Millisecond,
		Cache:       c,
		CacheTTL:    time.Hour,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestNewClientValidatesURL(t *testing.T) {
	if _, err := NewClient(Options{IndexURL: "ftp://pypi.org"}); err == nil {
		t.Error("expected error for non-http index URL")
	}
	c, err := NewClient(Options{})
	if err != nil {
		t.Fatalf("NewClient defaults: %v", err)
	}
	defer c.Close()
	if c.IndexURL() != DefaultIndexURL {
		t.Errorf("IndexURL = %q", c.IndexURL())
	}
	if got := c.PageURL(pages.KindSimple, "requests"); got != "https://pypi.org/simple/requests/" {
		t.Errorf("PageURL = %q", got)
	}
}

func TestLastSerial(t *testing.T) {
	ix := pypitest.New()
	defer ix.Close()
	ix.SetLastSerial(25000000)

	got, err := testClient(t, ix, nil).LastSerial(context.Background())
	if err != nil {
		t.Fatalf("LastSerial: %v", err)
	}
	if got != 25000000 {
		t.Errorf("LastSerial = %d", got)
	}
}

func TestXMLRPCCallsArePaced(t *testing.T) {
	ix := pypitest.New()
	defer ix.Close()
	ix.SetLastSerial(7)

	const interval = 100 * time.Millisecond
	client, err := NewClient(Options{IndexURL: ix.URL, MinInterval: interval})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer client.Close()

	const calls = 4
	start := time.Now()
	for range calls {
		if _, err := client.LastSerial(context.Background()); err != nil {
			t.Fatalf("LastSerial: %v", err)
		}
	}
	if elapsed, want := time.Since(start), (calls-1)*interval; elapsed < want {
		t.Errorf("%d calls took %v, want at least %v", calls, elapsed, want)
	}
	if got := len(ix.RPCCalls()); got != calls {
		t.Errorf("RPC calls = %d, want %d", got, calls)
	}
}

func TestChangelogSince(t *testing.T) {
	ix := pypitest.New()
	defer ix.Close()
	ix.AddEvents(
		pypitest.Event{Name: "Foo", Version: "1.0", Timestamp: 1700000000, Action: "new release", Serial: 10},
		pypitest.Event{Name: "bar_baz", Version: "", Timestamp: 1700000001, Action: "create", Serial: 11},
		pypitest.Event{Name: "Foo", Version: "1.0", Timestamp: 1700000002, Action: "add py3 file", Serial: 12},
	)

	events, err := testClient(t, ix, nil).ChangelogSince(context.Background(), 10)
	if err != nil {
		t.Fatalf("ChangelogSince: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %+v, want 2", events)
	}
	if events[0].Name != "bar_baz" || events[0].Serial != 11 || events[0].Version != "" {
		t.Errorf("event 0 = %+v", events[0])
	}
	if !events[1].Timestamp.Equal(time.Unix(1700000002, 0)) || events[1].Action != "add py3 file" {
		t.Errorf("event 1 = %+v", events[1])
	}
}

func TestListPackagesCached(t *testing.T) {
	ix := pypitest.New()
	defer ix.Close()
	ix.AddProject("zope-interface", pypitest.Project{DisplayName: "zope.interface", Serial: 5})
	ix.AddProject("requests", pypitest.Project{DisplayName: "requests", Serial: 9})

	fc, _ := cache.NewFileCache(t.TempDir())
	client := testClient(t, ix, fc)
	ctx := context.Background()

	got, err := client.ListPackages(ctx, false)
	if err != nil {
		t.Fatalf("ListPackages: %v", err)
	}
	if got["zope.interface"] != 5 || got["requests"] != 9 {
		t.Errorf("listing = %v", got)
	}

	if _, err := client.ListPackages(ctx, false); err != nil {
		t.Fatal(err)
	}
	if _, err := client.ListPackages(ctx, true); err != nil {
		t.Fatal(err)
	}

	n := 0
	for _, m := range ix.RPCCalls() {
		if m == "list_packages_with_serial" {
			n++
		}
	}
	if n != 2 {
		t.Errorf("list_packages_with_serial called %d times, want 2 (cache hit then refresh)", n)
	}
}

func TestFetchPage(t *testing.T) {
	ix := pypitest.New()
	defer ix.Close()
	ix.AddProject("demo", pypitest.Project{
		Serial: 7,
		Simple: `<a href="/f/demo-1.0.tar.gz">demo-1.0.tar.gz</a>`,
		ETag:   `"abc"`,
	})
	client := testClient(t, ix, nil)
	ctx := context.Background()

	resp, err := client.FetchPage(ctx, pages.KindSimple, "demo", "")
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	if resp.Header.Get(pages.SerialHeader) != "7" || resp.ETag() != `"abc"` {
		t.Errorf("headers = %v", resp.Header)
	}

	resp, err = client.FetchPage(ctx, pages.KindSimple, "demo", `"abc"`)
	if err != nil || !resp.NotModified() {
		t.Errorf("expected 304, got %+v err=%v", resp, err)
	}

	_, err = client.FetchPage(ctx, pages.KindJSON, "demo", "")
	if !errors.Is(err, integrations.ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing json page, got %v", err)
	}
}

func TestCallHonoursContext(t *testing.T) {
	ix := pypitest.New()
	defer ix.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := testClient(t, ix, nil).LastSerial(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestToInt64(t *testing.T) {
	tests := []struct {
		in   any
		want int64
		ok   bool
	}{
		{int64(5), 5, true},
		{7, 7, true},
		{"12", 12, true},
		{float64(3), 3, true},
		{nil, 0, false},
		{"x", 0, false},
	}
	for _, tt := range tests {
		got, ok := toInt64(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("toInt64(%v) = %d, %v; want %d, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
