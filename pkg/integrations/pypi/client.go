package pypi

import (
	"context"
	"fmt"
	"net/rpc"
	"strconv"
	"strings"
	"time"

	"github.com/kolo/xmlrpc"
	"golang.org/x/time/rate"

	"github.com/matzehuels/pypidata/pkg/buildinfo"
	"github.com/matzehuels/pypidata/pkg/cache"
	"github.com/matzehuels/pypidata/pkg/errors"
	"github.com/matzehuels/pypidata/pkg/httputil"
	"github.com/matzehuels/pypidata/pkg/integrations"
	"github.com/matzehuels/pypidata/pkg/pages"
)

// DefaultIndexURL is the public PyPI instance.
const DefaultIndexURL = "https://pypi.org"

// Options configures a [Client]. Zero values select defaults.
type Options struct {
	IndexURL    string        // default https://pypi.org
	XMLRPCURL   string        // default {IndexURL}/pypi
	UserAgent   string        // default buildinfo.UserAgent()
	Timeout     time.Duration // per HTTP request
	MinInterval time.Duration // between XML-RPC calls, default 1s
	Cache       cache.Cache   // bulk listing cache, default none
	CacheTTL    time.Duration
	Keyer       cache.Keyer
}

// Event is one change feed entry as reported by the index.
type Event struct {
	Name      string // display name, not normalized
	Version   string
	Timestamp time.Time
	Action    string
	Serial    int64
}

// Client provides access to the PyPI change feed, bulk listing and pages.
//
// All methods are safe for concurrent use by multiple goroutines.
type Client struct {
	*integrations.Client
	indexURL string
	rpc      *xmlrpc.Client
	limiter  *rate.Limiter
	keyer    cache.Keyer
}

// NewClient creates a PyPI client.
func NewClient(opts Options) (*Client, error) {
	if opts.IndexURL == "" {
		opts.IndexURL = DefaultIndexURL
	}
	opts.IndexURL = strings.TrimRight(opts.IndexURL, "/")
	if err := errors.ValidateURL(opts.IndexURL); err != nil {
		return nil, err
	}
	if opts.XMLRPCURL == "" {
		opts.XMLRPCURL = opts.IndexURL + "/pypi"
	}
	if opts.UserAgent == "" {
		opts.UserAgent = buildinfo.UserAgent()
	}
	if opts.MinInterval <= 0 {
		opts.MinInterval = time.Second
	}
	if opts.Keyer == nil {
		opts.Keyer = cache.NewDefaultKeyer()
	}

	headers := map[string]string{"User-Agent": opts.UserAgent}
	rpcClient, err := xmlrpc.NewClient(opts.XMLRPCURL, httputil.NewTransport(nil, headers))
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidConfig, err, "xml-rpc endpoint %s", opts.XMLRPCURL)
	}

	base := integrations.NewClient(opts.Cache, opts.CacheTTL, nil).
		WithHTTPClient(httputil.NewClient(opts.Timeout, headers))

	return &Client{
		Client:   base,
		indexURL: opts.IndexURL,
		rpc:      rpcClient,
		limiter:  rate.NewLimiter(rate.Every(opts.MinInterval), 1),
		keyer:    opts.Keyer,
	}, nil
}

// IndexURL returns the index root URL.
func (c *Client) IndexURL() string { return c.indexURL }

// Close releases the XML-RPC client.
func (c *Client) Close() error { return c.rpc.Close() }

// =============================================================================
// Pages
// =============================================================================

// PageURL returns the URL of a project page of the given kind.
func (c *Client) PageURL(kind pages.Kind, name string) string {
	return c.indexURL + kind.Path(name)
}

// FetchPage performs a conditional GET of a project page. See
// [integrations.Client.Conditional] for error classification.
func (c *Client) FetchPage(ctx context.Context, kind pages.Kind, name, etag string) (*integrations.Response, error) {
	return c.Conditional(ctx, c.PageURL(kind, name), etag)
}

// =============================================================================
// XML-RPC
// =============================================================================

// LastSerial returns the newest serial of the change feed.
func (c *Client) LastSerial(ctx context.Context) (int64, error) {
	var reply any
	if err := c.call(ctx, "changelog_last_serial", nil, &reply); err != nil {
		return 0, err
	}
	v, ok := toInt64(reply)
	if !ok {
		return 0, errors.New(errors.ErrCodeDecode, "changelog_last_serial returned %T", reply)
	}
	return v, nil
}

// ChangelogSince returns the change feed entries with serial greater than
// serial, in the order the index sent them.
func (c *Client) ChangelogSince(ctx context.Context, serial int64) ([]Event, error) {
	var reply []any
	if err := c.call(ctx, "changelog_since_serial", serial, &reply); err != nil {
		return nil, err
	}
	events := make([]Event, 0, len(reply))
	for i, raw := range reply {
		ev, err := decodeEvent(raw)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeDecode, err, "changelog entry %d", i)
		}
		events = append(events, ev)
	}
	return events, nil
}

// ListPackages returns every project on the index with its last serial,
// keyed by display name. The result is cached unless refresh is set.
func (c *Client) ListPackages(ctx context.Context, refresh bool) (map[string]int64, error) {
	var out map[string]int64
	err := c.Cached(ctx, c.keyer.ListingKey(c.indexURL), refresh, &out, func() error {
		var reply map[string]any
		if err := c.call(ctx, "list_packages_with_serial", nil, &reply); err != nil {
			return err
		}
		out = make(map[string]int64, len(reply))
		for name, raw := range reply {
			v, ok := toInt64(raw)
			if !ok {
				return errors.New(errors.ErrCodeDecode, "serial of %s is %T", name, raw)
			}
			out[name] = v
		}
		return nil
	})
	return out, err
}

// call performs a rate-limited XML-RPC call that honours ctx. Transport
// failures are retryable; XML-RPC faults are not.
func (c *Client) call(ctx context.Context, method string, args, reply any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	call := c.rpc.Go(method, args, reply, make(chan *rpc.Call, 1))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case done := <-call.Done:
		if done.Error == nil {
			return nil
		}
		switch fault := done.Error.(type) {
		case xmlrpc.FaultError, rpc.ServerError:
			return errors.Wrap(errors.ErrCodeNetwork, fault, "%s fault", method)
		}
		return &httputil.RetryableError{Err: fmt.Errorf("%w: %s: %v", integrations.ErrNetwork, method, done.Error)}
	}
}

func decodeEvent(raw any) (Event, error) {
	fields, ok := raw.([]any)
	if !ok || len(fields) < 5 {
		return Event{}, fmt.Errorf("want 5-element array, got %T", raw)
	}
	var ev Event
	ev.Name, _ = fields[0].(string)
	if ev.Name == "" {
		return Event{}, fmt.Errorf("missing project name")
	}
	ev.Version, _ = fields[1].(string)
	ts, ok := toInt64(fields[2])
	if !ok {
		return Event{}, fmt.Errorf("timestamp is %T", fields[2])
	}
	ev.Timestamp = time.Unix(ts, 0).UTC()
	ev.Action, _ = fields[3].(string)
	if ev.Serial, ok = toInt64(fields[4]); !ok {
		return Event{}, fmt.Errorf("serial is %T", fields[4])
	}
	return ev, nil
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case float64:
		return int64(n), true
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		return i, err == nil
	}
	return 0, false
}
