package integrations

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/matzehuels/pypidata/pkg/cache"
	"github.com/matzehuels/pypidata/pkg/errors"
	"github.com/matzehuels/pypidata/pkg/httputil"
)

// maxBodySize caps a single page body. The largest simple pages on PyPI are
// tens of megabytes.
var maxBodySize int64 = 256 << 20

// Client provides shared HTTP functionality for the index clients.
// It handles caching, retry logic, and common request headers.
type Client struct {
	http    *http.Client
	cache   cache.Cache
	ttl     time.Duration
	headers map[string]string
}

// NewClient creates a Client with the given cache, cache TTL and default
// headers. Headers are applied to all requests made through this client.
// A nil cache disables caching.
func NewClient(c cache.Cache, ttl time.Duration, headers map[string]string) *Client {
	if c == nil {
		c = cache.NewNullCache()
	}
	return &Client{
		http:    NewHTTPClient(0),
		cache:   c,
		ttl:     ttl,
		headers: headers,
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func (c *Client) WithHTTPClient(h *http.Client) *Client {
	c.http = h
	return c
}

// Cached retrieves a value from cache or executes fetch and caches the result.
// If refresh is true, the cache is bypassed and fetch is always called.
// The fetch function should populate v; on success, v is stored in the cache.
func (c *Client) Cached(ctx context.Context, key string, refresh bool, v any, fetch func() error) error {
	if !refresh {
		if ok, _ := cache.GetJSON(ctx, c.cache, key, v); ok {
			return nil
		}
	}
	if err := httputil.RetryWithBackoff(ctx, fetch); err != nil {
		return err
	}
	_ = cache.SetJSON(ctx, c.cache, key, v, c.ttl)
	return nil
}

// Response is the result of a conditional GET.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte // empty on 304
	URL        string
}

// NotModified reports a 304 response.
func (r *Response) NotModified() bool { return r.StatusCode == http.StatusNotModified }

// ETag returns the response validator, if any.
func (r *Response) ETag() string { return r.Header.Get("ETag") }

// Conditional performs a GET, sending etag as If-None-Match when set.
// 200 and 304 responses are returned; every other outcome is an error:
// retryable ([httputil.RetryableError]) for transport failures, 429 and 5xx,
// [ErrNotFound] for 404/410 and [ErrStatus] otherwise. A body larger than
// maxBodySize is a DECODE_ERROR rather than a truncated page.
func (c *Client) Conditional(ctx context.Context, url, etag string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &httputil.RetryableError{Err: fmt.Errorf("%w: %v", ErrNetwork, err)}
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, err
	}

	out := &Response{StatusCode: resp.StatusCode, Header: resp.Header, URL: url}
	if resp.StatusCode == http.StatusOK {
		out.Body, err = io.ReadAll(io.LimitReader(resp.Body, maxBodySize+1))
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, &httputil.RetryableError{Err: fmt.Errorf("%w: read body: %v", ErrNetwork, err)}
		}
		if int64(len(out.Body)) > maxBodySize {
			return nil, errors.New(errors.ErrCodeDecode, "%s: body exceeds %d bytes", url, maxBodySize)
		}
	}
	return out, nil
}

func checkStatus(resp *http.Response) error {
	code := resp.StatusCode
	switch {
	case code == http.StatusOK, code == http.StatusNotModified:
		return nil
	case code == http.StatusNotFound, code == http.StatusGone:
		return ErrNotFound
	case code == http.StatusTooManyRequests:
		retryAfter, _ := strconv.Atoi(resp.Header.Get("Retry-After"))
		return &httputil.RetryableError{Err: &errors.RateLimitedError{RetryAfter: retryAfter}}
	case code >= 500:
		return &httputil.RetryableError{Err: fmt.Errorf("%w: status %d", ErrNetwork, code)}
	default:
		return fmt.Errorf("%w: status %d", ErrStatus, code)
	}
}
