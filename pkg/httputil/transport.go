package httputil

import (
	"net/http"
	"time"
)

// DefaultTimeout bounds a single request to the index.
const DefaultTimeout = 30 * time.Second

type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

// NewTransport returns a RoundTripper that sets headers on every request
// that does not already carry them. A nil base uses http.DefaultTransport.
func NewTransport(base http.RoundTripper, headers map[string]string) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &headerTransport{base: base, headers: headers}
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range t.headers {
		if req.Header.Get(k) == "" {
			req.Header.Set(k, v)
		}
	}
	return t.base.RoundTrip(req)
}

// NewClient creates an HTTP client with the given timeout and default headers.
// A zero timeout uses [DefaultTimeout].
func NewClient(timeout time.Duration, headers map[string]string) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: NewTransport(nil, headers),
	}
}
