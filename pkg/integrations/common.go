package integrations

import (
	"errors"
	"net/http"
	"time"

	"github.com/matzehuels/pypidata/pkg/buildinfo"
	perrors "github.com/matzehuels/pypidata/pkg/errors"
	"github.com/matzehuels/pypidata/pkg/httputil"
)

const httpTimeout = 30 * time.Second

var (
	// ErrNotFound is returned when the index reports a resource as missing
	// (404 or 410).
	ErrNotFound error = perrors.New(perrors.ErrCodeNotFound, "resource not found")

	// ErrNetwork is returned for HTTP failures (timeouts, connection errors, 5xx responses).
	ErrNetwork = errors.New("network error")

	// ErrStatus is returned for any other unexpected status code.
	ErrStatus = errors.New("unexpected status")
)

// NewHTTPClient creates an HTTP client with a standard timeout that sends
// the pypidata User-Agent.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = httpTimeout
	}
	return httputil.NewClient(timeout, map[string]string{"User-Agent": buildinfo.UserAgent()})
}
