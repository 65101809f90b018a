// Package integrations provides the HTTP layer for talking to a package index.
//
// The [Client] type is shared by the index clients in the subpackages:
//
//   - [pypi]: PyPI XML-RPC change feed, bulk listing and per-project pages
//
// # Client Pattern
//
// [Client.Conditional] performs a revalidating GET and classifies the
// response so that callers only switch on error identity:
//
//	resp, err := client.Conditional(ctx, url, storedETag)
//	switch {
//	case httputil.IsRetryable(err): // transient, try again
//	case errors.Is(err, integrations.ErrNotFound): // the resource is gone
//	case err != nil: // permanent failure
//	case resp.NotModified(): // unchanged since storedETag
//	}
//
// [Client.Cached] wraps expensive calls with the [cache.Cache] given at
// construction.
package integrations
