// Package httputil provides HTTP plumbing shared by the index clients.
//
// # Retry
//
// [Policy] retries an operation while it fails with a [RetryableError].
// Network errors and 5xx responses are wrapped as retryable by the callers;
// everything else fails immediately. Page fetches use [FixedPolicy] (10
// retries, one second apart); storage batches use [Backoff] (delay doubles).
//
//	p := httputil.FixedPolicy(10, time.Second)
//	attempts, err := p.Do(ctx, func() error {
//	    return fetch(ctx)
//	})
//
// When every attempt fails, Do returns an error wrapping [ErrExhausted] and
// the last failure, so callers can classify the result as a timeout.
//
// # Transport
//
// [NewTransport] decorates a RoundTripper with default headers, which is how
// the User-Agent reaches both the page client and the XML-RPC client.
package httputil
