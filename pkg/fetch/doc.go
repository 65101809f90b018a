// Package fetch retrieves project pages from the index with bounded
// concurrency.
//
// A [Scheduler] fetches one page per [Target], never keeping more than
// Options.Concurrency requests in flight. Every fetch is conditional on the
// stored ETag and retried on transient failure with a fixed delay. The
// result of each fetch is an [Outcome] handed to the caller's emit function
// as soon as it is ready; the scheduler itself never touches storage.
//
// # Outcomes
//
//	Fetched      200 with a body: decoded, serial from header or body
//	NotModified  304: body kept, serial from header or carried
//	Gone         404, 410, other 4xx or an empty body: tombstone
//	Timeout      retry budget spent: skipped, retried next run
//
// Summary counts are returned from [Scheduler.Run] as values.
package fetch
