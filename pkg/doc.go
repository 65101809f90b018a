// Package pkg provides the libraries behind pypidata, an incremental mirror
// of PyPI project metadata kept in a local SQLite database.
//
// # Overview
//
// The pkg directory is organized by concern:
//
//  1. [integrations] - HTTP and XML-RPC access to the index
//  2. [changelog] - replay of the index change feed
//  3. [fetch] - bounded-concurrency page fetching with retries
//  4. [pipeline] - the single writer and the sync runner
//  5. [store] - the SQLite schema, page writes and the run ledger
//  6. [pages], [names] - page kinds, serials, decoding and name rules
//
// Supporting packages: [cache] (bulk listing cache), [httputil] (retry
// policies and transports), [errors] (coded errors), [observability]
// (hooks) and [buildinfo].
//
// # Architecture
//
// A full sync runs three steps, each recorded as a run in the ledger:
//
//	changelog_since_serial ──> [changelog] ──> changelog table, watermark
//	list_packages_with_serial ──> packages table (last_serial per project)
//	packages.last_serial > page serial
//	         ↓
//	    [fetch] scheduler (N in flight, retry per page)
//	         ↓
//	    [pipeline] writer (one goroutine, batched transactions)
//	         ↓
//	    [store] pages, file records, project metadata
//
// # Quick Start
//
//	client, _ := pypi.NewClient(pypi.Options{})
//	db, _ := store.Open(ctx, "pypi.db")
//	runner := pipeline.NewRunner(db, client, log.Default(), observability.Hooks{})
//
//	res, err := runner.SyncPages(ctx, pipeline.Options{
//	    Kinds: []pages.Kind{pages.KindJSON},
//	})
//
// [integrations]: https://pkg.go.dev/github.com/matzehuels/pypidata/pkg/integrations
// [changelog]: https://pkg.go.dev/github.com/matzehuels/pypidata/pkg/changelog
// [fetch]: https://pkg.go.dev/github.com/matzehuels/pypidata/pkg/fetch
// [pipeline]: https://pkg.go.dev/github.com/matzehuels/pypidata/pkg/pipeline
// [store]: https://pkg.go.dev/github.com/matzehuels/pypidata/pkg/store
// [pages]: https://pkg.go.dev/github.com/matzehuels/pypidata/pkg/pages
// [names]: https://pkg.go.dev/github.com/matzehuels/pypidata/pkg/names
// [cache]: https://pkg.go.dev/github.com/matzehuels/pypidata/pkg/cache
// [httputil]: https://pkg.go.dev/github.com/matzehuels/pypidata/pkg/httputil
// [errors]: https://pkg.go.dev/github.com/matzehuels/pypidata/pkg/errors
// [observability]: https://pkg.go.dev/github.com/matzehuels/pypidata/pkg/observability
// [buildinfo]: https://pkg.go.dev/github.com/matzehuels/pypidata/pkg/buildinfo
package pkg
