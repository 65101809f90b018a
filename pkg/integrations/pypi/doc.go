// Package pypi talks to the Python Package Index.
//
// # Overview
//
// Two interfaces of the index are used:
//
//   - XML-RPC at {index}/pypi: the change feed (changelog_last_serial,
//     changelog_since_serial) and the bulk listing
//     (list_packages_with_serial). These calls are expensive for the index, so
//     the client spaces them at least MinInterval apart (one second by default).
//   - Per-project pages: the simple listing at {index}/simple/{name}/ and the
//     JSON document at {index}/pypi/{name}/json, fetched with conditional GET.
//
// # Usage
//
//	client, err := pypi.NewClient(pypi.Options{Cache: c, CacheTTL: time.Hour})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	latest, err := client.LastSerial(ctx)
//	events, err := client.ChangelogSince(ctx, watermark)
//	resp, err := client.FetchPage(ctx, pages.KindSimple, "requests", etag)
//
// The bulk listing is cached under [cache.Keyer.ListingKey]; pass refresh to
// [Client.ListPackages] to bypass it.
package pypi
