// Package pages decodes the two per-project documents served by a PyPI
// index and extracts their serial.
//
// # Kinds
//
// [KindSimple] is the PEP 503 file listing at /simple/{name}/. It is an HTML
// page of anchors, one per distribution file, and carries its serial in a
// trailing "<!--SERIAL n-->" comment. [KindJSON] is the metadata document at
// /pypi/{name}/json with a structured "last_serial" field.
//
// # Decoding
//
// [DecodeSimple] never fails on a single malformed anchor: the record is kept
// (or skipped when it has no link at all) and an [Anomaly] describes what was
// wrong. Only an unreadable document is an error.
//
//	page, err := pages.DecodeSimple(body)
//	for _, f := range page.Files {
//	    fmt.Println(f.Filename, f.HashAlgo, f.HashValue)
//	}
//
// # Serials
//
// [ExtractSerial] applies the precedence used by the mirror: the
// X-PyPI-Last-Serial header, then the serial embedded in the body. When
// neither is usable the result is [SerialUnknown], which is still stored.
package pages
