package pages

import (
	"net/http"
	"strconv"
	"strings"
)

// SerialHeader carries the project's last serial on index responses.
const SerialHeader = "X-PyPI-Last-Serial"

// SerialSource records where a page serial came from.
type SerialSource string

const (
	SerialUnknown    SerialSource = "unknown"
	SerialFromHeader SerialSource = "header"
	SerialFromBody   SerialSource = "body"
	// SerialCarried marks a tombstone whose serial was taken from the
	// package table rather than the (absent) page.
	SerialCarried SerialSource = "carried"
)

// Serial is a page serial tagged with its provenance. The zero value is an
// unknown serial.
type Serial struct {
	Value  int64
	Source SerialSource
}

// Known reports whether the serial has a usable value.
func (s Serial) Known() bool {
	return s.Source != "" && s.Source != SerialUnknown
}

func (s Serial) String() string {
	if !s.Known() {
		return "unknown"
	}
	return strconv.FormatInt(s.Value, 10) + " (" + string(s.Source) + ")"
}

// Unknown returns the unknown serial.
func Unknown() Serial { return Serial{Source: SerialUnknown} }

// Carried returns a serial inherited from the package table.
func Carried(v int64) Serial { return Serial{Value: v, Source: SerialCarried} }

// ExtractSerial picks the authoritative serial of a fetched page: the header
// if it parses, then embedded (the body serial, nil when absent).
func ExtractSerial(h http.Header, embedded *int64) Serial {
	if v, ok := parseSerial(h.Get(SerialHeader)); ok {
		return Serial{Value: v, Source: SerialFromHeader}
	}
	if embedded != nil && *embedded >= 0 {
		return Serial{Value: *embedded, Source: SerialFromBody}
	}
	return Unknown()
}

func parseSerial(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}
