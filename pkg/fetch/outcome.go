package fetch

import (
	"fmt"

	"github.com/matzehuels/pypidata/pkg/pages"
)

// Status classifies a fetch.
type Status int

const (
	Fetched Status = iota
	NotModified
	Timeout
	Gone
)

var statusNames = [...]string{"fetched", "not-modified", "timeout", "gone"}

func (s Status) String() string {
	if int(s) < len(statusNames) && s >= 0 {
		return statusNames[s]
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Target is one page to fetch.
type Target struct {
	Name   string // normalized
	Serial int64  // package last_serial; carried onto tombstones and 304s
	ETag   string // stored validator, sent as If-None-Match
}

// Outcome is the result of fetching one page.
type Outcome struct {
	Kind     pages.Kind
	Name     string
	Status   Status
	URL      string
	ETag     string
	Serial   pages.Serial
	Body     []byte         // Fetched only
	Decoded  *pages.Decoded // Fetched only; nil when the body did not decode
	Attempts int
	Err      error // last failure for Timeout and Gone
}

// Summary counts outcomes by status.
type Summary struct {
	Fetched       int
	NotModified   int
	Timeout       int
	Gone          int
	UnknownSerial int // fetched pages stored without a serial
	Anomalies     int // decode anomalies across all fetched pages
}

// Total returns the number of outcomes counted.
func (s Summary) Total() int {
	return s.Fetched + s.NotModified + s.Timeout + s.Gone
}

// Add returns the element-wise sum of s and o.
func (s Summary) Add(o Summary) Summary {
	return Summary{
		Fetched:       s.Fetched + o.Fetched,
		NotModified:   s.NotModified + o.NotModified,
		Timeout:       s.Timeout + o.Timeout,
		Gone:          s.Gone + o.Gone,
		UnknownSerial: s.UnknownSerial + o.UnknownSerial,
		Anomalies:     s.Anomalies + o.Anomalies,
	}
}

func (s *Summary) count(o Outcome) {
	switch o.Status {
	case Fetched:
		s.Fetched++
		if !o.Serial.Known() {
			s.UnknownSerial++
		}
		s.Anomalies += len(o.Decoded.Anomalies())
	case NotModified:
		s.NotModified++
	case Timeout:
		s.Timeout++
	case Gone:
		s.Gone++
	}
}
