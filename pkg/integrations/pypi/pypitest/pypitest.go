// Package pypitest provides an in-process fake of the PyPI endpoints used by
// the mirror: simple pages, JSON documents and the XML-RPC change feed.
package pypitest

import (
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
)

// Project is one project served by the fake index.
type Project struct {
	DisplayName string
	Serial      int64
	Simple      string // simple page body; empty serves 404
	JSON        string // JSON document body; empty serves 404
	ETag        string // sent on 200, matched against If-None-Match
	NoHeader    bool   // omit X-PyPI-Last-Serial
	Status      int    // forced status for both kinds when non-zero
	FailFirst   int    // answer 503 to the first FailFirst page requests
}

// Event is one change feed entry.
type Event struct {
	Name      string
	Version   string
	Timestamp int64
	Action    string
	Serial    int64
}

// Index is a running fake index.
type Index struct {
	URL string

	// Delay holds every page request, to make concurrency observable.
	Delay time.Duration
	// BatchSize caps changelog_since_serial replies; 0 means unlimited.
	BatchSize int

	srv *httptest.Server

	mu          sync.Mutex
	projects    map[string]*Project
	changelog   []Event
	lastSerial  int64
	inFlight    int
	maxInFlight int
	requests    map[string]int
	rpcCalls    []string
}

// New starts a fake index. Close it when done.
func New() *Index {
	ix := &Index{
		projects: make(map[string]*Project),
		requests: make(map[string]int),
	}
	r := chi.NewRouter()
	r.Get("/simple/{name}/", ix.page("simple"))
	r.Get("/pypi/{name}/json", ix.page("json"))
	r.Post("/pypi", ix.xmlrpc)
	ix.srv = httptest.NewServer(r)
	ix.URL = ix.srv.URL
	return ix
}

// Close shuts the server down.
func (ix *Index) Close() { ix.srv.Close() }

// AddProject registers (or replaces) a project under its normalized name.
func (ix *Index) AddProject(name string, p Project) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	cp := p
	ix.projects[name] = &cp
	if p.Serial > ix.lastSerial {
		ix.lastSerial = p.Serial
	}
}

// AddEvents appends change feed entries. They must be in serial order.
func (ix *Index) AddEvents(events ...Event) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.changelog = append(ix.changelog, events...)
	for _, e := range events {
		if e.Serial > ix.lastSerial {
			ix.lastSerial = e.Serial
		}
	}
}

// SetLastSerial overrides the value of changelog_last_serial.
func (ix *Index) SetLastSerial(s int64) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.lastSerial = s
}

// MaxInFlight returns the highest number of concurrent page requests seen.
func (ix *Index) MaxInFlight() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.maxInFlight
}

// Requests returns how many page requests hit path.
func (ix *Index) Requests(path string) int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.requests[path]
}

// RPCCalls returns the XML-RPC method names called so far.
func (ix *Index) RPCCalls() []string {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return append([]string(nil), ix.rpcCalls...)
}

func (ix *Index) page(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")

		ix.mu.Lock()
		ix.inFlight++
		ix.maxInFlight = max(ix.maxInFlight, ix.inFlight)
		ix.requests[r.URL.Path]++
		p, ok := ix.projects[name]
		var proj Project
		fail := false
		if ok {
			proj = *p
			if p.FailFirst > 0 {
				p.FailFirst--
				fail = true
			}
		}
		ix.mu.Unlock()

		defer func() {
			ix.mu.Lock()
			ix.inFlight--
			ix.mu.Unlock()
		}()

		if ix.Delay > 0 {
			select {
			case <-time.After(ix.Delay):
			case <-r.Context().Done():
				return
			}
		}

		switch {
		case fail:
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		case !ok:
			http.NotFound(w, r)
			return
		case proj.Status != 0:
			w.WriteHeader(proj.Status)
			return
		}

		body := proj.JSON
		if kind == "simple" {
			body = proj.Simple
		}
		if body == "" {
			http.NotFound(w, r)
			return
		}
		if !proj.NoHeader {
			w.Header().Set("X-PyPI-Last-Serial", strconv.FormatInt(proj.Serial, 10))
		}
		if proj.ETag != "" {
			if r.Header.Get("If-None-Match") == proj.ETag {
				w.WriteHeader(http.StatusNotModified)
				return
			}
			w.Header().Set("ETag", proj.ETag)
		}
		io.WriteString(w, body)
	}
}

// =============================================================================
// XML-RPC
// =============================================================================

type methodCall struct {
	Method string `xml:"methodName"`
	Params []struct {
		Value struct {
			Int  string `xml:"int"`
			I4   string `xml:"i4"`
			Text string `xml:",chardata"`
		} `xml:"value"`
	} `xml:"params>param"`
}

func (c methodCall) intParam(i int) int64 {
	if i >= len(c.Params) {
		return 0
	}
	v := c.Params[i].Value
	s := v.Int
	if s == "" {
		s = v.I4
	}
	if s == "" {
		s = v.Text
	}
	n, _ := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	return n
}

func (ix *Index) xmlrpc(w http.ResponseWriter, r *http.Request) {
	var call methodCall
	if err := xml.NewDecoder(r.Body).Decode(&call); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ix.mu.Lock()
	ix.rpcCalls = append(ix.rpcCalls, call.Method)
	var value string
	switch call.Method {
	case "changelog_last_serial":
		value = xmlInt(ix.lastSerial)
	case "changelog_since_serial":
		since := call.intParam(0)
		var b strings.Builder
		b.WriteString("<array><data>")
		n := 0
		for _, e := range ix.changelog {
			if e.Serial <= since {
				continue
			}
			if ix.BatchSize > 0 && n == ix.BatchSize {
				break
			}
			version := xmlString(e.Version)
			fmt.Fprintf(&b, "<value><array><data><value>%s</value><value>%s</value><value>%s</value><value>%s</value><value>%s</value></data></array></value>",
				xmlString(e.Name), version, xmlInt(e.Timestamp), xmlString(e.Action), xmlInt(e.Serial))
			n++
		}
		b.WriteString("</data></array>")
		value = b.String()
	case "list_packages_with_serial":
		names := make([]string, 0, len(ix.projects))
		for n := range ix.projects {
			names = append(names, n)
		}
		sort.Strings(names)
		var b strings.Builder
		b.WriteString("<struct>")
		for _, n := range names {
			p := ix.projects[n]
			display := p.DisplayName
			if display == "" {
				display = n
			}
			fmt.Fprintf(&b, "<member><name>%s</name><value>%s</value></member>", escape(display), xmlInt(p.Serial))
		}
		b.WriteString("</struct>")
		value = b.String()
	}
	ix.mu.Unlock()

	w.Header().Set("Content-Type", "text/xml")
	if value == "" {
		fmt.Fprintf(w, `<?xml version="1.0"?><methodResponse><fault><value><struct>`+
			`<member><name>faultCode</name><value><int>1</int></value></member>`+
			`<member><name>faultString</name><value><string>unknown method %s</string></value></member>`+
			`</struct></value></fault></methodResponse>`, escape(call.Method))
		return
	}
	fmt.Fprintf(w, `<?xml version="1.0"?><methodResponse><params><param><value>%s</value></param></params></methodResponse>`, value)
}

func xmlInt(v int64) string     { return "<int>" + strconv.FormatInt(v, 10) + "</int>" }
func xmlString(s string) string { return "<string>" + escape(s) + "</string>" }

func escape(s string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}
