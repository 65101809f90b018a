package pages

import (
	"bytes"
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"github.com/matzehuels/pypidata/pkg/errors"
)

var serialComment = regexp.MustCompile(`^SERIAL\s+(\d+)$`)

// FileRecord is one distribution file listed on a simple page.
type FileRecord struct {
	Filename       string
	URL            string // download URL without query or fragment
	RequiresPython string
	HashAlgo       string // lowercased, empty when the link has no hash
	HashValue      string
	GPGSig         *bool // nil when the attribute is absent
	Yanked         bool
	YankReason     string
}

// Anomaly describes a recoverable problem with one anchor.
type Anomaly struct {
	Index   int // anchor position in the document, 0-based
	Text    string
	Problem string
}

func (a Anomaly) String() string {
	return fmt.Sprintf("anchor %d (%q): %s", a.Index, a.Text, a.Problem)
}

// SimplePage is a decoded PEP 503 file listing.
type SimplePage struct {
	Files     []FileRecord
	Serial    *int64 // from the SERIAL comment, nil when absent
	Anomalies []Anomaly
}

type openAnchor struct {
	rec   FileRecord
	skip  bool
	text  strings.Builder
	index int
}

// DecodeSimple decodes a simple index page. Anchors are returned in document
// order. Malformed anchors produce anomalies instead of errors.
func DecodeSimple(body []byte) (*SimplePage, error) {
	page := &SimplePage{}
	z := html.NewTokenizer(bytes.NewReader(body))

	var cur *openAnchor
	anchors := 0

	closeAnchor := func() {
		if cur == nil {
			return
		}
		if !cur.skip {
			text := strings.TrimSpace(cur.text.String())
			if text != cur.rec.Filename {
				page.Anomalies = append(page.Anomalies, Anomaly{
					Index:   cur.index,
					Text:    text,
					Problem: fmt.Sprintf("link text does not match filename %q", cur.rec.Filename),
				})
			}
			page.Files = append(page.Files, cur.rec)
		}
		cur = nil
	}

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if err := z.Err(); err != io.EOF {
				return nil, errors.Wrap(errors.ErrCodeDecode, err, "tokenize simple page")
			}
			closeAnchor()
			return page, nil

		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			if string(name) != "a" {
				continue
			}
			if cur != nil {
				page.Anomalies = append(page.Anomalies, Anomaly{Index: cur.index, Text: cur.text.String(), Problem: "anchor not closed"})
				closeAnchor()
			}
			cur = &openAnchor{index: anchors}
			anchors++
			if problem := decodeAnchor(z, hasAttr, &cur.rec); problem != "" {
				page.Anomalies = append(page.Anomalies, Anomaly{Index: cur.index, Problem: problem})
				cur.skip = cur.rec.URL == ""
			}
			if tt == html.SelfClosingTagToken {
				closeAnchor()
			}

		case html.TextToken:
			if cur != nil {
				cur.text.Write(z.Text())
			}

		case html.EndTagToken:
			if name, _ := z.TagName(); string(name) == "a" {
				closeAnchor()
			}

		case html.CommentToken:
			if m := serialComment.FindSubmatch(bytes.TrimSpace(z.Text())); m != nil {
				if v, err := strconv.ParseInt(string(m[1]), 10, 64); err == nil {
					page.Serial = &v
				}
			}
		}
	}
}

// decodeAnchor fills rec from the anchor's attributes. It returns a problem
// description for anything malformed; rec.URL stays empty when the anchor
// has no usable link.
func decodeAnchor(z *html.Tokenizer, hasAttr bool, rec *FileRecord) string {
	var href string
	var haveHref bool
	var problems []string

	for hasAttr {
		var key, val []byte
		key, val, hasAttr = z.TagAttr()
		switch string(key) {
		case "href":
			href, haveHref = string(val), true
		case "data-requires-python":
			// TagAttr already unescapes entities such as &lt; and &gt;.
			rec.RequiresPython = string(val)
		case "data-gpg-sig":
			switch strings.ToLower(string(val)) {
			case "true":
				t := true
				rec.GPGSig = &t
			case "false":
				f := false
				rec.GPGSig = &f
			default:
				problems = append(problems, fmt.Sprintf("invalid data-gpg-sig %q", val))
			}
		case "data-yanked":
			rec.Yanked = true
			rec.YankReason = string(val)
		}
	}

	if !haveHref || strings.TrimSpace(href) == "" {
		return "anchor has no href"
	}
	u, err := url.Parse(href)
	if err != nil {
		return fmt.Sprintf("unparseable href %q", href)
	}

	raw := u.EscapedPath()
	raw = raw[strings.LastIndex(raw, "/")+1:]
	if name, err := url.PathUnescape(raw); err == nil {
		rec.Filename = name
	} else {
		rec.Filename = raw
		problems = append(problems, fmt.Sprintf("bad escape in filename %q", raw))
	}

	if frag := u.Fragment; frag != "" {
		algo, value, ok := strings.Cut(frag, "=")
		if ok && algo != "" && value != "" {
			rec.HashAlgo = strings.ToLower(algo)
			rec.HashValue = value
		} else {
			problems = append(problems, fmt.Sprintf("malformed hash fragment %q", frag))
		}
	}

	u.RawQuery, u.ForceQuery = "", false
	u.Fragment, u.RawFragment = "", ""
	rec.URL = u.String()

	return strings.Join(problems, "; ")
}
