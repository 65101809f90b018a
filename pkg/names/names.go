// Package names normalizes PyPI project names.
//
// The normalized form is the join key for every table in the mirror: runs of
// ".", "-" and "_" collapse to a single "-" and the result is lowercased, so
// "Foo--Bar.Baz" and "foo_bar_baz" both become "foo-bar-baz".
package names

import (
	"bufio"
	"io"
	"regexp"
	"strings"

	"github.com/matzehuels/pypidata/pkg/errors"
)

var (
	separators = regexp.MustCompile(`[-_.]+`)
	validName  = regexp.MustCompile(`^[-_.A-Za-z0-9]+$`)
)

// Normalize returns the canonical form of name. It is idempotent.
func Normalize(name string) string {
	return strings.ToLower(separators.ReplaceAllString(name, "-"))
}

// Valid reports whether name consists only of letters, digits, ".", "-" and "_".
func Valid(name string) bool {
	return validName.MatchString(name)
}

// Validate returns an INVALID_NAME error when name is not [Valid].
func Validate(name string) error {
	if name == "" {
		return errors.New(errors.ErrCodeInvalidName, "project name cannot be empty")
	}
	if !Valid(name) {
		return errors.New(errors.ErrCodeInvalidName, "invalid project name: %q", name)
	}
	return nil
}

// Parse reads a newline separated name list. Blank lines and lines starting
// with "#" are skipped; names are normalized and de-duplicated in order.
// Invalid names are returned in rejected rather than failing the whole list.
func Parse(r io.Reader) (out, rejected []string, err error) {
	sc := bufio.NewScanner(r)
	seen := make(map[string]bool)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !Valid(line) {
			rejected = append(rejected, line)
			continue
		}
		n := Normalize(line)
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out, rejected, sc.Err()
}

// NormalizeAll normalizes and de-duplicates names, preserving order.
func NormalizeAll(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		n := Normalize(strings.TrimSpace(s))
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}
