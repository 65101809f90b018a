package errors

import (
	"net/url"
	"strings"
	"unicode"
)

// ValidateURL validates an index URL.
// It must parse, use http or https and carry a host.
func ValidateURL(rawURL string) error {
	if rawURL == "" {
		return New(ErrCodeInvalidInput, "URL cannot be empty")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return Wrap(ErrCodeInvalidInput, err, "invalid URL %q", rawURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return New(ErrCodeInvalidInput, "URL must use http or https scheme")
	}
	if u.Host == "" {
		return New(ErrCodeInvalidInput, "URL must include a host")
	}
	return nil
}

// ValidateDatabasePath validates a database file path.
// "file:" URIs are passed through to the driver untouched.
func ValidateDatabasePath(path string) error {
	if strings.TrimSpace(path) == "" {
		return New(ErrCodeInvalidPath, "database path cannot be empty")
	}
	if strings.HasPrefix(path, "file:") {
		return nil
	}
	for _, r := range path {
		if r == '\x00' || unicode.IsControl(r) {
			return New(ErrCodeInvalidPath, "database path contains invalid control characters")
		}
	}
	if strings.HasSuffix(path, "/") {
		return New(ErrCodeInvalidPath, "database path %q is a directory", path)
	}
	return nil
}
