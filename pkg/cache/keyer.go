package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Keyer builds cache keys.
type Keyer interface {
	// ListingKey identifies the bulk package listing of an index.
	ListingKey(indexURL string) string
}

// DefaultKeyer builds unprefixed keys.
type DefaultKeyer struct{}

// NewDefaultKeyer returns a [DefaultKeyer].
func NewDefaultKeyer() Keyer { return DefaultKeyer{} }

// ListingKey implements [Keyer].
func (DefaultKeyer) ListingKey(indexURL string) string {
	return hashKey("listing", indexURL)
}

// ScopedKeyer wraps a Keyer with a prefix, for several mirrors sharing one
// Redis instance:
//
//	keyer := cache.NewScopedKeyer(cache.NewDefaultKeyer(), "mirror-eu:")
type ScopedKeyer struct {
	inner  Keyer
	prefix string
}

// NewScopedKeyer creates a keyer with a prefix.
// A nil inner keyer defaults to [DefaultKeyer].
func NewScopedKeyer(inner Keyer, prefix string) Keyer {
	if inner == nil {
		inner = DefaultKeyer{}
	}
	return &ScopedKeyer{inner: inner, prefix: prefix}
}

// ListingKey implements [Keyer].
func (k *ScopedKeyer) ListingKey(indexURL string) string {
	return k.prefix + k.inner.ListingKey(indexURL)
}

// hashKey joins prefix and a SHA-256 of parts: "listing:3f2a...".
func hashKey(prefix string, parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return prefix + ":" + hex.EncodeToString(sum[:])
}
