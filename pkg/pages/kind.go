package pages

import (
	"strings"

	"github.com/matzehuels/pypidata/pkg/errors"
)

// Kind identifies a per-project index document.
type Kind string

const (
	KindJSON   Kind = "json"
	KindSimple Kind = "simple"
)

// Kinds lists every page kind in sync order.
var Kinds = []Kind{KindJSON, KindSimple}

// ParseKind accepts a kind name case-insensitively.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindJSON, KindSimple:
		return k, nil
	}
	return "", errors.New(errors.ErrCodeInvalidKind, "unknown page kind %q (want json or simple)", s)
}

// Table is the storage table holding pages of this kind.
func (k Kind) Table() string { return string(k) + "_pages" }

// Path is the index path for project name, relative to the index root.
func (k Kind) Path(name string) string {
	if k == KindJSON {
		return "/pypi/" + name + "/json"
	}
	return "/simple/" + name + "/"
}

func (k Kind) String() string { return string(k) }
