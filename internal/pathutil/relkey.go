package pathutil

import (
	"strings"

	"golang.org/x/text/cases"
)

var foldCaser = cases.Fold()

// RelKey is a forward-slash-separated path relative to a project root.
// Comparison is case-insensitive (Unicode case folding, not a naive
// ToLower, since project and document names round-trip through Origin
// and may contain non-ASCII text); writes preserve the original case.
type RelKey string

// NewRelKey normalizes an OS path or listing key into a RelKey: slashes
// are forced to "/", and leading/trailing slashes are trimmed.
func NewRelKey(p string) RelKey {
	p = strings.ReplaceAll(p, `\`, "/")
	p = strings.Trim(p, "/")
	return RelKey(p)
}

// Fold returns the case-folded comparison form of the key, used as the
// map key for union/lookup across local, S3, and manifest state.
func (k RelKey) Fold() string {
	return foldCaser.String(string(k))
}

// Equal reports case-insensitive equality between two keys.
func (k RelKey) Equal(other RelKey) bool {
	return k.Fold() == other.Fold()
}

// Depth is the number of path segments, used to order placeholder
// creation and folder materialization shallow-to-deep.
func (k RelKey) Depth() int {
	if k == "" {
		return 0
	}
	return strings.Count(string(k), "/") + 1
}

// IsPlaceholder reports whether the key names a folder placeholder
// object rather than real content.
func (k RelKey) IsPlaceholder() bool {
	return strings.HasSuffix(string(k), ".placeholder")
}

func (k RelKey) String() string { return string(k) }
