package providers

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// DefaultNamingPrefix is used when the config names no prefix.
const DefaultNamingPrefix = "flotilla"

var tagPattern = regexp.MustCompile(`^[^-]+-([^-]+)-([0-9]+)$`)

// Naming renders and parses generated node names of the form prefix-tag-index.
// The hyphen is the field separator, which is why tags may not contain one.
type Naming struct {
	Prefix string
}

// NewNaming returns a Naming for prefix, falling back to DefaultNamingPrefix.
// Hyphens in the prefix are dropped so that names stay parseable.
func NewNaming(prefix string) Naming {
	prefix = strings.ReplaceAll(prefix, "-", "")
	if prefix == "" {
		prefix = DefaultNamingPrefix
	}
	return Naming{Prefix: prefix}
}

// Name returns the node name for the index-th node of tag.
func (n Naming) Name(tag string, index int) string {
	return fmt.Sprintf("%s-%s-%d", n.Prefix, tag, index)
}

// ParseTag extracts the tag and index from a generated name.
func ParseTag(name string) (tag string, index int, ok bool) {
	m := tagPattern.FindStringSubmatch(name)
	if m == nil {
		return "", 0, false
	}
	index, err := strconv.Atoi(m[2])
	if err != nil {
		return "", 0, false
	}
	return m[1], index, true
}

// ValidateTag enforces the tag invariants.
func ValidateTag(tag string) error {
	if tag == "" {
		return Invalid("tag", tag, "tag is required")
	}
	if strings.Contains(tag, "-") {
		return Invalid("tag", tag, "tag cannot contain hyphens")
	}
	return nil
}

// NextIndexes returns count indexes starting at 1 that are not in used.
func NextIndexes(used map[int]bool, count int) []int {
	out := make([]int, 0, count)
	for i := 1; len(out) < count; i++ {
		if !used[i] {
			out = append(out, i)
		}
	}
	return out
}
