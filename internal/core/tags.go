package core

import (
	"fmt"
	"sort"

	prov "github.com/3cpo-dev/flotilla/internal/providers"
)

// TagOf returns the grouping tag of a node: the tag the backend reported, or
// the one encoded in a generated name.
func TagOf(m prov.ComputeMetadata) string {
	if n, ok := m.(*prov.NodeMetadata); ok && n != nil && n.Tag != "" {
		return n.Tag
	}
	tag, _, _ := prov.ParseTag(m.Identity().Name)
	return tag
}

// IndexByID indexes items by backend id. Two entries with the same id are an
// error, never merged.
func IndexByID[T prov.ComputeMetadata](items []T) (map[string]T, error) {
	out := make(map[string]T, len(items))
	for _, it := range items {
		id := it.Identity().ID
		if _, dup := out[id]; dup {
			return nil, fmt.Errorf("duplicate node id %q in listing", id)
		}
		out[id] = it
	}
	return out, nil
}

// FilterByTag keeps the nodes whose tag is exactly tag.
func FilterByTag(nodes []*prov.NodeMetadata, tag string) []*prov.NodeMetadata {
	var out []*prov.NodeMetadata
	for _, n := range nodes {
		if TagOf(n) == tag {
			out = append(out, n)
		}
	}
	return out
}

// FilterActive drops nodes that already reached TERMINATED.
func FilterActive(nodes []*prov.NodeMetadata) []*prov.NodeMetadata {
	var out []*prov.NodeMetadata
	for _, n := range nodes {
		if n.State != prov.StateTerminated {
			out = append(out, n)
		}
	}
	return out
}

// GroupByTag buckets nodes by tag, each bucket sorted by name. Untagged nodes
// land under the empty key.
func GroupByTag(nodes map[string]prov.ComputeMetadata) map[string][]prov.ComputeMetadata {
	groups := map[string][]prov.ComputeMetadata{}
	for _, n := range nodes {
		tag := TagOf(n)
		groups[tag] = append(groups[tag], n)
	}
	for _, g := range groups {
		sort.Slice(g, func(i, j int) bool { return g[i].Identity().Name < g[j].Identity().Name })
	}
	return groups
}

// SortedIDs returns the keys of an id index in lexical order.
func SortedIDs[T any](m map[string]T) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
