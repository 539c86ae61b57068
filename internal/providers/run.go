package providers

import (
	"context"
	"fmt"
)

type runNodes struct {
	list   ListNodesStrategy
	add    AddNodeWithTagStrategy
	naming Naming
}

// NewRunNodesStrategy adapts a per-node AddNodeWithTagStrategy to the bulk
// RunNodesStrategy contract. Slots are keyed by the generated node name and
// take the lowest indexes not already used by listed nodes of the same tag.
func NewRunNodesStrategy(list ListNodesStrategy, add AddNodeWithTagStrategy, naming Naming) RunNodesStrategy {
	return &runNodes{list: list, add: add, naming: naming}
}

func (r *runNodes) RunNodesWithTag(ctx context.Context, tag string, count int, template Template) (map[string]CreateFunc, error) {
	existing, err := r.list.ListNodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("list existing nodes: %w", err)
	}
	used := map[int]bool{}
	for _, m := range existing {
		if t, idx, ok := ParseTag(m.Identity().Name); ok && t == tag {
			used[idx] = true
		}
	}

	units := make(map[string]CreateFunc, count)
	for _, idx := range NextIndexes(used, count) {
		name := r.naming.Name(tag, idx)
		units[name] = func(ctx context.Context) (*NodeMetadata, error) {
			return r.add.AddNodeWithTag(ctx, tag, name, template)
		}
	}
	return units, nil
}
