package core

import (
	"testing"

	prov "github.com/3cpo-dev/flotilla/internal/providers"
)

func node(id, tag, name string, state prov.NodeState) *prov.NodeMetadata {
	return &prov.NodeMetadata{Resource: prov.Resource{ID: id, Type: prov.TypeNode, Name: name}, Tag: tag, State: state}
}

func TestTagOf(t *testing.T) {
	cases := []struct {
		in   prov.ComputeMetadata
		want string
	}{
		{node("1", "web", "anything", prov.StateRunning), "web"},
		{node("2", "", "flotilla-db-3", prov.StateRunning), "db"},
		{prov.Resource{ID: "3", Type: prov.TypeNode, Name: "flotilla-cache-10"}, "cache"},
		{prov.Resource{ID: "4", Type: prov.TypeNode, Name: "hand-made"}, ""},
	}
	for _, c := range cases {
		if got := TagOf(c.in); got != c.want {
			t.Errorf("TagOf(%s) = %q, want %q", c.in.Identity().ID, got, c.want)
		}
	}
}

func TestIndexByID(t *testing.T) {
	nodes := []*prov.NodeMetadata{node("1", "web", "", prov.StateRunning), node("2", "web", "", prov.StateRunning)}
	idx, err := IndexByID(nodes)
	if err != nil {
		t.Fatalf("IndexByID: %v", err)
	}
	if len(idx) != 2 || idx["2"] != nodes[1] {
		t.Fatalf("unexpected index %v", idx)
	}

	nodes = append(nodes, node("1", "db", "", prov.StateRunning))
	if _, err := IndexByID(nodes); err == nil {
		t.Fatal("expected duplicate id error")
	}
}

func TestFilters(t *testing.T) {
	nodes := []*prov.NodeMetadata{
		node("1", "web", "", prov.StateRunning),
		node("2", "web", "", prov.StateTerminated),
		node("3", "webs", "", prov.StateRunning),
		node("4", "db", "", prov.StateError),
	}
	web := FilterByTag(nodes, "web")
	if len(web) != 2 || web[0].ID != "1" || web[1].ID != "2" {
		t.Fatalf("unexpected web nodes %v", web)
	}
	active := FilterActive(web)
	if len(active) != 1 || active[0].ID != "1" {
		t.Fatalf("unexpected active nodes %v", active)
	}
	if got := FilterByTag(nodes, "we"); len(got) != 0 {
		t.Fatalf("prefix must not match, got %v", got)
	}
}

func TestGroupByTag(t *testing.T) {
	nodes := map[string]prov.ComputeMetadata{
		"1": node("1", "web", "flotilla-web-2", prov.StateRunning),
		"2": node("2", "web", "flotilla-web-1", prov.StateRunning),
		"3": prov.Resource{ID: "3", Type: prov.TypeNode, Name: "flotilla-db-1"},
		"4": prov.Resource{ID: "4", Type: prov.TypeNode, Name: "bastion"},
	}
	groups := GroupByTag(nodes)
	if len(groups) != 3 {
		t.Fatalf("expected 3 groups, got %d", len(groups))
	}
	if web := groups["web"]; len(web) != 2 || web[0].Identity().ID != "2" {
		t.Fatalf("expected web sorted by name, got %v", web)
	}
	if len(groups["db"]) != 1 || len(groups[""]) != 1 {
		t.Fatalf("unexpected groups %v", groups)
	}
}
