package main

import (
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/mattn/go-isatty"

	core "github.com/3cpo-dev/flotilla/internal/core"
	prov "github.com/3cpo-dev/flotilla/internal/providers"
	"github.com/3cpo-dev/flotilla/pkg/api"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#3b82f6")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#6b7280")).Padding(0, 1)
)

func nodeView(m prov.ComputeMetadata) api.Node {
	id := m.Identity()
	v := api.Node{ID: id.ID, Name: id.Name, Tag: core.TagOf(m), Location: id.Location, State: "-"}
	if n, ok := m.(*prov.NodeMetadata); ok && n != nil {
		v.State = string(n.State)
		v.PublicAddresses = n.PublicAddresses
		v.PrivateAddresses = n.PrivateAddresses
	}
	return v
}

// nodeViews renders a result map in id order.
func nodeViews[T prov.ComputeMetadata](nodes map[string]T) []api.Node {
	out := make([]api.Node, 0, len(nodes))
	for _, id := range core.SortedIDs(nodes) {
		out = append(out, nodeView(nodes[id]))
	}
	return out
}

func renderNodes(nodes []api.Node) string {
	rows := make([][]string, 0, len(nodes))
	for _, n := range nodes {
		rows = append(rows, []string{
			n.Tag,
			n.Name,
			n.ID,
			n.State,
			n.Location,
			strings.Join(n.PublicAddresses, ","),
		})
	}
	return renderTable([]string{"TAG", "NAME", "ID", "STATE", "LOCATION", "PUBLIC"}, rows)
}

func renderTable(headers []string, rows [][]string) string {
	t := table.New().
		Border(lipgloss.HiddenBorder()).
		Headers(headers...).
		Rows(rows...)
	if isatty.IsTerminal(os.Stdout.Fd()) {
		t = t.StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case col == 2:
				return dimStyle
			default:
				return cellStyle
			}
		})
	}
	return t.String() + "\n"
}
