// Package list flattens the table of contents of a package into the ordered
// sequence of pages the viewer navigates.
package list

import (
	"github.com/wkbae/go-cp-viewer/model"
)

// Build flattens nodes depth first. Navigable nodes become items in
// traversal order; category nodes only produce non-selectable entries. A href
// seen twice keeps its first position.
func Build(nodes []model.Node) model.ItemList {
	var l model.ItemList
	seen := make(map[string]bool)

	var walk func(nodes []model.Node, depth int)
	walk = func(nodes []model.Node, depth int) {
		for _, n := range nodes {
			level := n.Level
			if level <= 0 {
				level = depth
			}

			if n.IsCategory() {
				l.Entries = append(l.Entries, model.Entry{
					Label: n.Title,
					Level: level,
				})
			} else if !seen[n.Href] {
				seen[n.Href] = true
				label := n.Title
				if label == "" {
					label = n.Href
				}
				l.Items = append(l.Items, model.Item{
					Href:  n.Href,
					Label: label,
					Rank:  len(l.Items),
					Level: level,
				})
				l.Entries = append(l.Entries, model.Entry{
					Href:       n.Href,
					Label:      label,
					Level:      level,
					Selectable: true,
				})
			}

			walk(n.Children, level+1)
		}
	}
	walk(nodes, 1)

	return l
}

// PaddingSlots returns how many indentation slots a row of the given depth
// takes in the table of contents.
func PaddingSlots(depth int) int {
	if depth < 0 {
		return 0
	}
	return depth
}
