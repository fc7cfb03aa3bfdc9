package model

// Node is one raw table-of-contents node. A node without href is a category
// (subdirectory) marker and is never navigable.
type Node struct {
	Href     string
	Title    string
	Level    int
	Children []Node
}

// IsCategory reports whether the node is a non-navigable marker.
func (n Node) IsCategory() bool {
	return n.Href == ""
}

// Item is a navigable leaf page of a package.
type Item struct {
	Href  string
	Label string
	Rank  int
	Level int
}

// Entry is one row of the table of contents, navigable or not.
type Entry struct {
	Href       string
	Label      string
	Level      int
	Selectable bool
}

// ItemList is the ordered, flattened table of contents of a package.
type ItemList struct {
	Items   []Item
	Entries []Entry
}

// Len returns the number of navigable items.
func (l ItemList) Len() int {
	return len(l.Items)
}

// IndexOf returns the position of href among the items, or -1.
func (l ItemList) IndexOf(href string) int {
	if href == "" {
		return -1
	}
	for i, item := range l.Items {
		if item.Href == href {
			return i
		}
	}
	return -1
}

// First returns the href of the first item, or "" for an empty list.
func (l ItemList) First() string {
	if len(l.Items) == 0 {
		return ""
	}
	return l.Items[0].Href
}

// NavigationState is the current page and its neighbours. Empty strings mean
// there is no such page.
type NavigationState struct {
	Current  string
	Previous string
	Next     string
}
