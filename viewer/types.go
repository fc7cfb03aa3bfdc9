package viewer

// Info is what the table of contents template renders.
type Info struct {
	Title       string
	Description string
	Entries     []Entry
}

type Entry struct {
	Number     int // 0 for categories
	Label      string
	Href       string
	Padding    int
	Selectable bool
	Current    bool
}
