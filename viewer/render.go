package viewer

import (
	"io"

	"github.com/pkg/errors"
	"github.com/wkbae/go-cp-viewer/list"
	"github.com/wkbae/go-cp-viewer/model"
)

// NewInfo builds the table of contents of a package with current marked.
func NewInfo(title, description string, items model.ItemList, current string) Info {
	info := Info{
		Title:       title,
		Description: description,
	}
	n := 0
	for _, e := range items.Entries {
		ent := Entry{
			Label:      e.Label,
			Href:       e.Href,
			Padding:    list.PaddingSlots(e.Level),
			Selectable: e.Selectable,
			Current:    e.Selectable && e.Href == current,
		}
		if e.Selectable {
			n++
			ent.Number = n
		}
		info.Entries = append(info.Entries, ent)
	}
	return info
}

// WriteTOC renders info to w.
func WriteTOC(w io.Writer, info Info) error {
	if err := tmpl.ExecuteTemplate(w, "toc", info); err != nil {
		return errors.Wrap(err, "failed to render table of contents")
	}
	return nil
}
