package list

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/wkbae/go-cp-viewer/model"
)

type structureNode struct {
	Href     string          `json:"href"`
	Title    string          `json:"title"`
	Level    level           `json:"level"`
	Subitems []structureNode `json:"subitems"`
}

// level accepts both numbers and numeric strings.
type level int

func (l *level) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), "\"")
	if s == "" || s == "null" {
		*l = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return errors.Wrapf(err, "invalid level %s", data)
	}
	*l = level(n)
	return nil
}

// ParseStructure decodes the JSON table of contents carried by the
// "structure" content entry.
func ParseStructure(raw string) ([]model.Node, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	var nodes []structureNode
	if err := json.Unmarshal([]byte(raw), &nodes); err != nil {
		return nil, errors.Wrap(err, "failed to parse package structure")
	}
	return convertNodes(nodes), nil
}

func convertNodes(nodes []structureNode) []model.Node {
	if len(nodes) == 0 {
		return nil
	}
	res := make([]model.Node, 0, len(nodes))
	for _, n := range nodes {
		res = append(res, model.Node{
			Href:     strings.TrimSpace(n.Href),
			Title:    strings.TrimSpace(n.Title),
			Level:    int(n.Level),
			Children: convertNodes(n.Subitems),
		})
	}
	return res
}

// FromContents builds the item list of a package from its raw contents. When
// no structure entry is present, HTML files are listed in content order.
// Malformed structures yield an empty list.
func FromContents(contents []model.ContentEntry) model.ItemList {
	for _, c := range contents {
		if c.Type == model.ContentTypeContent && c.Filename == model.StructureFilename {
			nodes, err := ParseStructure(c.Content)
			if err != nil {
				return model.ItemList{}
			}
			return Build(nodes)
		}
	}

	var nodes []model.Node
	for _, c := range contents {
		if c.Type != model.ContentTypeFile {
			continue
		}
		lower := strings.ToLower(c.Filename)
		if strings.HasSuffix(lower, ".html") || strings.HasSuffix(lower, ".htm") {
			nodes = append(nodes, model.Node{Href: c.RelPath(), Title: c.Filename})
		}
	}
	return Build(nodes)
}
