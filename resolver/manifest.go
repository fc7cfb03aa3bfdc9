package resolver

import (
	"encoding/xml"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/pkg/errors"
	"github.com/wkbae/go-cp-viewer/model"
)

const ManifestFilename = "imsmanifest.xml"

// Manifest-related errors.
var (
	ErrNoManifest      = errors.New("package: missing " + ManifestFilename)
	ErrInvalidManifest = errors.New("package: invalid " + ManifestFilename)
	ErrNoResources     = errors.New("package: manifest declares no resources")
)

// manifestXML represents the structure of imsmanifest.xml.
type manifestXML struct {
	XMLName       xml.Name         `xml:"manifest"`
	Identifier    string           `xml:"identifier,attr"`
	Organizations organizationsXML `xml:"organizations"`
	Resources     resourcesXML     `xml:"resources"`
}

type organizationsXML struct {
	Default       string            `xml:"default,attr"`
	Organizations []organizationXML `xml:"organization"`
}

type organizationXML struct {
	Identifier string    `xml:"identifier,attr"`
	Title      string    `xml:"title"`
	Items      []itemXML `xml:"item"`
}

type itemXML struct {
	Identifier    string    `xml:"identifier,attr"`
	IdentifierRef string    `xml:"identifierref,attr"`
	Parameters    string    `xml:"parameters,attr"`
	Title         string    `xml:"title"`
	Items         []itemXML `xml:"item"`
}

type resourcesXML struct {
	Base      string        `xml:"http://www.w3.org/XML/1998/namespace base,attr"`
	Resources []resourceXML `xml:"resource"`
}

type resourceXML struct {
	Identifier string    `xml:"identifier,attr"`
	Type       string    `xml:"type,attr"`
	Href       string    `xml:"href,attr"`
	Base       string    `xml:"http://www.w3.org/XML/1998/namespace base,attr"`
	Files      []fileXML `xml:"file"`
}

type fileXML struct {
	Href string `xml:"href,attr"`
}

// Resource is a manifest resource with its entry point.
type Resource struct {
	ID    string
	Type  string
	Href  string
	Files []string
}

// Manifest is the parsed package manifest.
type Manifest struct {
	Identifier string
	Title      string
	Resources  map[string]Resource // keyed by identifier
	Tree       []model.Node        // default organization
}

// Files returns every path the manifest declares.
func (m *Manifest) Files() []string {
	var files []string
	for _, r := range m.Resources {
		if r.Href != "" {
			files = append(files, r.Href)
		}
		files = append(files, r.Files...)
	}
	return files
}

// ParseManifest reads an imsmanifest.xml document.
func ParseManifest(r io.Reader) (*Manifest, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	var doc manifestXML
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(ErrInvalidManifest, err.Error())
	}

	m := &Manifest{
		Identifier: doc.Identifier,
		Resources:  make(map[string]Resource, len(doc.Resources.Resources)),
	}
	for _, res := range doc.Resources.Resources {
		base := joinBase(doc.Resources.Base, res.Base)
		r := Resource{
			ID:   res.Identifier,
			Type: res.Type,
		}
		if res.Href != "" {
			r.Href = cleanHref(base + res.Href)
		}
		for _, f := range res.Files {
			if f.Href != "" {
				r.Files = append(r.Files, cleanHref(base+f.Href))
			}
		}
		m.Resources[res.Identifier] = r
	}
	if len(m.Resources) == 0 {
		return nil, ErrNoResources
	}

	if org := doc.defaultOrganization(); org != nil {
		m.Title = strings.TrimSpace(org.Title)
		m.Tree = m.convertItems(org.Items, 1)
	}
	return m, nil
}

func (d *manifestXML) defaultOrganization() *organizationXML {
	orgs := d.Organizations.Organizations
	for i := range orgs {
		if orgs[i].Identifier == d.Organizations.Default {
			return &orgs[i]
		}
	}
	if len(orgs) > 0 {
		return &orgs[0]
	}
	return nil
}

func (m *Manifest) convertItems(items []itemXML, level int) []model.Node {
	if len(items) == 0 {
		return nil
	}
	nodes := make([]model.Node, 0, len(items))
	for _, it := range items {
		n := model.Node{
			Title:    strings.TrimSpace(it.Title),
			Level:    level,
			Children: m.convertItems(it.Items, level+1),
		}
		if res, ok := m.Resources[it.IdentifierRef]; ok && res.Href != "" {
			n.Href = res.Href + it.Parameters
		}
		nodes = append(nodes, n)
	}
	return nodes
}

func joinBase(bases ...string) string {
	var b string
	for _, s := range bases {
		if s == "" {
			continue
		}
		if !strings.HasSuffix(s, "/") {
			s += "/"
		}
		b += s
	}
	return b
}

// cleanHref normalises a package-relative href to the slash separated path
// used as index key. Queries and fragments are dropped.
func cleanHref(href string) string {
	if i := strings.IndexAny(href, "?#"); i >= 0 {
		href = href[:i]
	}
	if unescaped, err := url.PathUnescape(href); err == nil {
		href = unescaped
	}
	href = path.Clean("/" + href)
	return strings.TrimPrefix(href, "/")
}
