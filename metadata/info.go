package metadata

import (
	"context"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/pkg/errors"
	"github.com/wkbae/go-cp-viewer/model"
	"golang.org/x/net/html"
)

var ErrPackageNotFound = errors.New("package not found in course")

type packagesJSON struct {
	Packages []packageJSON `json:"imscps"`
}

type packageJSON struct {
	ID           int    `json:"id"`
	CourseModule int    `json:"coursemodule"`
	Course       int    `json:"course"`
	Name         string `json:"name"`
	Intro        string `json:"intro"`
}

type statusJSON struct {
	Status bool `json:"status"`
}

// GetPackageInfo returns the name and introduction of the package shown by
// module moduleID. Older sites do not offer this call; callers are expected
// to tolerate its failure.
func (c *Client) GetPackageInfo(ctx context.Context, courseID, moduleID int) (model.PackageInfo, error) {
	params := url.Values{}
	params.Set("courseids[0]", itoa(courseID))

	var res packagesJSON
	if err := c.call(ctx, "mod_imscp_get_imscps_by_courses", params, &res); err != nil {
		return model.PackageInfo{}, err
	}
	for _, p := range res.Packages {
		if p.CourseModule == moduleID {
			return model.PackageInfo{
				Name:  strings.TrimSpace(p.Name),
				Intro: HTMLToText(p.Intro),
			}, nil
		}
	}
	return model.PackageInfo{}, errors.Wrapf(ErrPackageNotFound, "module %d, course %d", moduleID, courseID)
}

// LogView records that the package instance was viewed.
func (c *Client) LogView(ctx context.Context, instance int) error {
	params := url.Values{}
	params.Set("imscpid", itoa(instance))

	var res statusJSON
	if err := c.call(ctx, "mod_imscp_view_imscp", params, &res); err != nil {
		return err
	}
	if !res.Status {
		return errors.Errorf("view of package %d was not logged", instance)
	}
	return nil
}

var blockElements = map[string]bool{
	"p": true, "div": true, "li": true, "ul": true, "ol": true, "tr": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"blockquote": true, "pre": true, "table": true,
}

// HTMLToText converts formatted text to plain text, keeping paragraph breaks.
func HTMLToText(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return strings.TrimSpace(s)
	}
	doc.Find("script, style").Remove()

	var b strings.Builder
	for _, node := range doc.Find("body").Nodes {
		writeText(&b, node)
	}

	var lines []string
	for _, line := range strings.Split(b.String(), "\n") {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

func writeText(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
	case html.ElementNode:
		if n.Data == "br" {
			b.WriteString("\n")
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeText(b, c)
	}
	if n.Type == html.ElementNode && blockElements[n.Data] {
		b.WriteString("\n")
	}
}
