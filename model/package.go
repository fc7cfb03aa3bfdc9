// Package model holds the data shared by the viewer core: packages and their
// raw contents, navigable items, locators and download status.
package model

import "time"

const (
	ContentTypeContent = "content"
	ContentTypeFile    = "file"

	// StructureFilename names the content entry carrying the TOC as JSON.
	StructureFilename = "structure"
)

// ContentEntry is one raw content record of a package as the site delivers it.
type ContentEntry struct {
	Type         string `json:"type"`
	Filename     string `json:"filename"`
	Filepath     string `json:"filepath"`
	Filesize     int64  `json:"filesize"`
	FileURL      string `json:"fileurl"`
	Content      string `json:"content"`
	TimeModified int64  `json:"timemodified"`
}

// RelPath returns the slash separated path of the file inside the package.
func (c ContentEntry) RelPath() string {
	dir := c.Filepath
	for len(dir) > 0 && dir[0] == '/' {
		dir = dir[1:]
	}
	return dir + c.Filename
}

// Modified returns the modification time of the entry.
func (c ContentEntry) Modified() time.Time {
	if c.TimeModified <= 0 {
		return time.Time{}
	}
	return time.Unix(c.TimeModified, 0)
}

type CompletionTracking int

const (
	TrackingNone      CompletionTracking = 0
	TrackingManual    CompletionTracking = 1
	TrackingAutomatic CompletionTracking = 2
)

// CompletionStatus mirrors the completion data the site attaches to a module.
type CompletionStatus struct {
	Tracking CompletionTracking `json:"tracking"`
	State    int                `json:"state"`
}

// Pending reports whether viewing the module may complete it.
func (c CompletionStatus) Pending() bool {
	return c.Tracking == TrackingAutomatic && c.State == 0
}

// Package is a multi-page content bundle shown by one view.
type Package struct {
	ID          int
	Instance    int
	CourseID    int
	Name        string
	Description string
	URL         string
	Contents    []ContentEntry
	Completion  CompletionStatus
}

// Files returns the file entries of the package contents.
func (p *Package) Files() []ContentEntry {
	var files []ContentEntry
	for _, c := range p.Contents {
		if c.Type == ContentTypeFile {
			files = append(files, c)
		}
	}
	return files
}

// LastModified returns the newest modification time among the contents.
func (p *Package) LastModified() int64 {
	var latest int64
	for _, c := range p.Contents {
		if c.TimeModified > latest {
			latest = c.TimeModified
		}
	}
	return latest
}

// PackageInfo is the title and introduction fetched from the remote manifest.
type PackageInfo struct {
	Name  string
	Intro string
}
