package model

import (
	"fmt"
	"time"
)

// PrefetchStatus is the download state of a package on the device.
type PrefetchStatus string

const (
	StatusNotDownloaded PrefetchStatus = "not-downloaded"
	StatusDownloading   PrefetchStatus = "downloading"
	StatusDownloaded    PrefetchStatus = "downloaded"
	StatusOutdated      PrefetchStatus = "outdated"
	StatusError         PrefetchStatus = "error"
)

// Icon tokens understood by status displays.
const (
	IconDownload   = "download"
	IconSpinner    = "spinner"
	IconDownloaded = "downloaded"
	IconOutdated   = "outdated"
	IconError      = "error"
	IconRefresh    = "refresh"
)

func (s PrefetchStatus) String() string {
	return string(s)
}

// Icon returns the icon token for the status.
func (s PrefetchStatus) Icon() string {
	switch s {
	case StatusDownloading:
		return IconSpinner
	case StatusDownloaded:
		return IconDownloaded
	case StatusOutdated:
		return IconOutdated
	case StatusError:
		return IconError
	default:
		return IconDownload
	}
}

// IsLocal returns true if the package files are available on the device,
// possibly in an older version.
func (s PrefetchStatus) IsLocal() bool {
	return s == StatusDownloaded || s == StatusOutdated
}

// StatusInfo is what status displays show for a package.
type StatusInfo struct {
	Status       PrefetchStatus
	Size         int64
	SizeReadable string
	Icon         string
	TimeModified time.Time
}

// LastModifiedLabel returns "Last modified: <date>" or "" when unknown.
func (s StatusInfo) LastModifiedLabel() string {
	if s.TimeModified.IsZero() {
		return ""
	}
	return fmt.Sprintf("Last modified: %s", s.TimeModified.Format("2 January 2006, 3:04 PM"))
}

// Size is an estimated download size. Total is false when some files could
// not be measured.
type Size struct {
	Bytes int64
	Total bool
}
