package model

import "net/url"

type LocatorKind int

const (
	LocatorNone LocatorKind = iota
	LocatorLocal
	LocatorRemote
)

// Locator points to the displayable source of a page: a file on the device or
// a remote URL. Consumers compare locators only through String.
type Locator struct {
	Kind  LocatorKind
	Value string
}

func LocalFile(path string) Locator {
	return Locator{Kind: LocatorLocal, Value: path}
}

func RemoteURL(u *url.URL) Locator {
	return Locator{Kind: LocatorRemote, Value: u.String()}
}

func (l Locator) IsZero() bool {
	return l.Value == ""
}

func (l Locator) IsLocal() bool {
	return l.Kind == LocatorLocal
}

func (l Locator) String() string {
	return l.Value
}
