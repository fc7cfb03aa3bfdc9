// Package navigation tracks the page shown by a view and its neighbours, and
// publishes the source of every page it loads.
package navigation

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/wkbae/go-cp-viewer/model"
)

// Publisher receives every source the view has to display. An empty locator
// means "clear the display".
type Publisher interface {
	PublishSource(loc model.Locator)
}

// SourceResolver turns a page href into a displayable source.
type SourceResolver interface {
	ResolveSource(pkg *model.Package, href string) (model.Locator, error)
}

// Neighbours returns the hrefs immediately before and after href. Unknown or
// empty hrefs have no neighbours.
func Neighbours(l model.ItemList, href string) (prev, next string) {
	i := l.IndexOf(href)
	if i < 0 {
		return "", ""
	}
	if i > 0 {
		prev = l.Items[i-1].Href
	}
	if i < len(l.Items)-1 {
		next = l.Items[i+1].Href
	}
	return prev, next
}

// Controller holds the navigation state of one package view.
type Controller struct {
	pkg       *model.Package
	resolver  SourceResolver
	publisher Publisher

	loadMu sync.Mutex

	mu    sync.Mutex
	items model.ItemList
	state model.NavigationState
	shown model.Locator
}

func NewController(pkg *model.Package, resolver SourceResolver, publisher Publisher) *Controller {
	return &Controller{
		pkg:       pkg,
		resolver:  resolver,
		publisher: publisher,
	}
}

// SetItems replaces the item list. The current href is kept; its neighbours
// are recomputed against the new list.
func (c *Controller) SetItems(l model.ItemList) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = l
	if c.state.Current != "" {
		c.state.Previous, c.state.Next = Neighbours(l, c.state.Current)
	}
}

func (c *Controller) Items() model.ItemList {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.items
}

func (c *Controller) State() model.NavigationState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Current() string {
	return c.State().Current
}

// Shown returns the last non-empty source published.
func (c *Controller) Shown() model.Locator {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shown
}

// Select makes href the current page. Empty hrefs (category rows) are
// ignored and leave the state untouched.
func (c *Controller) Select(href string) bool {
	if href == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	prev, next := Neighbours(c.items, href)
	c.state = model.NavigationState{
		Current:  href,
		Previous: prev,
		Next:     next,
	}
	return true
}

// Load selects href and publishes its source. When the source equals the one
// already shown, the display is cleared first and the source published again
// so consumers that only react to changes still reload the page.
func (c *Controller) Load(href string) error {
	c.loadMu.Lock()
	defer c.loadMu.Unlock()

	if !c.Select(href) {
		return nil
	}

	loc, err := c.resolver.ResolveSource(c.pkg, href)
	if err != nil {
		return errors.Wrapf(err, "failed to resolve source of \"%s\"", href)
	}

	c.mu.Lock()
	reload := !c.shown.IsZero() && c.shown.String() == loc.String()
	c.shown = loc
	c.mu.Unlock()

	if reload {
		c.publisher.PublishSource(model.Locator{})
	}
	c.publisher.PublishSource(loc)
	return nil
}

// Next loads the following page. It returns false at the end of the list.
func (c *Controller) Next() (bool, error) {
	next := c.State().Next
	if next == "" {
		return false, nil
	}
	return true, c.Load(next)
}

// Previous loads the preceding page. It returns false at the head of the list.
func (c *Controller) Previous() (bool, error) {
	prev := c.State().Previous
	if prev == "" {
		return false, nil
	}
	return true, c.Load(prev)
}
