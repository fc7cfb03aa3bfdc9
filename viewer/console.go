// Package viewer hosts a package view on a terminal: it prints the pages to
// show, statuses and errors, asks the user for confirmation and renders the
// table of contents.
package viewer

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/wkbae/go-cp-viewer/content"
	"github.com/wkbae/go-cp-viewer/model"
)

// DefaultConfirmThreshold is the download size above which the user is asked.
const DefaultConfirmThreshold = 10 * 1024 * 1024

var ErrNotConfirmed = errors.New("not confirmed")

var messages = map[string]string{
	"core.errordownloading":          "Error downloading the file.",
	"core.errordownloadingsomefiles": "Error downloading some files. Some content may be missing.",
	"core.errordeletefile":           "Error deleting the file. Please try again.",
	"mod_imscp.deploymenterror":      "Content package error!",
}

// Message returns the text of a message key, or the key itself.
func Message(key string) string {
	if msg, ok := messages[key]; ok {
		return msg
	}
	return key
}

// Console prints to Out and reads answers from In.
type Console struct {
	Out              io.Writer
	In               *bufio.Reader
	ConfirmThreshold int64

	mu          sync.Mutex
	alive       atomic.Bool
	loaded      bool
	refreshIcon string
	status      model.StatusInfo
	shown       model.Locator
}

func NewConsole(out io.Writer, in io.Reader) *Console {
	c := &Console{
		Out:              out,
		In:               bufio.NewReader(in),
		ConfirmThreshold: DefaultConfirmThreshold,
	}
	c.alive.Store(true)
	return c
}

func (c *Console) printf(format string, args ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.Out, format, args...)
}

// PublishSource prints the page to display. An empty locator clears it.
func (c *Console) PublishSource(loc model.Locator) {
	c.mu.Lock()
	c.shown = loc
	c.mu.Unlock()
	if loc.IsZero() {
		c.printf("\n")
		return
	}
	c.printf("Showing: %s\n", loc)
}

func (c *Console) Shown() model.Locator {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shown
}

// ReadLine reads one trimmed line of input.
func (c *Console) ReadLine() (string, error) {
	line, err := c.In.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (c *Console) ask(ctx context.Context, question string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.printf("%s [y/N] ", question)
	answer, err := c.ReadLine()
	if err != nil {
		return errors.Wrap(err, "failed to read answer")
	}
	switch strings.ToLower(answer) {
	case "y", "yes":
		return nil
	}
	return errors.WithStack(ErrNotConfirmed)
}

// ConfirmDownloadSize asks before large downloads and downloads of unknown
// size. Nothing is asked when everything is downloaded already.
func (c *Console) ConfirmDownloadSize(ctx context.Context, size model.Size) error {
	switch {
	case size.Bytes == 0 && size.Total:
		return nil
	case !size.Total:
		return c.ask(ctx, fmt.Sprintf("The size of the download could not be calculated (at least %s). Continue?", content.FormatSize(size.Bytes)))
	case size.Bytes >= c.ConfirmThreshold:
		return c.ask(ctx, fmt.Sprintf("You are about to download %s. Continue?", content.FormatSize(size.Bytes)))
	}
	return nil
}

func (c *Console) Confirm(ctx context.Context, msg string) error {
	return c.ask(ctx, msg)
}

func (c *Console) ShowError(msg string, isKey bool) {
	if isKey {
		msg = Message(msg)
	}
	c.printf("Error: %s\n", msg)
}

func (c *Console) ShowStatus(info model.StatusInfo) {
	c.mu.Lock()
	c.status = info
	c.mu.Unlock()
}

// Status returns the last status shown.
func (c *Console) Status() model.StatusInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// PrintStatus prints the last status shown.
func (c *Console) PrintStatus() {
	s := c.Status()
	line := fmt.Sprintf("Status: %s [%s]", s.Status, s.Icon)
	if s.SizeReadable != "" {
		line += " " + s.SizeReadable
	}
	if label := s.LastModifiedLabel(); label != "" {
		line += ", " + label
	}
	c.printf("%s\n", line)
}

func (c *Console) ShowPackage(title, description string) {
	if description != "" {
		c.printf("%s\n%s\n", title, description)
		return
	}
	c.printf("%s\n", title)
}

func (c *Console) SetRefreshIcon(icon string) {
	c.mu.Lock()
	c.refreshIcon = icon
	c.mu.Unlock()
}

func (c *Console) RefreshIcon() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshIcon
}

func (c *Console) SetLoaded(loaded bool) {
	c.mu.Lock()
	c.loaded = loaded
	c.mu.Unlock()
}

func (c *Console) Loaded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loaded
}

func (c *Console) RefreshComplete() {
	c.printf("Refreshed.\n")
}

func (c *Console) Alive() bool {
	return c.alive.Load()
}

// Close tears the view down. Operations still running stop reporting errors.
func (c *Console) Close() {
	c.alive.Store(false)
}
