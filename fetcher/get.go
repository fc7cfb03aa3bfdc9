// Package fetcher downloads remote resources with retries.
package fetcher

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	DefaultMaxRetries = 10
	defaultBackoff    = 50 * time.Millisecond
)

// StatusError is returned when the server answers with a non-retryable status.
type StatusError struct {
	URL    string
	Status string
	Code   int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server responded \"%s\" with status: %s", e.URL, e.Status)
}

// Client performs GET requests, retrying network failures and 5xx answers.
type Client struct {
	HTTP       *http.Client
	MaxRetries int
	Backoff    time.Duration
}

func New(httpClient *http.Client, maxRetries int) *Client {
	if httpClient == nil {
		httpClient = NewHTTPClient("", 0)
	}
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Client{
		HTTP:       httpClient,
		MaxRetries: maxRetries,
		Backoff:    defaultBackoff,
	}
}

func backoffTime(base time.Duration, retries int) time.Duration {
	if retries > 62 {
		retries = 62
	}
	// exponential backoff
	maxDur := base * (time.Duration(1) << retries)
	if maxDur <= 0 {
		return base
	}
	// ... with jitter
	dur := rand.Int63n(int64(maxDur))
	return time.Duration(dur)
}

func (c *Client) sleep(ctx context.Context, trial int) error {
	select {
	case <-time.After(backoffTime(c.Backoff, trial)):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get returns the response of url. The caller closes the body.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	return c.get(ctx, url, 0)
}

func (c *Client) get(ctx context.Context, url string, offset int64) (*http.Response, error) {
	var (
		resp *http.Response
		err  error
	)
	for trial := 0; trial < c.MaxRetries; trial++ {
		var req *http.Request
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid request for \"%s\"", url)
		}
		if offset > 0 {
			req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
		}

		resp, err = c.HTTP.Do(req)
		if ctx.Err() != nil {
			if resp != nil {
				_ = resp.Body.Close()
			}
			return nil, errors.WithStack(ctx.Err())
		}
		if err != nil || resp.StatusCode/100 == 5 {
			if err == nil && trial < c.MaxRetries-1 {
				_ = resp.Body.Close()
			}
			if serr := c.sleep(ctx, trial); serr != nil {
				return nil, errors.WithStack(serr)
			}
			continue
		}
		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
			_ = resp.Body.Close()
			return nil, errors.WithStack(&StatusError{URL: url, Status: resp.Status, Code: resp.StatusCode})
		}
		return resp, nil
	}

	if err != nil {
		return nil, errors.Wrapf(err, "error while getting resource \"%s\"", url)
	}
	_ = resp.Body.Close()
	return nil, errors.Errorf("failed to fetch after %d retries: %s", c.MaxRetries, resp.Status)
}

// GetTo writes the resource at url into w. Interrupted transfers are resumed
// from the current position of w when the server honours ranges.
func (c *Client) GetTo(ctx context.Context, url string, w io.WriteSeeker) error {
	var err error
	for trial := 0; trial < c.MaxRetries; trial++ {
		var offset int64
		offset, err = w.Seek(0, io.SeekCurrent)
		if err != nil {
			return errors.WithStack(err)
		}

		var resp *http.Response
		resp, err = c.get(ctx, url, offset)
		if err != nil {
			return err
		}
		if offset > 0 && resp.StatusCode != http.StatusPartialContent {
			// range ignored, start over
			if _, err := w.Seek(0, io.SeekStart); err != nil {
				_ = resp.Body.Close()
				return errors.WithStack(err)
			}
			if t, ok := w.(interface{ Truncate(int64) error }); ok {
				if err := t.Truncate(0); err != nil {
					_ = resp.Body.Close()
					return errors.WithStack(err)
				}
			}
		}

		r := bufio.NewReader(resp.Body)
		_, err = r.WriteTo(w)
		_ = resp.Body.Close()
		if err != nil {
			if ctx.Err() != nil {
				return errors.WithStack(ctx.Err())
			}
			if isRetryable(err) {
				if serr := c.sleep(ctx, trial); serr != nil {
					return errors.WithStack(serr)
				}
				continue
			}
			return errors.WithStack(err)
		}
		return nil
	}
	return errors.Wrapf(err, "failed to download \"%s\"", url)
}

func isRetryable(err error) bool {
	// network temporary or timeout errors
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return true
	}
	// goaway error
	if strings.Contains(err.Error(), "http2: server sent GOAWAY") {
		return true
	}
	if err == io.ErrUnexpectedEOF {
		return true
	}
	// connection abort/reset
	return isDisconnectedError(err)
}

// IsNotFound reports whether err is a 404 answer.
func IsNotFound(err error) bool {
	var serr *StatusError
	return errors.As(err, &serr) && serr.Code == http.StatusNotFound
}
