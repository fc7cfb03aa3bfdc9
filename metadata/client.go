// Package metadata talks to the web services of the site hosting the
// packages: module contents, package descriptions, view logging and
// completion.
package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/wkbae/go-cp-viewer/fetcher"
)

const servicePath = "/webservice/rest/server.php"

// ServiceError is an exception reported by a web service function.
type ServiceError struct {
	Function  string
	Exception string
	ErrorCode string
	Message   string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s: %s (%s)", e.Function, e.Message, e.ErrorCode)
}

type exceptionJSON struct {
	Exception string `json:"exception"`
	ErrorCode string `json:"errorcode"`
	Message   string `json:"message"`
}

// Client calls web service functions with a user token.
type Client struct {
	SiteURL string
	Token   string
	Fetcher *fetcher.Client
}

func New(siteURL, token string, f *fetcher.Client) *Client {
	return &Client{
		SiteURL: strings.TrimSuffix(siteURL, "/"),
		Token:   token,
		Fetcher: f,
	}
}

func (c *Client) serviceURL(function string, params url.Values) string {
	q := url.Values{}
	for k, v := range params {
		q[k] = v
	}
	q.Set("wstoken", c.Token)
	q.Set("wsfunction", function)
	q.Set("moodlewsrestformat", "json")
	return c.SiteURL + servicePath + "?" + q.Encode()
}

func (c *Client) call(ctx context.Context, function string, params url.Values, out interface{}) error {
	resp, err := c.Fetcher.Get(ctx, c.serviceURL(function, params))
	if err != nil {
		return errors.Wrapf(err, "failed to call %s", function)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrapf(err, "failed to read response of %s", function)
	}

	var exc exceptionJSON
	if len(data) > 0 && data[0] == '{' && json.Unmarshal(data, &exc) == nil && exc.Exception != "" {
		return errors.WithStack(&ServiceError{
			Function:  function,
			Exception: exc.Exception,
			ErrorCode: exc.ErrorCode,
			Message:   exc.Message,
		})
	}

	if err := json.Unmarshal(data, out); err != nil {
		return errors.Wrapf(err, "failed to parse response of %s", function)
	}
	return nil
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
