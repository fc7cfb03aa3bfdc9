package fetcher

import (
	"net/http"
	"time"
)

const DefaultUserAgent = "Mozilla/5.0 (cpviewer)"

// NewHTTPClient returns a client sending userAgent with every request.
func NewHTTPClient(userAgent string, timeout time.Duration) *http.Client {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	return &http.Client{
		Timeout: timeout,
		Transport: uaWrapper{
			UserAgent: userAgent,
			Transport: http.DefaultTransport,
		},
	}
}

type uaWrapper struct {
	UserAgent string
	Transport http.RoundTripper
}

func (u uaWrapper) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", u.UserAgent)
	return u.Transport.RoundTrip(req)
}
