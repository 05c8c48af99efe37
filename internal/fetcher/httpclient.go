package fetcher

import (
	"net/http"
	"time"

	"resty.dev/v3"
)

const (
	// DefaultUserAgent is sent by every HTTP adapter; several providers reject
	// requests without a desktop browser agent.
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	defaultTimeout = 10 * time.Second
)

// HTTPOptions configures NewHTTPClient.
type HTTPOptions struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
	Headers   map[string]string
	// Transport replaces the default transport, e.g. with a recorder in tests.
	Transport http.RoundTripper
}

// NewHTTPClient creates the HTTP client shared by the adapters of one provider.
// Retries are not configured here: the retry policy wraps whole adapter calls
// so that every adapter capability is retried the same way.
func NewHTTPClient(opts HTTPOptions) *resty.Client {
	ua := opts.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}

	client := resty.New().
		SetBaseURL(opts.BaseURL).
		SetTimeout(timeout).
		SetHeader("User-Agent", ua).
		SetRetryCount(0)

	for k, v := range opts.Headers {
		client.SetHeader(k, v)
	}
	if opts.Transport != nil {
		client.SetTransport(opts.Transport)
	}
	return client
}

// CheckResponse converts a resty outcome into a FetchError, or nil on success.
func CheckResponse(resp *resty.Response, err error) *FetchError {
	if err != nil {
		return NewTransportError(err)
	}
	if !resp.IsSuccess() {
		return ClassifyHTTPError(resp.StatusCode())
	}
	return nil
}
