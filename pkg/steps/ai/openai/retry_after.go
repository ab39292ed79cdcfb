package openai

import (
	"context"
	"net/http"
)

// APIError wraps an error returned by go-openai together with the
// Retry-After header of the failed response, which go-openai drops.
type APIError struct {
	Err        error
	RetryAfter string
}

func (e *APIError) Error() string {
	return e.Err.Error()
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// RetryAfterHeader is read by the resilience classifier.
func (e *APIError) RetryAfterHeader() string {
	return e.RetryAfter
}

type retryAfterKey struct{}

type retryAfterCapture struct {
	header string
}

func withRetryAfterCapture(ctx context.Context) (context.Context, *retryAfterCapture) {
	c := &retryAfterCapture{}
	return context.WithValue(ctx, retryAfterKey{}, c), c
}

// retryAfterTransport records the Retry-After header of error responses in
// the capture attached to the request context.
type retryAfterTransport struct {
	base http.RoundTripper
}

func (t *retryAfterTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil || resp.StatusCode < 400 {
		return resp, err
	}
	if c, ok := req.Context().Value(retryAfterKey{}).(*retryAfterCapture); ok {
		c.header = resp.Header.Get("Retry-After")
	}
	return resp, nil
}

// withRetryAfterTransport returns a copy of c whose transport captures
// Retry-After headers.
func withRetryAfterTransport(c *http.Client) *http.Client {
	if c == nil {
		c = &http.Client{}
	}
	base := c.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	ret := *c
	ret.Transport = &retryAfterTransport{base: base}
	return &ret
}

// wrapOpenError attaches the captured Retry-After header to err.
func wrapOpenError(err error, c *retryAfterCapture) error {
	if err == nil || c == nil || c.header == "" {
		return err
	}
	return &APIError{Err: err, RetryAfter: c.header}
}
