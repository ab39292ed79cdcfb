package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// ErrorResponse is the body of a non-2xx Messages API response.
type ErrorResponse struct {
	Type  string `json:"type"`
	Error Error  `json:"error"`
}

// APIError is a failed Messages API call, either a non-2xx response or an
// error event in the middle of a stream.
type APIError struct {
	StatusCode int
	Type       string
	Message    string
	// RetryAfter is the raw Retry-After header, if the server sent one.
	RetryAfter string
}

func (e *APIError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Type != "":
		return fmt.Sprintf("anthropic: %d %s: %s", e.StatusCode, e.Type, e.Message)
	case e.Type != "":
		return fmt.Sprintf("anthropic: %s: %s", e.Type, e.Message)
	default:
		return fmt.Sprintf("anthropic: %d: %s", e.StatusCode, e.Message)
	}
}

func (e *APIError) RetryAfterHeader() string {
	return e.RetryAfter
}

func newAPIError(resp *http.Response, body []byte) *APIError {
	ret := &APIError{
		StatusCode: resp.StatusCode,
		RetryAfter: resp.Header.Get("Retry-After"),
	}
	var errorResp ErrorResponse
	if err := json.Unmarshal(body, &errorResp); err == nil && errorResp.Error.Message != "" {
		ret.Type = errorResp.Error.Type
		ret.Message = errorResp.Error.Message
		return ret
	}
	ret.Message = strings.TrimSpace(string(body))
	if ret.Message == "" {
		ret.Message = http.StatusText(resp.StatusCode)
	}
	return ret
}
