package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/go-go-golems/lifeguard/pkg/security"
	"github.com/pkg/errors"
)

const (
	DefaultBaseURL    = "https://api.anthropic.com"
	defaultAPIVersion = "2023-06-01"
)

// Client talks to the Anthropic Messages API.
type Client struct {
	httpClient *http.Client
	apiKey     string
	APIVersion string
	BaseURL    string
	// URLOptions governs which base URLs are acceptable. Local networks and
	// plain HTTP are rejected unless enabled here.
	URLOptions security.OutboundURLOptions
}

// NewClient initializes and returns a new API client. An empty baseURL
// selects DefaultBaseURL.
func NewClient(apiKey string, baseURL string, apiVersion ...string) *Client {
	version := defaultAPIVersion
	if len(apiVersion) > 0 && apiVersion[0] != "" {
		version = apiVersion[0]
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		httpClient: &http.Client{},
		apiKey:     apiKey,
		BaseURL:    strings.TrimSuffix(baseURL, "/"),
		APIVersion: version,
	}
}

func (c *Client) WithHTTPClient(httpClient *http.Client) *Client {
	c.httpClient = httpClient
	return c
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", c.APIVersion)
	req.Header.Set("Content-Type", "application/json")
}

// post sends body to the messages endpoint. Non-2xx responses are turned
// into *APIError and the body is closed; otherwise the caller owns it.
func (c *Client) post(ctx context.Context, req *MessageRequest) (*http.Response, error) {
	if err := security.ValidateOutboundURL(c.BaseURL, c.URLOptions); err != nil {
		return nil, errors.Wrap(err, "invalid claude base URL")
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/messages", bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}
	c.setHeaders(httpReq)
	if req.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	// #nosec G704 -- URL is validated above with ValidateOutboundURL.
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer func(Body io.ReadCloser) {
			_ = Body.Close()
		}(resp.Body)
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return nil, newAPIError(resp, respBody)
	}
	return resp, nil
}

// SendMessage sends a non-streaming request and returns the full response.
func (c *Client) SendMessage(ctx context.Context, req *MessageRequest) (*MessageResponse, error) {
	req.Stream = false
	resp, err := c.post(ctx, req)
	if err != nil {
		return nil, err
	}
	defer func(Body io.ReadCloser) {
		_ = Body.Close()
	}(resp.Body)

	var messageResp MessageResponse
	if err := json.NewDecoder(resp.Body).Decode(&messageResp); err != nil {
		return nil, errors.Wrap(err, "could not decode claude response")
	}
	return &messageResp, nil
}

// StreamMessage sends a streaming request. Once the server has accepted it,
// events are delivered on the returned channel until the stream ends or ctx
// is cancelled; the channel is then closed. A transport failure mid-stream
// is delivered as a final event with Err set.
func (c *Client) StreamMessage(ctx context.Context, req *MessageRequest) (<-chan StreamingEvent, error) {
	req.Stream = true
	resp, err := c.post(ctx, req)
	if err != nil {
		return nil, err
	}

	events := make(chan StreamingEvent)
	go func() {
		defer close(events)
		streamEvents(ctx, resp, events)
	}()
	return events, nil
}
