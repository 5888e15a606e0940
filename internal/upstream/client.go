// Package upstream talks to the Qwen chat-completions API.
package upstream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultBaseURL is used when an account carries no resource_url.
const DefaultBaseURL = "https://dashscope.aliyuncs.com/compatible-mode/v1"

const defaultTimeout = 5 * time.Minute // long timeout for streaming

// UserAgent identifies this proxy to the provider.
const UserAgent = "qwen-worker-proxy/1.0"

// Error is a provider call failure carrying the HTTP status observed when
// the response was read, so callers classify on structured data instead of
// matching message substrings.
type Error struct {
	StatusCode int
	Body       string
}

func (e *Error) Error() string {
	body := e.Body
	if len(body) > 512 {
		body = body[:512] + "..."
	}
	return fmt.Sprintf("upstream returned status %d: %s", e.StatusCode, body)
}

// Client issues chat-completion calls with per-account bearer tokens.
type Client struct {
	httpClient *http.Client
}

func NewClient() *Client {
	return NewClientWithHTTP(&http.Client{Timeout: defaultTimeout})
}

// NewClientWithHTTP lets tests inject a fake transport.
func NewClientWithHTTP(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{httpClient: httpClient}
}

// EndpointFor derives the API base URL from an account's resource_url.
// The provider hands out bare hosts ("portal.qwen.ai") as well as full
// URLs; everything normalizes to https://<host>/v1.
func EndpointFor(resourceURL string) string {
	ru := strings.TrimSpace(resourceURL)
	if ru == "" {
		return DefaultBaseURL
	}
	if !strings.HasPrefix(ru, "http://") && !strings.HasPrefix(ru, "https://") {
		ru = "https://" + ru
	}
	ru = strings.TrimRight(ru, "/")
	if !strings.HasSuffix(ru, "/v1") {
		ru += "/v1"
	}
	return ru
}

// ChatCompletions POSTs the request body to <endpoint>/chat/completions.
// A 2xx response is returned unread (streaming bodies are consumed by the
// relay); any other status is drained into an *Error.
func (c *Client) ChatCompletions(ctx context.Context, accessToken, resourceURL string, body []byte, stream bool) (*http.Response, error) {
	url := EndpointFor(resourceURL) + "/chat/completions"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", UserAgent)
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		resp.Body.Close()
		return nil, &Error{StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	return resp, nil
}
