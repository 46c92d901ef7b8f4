// Package httpclient is the shared upstream HTTP client used by direct API
// adapters and the reverse web-chat adapter. It keeps one connection pool per
// process (spec.md §5 "HTTP client keeps an upstream connection pool with
// maxSockets=100 per host, keep-alive enabled").
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

const maxSocketsPerHost = 100

// SharedTransport is reused by every adapter so the 100-socket-per-host cap
// and keep-alive pool are process-wide, not per-credential.
var SharedTransport = &http.Transport{
	MaxIdleConns:        maxSocketsPerHost,
	MaxIdleConnsPerHost: maxSocketsPerHost,
	MaxConnsPerHost:     maxSocketsPerHost,
	IdleConnTimeout:     90 * time.Second,
	DialContext:         (&net.Dialer{Timeout: 30 * time.Second}).DialContext,
}

// Client wraps http.Client with base URL, default headers, and the per-call
// timeouts named in spec §5 (connect 30s / total 120s for non-streaming).
type Client struct {
	http    *http.Client
	baseURL string
	headers map[string]string
}

// Config configures a Client.
type Config struct {
	BaseURL string
	Headers map[string]string
	Timeout time.Duration // default: 120s, the non-streaming request timeout
}

// New builds a Client sharing the process-wide transport.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		http:    &http.Client{Timeout: timeout, Transport: SharedTransport},
		baseURL: cfg.BaseURL,
		headers: cfg.Headers,
	}
}

// Request is one outgoing HTTP call.
type Request struct {
	Method  string
	Path    string
	Headers map[string]string
	Body    interface{}
	Query   map[string]string
}

func (c *Client) buildRequest(ctx context.Context, req Request) (*http.Request, error) {
	url := c.baseURL + req.Path
	if len(req.Query) > 0 {
		first := true
		for k, v := range req.Query {
			sep := "&"
			if first {
				sep = "?"
				first = false
			}
			url += fmt.Sprintf("%s%s=%s", sep, k, v)
		}
	}

	var body io.Reader
	if req.Body != nil {
		b, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		body = bytes.NewReader(b)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, url, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	return httpReq, nil
}

// DoJSON performs req and decodes the JSON response body into out.
func (c *Client) DoJSON(ctx context.Context, req Request, out interface{}) error {
	httpReq, err := c.buildRequest(ctx, req)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return &StatusError{StatusCode: resp.StatusCode, Body: body}
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(body, out)
}

// DoStream performs req and returns the raw response for the caller to
// stream-parse (SSE or newline-delimited JSON). Caller owns Body.Close().
func (c *Client) DoStream(ctx context.Context, req Request) (*http.Response, error) {
	httpReq, err := c.buildRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	// The total timeout is for non-streaming calls only; a stream stays open
	// for as long as its caller keeps reading.
	streamClient := *c.http
	streamClient.Timeout = 0
	resp, err := streamClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: body}
	}
	return resp, nil
}

// StatusError is returned for any upstream HTTP status >= 400. Adapters
// translate it into a gatewayerr.ProviderError with the right Retryable /
// ShouldSwitchCredential classification for that provider.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, string(e.Body))
}
