// Package transport is the HTTP exchange primitive used by the Dune client.
// It builds requests, attaches credentials and request IDs, paces outgoing
// calls and reports non-2xx responses as *APIError. It never retries.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// DefaultAPIKeyHeader is the header the service reads credentials from.
const DefaultAPIKeyHeader = "X-Dune-Api-Key"

// DefaultTimeout bounds a single request/response exchange.
const DefaultTimeout = 30 * time.Second

// Param is one query-string key/value pair.
type Param struct {
	Key   string
	Value string
}

// Query is an ordered list of query-string pairs. Unlike url.Values its
// encoding keeps insertion order, so requests are reproducible.
type Query []Param

// Add appends a pair.
func (q *Query) Add(key, value string) {
	*q = append(*q, Param{Key: key, Value: value})
}

// Encode renders the pairs as "k1=v1&k2=v2" in order.
func (q Query) Encode() string {
	if len(q) == 0 {
		return ""
	}
	var b strings.Builder
	for i, p := range q {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(p.Key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(p.Value))
	}
	return b.String()
}

// Client performs authenticated requests against the service API.
type Client struct {
	BaseURL      string
	APIKey       string
	APIKeyHeader string
	UserAgent    string
	HTTPClient   *http.Client
	Limiter      *rate.Limiter // optional; nil means unpaced
	Logger       *slog.Logger
}

// NewClient creates a Client with a trimmed base URL and a default timeout.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL:      strings.TrimRight(baseURL, "/"),
		APIKey:       apiKey,
		APIKeyHeader: DefaultAPIKeyHeader,
		HTTPClient:   &http.Client{Timeout: DefaultTimeout},
		Logger:       slog.New(slog.DiscardHandler),
	}
}

// Do sends a request to BaseURL + "/v1" + path. A non-nil body is encoded as JSON.
// The caller owns the returned response body.
func (c *Client) Do(ctx context.Context, method, path string, query Query, body interface{}) (*http.Response, error) {
	u := c.BaseURL + "/v1" + path
	if encoded := query.Encode(); encoded != "" {
		u += "?" + encoded
	}

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.APIKey != "" {
		header := c.APIKeyHeader
		if header == "" {
			header = DefaultAPIKeyHeader
		}
		req.Header.Set(header, c.APIKey)
	}
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}

	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	start := time.Now()
	resp, err := c.httpClient().Do(req)
	if err != nil {
		c.logger().Debug("request failed",
			"method", method, "path", path, "request_id", requestID, "error", err)
		return nil, fmt.Errorf("execute request: %w", err)
	}
	c.logger().Debug("request completed",
		"method", method, "path", path, "request_id", requestID,
		"status", resp.StatusCode, "duration", time.Since(start))
	return resp, nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient == nil {
		return http.DefaultClient
	}
	return c.HTTPClient
}

func (c *Client) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.Logger
}

// APIError is a non-2xx response from the service.
type APIError struct {
	HTTPStatus int
	Message    string
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (HTTP %d): %s", e.HTTPStatus, e.Message)
}

// errorBody covers the error envelopes the service and emulator emit.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// CheckError returns nil for 2xx responses. Otherwise it consumes and
// closes the body and returns an *APIError whose message comes from the
// JSON "error" or "message" field, falling back to the raw body.
func CheckError(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := ReadBody(resp)
	msg := string(body)
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil {
		switch {
		case eb.Error != "":
			msg = eb.Error
		case eb.Message != "":
			msg = eb.Message
		}
	}
	return &APIError{HTTPStatus: resp.StatusCode, Message: strings.TrimSpace(msg), Body: body}
}

// ReadBody reads and closes the response body.
func ReadBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close() //nolint:errcheck
	return io.ReadAll(resp.Body)
}
