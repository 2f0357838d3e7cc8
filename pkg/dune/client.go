package dune

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"dune-client/internal/transport"
)

// DefaultBaseURL is the public API root.
const DefaultBaseURL = "https://api.dune.com/api"

// DefaultPageSize is the page size AllResults uses when none is given.
const DefaultPageSize = 1000

// Client talks to the query execution API. It keeps no per-execution state;
// every method is one outbound request unless documented otherwise.
type Client struct {
	http    *transport.Client
	logger  *slog.Logger
	metrics *Metrics
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API root.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.http.BaseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http.HTTPClient = hc }
}

// WithRequestTimeout sets the per-request timeout of the default HTTP client.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.HTTPClient = &http.Client{Timeout: d}
		}
	}
}

// WithRateLimit paces outgoing requests. rps <= 0 disables pacing.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.http.Limiter = nil
			return
		}
		c.http.Limiter = rate.NewLimiter(rate.Limit(rps), max(burst, 1))
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.http.UserAgent = ua }
}

// WithLogger sets the logger used by the client and its trackers.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.logger = l
		c.http.Logger = l
	}
}

// WithMetrics records request and tracking metrics.
func WithMetrics(m *Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// NewClient creates a client authenticating with apiKey.
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		http:   transport.NewClient(DefaultBaseURL, strings.TrimSpace(apiKey)),
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the API root the client sends requests to.
func (c *Client) BaseURL() string {
	return c.http.BaseURL
}

// Tracker returns a tracker polling through this client. Logger and metrics
// default to the client's.
func (c *Client) Tracker(cfg TrackerConfig) *Tracker {
	if cfg.Logger == nil {
		cfg.Logger = c.logger
	}
	if cfg.Metrics == nil {
		cfg.Metrics = c.metrics
	}
	return NewTracker(c, cfg)
}

// === Submission ===

// ExecuteSQL submits raw SQL text for execution.
func (c *Client) ExecuteSQL(ctx context.Context, req ExecuteSQLRequest) (*Handle, error) {
	if strings.TrimSpace(req.SQL) == "" {
		return nil, &APIError{Message: "sql text is required"}
	}
	if err := validateParameters(req.Parameters); err != nil {
		return nil, err
	}
	var h Handle
	if err := c.call(ctx, "execute_sql", http.MethodPost, "/sql/execute", nil, req, &h); err != nil {
		return nil, err
	}
	if err := validateHandle(h.ExecutionID, h.State); err != nil {
		return nil, err
	}
	c.logger.Debug("execution submitted", "execution_id", h.ExecutionID, "state", h.State.String())
	return &h, nil
}

// ExecuteQuery runs a saved query.
func (c *Client) ExecuteQuery(ctx context.Context, queryID int64, req ExecuteQueryRequest) (*Handle, error) {
	if err := validateParameters(req.Parameters); err != nil {
		return nil, err
	}
	var h Handle
	path := "/query/" + strconv.FormatInt(queryID, 10) + "/execute"
	if err := c.call(ctx, "execute_query", http.MethodPost, path, nil, req, &h); err != nil {
		return nil, err
	}
	if err := validateHandle(h.ExecutionID, h.State); err != nil {
		return nil, err
	}
	c.logger.Debug("execution submitted", "execution_id", h.ExecutionID, "query_id", queryID, "state", h.State.String())
	return &h, nil
}

// ExecutePipeline runs a saved query together with the queries it depends on.
func (c *Client) ExecutePipeline(ctx context.Context, queryID int64, req ExecutePipelineRequest) (*PipelineHandle, error) {
	var h PipelineHandle
	path := "/query/" + strconv.FormatInt(queryID, 10) + "/pipeline/execute"
	if err := c.call(ctx, "execute_pipeline", http.MethodPost, path, nil, req, &h); err != nil {
		return nil, err
	}
	if err := validateHandle(h.PipelineExecutionID, h.State); err != nil {
		return nil, err
	}
	return &h, nil
}

// === Lifecycle ===

// Status fetches the current status of an execution.
func (c *Client) Status(ctx context.Context, executionID string) (*ExecutionStatus, error) {
	var st ExecutionStatus
	if err := c.call(ctx, "status", http.MethodGet, executionPath(executionID, "status"), nil, nil, &st); err != nil {
		return nil, err
	}
	if st.State == 0 {
		return nil, &ParseError{Err: errors.New("status response has no state")}
	}
	return &st, nil
}

// Cancel requests cancellation of an execution and reports whether the
// service accepted it. Acceptance does not mean the execution is cancelled.
func (c *Client) Cancel(ctx context.Context, executionID string) (bool, error) {
	var resp cancelResponse
	if err := c.call(ctx, "cancel", http.MethodPost, executionPath(executionID, "cancel"), nil, nil, &resp); err != nil {
		return false, err
	}
	return resp.Success, nil
}

// === Results ===

// Results fetches one page of results. The service decides what it serves
// for executions that did not complete.
func (c *Client) Results(ctx context.Context, executionID string, opts ResultOptions) (*ExecutionResults, error) {
	var res ExecutionResults
	if err := c.call(ctx, "results", http.MethodGet, executionPath(executionID, "results"), opts.QueryPairs(), nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ResultsCSV fetches one page of results as CSV.
func (c *Client) ResultsCSV(ctx context.Context, executionID string, opts ResultOptions) ([]byte, error) {
	resp, err := c.send(ctx, "results_csv", http.MethodGet, executionPath(executionID, "results/csv"), opts.QueryPairs(), nil)
	if err != nil {
		return nil, err
	}
	data, err := transport.ReadBody(resp)
	if err != nil {
		return nil, &RequestError{Err: fmt.Errorf("read body: %w", err)}
	}
	return data, nil
}

// LatestResults fetches the results of the most recent execution of a saved query.
func (c *Client) LatestResults(ctx context.Context, queryID int64, opts ResultOptions) (*ExecutionResults, error) {
	var res ExecutionResults
	path := "/query/" + strconv.FormatInt(queryID, 10) + "/results"
	if err := c.call(ctx, "latest_results", http.MethodGet, path, opts.QueryPairs(), nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// AllResults walks every page of an execution's results and merges the
// rows. Sort, order, columns and filters in opts apply to every page. Limit
// is replaced by pageSize, and Offset, when set, is where the walk starts.
// The returned metadata describes the merged set.
func (c *Client) AllResults(ctx context.Context, executionID string, opts ResultOptions, pageSize int) (*ExecutionResults, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	offset := 0
	if opts.Offset != nil && *opts.Offset > 0 {
		offset = *opts.Offset
	}

	var merged *ExecutionResults
	for {
		pageOpts := opts.WithLimit(pageSize).WithOffset(offset)
		page, err := c.Results(ctx, executionID, pageOpts)
		if err != nil {
			return nil, fmt.Errorf("fetch results at offset %d: %w", offset, err)
		}
		if merged == nil {
			merged = page
			if merged.Result == nil {
				return merged, nil
			}
		} else if page.Result != nil {
			merged.Result.Rows = append(merged.Result.Rows, page.Result.Rows...)
		}

		info := page.Page(pageOpts)
		if info.NextOffset == nil || *info.NextOffset <= int64(offset) {
			break
		}
		offset = int(*info.NextOffset)
	}

	md := &merged.Result.Metadata
	md.DatapointCount = min(int64(len(merged.Result.Rows)), md.TotalRowCount)
	merged.NextOffset = nil
	merged.NextURI = ""
	return merged, nil
}

// RunSQL submits SQL, waits for completion and fetches results.
func (c *Client) RunSQL(ctx context.Context, req ExecuteSQLRequest, cfg TrackerConfig, opts ResultOptions) (*ExecutionResults, error) {
	h, err := c.ExecuteSQL(ctx, req)
	if err != nil {
		return nil, err
	}
	return c.waitAndFetch(ctx, *h, cfg, opts)
}

// RunQuery executes a saved query, waits for completion and fetches results.
func (c *Client) RunQuery(ctx context.Context, queryID int64, req ExecuteQueryRequest, cfg TrackerConfig, opts ResultOptions) (*ExecutionResults, error) {
	h, err := c.ExecuteQuery(ctx, queryID, req)
	if err != nil {
		return nil, err
	}
	return c.waitAndFetch(ctx, *h, cfg, opts)
}

func (c *Client) waitAndFetch(ctx context.Context, h Handle, cfg TrackerConfig, opts ResultOptions) (*ExecutionResults, error) {
	st, err := c.Tracker(cfg).Wait(ctx, h)
	if err != nil {
		return nil, err
	}
	return c.Results(ctx, st.ExecutionID, opts)
}

// === Plumbing ===

// call performs a JSON exchange and decodes the response into out.
func (c *Client) call(ctx context.Context, op, method, path string, pairs []QueryPair, body, out interface{}) error {
	resp, err := c.send(ctx, op, method, path, pairs, body)
	if err != nil {
		return err
	}
	data, err := transport.ReadBody(resp)
	if err != nil {
		return &RequestError{Err: fmt.Errorf("read body: %w", err)}
	}

	if err := decodeJSON(data, out); err != nil {
		return &ParseError{Err: err}
	}
	return nil
}

// decodeJSON decodes data keeping numbers as json.Number.
func decodeJSON(data []byte, out interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("empty response body")
		}
		return err
	}
	return nil
}

// send performs one request and maps failures onto the package error kinds.
// On success the caller owns the response body.
func (c *Client) send(ctx context.Context, op, method, path string, pairs []QueryPair, body interface{}) (*http.Response, error) {
	if c.http.APIKey == "" {
		return nil, ErrInvalidAPIKey
	}

	var query transport.Query
	for _, p := range pairs {
		query.Add(p.Key, p.Value)
	}

	resp, err := c.http.Do(ctx, method, path, query, body)
	if err != nil {
		c.metrics.observeRequest(op, 0)
		return nil, &RequestError{Err: err}
	}
	c.metrics.observeRequest(op, resp.StatusCode)

	if resp.StatusCode == http.StatusUnauthorized {
		_, _ = transport.ReadBody(resp)
		return nil, ErrInvalidAPIKey
	}
	if err := transport.CheckError(resp); err != nil {
		var apiErr *transport.APIError
		if errors.As(err, &apiErr) {
			msg := apiErr.Message
			if msg == "" {
				msg = http.StatusText(apiErr.HTTPStatus)
			}
			return nil, &APIError{StatusCode: apiErr.HTTPStatus, Message: msg}
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Message: err.Error()}
	}
	return resp, nil
}

func executionPath(executionID, suffix string) string {
	return "/execution/" + url.PathEscape(executionID) + "/" + suffix
}

func validateParameters(params []QueryParameter) error {
	for i, p := range params {
		if strings.TrimSpace(p.Key) == "" {
			return &APIError{Message: fmt.Sprintf("query parameter %d has no key", i)}
		}
	}
	return nil
}

func validateHandle(id string, state ExecutionState) error {
	if id == "" {
		return &ParseError{Err: errors.New("response has no execution id")}
	}
	if state == 0 {
		return &ParseError{Err: errors.New("response has no state")}
	}
	return nil
}
