// Package client is a thin Supabase PostgREST client used by the supabase
// storage backend. It covers the query surface the marketplace needs: table
// reads with filters, inserts and upserts, filtered updates, and RPC calls
// for the operations that must run atomically inside the database.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client talks to a Supabase project's REST API.
type Client struct {
	baseURL    string
	apiKey     string
	schema     string
	httpClient *http.Client
	retry      RetryConfig
}

// Config holds client configuration.
type Config struct {
	URL    string
	APIKey string
	// Schema selects the PostgREST schema profile; empty means public.
	Schema     string
	HTTPClient *http.Client
	Retry      *RetryConfig
}

// New creates a Supabase client.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("URL is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("APIKey is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	retry := DefaultRetryConfig()
	if cfg.Retry != nil {
		retry = *cfg.Retry
	}

	return &Client{
		baseURL:    strings.TrimSuffix(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		schema:     cfg.Schema,
		httpClient: httpClient,
		retry:      retry,
	}, nil
}

// From starts a query builder for a table.
func (c *Client) From(table string) *QueryBuilder {
	return &QueryBuilder{client: c, table: table}
}

// QueryBuilder builds PostgREST requests against one table.
type QueryBuilder struct {
	client  *Client
	table   string
	columns string
	filters url.Values
	orders  []string
	limit   int
	single  bool
}

// Select specifies columns to return.
func (q *QueryBuilder) Select(columns string) *QueryBuilder {
	q.columns = columns
	return q
}

func (q *QueryBuilder) filter(column, op string, value any) *QueryBuilder {
	if q.filters == nil {
		q.filters = url.Values{}
	}
	q.filters.Add(column, fmt.Sprintf("%s.%v", op, value))
	return q
}

// Eq adds an equality filter.
func (q *QueryBuilder) Eq(column string, value any) *QueryBuilder {
	return q.filter(column, "eq", value)
}

// Is adds an IS filter, for NULL and booleans.
func (q *QueryBuilder) Is(column string, value any) *QueryBuilder {
	return q.filter(column, "is", value)
}

// ILike adds a case-insensitive pattern filter.
func (q *QueryBuilder) ILike(column, pattern string) *QueryBuilder {
	return q.filter(column, "ilike", pattern)
}

// Order adds an ORDER BY term.
func (q *QueryBuilder) Order(column string, ascending bool) *QueryBuilder {
	dir := "asc"
	if !ascending {
		dir = "desc"
	}
	q.orders = append(q.orders, column+"."+dir)
	return q
}

// Limit caps the row count.
func (q *QueryBuilder) Limit(n int) *QueryBuilder {
	q.limit = n
	return q
}

// Single requests exactly one row; PostgREST errors otherwise.
func (q *QueryBuilder) Single() *QueryBuilder {
	q.single = true
	return q
}

func (q *QueryBuilder) requestURL() string {
	reqURL := fmt.Sprintf("%s/rest/v1/%s", q.client.baseURL, q.table)

	params := url.Values{}
	if q.columns != "" {
		params.Set("select", q.columns)
	}
	for column, values := range q.filters {
		for _, v := range values {
			params.Add(column, v)
		}
	}
	if len(q.orders) > 0 {
		params.Set("order", strings.Join(q.orders, ","))
	}
	if q.limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", q.limit))
	}

	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}
	return reqURL
}

// Execute runs the built SELECT.
func (q *QueryBuilder) Execute(ctx context.Context) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, q.requestURL(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	q.client.setHeaders(req, false)
	if q.single {
		req.Header.Set("Accept", "application/vnd.pgrst.object+json")
	}
	return q.client.do(req, nil)
}

// Insert inserts rows and returns the stored representation.
func (q *QueryBuilder) Insert(ctx context.Context, data any) (*Response, error) {
	return q.write(ctx, data, "return=representation", "")
}

// Upsert inserts rows, merging duplicates on the conflict target.
func (q *QueryBuilder) Upsert(ctx context.Context, data any, onConflict string) (*Response, error) {
	return q.write(ctx, data, "resolution=merge-duplicates,return=representation", onConflict)
}

func (q *QueryBuilder) write(ctx context.Context, data any, prefer, onConflict string) (*Response, error) {
	reqURL := fmt.Sprintf("%s/rest/v1/%s", q.client.baseURL, q.table)
	if onConflict != "" {
		reqURL += "?on_conflict=" + url.QueryEscape(onConflict)
	}

	body, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal data: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	q.client.setHeaders(req, true)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", prefer)
	return q.client.do(req, body)
}

// Update patches rows matched by the current filters.
func (q *QueryBuilder) Update(ctx context.Context, data any) (*Response, error) {
	reqURL := fmt.Sprintf("%s/rest/v1/%s", q.client.baseURL, q.table)
	if len(q.filters) > 0 {
		reqURL += "?" + q.filters.Encode()
	}

	body, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal data: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	q.client.setHeaders(req, true)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "return=representation")
	return q.client.do(req, body)
}

// RPC calls a database function. Multi-statement operations that must not
// interleave run as functions so the database owns the transaction.
func (c *Client) RPC(ctx context.Context, fn string, params any) (*Response, error) {
	reqURL := fmt.Sprintf("%s/rest/v1/rpc/%s", c.baseURL, fn)

	var body []byte
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		body = data
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	c.setHeaders(req, true)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, body)
}

// Response is a PostgREST response.
type Response struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
}

// JSON unmarshals the response body into v.
func (r *Response) JSON(v any) error {
	return json.Unmarshal(r.Body, v)
}

// NotFound reports whether the request matched no rows.
func (r *Response) NotFound() bool {
	return r.StatusCode == http.StatusNotFound ||
		(r.StatusCode == http.StatusNotAcceptable && bytes.Contains(r.Body, []byte("PGRST116")))
}

// Error returns an error when the response indicates failure.
func (r *Response) Error() error {
	if r.StatusCode < 400 {
		return nil
	}
	var errResp struct {
		Message string `json:"message"`
		Hint    string `json:"hint"`
	}
	if err := json.Unmarshal(r.Body, &errResp); err == nil && errResp.Message != "" {
		return fmt.Errorf("supabase: %s", errResp.Message)
	}
	return fmt.Errorf("supabase: status %d", r.StatusCode)
}

func (c *Client) setHeaders(req *http.Request, write bool) {
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	if c.schema != "" && c.schema != "public" {
		if write {
			req.Header.Set("Content-Profile", c.schema)
		} else {
			req.Header.Set("Accept-Profile", c.schema)
		}
	}
}

// do sends the request, replaying the body across retries.
func (c *Client) do(req *http.Request, body []byte) (*Response, error) {
	var lastErr error
	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-req.Context().Done():
				return nil, req.Context().Err()
			case <-time.After(c.retry.backoff(attempt)):
			}
		}

		if body != nil {
			req.Body = io.NopCloser(bytes.NewReader(body))
			req.ContentLength = int64(len(body))
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}

		payload, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		if c.retry.retryable(resp.StatusCode) {
			lastErr = fmt.Errorf("supabase: status %d", resp.StatusCode)
			continue
		}

		return &Response{StatusCode: resp.StatusCode, Body: payload, Headers: resp.Header}, nil
	}
	return nil, lastErr
}
