package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func fastRetry(maxRetries int) *RetryConfig {
	return &RetryConfig{
		MaxRetries:           maxRetries,
		InitialBackoff:       time.Millisecond,
		MaxBackoff:           5 * time.Millisecond,
		BackoffMultiplier:    2.0,
		RetryableStatusCodes: []int{http.StatusServiceUnavailable},
	}
}

func newTestClient(t *testing.T, handler http.Handler, retry *RetryConfig) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(Config{URL: srv.URL, APIKey: "service-key", Schema: "tenant", Retry: retry})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c, srv
}

func TestNewValidation(t *testing.T) {
	if _, err := New(Config{APIKey: "k"}); err == nil {
		t.Fatalf("expected error for missing URL")
	}
	if _, err := New(Config{URL: "http://x"}); err == nil {
		t.Fatalf("expected error for missing APIKey")
	}
}

func TestQueryRequestShape(t *testing.T) {
	var got *http.Request
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(r.Context())
		w.Write([]byte(`[{"id":"l1"}]`))
	}), fastRetry(0))

	resp, err := c.From("mp_leads").
		Select("id,score").
		Is("is_sold", false).
		Eq("location", "austin").
		Order("score", false).
		Order("created_at", true).
		Limit(50).
		Execute(context.Background())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if err := resp.Error(); err != nil {
		t.Fatalf("response error: %v", err)
	}

	if got.URL.Path != "/rest/v1/mp_leads" {
		t.Fatalf("path = %q", got.URL.Path)
	}
	q := got.URL.Query()
	if q.Get("select") != "id,score" || q.Get("is_sold") != "is.false" || q.Get("location") != "eq.austin" {
		t.Fatalf("query = %v", q)
	}
	if q.Get("order") != "score.desc,created_at.asc" {
		t.Fatalf("order = %q", q.Get("order"))
	}
	if q.Get("limit") != "50" {
		t.Fatalf("limit = %q", q.Get("limit"))
	}
	if got.Header.Get("apikey") != "service-key" || got.Header.Get("Authorization") != "Bearer service-key" {
		t.Fatalf("auth headers = %v", got.Header)
	}
	if got.Header.Get("Accept-Profile") != "tenant" {
		t.Fatalf("Accept-Profile = %q", got.Header.Get("Accept-Profile"))
	}

	var rows []struct {
		ID string `json:"id"`
	}
	if err := resp.JSON(&rows); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rows) != 1 || rows[0].ID != "l1" {
		t.Fatalf("rows = %+v", rows)
	}
}

func TestSingleSetsObjectAccept(t *testing.T) {
	var accept string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		accept = r.Header.Get("Accept")
		w.Write([]byte(`{"id":"c1"}`))
	}), fastRetry(0))

	if _, err := c.From("mp_clients").Eq("id", "c1").Single().Execute(context.Background()); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if accept != "application/vnd.pgrst.object+json" {
		t.Fatalf("Accept = %q", accept)
	}
}

func TestRetryReplaysBody(t *testing.T) {
	var calls int32
	var bodies []string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, r.ContentLength)
		r.Body.Read(buf)
		bodies = append(bodies, string(buf))
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}), fastRetry(3))

	resp, err := c.RPC(context.Background(), "mp_debit_credits", map[string]any{"p_amount": 15})
	if err != nil {
		t.Fatalf("rpc: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Fatalf("calls = %d, want 3", n)
	}
	for i, b := range bodies {
		if b != `{"p_amount":15}` {
			t.Fatalf("attempt %d body = %q", i, b)
		}
	}
}

func TestRetryExhaustion(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}), fastRetry(2))

	if _, err := c.From("mp_clients").Execute(context.Background()); err == nil {
		t.Fatalf("expected error after retries exhausted")
	}
}

func TestNotFound(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotAcceptable)
		w.Write([]byte(`{"code":"PGRST116","message":"JSON object requested, multiple (or no) rows returned"}`))
	}), fastRetry(0))

	resp, err := c.From("mp_clients").Eq("id", "missing").Single().Execute(context.Background())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !resp.NotFound() {
		t.Fatalf("expected NotFound for PGRST116 response")
	}
}

func TestBackoffCapped(t *testing.T) {
	cfg := RetryConfig{InitialBackoff: time.Second, MaxBackoff: 2 * time.Second, BackoffMultiplier: 10}
	if d := cfg.backoff(3); d != 2*time.Second {
		t.Fatalf("backoff = %v, want capped at 2s", d)
	}
	if d := cfg.backoff(1); d != time.Second {
		t.Fatalf("backoff = %v, want initial 1s", d)
	}
}
