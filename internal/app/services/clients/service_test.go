package clients

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/estatelink/marketplace/internal/app/domain/apikey"
	"github.com/estatelink/marketplace/internal/app/domain/client"
	"github.com/estatelink/marketplace/internal/app/storage"
	"github.com/estatelink/marketplace/internal/app/storage/memory"
)

func newService() (*Service, *memory.Store) {
	store := memory.New()
	return New(store, store, nil), store
}

func TestCreateAppliesTierRateLimit(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	cases := []struct {
		tier client.Tier
		want int
	}{
		{client.TierStarter, 10},
		{client.TierGrowth, 30},
		{client.TierEnterprise, 100},
	}
	for _, tc := range cases {
		c, err := svc.Create(ctx, "Acme "+string(tc.tier), "ops@acme.test", tc.tier)
		if err != nil {
			t.Fatalf("create %s: %v", tc.tier, err)
		}
		if c.RateLimitPerSecond != tc.want {
			t.Fatalf("%s rate limit = %d, want %d", tc.tier, c.RateLimitPerSecond, tc.want)
		}
		if !c.Active {
			t.Fatalf("new client must be active")
		}
	}

	if _, err := svc.Create(ctx, "", "x@y.z", client.TierStarter); err == nil {
		t.Fatalf("expected error for empty company name")
	}
	if _, err := svc.Create(ctx, "Acme", "x@y.z", client.Tier("platinum")); err == nil {
		t.Fatalf("expected error for unknown tier")
	}

	// An empty tier defaults to starter.
	c, err := svc.Create(ctx, "Default Tier Co", "", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if c.Tier != client.TierStarter {
		t.Fatalf("tier = %s, want starter", c.Tier)
	}
}

func TestTopUpAndLedger(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	c, err := svc.Create(ctx, "Acme", "", client.TierStarter)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, _, err := svc.TopUp(ctx, c.ID, 0, ""); err == nil {
		t.Fatalf("expected error for non-positive amount")
	}
	if _, _, err := svc.TopUp(ctx, "missing", 50, ""); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	c, tx, err := svc.TopUp(ctx, c.ID, 50, "invoice-42")
	if err != nil {
		t.Fatalf("top up: %v", err)
	}
	if c.CreditsBalance != 50 {
		t.Fatalf("balance = %d, want 50", c.CreditsBalance)
	}
	if tx.Delta != 50 || tx.BalanceAfter != 50 || tx.Reason != "top_up" || tx.Reference != "invoice-42" {
		t.Fatalf("ledger = %+v", tx)
	}

	txs, err := svc.Transactions(ctx, c.ID, 10)
	if err != nil {
		t.Fatalf("transactions: %v", err)
	}
	if len(txs) != 1 {
		t.Fatalf("len = %d, want 1", len(txs))
	}
}

func TestIssueKey(t *testing.T) {
	svc, store := newService()
	ctx := context.Background()

	c, err := svc.Create(ctx, "Acme", "", client.TierGrowth)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	issued, err := svc.IssueKey(ctx, c.ID, "prod", []string{" Leads ", "insights", "leads", ""}, time.Hour)
	if err != nil {
		t.Fatalf("issue key: %v", err)
	}
	if len(issued.PlainKey) != 64 {
		t.Fatalf("plain key length = %d, want 64", len(issued.PlainKey))
	}
	if issued.Key.Prefix != issued.PlainKey[:apikey.PrefixLength] {
		t.Fatalf("prefix %q does not match key material", issued.Key.Prefix)
	}
	if issued.Key.Hash != HashKey(issued.PlainKey) {
		t.Fatalf("stored hash does not cover the plain key")
	}
	if len(issued.Key.AllowedEndpoints) != 2 || issued.Key.AllowedEndpoints[0] != "leads" || issued.Key.AllowedEndpoints[1] != "insights" {
		t.Fatalf("allowed endpoints = %v", issued.Key.AllowedEndpoints)
	}
	if issued.Key.ExpiresAt == nil || time.Until(*issued.Key.ExpiresAt) > time.Hour {
		t.Fatalf("expiry not set within ttl: %v", issued.Key.ExpiresAt)
	}

	// Lookup by prefix returns the same key with its hash intact.
	stored, err := store.GetActiveKeyByPrefix(ctx, issued.Key.Prefix)
	if err != nil {
		t.Fatalf("get key by prefix: %v", err)
	}
	if stored.ID != issued.Key.ID {
		t.Fatalf("prefix lookup returned %s, want %s", stored.ID, issued.Key.ID)
	}

	if _, err := svc.IssueKey(ctx, "missing", "x", nil, 0); err == nil {
		t.Fatalf("expected error for unknown client")
	}
}

func TestRevokeKey(t *testing.T) {
	svc, store := newService()
	ctx := context.Background()

	a, _ := svc.Create(ctx, "Acme", "", client.TierStarter)
	b, _ := svc.Create(ctx, "Bravo", "", client.TierStarter)
	issued, err := svc.IssueKey(ctx, a.ID, "prod", nil, 0)
	if err != nil {
		t.Fatalf("issue key: %v", err)
	}

	// A client cannot revoke another client's key.
	if _, err := svc.RevokeKey(ctx, b.ID, issued.Key.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("cross-client revoke err = %v, want ErrNotFound", err)
	}

	k, err := svc.RevokeKey(ctx, a.ID, issued.Key.ID)
	if err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if k.Active {
		t.Fatalf("key still active after revoke")
	}
	if _, err := store.GetActiveKeyByPrefix(ctx, issued.Key.Prefix); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("revoked key still resolvable by prefix: %v", err)
	}
}

func TestUpdateClient(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	c, err := svc.Create(ctx, "Acme", "", client.TierStarter)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	tier := client.TierEnterprise
	active := false
	limit := 50
	updated, err := svc.Update(ctx, c.ID, nil, nil, &tier, &active, &limit)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Tier != client.TierEnterprise || updated.Active || updated.RateLimitPerSecond != 50 {
		t.Fatalf("update not applied: %+v", updated)
	}

	empty := ""
	if _, err := svc.Update(ctx, c.ID, &empty, nil, nil, nil, nil); err == nil {
		t.Fatalf("expected error for empty company name")
	}
	bad := 0
	if _, err := svc.Update(ctx, c.ID, nil, nil, nil, nil, &bad); err == nil {
		t.Fatalf("expected error for non-positive rate limit")
	}
}
