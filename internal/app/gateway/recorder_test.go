package gateway

import (
	"context"
	"testing"

	"github.com/estatelink/marketplace/internal/app/domain/apikey"
	"github.com/estatelink/marketplace/internal/app/domain/usage"
	"github.com/estatelink/marketplace/internal/app/storage/memory"
)

func TestRecorderWritesAndTouchesKey(t *testing.T) {
	store := memory.New()
	rec := NewRecorder(store, store, nil)
	if err := rec.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { rec.Stop(context.Background()) })

	key, err := store.CreateAPIKey(context.Background(), apikey.Key{ClientID: "c1", Prefix: "abcd1234", Hash: "h", Active: true})
	if err != nil {
		t.Fatalf("create key: %v", err)
	}
	if key.LastUsedAt != nil {
		t.Fatalf("fresh key should have no last-used timestamp")
	}

	rec.Record(usage.Record{ClientID: "c1", APIKeyID: key.ID, Endpoint: "insights", Method: "GET", Status: 200, CreditsUsed: 15})
	rec.Record(usage.Record{ClientID: "c1", APIKeyID: key.ID, Endpoint: "leads", Method: "GET", Status: 200})
	rec.Flush()

	records, err := store.ListUsage(context.Background(), "c1", 10)
	if err != nil {
		t.Fatalf("list usage: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}

	touched, err := store.GetAPIKey(context.Background(), key.ID)
	if err != nil {
		t.Fatalf("get key: %v", err)
	}
	if touched.LastUsedAt == nil {
		t.Fatalf("expected last-used timestamp after recording")
	}
}

func TestRecorderIgnoresRecordsAfterStop(t *testing.T) {
	store := memory.New()
	rec := NewRecorder(store, store, nil)
	if err := rec.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := rec.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}

	// Must not panic on the closed queue.
	rec.Record(usage.Record{ClientID: "c1", Endpoint: "info"})
	rec.Flush()

	records, err := store.ListUsage(context.Background(), "c1", 10)
	if err != nil {
		t.Fatalf("list usage: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("records = %d, want 0 after stop", len(records))
	}
}
