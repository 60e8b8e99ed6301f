package insights

import (
	"context"
	"testing"
	"time"

	"github.com/estatelink/marketplace/internal/app/domain/client"
	"github.com/estatelink/marketplace/internal/app/domain/insight"
	"github.com/estatelink/marketplace/internal/app/domain/lead"
	"github.com/estatelink/marketplace/internal/app/storage/memory"
)

func TestRecordValidation(t *testing.T) {
	svc := New(memory.New(), nil, nil)
	ctx := context.Background()

	if _, err := svc.Record(ctx, insight.Insight{}); err == nil {
		t.Fatalf("expected error for missing region")
	}

	in, err := svc.Record(ctx, insight.Insight{Region: " austin ", DemandScore: 150})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if in.Region != "austin" {
		t.Fatalf("region = %q, want trimmed", in.Region)
	}
	if in.DemandScore != 100 {
		t.Fatalf("demand score = %d, want clamped to 100", in.DemandScore)
	}
	if in.Period != time.Now().UTC().Format("2006-01") {
		t.Fatalf("period = %q, want current month", in.Period)
	}
}

func TestRecordUpsertsByRegionPeriod(t *testing.T) {
	svc := New(memory.New(), nil, nil)
	ctx := context.Background()

	if _, err := svc.Record(ctx, insight.Insight{Region: "austin", Period: "2026-08", MedianPrice: 400000}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if _, err := svc.Record(ctx, insight.Insight{Region: "austin", Period: "2026-08", MedianPrice: 425000}); err != nil {
		t.Fatalf("record: %v", err)
	}

	got, err := svc.Query(ctx, "austin", 10)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1 row per (region, period)", len(got))
	}
	if got[0].MedianPrice != 425000 {
		t.Fatalf("median = %d, want latest value", got[0].MedianPrice)
	}
}

func TestRefreshAggregatesLeadInventory(t *testing.T) {
	store := memory.New()
	svc := New(store, store, nil)
	ctx := context.Background()

	seed := []lead.Lead{
		{Location: "austin", Score: 80},
		{Location: "austin", Score: 60},
		{Location: "denver", Score: 90},
		{Location: "denver", Score: 50, IsSold: true},
	}
	buyer, err := store.CreateClient(ctx, client.Client{CompanyName: "Acme", Active: true, CreditsBalance: 100})
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	for _, l := range seed {
		sold := l.IsSold
		l.IsSold = false
		created, err := store.CreateLead(ctx, l)
		if err != nil {
			t.Fatalf("create lead: %v", err)
		}
		if sold {
			if _, _, _, err := store.PurchaseLead(ctx, created.ID, buyer.ID, 10); err != nil {
				t.Fatalf("purchase lead: %v", err)
			}
		}
	}

	if err := svc.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	austin, err := svc.Query(ctx, "austin", 10)
	if err != nil {
		t.Fatalf("query austin: %v", err)
	}
	if len(austin) != 1 {
		t.Fatalf("austin rows = %d, want 1", len(austin))
	}
	if austin[0].AvailableLeads != 2 || austin[0].DemandScore != 70 {
		t.Fatalf("austin aggregate = %+v", austin[0])
	}

	// The sold denver lead must not count toward inventory.
	denver, err := svc.Query(ctx, "denver", 10)
	if err != nil {
		t.Fatalf("query denver: %v", err)
	}
	if len(denver) != 1 || denver[0].AvailableLeads != 1 || denver[0].DemandScore != 90 {
		t.Fatalf("denver aggregate = %+v", denver)
	}
}

func TestRefreshWithoutLeadStore(t *testing.T) {
	svc := New(memory.New(), nil, nil)
	if err := svc.Refresh(context.Background()); err == nil {
		t.Fatalf("expected error when lead store is not configured")
	}
}
