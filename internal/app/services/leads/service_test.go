package leads

import (
	"context"
	"errors"
	"testing"

	"github.com/estatelink/marketplace/internal/app/domain/client"
	"github.com/estatelink/marketplace/internal/app/domain/lead"
	"github.com/estatelink/marketplace/internal/app/storage"
	"github.com/estatelink/marketplace/internal/app/storage/memory"
)

func TestPriceFor(t *testing.T) {
	cases := []struct {
		score int
		want  int
	}{
		{0, BaseLeadPrice},
		{69, BaseLeadPrice},
		{70, HighScorePrice},
		{100, HighScorePrice},
	}
	for _, tc := range cases {
		if got := PriceFor(tc.score); got != tc.want {
			t.Fatalf("PriceFor(%d) = %d, want %d", tc.score, got, tc.want)
		}
	}
}

func TestCreateValidation(t *testing.T) {
	svc := New(memory.New(), nil)
	ctx := context.Background()

	if _, err := svc.Create(ctx, lead.Lead{Source: "mls"}); err == nil {
		t.Fatalf("expected error for missing location")
	}

	l, err := svc.Create(ctx, lead.Lead{Location: "austin", Score: 250, IsSold: true, SoldTo: "sneaky"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if l.Score != 100 {
		t.Fatalf("score = %d, want clamped to 100", l.Score)
	}
	if l.IsSold || l.SoldTo != "" {
		t.Fatalf("new lead must start unsold: %+v", l)
	}

	l, err = svc.Create(ctx, lead.Lead{Location: "denver", Score: -5})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if l.Score != 0 {
		t.Fatalf("score = %d, want clamped to 0", l.Score)
	}
}

func TestPurchase(t *testing.T) {
	store := memory.New()
	svc := New(store, nil)
	ctx := context.Background()

	buyer, err := store.CreateClient(ctx, client.Client{CompanyName: "Acme", Tier: client.TierGrowth, Active: true, CreditsBalance: 100})
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	l, err := svc.Create(ctx, lead.Lead{Location: "austin", Score: 85})
	if err != nil {
		t.Fatalf("create lead: %v", err)
	}

	sold, purchase, after, err := svc.Purchase(ctx, l.ID, buyer.ID)
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if purchase.Price != HighScorePrice {
		t.Fatalf("price = %d, want %d", purchase.Price, HighScorePrice)
	}
	if !sold.IsSold || sold.SoldTo != buyer.ID {
		t.Fatalf("lead not marked sold: %+v", sold)
	}
	if after.CreditsBalance != 100-HighScorePrice {
		t.Fatalf("balance = %d, want %d", after.CreditsBalance, 100-HighScorePrice)
	}
	if purchase.Snapshot.Score != 85 {
		t.Fatalf("snapshot score = %d, want 85", purchase.Snapshot.Score)
	}

	// Re-buying the same lead fails, as does buying an unknown one.
	if _, _, _, err := svc.Purchase(ctx, l.ID, buyer.ID); !errors.Is(err, storage.ErrLeadNotAvailable) {
		t.Fatalf("resale err = %v, want ErrLeadNotAvailable", err)
	}
	if _, _, _, err := svc.Purchase(ctx, "nope", buyer.ID); !errors.Is(err, storage.ErrLeadNotAvailable) {
		t.Fatalf("unknown lead err = %v, want ErrLeadNotAvailable", err)
	}

	history, err := svc.Purchases(ctx, buyer.ID, 10)
	if err != nil {
		t.Fatalf("purchases: %v", err)
	}
	if len(history) != 1 || history[0].LeadID != l.ID {
		t.Fatalf("purchase history = %+v", history)
	}
}

func TestPurchaseInsufficientCredits(t *testing.T) {
	store := memory.New()
	svc := New(store, nil)
	ctx := context.Background()

	buyer, err := store.CreateClient(ctx, client.Client{CompanyName: "Broke Realty", Active: true, CreditsBalance: 5})
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	l, err := svc.Create(ctx, lead.Lead{Location: "austin", Score: 40})
	if err != nil {
		t.Fatalf("create lead: %v", err)
	}

	if _, _, _, err := svc.Purchase(ctx, l.ID, buyer.ID); !errors.Is(err, storage.ErrInsufficientCredits) {
		t.Fatalf("err = %v, want ErrInsufficientCredits", err)
	}

	// The failed debit must leave the lead on the market.
	got, err := svc.Get(ctx, l.ID)
	if err != nil {
		t.Fatalf("get lead: %v", err)
	}
	if got.IsSold {
		t.Fatalf("lead marked sold after failed purchase")
	}
}

func TestListAvailableOrdering(t *testing.T) {
	store := memory.New()
	svc := New(store, nil)
	ctx := context.Background()

	for _, score := range []int{40, 90, 65} {
		if _, err := svc.Create(ctx, lead.Lead{Location: "austin", Score: score}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	leads, err := svc.ListAvailable(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(leads) != 3 {
		t.Fatalf("len = %d, want 3", len(leads))
	}
	if leads[0].Score != 90 || leads[1].Score != 65 || leads[2].Score != 40 {
		t.Fatalf("not sorted by score desc: %d %d %d", leads[0].Score, leads[1].Score, leads[2].Score)
	}
}
