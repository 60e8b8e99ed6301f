package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	_ "github.com/lib/pq"

	"github.com/estatelink/marketplace/internal/app/domain/apikey"
	"github.com/estatelink/marketplace/internal/app/domain/client"
	"github.com/estatelink/marketplace/internal/app/domain/insight"
	"github.com/estatelink/marketplace/internal/app/domain/lead"
	"github.com/estatelink/marketplace/internal/app/domain/usage"
	"github.com/estatelink/marketplace/internal/app/domain/valuation"
	"github.com/estatelink/marketplace/internal/app/storage"
)

func TestStoreIntegration(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping postgres integration test")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	store := New(db)
	ctx := context.Background()
	if err := store.Bootstrap(ctx); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	c, err := store.CreateClient(ctx, client.Client{
		CompanyName:        fmt.Sprintf("Integration %d", time.Now().UnixNano()),
		Tier:               client.TierGrowth,
		Active:             true,
		RateLimitPerSecond: 10,
	})
	if err != nil {
		t.Fatalf("create client: %v", err)
	}

	c, _, err = store.CreditCredits(ctx, c.ID, 100, "top_up", "")
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
	if c.CreditsBalance != 100 {
		t.Fatalf("balance = %d, want 100", c.CreditsBalance)
	}

	prefix := fmt.Sprintf("%08x", time.Now().UnixNano()&0xffffffff)
	key, err := store.CreateAPIKey(ctx, apikey.Key{
		ClientID:         c.ID,
		Name:             "integration",
		Prefix:           prefix,
		Hash:             "deadbeef",
		Active:           true,
		AllowedEndpoints: []string{"leads", "insights"},
	})
	if err != nil {
		t.Fatalf("create key: %v", err)
	}
	got, err := store.GetActiveKeyByPrefix(ctx, prefix)
	if err != nil {
		t.Fatalf("get key by prefix: %v", err)
	}
	if got.ID != key.ID || got.Hash != "deadbeef" {
		t.Fatalf("round-tripped key mismatch: %+v", got)
	}

	l, err := store.CreateLead(ctx, lead.Lead{
		Source:       "mls",
		PropertyType: "condo",
		Location:     "austin",
		Intent:       "sell",
		Score:        88,
		ContactEmail: "seller@example.com",
	})
	if err != nil {
		t.Fatalf("create lead: %v", err)
	}

	sold, purchase, buyer, err := store.PurchaseLead(ctx, l.ID, c.ID, 25)
	if err != nil {
		t.Fatalf("purchase lead: %v", err)
	}
	if !sold.IsSold || purchase.Price != 25 {
		t.Fatalf("purchase state wrong: sold=%v price=%d", sold.IsSold, purchase.Price)
	}
	if buyer.CreditsBalance != 75 {
		t.Fatalf("balance after purchase = %d, want 75", buyer.CreditsBalance)
	}
	if _, _, _, err := store.PurchaseLead(ctx, l.ID, c.ID, 25); !errors.Is(err, storage.ErrLeadNotAvailable) {
		t.Fatalf("second purchase err = %v, want ErrLeadNotAvailable", err)
	}

	if _, _, err := store.DebitCredits(ctx, c.ID, 1000, "api_call", "insights"); !errors.Is(err, storage.ErrInsufficientCredits) {
		t.Fatalf("oversized debit err = %v, want ErrInsufficientCredits", err)
	}

	if _, err := store.UpsertInsight(ctx, insight.Insight{Region: "austin", Period: "2026-08", MedianPrice: 450000, DemandScore: 81}); err != nil {
		t.Fatalf("upsert insight: %v", err)
	}
	if _, err := store.CreateValuation(ctx, valuation.Valuation{PropertyID: "P-IT-1", EstimatedValue: 455000, Confidence: 0.9, Method: "comparable_sales"}); err != nil {
		t.Fatalf("create valuation: %v", err)
	}

	if _, err := store.AppendUsage(ctx, usage.Record{
		ClientID:    c.ID,
		APIKeyID:    key.ID,
		Endpoint:    "leads",
		Method:      "GET",
		Status:      200,
		CreditsUsed: 0,
	}); err != nil {
		t.Fatalf("append usage: %v", err)
	}
	records, err := store.ListUsage(ctx, c.ID, 10)
	if err != nil {
		t.Fatalf("list usage: %v", err)
	}
	if len(records) == 0 {
		t.Fatalf("expected at least one usage record")
	}
}

func clientMockColumns() []string {
	return []string{"id", "company_name", "contact_email", "tier", "active", "credits_balance", "lifetime_credits_used", "rate_limit_per_second", "created_at", "updated_at"}
}

func TestDebitCreditsConditional(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	store := New(db)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE mp_clients").
		WillReturnRows(sqlmock.NewRows(clientMockColumns()).
			AddRow("c1", "Acme Brokers", "ops@acme.test", "growth", true, 85, 115, 10, now, now))
	mock.ExpectExec("INSERT INTO mp_credit_transactions").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	c, ledger, err := store.DebitCredits(context.Background(), "c1", 15, "api_call", "insights")
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	if c.CreditsBalance != 85 {
		t.Fatalf("balance = %d, want 85", c.CreditsBalance)
	}
	if ledger.Delta != -15 || ledger.BalanceAfter != 85 {
		t.Fatalf("ledger = %+v", ledger)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDebitCreditsInsufficientBalance(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	store := New(db)

	// The conditional UPDATE matches nothing, but the client row exists.
	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE mp_clients").
		WillReturnRows(sqlmock.NewRows(clientMockColumns()))
	mock.ExpectQuery("SELECT EXISTS").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	if _, _, err := store.DebitCredits(context.Background(), "c1", 9999, "api_call", ""); !errors.Is(err, storage.ErrInsufficientCredits) {
		t.Fatalf("err = %v, want ErrInsufficientCredits", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDebitCreditsUnknownClient(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	store := New(db)

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE mp_clients").
		WillReturnRows(sqlmock.NewRows(clientMockColumns()))
	mock.ExpectQuery("SELECT EXISTS").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectRollback()

	if _, _, err := store.DebitCredits(context.Background(), "missing", 5, "api_call", ""); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPurchaseLeadAlreadySold(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	store := New(db)

	// The is_sold guard keeps the claim from matching a sold lead.
	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE mp_leads").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	if _, _, _, err := store.PurchaseLead(context.Background(), "l1", "c1", 25); !errors.Is(err, storage.ErrLeadNotAvailable) {
		t.Fatalf("err = %v, want ErrLeadNotAvailable", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
