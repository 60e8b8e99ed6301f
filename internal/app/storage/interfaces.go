package storage

import (
	"context"
	"errors"
	"time"

	"github.com/estatelink/marketplace/internal/app/domain/apikey"
	"github.com/estatelink/marketplace/internal/app/domain/client"
	"github.com/estatelink/marketplace/internal/app/domain/insight"
	"github.com/estatelink/marketplace/internal/app/domain/lead"
	"github.com/estatelink/marketplace/internal/app/domain/usage"
	"github.com/estatelink/marketplace/internal/app/domain/valuation"
)

// Sentinel errors shared by every backend. Handlers map these onto the wire
// codes; stores must return them rather than backend-specific equivalents.
var (
	ErrNotFound            = errors.New("record not found")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrLeadNotAvailable    = errors.New("lead not available")
)

// ClientStore persists client accounts and their credit ledger.
type ClientStore interface {
	CreateClient(ctx context.Context, c client.Client) (client.Client, error)
	UpdateClient(ctx context.Context, c client.Client) (client.Client, error)
	GetClient(ctx context.Context, id string) (client.Client, error)
	ListClients(ctx context.Context) ([]client.Client, error)

	// DebitCredits atomically deducts amount when the balance covers it,
	// bumps the lifetime counter, and appends a ledger row. Returns
	// ErrInsufficientCredits without mutation when it does not.
	DebitCredits(ctx context.Context, clientID string, amount int, reason, reference string) (client.Client, client.Transaction, error)

	// CreditCredits adds amount to the balance and appends a ledger row.
	CreditCredits(ctx context.Context, clientID string, amount int, reason, reference string) (client.Client, client.Transaction, error)

	ListTransactions(ctx context.Context, clientID string, limit int) ([]client.Transaction, error)
}

// APIKeyStore persists API keys.
type APIKeyStore interface {
	CreateAPIKey(ctx context.Context, k apikey.Key) (apikey.Key, error)
	UpdateAPIKey(ctx context.Context, k apikey.Key) (apikey.Key, error)
	GetAPIKey(ctx context.Context, id string) (apikey.Key, error)
	// GetActiveKeyByPrefix resolves an active key by its lookup prefix.
	GetActiveKeyByPrefix(ctx context.Context, prefix string) (apikey.Key, error)
	ListAPIKeys(ctx context.Context, clientID string) ([]apikey.Key, error)
	// TouchAPIKey updates last_used_at; best-effort callers ignore the error.
	TouchAPIKey(ctx context.Context, id string, when time.Time) error
}

// LeadStore persists leads and sales.
type LeadStore interface {
	CreateLead(ctx context.Context, l lead.Lead) (lead.Lead, error)
	GetLead(ctx context.Context, id string) (lead.Lead, error)
	ListAvailableLeads(ctx context.Context, limit int) ([]lead.Lead, error)

	// PurchaseLead performs the sale as one unit: claim the unsold lead,
	// record a purchase snapshot, debit the buyer, append a ledger row.
	// Returns ErrLeadNotAvailable if the lead is missing or already sold and
	// ErrInsufficientCredits if the buyer cannot cover the price; neither
	// leaves partial state behind.
	PurchaseLead(ctx context.Context, leadID, clientID string, price int) (lead.Lead, lead.Purchase, client.Client, error)

	ListPurchases(ctx context.Context, clientID string, limit int) ([]lead.Purchase, error)
}

// InsightStore persists market insights.
type InsightStore interface {
	// UpsertInsight replaces the row for (region, period) or inserts it.
	UpsertInsight(ctx context.Context, in insight.Insight) (insight.Insight, error)
	// ListInsightsByRegion matches region as a case-insensitive substring;
	// empty region returns everything up to limit.
	ListInsightsByRegion(ctx context.Context, region string, limit int) ([]insight.Insight, error)
}

// ValuationStore persists property valuations.
type ValuationStore interface {
	CreateValuation(ctx context.Context, v valuation.Valuation) (valuation.Valuation, error)
	// LatestValuation returns the most recent row for the property, or
	// ErrNotFound when none exists.
	LatestValuation(ctx context.Context, propertyID string) (valuation.Valuation, error)
}

// UsageStore persists the gateway audit trail.
type UsageStore interface {
	AppendUsage(ctx context.Context, rec usage.Record) (usage.Record, error)
	ListUsage(ctx context.Context, clientID string, limit int) ([]usage.Record, error)
}
