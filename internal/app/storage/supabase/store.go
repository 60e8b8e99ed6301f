// Package supabase implements the storage interfaces on top of Supabase's
// PostgREST API. Plain reads and writes go through the REST surface; the
// credit debit and the lead purchase call database functions so the balance
// check and the multi-row write run inside one transaction server-side.
package supabase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/estatelink/marketplace/internal/app/domain/apikey"
	"github.com/estatelink/marketplace/internal/app/domain/client"
	"github.com/estatelink/marketplace/internal/app/domain/insight"
	"github.com/estatelink/marketplace/internal/app/domain/lead"
	"github.com/estatelink/marketplace/internal/app/domain/usage"
	"github.com/estatelink/marketplace/internal/app/domain/valuation"
	"github.com/estatelink/marketplace/internal/app/storage"
	sbclient "github.com/estatelink/marketplace/supabase/client"
)

const (
	tableClients      = "mp_clients"
	tableAPIKeys      = "mp_api_keys"
	tableLeads        = "mp_leads"
	tablePurchases    = "mp_lead_purchases"
	tableTransactions = "mp_credit_transactions"
	tableInsights     = "mp_market_insights"
	tableValuations   = "mp_valuations"
	tableUsage        = "mp_usage_records"

	rpcDebitCredits  = "mp_debit_credits"
	rpcCreditCredits = "mp_credit_credits"
	rpcPurchaseLead  = "mp_purchase_lead"
)

// Store implements every storage interface against Supabase.
type Store struct {
	client *sbclient.Client
}

var _ storage.ClientStore = (*Store)(nil)
var _ storage.APIKeyStore = (*Store)(nil)
var _ storage.LeadStore = (*Store)(nil)
var _ storage.InsightStore = (*Store)(nil)
var _ storage.ValuationStore = (*Store)(nil)
var _ storage.UsageStore = (*Store)(nil)

// New wraps a Supabase client.
func New(c *sbclient.Client) *Store {
	return &Store{client: c}
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return 100
	}
	return limit
}

// rpcFailure maps database function error messages onto storage sentinels.
// The functions raise exceptions with these literal markers.
func rpcFailure(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "INSUFFICIENT_CREDITS"):
		return storage.ErrInsufficientCredits
	case strings.Contains(msg, "LEAD_NOT_AVAILABLE"):
		return storage.ErrLeadNotAvailable
	case strings.Contains(msg, "NOT_FOUND"):
		return storage.ErrNotFound
	}
	return err
}

// ClientStore implementation -------------------------------------------------

func (s *Store) CreateClient(ctx context.Context, c client.Client) (client.Client, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now

	resp, err := s.client.From(tableClients).Insert(ctx, []client.Client{c})
	if err != nil {
		return client.Client{}, fmt.Errorf("insert client: %w", err)
	}
	if err := resp.Error(); err != nil {
		return client.Client{}, err
	}
	return c, nil
}

func (s *Store) UpdateClient(ctx context.Context, c client.Client) (client.Client, error) {
	c.UpdatedAt = time.Now().UTC()

	resp, err := s.client.From(tableClients).Eq("id", c.ID).Update(ctx, map[string]any{
		"company_name":          c.CompanyName,
		"contact_email":         c.ContactEmail,
		"tier":                  c.Tier,
		"active":                c.Active,
		"rate_limit_per_second": c.RateLimitPerSecond,
		"updated_at":            c.UpdatedAt,
	})
	if err != nil {
		return client.Client{}, fmt.Errorf("update client: %w", err)
	}
	if err := resp.Error(); err != nil {
		return client.Client{}, err
	}

	var rows []client.Client
	if err := resp.JSON(&rows); err != nil {
		return client.Client{}, fmt.Errorf("decode client: %w", err)
	}
	if len(rows) == 0 {
		return client.Client{}, storage.ErrNotFound
	}
	return rows[0], nil
}

func (s *Store) GetClient(ctx context.Context, id string) (client.Client, error) {
	resp, err := s.client.From(tableClients).Select("*").Eq("id", id).Single().Execute(ctx)
	if err != nil {
		return client.Client{}, fmt.Errorf("get client: %w", err)
	}
	if resp.NotFound() {
		return client.Client{}, storage.ErrNotFound
	}
	if err := resp.Error(); err != nil {
		return client.Client{}, err
	}

	var c client.Client
	if err := resp.JSON(&c); err != nil {
		return client.Client{}, fmt.Errorf("decode client: %w", err)
	}
	return c, nil
}

func (s *Store) ListClients(ctx context.Context) ([]client.Client, error) {
	resp, err := s.client.From(tableClients).Select("*").Order("created_at", true).Execute(ctx)
	if err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}
	if err := resp.Error(); err != nil {
		return nil, err
	}

	var out []client.Client
	if err := resp.JSON(&out); err != nil {
		return nil, fmt.Errorf("decode clients: %w", err)
	}
	return out, nil
}

// debitResult is the row shape returned by the balance functions.
type debitResult struct {
	Client      client.Client      `json:"client"`
	Transaction client.Transaction `json:"transaction"`
}

func (s *Store) DebitCredits(ctx context.Context, clientID string, amount int, reason, reference string) (client.Client, client.Transaction, error) {
	return s.balanceRPC(ctx, rpcDebitCredits, clientID, amount, reason, reference)
}

func (s *Store) CreditCredits(ctx context.Context, clientID string, amount int, reason, reference string) (client.Client, client.Transaction, error) {
	return s.balanceRPC(ctx, rpcCreditCredits, clientID, amount, reason, reference)
}

func (s *Store) balanceRPC(ctx context.Context, fn, clientID string, amount int, reason, reference string) (client.Client, client.Transaction, error) {
	resp, err := s.client.RPC(ctx, fn, map[string]any{
		"p_client_id": clientID,
		"p_amount":    amount,
		"p_reason":    reason,
		"p_reference": reference,
	})
	if err != nil {
		return client.Client{}, client.Transaction{}, fmt.Errorf("%s: %w", fn, err)
	}
	if err := rpcFailure(resp.Error()); err != nil {
		return client.Client{}, client.Transaction{}, err
	}

	var result debitResult
	if err := resp.JSON(&result); err != nil {
		return client.Client{}, client.Transaction{}, fmt.Errorf("decode %s: %w", fn, err)
	}
	return result.Client, result.Transaction, nil
}

func (s *Store) ListTransactions(ctx context.Context, clientID string, limit int) ([]client.Transaction, error) {
	resp, err := s.client.From(tableTransactions).
		Select("*").
		Eq("client_id", clientID).
		Order("created_at", false).
		Limit(normalizeLimit(limit)).
		Execute(ctx)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	if err := resp.Error(); err != nil {
		return nil, err
	}

	var out []client.Transaction
	if err := resp.JSON(&out); err != nil {
		return nil, fmt.Errorf("decode transactions: %w", err)
	}
	return out, nil
}

// APIKeyStore implementation -------------------------------------------------

// keyRow carries the hash column, which the domain type never serializes.
type keyRow struct {
	apikey.Key
	Hash string `json:"hash"`
}

func (r keyRow) key() apikey.Key {
	k := r.Key
	k.Hash = r.Hash
	return k
}

func (s *Store) CreateAPIKey(ctx context.Context, k apikey.Key) (apikey.Key, error) {
	if k.ID == "" {
		k.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	k.CreatedAt = now
	k.UpdatedAt = now
	if k.AllowedEndpoints == nil {
		k.AllowedEndpoints = []string{}
	}

	resp, err := s.client.From(tableAPIKeys).Insert(ctx, []keyRow{{Key: k, Hash: k.Hash}})
	if err != nil {
		return apikey.Key{}, fmt.Errorf("insert api key: %w", err)
	}
	if err := resp.Error(); err != nil {
		return apikey.Key{}, err
	}
	return k, nil
}

func (s *Store) UpdateAPIKey(ctx context.Context, k apikey.Key) (apikey.Key, error) {
	k.UpdatedAt = time.Now().UTC()

	resp, err := s.client.From(tableAPIKeys).Eq("id", k.ID).Update(ctx, map[string]any{
		"name":              k.Name,
		"active":            k.Active,
		"allowed_endpoints": k.AllowedEndpoints,
		"expires_at":        k.ExpiresAt,
		"updated_at":        k.UpdatedAt,
	})
	if err != nil {
		return apikey.Key{}, fmt.Errorf("update api key: %w", err)
	}
	if err := resp.Error(); err != nil {
		return apikey.Key{}, err
	}

	var rows []keyRow
	if err := resp.JSON(&rows); err != nil {
		return apikey.Key{}, fmt.Errorf("decode api key: %w", err)
	}
	if len(rows) == 0 {
		return apikey.Key{}, storage.ErrNotFound
	}
	return rows[0].key(), nil
}

func (s *Store) GetAPIKey(ctx context.Context, id string) (apikey.Key, error) {
	return s.fetchKey(ctx, "id", id, false)
}

func (s *Store) GetActiveKeyByPrefix(ctx context.Context, prefix string) (apikey.Key, error) {
	return s.fetchKey(ctx, "prefix", prefix, true)
}

func (s *Store) fetchKey(ctx context.Context, column, value string, activeOnly bool) (apikey.Key, error) {
	q := s.client.From(tableAPIKeys).Select("*").Eq(column, value)
	if activeOnly {
		q = q.Is("active", true)
	}
	resp, err := q.Single().Execute(ctx)
	if err != nil {
		return apikey.Key{}, fmt.Errorf("get api key: %w", err)
	}
	if resp.NotFound() {
		return apikey.Key{}, storage.ErrNotFound
	}
	if err := resp.Error(); err != nil {
		return apikey.Key{}, err
	}

	var row keyRow
	if err := resp.JSON(&row); err != nil {
		return apikey.Key{}, fmt.Errorf("decode api key: %w", err)
	}
	return row.key(), nil
}

func (s *Store) ListAPIKeys(ctx context.Context, clientID string) ([]apikey.Key, error) {
	q := s.client.From(tableAPIKeys).Select("*").Order("created_at", true)
	if clientID != "" {
		q = q.Eq("client_id", clientID)
	}
	resp, err := q.Execute(ctx)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	if err := resp.Error(); err != nil {
		return nil, err
	}

	var rows []keyRow
	if err := resp.JSON(&rows); err != nil {
		return nil, fmt.Errorf("decode api keys: %w", err)
	}
	out := make([]apikey.Key, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.key())
	}
	return out, nil
}

func (s *Store) TouchAPIKey(ctx context.Context, id string, when time.Time) error {
	resp, err := s.client.From(tableAPIKeys).Eq("id", id).Update(ctx, map[string]any{
		"last_used_at": when.UTC(),
	})
	if err != nil {
		return fmt.Errorf("touch api key: %w", err)
	}
	return resp.Error()
}

// LeadStore implementation ---------------------------------------------------

func (s *Store) CreateLead(ctx context.Context, l lead.Lead) (lead.Lead, error) {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	l.CreatedAt = time.Now().UTC()

	resp, err := s.client.From(tableLeads).Insert(ctx, []lead.Lead{l})
	if err != nil {
		return lead.Lead{}, fmt.Errorf("insert lead: %w", err)
	}
	if err := resp.Error(); err != nil {
		return lead.Lead{}, err
	}
	return l, nil
}

func (s *Store) GetLead(ctx context.Context, id string) (lead.Lead, error) {
	resp, err := s.client.From(tableLeads).Select("*").Eq("id", id).Single().Execute(ctx)
	if err != nil {
		return lead.Lead{}, fmt.Errorf("get lead: %w", err)
	}
	if resp.NotFound() {
		return lead.Lead{}, storage.ErrNotFound
	}
	if err := resp.Error(); err != nil {
		return lead.Lead{}, err
	}

	var l lead.Lead
	if err := resp.JSON(&l); err != nil {
		return lead.Lead{}, fmt.Errorf("decode lead: %w", err)
	}
	return l, nil
}

func (s *Store) ListAvailableLeads(ctx context.Context, limit int) ([]lead.Lead, error) {
	resp, err := s.client.From(tableLeads).
		Select("*").
		Is("is_sold", false).
		Order("score", false).
		Order("created_at", true).
		Limit(normalizeLimit(limit)).
		Execute(ctx)
	if err != nil {
		return nil, fmt.Errorf("list leads: %w", err)
	}
	if err := resp.Error(); err != nil {
		return nil, err
	}

	var out []lead.Lead
	if err := resp.JSON(&out); err != nil {
		return nil, fmt.Errorf("decode leads: %w", err)
	}
	return out, nil
}

// purchaseResult is the row shape returned by the purchase function.
type purchaseResult struct {
	Lead     lead.Lead     `json:"lead"`
	Purchase lead.Purchase `json:"purchase"`
	Client   client.Client `json:"client"`
}

func (s *Store) PurchaseLead(ctx context.Context, leadID, clientID string, price int) (lead.Lead, lead.Purchase, client.Client, error) {
	resp, err := s.client.RPC(ctx, rpcPurchaseLead, map[string]any{
		"p_lead_id":   leadID,
		"p_client_id": clientID,
		"p_price":     price,
	})
	if err != nil {
		return lead.Lead{}, lead.Purchase{}, client.Client{}, fmt.Errorf("purchase lead: %w", err)
	}
	if err := rpcFailure(resp.Error()); err != nil {
		return lead.Lead{}, lead.Purchase{}, client.Client{}, err
	}

	var result purchaseResult
	if err := resp.JSON(&result); err != nil {
		return lead.Lead{}, lead.Purchase{}, client.Client{}, fmt.Errorf("decode purchase: %w", err)
	}
	return result.Lead, result.Purchase, result.Client, nil
}

func (s *Store) ListPurchases(ctx context.Context, clientID string, limit int) ([]lead.Purchase, error) {
	resp, err := s.client.From(tablePurchases).
		Select("*").
		Eq("client_id", clientID).
		Order("created_at", false).
		Limit(normalizeLimit(limit)).
		Execute(ctx)
	if err != nil {
		return nil, fmt.Errorf("list purchases: %w", err)
	}
	if err := resp.Error(); err != nil {
		return nil, err
	}

	var out []lead.Purchase
	if err := resp.JSON(&out); err != nil {
		return nil, fmt.Errorf("decode purchases: %w", err)
	}
	return out, nil
}

// InsightStore implementation ------------------------------------------------

func (s *Store) UpsertInsight(ctx context.Context, in insight.Insight) (insight.Insight, error) {
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if in.CreatedAt.IsZero() {
		in.CreatedAt = now
	}
	in.UpdatedAt = now

	resp, err := s.client.From(tableInsights).Upsert(ctx, []insight.Insight{in}, "region,period")
	if err != nil {
		return insight.Insight{}, fmt.Errorf("upsert insight: %w", err)
	}
	if err := resp.Error(); err != nil {
		return insight.Insight{}, err
	}

	var rows []insight.Insight
	if err := resp.JSON(&rows); err != nil {
		return insight.Insight{}, fmt.Errorf("decode insight: %w", err)
	}
	if len(rows) > 0 {
		return rows[0], nil
	}
	return in, nil
}

func (s *Store) ListInsightsByRegion(ctx context.Context, region string, limit int) ([]insight.Insight, error) {
	q := s.client.From(tableInsights).Select("*").Order("region", true)
	if region = strings.TrimSpace(region); region != "" {
		q = q.ILike("region", "%"+region+"%")
	}
	resp, err := q.Limit(normalizeLimit(limit)).Execute(ctx)
	if err != nil {
		return nil, fmt.Errorf("list insights: %w", err)
	}
	if err := resp.Error(); err != nil {
		return nil, err
	}

	var out []insight.Insight
	if err := resp.JSON(&out); err != nil {
		return nil, fmt.Errorf("decode insights: %w", err)
	}
	return out, nil
}

// ValuationStore implementation ----------------------------------------------

func (s *Store) CreateValuation(ctx context.Context, v valuation.Valuation) (valuation.Valuation, error) {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}

	resp, err := s.client.From(tableValuations).Insert(ctx, []valuation.Valuation{v})
	if err != nil {
		return valuation.Valuation{}, fmt.Errorf("insert valuation: %w", err)
	}
	if err := resp.Error(); err != nil {
		return valuation.Valuation{}, err
	}
	return v, nil
}

func (s *Store) LatestValuation(ctx context.Context, propertyID string) (valuation.Valuation, error) {
	resp, err := s.client.From(tableValuations).
		Select("*").
		Eq("property_id", propertyID).
		Order("created_at", false).
		Limit(1).
		Execute(ctx)
	if err != nil {
		return valuation.Valuation{}, fmt.Errorf("latest valuation: %w", err)
	}
	if err := resp.Error(); err != nil {
		return valuation.Valuation{}, err
	}

	var rows []valuation.Valuation
	if err := resp.JSON(&rows); err != nil {
		return valuation.Valuation{}, fmt.Errorf("decode valuation: %w", err)
	}
	if len(rows) == 0 {
		return valuation.Valuation{}, storage.ErrNotFound
	}
	return rows[0], nil
}

// UsageStore implementation --------------------------------------------------

func (s *Store) AppendUsage(ctx context.Context, rec usage.Record) (usage.Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.Params == nil {
		rec.Params = map[string]string{}
	}

	resp, err := s.client.From(tableUsage).Insert(ctx, []usage.Record{rec})
	if err != nil {
		return usage.Record{}, fmt.Errorf("insert usage record: %w", err)
	}
	if err := resp.Error(); err != nil {
		return usage.Record{}, err
	}
	return rec, nil
}

func (s *Store) ListUsage(ctx context.Context, clientID string, limit int) ([]usage.Record, error) {
	resp, err := s.client.From(tableUsage).
		Select("*").
		Eq("client_id", clientID).
		Order("created_at", false).
		Limit(normalizeLimit(limit)).
		Execute(ctx)
	if err != nil {
		return nil, fmt.Errorf("list usage: %w", err)
	}
	if err := resp.Error(); err != nil {
		return nil, err
	}

	var out []usage.Record
	if err := resp.JSON(&out); err != nil {
		return nil, fmt.Errorf("decode usage: %w", err)
	}
	return out, nil
}
