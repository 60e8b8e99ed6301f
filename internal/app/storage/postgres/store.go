// Package postgres implements the storage interfaces backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/estatelink/marketplace/internal/app/domain/apikey"
	"github.com/estatelink/marketplace/internal/app/domain/client"
	"github.com/estatelink/marketplace/internal/app/domain/insight"
	"github.com/estatelink/marketplace/internal/app/domain/lead"
	"github.com/estatelink/marketplace/internal/app/domain/usage"
	"github.com/estatelink/marketplace/internal/app/domain/valuation"
	"github.com/estatelink/marketplace/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ storage.ClientStore = (*Store)(nil)
var _ storage.APIKeyStore = (*Store)(nil)
var _ storage.LeadStore = (*Store)(nil)
var _ storage.InsightStore = (*Store)(nil)
var _ storage.ValuationStore = (*Store)(nil)
var _ storage.UsageStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects to PostgreSQL with the given DSN and verifies the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return New(db), nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// --- ClientStore ------------------------------------------------------------

func (s *Store) CreateClient(ctx context.Context, c client.Client) (client.Client, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mp_clients (id, company_name, contact_email, tier, active, credits_balance, lifetime_credits_used, rate_limit_per_second, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, c.ID, c.CompanyName, c.ContactEmail, string(c.Tier), c.Active, c.CreditsBalance, c.LifetimeCreditsUsed, c.RateLimitPerSecond, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return client.Client{}, err
	}
	return c, nil
}

func (s *Store) UpdateClient(ctx context.Context, c client.Client) (client.Client, error) {
	existing, err := s.GetClient(ctx, c.ID)
	if err != nil {
		return client.Client{}, err
	}

	c.CreatedAt = existing.CreatedAt
	c.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE mp_clients
		SET company_name = $2, contact_email = $3, tier = $4, active = $5, rate_limit_per_second = $6, updated_at = $7
		WHERE id = $1
	`, c.ID, c.CompanyName, c.ContactEmail, string(c.Tier), c.Active, c.RateLimitPerSecond, c.UpdatedAt)
	if err != nil {
		return client.Client{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return client.Client{}, storage.ErrNotFound
	}
	// Balance fields are only mutated through the credit operations.
	c.CreditsBalance = existing.CreditsBalance
	c.LifetimeCreditsUsed = existing.LifetimeCreditsUsed
	return c, nil
}

const clientColumns = `id, company_name, contact_email, tier, active, credits_balance, lifetime_credits_used, rate_limit_per_second, created_at, updated_at`

func scanClient(row interface{ Scan(...any) error }) (client.Client, error) {
	var (
		c    client.Client
		tier string
	)
	if err := row.Scan(&c.ID, &c.CompanyName, &c.ContactEmail, &tier, &c.Active, &c.CreditsBalance, &c.LifetimeCreditsUsed, &c.RateLimitPerSecond, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return client.Client{}, err
	}
	c.Tier = client.Tier(tier)
	return c, nil
}

func (s *Store) GetClient(ctx context.Context, id string) (client.Client, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+clientColumns+`
		FROM mp_clients
		WHERE id = $1
	`, id)

	c, err := scanClient(row)
	if errors.Is(err, sql.ErrNoRows) {
		return client.Client{}, storage.ErrNotFound
	}
	return c, err
}

func (s *Store) ListClients(ctx context.Context) ([]client.Client, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+clientColumns+`
		FROM mp_clients
		ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []client.Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

func (s *Store) DebitCredits(ctx context.Context, clientID string, amount int, reason, reference string) (client.Client, client.Transaction, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return client.Client{}, client.Transaction{}, err
	}
	defer tx.Rollback()

	c, ledger, err := debitInTx(ctx, tx, clientID, amount, reason, reference)
	if err != nil {
		return client.Client{}, client.Transaction{}, err
	}
	if err := tx.Commit(); err != nil {
		return client.Client{}, client.Transaction{}, err
	}
	return c, ledger, nil
}

// debitInTx performs the conditional balance deduction and ledger append
// inside the caller's transaction. The WHERE clause re-validates the balance
// so two concurrent spends can never both succeed past the funds available.
func debitInTx(ctx context.Context, tx *sql.Tx, clientID string, amount int, reason, reference string) (client.Client, client.Transaction, error) {
	now := time.Now().UTC()
	row := tx.QueryRowContext(ctx, `
		UPDATE mp_clients
		SET credits_balance = credits_balance - $2,
		    lifetime_credits_used = lifetime_credits_used + $2,
		    updated_at = $3
		WHERE id = $1 AND credits_balance >= $2
		RETURNING `+clientColumns+`
	`, clientID, amount, now)

	c, err := scanClient(row)
	if errors.Is(err, sql.ErrNoRows) {
		// Distinguish a missing client from an uncovered balance.
		var exists bool
		if checkErr := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM mp_clients WHERE id = $1)`, clientID).Scan(&exists); checkErr != nil {
			return client.Client{}, client.Transaction{}, checkErr
		}
		if !exists {
			return client.Client{}, client.Transaction{}, storage.ErrNotFound
		}
		return client.Client{}, client.Transaction{}, storage.ErrInsufficientCredits
	}
	if err != nil {
		return client.Client{}, client.Transaction{}, err
	}

	ledger := client.Transaction{
		ID:           uuid.NewString(),
		ClientID:     clientID,
		Delta:        -amount,
		BalanceAfter: c.CreditsBalance,
		Reason:       reason,
		Reference:    reference,
		CreatedAt:    now,
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO mp_credit_transactions (id, client_id, delta, balance_after, reason, reference, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, ledger.ID, ledger.ClientID, ledger.Delta, ledger.BalanceAfter, ledger.Reason, ledger.Reference, ledger.CreatedAt); err != nil {
		return client.Client{}, client.Transaction{}, err
	}
	return c, ledger, nil
}

func (s *Store) CreditCredits(ctx context.Context, clientID string, amount int, reason, reference string) (client.Client, client.Transaction, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return client.Client{}, client.Transaction{}, err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	row := tx.QueryRowContext(ctx, `
		UPDATE mp_clients
		SET credits_balance = credits_balance + $2, updated_at = $3
		WHERE id = $1
		RETURNING `+clientColumns+`
	`, clientID, amount, now)

	c, err := scanClient(row)
	if errors.Is(err, sql.ErrNoRows) {
		return client.Client{}, client.Transaction{}, storage.ErrNotFound
	}
	if err != nil {
		return client.Client{}, client.Transaction{}, err
	}

	ledger := client.Transaction{
		ID:           uuid.NewString(),
		ClientID:     clientID,
		Delta:        amount,
		BalanceAfter: c.CreditsBalance,
		Reason:       reason,
		Reference:    reference,
		CreatedAt:    now,
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO mp_credit_transactions (id, client_id, delta, balance_after, reason, reference, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, ledger.ID, ledger.ClientID, ledger.Delta, ledger.BalanceAfter, ledger.Reason, ledger.Reference, ledger.CreatedAt); err != nil {
		return client.Client{}, client.Transaction{}, err
	}
	if err := tx.Commit(); err != nil {
		return client.Client{}, client.Transaction{}, err
	}
	return c, ledger, nil
}

func (s *Store) ListTransactions(ctx context.Context, clientID string, limit int) ([]client.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, client_id, delta, balance_after, reason, reference, created_at
		FROM mp_credit_transactions
		WHERE client_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, clientID, normalizeLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []client.Transaction
	for rows.Next() {
		var t client.Transaction
		if err := rows.Scan(&t.ID, &t.ClientID, &t.Delta, &t.BalanceAfter, &t.Reason, &t.Reference, &t.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

// --- APIKeyStore ------------------------------------------------------------

const keyColumns = `id, client_id, name, prefix, hash, active, allowed_endpoints, expires_at, last_used_at, created_at, updated_at`

func scanKey(row interface{ Scan(...any) error }) (apikey.Key, error) {
	var (
		k           apikey.Key
		endpointsRaw []byte
		expiresAt   sql.NullTime
		lastUsedAt  sql.NullTime
	)
	if err := row.Scan(&k.ID, &k.ClientID, &k.Name, &k.Prefix, &k.Hash, &k.Active, &endpointsRaw, &expiresAt, &lastUsedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
		return apikey.Key{}, err
	}
	if len(endpointsRaw) > 0 {
		_ = json.Unmarshal(endpointsRaw, &k.AllowedEndpoints)
	}
	if expiresAt.Valid {
		t := expiresAt.Time.UTC()
		k.ExpiresAt = &t
	}
	if lastUsedAt.Valid {
		t := lastUsedAt.Time.UTC()
		k.LastUsedAt = &t
	}
	return k, nil
}

func (s *Store) CreateAPIKey(ctx context.Context, k apikey.Key) (apikey.Key, error) {
	if k.ID == "" {
		k.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	k.CreatedAt = now
	k.UpdatedAt = now

	endpointsJSON, err := json.Marshal(k.AllowedEndpoints)
	if err != nil {
		return apikey.Key{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO mp_api_keys (id, client_id, name, prefix, hash, active, allowed_endpoints, expires_at, last_used_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, k.ID, k.ClientID, k.Name, k.Prefix, k.Hash, k.Active, endpointsJSON, toNullTimePtr(k.ExpiresAt), toNullTimePtr(k.LastUsedAt), k.CreatedAt, k.UpdatedAt)
	if err != nil {
		return apikey.Key{}, err
	}
	return k, nil
}

func (s *Store) UpdateAPIKey(ctx context.Context, k apikey.Key) (apikey.Key, error) {
	existing, err := s.GetAPIKey(ctx, k.ID)
	if err != nil {
		return apikey.Key{}, err
	}

	k.ClientID = existing.ClientID
	k.Prefix = existing.Prefix
	k.Hash = existing.Hash
	k.CreatedAt = existing.CreatedAt
	k.UpdatedAt = time.Now().UTC()

	endpointsJSON, err := json.Marshal(k.AllowedEndpoints)
	if err != nil {
		return apikey.Key{}, err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE mp_api_keys
		SET name = $2, active = $3, allowed_endpoints = $4, expires_at = $5, updated_at = $6
		WHERE id = $1
	`, k.ID, k.Name, k.Active, endpointsJSON, toNullTimePtr(k.ExpiresAt), k.UpdatedAt)
	if err != nil {
		return apikey.Key{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return apikey.Key{}, storage.ErrNotFound
	}
	return k, nil
}

func (s *Store) GetAPIKey(ctx context.Context, id string) (apikey.Key, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+keyColumns+`
		FROM mp_api_keys
		WHERE id = $1
	`, id)

	k, err := scanKey(row)
	if errors.Is(err, sql.ErrNoRows) {
		return apikey.Key{}, storage.ErrNotFound
	}
	return k, err
}

func (s *Store) GetActiveKeyByPrefix(ctx context.Context, prefix string) (apikey.Key, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+keyColumns+`
		FROM mp_api_keys
		WHERE prefix = $1 AND active = true
	`, prefix)

	k, err := scanKey(row)
	if errors.Is(err, sql.ErrNoRows) {
		return apikey.Key{}, storage.ErrNotFound
	}
	return k, err
}

func (s *Store) ListAPIKeys(ctx context.Context, clientID string) ([]apikey.Key, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+keyColumns+`
		FROM mp_api_keys
		WHERE $1 = '' OR client_id = $1
		ORDER BY created_at
	`, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []apikey.Key
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, k)
	}
	return result, rows.Err()
}

func (s *Store) TouchAPIKey(ctx context.Context, id string, when time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE mp_api_keys SET last_used_at = $2 WHERE id = $1
	`, id, when.UTC())
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// --- LeadStore --------------------------------------------------------------

const leadColumns = `id, source, property_type, location, intent, score, contact_name, contact_email, contact_phone, is_sold, sold_to, sold_price, sold_at, created_at`

func scanLead(row interface{ Scan(...any) error }) (lead.Lead, error) {
	var (
		l      lead.Lead
		soldTo sql.NullString
		soldAt sql.NullTime
	)
	if err := row.Scan(&l.ID, &l.Source, &l.PropertyType, &l.Location, &l.Intent, &l.Score, &l.ContactName, &l.ContactEmail, &l.ContactPhone, &l.IsSold, &soldTo, &l.SoldPrice, &soldAt, &l.CreatedAt); err != nil {
		return lead.Lead{}, err
	}
	if soldTo.Valid {
		l.SoldTo = soldTo.String
	}
	if soldAt.Valid {
		t := soldAt.Time.UTC()
		l.SoldAt = &t
	}
	return l, nil
}

func (s *Store) CreateLead(ctx context.Context, l lead.Lead) (lead.Lead, error) {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	l.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mp_leads (id, source, property_type, location, intent, score, contact_name, contact_email, contact_phone, is_sold, sold_to, sold_price, sold_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, false, NULL, 0, NULL, $10)
	`, l.ID, l.Source, l.PropertyType, l.Location, l.Intent, l.Score, l.ContactName, l.ContactEmail, l.ContactPhone, l.CreatedAt)
	if err != nil {
		return lead.Lead{}, err
	}
	l.IsSold = false
	return l, nil
}

func (s *Store) GetLead(ctx context.Context, id string) (lead.Lead, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+leadColumns+`
		FROM mp_leads
		WHERE id = $1
	`, id)

	l, err := scanLead(row)
	if errors.Is(err, sql.ErrNoRows) {
		return lead.Lead{}, storage.ErrNotFound
	}
	return l, err
}

func (s *Store) ListAvailableLeads(ctx context.Context, limit int) ([]lead.Lead, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+leadColumns+`
		FROM mp_leads
		WHERE is_sold = false
		ORDER BY score DESC, created_at
		LIMIT $1
	`, normalizeLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []lead.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, l)
	}
	return result, rows.Err()
}

func (s *Store) PurchaseLead(ctx context.Context, leadID, clientID string, price int) (lead.Lead, lead.Purchase, client.Client, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return lead.Lead{}, lead.Purchase{}, client.Client{}, err
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	// Claim the lead; the is_sold guard makes the sale at-most-once even
	// under concurrent purchases.
	row := tx.QueryRowContext(ctx, `
		UPDATE mp_leads
		SET is_sold = true, sold_to = $2, sold_price = $3, sold_at = $4
		WHERE id = $1 AND is_sold = false
		RETURNING `+leadColumns+`
	`, leadID, clientID, price, now)

	l, err := scanLead(row)
	if errors.Is(err, sql.ErrNoRows) {
		return lead.Lead{}, lead.Purchase{}, client.Client{}, storage.ErrLeadNotAvailable
	}
	if err != nil {
		return lead.Lead{}, lead.Purchase{}, client.Client{}, err
	}

	buyer, _, err := debitInTx(ctx, tx, clientID, price, "lead_purchase", leadID)
	if err != nil {
		return lead.Lead{}, lead.Purchase{}, client.Client{}, err
	}

	snapshot, err := json.Marshal(l)
	if err != nil {
		return lead.Lead{}, lead.Purchase{}, client.Client{}, err
	}
	p := lead.Purchase{
		ID:        uuid.NewString(),
		LeadID:    leadID,
		ClientID:  clientID,
		Price:     price,
		Snapshot:  l,
		CreatedAt: now,
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO mp_lead_purchases (id, lead_id, client_id, price, snapshot, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, p.ID, p.LeadID, p.ClientID, p.Price, snapshot, p.CreatedAt); err != nil {
		return lead.Lead{}, lead.Purchase{}, client.Client{}, err
	}

	if err := tx.Commit(); err != nil {
		return lead.Lead{}, lead.Purchase{}, client.Client{}, err
	}
	return l, p, buyer, nil
}

func (s *Store) ListPurchases(ctx context.Context, clientID string, limit int) ([]lead.Purchase, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, lead_id, client_id, price, snapshot, created_at
		FROM mp_lead_purchases
		WHERE client_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, clientID, normalizeLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []lead.Purchase
	for rows.Next() {
		var (
			p           lead.Purchase
			snapshotRaw []byte
		)
		if err := rows.Scan(&p.ID, &p.LeadID, &p.ClientID, &p.Price, &snapshotRaw, &p.CreatedAt); err != nil {
			return nil, err
		}
		if len(snapshotRaw) > 0 {
			_ = json.Unmarshal(snapshotRaw, &p.Snapshot)
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

// --- InsightStore -------------------------------------------------------------

func (s *Store) UpsertInsight(ctx context.Context, in insight.Insight) (insight.Insight, error) {
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	in.CreatedAt = now
	in.UpdatedAt = now

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO mp_market_insights (id, region, median_price, price_trend_pct, demand_score, available_leads, period, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (region, period) DO UPDATE
		SET median_price = EXCLUDED.median_price,
		    price_trend_pct = EXCLUDED.price_trend_pct,
		    demand_score = EXCLUDED.demand_score,
		    available_leads = EXCLUDED.available_leads,
		    updated_at = EXCLUDED.updated_at
		RETURNING id, created_at
	`, in.ID, in.Region, in.MedianPrice, in.PriceTrendPct, in.DemandScore, in.AvailableLeads, in.Period, in.CreatedAt, in.UpdatedAt)
	if err := row.Scan(&in.ID, &in.CreatedAt); err != nil {
		return insight.Insight{}, err
	}
	return in, nil
}

func (s *Store) ListInsightsByRegion(ctx context.Context, region string, limit int) ([]insight.Insight, error) {
	pattern := "%" + strings.TrimSpace(region) + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, region, median_price, price_trend_pct, demand_score, available_leads, period, created_at, updated_at
		FROM mp_market_insights
		WHERE region ILIKE $1
		ORDER BY region, period DESC
		LIMIT $2
	`, pattern, normalizeLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []insight.Insight
	for rows.Next() {
		var in insight.Insight
		if err := rows.Scan(&in.ID, &in.Region, &in.MedianPrice, &in.PriceTrendPct, &in.DemandScore, &in.AvailableLeads, &in.Period, &in.CreatedAt, &in.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, in)
	}
	return result, rows.Err()
}

// --- ValuationStore ----------------------------------------------------------

func (s *Store) CreateValuation(ctx context.Context, v valuation.Valuation) (valuation.Valuation, error) {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mp_valuations (id, property_id, estimated_value, confidence, method, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, v.ID, v.PropertyID, v.EstimatedValue, v.Confidence, v.Method, v.CreatedAt)
	if err != nil {
		return valuation.Valuation{}, err
	}
	return v, nil
}

func (s *Store) LatestValuation(ctx context.Context, propertyID string) (valuation.Valuation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, property_id, estimated_value, confidence, method, created_at
		FROM mp_valuations
		WHERE property_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, propertyID)

	var v valuation.Valuation
	err := row.Scan(&v.ID, &v.PropertyID, &v.EstimatedValue, &v.Confidence, &v.Method, &v.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return valuation.Valuation{}, storage.ErrNotFound
	}
	if err != nil {
		return valuation.Valuation{}, err
	}
	return v, nil
}

// --- UsageStore ---------------------------------------------------------------

func (s *Store) AppendUsage(ctx context.Context, rec usage.Record) (usage.Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	paramsJSON, err := json.Marshal(rec.Params)
	if err != nil {
		return usage.Record{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO mp_usage_records (id, client_id, api_key_id, endpoint, method, params, status, credits_used, latency_ms, remote_addr, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, rec.ID, rec.ClientID, rec.APIKeyID, rec.Endpoint, rec.Method, paramsJSON, rec.Status, rec.CreditsUsed, rec.LatencyMS, rec.RemoteAddr, rec.UserAgent, rec.CreatedAt)
	if err != nil {
		return usage.Record{}, err
	}
	return rec, nil
}

func (s *Store) ListUsage(ctx context.Context, clientID string, limit int) ([]usage.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, client_id, api_key_id, endpoint, method, params, status, credits_used, latency_ms, remote_addr, user_agent, created_at
		FROM mp_usage_records
		WHERE client_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, clientID, normalizeLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []usage.Record
	for rows.Next() {
		var (
			rec       usage.Record
			paramsRaw []byte
		)
		if err := rows.Scan(&rec.ID, &rec.ClientID, &rec.APIKeyID, &rec.Endpoint, &rec.Method, &paramsRaw, &rec.Status, &rec.CreditsUsed, &rec.LatencyMS, &rec.RemoteAddr, &rec.UserAgent, &rec.CreatedAt); err != nil {
			return nil, err
		}
		if len(paramsRaw) > 0 {
			_ = json.Unmarshal(paramsRaw, &rec.Params)
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return 100
	}
	return limit
}

func toNullTimePtr(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
