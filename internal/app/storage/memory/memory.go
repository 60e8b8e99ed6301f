// Package memory provides an in-memory implementation of the storage
// interfaces. It is safe for concurrent use and is primarily intended for
// tests and local development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/estatelink/marketplace/internal/app/domain/apikey"
	"github.com/estatelink/marketplace/internal/app/domain/client"
	"github.com/estatelink/marketplace/internal/app/domain/insight"
	"github.com/estatelink/marketplace/internal/app/domain/lead"
	"github.com/estatelink/marketplace/internal/app/domain/usage"
	"github.com/estatelink/marketplace/internal/app/domain/valuation"
	"github.com/estatelink/marketplace/internal/app/storage"
)

// Store is an in-memory implementation of every storage interface.
type Store struct {
	mu           sync.RWMutex
	nextID       int64
	clients      map[string]client.Client
	transactions map[string][]client.Transaction
	keys         map[string]apikey.Key
	keysByPrefix map[string]string
	leads        map[string]lead.Lead
	purchases    map[string][]lead.Purchase
	insights     map[string]insight.Insight
	valuations   map[string][]valuation.Valuation
	usage        map[string][]usage.Record
}

var _ storage.ClientStore = (*Store)(nil)
var _ storage.APIKeyStore = (*Store)(nil)
var _ storage.LeadStore = (*Store)(nil)
var _ storage.InsightStore = (*Store)(nil)
var _ storage.ValuationStore = (*Store)(nil)
var _ storage.UsageStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextID:       1,
		clients:      make(map[string]client.Client),
		transactions: make(map[string][]client.Transaction),
		keys:         make(map[string]apikey.Key),
		keysByPrefix: make(map[string]string),
		leads:        make(map[string]lead.Lead),
		purchases:    make(map[string][]lead.Purchase),
		insights:     make(map[string]insight.Insight),
		valuations:   make(map[string][]valuation.Valuation),
		usage:        make(map[string][]usage.Record),
	}
}

func (s *Store) nextIDLocked() string {
	id := s.nextID
	s.nextID++
	return fmt.Sprintf("%d", id)
}

// ClientStore implementation -------------------------------------------------

func (s *Store) CreateClient(_ context.Context, c client.Client) (client.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.ID == "" {
		c.ID = s.nextIDLocked()
	} else if _, exists := s.clients[c.ID]; exists {
		return client.Client{}, fmt.Errorf("client %s already exists", c.ID)
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	s.clients[c.ID] = c
	return c, nil
}

func (s *Store) UpdateClient(_ context.Context, c client.Client) (client.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.clients[c.ID]
	if !ok {
		return client.Client{}, storage.ErrNotFound
	}
	c.CreatedAt = existing.CreatedAt
	c.UpdatedAt = time.Now().UTC()
	s.clients[c.ID] = c
	return c, nil
}

func (s *Store) GetClient(_ context.Context, id string) (client.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.clients[id]
	if !ok {
		return client.Client{}, storage.ErrNotFound
	}
	return c, nil
}

func (s *Store) ListClients(_ context.Context) ([]client.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]client.Client, 0, len(s.clients))
	for _, c := range s.clients {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) DebitCredits(_ context.Context, clientID string, amount int, reason, reference string) (client.Client, client.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.debitLocked(clientID, amount, reason, reference)
}

func (s *Store) debitLocked(clientID string, amount int, reason, reference string) (client.Client, client.Transaction, error) {
	c, ok := s.clients[clientID]
	if !ok {
		return client.Client{}, client.Transaction{}, storage.ErrNotFound
	}
	if c.CreditsBalance < amount {
		return client.Client{}, client.Transaction{}, storage.ErrInsufficientCredits
	}

	c.CreditsBalance -= amount
	c.LifetimeCreditsUsed += amount
	c.UpdatedAt = time.Now().UTC()
	s.clients[clientID] = c

	tx := client.Transaction{
		ID:           s.nextIDLocked(),
		ClientID:     clientID,
		Delta:        -amount,
		BalanceAfter: c.CreditsBalance,
		Reason:       reason,
		Reference:    reference,
		CreatedAt:    c.UpdatedAt,
	}
	s.transactions[clientID] = append(s.transactions[clientID], tx)
	return c, tx, nil
}

func (s *Store) CreditCredits(_ context.Context, clientID string, amount int, reason, reference string) (client.Client, client.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.clients[clientID]
	if !ok {
		return client.Client{}, client.Transaction{}, storage.ErrNotFound
	}

	c.CreditsBalance += amount
	c.UpdatedAt = time.Now().UTC()
	s.clients[clientID] = c

	tx := client.Transaction{
		ID:           s.nextIDLocked(),
		ClientID:     clientID,
		Delta:        amount,
		BalanceAfter: c.CreditsBalance,
		Reason:       reason,
		Reference:    reference,
		CreatedAt:    c.UpdatedAt,
	}
	s.transactions[clientID] = append(s.transactions[clientID], tx)
	return c, tx, nil
}

func (s *Store) ListTransactions(_ context.Context, clientID string, limit int) ([]client.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	txs := s.transactions[clientID]
	out := make([]client.Transaction, len(txs))
	copy(out, txs)
	// Newest first.
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// APIKeyStore implementation -------------------------------------------------

func (s *Store) CreateAPIKey(_ context.Context, k apikey.Key) (apikey.Key, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.clients[k.ClientID]; !ok {
		return apikey.Key{}, storage.ErrNotFound
	}
	if _, taken := s.keysByPrefix[k.Prefix]; taken {
		return apikey.Key{}, fmt.Errorf("key prefix %s already in use", k.Prefix)
	}
	if k.ID == "" {
		k.ID = s.nextIDLocked()
	}
	now := time.Now().UTC()
	k.CreatedAt = now
	k.UpdatedAt = now
	s.keys[k.ID] = k
	s.keysByPrefix[k.Prefix] = k.ID
	return k, nil
}

func (s *Store) UpdateAPIKey(_ context.Context, k apikey.Key) (apikey.Key, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.keys[k.ID]
	if !ok {
		return apikey.Key{}, storage.ErrNotFound
	}
	k.ClientID = existing.ClientID
	k.Prefix = existing.Prefix
	k.Hash = existing.Hash
	k.CreatedAt = existing.CreatedAt
	k.UpdatedAt = time.Now().UTC()
	s.keys[k.ID] = k
	return k, nil
}

func (s *Store) GetAPIKey(_ context.Context, id string) (apikey.Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	k, ok := s.keys[id]
	if !ok {
		return apikey.Key{}, storage.ErrNotFound
	}
	return k, nil
}

func (s *Store) GetActiveKeyByPrefix(_ context.Context, prefix string) (apikey.Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.keysByPrefix[prefix]
	if !ok {
		return apikey.Key{}, storage.ErrNotFound
	}
	k := s.keys[id]
	if !k.Active {
		return apikey.Key{}, storage.ErrNotFound
	}
	return k, nil
}

func (s *Store) ListAPIKeys(_ context.Context, clientID string) ([]apikey.Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []apikey.Key
	for _, k := range s.keys {
		if clientID == "" || k.ClientID == clientID {
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) TouchAPIKey(_ context.Context, id string, when time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.keys[id]
	if !ok {
		return storage.ErrNotFound
	}
	t := when.UTC()
	k.LastUsedAt = &t
	s.keys[id] = k
	return nil
}

// LeadStore implementation ---------------------------------------------------

func (s *Store) CreateLead(_ context.Context, l lead.Lead) (lead.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if l.ID == "" {
		l.ID = s.nextIDLocked()
	} else if _, exists := s.leads[l.ID]; exists {
		return lead.Lead{}, fmt.Errorf("lead %s already exists", l.ID)
	}
	l.CreatedAt = time.Now().UTC()
	s.leads[l.ID] = l
	return l, nil
}

func (s *Store) GetLead(_ context.Context, id string) (lead.Lead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.leads[id]
	if !ok {
		return lead.Lead{}, storage.ErrNotFound
	}
	return l, nil
}

func (s *Store) ListAvailableLeads(_ context.Context, limit int) ([]lead.Lead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []lead.Lead
	for _, l := range s.leads {
		if !l.IsSold {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) PurchaseLead(_ context.Context, leadID, clientID string, price int) (lead.Lead, lead.Purchase, client.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.leads[leadID]
	if !ok || l.IsSold {
		return lead.Lead{}, lead.Purchase{}, client.Client{}, storage.ErrLeadNotAvailable
	}
	if _, ok := s.clients[clientID]; !ok {
		return lead.Lead{}, lead.Purchase{}, client.Client{}, storage.ErrNotFound
	}

	// Debit first; a failed debit must leave the lead untouched.
	buyer, _, err := s.debitLocked(clientID, price, "lead_purchase", leadID)
	if err != nil {
		return lead.Lead{}, lead.Purchase{}, client.Client{}, err
	}

	now := time.Now().UTC()
	l.IsSold = true
	l.SoldTo = clientID
	l.SoldPrice = price
	l.SoldAt = &now
	s.leads[leadID] = l

	p := lead.Purchase{
		ID:        s.nextIDLocked(),
		LeadID:    leadID,
		ClientID:  clientID,
		Price:     price,
		Snapshot:  l,
		CreatedAt: now,
	}
	s.purchases[clientID] = append(s.purchases[clientID], p)
	return l, p, buyer, nil
}

func (s *Store) ListPurchases(_ context.Context, clientID string, limit int) ([]lead.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ps := s.purchases[clientID]
	out := make([]lead.Purchase, len(ps))
	copy(out, ps)
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// InsightStore implementation ------------------------------------------------

func insightKey(region, period string) string {
	return strings.ToLower(region) + "|" + period
}

func (s *Store) UpsertInsight(_ context.Context, in insight.Insight) (insight.Insight, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	key := insightKey(in.Region, in.Period)
	if existing, ok := s.insights[key]; ok {
		in.ID = existing.ID
		in.CreatedAt = existing.CreatedAt
	} else {
		if in.ID == "" {
			in.ID = s.nextIDLocked()
		}
		in.CreatedAt = now
	}
	in.UpdatedAt = now
	s.insights[key] = in
	return in, nil
}

func (s *Store) ListInsightsByRegion(_ context.Context, region string, limit int) ([]insight.Insight, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	needle := strings.ToLower(strings.TrimSpace(region))
	var out []insight.Insight
	for _, in := range s.insights {
		if needle == "" || strings.Contains(strings.ToLower(in.Region), needle) {
			out = append(out, in)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Region < out[j].Region })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ValuationStore implementation ----------------------------------------------

func (s *Store) CreateValuation(_ context.Context, v valuation.Valuation) (valuation.Valuation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v.ID == "" {
		v.ID = s.nextIDLocked()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	s.valuations[v.PropertyID] = append(s.valuations[v.PropertyID], v)
	return v, nil
}

func (s *Store) LatestValuation(_ context.Context, propertyID string) (valuation.Valuation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	vs := s.valuations[propertyID]
	if len(vs) == 0 {
		return valuation.Valuation{}, storage.ErrNotFound
	}
	latest := vs[0]
	for _, v := range vs[1:] {
		if v.CreatedAt.After(latest.CreatedAt) {
			latest = v
		}
	}
	return latest, nil
}

// UsageStore implementation --------------------------------------------------

func (s *Store) AppendUsage(_ context.Context, rec usage.Record) (usage.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		rec.ID = s.nextIDLocked()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	s.usage[rec.ClientID] = append(s.usage[rec.ClientID], rec)
	return rec, nil
}

func (s *Store) ListUsage(_ context.Context, clientID string, limit int) ([]usage.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recs := s.usage[clientID]
	out := make([]usage.Record, len(recs))
	copy(out, recs)
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
