// Package clients manages B2B client accounts, their API keys, and credit
// top-ups.
package clients

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/estatelink/marketplace/internal/app/domain/apikey"
	"github.com/estatelink/marketplace/internal/app/domain/client"
	"github.com/estatelink/marketplace/internal/app/storage"
	"github.com/estatelink/marketplace/pkg/logger"
)

// DefaultRateLimit is the per-second request allowance for new clients when
// the tier does not override it.
const DefaultRateLimit = 10

var tierRateLimits = map[client.Tier]int{
	client.TierStarter:    10,
	client.TierGrowth:     30,
	client.TierEnterprise: 100,
}

// Service manages clients and API keys.
type Service struct {
	clients storage.ClientStore
	keys    storage.APIKeyStore
	log     *logger.Logger
}

// New constructs a client service.
func New(clients storage.ClientStore, keys storage.APIKeyStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("clients")
	}
	return &Service{
		clients: clients,
		keys:    keys,
		log:     log,
	}
}

// Create registers a new client account on the given tier.
func (s *Service) Create(ctx context.Context, companyName, contactEmail string, tier client.Tier) (client.Client, error) {
	companyName = strings.TrimSpace(companyName)
	if companyName == "" {
		return client.Client{}, fmt.Errorf("company_name is required")
	}
	if tier == "" {
		tier = client.TierStarter
	}
	if _, ok := tierRateLimits[tier]; !ok {
		return client.Client{}, fmt.Errorf("unknown tier %q", tier)
	}

	c := client.Client{
		CompanyName:        companyName,
		ContactEmail:       strings.TrimSpace(contactEmail),
		Tier:               tier,
		Active:             true,
		RateLimitPerSecond: tierRateLimits[tier],
	}
	c, err := s.clients.CreateClient(ctx, c)
	if err != nil {
		return client.Client{}, err
	}
	s.log.WithField("client_id", c.ID).WithField("tier", string(tier)).Info("client created")
	return c, nil
}

// Get returns a client by ID.
func (s *Service) Get(ctx context.Context, id string) (client.Client, error) {
	return s.clients.GetClient(ctx, id)
}

// List returns all clients.
func (s *Service) List(ctx context.Context) ([]client.Client, error) {
	return s.clients.ListClients(ctx)
}

// Update applies optional mutations to a client record.
func (s *Service) Update(ctx context.Context, id string, companyName, contactEmail *string, tier *client.Tier, active *bool, rateLimit *int) (client.Client, error) {
	c, err := s.clients.GetClient(ctx, id)
	if err != nil {
		return client.Client{}, err
	}
	if companyName != nil {
		trimmed := strings.TrimSpace(*companyName)
		if trimmed == "" {
			return client.Client{}, fmt.Errorf("company_name cannot be empty")
		}
		c.CompanyName = trimmed
	}
	if contactEmail != nil {
		c.ContactEmail = strings.TrimSpace(*contactEmail)
	}
	if tier != nil {
		if _, ok := tierRateLimits[*tier]; !ok {
			return client.Client{}, fmt.Errorf("unknown tier %q", *tier)
		}
		c.Tier = *tier
	}
	if active != nil {
		c.Active = *active
	}
	if rateLimit != nil {
		if *rateLimit <= 0 {
			return client.Client{}, fmt.Errorf("rate_limit_per_second must be positive")
		}
		c.RateLimitPerSecond = *rateLimit
	}
	return s.clients.UpdateClient(ctx, c)
}

// TopUp adds credits to a client balance and records the ledger entry.
func (s *Service) TopUp(ctx context.Context, id string, amount int, reference string) (client.Client, client.Transaction, error) {
	if amount <= 0 {
		return client.Client{}, client.Transaction{}, fmt.Errorf("amount must be positive")
	}
	c, tx, err := s.clients.CreditCredits(ctx, id, amount, "top_up", reference)
	if err != nil {
		return client.Client{}, client.Transaction{}, err
	}
	s.log.WithField("client_id", id).WithField("amount", amount).Info("credits topped up")
	return c, tx, nil
}

// Transactions lists the newest ledger rows for a client.
func (s *Service) Transactions(ctx context.Context, id string, limit int) ([]client.Transaction, error) {
	return s.clients.ListTransactions(ctx, id, limit)
}

// IssuedKey pairs a stored key with the plaintext material, which the caller
// sees exactly once.
type IssuedKey struct {
	Key      apikey.Key `json:"key"`
	PlainKey string     `json:"api_key"`
}

// IssueKey mints a new API key for the client. allowedEndpoints names the
// gateway endpoints the key may call; ttl of zero means no expiry.
func (s *Service) IssueKey(ctx context.Context, clientID, name string, allowedEndpoints []string, ttl time.Duration) (IssuedKey, error) {
	if _, err := s.clients.GetClient(ctx, clientID); err != nil {
		return IssuedKey{}, fmt.Errorf("client validation failed: %w", err)
	}

	plain, err := generateKeyMaterial()
	if err != nil {
		return IssuedKey{}, err
	}

	k := apikey.Key{
		ClientID:         clientID,
		Name:             strings.TrimSpace(name),
		Prefix:           plain[:apikey.PrefixLength],
		Hash:             HashKey(plain),
		Active:           true,
		AllowedEndpoints: normalizeEndpoints(allowedEndpoints),
	}
	if ttl > 0 {
		expires := time.Now().UTC().Add(ttl)
		k.ExpiresAt = &expires
	}

	k, err = s.keys.CreateAPIKey(ctx, k)
	if err != nil {
		return IssuedKey{}, err
	}
	s.log.WithField("client_id", clientID).WithField("key_id", k.ID).Info("api key issued")
	return IssuedKey{Key: k, PlainKey: plain}, nil
}

// ListKeys lists keys for a client.
func (s *Service) ListKeys(ctx context.Context, clientID string) ([]apikey.Key, error) {
	return s.keys.ListAPIKeys(ctx, clientID)
}

// RevokeKey deactivates a key. Revocation is permanent; issue a new key
// instead of reactivating.
func (s *Service) RevokeKey(ctx context.Context, clientID, keyID string) (apikey.Key, error) {
	k, err := s.keys.GetAPIKey(ctx, keyID)
	if err != nil {
		return apikey.Key{}, err
	}
	if k.ClientID != clientID {
		return apikey.Key{}, storage.ErrNotFound
	}
	k.Active = false
	k, err = s.keys.UpdateAPIKey(ctx, k)
	if err != nil {
		return apikey.Key{}, err
	}
	s.log.WithField("key_id", keyID).Info("api key revoked")
	return k, nil
}

// HashKey returns the hex SHA-256 digest stored for key comparison.
func HashKey(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return hex.EncodeToString(sum[:])
}

// generateKeyMaterial returns a 64-char hex key; the first PrefixLength
// characters double as the indexed lookup prefix.
func generateKeyMaterial() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func normalizeEndpoints(endpoints []string) []string {
	seen := make(map[string]bool, len(endpoints))
	var out []string
	for _, e := range endpoints {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" || seen[e] {
			continue
		}
		seen[e] = true
		out = append(out, e)
	}
	return out
}
