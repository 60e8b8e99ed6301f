// Package client defines the B2B client account model and its credit ledger.
package client

import "time"

// Tier is a client's subscription tier. Tiers control default rate limits;
// credits are bought separately.
type Tier string

const (
	TierStarter    Tier = "starter"
	TierGrowth     Tier = "growth"
	TierEnterprise Tier = "enterprise"
)

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	switch t {
	case TierStarter, TierGrowth, TierEnterprise:
		return true
	}
	return false
}

// Client is a B2B consumer of the gateway. CreditsBalance is the spendable
// balance; LifetimeCreditsUsed only ever grows.
type Client struct {
	ID                  string    `json:"id"`
	CompanyName         string    `json:"company_name"`
	ContactEmail        string    `json:"contact_email"`
	Tier                Tier      `json:"tier"`
	Active              bool      `json:"active"`
	CreditsBalance      int       `json:"credits_balance"`
	LifetimeCreditsUsed int       `json:"lifetime_credits_used"`
	RateLimitPerSecond  int       `json:"rate_limit_per_second"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// Transaction is one entry in a client's credit ledger. Delta is negative for
// debits and positive for top-ups; BalanceAfter is the balance once the delta
// was applied.
type Transaction struct {
	ID           string    `json:"id"`
	ClientID     string    `json:"client_id"`
	Delta        int       `json:"delta"`
	BalanceAfter int       `json:"balance_after"`
	Reason       string    `json:"reason"`
	Reference    string    `json:"reference,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
