// Package apikey defines the API key model used to authenticate gateway
// calls. Only a SHA-256 hash of the key material is stored; the plaintext is
// shown to the caller once at issue time.
package apikey

import "time"

// PrefixLength is the number of leading key characters stored in clear for
// indexed lookup.
const PrefixLength = 8

// Key is an issued API key. Hash is never serialized.
type Key struct {
	ID       string `json:"id"`
	ClientID string `json:"client_id"`
	Name     string `json:"name"`
	Prefix   string `json:"prefix"`
	Hash     string `json:"-"`
	Active   bool   `json:"active"`
	// AllowedEndpoints lists the gateway endpoints this key may call. The
	// free info endpoint is always reachable and is not listed.
	AllowedEndpoints []string   `json:"allowed_endpoints"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
	LastUsedAt       *time.Time `json:"last_used_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Expired reports whether the key's expiry, if set, has passed.
func (k Key) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && now.After(*k.ExpiresAt)
}

// Allows reports whether the key is entitled to call the named endpoint.
func (k Key) Allows(endpoint string) bool {
	for _, e := range k.AllowedEndpoints {
		if e == endpoint {
			return true
		}
	}
	return false
}
