// Package usage defines the per-call audit record written for every
// authenticated gateway request.
package usage

import "time"

// Record is one gateway call outcome. Exactly one record is written per
// authenticated request, successful or not.
type Record struct {
	ID          string            `json:"id"`
	ClientID    string            `json:"client_id"`
	APIKeyID    string            `json:"api_key_id"`
	Endpoint    string            `json:"endpoint"`
	Method      string            `json:"method"`
	Params      map[string]string `json:"params,omitempty"`
	Status      int               `json:"status"`
	CreditsUsed int               `json:"credits_used"`
	LatencyMS   int64             `json:"latency_ms"`
	RemoteAddr  string            `json:"remote_addr,omitempty"`
	UserAgent   string            `json:"user_agent,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}
