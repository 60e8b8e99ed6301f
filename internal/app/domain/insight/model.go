// Package insight defines per-region market aggregates served by the
// insights endpoint.
package insight

import "time"

// Insight is one region's market snapshot for a period. Period is formatted
// YYYY-MM; (Region, Period) pairs are unique.
type Insight struct {
	ID             string    `json:"id"`
	Region         string    `json:"region"`
	MedianPrice    int       `json:"median_price"`
	PriceTrendPct  float64   `json:"price_trend_pct"`
	DemandScore    int       `json:"demand_score"`
	AvailableLeads int       `json:"available_leads"`
	Period         string    `json:"period"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
