// Package valuation defines property value estimates served by the
// valuations endpoint.
package valuation

import "time"

// Valuation is one estimate for a property. The gateway serves the newest
// estimate per property.
type Valuation struct {
	ID             string    `json:"id"`
	PropertyID     string    `json:"property_id"`
	EstimatedValue int       `json:"estimated_value"`
	// Confidence is the model's confidence in the estimate, 0-1.
	Confidence float64 `json:"confidence"`
	// Method names how the estimate was produced, e.g. "comparables".
	Method    string    `json:"method"`
	CreatedAt time.Time `json:"created_at"`
}
