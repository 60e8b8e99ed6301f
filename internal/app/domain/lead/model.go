// Package lead defines the marketplace lead inventory model. A lead's
// contact details are withheld from listings and revealed only to the client
// that buys it.
package lead

import "time"

// Lead is a sellable buyer or seller lead. Once IsSold is true the lead is
// immutable and cannot be purchased again.
type Lead struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	PropertyType string `json:"property_type"`
	Location     string `json:"location"`
	// Intent is what the contact wants to do, e.g. "buy" or "sell".
	Intent string `json:"intent"`
	// Score is the lead quality score, 0-100. Scores at or above the
	// high-score threshold command a premium price.
	Score int `json:"score"`

	ContactName  string `json:"contact_name,omitempty"`
	ContactEmail string `json:"contact_email,omitempty"`
	ContactPhone string `json:"contact_phone,omitempty"`

	IsSold    bool       `json:"is_sold"`
	SoldTo    string     `json:"sold_to,omitempty"`
	SoldPrice int        `json:"sold_price,omitempty"`
	SoldAt    *time.Time `json:"sold_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Listing is the public view of an unsold lead: everything except the
// contact details.
type Listing struct {
	ID           string    `json:"id"`
	Source       string    `json:"source"`
	PropertyType string    `json:"property_type"`
	Location     string    `json:"location"`
	Intent       string    `json:"intent"`
	Score        int       `json:"score"`
	CreatedAt    time.Time `json:"created_at"`
}

// PublicView strips the contact and sale fields for listing responses.
func (l Lead) PublicView() Listing {
	return Listing{
		ID:           l.ID,
		Source:       l.Source,
		PropertyType: l.PropertyType,
		Location:     l.Location,
		Intent:       l.Intent,
		Score:        l.Score,
		CreatedAt:    l.CreatedAt,
	}
}

// Purchase records a completed sale. Snapshot preserves the lead exactly as
// sold, contact details included, independent of later inventory changes.
type Purchase struct {
	ID        string    `json:"id"`
	LeadID    string    `json:"lead_id"`
	ClientID  string    `json:"client_id"`
	Price     int       `json:"price"`
	Snapshot  Lead      `json:"snapshot"`
	CreatedAt time.Time `json:"created_at"`
}
