// Package leads manages marketplace leads and their sale.
package leads

import (
	"context"
	"fmt"
	"strings"

	"github.com/estatelink/marketplace/internal/app/domain/client"
	"github.com/estatelink/marketplace/internal/app/domain/lead"
	"github.com/estatelink/marketplace/internal/app/metrics"
	"github.com/estatelink/marketplace/internal/app/storage"
	"github.com/estatelink/marketplace/pkg/logger"
)

// Lead purchase pricing: high-score leads cost more.
const (
	HighScoreThreshold = 70
	HighScorePrice     = 25
	BaseLeadPrice      = 10
)

// PriceFor returns the credit price for purchasing a lead with the given
// score.
func PriceFor(score int) int {
	if score >= HighScoreThreshold {
		return HighScorePrice
	}
	return BaseLeadPrice
}

// Service manages leads.
type Service struct {
	store storage.LeadStore
	log   *logger.Logger
}

// New constructs a lead service.
func New(store storage.LeadStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("leads")
	}
	return &Service{store: store, log: log}
}

// Create registers a new lead. Scores are clamped to 0-100.
func (s *Service) Create(ctx context.Context, l lead.Lead) (lead.Lead, error) {
	l.Source = strings.TrimSpace(l.Source)
	l.Location = strings.TrimSpace(l.Location)
	if l.Location == "" {
		return lead.Lead{}, fmt.Errorf("location is required")
	}
	if l.Score < 0 {
		l.Score = 0
	}
	if l.Score > 100 {
		l.Score = 100
	}
	l.IsSold = false
	l.SoldTo = ""
	l.SoldPrice = 0
	l.SoldAt = nil

	l, err := s.store.CreateLead(ctx, l)
	if err != nil {
		return lead.Lead{}, err
	}
	s.log.WithField("lead_id", l.ID).WithField("location", l.Location).Debug("lead created")
	return l, nil
}

// Get returns a lead by ID.
func (s *Service) Get(ctx context.Context, id string) (lead.Lead, error) {
	return s.store.GetLead(ctx, id)
}

// ListAvailable returns up to limit unsold leads, highest score first.
func (s *Service) ListAvailable(ctx context.Context, limit int) ([]lead.Lead, error) {
	return s.store.ListAvailableLeads(ctx, limit)
}

// Purchase sells the lead to the client at its score-dependent price. The
// underlying store performs the claim, snapshot, debit, and ledger append as
// one unit.
func (s *Service) Purchase(ctx context.Context, leadID, clientID string) (lead.Lead, lead.Purchase, client.Client, error) {
	l, err := s.store.GetLead(ctx, leadID)
	if err != nil || l.IsSold {
		return lead.Lead{}, lead.Purchase{}, client.Client{}, storage.ErrLeadNotAvailable
	}

	price := PriceFor(l.Score)
	sold, purchase, buyer, err := s.store.PurchaseLead(ctx, leadID, clientID, price)
	if err != nil {
		return lead.Lead{}, lead.Purchase{}, client.Client{}, err
	}

	metrics.RecordLeadSold()
	s.log.WithFields(map[string]interface{}{
		"lead_id":   leadID,
		"client_id": clientID,
		"price":     price,
	}).Info("lead sold")
	return sold, purchase, buyer, nil
}

// Purchases lists a client's purchases, newest first.
func (s *Service) Purchases(ctx context.Context, clientID string, limit int) ([]lead.Purchase, error) {
	return s.store.ListPurchases(ctx, clientID, limit)
}
