// Package valuations manages property valuation records.
package valuations

import (
	"context"
	"fmt"
	"strings"

	"github.com/estatelink/marketplace/internal/app/domain/valuation"
	"github.com/estatelink/marketplace/internal/app/storage"
	"github.com/estatelink/marketplace/pkg/logger"
)

// Service manages valuations.
type Service struct {
	store storage.ValuationStore
	log   *logger.Logger
}

// New constructs a valuation service.
func New(store storage.ValuationStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("valuations")
	}
	return &Service{store: store, log: log}
}

// Record stores a new valuation for a property.
func (s *Service) Record(ctx context.Context, v valuation.Valuation) (valuation.Valuation, error) {
	v.PropertyID = strings.TrimSpace(v.PropertyID)
	if v.PropertyID == "" {
		return valuation.Valuation{}, fmt.Errorf("property_id is required")
	}
	if v.EstimatedValue <= 0 {
		return valuation.Valuation{}, fmt.Errorf("estimated_value must be positive")
	}
	if v.Confidence < 0 || v.Confidence > 1 {
		return valuation.Valuation{}, fmt.Errorf("confidence must be within [0,1]")
	}
	return s.store.CreateValuation(ctx, v)
}

// Latest returns the most recent valuation for the property, or
// storage.ErrNotFound when none exists.
func (s *Service) Latest(ctx context.Context, propertyID string) (valuation.Valuation, error) {
	propertyID = strings.TrimSpace(propertyID)
	if propertyID == "" {
		return valuation.Valuation{}, fmt.Errorf("property_id is required")
	}
	return s.store.LatestValuation(ctx, propertyID)
}
