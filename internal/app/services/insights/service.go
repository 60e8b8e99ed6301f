// Package insights manages market insight aggregates and their periodic
// refresh from lead inventory.
package insights

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/estatelink/marketplace/internal/app/domain/insight"
	"github.com/estatelink/marketplace/internal/app/storage"
	"github.com/estatelink/marketplace/pkg/logger"
)

// Service manages market insights.
type Service struct {
	store storage.InsightStore
	leads storage.LeadStore
	log   *logger.Logger
}

// New constructs an insight service. leads may be nil when the refresher is
// not used.
func New(store storage.InsightStore, leads storage.LeadStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("insights")
	}
	return &Service{store: store, leads: leads, log: log}
}

// Record upserts an insight row for its (region, period).
func (s *Service) Record(ctx context.Context, in insight.Insight) (insight.Insight, error) {
	in.Region = strings.TrimSpace(in.Region)
	if in.Region == "" {
		return insight.Insight{}, fmt.Errorf("region is required")
	}
	if in.Period == "" {
		in.Period = currentPeriod(time.Now().UTC())
	}
	if in.DemandScore < 0 {
		in.DemandScore = 0
	}
	if in.DemandScore > 100 {
		in.DemandScore = 100
	}
	return s.store.UpsertInsight(ctx, in)
}

// Query returns insights whose region contains the given substring,
// case-insensitively. An empty region matches everything.
func (s *Service) Query(ctx context.Context, region string, limit int) ([]insight.Insight, error) {
	return s.store.ListInsightsByRegion(ctx, region, limit)
}

// Refresh recomputes per-region aggregates from the current unsold lead
// inventory and upserts one insight row per region for the current period.
func (s *Service) Refresh(ctx context.Context) error {
	if s.leads == nil {
		return fmt.Errorf("lead store not configured")
	}

	available, err := s.leads.ListAvailableLeads(ctx, 0)
	if err != nil {
		return fmt.Errorf("list available leads: %w", err)
	}

	type regionAgg struct {
		count      int
		scoreTotal int
	}
	agg := make(map[string]*regionAgg)
	for _, l := range available {
		region := strings.TrimSpace(l.Location)
		if region == "" {
			continue
		}
		a, ok := agg[region]
		if !ok {
			a = &regionAgg{}
			agg[region] = a
		}
		a.count++
		a.scoreTotal += l.Score
	}

	period := currentPeriod(time.Now().UTC())
	regions := make([]string, 0, len(agg))
	for region := range agg {
		regions = append(regions, region)
	}
	sort.Strings(regions)

	for _, region := range regions {
		a := agg[region]
		in := insight.Insight{
			Region:         region,
			DemandScore:    a.scoreTotal / a.count,
			AvailableLeads: a.count,
			Period:         period,
		}
		if _, err := s.store.UpsertInsight(ctx, in); err != nil {
			return fmt.Errorf("upsert insight for %s: %w", region, err)
		}
	}

	s.log.WithField("regions", len(regions)).Debug("insights refreshed")
	return nil
}

func currentPeriod(now time.Time) string {
	return now.Format("2006-01")
}
