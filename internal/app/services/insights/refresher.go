package insights

import (
	"context"

	"github.com/robfig/cron/v3"

	"github.com/estatelink/marketplace/internal/app/system"
	"github.com/estatelink/marketplace/pkg/logger"
)

var _ system.Service = (*Refresher)(nil)

// DefaultSchedule refreshes insights every ten minutes.
const DefaultSchedule = "@every 10m"

// Refresher recomputes market insights on a cron schedule.
type Refresher struct {
	service  *Service
	log      *logger.Logger
	schedule string
	cron     *cron.Cron
}

// NewRefresher creates a lifecycle-managed insight refresher.
func NewRefresher(service *Service, schedule string, log *logger.Logger) *Refresher {
	if log == nil {
		log = logger.NewDefault("insights-refresher")
	}
	if schedule == "" {
		schedule = DefaultSchedule
	}
	return &Refresher{
		service:  service,
		log:      log,
		schedule: schedule,
	}
}

func (r *Refresher) Name() string { return "insights-refresher" }

func (r *Refresher) Start(ctx context.Context) error {
	c := cron.New()
	_, err := c.AddFunc(r.schedule, func() {
		if err := r.service.Refresh(context.Background()); err != nil {
			r.log.WithError(err).Warn("insight refresh failed")
		}
	})
	if err != nil {
		return err
	}
	r.cron = c
	c.Start()

	// Populate immediately so fresh deployments serve data before the first
	// scheduled run.
	if err := r.service.Refresh(ctx); err != nil {
		r.log.WithError(err).Warn("initial insight refresh failed")
	}

	r.log.WithField("schedule", r.schedule).Info("insight refresher started")
	return nil
}

func (r *Refresher) Stop(ctx context.Context) error {
	if r.cron == nil {
		return nil
	}
	stopCtx := r.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}
	return nil
}
