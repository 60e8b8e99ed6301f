package app

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/estatelink/marketplace/internal/app/gateway"
	clientsvc "github.com/estatelink/marketplace/internal/app/services/clients"
	insightsvc "github.com/estatelink/marketplace/internal/app/services/insights"
	leadsvc "github.com/estatelink/marketplace/internal/app/services/leads"
	valuationsvc "github.com/estatelink/marketplace/internal/app/services/valuations"
	"github.com/estatelink/marketplace/internal/app/storage"
	"github.com/estatelink/marketplace/internal/app/storage/memory"
	"github.com/estatelink/marketplace/internal/app/system"
	"github.com/estatelink/marketplace/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Clients    storage.ClientStore
	APIKeys    storage.APIKeyStore
	Leads      storage.LeadStore
	Insights   storage.InsightStore
	Valuations storage.ValuationStore
	Usage      storage.UsageStore
}

// Options tunes application construction.
type Options struct {
	// InsightsSchedule overrides the refresher cron spec. Falls back to the
	// INSIGHTS_REFRESH_SCHEDULE environment variable, then the default.
	InsightsSchedule string
}

// Application ties the domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Stores Stores

	Clients    *clientsvc.Service
	Leads      *leadsvc.Service
	Insights   *insightsvc.Service
	Valuations *valuationsvc.Service

	Gateway  *gateway.Handler
	Recorder *gateway.Recorder
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, log *logger.Logger) (*Application, error) {
	return NewWithOptions(stores, Options{}, log)
}

// NewWithOptions is New with explicit tuning.
func NewWithOptions(stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Clients == nil {
		stores.Clients = mem
	}
	if stores.APIKeys == nil {
		stores.APIKeys = mem
	}
	if stores.Leads == nil {
		stores.Leads = mem
	}
	if stores.Insights == nil {
		stores.Insights = mem
	}
	if stores.Valuations == nil {
		stores.Valuations = mem
	}
	if stores.Usage == nil {
		stores.Usage = mem
	}

	manager := system.NewManager()

	clientService := clientsvc.New(stores.Clients, stores.APIKeys, log)
	leadService := leadsvc.New(stores.Leads, log)
	insightService := insightsvc.New(stores.Insights, stores.Leads, log)
	valuationService := valuationsvc.New(stores.Valuations, log)

	recorder := gateway.NewRecorder(stores.Usage, stores.APIKeys, log)
	if err := manager.Register(recorder); err != nil {
		return nil, fmt.Errorf("register usage recorder: %w", err)
	}

	schedule := strings.TrimSpace(opts.InsightsSchedule)
	if schedule == "" {
		schedule = strings.TrimSpace(os.Getenv("INSIGHTS_REFRESH_SCHEDULE"))
	}
	if schedule == "" {
		schedule = insightsvc.DefaultSchedule
	}
	refresher := insightsvc.NewRefresher(insightService, schedule, log)
	if err := manager.Register(refresher); err != nil {
		return nil, fmt.Errorf("register insights refresher: %w", err)
	}

	gw := gateway.New(stores.Clients, stores.APIKeys, leadService, insightService, valuationService, recorder, log)

	return &Application{
		manager:    manager,
		log:        log,
		Stores:     stores,
		Clients:    clientService,
		Leads:      leadService,
		Insights:   insightService,
		Valuations: valuationService,
		Gateway:    gw,
		Recorder:   recorder,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
