// Command seed loads demo data into the configured storage backend: a few
// clients with API keys and credits, a lead inventory, market insights, and
// valuations. Intended for local development and staging environments.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	app "github.com/estatelink/marketplace/internal/app"
	"github.com/estatelink/marketplace/internal/app/domain/client"
	"github.com/estatelink/marketplace/internal/app/domain/insight"
	"github.com/estatelink/marketplace/internal/app/domain/lead"
	"github.com/estatelink/marketplace/internal/app/domain/valuation"
	"github.com/estatelink/marketplace/internal/app/storage/postgres"
	supastore "github.com/estatelink/marketplace/internal/app/storage/supabase"
	"github.com/estatelink/marketplace/internal/config"
	"github.com/estatelink/marketplace/pkg/logger"
	sbclient "github.com/estatelink/marketplace/supabase/client"
)

func main() {
	envFile := flag.String("env", ".env", "path to env file with storage settings")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil {
		log.Printf("no env file loaded (%s): %v", *envFile, err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.Storage.Backend == "memory" {
		log.Fatalf("seeding the memory backend is pointless; set STORAGE_BACKEND to postgres or supabase")
	}

	logg := logger.New("seed", cfg.Logging.Level)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	stores, cleanup, err := openStores(ctx, cfg)
	if err != nil {
		log.Fatalf("open stores: %v", err)
	}
	if cleanup != nil {
		defer cleanup()
	}

	application, err := app.New(stores, logg)
	if err != nil {
		log.Fatalf("build application: %v", err)
	}

	if err := seed(ctx, application); err != nil {
		log.Fatalf("seed: %v", err)
	}
	log.Println("demo data loaded")
}

func openStores(ctx context.Context, cfg *config.Config) (app.Stores, func(), error) {
	switch cfg.Storage.Backend {
	case "postgres":
		db, err := sql.Open("postgres", cfg.Storage.DatabaseURL)
		if err != nil {
			return app.Stores{}, nil, fmt.Errorf("open postgres: %w", err)
		}
		store := postgres.New(db)
		if err := store.Bootstrap(ctx); err != nil {
			db.Close()
			return app.Stores{}, nil, fmt.Errorf("bootstrap schema: %w", err)
		}
		return app.Stores{
			Clients: store, APIKeys: store, Leads: store,
			Insights: store, Valuations: store, Usage: store,
		}, func() { db.Close() }, nil

	case "supabase":
		sc, err := sbclient.New(sbclient.Config{
			URL:    cfg.Storage.SupabaseURL,
			APIKey: cfg.Storage.SupabaseKey,
			Schema: cfg.Storage.SupabaseSchema,
		})
		if err != nil {
			return app.Stores{}, nil, fmt.Errorf("supabase client: %w", err)
		}
		store := supastore.New(sc)
		return app.Stores{
			Clients: store, APIKeys: store, Leads: store,
			Insights: store, Valuations: store, Usage: store,
		}, nil, nil

	default:
		return app.Stores{}, nil, fmt.Errorf("unsupported backend %q", cfg.Storage.Backend)
	}
}

func seed(ctx context.Context, application *app.Application) error {
	demoClients := []struct {
		company string
		email   string
		tier    client.Tier
		credits int
		keyName string
		allowed []string
	}{
		{"Skyline Brokers", "api@skyline.example", client.TierEnterprise, 500, "production",
			[]string{"leads", "insights", "demographics", "valuations", "purchase-lead"}},
		{"Hearth Realty", "dev@hearth.example", client.TierGrowth, 150, "staging",
			[]string{"leads", "insights", "purchase-lead"}},
		{"Corner Lot LLC", "hello@cornerlot.example", client.TierStarter, 25, "trial",
			[]string{"leads"}},
	}

	for _, d := range demoClients {
		c, err := application.Clients.Create(ctx, d.company, d.email, d.tier)
		if err != nil {
			return fmt.Errorf("create client %s: %w", d.company, err)
		}
		if _, _, err := application.Clients.TopUp(ctx, c.ID, d.credits, "seed"); err != nil {
			return fmt.Errorf("top up %s: %w", d.company, err)
		}
		issued, err := application.Clients.IssueKey(ctx, c.ID, d.keyName, d.allowed, 0)
		if err != nil {
			return fmt.Errorf("issue key for %s: %w", d.company, err)
		}
		log.Printf("%s: client %s api key %s", d.company, c.ID, issued.PlainKey)
	}

	demoLeads := []lead.Lead{
		{Source: "webform", PropertyType: "single_family", Location: "Austin, TX", Intent: "buy", Score: 92,
			ContactName: "Dana Reyes", ContactEmail: "dana@example.net", ContactPhone: "555-0101"},
		{Source: "referral", PropertyType: "condo", Location: "Austin, TX", Intent: "sell", Score: 74,
			ContactName: "Miles Chu", ContactEmail: "miles@example.net", ContactPhone: "555-0102"},
		{Source: "webform", PropertyType: "townhouse", Location: "Denver, CO", Intent: "buy", Score: 61,
			ContactName: "Priya Nair", ContactEmail: "priya@example.net", ContactPhone: "555-0103"},
		{Source: "import", PropertyType: "single_family", Location: "Denver, CO", Intent: "buy", Score: 45,
			ContactName: "Sam Ortiz", ContactEmail: "sam@example.net", ContactPhone: "555-0104"},
	}
	for i, l := range demoLeads {
		if _, err := application.Leads.Create(ctx, l); err != nil {
			return fmt.Errorf("create lead %d: %w", i, err)
		}
	}

	demoInsights := []insight.Insight{
		{Region: "Austin, TX", MedianPrice: 540000, PriceTrendPct: 3.2, DemandScore: 83, AvailableLeads: 2, Period: "2026-08"},
		{Region: "Denver, CO", MedianPrice: 610000, PriceTrendPct: -1.1, DemandScore: 53, AvailableLeads: 2, Period: "2026-08"},
	}
	for _, in := range demoInsights {
		if _, err := application.Insights.Record(ctx, in); err != nil {
			return fmt.Errorf("record insight %s: %w", in.Region, err)
		}
	}

	demoValuations := []valuation.Valuation{
		{PropertyID: "P1", EstimatedValue: 455000, Confidence: 0.82, Method: "comparables"},
		{PropertyID: "P2", EstimatedValue: 612000, Confidence: 0.67, Method: "hedonic"},
	}
	for _, v := range demoValuations {
		if _, err := application.Valuations.Record(ctx, v); err != nil {
			return fmt.Errorf("record valuation %s: %w", v.PropertyID, err)
		}
	}

	return nil
}
