// Command gateway runs the marketplace: the credit-metered B2B API on one
// port and the back-office admin API with metrics on another.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"

	app "github.com/estatelink/marketplace/internal/app"
	"github.com/estatelink/marketplace/internal/app/httpapi"
	"github.com/estatelink/marketplace/internal/app/metrics"
	"github.com/estatelink/marketplace/internal/app/storage"
	"github.com/estatelink/marketplace/internal/app/storage/postgres"
	supastore "github.com/estatelink/marketplace/internal/app/storage/supabase"
	"github.com/estatelink/marketplace/internal/config"
	"github.com/estatelink/marketplace/pkg/logger"
	sbclient "github.com/estatelink/marketplace/supabase/client"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "gateway:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := logger.New("gateway", cfg.Logging.Level)

	stores, cleanup, err := buildStores(cfg, log)
	if err != nil {
		return err
	}
	if cleanup != nil {
		defer cleanup()
	}

	application, err := app.NewWithOptions(stores, app.Options{
		InsightsSchedule: cfg.Insights.RefreshSchedule,
	}, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}

	adminHandler, err := httpapi.NewHandler(application, httpapi.Options{
		AuditLogPath: cfg.Gateway.AuditLogPath,
	})
	if err != nil {
		return err
	}

	secret := []byte(cfg.Auth.JWTSecret)
	if len(secret) == 0 {
		log.Warn("ADMIN_JWT_SECRET not set; admin API runs unauthenticated")
	}

	public := mux.NewRouter()
	public.Use(corsMiddleware(cfg.Origins()))
	public.PathPrefix("/api/b2b").Handler(application.Gateway)
	public.HandleFunc("/healthz", healthHandler)

	admin := mux.NewRouter()
	admin.HandleFunc("/healthz", healthHandler)
	admin.Handle("/metrics", metrics.Handler())
	admin.HandleFunc("/admin/login", loginHandler(secret, cfg.Auth.BootstrapUser, cfg.Auth.BootstrapPassword))
	adminAPI := admin.PathPrefix("/admin").Subrouter()
	adminAPI.Use(adminAuth(secret))
	adminAPI.PathPrefix("/").Handler(http.StripPrefix("/admin", adminHandler))

	publicSrv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           metrics.InstrumentHandler(public),
		ReadHeaderTimeout: 10 * time.Second,
	}
	adminSrv := &http.Server{
		Addr:              cfg.Server.AdminAddr,
		Handler:           admin,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		log.WithField("addr", cfg.Server.Addr).Info("b2b gateway listening")
		errCh <- publicSrv.ListenAndServe()
	}()
	go func() {
		log.WithField("addr", cfg.Server.AdminAddr).Info("admin api listening")
		errCh <- adminSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	_ = publicSrv.Shutdown(shutdownCtx)
	_ = adminSrv.Shutdown(shutdownCtx)
	if err := application.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("service shutdown reported errors")
	}
	return nil
}

// buildStores selects the storage backend from configuration.
func buildStores(cfg *config.Config, log *logger.Logger) (app.Stores, func(), error) {
	switch cfg.Storage.Backend {
	case "postgres":
		db, err := sql.Open("postgres", cfg.Storage.DatabaseURL)
		if err != nil {
			return app.Stores{}, nil, fmt.Errorf("open postgres: %w", err)
		}
		db.SetMaxOpenConns(20)
		db.SetConnMaxLifetime(time.Hour)

		store := postgres.New(db)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := store.Bootstrap(ctx); err != nil {
			db.Close()
			return app.Stores{}, nil, fmt.Errorf("bootstrap schema: %w", err)
		}

		log.Info("using postgres storage")
		return storesFrom(store), func() { db.Close() }, nil

	case "supabase":
		sc, err := sbclient.New(sbclient.Config{
			URL:    cfg.Storage.SupabaseURL,
			APIKey: cfg.Storage.SupabaseKey,
			Schema: cfg.Storage.SupabaseSchema,
		})
		if err != nil {
			return app.Stores{}, nil, fmt.Errorf("supabase client: %w", err)
		}

		log.Info("using supabase storage")
		return storesFrom(supastore.New(sc)), nil, nil

	default:
		log.Warn("using in-memory storage; data is lost on restart")
		return app.Stores{}, nil, nil
	}
}

// combinedStore is a backend implementing every storage interface.
type combinedStore interface {
	storage.ClientStore
	storage.APIKeyStore
	storage.LeadStore
	storage.InsightStore
	storage.ValuationStore
	storage.UsageStore
}

// storesFrom fans one combined backend out to every store dependency.
func storesFrom(store combinedStore) app.Stores {
	return app.Stores{
		Clients:    store,
		APIKeys:    store,
		Leads:      store,
		Insights:   store,
		Valuations: store,
		Usage:      store,
	}
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"healthy","time":%q}`, time.Now().UTC().Format(time.RFC3339))
}
