// The server is the HTTP edge: provider webhook ingress plus the two
// operator triggers (manual campaign ingest, on-demand learning cycle).
// It holds no pipeline logic — every accepted request is reduced to an
// event on the durable queue and processed by cmd/worker.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	_ "github.com/lib/pq"

	"github.com/ignite/salesloop/internal/config"
	"github.com/ignite/salesloop/internal/eventbus"
	"github.com/ignite/salesloop/internal/ingestor"
	"github.com/ignite/salesloop/internal/learning"
	"github.com/ignite/salesloop/internal/pkg/httputil"
	"github.com/ignite/salesloop/internal/pkg/logger"
	"github.com/ignite/salesloop/internal/webhook"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		logger.Error("server: load config failed", "path", *configPath, "error", err.Error())
		os.Exit(1)
	}

	db, err := openDB(cfg.StateStore)
	if err != nil {
		logger.Error("server: database connect failed", "error", err.Error())
		os.Exit(1)
	}
	defer db.Close()

	// The server only emits; it never registers handlers or starts the
	// poll loop. The bus here is a typed front door to the event queue.
	bus := eventbus.New(db, nil, eventbus.Config{MaxRetries: cfg.EventBus.Retries()})

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Mount("/", webhook.NewHandler(bus).Routes())

	r.Post("/campaigns/{campaignID}/ingest", func(w http.ResponseWriter, req *http.Request) {
		campaignID := chi.URLParam(req, "campaignID")
		var body struct {
			TenantID string `json:"tenant_id"`
		}
		if !httputil.Decode(w, req, &body) {
			return
		}
		if body.TenantID == "" {
			httputil.BadRequest(w, "tenant_id is required")
			return
		}
		id, err := bus.Emit(req.Context(), ingestor.EventManualIngest, body.TenantID, campaignID,
			ingestor.ManualIngestPayload{CampaignID: campaignID})
		if err != nil {
			httputil.InternalError(w, err)
			return
		}
		httputil.Created(w, map[string]string{"event_id": id.String()})
	})

	r.Post("/tenants/{tenantID}/learning/analyze", func(w http.ResponseWriter, req *http.Request) {
		tenantID := chi.URLParam(req, "tenantID")
		id, err := bus.Emit(req.Context(), learning.EventAnalyzeRequested, tenantID, "learning:"+tenantID,
			learning.AnalyzeRequestedPayload{TenantID: tenantID})
		if err != nil {
			httputil.InternalError(w, err)
			return
		}
		httputil.Created(w, map[string]string{"event_id": id.String()})
	})

	addr := net.JoinHostPort(cfg.Server.GetHost(), fmt.Sprintf("%d", cfg.Server.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server: listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server: listen failed", "error", err.Error())
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("server: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server: shutdown failed", "error", err.Error())
	}
}

func openDB(cfg config.StateStoreConfig) (*sql.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("state_store.dsn is required")
	}
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return db, nil
}
