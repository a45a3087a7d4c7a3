// The worker runs the durable pipeline: it consumes events from the
// queue, hosts every stage handler (qualification through learning),
// and drives the cron schedules for ingestion, orchestration ticks,
// and the nightly learning cycle. Webhook ingress lives in cmd/server;
// both processes share the same StateStore and event queue, so any
// number of workers can run side by side.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/salesloop/internal/attribution"
	"github.com/ignite/salesloop/internal/config"
	"github.com/ignite/salesloop/internal/eventbus"
	"github.com/ignite/salesloop/internal/generator"
	"github.com/ignite/salesloop/internal/ingestor"
	"github.com/ignite/salesloop/internal/learning"
	"github.com/ignite/salesloop/internal/orchestrator"
	"github.com/ignite/salesloop/internal/pkg/logger"
	"github.com/ignite/salesloop/internal/providers"
	"github.com/ignite/salesloop/internal/providers/llm"
	"github.com/ignite/salesloop/internal/providers/notifier"
	"github.com/ignite/salesloop/internal/qualification"
	"github.com/ignite/salesloop/internal/repository/postgres"
	"github.com/ignite/salesloop/internal/research"
	"github.com/ignite/salesloop/internal/reviewer"
	"github.com/ignite/salesloop/internal/webhook"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		logger.Error("worker: load config failed", "path", *configPath, "error", err.Error())
		os.Exit(1)
	}

	db, err := openDB(cfg.StateStore)
	if err != nil {
		logger.Error("worker: database connect failed", "error", err.Error())
		os.Exit(1)
	}
	defer db.Close()

	var redisClient *redis.Client
	if cfg.EventBus.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.EventBus.RedisAddr})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Error("worker: redis connect failed", "addr", cfg.EventBus.RedisAddr, "error", err.Error())
			os.Exit(1)
		}
		defer redisClient.Close()
	}

	ctx := context.Background()
	model, err := llm.NewBedrock(ctx, cfg.Providers.Bedrock.Region, cfg.Providers.Bedrock.ModelID)
	if err != nil {
		logger.Error("worker: bedrock init failed", "error", err.Error())
		os.Exit(1)
	}

	notify, err := buildNotifier(ctx, cfg.Providers.Notifier)
	if err != nil {
		logger.Error("worker: notifier init failed", "error", err.Error())
		os.Exit(1)
	}

	registry := providers.New(cfg.Providers, model, notify)

	campaignRepo := postgres.NewCampaignRepo(db)
	leadRepo := postgres.NewLeadRepo(db)
	researchRepo := postgres.NewResearchRepo(db)
	sequenceRepo := postgres.NewSequenceRepo(db)
	orchestrationRepo := postgres.NewOrchestrationRepo(db)
	outreachRepo := postgres.NewOutreachRepo(db)
	engagementRepo := postgres.NewEngagementRepo(db)
	perfRepo := postgres.NewPerformanceRepo(db)
	patternRepo := postgres.NewPatternRepo(db)
	ragRepo := postgres.NewRAGRepo(db)
	baselineRepo := postgres.NewBaselineRepo(db)
	promptRepo := postgres.NewPromptRepo(db)

	bus := eventbus.New(db, redisClient, eventbus.Config{
		LockTTL:     cfg.EventBus.LockTTL(),
		BackoffBase: cfg.EventBus.BackoffBase(),
		MaxRetries:  cfg.EventBus.Retries(),
	})

	router := &tenantRouter{tenants: campaignRepo, registry: registry}

	ingestSvc := ingestor.NewService(campaignRepo, leadRepo, ingestor.NewRESTFetcher(cfg.Providers.Enrichment.Timeout()), registry.ProspectSearch(), bus, cfg.Ingestion)
	qualSvc := qualification.NewService(leadRepo, campaignRepo, bus, model)
	researchSvc := research.NewService(leadRepo, campaignRepo, researchRepo, registry.Enrichment(), bus)
	genSvc := generator.NewService(leadRepo, campaignRepo, researchRepo, ragRepo, sequenceRepo, promptRepo, registry.Notifier(), model, bus)
	reviewSvc := reviewer.NewService(leadRepo, sequenceRepo, registry.Notifier(), model, bus)
	attrSvc := attribution.NewService(outreachRepo, engagementRepo)
	orchSvc := orchestrator.NewService(orchestrationRepo, orchestrationRepo, leadRepo, sequenceRepo, registry.Notifier(), router, attrSvc, bus)
	learnSvc := learning.NewService(perfRepo, patternRepo, ragRepo, promptRepo, baselineRepo, model)

	bus.On(ingestor.EventManualIngest, ingestSvc.HandleManualIngest)
	bus.On(ingestor.EventLeadIngested, qualSvc.Handler)
	bus.On(qualification.EventLeadQualified, researchSvc.Handler)
	bus.On(research.EventResearchCompleted, genSvc.Handler)
	bus.On(generator.EventSequenceDrafted, reviewSvc.Handler)
	bus.On(generator.EventSequenceRevisionNeeded, genSvc.HandleRevision)
	bus.On(generator.EventSequenceRevisionComplete, func(ctx context.Context, _ *eventbus.StepContext, ev eventbus.Event) error {
		logger.Info("sequence revision complete", "tenant_id", ev.TenantID, "key", ev.Key)
		return nil
	})
	bus.On(reviewer.EventSequenceApproved, orchSvc.HandleApproved)
	bus.On(orchestrator.EventEngagementReceived, orchSvc.HandleEngagement)
	bus.On(orchestrator.EventOrchestrationTick, orchSvc.HandleTickEvent)
	bus.On(learning.EventAnalyzeRequested, learnSvc.Handler)
	webhook.NewConsumer(attrSvc, bus).RegisterHandlers()

	bus.Cron("ingest", 24*time.Hour, ingestSvc.RunCron)
	bus.Cron("orchestration-tick", 5*time.Minute, func(ctx context.Context) error {
		runnable, err := orchestrationRepo.ListRunnable(ctx)
		if err != nil {
			return err
		}
		for _, st := range runnable {
			if _, err := bus.Emit(ctx, orchestrator.EventOrchestrationTick, st.TenantID, st.LeadID, orchestrator.TickPayload{LeadID: st.LeadID}); err != nil {
				logger.Error("worker: enqueue tick failed", "lead_id", st.LeadID, "error", err.Error())
			}
		}
		return nil
	})
	bus.Cron("learning", cfg.Learning.Interval(), func(ctx context.Context) error {
		tenants, err := campaignRepo.ListTenantIDs(ctx)
		if err != nil {
			return err
		}
		for _, tenantID := range tenants {
			if _, err := bus.Emit(ctx, learning.EventAnalyzeRequested, tenantID, "learning:"+tenantID, learning.AnalyzeRequestedPayload{TenantID: tenantID}); err != nil {
				logger.Error("worker: enqueue learning cycle failed", "tenant_id", tenantID, "error", err.Error())
			}
		}
		return nil
	})

	bus.Start()
	logger.Info("worker: pipeline running", "redis", cfg.EventBus.RedisAddr != "")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("worker: shutting down")
	bus.Stop()
	time.Sleep(2 * time.Second) // let in-flight handlers finish their current step
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

func buildNotifier(ctx context.Context, cfg config.NotifierConfig) (notifier.Notifier, error) {
	if cfg.Kind == "ses" {
		return notifier.NewSESNotifier(ctx, cfg.Region, cfg.FromEmail, cfg.ToEmail)
	}
	return notifier.NewWebhookNotifier(cfg.WebhookURL), nil
}

// tenantRouter resolves a tenant's stored provider-name selection to a
// concrete adapter via the registry, satisfying
// orchestrator.ProviderResolver. Selection lives in the Tenant row, so
// two tenants on different vendors share one worker process.
type tenantRouter struct {
	tenants  *postgres.CampaignRepo
	registry *providers.Registry
}

func (t *tenantRouter) EmailSenderFor(ctx context.Context, tenantID string) (orchestrator.EmailSender, error) {
	tenant, err := t.tenants.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return t.registry.EmailSender(tenant.ActiveEmailProvider)
}

func (t *tenantRouter) LinkedInSenderFor(ctx context.Context, tenantID string) (orchestrator.LinkedInSender, error) {
	tenant, err := t.tenants.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return t.registry.LinkedInAutomation(tenant.ActiveLinkedInProvider)
}
