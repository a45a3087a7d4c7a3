// Package ingestor implements the cron/manual-triggered per-campaign
// pull dispatch (spec component C6, section 4.6). Grounded on the
// teacher's internal/engine.Ingestor: a classify-then-fan-out loop
// driven by a poll interval, generalized here from PMTA accounting
// records to heterogeneous DataSourceKind pulls (pixel/intent GET,
// Apollo search, CSV/manual no-op).
package ingestor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/salesloop/internal/config"
	"github.com/ignite/salesloop/internal/domain"
	ierrors "github.com/ignite/salesloop/internal/errors"
	"github.com/ignite/salesloop/internal/eventbus"
	"github.com/ignite/salesloop/internal/normalizer"
	"github.com/ignite/salesloop/internal/pkg/logger"
	"github.com/ignite/salesloop/internal/providers/enrichment"
	"github.com/ignite/salesloop/internal/scorer"
)

// EventLeadIngested is emitted once per accepted candidate. The
// qualification stage consumes it.
const EventLeadIngested = "lead.ingested"

// LeadIngestedPayload is EventLeadIngested's payload.
type LeadIngestedPayload struct {
	CampaignID  string               `json:"campaign_id"`
	LeadID      string               `json:"lead_id"`
	Source      domain.LeadSource    `json:"source"`
	IntentScore int                  `json:"intent_score"`
	IsNewLead   bool                 `json:"is_new_lead"`
}

// CampaignRepository is the slice of the StateStore the Ingestor needs.
type CampaignRepository interface {
	Get(ctx context.Context, tenantID, campaignID string) (*domain.Campaign, error)
	ListActiveCampaigns(ctx context.Context) ([]domain.Campaign, error)
	GetTenant(ctx context.Context, tenantID string) (*domain.Tenant, error)
	MarkIngested(ctx context.Context, campaignID string, at time.Time) error
}

// LeadRepository is the lead-upsert slice of the StateStore.
type LeadRepository interface {
	// UpsertLead creates or updates a lead by (tenantID, email), applying
	// the source-upgrade-only rule. Returns the stored lead and whether
	// it was newly created.
	UpsertLead(ctx context.Context, tenantID, campaignID string, n normalizer.NormalizedLead, source domain.LeadSource) (*domain.Lead, bool, error)
}

// Emitter is the narrow slice of eventbus.Bus the Ingestor needs.
type Emitter interface {
	Emit(ctx context.Context, eventType, tenantID, key string, payload any) (uuid.UUID, error)
}

// CandidateFetcher pulls raw candidate records from a pixel/intent
// data source described by a campaign's DataSourceConfig.
type CandidateFetcher interface {
	FetchCandidates(ctx context.Context, cfg map[string]any) ([]map[string]any, error)
}

// Service runs ingestion pulls.
type Service struct {
	campaigns CampaignRepository
	leads     LeadRepository
	fetcher   CandidateFetcher
	search    enrichment.ProspectSearch
	emitter   Emitter
	cfg       config.IngestionConfig
}

func NewService(campaigns CampaignRepository, leads LeadRepository, fetcher CandidateFetcher, search enrichment.ProspectSearch, emitter Emitter, cfg config.IngestionConfig) *Service {
	return &Service{campaigns: campaigns, leads: leads, fetcher: fetcher, search: search, emitter: emitter, cfg: cfg}
}

// EventManualIngest is the on-demand ingestion trigger carrying a
// campaign id, emitted by the edge server's manual-ingest endpoint.
const EventManualIngest = "campaign.manual-ingest"

// ManualIngestPayload is EventManualIngest's payload.
type ManualIngestPayload struct {
	CampaignID string `json:"campaign_id"`
}

// HandleManualIngest adapts IngestCampaign to the eventbus.Handler
// signature. Unlike the cron path, which silently skips non-active
// campaigns, an explicit manual ingest against an inactive campaign is
// a precondition violation and fails without retry.
func (s *Service) HandleManualIngest(ctx context.Context, _ *eventbus.StepContext, ev eventbus.Event) error {
	var payload ManualIngestPayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		return ierrors.NonRetriable("decode campaign.manual-ingest payload", err)
	}
	campaign, err := s.campaigns.Get(ctx, ev.TenantID, payload.CampaignID)
	if err != nil {
		return ierrors.NonRetriable("campaign lookup failed", err)
	}
	if !campaign.IsActive() {
		return ierrors.NonRetriable("campaign not active", fmt.Errorf("campaign %s status %s", campaign.ID, campaign.Status))
	}
	if err := s.IngestCampaign(ctx, *campaign); err != nil {
		return ierrors.Retriable("manual ingest failed", err)
	}
	return nil
}

// RunCron pulls every active campaign, bounded by the configured
// concurrency cap (spec section 5: ingestion concurrency <= 3).
func (s *Service) RunCron(ctx context.Context) error {
	campaigns, err := s.campaigns.ListActiveCampaigns(ctx)
	if err != nil {
		return fmt.Errorf("ingestor: list active campaigns: %w", err)
	}

	sem := make(chan struct{}, s.cfg.Concurrency())
	var wg sync.WaitGroup
	for _, c := range campaigns {
		sem <- struct{}{}
		wg.Add(1)
		go func(c domain.Campaign) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := s.IngestCampaign(ctx, c); err != nil {
				logger.Error("ingestor: campaign pull failed", "campaign_id", c.ID, "error", err.Error())
			}
		}(c)
	}
	wg.Wait()
	return nil
}

// IngestCampaign runs one campaign's pull, regardless of trigger source
// (cron tick or manual API call).
func (s *Service) IngestCampaign(ctx context.Context, c domain.Campaign) error {
	if !c.IsActive() {
		return nil
	}

	tenant, err := s.campaigns.GetTenant(ctx, c.TenantID)
	if err != nil {
		return fmt.Errorf("ingestor: get tenant %s: %w", c.TenantID, err)
	}

	var accepted int
	switch c.DataSourceKind {
	case domain.SourceKindPixel, domain.SourceKindIntent:
		accepted, err = s.pullFetched(ctx, tenant, c)
	case domain.SourceKindApollo:
		accepted, err = s.pullApollo(ctx, tenant, c)
	case domain.SourceKindCSV, domain.SourceKindManual:
		logger.Debug("ingestor: skipping cron pull for out-of-band source", "campaign_id", c.ID, "kind", string(c.DataSourceKind))
	default:
		logger.Warn("ingestor: unknown data source kind", "campaign_id", c.ID, "kind", string(c.DataSourceKind))
	}
	if err != nil {
		return err
	}

	logger.Info("ingestor: campaign pull complete", "campaign_id", c.ID, "accepted", accepted)
	return s.campaigns.MarkIngested(ctx, c.ID, time.Now())
}

func (s *Service) pullFetched(ctx context.Context, tenant *domain.Tenant, c domain.Campaign) (int, error) {
	if s.fetcher == nil {
		return 0, nil
	}
	raw, err := s.fetcher.FetchCandidates(ctx, c.DataSourceConfig)
	if err != nil {
		return 0, fmt.Errorf("fetch candidates: %w", err)
	}

	sourceKind := domain.SourcePixel
	baseQuality := 0.6
	if c.DataSourceKind == domain.SourceKindIntent {
		sourceKind = domain.SourceIntent
		baseQuality = 0.7
	}

	candidates := s.scoreAndRank(raw, string(sourceKind), tenant, baseQuality)
	return s.acceptCandidates(ctx, tenant.ID, c.ID, sourceKind, candidates)
}

func (s *Service) pullApollo(ctx context.Context, tenant *domain.Tenant, c domain.Campaign) (int, error) {
	if s.search == nil {
		return 0, nil
	}
	params := synthesizeSearchParams(tenant.ICP, c.DataSourceConfig)
	people, err := s.search.SearchPeople(ctx, params)
	if err != nil {
		return 0, fmt.Errorf("apollo search: %w", err)
	}

	raw := make([]map[string]any, 0, len(people))
	for _, p := range people {
		raw = append(raw, map[string]any{
			"email": p.Email, "first_name": p.FirstName, "last_name": p.LastName,
			"title": p.Title, "company": p.Company, "company_domain": p.CompanyDomain,
			"industry": p.Industry, "employee_count": p.EmployeeCount, "revenue": p.Revenue,
		})
	}

	candidates := s.scoreAndRank(raw, "apollo", tenant, 0.85)
	return s.acceptCandidates(ctx, tenant.ID, c.ID, domain.SourceApollo, candidates)
}

// synthesizeSearchParams builds an Apollo query from the tenant's ICP
// persona titles and industry criteria. The only data_source_config key
// it reads is an optional "limit"; a saved search named there is not
// looked up, and employee-count criteria add no size bounds (see
// parseSizeBand).
func synthesizeSearchParams(icp domain.ICP, cfg map[string]any) enrichment.SearchParams {
	params := enrichment.SearchParams{Limit: 100}
	for _, p := range icp.Personas {
		if p.Title != "" {
			params.Titles = append(params.Titles, p.Title)
		}
	}
	for _, crit := range icp.AccountCriteria {
		if crit.Field == "industry" {
			params.Industries = append(params.Industries, crit.Values...)
		}
		if crit.Field == "employee_count" {
			params.EmployeeMin, params.EmployeeMax = parseSizeBand(crit.Values)
		}
	}
	if limit, ok := cfg["limit"].(float64); ok && limit > 0 {
		params.Limit = int(limit)
	}
	return params
}

func parseSizeBand(values []string) (int, int) {
	if len(values) == 0 {
		return 0, 0
	}
	return 0, 0 // band values are not parsed; the query carries no employee bounds
}

type scoredCandidate struct {
	normalized normalizer.NormalizedLead
	score      int
}

// scoreAndRank normalizes every raw record, drops invalid or
// below-threshold ones, and orders the rest by descending intent score,
// capped at the configured research limit (spec section 4.6 step 3:
// "filter + score + rank").
func (s *Service) scoreAndRank(raw []map[string]any, source string, tenant *domain.Tenant, dataQuality float64) []scoredCandidate {
	min := s.cfg.MinScore()
	out := make([]scoredCandidate, 0, len(raw))
	for _, r := range raw {
		n := normalizer.Normalize(r, source)
		if !n.Valid {
			continue
		}
		result := scorer.IntentScore(scorer.LeadFields{
			Industry: n.Industry, Revenue: n.Revenue, Title: n.Title,
			EmployeeCount: n.EmployeeCount, DataQuality: dataQuality,
		}, &scorer.Preferences{
			IndustryWeights: tenant.TargetingPreferences.IndustryWeights,
			TitleWeights:    tenant.TargetingPreferences.TitleWeights,
			SizeWeights:     tenant.TargetingPreferences.SizeWeights,
		})
		if result.TotalScore < min {
			continue
		}
		out = append(out, scoredCandidate{normalized: n, score: result.TotalScore})
	}

	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].score > out[j-1].score; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}

	if limit := s.cfg.ResearchLimit(); len(out) > limit {
		logger.Info("ingestor: truncating ranked candidates to research limit", "dropped", len(out)-limit)
		out = out[:limit]
	}
	return out
}

func (s *Service) acceptCandidates(ctx context.Context, tenantID, campaignID string, source domain.LeadSource, candidates []scoredCandidate) (int, error) {
	accepted := 0
	for _, c := range candidates {
		lead, isNew, err := s.leads.UpsertLead(ctx, tenantID, campaignID, c.normalized, source)
		if err != nil {
			logger.Error("ingestor: upsert lead failed", "email", c.normalized.Email, "error", err.Error())
			continue
		}
		if _, err := s.emitter.Emit(ctx, EventLeadIngested, tenantID, lead.ID, LeadIngestedPayload{
			CampaignID: campaignID, LeadID: lead.ID, Source: source, IntentScore: c.score, IsNewLead: isNew,
		}); err != nil {
			logger.Error("ingestor: emit lead.ingested failed", "lead_id", lead.ID, "error", err.Error())
			continue
		}
		accepted++
	}
	return accepted, nil
}
