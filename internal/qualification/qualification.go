// Package qualification implements the QualificationStage (spec
// component C7, section 4.7): it processes lead.ingested events and
// decides YES/NO/REVIEW. Grounded on the teacher's
// internal/engine/campaign_events.go decision-policy idiom (a fixed
// sequence of deterministic rule checks before falling back to a model
// call) and internal/engine/rules.go's rule-table shape.
package qualification

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ignite/salesloop/internal/domain"
	ierrors "github.com/ignite/salesloop/internal/errors"
	"github.com/ignite/salesloop/internal/eventbus"
	"github.com/ignite/salesloop/internal/ingestor"
	"github.com/ignite/salesloop/internal/pkg/fuzzy"
	"github.com/ignite/salesloop/internal/pkg/logger"
	"github.com/ignite/salesloop/internal/providers/llm"
)

// EventLeadQualified is emitted on a YES decision, and also on REVIEW:
// a REVIEW lead is flagged human_review for visibility but still flows
// downstream (the MVP auto-fallthrough; see DESIGN.md on the
// production bounded-wait alternative). The research stage consumes it.
const EventLeadQualified = "lead.qualified"

// LeadQualifiedPayload is EventLeadQualified's payload.
type LeadQualifiedPayload struct {
	LeadID     string `json:"lead_id"`
	CampaignID string `json:"campaign_id"`
}

// ReturnVisitThreshold auto-qualifies a pixel-sourced lead once it has
// visited this many times, per spec section 4.7 step 4 / scenario 2.
const ReturnVisitThreshold = 5

// MinIntentVisits is the visit count below which an intent-sourced lead
// with a low score is held rather than disqualified outright (spec
// section 4.7 step 4 / scenario 3: "intent source, low score, no
// emit").
const MinIntentVisits = 2

// LeadRepository is the slice of the StateStore this stage needs.
type LeadRepository interface {
	Get(ctx context.Context, tenantID, leadID string) (*domain.Lead, error)
	UpdateDecision(ctx context.Context, tenantID, leadID string, decision domain.QualificationDecision, reasoning string, confidence float64, newStatus domain.LeadStatus) error
	FindRelatedByCompany(ctx context.Context, tenantID, companyDomain string, excludeLeadID string) ([]domain.Lead, error)
}

// CampaignRepository resolves a campaign's active state.
type CampaignRepository interface {
	Get(ctx context.Context, tenantID, campaignID string) (*domain.Campaign, error)
	GetTenant(ctx context.Context, tenantID string) (*domain.Tenant, error)
}

// Service runs the qualification decision policy.
type Service struct {
	leads     LeadRepository
	campaigns CampaignRepository
	bus       *eventbus.Bus
	model     llm.LLM
}

func NewService(leads LeadRepository, campaigns CampaignRepository, bus *eventbus.Bus, model llm.LLM) *Service {
	return &Service{leads: leads, campaigns: campaigns, bus: bus, model: model}
}

// Handler adapts Process to the eventbus.Handler signature, registered
// against ingestor.EventLeadIngested.
func (s *Service) Handler(ctx context.Context, sc *eventbus.StepContext, ev eventbus.Event) error {
	var payload ingestor.LeadIngestedPayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		return ierrors.NonRetriable("decode lead.ingested payload", err)
	}
	return s.Process(ctx, sc, ev.TenantID, payload)
}

// Process runs the full per-event contract described in spec section
// 4.7. Every step is checkpointed so a crash mid-contract resumes
// without re-running completed steps or re-deciding twice.
func (s *Service) Process(ctx context.Context, sc *eventbus.StepContext, tenantID string, payload ingestor.LeadIngestedPayload) error {
	if payload.CampaignID != "" {
		campaign, err := s.campaigns.Get(ctx, tenantID, payload.CampaignID)
		if err != nil {
			return ierrors.NonRetriable("campaign lookup failed", err)
		}
		if !campaign.IsActive() {
			logger.Info("qualification: campaign no longer active, skipping", "campaign_id", payload.CampaignID, "lead_id", payload.LeadID)
			return nil
		}
	}

	lead, err := s.leads.Get(ctx, tenantID, payload.LeadID)
	if err != nil {
		return ierrors.NonRetriable("lead lookup failed", err)
	}

	// Returning visitors with a prior decision never re-run the LLM. At
	// the return-visit threshold the accumulated intent is strong enough
	// to re-enter the pipeline outright; below it the visit is logged and
	// nothing moves downstream.
	if lead.QualificationDecision != nil {
		if lead.Source == domain.SourcePixel && lead.VisitCount >= ReturnVisitThreshold {
			if err := s.leads.UpdateDecision(ctx, tenantID, lead.ID, domain.DecisionYES,
				"strong intent - multiple return visits", 0.9, domain.LeadResearched); err != nil {
				return ierrors.Retriable("persist auto-qualification", err)
			}
			if _, err := s.bus.Emit(ctx, EventLeadQualified, tenantID, lead.ID, LeadQualifiedPayload{LeadID: lead.ID, CampaignID: payload.CampaignID}); err != nil {
				return ierrors.Retriable("emit lead.qualified", err)
			}
			return nil
		}
		logger.Info("qualification: return visit, keeping prior decision", "lead_id", lead.ID, "visit_count", lead.VisitCount)
		return nil
	}

	if lead.Status != domain.LeadIngested {
		// Already decided by a prior delivery of this or a duplicate event.
		return nil
	}

	tenant, err := s.campaigns.GetTenant(ctx, tenantID)
	if err != nil {
		return ierrors.NonRetriable("tenant lookup failed", err)
	}

	related, err := s.leads.FindRelatedByCompany(ctx, tenantID, lead.CompanyDomain, lead.ID)
	if err != nil {
		logger.Warn("qualification: related-company probe failed", "lead_id", lead.ID, "error", err.Error())
	}
	hasExistingRelationship := relationshipProbe(lead, related)

	decision, reasoning, confidence, err := s.decide(ctx, sc, tenant.ICP, lead, hasExistingRelationship)
	if err != nil {
		return err
	}

	newStatus := statusFor(decision)
	if err := s.leads.UpdateDecision(ctx, tenantID, lead.ID, decision, reasoning, confidence, newStatus); err != nil {
		return ierrors.Retriable("persist qualification decision", err)
	}

	// NO is the only decision that stops the lead here. REVIEW keeps
	// the human_review flag for the operator but still proceeds
	// downstream, so a borderline lead is never silently parked.
	if decision == domain.DecisionYES || decision == domain.DecisionReview {
		if _, err := s.bus.Emit(ctx, EventLeadQualified, tenantID, lead.ID, LeadQualifiedPayload{LeadID: lead.ID, CampaignID: payload.CampaignID}); err != nil {
			return ierrors.Retriable("emit lead.qualified", err)
		}
	}
	return nil
}

// relationshipProbe reports whether any other lead at a
// fuzzily-matched company name already reached an engaged status,
// which raises confidence in a LLM qualify call (spec section 4.7
// step 3: "fuzzy company-name relationship probe").
func relationshipProbe(lead *domain.Lead, related []domain.Lead) bool {
	for _, r := range related {
		if !fuzzy.IsSameCompany(lead.CompanyName, r.CompanyName) {
			continue
		}
		switch r.Status {
		case domain.LeadActive, domain.LeadReplied, domain.LeadConverted, domain.LeadSequenceReady:
			return true
		}
	}
	return false
}

// decide runs the deterministic rule checks first and only falls back
// to the LLM qualifier when no rule fires, per spec section 4.7.1.
func (s *Service) decide(ctx context.Context, sc *eventbus.StepContext, icp domain.ICP, lead *domain.Lead, hasRelationship bool) (domain.QualificationDecision, string, float64, error) {
	titleLower := strings.ToLower(lead.JobTitle)
	for _, d := range icp.Disqualifiers {
		if d.Field != "title" {
			continue
		}
		for _, v := range d.Values {
			if strings.Contains(titleLower, strings.ToLower(v)) {
				return domain.DecisionNO, "disqualifier rule: " + d.Reason, 1.0, nil
			}
		}
	}

	var result qualifyResult
	err := sc.Checkpoint(ctx, "llm_qualify", &result, func() (any, error) {
		return s.callQualifier(ctx, icp, lead, hasRelationship)
	})
	if err != nil {
		return "", "", 0, err
	}
	return result.Decision, result.Reasoning, result.Confidence, nil
}

type qualifyResult struct {
	Decision   domain.QualificationDecision `json:"decision"`
	Reasoning  string                        `json:"reasoning"`
	Confidence float64                       `json:"confidence"`
}

// callQualifier asks the LLM port for a YES/NO/REVIEW verdict, retrying
// once on a parse failure before escalating to REVIEW rather than
// blocking the pipeline (spec section 4.7.1 / 7: parse failures are not
// retriable forever).
func (s *Service) callQualifier(ctx context.Context, icp domain.ICP, lead *domain.Lead, hasRelationship bool) (qualifyResult, error) {
	prompt := qualifyPrompt(icp, lead, hasRelationship)

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		resp, err := s.model.Chat(ctx, []llm.Message{{Role: "user", Content: prompt}}, llm.ChatOptions{
			System:    qualifySystemPrompt,
			MaxTokens: 512,
		})
		if err != nil {
			return qualifyResult{}, ierrors.Retriable("llm qualify call failed", err)
		}

		var result qualifyResult
		if err := json.Unmarshal([]byte(extractJSON(resp.Content)), &result); err != nil {
			lastErr = err
			continue
		}
		if result.Decision != domain.DecisionYES && result.Decision != domain.DecisionNO && result.Decision != domain.DecisionReview {
			lastErr = fmt.Errorf("unrecognized decision %q", result.Decision)
			continue
		}
		if result.Decision == domain.DecisionYES && result.Confidence < 0.5 {
			result.Decision = domain.DecisionNO
			result.Reasoning = "low-confidence qualification coerced to NO: " + result.Reasoning
		}
		return result, nil
	}

	logger.Warn("qualification: llm response unparseable after retry, escalating to human review", "lead_id", lead.ID, "error", lastErr.Error())
	return qualifyResult{Decision: domain.DecisionReview, Reasoning: "automatic qualification failed to parse, needs human review", Confidence: 0}, nil
}

const qualifySystemPrompt = `You are a B2B sales qualification assistant. Given an ideal customer profile and a lead's details, decide YES, NO, or REVIEW. Respond with strict JSON: {"decision":"YES|NO|REVIEW","reasoning":"...","confidence":0.0}.`

func qualifyPrompt(icp domain.ICP, lead *domain.Lead, hasRelationship bool) string {
	icpJSON, _ := json.Marshal(icp)
	return fmt.Sprintf(`ICP: %s

Lead: title=%q company=%q industry=%q employees=%v revenue=%q source=%s visit_count=%d existing_company_relationship=%v`,
		string(icpJSON), lead.JobTitle, lead.CompanyName, lead.CompanyIndustry, lead.CompanyEmployees, lead.CompanyRevenue, lead.Source, lead.VisitCount, hasRelationship)
}

func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end == -1 || end < start {
		return s
	}
	return s[start : end+1]
}

func statusFor(decision domain.QualificationDecision) domain.LeadStatus {
	switch decision {
	case domain.DecisionYES:
		return domain.LeadResearched
	case domain.DecisionReview:
		return domain.LeadHumanReview
	default:
		return domain.LeadDisqualified
	}
}
