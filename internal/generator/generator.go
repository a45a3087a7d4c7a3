// Package generator implements the SequenceGenerator (spec component
// C9, section 4.9): composes a brand's fundamentals/ICP/learned-pattern
// RAG documents with a lead's ContextProfile into a single LLM call
// that drafts a full email+LinkedIn sequence. Grounded on the teacher's
// internal/agent prompt-assembly idiom (system prompt + structured user
// turn + JSON-contract response), generalized from a single-purpose
// agent prompt to the sequence-writer prompt.
package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/ignite/salesloop/internal/domain"
	ierrors "github.com/ignite/salesloop/internal/errors"
	"github.com/ignite/salesloop/internal/eventbus"
	"github.com/ignite/salesloop/internal/pkg/logger"
	"github.com/ignite/salesloop/internal/pkg/prompttmpl"
	"github.com/ignite/salesloop/internal/providers/llm"
	"github.com/ignite/salesloop/internal/research"
)

// sequenceWriterPrompt is the prompt_versions row name the learning
// pipeline evolves. Shared verbatim with internal/learning so the two
// packages read/write the same prompt lineage.
const sequenceWriterPrompt = "sequence-writer"

// EventSequenceDrafted is emitted once a Sequence has been generated
// (or revised); the reviewer stage consumes it.
const EventSequenceDrafted = "sequence.drafted"

// SequenceDraftedPayload is EventSequenceDrafted's payload.
type SequenceDraftedPayload struct {
	LeadID     string `json:"lead_id"`
	SequenceID string `json:"sequence_id"`
	CampaignID string `json:"campaign_id"`
	Attempt    int    `json:"attempt"`
}

// EventSequenceRevisionNeeded is emitted by the reviewer on a REVISE
// verdict and consumed here: the revision re-runs this generator with
// the reviewer's instructions and the previous draft, never a separate
// ad hoc reviser, so every revision keeps the full brand/ICP/research
// grounding the original draft had.
const EventSequenceRevisionNeeded = "lead.sequence-revision-needed"

// EventSequenceRevisionComplete announces a finished revision. It is
// informational (the revised draft re-enters review via
// EventSequenceDrafted); the worker logs it for the audit trail.
const EventSequenceRevisionComplete = "lead.sequence-revision-complete"

// SequenceRevisionPayload is EventSequenceRevisionNeeded's payload.
type SequenceRevisionPayload struct {
	LeadID               string `json:"lead_id"`
	SequenceID           string `json:"sequence_id"`
	CampaignID           string `json:"campaign_id"`
	RevisionInstructions string `json:"revision_instructions"`
	Attempt              int    `json:"attempt"`
}

// RevisionCompletePayload is EventSequenceRevisionComplete's payload.
type RevisionCompletePayload struct {
	SequenceID string `json:"sequence_id"`
	Attempt    int    `json:"attempt"`
}

// defaultEmailDays and defaultLinkedInDays are the fallback send-day
// timelines used when the campaign doesn't override them (spec section
// 4.9.1). Not specified exactly in the source spec; a 5-email /
// 3-touch cadence over three weeks is a reasonable default and is
// documented here rather than left implicit.
var defaultEmailDays = []int{0, 3, 7, 14, 21}
var defaultLinkedInDays = []int{0, 2, 9}

const thinkingBudget = 8000
const maxGenTokens = 12000

// maxGenerateAttempts bounds parse-failure retries before escalating to
// human review (spec section 4.9 / 7).
const maxGenerateAttempts = 3

type LeadRepository interface {
	Get(ctx context.Context, tenantID, leadID string) (*domain.Lead, error)
	SetStatus(ctx context.Context, tenantID, leadID string, status domain.LeadStatus) error
}

type CampaignRepository interface {
	Get(ctx context.Context, tenantID, campaignID string) (*domain.Campaign, error)
	GetBrand(ctx context.Context, tenantID, brandID string) (*domain.Brand, error)
	GetTenant(ctx context.Context, tenantID string) (*domain.Tenant, error)
}

type ResearchRepository interface {
	GetByLead(ctx context.Context, tenantID, leadID string) (*domain.ResearchRecord, error)
}

type RAGRepository interface {
	// ActiveDocuments returns non-deprecated fundamentals/ICP/learned
	// documents scoped to the tenant and, when set, the brand.
	ActiveDocuments(ctx context.Context, tenantID, brandID string) ([]domain.RAGDocument, error)
}

type SequenceRepository interface {
	Create(ctx context.Context, seq *domain.Sequence) error
	Get(ctx context.Context, tenantID, sequenceID string) (*domain.Sequence, error)
	Revise(ctx context.Context, tenantID, sequenceID string, emailSteps []domain.EmailStep, linkedInSteps []domain.LinkedInStep, newRevisionCount int) error
	SetHumanReview(ctx context.Context, tenantID, sequenceID, reason string) error
}

type Notifier interface {
	Send(ctx context.Context, channel string, payload map[string]any) error
}

// PromptRepository reads the prompt lineage the learning pipeline
// evolves. Optional: a nil PromptRepository falls back to the static
// generatorSystemPrompt below.
type PromptRepository interface {
	ActiveVersion(ctx context.Context, tenantID, promptName string) (*domain.PromptVersion, error)
	RunningTest(ctx context.Context, tenantID, promptName string) (*domain.PromptABTest, error)
	GetVersion(ctx context.Context, tenantID, versionID string) (*domain.PromptVersion, error)
}

type Service struct {
	leads     LeadRepository
	campaigns CampaignRepository
	research  ResearchRepository
	rag       RAGRepository
	sequences SequenceRepository
	prompts   PromptRepository
	notifier  Notifier
	model     llm.LLM
	bus       *eventbus.Bus
}

func NewService(leads LeadRepository, campaigns CampaignRepository, researchRepo ResearchRepository, rag RAGRepository, sequences SequenceRepository, prompts PromptRepository, notifier Notifier, model llm.LLM, bus *eventbus.Bus) *Service {
	return &Service{leads: leads, campaigns: campaigns, research: researchRepo, rag: rag, sequences: sequences, prompts: prompts, notifier: notifier, model: model, bus: bus}
}

// resolvePrompt picks the system prompt + prompt_versions id to stamp on
// the generated sequence: the running A/B test's control-or-variant split
// when one test is active (leadID hash mod 100 below the test's
// SplitPercent gets control, the rest the first variant), else the
// active promoted version, else the static fallback below.
func (s *Service) resolvePrompt(ctx context.Context, tenantID, leadID string) (systemPrompt, versionID string) {
	if s.prompts == nil {
		return generatorSystemPrompt, ""
	}
	if test, err := s.prompts.RunningTest(ctx, tenantID, sequenceWriterPrompt); err == nil && test != nil && len(test.VariantVersionIDs) > 0 {
		assigned := test.ControlVersionID
		h := fnv.New32a()
		h.Write([]byte(leadID))
		if h.Sum32()%100 >= uint32(test.SplitPercent) {
			assigned = test.VariantVersionIDs[0]
		}
		if v, err := s.prompts.GetVersion(ctx, tenantID, assigned); err == nil && v != nil {
			return v.Body, v.ID
		}
	}
	if active, err := s.prompts.ActiveVersion(ctx, tenantID, sequenceWriterPrompt); err == nil && active != nil {
		return active.Body, active.ID
	}
	return generatorSystemPrompt, ""
}

func (s *Service) Handler(ctx context.Context, sc *eventbus.StepContext, ev eventbus.Event) error {
	var payload research.ResearchCompletedPayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		return ierrors.NonRetriable("decode research.completed payload", err)
	}
	return s.Process(ctx, sc, ev.TenantID, payload)
}

func (s *Service) Process(ctx context.Context, sc *eventbus.StepContext, tenantID string, payload research.ResearchCompletedPayload) error {
	lead, err := s.leads.Get(ctx, tenantID, payload.LeadID)
	if err != nil {
		return ierrors.NonRetriable("lead lookup failed", err)
	}

	campaign, err := s.campaigns.Get(ctx, tenantID, payload.CampaignID)
	if err != nil {
		return ierrors.NonRetriable("campaign lookup failed", err)
	}
	brand, err := s.campaigns.GetBrand(ctx, tenantID, campaign.BrandID)
	if err != nil {
		return ierrors.NonRetriable("brand lookup failed", err)
	}
	tenant, err := s.campaigns.GetTenant(ctx, tenantID)
	if err != nil {
		return ierrors.NonRetriable("tenant lookup failed", err)
	}
	record, err := s.research.GetByLead(ctx, tenantID, lead.ID)
	if err != nil {
		return ierrors.NonRetriable("research record lookup failed", err)
	}
	docs, err := s.rag.ActiveDocuments(ctx, tenantID, campaign.BrandID)
	if err != nil {
		logger.Warn("generator: rag lookup failed, continuing without learned patterns", "tenant_id", tenantID, "error", err.Error())
	}

	systemPrompt, promptVersionID := s.resolvePrompt(ctx, tenantID, lead.ID)
	systemPrompt = prompttmpl.Render(systemPrompt, map[string]any{
		"brand":         brand.Name,
		"voice":         brand.Voice,
		"tone":          brand.Tone,
		"value_prop":    brand.ValueProposition,
		"campaign_mode": string(campaign.Mode),
	})

	prompt := buildPrompt(brand.EffectiveICP(tenant.ICP), brand, campaign, lead, record.ContextProfile, docs)

	var draft sequenceDraft
	err = sc.Checkpoint(ctx, "generate", &draft, func() (any, error) {
		return s.generateWithRetry(ctx, systemPrompt, prompt)
	})
	if err != nil {
		return err
	}
	draft.Strategy.PromptVersionID = promptVersionID

	seq := &domain.Sequence{
		TenantID:      tenantID,
		LeadID:        lead.ID,
		CampaignID:    campaign.ID,
		CampaignMode:  campaign.Mode,
		EmailSteps:    draft.EmailSteps,
		LinkedInSteps: draft.LinkedInSteps,
		Strategy:      draft.Strategy,
		Status:        domain.SequencePending,
	}
	if draft.Escalated {
		seq.Status = domain.SequenceHumanReview
		seq.HumanReviewReason = "sequence generation failed to produce valid JSON after retries"
	}
	if err := s.sequences.Create(ctx, seq); err != nil {
		return ierrors.Retriable("persist sequence", err)
	}

	if draft.Escalated {
		if err := s.leads.SetStatus(ctx, tenantID, lead.ID, domain.LeadHumanReview); err != nil {
			logger.Error("generator: failed to set lead status after escalation", "lead_id", lead.ID, "error", err.Error())
		}
		if s.notifier != nil {
			_ = s.notifier.Send(ctx, "human_review", map[string]any{"lead_id": lead.ID, "sequence_id": seq.ID, "reason": seq.HumanReviewReason})
		}
		return nil
	}

	if _, err := s.bus.Emit(ctx, EventSequenceDrafted, tenantID, lead.ID, SequenceDraftedPayload{
		LeadID: lead.ID, SequenceID: seq.ID, CampaignID: campaign.ID, Attempt: 0,
	}); err != nil {
		return ierrors.Retriable("emit sequence.drafted", err)
	}
	return nil
}

// HandleRevision re-runs the generator for a sequence the reviewer
// sent back: the same prompt assembly as Process (brand voice, ICP,
// research profile, knowledge base, timeline) plus the previous draft
// and the reviewer's instructions, so a revision never loses the
// grounding the original draft was written against. Re-emits
// EventSequenceDrafted so the revised draft goes back through review.
func (s *Service) HandleRevision(ctx context.Context, sc *eventbus.StepContext, ev eventbus.Event) error {
	var payload SequenceRevisionPayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		return ierrors.NonRetriable("decode lead.sequence-revision-needed payload", err)
	}

	seq, err := s.sequences.Get(ctx, ev.TenantID, payload.SequenceID)
	if err != nil {
		return ierrors.NonRetriable("sequence lookup failed", err)
	}
	if seq.RevisionCount >= payload.Attempt {
		return nil // already revised by a prior delivery
	}
	if !seq.CanRevise() || seq.Status == domain.SequenceHumanReview {
		return nil
	}

	lead, err := s.leads.Get(ctx, ev.TenantID, payload.LeadID)
	if err != nil {
		return ierrors.NonRetriable("lead lookup failed", err)
	}
	campaign, err := s.campaigns.Get(ctx, ev.TenantID, payload.CampaignID)
	if err != nil {
		return ierrors.NonRetriable("campaign lookup failed", err)
	}
	brand, err := s.campaigns.GetBrand(ctx, ev.TenantID, campaign.BrandID)
	if err != nil {
		return ierrors.NonRetriable("brand lookup failed", err)
	}
	tenant, err := s.campaigns.GetTenant(ctx, ev.TenantID)
	if err != nil {
		return ierrors.NonRetriable("tenant lookup failed", err)
	}
	record, err := s.research.GetByLead(ctx, ev.TenantID, lead.ID)
	if err != nil {
		return ierrors.NonRetriable("research record lookup failed", err)
	}
	docs, err := s.rag.ActiveDocuments(ctx, ev.TenantID, campaign.BrandID)
	if err != nil {
		logger.Warn("generator: rag lookup failed, continuing without learned patterns", "tenant_id", ev.TenantID, "error", err.Error())
	}

	systemPrompt, _ := s.resolvePrompt(ctx, ev.TenantID, lead.ID)
	systemPrompt = prompttmpl.Render(systemPrompt, map[string]any{
		"brand":         brand.Name,
		"voice":         brand.Voice,
		"tone":          brand.Tone,
		"value_prop":    brand.ValueProposition,
		"campaign_mode": string(campaign.Mode),
	})
	prompt := revisePrompt(
		buildPrompt(brand.EffectiveICP(tenant.ICP), brand, campaign, lead, record.ContextProfile, docs),
		seq, payload.RevisionInstructions)

	var draft sequenceDraft
	stepName := fmt.Sprintf("revise_%d", payload.Attempt)
	if err := sc.Checkpoint(ctx, stepName, &draft, func() (any, error) {
		return s.generateWithRetry(ctx, systemPrompt, prompt)
	}); err != nil {
		return err
	}

	if draft.Escalated {
		reason := "sequence revision failed to produce valid JSON after retries"
		if err := s.sequences.SetHumanReview(ctx, ev.TenantID, seq.ID, reason); err != nil {
			return ierrors.Retriable("persist revision escalation", err)
		}
		if err := s.leads.SetStatus(ctx, ev.TenantID, lead.ID, domain.LeadHumanReview); err != nil {
			logger.Error("generator: failed to set lead status after revision escalation", "lead_id", lead.ID, "error", err.Error())
		}
		if s.notifier != nil {
			_ = s.notifier.Send(ctx, "human_review", map[string]any{"lead_id": lead.ID, "sequence_id": seq.ID, "reason": reason})
		}
		return nil
	}

	if err := s.sequences.Revise(ctx, ev.TenantID, seq.ID, draft.EmailSteps, draft.LinkedInSteps, payload.Attempt); err != nil {
		return ierrors.Retriable("persist revised sequence", err)
	}

	if _, err := s.bus.Emit(ctx, EventSequenceRevisionComplete, ev.TenantID, lead.ID, RevisionCompletePayload{
		SequenceID: seq.ID, Attempt: payload.Attempt,
	}); err != nil {
		return ierrors.Retriable("emit lead.sequence-revision-complete", err)
	}
	if _, err := s.bus.Emit(ctx, EventSequenceDrafted, ev.TenantID, lead.ID, SequenceDraftedPayload{
		LeadID: lead.ID, SequenceID: seq.ID, CampaignID: campaign.ID, Attempt: payload.Attempt,
	}); err != nil {
		return ierrors.Retriable("emit sequence.drafted", err)
	}
	return nil
}

// revisePrompt appends the previous draft and the reviewer's
// instructions to the standard generation prompt.
func revisePrompt(base string, seq *domain.Sequence, instructions string) string {
	prev, _ := json.Marshal(map[string]any{
		"email_steps":    seq.EmailSteps,
		"linkedin_steps": seq.LinkedInSteps,
		"strategy":       seq.Strategy,
	})
	return fmt.Sprintf("%s\nPrevious draft:\n%s\n\nReviewer revision instructions (address every point, keep what already works):\n%s\n",
		base, string(prev), instructions)
}

type sequenceDraft struct {
	EmailSteps    []domain.EmailStep      `json:"email_steps"`
	LinkedInSteps []domain.LinkedInStep   `json:"linkedin_steps"`
	Strategy      domain.SequenceStrategy `json:"strategy"`
	// Escalated is serialized so it survives the Checkpoint round trip.
	Escalated bool `json:"escalated,omitempty"`
}

func (s *Service) generateWithRetry(ctx context.Context, systemPrompt, prompt string) (sequenceDraft, error) {
	var lastErr error
	for attempt := 1; attempt <= maxGenerateAttempts; attempt++ {
		resp, err := s.model.Chat(ctx, []llm.Message{{Role: "user", Content: prompt}}, llm.ChatOptions{
			System:         systemPrompt,
			MaxTokens:      maxGenTokens,
			ThinkingBudget: thinkingBudget,
		})
		if err != nil {
			return sequenceDraft{}, ierrors.Retriable("llm generate call failed", err)
		}

		var draft sequenceDraft
		if err := json.Unmarshal([]byte(extractJSON(resp.Content)), &draft); err != nil {
			lastErr = err
			logger.Warn("generator: sequence json parse failed, retrying", "attempt", attempt, "error", err.Error())
			continue
		}
		if len(draft.EmailSteps) == 0 && len(draft.LinkedInSteps) == 0 {
			lastErr = fmt.Errorf("generated sequence has no steps")
			continue
		}
		return draft, nil
	}

	logger.Error("generator: escalating to human review after exhausting retries", "error", lastErr.Error())
	return sequenceDraft{Escalated: true}, nil
}

const generatorSystemPrompt = `You are an expert B2B outbound sequence writer. Given a brand voice, ideal customer profile, a lead's research profile, and a fixed send-day timeline, draft a multi-channel outreach sequence. Respond with strict JSON matching: {"email_steps":[...],"linkedin_steps":[...],"strategy":{...}}. Each email step needs step_number, scheduled_day, type, subject, body, word_count. Each linkedin step needs step_number, scheduled_day, type, and body or connection_note as applicable.`

func buildPrompt(icp domain.ICP, brand *domain.Brand, campaign *domain.Campaign, lead *domain.Lead, profile domain.ContextProfile, docs []domain.RAGDocument) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Brand voice: %s\nTone: %s\nValue proposition: %s\nDifferentiators: %s\n\n",
		brand.Voice, brand.Tone, brand.ValueProposition, strings.Join(brand.Differentiators, "; "))

	icpJSON, _ := json.Marshal(icp)
	fmt.Fprintf(&sb, "ICP: %s\n\n", string(icpJSON))

	fmt.Fprintf(&sb, "Lead: %s %s, %s at %s (%s industry, %v employees)\n",
		lead.FirstName, lead.LastName, lead.JobTitle, lead.CompanyName, lead.CompanyIndustry, lead.CompanyEmployees)

	profileJSON, _ := json.Marshal(profile)
	fmt.Fprintf(&sb, "Research context profile: %s\n\n", string(profileJSON))

	fmt.Fprintf(&sb, "Campaign mode: %s. LinkedIn-first: %v. Wait for connection: %v (timeout %dh). Custom instructions: %s\n\n",
		campaign.Mode, campaign.LinkedInFirst, campaign.WaitForConnection, campaign.ConnectionTimeoutHours, campaign.CustomInstructions)

	emailCount := campaign.EmailStepCount
	if emailCount == 0 {
		emailCount = len(defaultEmailDays)
	}
	liCount := campaign.LinkedInStepCount
	if liCount == 0 {
		liCount = len(defaultLinkedInDays)
	}
	fmt.Fprintf(&sb, "Default email send-day timeline (use unless campaign instructions override): %v\n", timelineFor(defaultEmailDays, emailCount))
	fmt.Fprintf(&sb, "Default LinkedIn send-day timeline: %v\n\n", timelineFor(defaultLinkedInDays, liCount))

	if len(docs) > 0 {
		sb.WriteString("Knowledge base (fundamentals, ICP notes, and learned patterns from prior performance):\n")
		for _, d := range docs {
			fmt.Fprintf(&sb, "- [%s] %s: %s\n", d.Type, d.Title, truncate(d.Body, 800))
		}
	}
	return sb.String()
}

func timelineFor(base []int, count int) []int {
	if count <= len(base) {
		return base[:count]
	}
	out := append([]int{}, base...)
	last := base[len(base)-1]
	for len(out) < count {
		last += 7
		out = append(out, last)
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end == -1 || end < start {
		return s
	}
	return s[start : end+1]
}
