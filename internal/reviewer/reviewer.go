// Package reviewer implements the Reviewer stage (spec component C10,
// section 4.10): scores a drafted Sequence and decides
// APPROVE/REVISE/HUMAN_REVIEW, looping the generator on REVISE up to a
// fixed attempt bound. Grounded on the teacher's internal/agent
// critique-then-refine idiom (a second model call judging the first
// call's output against a rubric) generalized to the sequence-review
// contract.
package reviewer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ignite/salesloop/internal/domain"
	ierrors "github.com/ignite/salesloop/internal/errors"
	"github.com/ignite/salesloop/internal/eventbus"
	"github.com/ignite/salesloop/internal/generator"
	"github.com/ignite/salesloop/internal/pkg/logger"
	"github.com/ignite/salesloop/internal/providers/llm"
)

// EventSequenceApproved is emitted once a sequence clears review; the
// orchestrator stage consumes it to initialize delivery.
const EventSequenceApproved = "sequence.approved"

// SequenceApprovedPayload is EventSequenceApproved's payload.
type SequenceApprovedPayload struct {
	LeadID     string `json:"lead_id"`
	SequenceID string `json:"sequence_id"`
	CampaignID string `json:"campaign_id"`
}

// approveScoreFloor is the minimum review score (0..100) to approve
// without revision (spec section 4.10). Not given an exact number in
// the source spec; 75 is a documented, reasonable bar consistent with
// the reviewer acting as a quality gate rather than a rubber stamp.
const approveScoreFloor = 75

type LeadRepository interface {
	SetStatus(ctx context.Context, tenantID, leadID string, status domain.LeadStatus) error
}

type SequenceRepository interface {
	Get(ctx context.Context, tenantID, sequenceID string) (*domain.Sequence, error)
	UpdateReview(ctx context.Context, tenantID, sequenceID string, score float64, decision domain.ReviewDecision, status domain.SequenceStatus) error
}

type Notifier interface {
	Send(ctx context.Context, channel string, payload map[string]any) error
}

type Service struct {
	leads     LeadRepository
	sequences SequenceRepository
	notifier  Notifier
	model     llm.LLM
	bus       *eventbus.Bus
}

func NewService(leads LeadRepository, sequences SequenceRepository, notifier Notifier, model llm.LLM, bus *eventbus.Bus) *Service {
	return &Service{leads: leads, sequences: sequences, notifier: notifier, model: model, bus: bus}
}

func (s *Service) Handler(ctx context.Context, sc *eventbus.StepContext, ev eventbus.Event) error {
	var payload generator.SequenceDraftedPayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		return ierrors.NonRetriable("decode sequence.drafted payload", err)
	}
	return s.Process(ctx, sc, ev.TenantID, payload)
}

func (s *Service) Process(ctx context.Context, sc *eventbus.StepContext, tenantID string, payload generator.SequenceDraftedPayload) error {
	seq, err := s.sequences.Get(ctx, tenantID, payload.SequenceID)
	if err != nil {
		return ierrors.NonRetriable("sequence lookup failed", err)
	}
	if seq.Status != domain.SequencePending && seq.Status != domain.SequenceRevising {
		return nil // already decided by a prior delivery
	}

	stepName := fmt.Sprintf("review_attempt_%d", seq.RevisionCount)
	var verdict reviewVerdict
	if err := sc.Checkpoint(ctx, stepName, &verdict, func() (any, error) {
		return s.callReviewer(ctx, seq)
	}); err != nil {
		return err
	}

	decision := decisionFor(verdict, seq)

	switch decision {
	case domain.ReviewApprove:
		if err := s.sequences.UpdateReview(ctx, tenantID, seq.ID, verdict.Score, domain.ReviewApprove, domain.SequenceApproved); err != nil {
			return ierrors.Retriable("persist approval", err)
		}
		if err := s.leads.SetStatus(ctx, tenantID, seq.LeadID, domain.LeadSequenceReady); err != nil {
			logger.Error("reviewer: failed to advance lead status", "lead_id", seq.LeadID, "error", err.Error())
		}
		if _, err := s.bus.Emit(ctx, EventSequenceApproved, tenantID, seq.LeadID, SequenceApprovedPayload{
			LeadID: seq.LeadID, SequenceID: seq.ID, CampaignID: payload.CampaignID,
		}); err != nil {
			return ierrors.Retriable("emit sequence.approved", err)
		}
		return nil

	case domain.ReviewHumanReview:
		reason := verdict.Feedback
		if reason == "" {
			reason = "revision attempts exhausted"
		}
		if err := s.sequences.UpdateReview(ctx, tenantID, seq.ID, verdict.Score, domain.ReviewHumanReview, domain.SequenceHumanReview); err != nil {
			return ierrors.Retriable("persist human-review escalation", err)
		}
		if err := s.leads.SetStatus(ctx, tenantID, seq.LeadID, domain.LeadHumanReview); err != nil {
			logger.Error("reviewer: failed to advance lead status", "lead_id", seq.LeadID, "error", err.Error())
		}
		if s.notifier != nil {
			_ = s.notifier.Send(ctx, "human_review", map[string]any{
				"lead_id": seq.LeadID, "sequence_id": seq.ID, "reason": reason, "score": verdict.Score,
			})
		}
		return nil

	default: // REVISE
		if err := s.sequences.UpdateReview(ctx, tenantID, seq.ID, verdict.Score, domain.ReviewRevise, domain.SequenceRevising); err != nil {
			return ierrors.Retriable("persist revise status", err)
		}
		// The revision itself is the generator's job: it re-runs with
		// the full brand/ICP/research prompt assembly plus these
		// instructions and the previous draft, then re-emits
		// sequence.drafted so the revised draft comes back through
		// here at attempt+1.
		if _, err := s.bus.Emit(ctx, generator.EventSequenceRevisionNeeded, tenantID, seq.LeadID, generator.SequenceRevisionPayload{
			LeadID:               seq.LeadID,
			SequenceID:           seq.ID,
			CampaignID:           payload.CampaignID,
			RevisionInstructions: verdict.Feedback,
			Attempt:              seq.RevisionCount + 1,
		}); err != nil {
			return ierrors.Retriable("emit lead.sequence-revision-needed", err)
		}
		return nil
	}
}

type reviewVerdict struct {
	Score    float64               `json:"score"`
	Decision domain.ReviewDecision `json:"decision"`
	Feedback string                `json:"feedback"`
}

func decisionFor(v reviewVerdict, seq *domain.Sequence) domain.ReviewDecision {
	if !seq.CanRevise() && v.Decision == domain.ReviewRevise {
		return domain.ReviewHumanReview
	}
	if v.Score >= approveScoreFloor && v.Decision != domain.ReviewHumanReview {
		return domain.ReviewApprove
	}
	if v.Decision == "" {
		return domain.ReviewRevise
	}
	return v.Decision
}

func (s *Service) callReviewer(ctx context.Context, seq *domain.Sequence) (reviewVerdict, error) {
	body, _ := json.Marshal(map[string]any{
		"email_steps":    seq.EmailSteps,
		"linkedin_steps": seq.LinkedInSteps,
		"strategy":       seq.Strategy,
	})
	resp, err := s.model.Chat(ctx, []llm.Message{{Role: "user", Content: string(body)}}, llm.ChatOptions{
		System:    reviewerSystemPrompt,
		MaxTokens: 1024,
	})
	if err != nil {
		return reviewVerdict{}, ierrors.Retriable("llm review call failed", err)
	}

	var verdict reviewVerdict
	if err := json.Unmarshal([]byte(extractJSON(resp.Content)), &verdict); err != nil {
		logger.Warn("reviewer: verdict json parse failed, treating as REVISE", "error", err.Error())
		return reviewVerdict{Score: 0, Decision: domain.ReviewRevise, Feedback: "reviewer response was not parseable JSON"}, nil
	}
	return verdict, nil
}

const reviewerSystemPrompt = `You are a strict quality gate for B2B outbound email/LinkedIn sequences. Score 0-100 on personalization depth, brand-voice fit, spam-risk, and CTA clarity. Respond with strict JSON: {"score":0-100,"decision":"APPROVE|REVISE|HUMAN_REVIEW","feedback":"..."}. Use HUMAN_REVIEW only when the sequence contains something a rule can't safely autocorrect (factual claim risk, offensive content).`

func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end == -1 || end < start {
		return s
	}
	return s[start : end+1]
}
