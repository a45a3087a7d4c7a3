// Package attribution implements the AttributionRecorder (spec
// component C12, section 4.12): records every send as an OutreachEvent
// with auto-tagged content elements, then resolves inbound provider
// engagement webhooks back to the OutreachEvent that produced them (or
// flags the engagement unattributed). Grounded on the teacher's
// internal/everflow conversion-matching idiom (internal/everflow's
// collector joins inbound conversion pings back to the outbound click
// that produced them by provider ids, falling back to "unmatched" when
// no join key resolves).
package attribution

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/ignite/salesloop/internal/domain"
	ierrors "github.com/ignite/salesloop/internal/errors"
)

// OutreachRepository persists OutreachEvent + ElementTag rows.
type OutreachRepository interface {
	Create(ctx context.Context, ev *domain.OutreachEvent, tags []domain.ElementTag) error
	// FindForAttribution returns outreach candidates to join an inbound
	// engagement against, newest first.
	FindForAttribution(ctx context.Context, tenantID, providerCampaignID, providerLeadID string) ([]domain.OutreachEvent, error)
	FirstSentAt(ctx context.Context, tenantID, leadID string) (*time.Time, error)
}

// EngagementRepository persists resolved/unattributed EngagementEvent rows.
type EngagementRepository interface {
	Create(ctx context.Context, ev *domain.EngagementEvent) error
}

type Service struct {
	outreach   OutreachRepository
	engagement EngagementRepository
	now        func() time.Time
}

func NewService(outreach OutreachRepository, engagement EngagementRepository) *Service {
	return &Service{outreach: outreach, engagement: engagement, now: time.Now}
}

// RecordOutreach stores one send with auto-tagged content elements.
// Called by the orchestrator immediately after a provider send action
// succeeds (spec section 4.12 step 1).
func (s *Service) RecordOutreach(ctx context.Context, ev *domain.OutreachEvent) error {
	ev.SentAt = s.now()
	tags := tagElements(ev)
	if err := s.outreach.Create(ctx, ev, tags); err != nil {
		return ierrors.Retriable("persist outreach event", err)
	}
	return nil
}

// ResolveEngagement joins an inbound provider webhook event back to the
// OutreachEvent that produced it, by provider campaign/lead id, falling
// back to unattributed when no candidate resolves (spec section 4.12
// step 2 / open question 3). The webhook caller never knows our
// internal lead id up front -- only the provider's own campaign/lead
// identifiers -- so the internal lead id used for the
// days-since-first-email lookup is taken from whichever OutreachEvent
// the join resolves to, not supplied by the caller. Returns the
// resolved lead id ("" when unattributed) so the caller can forward the
// signal to the orchestrator by lead id.
func (s *Service) ResolveEngagement(ctx context.Context, tenantID, providerCampaignID, providerLeadID string, eventType domain.EngagementEventType, sentiment string) (string, error) {
	candidates, err := s.outreach.FindForAttribution(ctx, tenantID, providerCampaignID, providerLeadID)
	if err != nil {
		return "", ierrors.Retriable("outreach lookup for attribution failed", err)
	}

	ev := &domain.EngagementEvent{
		TenantID:           tenantID,
		EventType:          eventType,
		Sentiment:          sentiment,
		ProviderCampaignID: providerCampaignID,
		ProviderLeadID:     providerLeadID,
		OccurredAt:         s.now(),
	}

	var leadID string
	if len(candidates) == 0 {
		ev.Unattributed = true
	} else {
		match := candidates[0] // newest outreach on this (campaign, lead) pair
		ev.OutreachEventID = &match.ID
		leadID = match.LeadID
	}

	if leadID != "" {
		if first, err := s.outreach.FirstSentAt(ctx, tenantID, leadID); err == nil && first != nil {
			ev.DaysSinceFirstEmail = int(ev.OccurredAt.Sub(*first).Hours() / 24)
		}
	}

	if err := s.engagement.Create(ctx, ev); err != nil {
		return "", ierrors.Retriable("persist engagement event", err)
	}
	return leadID, nil
}

// tagElements runs fixed, auditable heuristics over an OutreachEvent's
// copy (spec section 4.12 step 1: "auto-tag content elements"). Each
// heuristic is a closed keyword/pattern set rather than a model call,
// so tags stay stable across re-runs.
func tagElements(ev *domain.OutreachEvent) []domain.ElementTag {
	var tags []domain.ElementTag
	add := func(t domain.ElementType, v string) {
		if v == "" {
			return
		}
		tags = append(tags, domain.ElementTag{ElementType: t, ElementValue: v, PositionInEmail: 0})
	}

	add(domain.ElementSubjectLine, subjectPattern(ev.Subject))
	add(domain.ElementOpener, openerPattern(ev.Body))
	add(domain.ElementPainPoint, ev.TopTrigger)
	add(domain.ElementCTA, ctaPattern(ev.Body))
	add(domain.ElementTone, ev.StrategySnapshot.Tone)
	add(domain.ElementLength, lengthBucket(ev.Body))
	return tags
}

var questionRe = regexp.MustCompile(`\?\s*$`)

func subjectPattern(subject string) string {
	if subject == "" {
		return ""
	}
	lower := strings.ToLower(subject)
	switch {
	case questionRe.MatchString(strings.TrimSpace(subject)):
		return "question"
	case strings.ContainsAny(subject, "0123456789") && strings.ContainsAny(subject, "%$"):
		return "stat_led"
	case strings.Contains(lower, "quick") || strings.Contains(lower, "re:"):
		return "casual"
	default:
		return "statement"
	}
}

var painOpenerKeywords = []string{"noticed", "saw that", "congrats", "congratulations", "came across"}
var referralOpenerKeywords = []string{"referred", "recommended", "suggested i reach out", "mutual"}

func openerPattern(body string) string {
	lower := strings.ToLower(firstSentence(body))
	for _, kw := range referralOpenerKeywords {
		if strings.Contains(lower, kw) {
			return "referral_led"
		}
	}
	for _, kw := range painOpenerKeywords {
		if strings.Contains(lower, kw) {
			return "observation_led"
		}
	}
	return "direct"
}

// ctaKeywords is checked in order; the first keyword found in the body
// decides the tag.
var ctaKeywords = []struct{ kw, tag string }{
	{"worth a quick call", "soft_call_ask"},
	{"open to a chat", "soft_call_ask"},
	{"15 minutes", "time_boxed_call_ask"},
	{"book a time", "scheduling_link"},
	{"grab time", "scheduling_link"},
	{"reply if interested", "low_friction_reply"},
	{"thoughts?", "low_friction_reply"},
}

func ctaPattern(body string) string {
	lower := strings.ToLower(body)
	for _, k := range ctaKeywords {
		if strings.Contains(lower, k.kw) {
			return k.tag
		}
	}
	return "none_detected"
}

func lengthBucket(body string) string {
	words := len(strings.Fields(body))
	switch {
	case words == 0:
		return ""
	case words < 60:
		return "short"
	case words < 120:
		return "medium"
	default:
		return "long"
	}
}

func firstSentence(body string) string {
	idx := strings.IndexAny(body, ".!?\n")
	if idx == -1 {
		return body
	}
	return body[:idx]
}
