package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ignite/salesloop/internal/domain"
	ierrors "github.com/ignite/salesloop/internal/errors"
	"github.com/ignite/salesloop/internal/eventbus"
	"github.com/ignite/salesloop/internal/pkg/logger"
	"github.com/ignite/salesloop/internal/providers/email"
	"github.com/ignite/salesloop/internal/providers/linkedin"
	"github.com/ignite/salesloop/internal/reviewer"
)

// EventEngagementReceived is the event type the webhook edge emits for any
// inbound provider signal (open, click, reply, connection, etc.); the
// orchestrator is its sole consumer.
const EventEngagementReceived = "orchestration.engagement"

// EngagementPayload carries one normalized provider signal.
type EngagementPayload struct {
	LeadID        string `json:"lead_id"`
	Name          string `json:"name"` // e.g. "linkedin_connected", "email_replied"
	Sentiment     string `json:"sentiment,omitempty"`
	InterestLevel string `json:"interest_level,omitempty"`
}

// OrchestrationRepository persists OrchestrationState with optimistic
// concurrency: Update fails with ierrors.KindConflict if the stored
// version no longer matches expectedVersion, and the caller re-reads
// and retries.
type OrchestrationRepository interface {
	GetByLead(ctx context.Context, tenantID, leadID string) (*domain.OrchestrationState, error)
	Create(ctx context.Context, state *domain.OrchestrationState) error
	Update(ctx context.Context, state *domain.OrchestrationState, expectedVersion int) error
}

// EventLogRepository appends OrchestrationEvent rows. Record is a no-op
// returning (false, nil) when (LeadID, EventType, StepNumber,
// SourceEventID) already exists, giving exactly-once application of a
// given action under at-least-once delivery.
type EventLogRepository interface {
	Record(ctx context.Context, ev *domain.OrchestrationEvent) (applied bool, err error)
}

type LeadRepository interface {
	Get(ctx context.Context, tenantID, leadID string) (*domain.Lead, error)
	SetStatus(ctx context.Context, tenantID, leadID string, status domain.LeadStatus) error
}

type SequenceRepository interface {
	Get(ctx context.Context, tenantID, sequenceID string) (*domain.Sequence, error)
}

type Notifier interface {
	Send(ctx context.Context, channel string, payload map[string]any) error
}

// OutreachRecorder is the attribution stage's ingestion port: every
// successful send is recorded so later engagement webhooks can be
// joined back to it.
type OutreachRecorder interface {
	RecordOutreach(ctx context.Context, ev *domain.OutreachEvent) error
}

// EmailSender is the narrow slice of the email provider port the
// orchestrator drives: enroll on the first step, push updated merge
// fields (including the send-time copy-variant selection) on every
// later step.
type EmailSender interface {
	AddLeadToCampaign(ctx context.Context, campaignID string, lead email.Lead, customFields map[string]string) error
	UpdateLeadCustomFields(ctx context.Context, campaignID, leadEmail string, customFields map[string]string) error
	PauseLead(ctx context.Context, campaignID, leadEmail string) error
}

// LinkedInSender is the narrow slice of the LinkedIn provider port the
// orchestrator drives.
type LinkedInSender interface {
	AddLeadToCampaign(ctx context.Context, campaignID string, lead linkedin.Lead) error
	SendMessage(ctx context.Context, campaignID, profileURL, body string) error
}

// ProviderResolver routes a tenant's active_email_provider /
// active_linkedin_provider selection to concrete adapters. All provider
// calls go through this resolver, never compile-time vendor branching.
type ProviderResolver interface {
	EmailSenderFor(ctx context.Context, tenantID string) (EmailSender, error)
	LinkedInSenderFor(ctx context.Context, tenantID string) (LinkedInSender, error)
}

// Service is the imperative shell around the pure ProcessEvent engine:
// it loads state, calls ProcessEvent, applies the returned actions
// against the provider ports, and persists the new state under
// optimistic concurrency.
type Service struct {
	states    OrchestrationRepository
	events    EventLogRepository
	leads     LeadRepository
	sequences SequenceRepository
	notifier  Notifier
	providers ProviderResolver
	outreach  OutreachRecorder
	bus       *eventbus.Bus
	now       func() time.Time
}

func NewService(states OrchestrationRepository, events EventLogRepository, leads LeadRepository, sequences SequenceRepository, notifier Notifier, providers ProviderResolver, outreach OutreachRecorder, bus *eventbus.Bus) *Service {
	return &Service{states: states, events: events, leads: leads, sequences: sequences, notifier: notifier, providers: providers, outreach: outreach, bus: bus, now: time.Now}
}

// HandleApproved is registered against reviewer.EventSequenceApproved
// and initializes the OrchestrationState for a newly approved sequence.
func (s *Service) HandleApproved(ctx context.Context, sc *eventbus.StepContext, ev eventbus.Event) error {
	var payload reviewer.SequenceApprovedPayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		return ierrors.NonRetriable("decode sequence.approved payload", err)
	}

	if existing, err := s.states.GetByLead(ctx, ev.TenantID, payload.LeadID); err == nil && existing != nil {
		return nil // already initialized by a prior delivery
	}

	seq, err := s.sequences.Get(ctx, ev.TenantID, payload.SequenceID)
	if err != nil {
		return ierrors.NonRetriable("sequence lookup failed", err)
	}

	state := domain.OrchestrationState{
		TenantID:     ev.TenantID,
		LeadID:       payload.LeadID,
		SequenceID:   seq.ID,
		CampaignMode: seq.CampaignMode,
		Status:       domain.OrchestrationPending,
	}
	return s.apply(ctx, sc, ev.TenantID, &state, 0, Input{EventType: EventSequenceApproved, Now: s.now(), Sequence: seq}, true)
}

// EventOrchestrationTick is emitted by the worker's scheduling cron,
// one event per runnable orchestration, so each tick shares the same
// per-lead serialization lock as engagement deliveries.
const EventOrchestrationTick = "orchestration.tick"

// TickPayload is EventOrchestrationTick's payload.
type TickPayload struct {
	LeadID string `json:"lead_id"`
}

// HandleTickEvent adapts HandleTick to the eventbus.Handler signature.
func (s *Service) HandleTickEvent(ctx context.Context, sc *eventbus.StepContext, ev eventbus.Event) error {
	var payload TickPayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		return ierrors.NonRetriable("decode orchestration.tick payload", err)
	}
	return s.HandleTick(ctx, sc, ev.TenantID, payload.LeadID)
}

// HandleTick advances one lead's OrchestrationState on a tick. The
// worker's cron fans ticks out per lead (see EventOrchestrationTick);
// HandleTick itself processes one lead so its per-lead eventbus lock (keyed on LeadID)
// serializes concurrent ticks and engagement deliveries for the same
// lead.
func (s *Service) HandleTick(ctx context.Context, sc *eventbus.StepContext, tenantID, leadID string) error {
	return s.process(ctx, sc, tenantID, leadID, Input{EventType: EventTick, Now: s.now()})
}

// HandleEngagement is registered against EventEngagementReceived.
func (s *Service) HandleEngagement(ctx context.Context, sc *eventbus.StepContext, ev eventbus.Event) error {
	var payload EngagementPayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		return ierrors.NonRetriable("decode orchestration.engagement payload", err)
	}
	return s.process(ctx, sc, ev.TenantID, payload.LeadID, Input{
		EventType: EventEngagement, EngagementName: payload.Name, Sentiment: payload.Sentiment,
		InterestLevel: payload.InterestLevel, SourceEventID: ev.ID.String(), Now: s.now(),
	})
}

func (s *Service) process(ctx context.Context, sc *eventbus.StepContext, tenantID, leadID string, in Input) error {
	state, err := s.states.GetByLead(ctx, tenantID, leadID)
	if err != nil {
		return ierrors.NonRetriable("orchestration state lookup failed", err)
	}
	if state == nil {
		return nil // sequence not yet approved for this lead
	}

	seq, err := s.sequences.Get(ctx, tenantID, state.SequenceID)
	if err != nil {
		return ierrors.NonRetriable("sequence lookup failed", err)
	}
	in.Sequence = seq

	return s.apply(ctx, sc, tenantID, state, state.Version, in, false)
}

// apply runs the pure engine, executes the returned actions against
// the provider ports, and persists the resulting state. It does not
// retry an optimistic-concurrency conflict itself: it returns a
// retriable error, and the bus's redelivery re-reads current state.
func (s *Service) apply(ctx context.Context, sc *eventbus.StepContext, tenantID string, state *domain.OrchestrationState, expectedVersion int, in Input, isNew bool) error {
	newState, actions, _ := ProcessEvent(*state, in)

	// Log the inbound signal itself before the actions it caused, so the
	// audit trail reads signal-then-reaction (spec's append-only
	// OrchestrationEvent contract). Re-deliveries of the same bus event
	// dedupe on SourceEventID.
	if in.EventType == EventEngagement && in.EngagementName != "" {
		if _, err := s.events.Record(ctx, &domain.OrchestrationEvent{
			TenantID: tenantID, LeadID: state.LeadID, SequenceID: state.SequenceID,
			EventType: in.EngagementName, SourceEventID: in.SourceEventID,
		}); err != nil {
			return ierrors.Retriable("record engagement event", err)
		}
	}

	for i, a := range actions {
		stepName := fmt.Sprintf("action_%s_%d_%d", in.EventType, i, a.StepNumber)
		var applied bool
		if err := sc.Checkpoint(ctx, stepName, &applied, func() (any, error) {
			ok, err := s.applyAction(ctx, tenantID, state.LeadID, &newState, in.Sequence, a, in.SourceEventID)
			return ok, err
		}); err != nil {
			return err
		}
		advanceChannelState(&newState, a)
	}

	if isNew {
		newState.Version = 1
		if err := s.states.Create(ctx, &newState); err != nil {
			return ierrors.Retriable("persist orchestration state", err)
		}
		return nil
	}

	if err := s.states.Update(ctx, &newState, expectedVersion); err != nil {
		if ierrors.KindOf(err) == ierrors.KindConflict {
			logger.Warn("orchestrator: optimistic concurrency conflict, will retry on next delivery", "lead_id", state.LeadID)
			return ierrors.Retriable("orchestration state version conflict", err)
		}
		return ierrors.Retriable("persist orchestration state", err)
	}
	return nil
}

// advanceChannelState updates per-channel step counters/schedule after
// a send action is applied. This is kept in the shell (not the pure
// engine) because it depends on the sequence's per-step ScheduledDay,
// which the engine only sees indirectly via Input.Sequence.
func advanceChannelState(state *domain.OrchestrationState, a Action) {
	switch a.Kind {
	case ActionSendEmail:
		state.Email.CurrentStep = a.StepNumber
		if state.Email.CurrentStep >= state.Email.TotalSteps {
			state.Email.Completed = true
		}
	case ActionSendLinkedIn:
		state.LinkedIn.CurrentStep = a.StepNumber
		if state.LinkedIn.CurrentStep >= state.LinkedIn.TotalSteps {
			state.LinkedIn.Completed = true
		}
	}
}

func (s *Service) applyAction(ctx context.Context, tenantID, leadID string, state *domain.OrchestrationState, seq *domain.Sequence, a Action, salt string) (bool, error) {
	// Send actions dedupe on step number alone: the same step must never
	// go out twice no matter which delivery carried it. Everything else
	// dedupes per source event, so a later pause/resume cycle for a new
	// signal is a new log row.
	dedupeKey := fmt.Sprintf("%s:%d", a.Kind, a.StepNumber)
	if a.Kind != ActionSendEmail && a.Kind != ActionSendLinkedIn {
		dedupeKey = fmt.Sprintf("%s:%d:%s", a.Kind, a.StepNumber, salt)
	}
	applied, err := s.events.Record(ctx, &domain.OrchestrationEvent{
		TenantID: tenantID, LeadID: leadID, SequenceID: state.SequenceID,
		EventType: string(a.Kind), Channel: string(a.Channel), StepNumber: stepPtr(a.StepNumber),
		Reason: a.Reason, SourceEventID: dedupeKey,
	})
	if err != nil {
		return false, ierrors.Retriable("record orchestration event", err)
	}
	if !applied {
		return false, nil // already applied by a prior delivery
	}

	lead, err := s.leads.Get(ctx, tenantID, leadID)
	if err != nil {
		return false, ierrors.NonRetriable("lead lookup failed", err)
	}

	switch a.Kind {
	case ActionSendEmail:
		return true, s.sendEmailStep(ctx, seq, lead, state, a.StepNumber)
	case ActionSendLinkedIn:
		return true, s.sendLinkedInStep(ctx, seq, lead, state, a.StepNumber)
	case ActionSyncCopy:
		return true, s.syncConditionalCopy(ctx, seq, lead, state)
	case ActionStop:
		if err := s.leads.SetStatus(ctx, tenantID, leadID, leadStatusForStop(state)); err != nil {
			logger.Error("orchestrator: failed to advance lead status on stop", "lead_id", leadID, "error", err.Error())
		}
		if sender, err := s.providers.EmailSenderFor(ctx, tenantID); err == nil && state.Email.Started {
			if err := sender.PauseLead(ctx, seq.CampaignID, lead.Email); err != nil {
				logger.Warn("orchestrator: provider pause failed", "lead_id", leadID, "error", err.Error())
			}
		}
		return true, nil
	case ActionPause, ActionResume, ActionWait:
		return true, nil // state-only; no provider call
	case ActionAlert:
		if s.notifier != nil {
			_ = s.notifier.Send(ctx, "orchestration_alert", map[string]any{"lead_id": leadID, "reason": a.Reason})
		}
		return true, nil
	default:
		return true, nil
	}
}

// leadStatusForStop maps a terminal orchestration outcome to the lead's
// own lifecycle status.
func leadStatusForStop(state *domain.OrchestrationState) domain.LeadStatus {
	if state.Status == domain.OrchestrationConverted {
		return domain.LeadConverted
	}
	if state.StopReason == "positive_reply" {
		return domain.LeadReplied
	}
	return domain.LeadCold
}

// syncConditionalCopy re-selects the copy variant for every email step
// not yet sent and pushes the result into the provider's custom-field
// store, so provider-held schedules send the updated copy. Steps already
// sent are left untouched.
func (s *Service) syncConditionalCopy(ctx context.Context, seq *domain.Sequence, lead *domain.Lead, state *domain.OrchestrationState) error {
	sender, err := s.providers.EmailSenderFor(ctx, seq.TenantID)
	if err != nil {
		return ierrors.NonRetriable("resolve email provider", err)
	}
	fields := make(map[string]string)
	for _, step := range seq.EmailSteps {
		if step.StepNumber <= state.Email.CurrentStep {
			continue
		}
		fields[fmt.Sprintf("body_%d", step.StepNumber)] = SelectEmailBody(step, state.Signals)
	}
	if len(fields) == 0 {
		return nil
	}
	if err := sender.UpdateLeadCustomFields(ctx, seq.CampaignID, lead.Email, fields); err != nil {
		return ierrors.Retriable("push conditional copy to provider", err)
	}
	return nil
}

func stepPtr(n int) *int {
	if n == 0 {
		return nil
	}
	return &n
}

func (s *Service) sendEmailStep(ctx context.Context, seq *domain.Sequence, lead *domain.Lead, state *domain.OrchestrationState, stepNumber int) error {
	step, ok := findEmailStep(seq.EmailSteps, stepNumber)
	if !ok {
		return ierrors.NonRetriable("email step not found", fmt.Errorf("step %d", stepNumber))
	}
	body := SelectEmailBody(step, state.Signals)
	fields := map[string]string{"subject": step.Subject, "body": body}

	sender, err := s.providers.EmailSenderFor(ctx, seq.TenantID)
	if err != nil {
		return ierrors.NonRetriable("resolve email provider", err)
	}
	if stepNumber <= 1 {
		err = sender.AddLeadToCampaign(ctx, seq.CampaignID, email.Lead{
			Email: lead.Email, FirstName: lead.FirstName, LastName: lead.LastName,
			Title: lead.JobTitle, Company: lead.CompanyName,
		}, fields)
	} else {
		err = sender.UpdateLeadCustomFields(ctx, seq.CampaignID, lead.Email, fields)
	}
	if err != nil {
		return ierrors.Retriable("email provider call failed", err)
	}

	if s.outreach != nil {
		_ = s.outreach.RecordOutreach(ctx, &domain.OutreachEvent{
			TenantID: seq.TenantID, LeadID: lead.ID, SequenceID: seq.ID,
			Channel: "email", StepNumber: stepNumber, Subject: step.Subject, Body: body,
			StrategySnapshot: seq.Strategy, ProviderCampaignID: seq.CampaignID, ProviderLeadID: lead.Email,
			ThreadPosition: stepNumber,
		})
	}
	return nil
}

func (s *Service) sendLinkedInStep(ctx context.Context, seq *domain.Sequence, lead *domain.Lead, state *domain.OrchestrationState, stepNumber int) error {
	step, ok := findLinkedInStep(seq.LinkedInSteps, stepNumber)
	if !ok {
		return ierrors.NonRetriable("linkedin step not found", fmt.Errorf("step %d", stepNumber))
	}

	sender, err := s.providers.LinkedInSenderFor(ctx, seq.TenantID)
	if err != nil {
		return ierrors.NonRetriable("resolve linkedin provider", err)
	}
	if stepNumber <= 1 {
		err = sender.AddLeadToCampaign(ctx, seq.CampaignID, linkedin.Lead{
			ProfileURL: lead.LinkedInURL, FirstName: lead.FirstName, LastName: lead.LastName,
			Title: lead.JobTitle, Company: lead.CompanyName,
		})
	} else {
		body := SelectLinkedInBody(step, state.Signals)
		err = sender.SendMessage(ctx, seq.CampaignID, lead.LinkedInURL, body)
		if err == nil && s.outreach != nil {
			_ = s.outreach.RecordOutreach(ctx, &domain.OutreachEvent{
				TenantID: seq.TenantID, LeadID: lead.ID, SequenceID: seq.ID,
				Channel: "linkedin", StepNumber: stepNumber, Body: body,
				StrategySnapshot: seq.Strategy, ProviderCampaignID: seq.CampaignID, ProviderLeadID: lead.LinkedInURL,
				ThreadPosition: stepNumber,
			})
		}
	}
	if err != nil {
		return ierrors.Retriable("linkedin provider call failed", err)
	}
	return nil
}

func findEmailStep(steps []domain.EmailStep, n int) (domain.EmailStep, bool) {
	for _, st := range steps {
		if st.StepNumber == n {
			return st, true
		}
	}
	return domain.EmailStep{}, false
}

func findLinkedInStep(steps []domain.LinkedInStep, n int) (domain.LinkedInStep, bool) {
	for _, st := range steps {
		if st.StepNumber == n {
			return st, true
		}
	}
	return domain.LinkedInStep{}, false
}
