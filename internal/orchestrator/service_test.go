package orchestrator

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/salesloop/internal/domain"
	"github.com/ignite/salesloop/internal/eventbus"
	"github.com/ignite/salesloop/internal/providers/email"
	"github.com/ignite/salesloop/internal/providers/linkedin"
)

type fakeStates struct {
	state   *domain.OrchestrationState
	updated *domain.OrchestrationState
	created *domain.OrchestrationState
}

func (f *fakeStates) GetByLead(ctx context.Context, tenantID, leadID string) (*domain.OrchestrationState, error) {
	if f.state == nil {
		return nil, nil
	}
	cp := *f.state
	return &cp, nil
}

func (f *fakeStates) Create(ctx context.Context, state *domain.OrchestrationState) error {
	f.created = state
	return nil
}

func (f *fakeStates) Update(ctx context.Context, state *domain.OrchestrationState, expectedVersion int) error {
	f.updated = state
	return nil
}

type fakeEventLog struct {
	events []domain.OrchestrationEvent
}

func (f *fakeEventLog) Record(ctx context.Context, ev *domain.OrchestrationEvent) (bool, error) {
	for _, existing := range f.events {
		if existing.LeadID == ev.LeadID && existing.EventType == ev.EventType && existing.SourceEventID == ev.SourceEventID {
			return false, nil
		}
	}
	f.events = append(f.events, *ev)
	return true, nil
}

func (f *fakeEventLog) types() []string {
	var out []string
	for _, e := range f.events {
		out = append(out, e.EventType)
	}
	return out
}

type fakeLeadStore struct {
	lead   *domain.Lead
	status domain.LeadStatus
}

func (f *fakeLeadStore) Get(ctx context.Context, tenantID, leadID string) (*domain.Lead, error) {
	if f.lead == nil {
		return nil, fmt.Errorf("lead %s not found", leadID)
	}
	return f.lead, nil
}

func (f *fakeLeadStore) SetStatus(ctx context.Context, tenantID, leadID string, status domain.LeadStatus) error {
	f.status = status
	return nil
}

type fakeSeqStore struct {
	seq *domain.Sequence
}

func (f *fakeSeqStore) Get(ctx context.Context, tenantID, sequenceID string) (*domain.Sequence, error) {
	return f.seq, nil
}

type fakeEmailSender struct {
	enrolled     []string
	fieldsPushed []map[string]string
	paused       []string
}

func (f *fakeEmailSender) AddLeadToCampaign(ctx context.Context, campaignID string, lead email.Lead, customFields map[string]string) error {
	f.enrolled = append(f.enrolled, lead.Email)
	return nil
}

func (f *fakeEmailSender) UpdateLeadCustomFields(ctx context.Context, campaignID, leadEmail string, customFields map[string]string) error {
	f.fieldsPushed = append(f.fieldsPushed, customFields)
	return nil
}

func (f *fakeEmailSender) PauseLead(ctx context.Context, campaignID, leadEmail string) error {
	f.paused = append(f.paused, leadEmail)
	return nil
}

type fakeLinkedInSender struct {
	messages []string
}

func (f *fakeLinkedInSender) AddLeadToCampaign(ctx context.Context, campaignID string, lead linkedin.Lead) error {
	return nil
}

func (f *fakeLinkedInSender) SendMessage(ctx context.Context, campaignID, profileURL, body string) error {
	f.messages = append(f.messages, body)
	return nil
}

type fakeResolver struct {
	email *fakeEmailSender
	li    *fakeLinkedInSender
}

func (f *fakeResolver) EmailSenderFor(ctx context.Context, tenantID string) (EmailSender, error) {
	return f.email, nil
}

func (f *fakeResolver) LinkedInSenderFor(ctx context.Context, tenantID string) (LinkedInSender, error) {
	return f.li, nil
}

func newServiceUnderTest(state *domain.OrchestrationState, seq *domain.Sequence) (*Service, *fakeStates, *fakeEventLog, *fakeLeadStore, *fakeEmailSender) {
	states := &fakeStates{state: state}
	events := &fakeEventLog{}
	leads := &fakeLeadStore{lead: &domain.Lead{ID: "l1", TenantID: "t1", Email: "alice@acme.io", FirstName: "Alice"}}
	emailSender := &fakeEmailSender{}
	resolver := &fakeResolver{email: emailSender, li: &fakeLinkedInSender{}}
	svc := NewService(states, events, leads, &fakeSeqStore{seq: seq}, nil, resolver, nil, nil)
	svc.now = func() time.Time { return time.Unix(1700000000, 0) }
	return svc, states, events, leads, emailSender
}

// Scenario: a LinkedIn connection lands mid-email-sequence. The
// connected copy for every unsent email step is pushed to the provider,
// no send fires, and the audit log records the signal before the
// cross-channel trigger.
func TestHandleEngagementConnectionSyncsCopy(t *testing.T) {
	state := activeState()
	state.Version = 3
	seq := multiChannelSequence()
	svc, states, events, _, emailSender := newServiceUnderTest(&state, seq)

	sc := eventbus.NewStepContext(nil, uuid.New())
	err := svc.process(context.Background(), sc, "t1", "l1", Input{
		EventType: EventEngagement, EngagementName: "linkedin_connected",
		SourceEventID: "ev-123", Now: svc.now(),
	})
	require.NoError(t, err)

	require.NotNil(t, states.updated)
	assert.True(t, states.updated.Signals.LinkedInConnected)

	require.Len(t, emailSender.fieldsPushed, 1)
	pushed := emailSender.fieldsPushed[0]
	assert.Equal(t, "saw we connected", pushed["body_2"], "step 2 swaps to the connected variant")
	assert.Equal(t, "last touch", pushed["body_3"], "step 3 has no variant, keeps base copy")
	assert.NotContains(t, pushed, "body_1", "already-sent steps are never modified")

	assert.Equal(t, []string{"linkedin_connected", "cross_channel_trigger"}, events.types())
	assert.Empty(t, emailSender.enrolled, "no send fires on a connection signal")
}

// Scenario: a positive reply stops the orchestration, pauses the lead
// at the provider, and advances the lead's own status.
func TestHandleEngagementPositiveReplyStops(t *testing.T) {
	state := activeState()
	state.Version = 1
	seq := multiChannelSequence()
	svc, states, events, leads, emailSender := newServiceUnderTest(&state, seq)

	sc := eventbus.NewStepContext(nil, uuid.New())
	err := svc.process(context.Background(), sc, "t1", "l1", Input{
		EventType: EventEngagement, EngagementName: "email_replied",
		Sentiment: "positive", SourceEventID: "ev-456", Now: svc.now(),
	})
	require.NoError(t, err)

	require.NotNil(t, states.updated)
	assert.Equal(t, domain.OrchestrationStopped, states.updated.Status)
	assert.Equal(t, "positive_reply", states.updated.StopReason)
	assert.Equal(t, domain.LeadReplied, leads.status)
	assert.Equal(t, []string{"alice@acme.io"}, emailSender.paused)
	assert.Contains(t, events.types(), "stop")
}

// Re-delivering the same bus event must not duplicate provider calls:
// the event-log uniqueness check reports "already applied" on replay.
func TestHandleEngagementRedeliveryIsIdempotent(t *testing.T) {
	state := activeState()
	seq := multiChannelSequence()
	svc, _, events, _, emailSender := newServiceUnderTest(&state, seq)

	sc := eventbus.NewStepContext(nil, uuid.New())
	in := Input{
		EventType: EventEngagement, EngagementName: "linkedin_connected",
		SourceEventID: "ev-789", Now: svc.now(),
	}
	require.NoError(t, svc.process(context.Background(), sc, "t1", "l1", in))
	require.NoError(t, svc.process(context.Background(), sc, "t1", "l1", in))

	assert.Len(t, emailSender.fieldsPushed, 1, "replayed action must not call the provider twice")
	assert.Len(t, events.events, 2)
}

func TestHandleEngagementNoStateIsNoOp(t *testing.T) {
	svc, states, events, _, _ := newServiceUnderTest(nil, multiChannelSequence())
	sc := eventbus.NewStepContext(nil, uuid.New())

	err := svc.process(context.Background(), sc, "t1", "l1", Input{
		EventType: EventEngagement, EngagementName: "email_opened", Now: svc.now(),
	})
	require.NoError(t, err)
	assert.Nil(t, states.updated)
	assert.Empty(t, events.events)
}
