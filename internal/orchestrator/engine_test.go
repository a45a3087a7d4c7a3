package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/salesloop/internal/domain"
)

func activeState() domain.OrchestrationState {
	return domain.OrchestrationState{
		TenantID: "t1", LeadID: "l1", SequenceID: "s1",
		Status:   domain.OrchestrationActive,
		Email:    domain.ChannelState{Started: true, CurrentStep: 1, TotalSteps: 3},
		LinkedIn: domain.ChannelState{Started: true, CurrentStep: 1, TotalSteps: 2},
	}
}

func multiChannelSequence() *domain.Sequence {
	return &domain.Sequence{
		ID: "s1", TenantID: "t1", LeadID: "l1", CampaignID: "c1",
		EmailSteps: []domain.EmailStep{
			{StepNumber: 1, ScheduledDay: 0, Body: "hello"},
			{StepNumber: 2, ScheduledDay: 3, Body: "plain follow-up", BodyLinkedInConnected: "saw we connected"},
			{StepNumber: 3, ScheduledDay: 7, Body: "last touch"},
		},
		LinkedInSteps: []domain.LinkedInStep{
			{StepNumber: 1, ScheduledDay: 0, Type: "connection_request", ConnectionNote: "hi"},
			{StepNumber: 2, ScheduledDay: 3, Body: "thanks for connecting"},
		},
	}
}

func hasAction(actions []Action, kind ActionKind) bool {
	for _, a := range actions {
		if a.Kind == kind {
			return true
		}
	}
	return false
}

func TestProcessEventLinkedInConnectedSyncsConditionalCopy(t *testing.T) {
	state := activeState()
	next, actions, _ := ProcessEvent(state, Input{
		EventType: EventEngagement, EngagementName: "linkedin_connected",
		Now: time.Now(), Sequence: multiChannelSequence(),
	})

	assert.True(t, next.Signals.LinkedInConnected)
	require.NotNil(t, next.Signals.LinkedInConnectedAt)
	assert.True(t, hasAction(actions, ActionSyncCopy))
	assert.False(t, hasAction(actions, ActionSendEmail), "no send fires immediately on connection")
	assert.Equal(t, domain.OrchestrationActive, next.Status)
}

func TestProcessEventPositiveReplyStops(t *testing.T) {
	state := activeState()
	next, actions, _ := ProcessEvent(state, Input{
		EventType: EventEngagement, EngagementName: "email_replied",
		Sentiment: "positive", Now: time.Now(), Sequence: multiChannelSequence(),
	})

	assert.Equal(t, domain.OrchestrationStopped, next.Status)
	assert.Equal(t, "positive_reply", next.StopReason)
	assert.True(t, next.Email.Paused)
	assert.True(t, next.LinkedIn.Paused)
	assert.True(t, hasAction(actions, ActionStop))
}

func TestProcessEventHotPositiveReplyConverts(t *testing.T) {
	state := activeState()
	next, _, _ := ProcessEvent(state, Input{
		EventType: EventEngagement, EngagementName: "email_replied",
		Sentiment: "positive", InterestLevel: "hot", Now: time.Now(),
	})
	assert.Equal(t, domain.OrchestrationConverted, next.Status)
}

func TestProcessEventNegativeReplyPausesChannelOnly(t *testing.T) {
	state := activeState()
	next, actions, _ := ProcessEvent(state, Input{
		EventType: EventEngagement, EngagementName: "email_replied",
		Sentiment: "negative", Now: time.Now(),
	})
	assert.Equal(t, domain.OrchestrationActive, next.Status)
	assert.True(t, next.Email.Paused)
	assert.False(t, next.LinkedIn.Paused)
	assert.True(t, hasAction(actions, ActionPause))
}

func TestProcessEventBouncePausesEmail(t *testing.T) {
	state := activeState()
	next, actions, _ := ProcessEvent(state, Input{
		EventType: EventEngagement, EngagementName: "email_bounced", Now: time.Now(),
	})
	assert.True(t, next.Email.Paused)
	assert.True(t, hasAction(actions, ActionPause))
	assert.Equal(t, domain.OrchestrationActive, next.Status)
}

func TestProcessEventConnectionClearsWait(t *testing.T) {
	state := activeState()
	state.Status = domain.OrchestrationWaiting
	state.WaitingFor = "linkedin_connection"
	timeout := time.Now().Add(24 * time.Hour)
	state.WaitingTimeoutAt = &timeout

	next, actions, _ := ProcessEvent(state, Input{
		EventType: EventEngagement, EngagementName: "linkedin_connected", Now: time.Now(),
	})

	assert.Equal(t, domain.OrchestrationActive, next.Status)
	assert.Empty(t, next.WaitingFor)
	assert.Nil(t, next.WaitingTimeoutAt)
	assert.True(t, hasAction(actions, ActionResume))
}

func TestProcessEventTickResumesAfterTimeout(t *testing.T) {
	state := activeState()
	state.Status = domain.OrchestrationWaiting
	state.WaitingFor = "linkedin_connection"
	past := time.Now().Add(-time.Hour)
	state.WaitingTimeoutAt = &past

	next, actions, _ := ProcessEvent(state, Input{EventType: EventTick, Now: time.Now()})

	assert.Equal(t, domain.OrchestrationActive, next.Status)
	assert.Empty(t, next.WaitingFor)
	assert.True(t, hasAction(actions, ActionResume))
}

func TestProcessEventTickSendsDueStep(t *testing.T) {
	state := activeState()
	now := time.Now()
	due := now.Add(-time.Minute)
	state.NextEmailScheduledAt = &due

	_, actions, _ := ProcessEvent(state, Input{EventType: EventTick, Now: now})

	require.True(t, hasAction(actions, ActionSendEmail))
	for _, a := range actions {
		if a.Kind == ActionSendEmail {
			assert.Equal(t, 2, a.StepNumber)
		}
	}
}

func TestProcessEventTickSkipsPausedChannel(t *testing.T) {
	state := activeState()
	state.Email.Paused = true
	due := time.Now().Add(-time.Minute)
	state.NextEmailScheduledAt = &due

	_, actions, _ := ProcessEvent(state, Input{EventType: EventTick, Now: time.Now()})
	assert.False(t, hasAction(actions, ActionSendEmail))
}

func TestProcessEventTerminalStateIsNoOp(t *testing.T) {
	for _, status := range []domain.OrchestrationStatus{
		domain.OrchestrationStopped, domain.OrchestrationCompleted, domain.OrchestrationConverted,
	} {
		state := activeState()
		state.Status = status
		next, actions, events := ProcessEvent(state, Input{
			EventType: EventEngagement, EngagementName: "email_opened", Now: time.Now(),
		})
		assert.Equal(t, state, next, "terminal state %s must not change", status)
		assert.Empty(t, actions)
		assert.Empty(t, events)
	}
}

func TestProcessEventInitEmailFirst(t *testing.T) {
	seq := multiChannelSequence()
	state := domain.OrchestrationState{Status: domain.OrchestrationPending}

	next, actions, _ := ProcessEvent(state, Input{EventType: EventSequenceApproved, Now: time.Now(), Sequence: seq})

	assert.Equal(t, domain.OrchestrationActive, next.Status)
	assert.Equal(t, 3, next.Email.TotalSteps)
	assert.Equal(t, 2, next.LinkedIn.TotalSteps)
	assert.True(t, hasAction(actions, ActionSendEmail))
}

func TestProcessEventInitLinkedInFirstWaitsForConnection(t *testing.T) {
	seq := multiChannelSequence()
	seq.Strategy.LinkedInFirst = true
	seq.Strategy.WaitForConnection = true
	seq.Strategy.ConnectionTimeoutHours = 48
	state := domain.OrchestrationState{Status: domain.OrchestrationPending}
	now := time.Unix(1700000000, 0)

	next, actions, _ := ProcessEvent(state, Input{EventType: EventSequenceApproved, Now: now, Sequence: seq})

	assert.True(t, hasAction(actions, ActionSendLinkedIn))
	assert.False(t, hasAction(actions, ActionSendEmail))
	assert.True(t, hasAction(actions, ActionWait))
	assert.True(t, next.LinkedIn.Started)
	assert.False(t, next.Email.Started)
	assert.Equal(t, domain.OrchestrationWaiting, next.Status)
	assert.Equal(t, "linkedin_connection", next.WaitingFor)
	require.NotNil(t, next.WaitingSince)
	require.NotNil(t, next.WaitingTimeoutAt)
	assert.Equal(t, now.Add(48*time.Hour), *next.WaitingTimeoutAt)
}

func TestProcessEventInitLinkedInFirstNoWaitStartsBothArms(t *testing.T) {
	seq := multiChannelSequence()
	seq.Strategy.LinkedInFirst = true
	state := domain.OrchestrationState{Status: domain.OrchestrationPending}

	next, actions, _ := ProcessEvent(state, Input{EventType: EventSequenceApproved, Now: time.Now(), Sequence: seq})

	assert.True(t, hasAction(actions, ActionSendLinkedIn))
	assert.True(t, hasAction(actions, ActionSendEmail))
	assert.Equal(t, domain.OrchestrationActive, next.Status)
}

// Connection-hold state: LinkedIn arm went out, email arm never started.
func connectionHoldState(deadline time.Time) domain.OrchestrationState {
	return domain.OrchestrationState{
		TenantID: "t1", LeadID: "l1", SequenceID: "s1",
		Status:           domain.OrchestrationWaiting,
		WaitingFor:       "linkedin_connection",
		WaitingTimeoutAt: &deadline,
		Email:            domain.ChannelState{TotalSteps: 3},
		LinkedIn:         domain.ChannelState{Started: true, CurrentStep: 1, TotalSteps: 2},
	}
}

func TestProcessEventTickTimeoutStartsHeldEmailArm(t *testing.T) {
	now := time.Unix(1700000000, 0)
	state := connectionHoldState(now.Add(-time.Hour))

	next, actions, _ := ProcessEvent(state, Input{EventType: EventTick, Now: now, Sequence: multiChannelSequence()})

	assert.Equal(t, domain.OrchestrationActive, next.Status)
	assert.Empty(t, next.WaitingFor)
	assert.Nil(t, next.WaitingTimeoutAt)
	assert.True(t, next.Email.Started, "the held email arm starts once the connection wait times out")
	assert.True(t, hasAction(actions, ActionResume))
	require.True(t, hasAction(actions, ActionSendEmail))
	for _, a := range actions {
		if a.Kind == ActionSendEmail {
			assert.Equal(t, 1, a.StepNumber)
		}
	}
}

func TestProcessEventConnectionStartsHeldEmailArm(t *testing.T) {
	now := time.Unix(1700000000, 0)
	state := connectionHoldState(now.Add(24 * time.Hour))

	next, actions, _ := ProcessEvent(state, Input{
		EventType: EventEngagement, EngagementName: "linkedin_connected", Now: now, Sequence: multiChannelSequence(),
	})

	assert.Equal(t, domain.OrchestrationActive, next.Status)
	assert.True(t, next.Signals.LinkedInConnected)
	assert.True(t, next.Email.Started)
	assert.True(t, hasAction(actions, ActionResume))
	assert.True(t, hasAction(actions, ActionSendEmail))
}

func TestProcessEventTickStepWaitForLinkedInHolds(t *testing.T) {
	seq := multiChannelSequence()
	seq.EmailSteps[1].WaitForLinkedIn = &domain.WaitFor{Event: "linkedin_replied", TimeoutHours: 48}
	state := activeState()
	now := time.Unix(1700000000, 0)
	due := now.Add(-time.Minute)
	state.NextEmailScheduledAt = &due

	next, actions, _ := ProcessEvent(state, Input{EventType: EventTick, Now: now, Sequence: seq})

	assert.Equal(t, domain.OrchestrationWaiting, next.Status)
	assert.Equal(t, "linkedin_replied", next.WaitingFor)
	require.NotNil(t, next.WaitingTimeoutAt)
	assert.Equal(t, now.Add(48*time.Hour), *next.WaitingTimeoutAt)
	assert.True(t, hasAction(actions, ActionWait))
	assert.False(t, hasAction(actions, ActionSendEmail), "the waited-on step must not send yet")
}

func TestProcessEventTickStepWaitSatisfiedSends(t *testing.T) {
	seq := multiChannelSequence()
	seq.EmailSteps[1].WaitForLinkedIn = &domain.WaitFor{Event: "linkedin_replied", TimeoutHours: 48}
	state := activeState()
	state.Signals.LinkedInReplied = true
	now := time.Unix(1700000000, 0)
	due := now.Add(-time.Minute)
	state.NextEmailScheduledAt = &due

	next, actions, _ := ProcessEvent(state, Input{EventType: EventTick, Now: now, Sequence: seq})

	assert.Equal(t, domain.OrchestrationActive, next.Status)
	assert.True(t, hasAction(actions, ActionSendEmail))
	assert.False(t, hasAction(actions, ActionWait))
}

func TestProcessEventTickStepWaitTimeoutSendsAnyway(t *testing.T) {
	seq := multiChannelSequence()
	seq.EmailSteps[1].WaitForLinkedIn = &domain.WaitFor{Event: "linkedin_replied", TimeoutHours: 48}
	now := time.Unix(1700000000, 0)
	state := activeState()
	state.Status = domain.OrchestrationWaiting
	state.WaitingFor = "linkedin_replied"
	deadline := now.Add(-time.Minute)
	state.WaitingTimeoutAt = &deadline
	due := now.Add(-time.Hour)
	state.NextEmailScheduledAt = &due

	next, actions, _ := ProcessEvent(state, Input{EventType: EventTick, Now: now, Sequence: seq})

	assert.Equal(t, domain.OrchestrationActive, next.Status)
	assert.True(t, hasAction(actions, ActionResume))
	assert.True(t, hasAction(actions, ActionSendEmail), "a timed-out step wait sends with the base copy instead of re-waiting")
}

func TestProcessEventEngagementClearsStepWait(t *testing.T) {
	now := time.Unix(1700000000, 0)
	state := activeState()
	state.Status = domain.OrchestrationWaiting
	state.WaitingFor = "linkedin_replied"
	deadline := now.Add(24 * time.Hour)
	state.WaitingTimeoutAt = &deadline

	next, actions, _ := ProcessEvent(state, Input{
		EventType: EventEngagement, EngagementName: "linkedin_replied", Sentiment: "negative", Now: now,
	})

	assert.Equal(t, domain.OrchestrationActive, next.Status)
	assert.Empty(t, next.WaitingFor)
	assert.True(t, hasAction(actions, ActionResume))
}

func TestProcessEventTickRequiresConnectionHolds(t *testing.T) {
	seq := multiChannelSequence()
	seq.LinkedInSteps[1].RequiresConnection = true
	seq.Strategy.ConnectionTimeoutHours = 24
	state := activeState()
	now := time.Unix(1700000000, 0)
	due := now.Add(-time.Minute)
	state.NextLinkedInScheduledAt = &due

	next, actions, _ := ProcessEvent(state, Input{EventType: EventTick, Now: now, Sequence: seq})

	assert.Equal(t, domain.OrchestrationWaiting, next.Status)
	assert.Equal(t, "linkedin_connection", next.WaitingFor)
	assert.True(t, hasAction(actions, ActionWait))
	assert.False(t, hasAction(actions, ActionSendLinkedIn))
}

func TestProcessEventTickConnectionTimeoutParksLinkedIn(t *testing.T) {
	seq := multiChannelSequence()
	seq.LinkedInSteps[1].RequiresConnection = true
	now := time.Unix(1700000000, 0)
	state := activeState()
	state.Status = domain.OrchestrationWaiting
	state.WaitingFor = "linkedin_connection"
	deadline := now.Add(-time.Minute)
	state.WaitingTimeoutAt = &deadline
	due := now.Add(-time.Hour)
	state.NextLinkedInScheduledAt = &due

	next, actions, _ := ProcessEvent(state, Input{EventType: EventTick, Now: now, Sequence: seq})

	assert.True(t, next.LinkedIn.Paused, "an unconnected requires_connection step parks the LinkedIn arm")
	assert.True(t, hasAction(actions, ActionPause))
	assert.False(t, hasAction(actions, ActionSendLinkedIn))
	assert.Equal(t, domain.OrchestrationActive, next.Status)
}

func TestProcessEventTickTriggerLinkedInCrossFires(t *testing.T) {
	seq := multiChannelSequence()
	target := 2
	seq.EmailSteps[1].TriggerLinkedIn = &target
	state := activeState()
	now := time.Unix(1700000000, 0)
	due := now.Add(-time.Minute)
	state.NextEmailScheduledAt = &due

	_, actions, _ := ProcessEvent(state, Input{EventType: EventTick, Now: now, Sequence: seq})

	assert.True(t, hasAction(actions, ActionSendEmail))
	require.True(t, hasAction(actions, ActionSendLinkedIn), "trigger_linkedin fires the named step on the other channel")
	for _, a := range actions {
		if a.Kind == ActionSendLinkedIn {
			assert.Equal(t, target, a.StepNumber)
		}
	}
}

func TestProcessEventIsDeterministic(t *testing.T) {
	state := activeState()
	in := Input{
		EventType: EventEngagement, EngagementName: "linkedin_connected",
		Now: time.Unix(1700000000, 0), Sequence: multiChannelSequence(),
	}
	a1, acts1, _ := ProcessEvent(state, in)
	a2, acts2, _ := ProcessEvent(state, in)
	assert.Equal(t, a1, a2)
	assert.Equal(t, acts1, acts2)
}

func TestEvaluateTriggersRestrictedGrammar(t *testing.T) {
	state := activeState()
	state.Signals.LinkedInReplied = true
	seq := multiChannelSequence()
	seq.Strategy.CrossChannelTriggers = []string{
		"not a trigger at all",
		"unknown_condition -> pause_email",
		"linkedin_replied -> pause_email",
	}

	next, actions, _ := ProcessEvent(state, Input{
		EventType: EventEngagement, EngagementName: "email_opened",
		Now: time.Now(), Sequence: seq,
	})

	assert.True(t, next.Email.Paused)
	assert.True(t, hasAction(actions, ActionPause))
}

func TestEvaluateTriggersStop(t *testing.T) {
	state := activeState()
	seq := multiChannelSequence()
	seq.Strategy.CrossChannelTriggers = []string{"email_clicked -> stop"}

	next, _, _ := ProcessEvent(state, Input{
		EventType: EventEngagement, EngagementName: "email_clicked",
		Now: time.Now(), Sequence: seq,
	})

	assert.Equal(t, domain.OrchestrationStopped, next.Status)
	assert.Equal(t, "cross_channel_trigger", next.StopReason)
}

func TestSelectEmailBodyPriority(t *testing.T) {
	step := domain.EmailStep{
		Body:                  "base",
		BodyLinkedInConnected: "connected copy",
		BodyLinkedInReplied:   "replied copy",
	}

	assert.Equal(t, "base", SelectEmailBody(step, domain.CrossChannelSignals{}))
	assert.Equal(t, "connected copy", SelectEmailBody(step, domain.CrossChannelSignals{LinkedInConnected: true}))
	assert.Equal(t, "replied copy", SelectEmailBody(step, domain.CrossChannelSignals{LinkedInConnected: true, LinkedInReplied: true}))
}

func TestSelectLinkedInBodyFallback(t *testing.T) {
	step := domain.LinkedInStep{BodyFallback: "fallback", BodyEmailOpened: "opened copy"}
	assert.Equal(t, "fallback", SelectLinkedInBody(step, domain.CrossChannelSignals{}))
	assert.Equal(t, "opened copy", SelectLinkedInBody(step, domain.CrossChannelSignals{EmailOpened: true}))
}

func TestValidateTransition(t *testing.T) {
	cases := []struct {
		from, to domain.OrchestrationStatus
		ok       bool
	}{
		{domain.OrchestrationPending, domain.OrchestrationActive, true},
		{domain.OrchestrationActive, domain.OrchestrationPaused, true},
		{domain.OrchestrationActive, domain.OrchestrationConverted, true},
		{domain.OrchestrationWaiting, domain.OrchestrationActive, true},
		{domain.OrchestrationPaused, domain.OrchestrationStopped, true},
		{domain.OrchestrationStopped, domain.OrchestrationActive, false},
		{domain.OrchestrationCompleted, domain.OrchestrationActive, false},
		{domain.OrchestrationPending, domain.OrchestrationWaiting, false},
	}
	for _, c := range cases {
		err := ValidateTransition(c.from, c.to)
		if c.ok {
			assert.NoError(t, err, "%s -> %s", c.from, c.to)
		} else {
			assert.Error(t, err, "%s -> %s", c.from, c.to)
		}
	}
}

// Folding a stream of engagement signals one event at a time must land
// on the same final state as folding them with pauses/retries in
// between: the engine is pure, so re-application of the identical
// prefix reproduces the identical intermediate states.
func TestProcessEventFoldIsSplitInvariant(t *testing.T) {
	seq := multiChannelSequence()
	now := time.Unix(1700000000, 0)
	stream := []Input{
		{EventType: EventEngagement, EngagementName: "email_opened", Now: now, Sequence: seq},
		{EventType: EventEngagement, EngagementName: "linkedin_connected", Now: now, Sequence: seq},
		{EventType: EventEngagement, EngagementName: "email_replied", Sentiment: "positive", Now: now, Sequence: seq},
	}

	fold := func(inputs []Input) domain.OrchestrationState {
		state := activeState()
		for _, in := range inputs {
			state, _, _ = ProcessEvent(state, in)
		}
		return state
	}

	all := fold(stream)

	// Split the stream at every position; fold each half separately.
	for i := 1; i < len(stream); i++ {
		head := fold(stream[:i])
		state := head
		for _, in := range stream[i:] {
			state, _, _ = ProcessEvent(state, in)
		}
		assert.Equal(t, all, state, "split at %d diverged", i)
	}

	assert.Equal(t, domain.OrchestrationStopped, all.Status)
	assert.Equal(t, "positive_reply", all.StopReason)
}
