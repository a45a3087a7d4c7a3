// Package orchestrator implements the Orchestrator (spec component
// C11, section 4.11): a pure processEvent(state, eventType, channel,
// data) -> (newState, actions, newEvents) function plus the imperative
// shell that applies its actions. Grounded on the teacher's
// ticker-driven automation.FlowEngine advance-execution loop
// (internal/automation), generalized from a single linear journey to a
// cross-channel state machine with a restricted trigger-condition
// grammar.
package orchestrator

import (
	"fmt"
	"strings"
	"time"

	"github.com/ignite/salesloop/internal/domain"
)

// EventType enumerates the inputs ProcessEvent understands.
type EventType string

const (
	EventSequenceApproved EventType = "sequence_approved"
	EventTick             EventType = "tick"
	EventEngagement       EventType = "engagement"
)

// Channel identifies which delivery channel an input or action concerns.
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelLinkedIn Channel = "linkedin"
	ChannelNone     Channel = ""
)

// ActionKind enumerates what the imperative shell must do in response
// to a pure ProcessEvent call.
type ActionKind string

const (
	ActionSendEmail    ActionKind = "send_email"
	ActionSendLinkedIn ActionKind = "send_linkedin"
	ActionPause        ActionKind = "pause"
	ActionResume       ActionKind = "resume"
	ActionStop         ActionKind = "stop"
	ActionWait         ActionKind = "wait"
	ActionAlert        ActionKind = "alert"
	// ActionSyncCopy pushes the send-time copy-variant selection for the
	// remaining unsent email steps into the email provider's custom-field
	// store, so provider-held schedules pick up the new copy without
	// regeneration. Already-sent steps are never modified.
	ActionSyncCopy ActionKind = "cross_channel_trigger"
)

// Action is one side effect ProcessEvent asks the shell to perform.
// StepNumber is set for send actions; Channel is set for
// pause/resume/wait; Reason documents why for stop/alert/wait;
// TimeoutHours is set for wait actions.
type Action struct {
	Kind         ActionKind
	Channel      Channel
	StepNumber   int
	Reason       string
	TimeoutHours int
}

// waitLinkedInConnection is the WaitingFor value for a connection hold
// (linkedin_first + wait_for_connection campaigns, and any
// requires_connection step reached before the connection lands).
const waitLinkedInConnection = "linkedin_connection"

// defaultConnectionTimeoutHours bounds a connection wait when the
// strategy doesn't carry its own timeout; defaultStepWaitHours bounds a
// per-step wait_for_* hold with no explicit timeout.
const (
	defaultConnectionTimeoutHours = 72
	defaultStepWaitHours          = 24
)

// Input is everything ProcessEvent reads beyond the current state.
type Input struct {
	EventType EventType
	Channel   Channel
	// EngagementName carries the specific signal for EventEngagement,
	// e.g. "linkedin_connected", "email_replied".
	EngagementName string
	Sentiment      string // "positive", "negative", "neutral"; set on reply events
	InterestLevel  string // "hot" upgrades a positive reply to converted
	// SourceEventID is the delivering bus event's id; it salts the
	// OrchestrationEvent uniqueness key so distinct engagement deliveries
	// never collapse into one log row.
	SourceEventID string
	Now           time.Time
	Sequence      *domain.Sequence
}

// ProcessEvent is the pure core: given the current OrchestrationState
// and one Input, it derives the next state and the actions/new events
// the shell must apply. It never performs IO and is safe to call
// repeatedly with the same arguments (replay-safe).
func ProcessEvent(state domain.OrchestrationState, in Input) (domain.OrchestrationState, []Action, []string) {
	if state.Status.IsTerminal() {
		return state, nil, nil
	}

	switch in.EventType {
	case EventSequenceApproved:
		return processInit(state, in)
	case EventTick:
		return processTick(state, in)
	case EventEngagement:
		return processEngagement(state, in)
	default:
		return state, nil, nil
	}
}

func processInit(state domain.OrchestrationState, in Input) (domain.OrchestrationState, []Action, []string) {
	seq := in.Sequence
	state.Email.TotalSteps = len(seq.EmailSteps)
	state.LinkedIn.TotalSteps = len(seq.LinkedInSteps)
	state.Status = domain.OrchestrationActive

	var actions []Action
	emailFirst := !seq.Strategy.LinkedInFirst || state.LinkedIn.TotalSteps == 0
	if emailFirst && state.Email.TotalSteps > 0 {
		state.Email.Started = true
		actions = append(actions, Action{Kind: ActionSendEmail, Channel: ChannelEmail, StepNumber: 1})
	} else if state.LinkedIn.TotalSteps > 0 {
		state.LinkedIn.Started = true
		actions = append(actions, Action{Kind: ActionSendLinkedIn, Channel: ChannelLinkedIn, StepNumber: 1})
	}
	if !emailFirst && state.Email.TotalSteps > 0 {
		if seq.Strategy.WaitForConnection {
			// Hold the email arm until the connection lands or the
			// timeout fires; either path resumes and starts email.
			hours := seq.Strategy.ConnectionTimeoutHours
			if hours <= 0 {
				hours = defaultConnectionTimeoutHours
			}
			enterWait(&state, waitLinkedInConnection, hours, in.Now)
			actions = append(actions, Action{Kind: ActionWait, Reason: waitLinkedInConnection, TimeoutHours: hours})
		} else {
			state.Email.Started = true
			actions = append(actions, Action{Kind: ActionSendEmail, Channel: ChannelEmail, StepNumber: 1})
		}
	}
	return state, actions, nil
}

func enterWait(state *domain.OrchestrationState, reason string, timeoutHours int, now time.Time) {
	if timeoutHours <= 0 {
		timeoutHours = defaultStepWaitHours
	}
	state.Status = domain.OrchestrationWaiting
	state.WaitingFor = reason
	since := now
	state.WaitingSince = &since
	deadline := now.Add(time.Duration(timeoutHours) * time.Hour)
	state.WaitingTimeoutAt = &deadline
}

// resumeFromWait clears the wait and returns the resume action.
// Callers that were holding the email arm (the initial connection
// wait) follow it with startEmailArm.
func resumeFromWait(state *domain.OrchestrationState, reason string) []Action {
	state.Status = domain.OrchestrationActive
	state.WaitingFor = ""
	state.WaitingSince = nil
	state.WaitingTimeoutAt = nil
	return []Action{{Kind: ActionResume, Reason: reason}}
}

// startEmailArm starts the email channel if it hasn't sent yet.
func startEmailArm(state *domain.OrchestrationState) []Action {
	if state.Email.Started || state.Email.TotalSteps == 0 || state.Email.CurrentStep > 0 {
		return nil
	}
	state.Email.Started = true
	return []Action{{Kind: ActionSendEmail, Channel: ChannelEmail, StepNumber: 1}}
}

// waitClearedBy reports whether an inbound engagement name satisfies
// (or times out) the current wait.
func waitClearedBy(waitingFor, event string) bool {
	if waitingFor == "" {
		return false
	}
	if event == "waiting_timeout" {
		return true
	}
	return event == waitingFor || (waitingFor == waitLinkedInConnection && event == "linkedin_connected")
}

// signalSatisfied reports whether a wait_for_* event name has already
// been observed in the cross-channel signals.
func signalSatisfied(s domain.CrossChannelSignals, event string) bool {
	switch event {
	case "linkedin_connected", waitLinkedInConnection:
		return s.LinkedInConnected
	case "linkedin_replied":
		return s.LinkedInReplied
	case "email_opened":
		return s.EmailOpened
	case "email_clicked":
		return s.EmailClicked
	case "email_replied":
		return s.EmailReplied
	default:
		return false
	}
}

func processTick(state domain.OrchestrationState, in Input) (domain.OrchestrationState, []Action, []string) {
	var actions []Action

	// A wait past its deadline resumes on the next tick: the tick loop
	// is the timer that delivers waiting_timeout semantics.
	resumedFrom := ""
	if state.Status == domain.OrchestrationWaiting && state.WaitingTimeoutAt != nil && !in.Now.Before(*state.WaitingTimeoutAt) {
		resumedFrom = state.WaitingFor
		actions = append(actions, resumeFromWait(&state, "wait_timeout_elapsed")...)
		if resumedFrom == waitLinkedInConnection {
			actions = append(actions, startEmailArm(&state)...)
		}
	}

	if state.Status != domain.OrchestrationActive {
		return state, actions, nil
	}

	if due(state.Email, state.NextEmailScheduledAt, in.Now) {
		next := state.Email.CurrentStep + 1
		step, ok := emailStepFor(in.Sequence, next)
		if ok && step.WaitForLinkedIn != nil &&
			!signalSatisfied(state.Signals, step.WaitForLinkedIn.Event) &&
			resumedFrom != step.WaitForLinkedIn.Event {
			enterWait(&state, step.WaitForLinkedIn.Event, step.WaitForLinkedIn.TimeoutHours, in.Now)
			return state, append(actions, Action{
				Kind: ActionWait, Channel: ChannelEmail,
				Reason: step.WaitForLinkedIn.Event, TimeoutHours: step.WaitForLinkedIn.TimeoutHours,
			}), nil
		}
		actions = append(actions, Action{Kind: ActionSendEmail, Channel: ChannelEmail, StepNumber: next})
		if ok && step.TriggerLinkedIn != nil {
			actions = append(actions, fireTriggeredStep(&state, ChannelLinkedIn, *step.TriggerLinkedIn)...)
		}
	}

	if due(state.LinkedIn, state.NextLinkedInScheduledAt, in.Now) {
		next := state.LinkedIn.CurrentStep + 1
		step, ok := linkedInStepFor(in.Sequence, next)
		waitEvent, waitHours := "", 0
		switch {
		case ok && step.RequiresConnection && !state.Signals.LinkedInConnected:
			waitEvent = waitLinkedInConnection
			if in.Sequence != nil {
				waitHours = in.Sequence.Strategy.ConnectionTimeoutHours
			}
		case ok && step.WaitForEmail != nil && !signalSatisfied(state.Signals, step.WaitForEmail.Event):
			waitEvent = step.WaitForEmail.Event
			waitHours = step.WaitForEmail.TimeoutHours
		}
		switch {
		case waitEvent == waitLinkedInConnection && resumedFrom == waitEvent && !state.Signals.LinkedInConnected:
			// The connection never landed inside the timeout; a
			// requires_connection step can't ever go out, so the
			// LinkedIn arm parks while email continues.
			setPaused(&state, ChannelLinkedIn, true)
			actions = append(actions, Action{Kind: ActionPause, Channel: ChannelLinkedIn, Reason: "connection_timeout"})
		case waitEvent != "" && resumedFrom != waitEvent:
			enterWait(&state, waitEvent, waitHours, in.Now)
			return state, append(actions, Action{
				Kind: ActionWait, Channel: ChannelLinkedIn, Reason: waitEvent, TimeoutHours: waitHours,
			}), nil
		default:
			actions = append(actions, Action{Kind: ActionSendLinkedIn, Channel: ChannelLinkedIn, StepNumber: next})
			if ok && step.TriggerEmail != nil {
				actions = append(actions, fireTriggeredStep(&state, ChannelEmail, *step.TriggerEmail)...)
			}
		}
	}

	if state.Email.Completed && state.LinkedIn.Completed {
		state.Status = domain.OrchestrationCompleted
	}
	return state, actions, nil
}

func emailStepFor(seq *domain.Sequence, n int) (domain.EmailStep, bool) {
	if seq == nil {
		return domain.EmailStep{}, false
	}
	return findEmailStep(seq.EmailSteps, n)
}

func linkedInStepFor(seq *domain.Sequence, n int) (domain.LinkedInStep, bool) {
	if seq == nil {
		return domain.LinkedInStep{}, false
	}
	return findLinkedInStep(seq.LinkedInSteps, n)
}

// fireTriggeredStep handles a step's trigger_linkedin / trigger_email
// cross-fire: the named step on the other channel goes out with this
// one instead of waiting for its own scheduled day.
func fireTriggeredStep(state *domain.OrchestrationState, ch Channel, stepNumber int) []Action {
	target := &state.LinkedIn
	kind := ActionSendLinkedIn
	if ch == ChannelEmail {
		target = &state.Email
		kind = ActionSendEmail
	}
	if target.Paused || target.Completed || stepNumber <= target.CurrentStep || stepNumber > target.TotalSteps {
		return nil
	}
	target.Started = true
	return []Action{{Kind: kind, Channel: ch, StepNumber: stepNumber}}
}

func due(ch domain.ChannelState, scheduledAt *time.Time, now time.Time) bool {
	if !ch.Started || ch.Paused || ch.Completed {
		return false
	}
	if ch.CurrentStep >= ch.TotalSteps {
		return false
	}
	return scheduledAt != nil && !now.Before(*scheduledAt)
}

func processEngagement(state domain.OrchestrationState, in Input) (domain.OrchestrationState, []Action, []string) {
	var actions []Action
	applySignal(&state, in)

	// The awaited signal (or an explicit waiting_timeout delivery from a
	// timer service firing at waiting_timeout_at) clears the wait; a
	// resumed connection hold also starts the email arm it was holding.
	if state.Status == domain.OrchestrationWaiting && waitClearedBy(state.WaitingFor, in.EngagementName) {
		resumedFrom := state.WaitingFor
		reason := in.EngagementName
		if reason == "waiting_timeout" {
			reason = "wait_timeout_elapsed"
		}
		actions = append(actions, resumeFromWait(&state, reason)...)
		if resumedFrom == waitLinkedInConnection {
			actions = append(actions, startEmailArm(&state)...)
		}
	}

	if in.EngagementName == "email_bounced" {
		setPaused(&state, ChannelEmail, true)
		actions = append(actions, Action{Kind: ActionPause, Channel: ChannelEmail, Reason: "email_bounced"})
	}

	if (in.EngagementName == "email_replied" || in.EngagementName == "linkedin_replied") && in.Sentiment != "negative" && in.Sentiment != "" {
		// Any non-negative reply ends the sequence. Conversion is the
		// stronger outcome, reserved for a positive reply from a hot lead.
		if in.Sentiment == "positive" && in.InterestLevel == "hot" {
			state.Status = domain.OrchestrationConverted
		} else {
			state.Status = domain.OrchestrationStopped
		}
		state.StopReason = "positive_reply"
		state.Email.Paused = true
		state.LinkedIn.Paused = true
		return state, append(actions, Action{Kind: ActionStop, Reason: "positive_reply"}), nil
	}

	if in.EngagementName == "email_replied" || in.EngagementName == "linkedin_replied" {
		ch := ChannelEmail
		if in.EngagementName == "linkedin_replied" {
			ch = ChannelLinkedIn
		}
		setPaused(&state, ch, true)
		actions = append(actions, Action{Kind: ActionPause, Channel: ch, Reason: "replied_non_positive"})
	}

	if in.Sequence != nil {
		actions = append(actions, evaluateTriggers(&state, in.Sequence.Strategy.CrossChannelTriggers, in)...)
	}

	// A LinkedIn-side signal changes which copy variant later email steps
	// should carry; push the re-selected bodies to the provider for every
	// step not yet sent.
	if (in.EngagementName == "linkedin_connected" || in.EngagementName == "linkedin_replied") &&
		!state.Status.IsTerminal() && state.Email.TotalSteps > state.Email.CurrentStep {
		actions = append(actions, Action{Kind: ActionSyncCopy, Channel: ChannelEmail, Reason: "conditional_copy_sync"})
	}

	if state.Email.Completed && state.LinkedIn.Completed {
		state.Status = domain.OrchestrationCompleted
	}
	return state, actions, nil
}

func applySignal(state *domain.OrchestrationState, in Input) {
	now := in.Now
	switch in.EngagementName {
	case "linkedin_connected":
		state.Signals.LinkedInConnected = true
		state.Signals.LinkedInConnectedAt = &now
	case "linkedin_replied":
		state.Signals.LinkedInReplied = true
		state.Signals.LinkedInSentiment = in.Sentiment
	case "email_opened":
		state.Signals.EmailOpened = true
		state.Signals.EmailOpenedCount++
	case "email_clicked":
		state.Signals.EmailClicked = true
	case "email_replied":
		state.Signals.EmailReplied = true
		state.Signals.EmailSentiment = in.Sentiment
	}
}

func setPaused(state *domain.OrchestrationState, ch Channel, paused bool) {
	if ch == ChannelEmail {
		state.Email.Paused = paused
	} else {
		state.LinkedIn.Paused = paused
	}
}

// evaluateTriggers applies the sequence's cross-channel trigger
// grammar: each entry is "condition -> action[:arg]", where condition
// is one of the fixed CrossChannelSignals flag names and action is one
// of send_email, send_linkedin, pause_email, pause_linkedin, stop. This
// restricted grammar (no boolean composition, no arbitrary
// expressions) keeps the trigger list auditable and storable as plain
// strings on SequenceStrategy.
func evaluateTriggers(state *domain.OrchestrationState, triggers []string, in Input) []Action {
	var actions []Action
	for _, t := range triggers {
		parts := strings.SplitN(t, "->", 2)
		if len(parts) != 2 {
			continue
		}
		cond := strings.TrimSpace(parts[0])
		act := strings.TrimSpace(parts[1])
		if !conditionMet(state.Signals, cond) {
			continue
		}
		action, ok := parseAction(act)
		if !ok {
			continue
		}
		actions = append(actions, action)
		applyAction(state, action)
	}
	return actions
}

func conditionMet(s domain.CrossChannelSignals, cond string) bool {
	switch cond {
	case "linkedin_connected":
		return s.LinkedInConnected
	case "linkedin_replied":
		return s.LinkedInReplied
	case "email_opened":
		return s.EmailOpened
	case "email_clicked":
		return s.EmailClicked
	case "email_replied":
		return s.EmailReplied
	default:
		return false
	}
}

func parseAction(act string) (Action, bool) {
	kind, arg, _ := strings.Cut(act, ":")
	switch kind {
	case "send_email":
		return Action{Kind: ActionSendEmail, Channel: ChannelEmail, StepNumber: atoiOr(arg, 0)}, arg != ""
	case "send_linkedin":
		return Action{Kind: ActionSendLinkedIn, Channel: ChannelLinkedIn, StepNumber: atoiOr(arg, 0)}, arg != ""
	case "pause_email":
		return Action{Kind: ActionPause, Channel: ChannelEmail}, true
	case "pause_linkedin":
		return Action{Kind: ActionPause, Channel: ChannelLinkedIn}, true
	case "stop":
		return Action{Kind: ActionStop, Reason: "cross_channel_trigger"}, true
	default:
		return Action{}, false
	}
}

func applyAction(state *domain.OrchestrationState, a Action) {
	switch a.Kind {
	case ActionPause:
		setPaused(state, a.Channel, true)
	case ActionStop:
		state.Status = domain.OrchestrationStopped
		state.StopReason = a.Reason
	}
}

func atoiOr(s string, def int) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return def
		}
		n = n*10 + int(r-'0')
	}
	if s == "" {
		return def
	}
	return n
}

// SelectEmailBody picks which copy variant to send, in priority order:
// a reply on either channel wins first (sequence likely covers the
// reply case with dedicated copy), then an active LinkedIn connection,
// else the default body. This runs at send time rather than mutating
// the stored sequence, per spec section 4.11's conditional-copy-sync
// design: the sequence itself is never regenerated mid-flight.
func SelectEmailBody(step domain.EmailStep, signals domain.CrossChannelSignals) string {
	if (signals.EmailReplied || signals.LinkedInReplied) && step.BodyLinkedInReplied != "" {
		return step.BodyLinkedInReplied
	}
	if signals.LinkedInConnected && step.BodyLinkedInConnected != "" {
		return step.BodyLinkedInConnected
	}
	return step.Body
}

// SelectLinkedInBody mirrors SelectEmailBody for LinkedIn message steps.
func SelectLinkedInBody(step domain.LinkedInStep, signals domain.CrossChannelSignals) string {
	if signals.EmailReplied && step.BodyEmailReplied != "" {
		return step.BodyEmailReplied
	}
	if signals.EmailOpened && step.BodyEmailOpened != "" {
		return step.BodyEmailOpened
	}
	if step.Body != "" {
		return step.Body
	}
	return step.BodyFallback
}

// NextScheduleTime computes the scheduled_at timestamp for a step
// given the sequence's approval time and the step's scheduled_day
// offset.
func NextScheduleTime(approvedAt time.Time, scheduledDay int) time.Time {
	return approvedAt.AddDate(0, 0, scheduledDay)
}

// ValidateTransition reports whether moving from `from` to `to` is an
// allowed OrchestrationStatus transition (spec section 4.11's
// status-transition diagram / testable property: status must always
// be in the allowed next-states set).
func ValidateTransition(from, to domain.OrchestrationStatus) error {
	if from == to {
		return nil
	}
	allowed := allowedTransitions[from]
	for _, a := range allowed {
		if a == to {
			return nil
		}
	}
	return fmt.Errorf("orchestrator: invalid status transition %s -> %s", from, to)
}

var allowedTransitions = map[domain.OrchestrationStatus][]domain.OrchestrationStatus{
	domain.OrchestrationPending: {domain.OrchestrationActive},
	domain.OrchestrationActive: {
		domain.OrchestrationPaused, domain.OrchestrationWaiting,
		domain.OrchestrationCompleted, domain.OrchestrationStopped, domain.OrchestrationConverted,
	},
	domain.OrchestrationPaused:  {domain.OrchestrationActive, domain.OrchestrationStopped},
	domain.OrchestrationWaiting: {domain.OrchestrationActive, domain.OrchestrationStopped},
}
