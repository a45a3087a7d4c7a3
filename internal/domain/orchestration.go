package domain

import "time"

// OrchestrationStatus enumerates the top-level state of a lead's
// cross-channel delivery. Terminal states: stopped, converted, completed.
type OrchestrationStatus string

const (
	OrchestrationPending   OrchestrationStatus = "pending"
	OrchestrationActive    OrchestrationStatus = "active"
	OrchestrationPaused    OrchestrationStatus = "paused"
	OrchestrationWaiting   OrchestrationStatus = "waiting"
	OrchestrationCompleted OrchestrationStatus = "completed"
	OrchestrationStopped   OrchestrationStatus = "stopped"
	OrchestrationConverted OrchestrationStatus = "converted"
)

// IsTerminal reports whether s is a final orchestration status.
func (s OrchestrationStatus) IsTerminal() bool {
	return s == OrchestrationCompleted || s == OrchestrationStopped || s == OrchestrationConverted
}

// ChannelState tracks per-channel progress and pause/start flags.
type ChannelState struct {
	Started          bool `json:"started"`
	Paused           bool `json:"paused"`
	Completed        bool `json:"completed"`
	CurrentStep      int  `json:"current_step"`
	TotalSteps       int  `json:"total_steps"`
}

// CrossChannelSignals is the set of flags the Orchestrator's pure
// processEvent function reads and mutates.
type CrossChannelSignals struct {
	LinkedInConnected   bool       `json:"linkedin_connected"`
	LinkedInConnectedAt *time.Time `json:"linkedin_connected_at,omitempty"`
	LinkedInReplied     bool       `json:"linkedin_replied"`
	LinkedInSentiment   string     `json:"linkedin_sentiment,omitempty"`

	EmailOpened      bool   `json:"email_opened"`
	EmailOpenedCount int    `json:"email_opened_count"`
	EmailClicked     bool   `json:"email_clicked"`
	EmailReplied     bool   `json:"email_replied"`
	EmailSentiment   string `json:"email_sentiment,omitempty"`
}

// OrchestrationState is 1:1 with Lead once a Sequence has been approved
// for it.
type OrchestrationState struct {
	ID         string `json:"id" db:"id"`
	TenantID   string `json:"tenant_id" db:"tenant_id"`
	LeadID     string `json:"lead_id" db:"lead_id"`
	SequenceID string `json:"sequence_id" db:"sequence_id"`

	CampaignMode CampaignMode `json:"campaign_mode" db:"campaign_mode"`
	Email        ChannelState `json:"email" db:"email"`
	LinkedIn     ChannelState `json:"linkedin" db:"linkedin"`

	LastEmailSentAt        *time.Time `json:"last_email_sent_at" db:"last_email_sent_at"`
	NextEmailScheduledAt   *time.Time `json:"next_email_scheduled_at" db:"next_email_scheduled_at"`
	LastLinkedInSentAt     *time.Time `json:"last_linkedin_sent_at" db:"last_linkedin_sent_at"`
	NextLinkedInScheduledAt *time.Time `json:"next_linkedin_scheduled_at" db:"next_linkedin_scheduled_at"`

	Signals CrossChannelSignals `json:"signals" db:"signals"`

	Status OrchestrationStatus `json:"status" db:"status"`

	WaitingFor       string     `json:"waiting_for,omitempty" db:"waiting_for"`
	WaitingSince     *time.Time `json:"waiting_since,omitempty" db:"waiting_since"`
	WaitingTimeoutAt *time.Time `json:"waiting_timeout_at,omitempty" db:"waiting_timeout_at"`

	StopReason string `json:"stop_reason,omitempty" db:"stop_reason"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`

	// Version supports optimistic-locked updates (spec section 5).
	Version int `json:"-" db:"version"`
}

// OrchestrationEvent is an append-only audit/attribution log entry.
type OrchestrationEvent struct {
	ID           string         `json:"id" db:"id"`
	TenantID     string         `json:"tenant_id" db:"tenant_id"`
	LeadID       string         `json:"lead_id" db:"lead_id"`
	SequenceID   string         `json:"sequence_id" db:"sequence_id"`
	EventType    string         `json:"event_type" db:"event_type"`
	Channel      string         `json:"channel,omitempty" db:"channel"`
	StepNumber   *int           `json:"step_number,omitempty" db:"step_number"`
	Data         map[string]any `json:"data,omitempty" db:"data"`
	Decision     string         `json:"decision,omitempty" db:"decision"`
	Reason       string         `json:"reason,omitempty" db:"reason"`

	// SourceEventID is the idempotency key for at-least-once delivery:
	// (LeadID, EventType, StepNumber, SourceEventID) is unique.
	SourceEventID string    `json:"source_event_id" db:"source_event_id"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}
