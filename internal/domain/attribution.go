package domain

import "time"

// EngagementEventType enumerates the webhook-derived engagement types
// attributable back to an OutreachEvent.
type EngagementEventType string

const (
	EngagementOpen           EngagementEventType = "open"
	EngagementClick          EngagementEventType = "click"
	EngagementReply          EngagementEventType = "reply"
	EngagementBounce         EngagementEventType = "bounce"
	EngagementUnsubscribe    EngagementEventType = "unsubscribe"
	EngagementPositiveReply  EngagementEventType = "positive_reply"
	EngagementMeetingBooked  EngagementEventType = "meeting_booked"
)

// OutreachEvent is AttributionRecorder's record of exactly what was sent.
type OutreachEvent struct {
	ID         string `json:"id" db:"id"`
	TenantID   string `json:"tenant_id" db:"tenant_id"`
	LeadID     string `json:"lead_id" db:"lead_id"`
	SequenceID string `json:"sequence_id" db:"sequence_id"`
	Channel    string `json:"channel" db:"channel"`
	StepNumber int    `json:"step_number" db:"step_number"`

	Subject string `json:"subject,omitempty" db:"subject"`
	Body    string `json:"body" db:"body"`

	Persona      string `json:"persona,omitempty" db:"persona"`
	Relationship string `json:"relationship,omitempty" db:"relationship"`
	TopTrigger   string `json:"top_trigger,omitempty" db:"top_trigger"`

	StrategySnapshot SequenceStrategy `json:"strategy_snapshot" db:"strategy_snapshot"`

	ProviderCampaignID string `json:"provider_campaign_id,omitempty" db:"provider_campaign_id"`
	ProviderLeadID     string `json:"provider_lead_id,omitempty" db:"provider_lead_id"`

	ThreadPosition int       `json:"thread_position" db:"thread_position"`
	SentAt         time.Time `json:"sent_at" db:"sent_at"`
}

// ElementType enumerates the auto-tagged content-element dimensions.
type ElementType string

const (
	ElementSubjectLine ElementType = "subject_line"
	ElementOpener      ElementType = "opener"
	ElementPainPoint   ElementType = "pain_point"
	ElementCTA         ElementType = "cta"
	ElementTone        ElementType = "tone"
	ElementLength      ElementType = "length"
)

// ElementTag is one auto-tagged content element attached to an
// OutreachEvent at a specific position within the email.
type ElementTag struct {
	ID              string      `json:"id" db:"id"`
	OutreachEventID string      `json:"outreach_event_id" db:"outreach_event_id"`
	ElementType     ElementType `json:"element_type" db:"element_type"`
	ElementValue    string      `json:"element_value" db:"element_value"`
	PositionInEmail int         `json:"position_in_email" db:"position_in_email"`
}

// EngagementEvent links back to an OutreachEvent (or is unattributed, per
// spec section 9 open question 3).
type EngagementEvent struct {
	ID              string              `json:"id" db:"id"`
	TenantID        string              `json:"tenant_id" db:"tenant_id"`
	OutreachEventID *string             `json:"outreach_event_id,omitempty" db:"outreach_event_id"`
	Unattributed    bool                `json:"unattributed" db:"unattributed"`
	EventType       EngagementEventType `json:"event_type" db:"event_type"`
	Sentiment       string              `json:"sentiment,omitempty" db:"sentiment"`
	InterestLevel   string              `json:"interest_level,omitempty" db:"interest_level"`
	DaysSinceFirstEmail int             `json:"days_since_first_email" db:"days_since_first_email"`
	ProviderCampaignID  string          `json:"provider_campaign_id,omitempty" db:"provider_campaign_id"`
	ProviderLeadID      string          `json:"provider_lead_id,omitempty" db:"provider_lead_id"`
	OccurredAt      time.Time           `json:"occurred_at" db:"occurred_at"`
}

// ElementPerformance is a 30-day rolling aggregate over a (tenant,
// element-type, optional scope) tuple.
type ElementPerformance struct {
	ID                 string  `json:"id" db:"id"`
	TenantID            string  `json:"tenant_id" db:"tenant_id"`
	ElementType         ElementType `json:"element_type" db:"element_type"`
	ElementValue        string  `json:"element_value" db:"element_value"`
	Scope               string  `json:"scope,omitempty" db:"scope"` // e.g. persona/relationship/email-position
	TimesUsed           int     `json:"times_used" db:"times_used"`
	OpenRate            float64 `json:"open_rate" db:"open_rate"`
	ReplyRate           float64 `json:"reply_rate" db:"reply_rate"`
	PositiveReplyRate   float64 `json:"positive_reply_rate" db:"positive_reply_rate"`
	BounceRate          float64 `json:"bounce_rate" db:"bounce_rate"`
	UnsubscribeRate     float64 `json:"unsubscribe_rate" db:"unsubscribe_rate"`
	Confidence          float64 `json:"confidence" db:"confidence"`
	PeriodStart         time.Time `json:"period_start" db:"period_start"`
	PeriodEnd           time.Time `json:"period_end" db:"period_end"`
}

// BaselineMetric is the tenant-wide rate baseline element lift is
// measured against.
type BaselineMetric struct {
	ID          string    `json:"id" db:"id"`
	TenantID    string    `json:"tenant_id" db:"tenant_id"`
	MetricType  string    `json:"metric_type" db:"metric_type"` // reply_rate, open_rate, ...
	Scope       string    `json:"scope,omitempty" db:"scope"`
	Period      string    `json:"period" db:"period"` // e.g. "2026-07"
	Value       float64   `json:"value" db:"value"`
	SampleSize  int       `json:"sample_size" db:"sample_size"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}
