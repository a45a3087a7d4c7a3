package domain

import "time"

// EmailStepType enumerates the role a given email plays in the sequence.
type EmailStepType string

const (
	EmailInitial    EmailStepType = "initial"
	EmailValueAdd   EmailStepType = "value_add"
	EmailBump       EmailStepType = "bump"
	EmailCaseStudy  EmailStepType = "case_study"
	EmailReferral   EmailStepType = "referral"
)

// WaitFor describes a cross-channel pause condition attached to a step.
type WaitFor struct {
	Event        string `json:"event"`
	TimeoutHours int    `json:"timeout_hours"`
}

// EmailStep is one scheduled email in a Sequence. The *_linkedin_* and
// *_replied variants let the Orchestrator swap copy at send time without
// regenerating the sequence (spec section 4.11).
type EmailStep struct {
	StepNumber    int           `json:"step_number"`
	ScheduledDay  int           `json:"scheduled_day"`
	Type          EmailStepType `json:"type"`
	Subject       string        `json:"subject"`
	Body          string        `json:"body"`

	BodyLinkedInConnected string `json:"body_linkedin_connected,omitempty"`
	BodyLinkedInReplied   string `json:"body_linkedin_replied,omitempty"`

	WordCount int `json:"word_count"`

	TriggerLinkedIn *int     `json:"trigger_linkedin,omitempty"` // step number to fire on another channel
	WaitForLinkedIn *WaitFor `json:"wait_for_linkedin,omitempty"`
}

// LinkedInStepType enumerates the action a LinkedIn step performs.
type LinkedInStepType string

const (
	LinkedInConnectionRequest LinkedInStepType = "connection_request"
	LinkedInMessage           LinkedInStepType = "message"
	LinkedInInmail            LinkedInStepType = "inmail"
	LinkedInViewProfile       LinkedInStepType = "view_profile"
	LinkedInLike              LinkedInStepType = "like"
	LinkedInFollow            LinkedInStepType = "follow"
)

// LinkedInStep is one scheduled LinkedIn action. Fallback variants are
// required whenever personalization variables are used but no
// personalization data is available at send time.
type LinkedInStep struct {
	StepNumber   int              `json:"step_number"`
	ScheduledDay int              `json:"scheduled_day"`
	Type         LinkedInStepType `json:"type"`

	ConnectionNote         string `json:"connection_note,omitempty"`
	ConnectionNoteFallback string `json:"connection_note_fallback,omitempty"`

	Body         string `json:"body,omitempty"`
	BodyFallback string `json:"body_fallback,omitempty"`

	BodyEmailOpened  string `json:"body_email_opened,omitempty"`
	BodyEmailReplied string `json:"body_email_replied,omitempty"`

	RequiresConnection bool `json:"requires_connection"`

	TriggerEmail *int     `json:"trigger_email,omitempty"`
	WaitForEmail *WaitFor `json:"wait_for_email,omitempty"`
}

// SequenceStrategy is the generator's high-level plan for the sequence.
type SequenceStrategy struct {
	PrimaryAngle            string   `json:"primary_angle"`
	CrossChannelTriggers    []string `json:"cross_channel_triggers"`
	Tone                    string   `json:"tone"`
	LinkedInFirst           bool     `json:"linkedin_first"`
	WaitForConnection       bool     `json:"wait_for_connection"`
	ConnectionTimeoutHours  int      `json:"connection_timeout_hours"`

	// PromptVersionID stamps which prompt_versions row generated this
	// sequence, so the learning pipeline can attribute engagement back
	// to the prompt version under A/B test.
	PromptVersionID string `json:"prompt_version_id,omitempty"`
}

// ReviewDecision is the Reviewer's verdict on a generated Sequence.
type ReviewDecision string

const (
	ReviewApprove      ReviewDecision = "APPROVE"
	ReviewRevise       ReviewDecision = "REVISE"
	ReviewHumanReview  ReviewDecision = "HUMAN_REVIEW"
)

// SequenceStatus enumerates a sequence's lifecycle.
type SequenceStatus string

const (
	SequencePending     SequenceStatus = "pending"
	SequenceApproved    SequenceStatus = "approved"
	SequenceRevising    SequenceStatus = "revising"
	SequenceHumanReview SequenceStatus = "human_review"
)

// Sequence is 1:1 with Lead (the latest one, scoped to a campaign). At
// most one sequence per lead per campaign may be in a non-terminal
// review state at a time.
type Sequence struct {
	ID         string `json:"id" db:"id"`
	TenantID   string `json:"tenant_id" db:"tenant_id"`
	LeadID     string `json:"lead_id" db:"lead_id"`
	CampaignID string `json:"campaign_id" db:"campaign_id"`

	CampaignMode  CampaignMode      `json:"campaign_mode" db:"campaign_mode"`
	EmailSteps    []EmailStep       `json:"email_steps" db:"email_steps"`
	LinkedInSteps []LinkedInStep    `json:"linkedin_steps" db:"linkedin_steps"`
	Strategy      SequenceStrategy  `json:"strategy" db:"strategy"`

	Status            SequenceStatus  `json:"status" db:"status"`
	ReviewScore        *float64       `json:"review_score" db:"review_score"`
	ReviewDecision     *ReviewDecision `json:"review_decision" db:"review_decision"`
	RevisionCount      int            `json:"revision_count" db:"revision_count"`
	HumanReviewReason  string         `json:"human_review_reason,omitempty" db:"human_review_reason"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// MaxRevisionAttempts is the bound on Reviewer revision loops (spec
// section 4.10 / 8).
const MaxRevisionAttempts = 3

// CanRevise reports whether another revision attempt is allowed.
func (s *Sequence) CanRevise() bool { return s.RevisionCount < MaxRevisionAttempts }
