// Package email defines the EmailSender provider port (spec section
// 4.3) and its adapters, grounded on the teacher's ESP-adapter idiom
// (internal/worker/esp_sparkpost.go, esp_ses.go) of a thin HTTP client
// per named provider behind a shared interface.
package email

import (
	"context"
	"time"
)

// Lead is the subset of lead fields an email-campaign provider needs
// to enroll a prospect.
type Lead struct {
	Email     string
	FirstName string
	LastName  string
	Title     string
	Company   string
}

// WebhookEventType enumerates the inbound event types a provider's
// webhook can deliver (spec section 4.3).
type WebhookEventType string

const (
	EventSent         WebhookEventType = "sent"
	EventOpened       WebhookEventType = "opened"
	EventClicked      WebhookEventType = "clicked"
	EventReplied      WebhookEventType = "replied"
	EventBounced      WebhookEventType = "bounced"
	EventUnsubscribed WebhookEventType = "unsubscribed"
)

// Reply is one inbound reply fetched via polling (used when a provider
// has no reply webhook).
type Reply struct {
	CampaignID  string
	LeadEmail   string
	Body        string
	RepliedAt   time.Time
}

// EmailSender is the narrow port every email-campaign adapter
// implements. The core depends on this interface, never a concrete
// ESP client.
type EmailSender interface {
	AddLeadToCampaign(ctx context.Context, campaignID string, lead Lead, customFields map[string]string) error
	UpdateLeadCustomFields(ctx context.Context, campaignID, leadEmail string, customFields map[string]string) error
	PauseLead(ctx context.Context, campaignID, leadEmail string) error
	FetchReceivedReplies(ctx context.Context, since time.Time, campaignID string) ([]Reply, error)
}
