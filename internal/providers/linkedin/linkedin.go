// Package linkedin defines the LinkedInAutomation provider port (spec
// section 4.3). The core only issues API calls and consumes webhooks —
// it never drives a browser — so the adapter below follows the same
// thin-REST-client idiom as internal/providers/email rather than the
// browser-automation pattern some LinkedIn tools use.
package linkedin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ignite/salesloop/internal/pkg/httpretry"
)

// Lead is the subset of lead fields needed to enroll a prospect in a
// LinkedIn outreach campaign.
type Lead struct {
	ProfileURL string
	FirstName  string
	LastName   string
	Title      string
	Company    string
}

// WebhookEventType enumerates the inbound event types a LinkedIn
// automation provider's webhook can deliver (spec section 4.3).
type WebhookEventType string

const (
	EventConnectionSent   WebhookEventType = "connection_sent"
	EventConnected        WebhookEventType = "connected"
	EventMessageSent      WebhookEventType = "message_sent"
	EventReplied          WebhookEventType = "replied"
	EventInMailReplied    WebhookEventType = "inmail_replied"
	EventPostLiked        WebhookEventType = "post_liked"
	EventProfileViewed    WebhookEventType = "profile_viewed"
	EventFollowSent       WebhookEventType = "follow_sent"
	EventCampaignCompleted WebhookEventType = "campaign_completed"
	EventTagUpdated       WebhookEventType = "tag_updated"
)

// LinkedInAutomation is the narrow port every LinkedIn-automation
// adapter implements.
type LinkedInAutomation interface {
	AddLeadToCampaign(ctx context.Context, campaignID string, lead Lead) error
	SendMessage(ctx context.Context, campaignID, profileURL, body string) error
	UpdateTags(ctx context.Context, profileURL string, tags []string) error
}

// RESTAdapter is a thin client against a named LinkedIn-automation
// provider's REST API (e.g. a Dux-Soup/Expandi/Dripify-style tool).
type RESTAdapter struct {
	name    string
	apiKey  string
	baseURL string
	client  *httpretry.RetryClient
}

func NewRESTAdapter(name, apiKey, baseURL string, timeout time.Duration) *RESTAdapter {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &RESTAdapter{
		name:    name,
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  httpretry.NewRetryClient(&http.Client{Timeout: timeout}, 3),
	}
}

func (a *RESTAdapter) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+a.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: request failed: %w", a.name, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%s: http %d: %s", a.name, resp.StatusCode, string(respBody))
	}
	return respBody, nil
}

func (a *RESTAdapter) AddLeadToCampaign(ctx context.Context, campaignID string, lead Lead) error {
	_, err := a.do(ctx, http.MethodPost, fmt.Sprintf("/campaigns/%s/leads", campaignID), map[string]any{
		"profile_url": lead.ProfileURL,
		"first_name":  lead.FirstName,
		"last_name":   lead.LastName,
		"title":       lead.Title,
		"company":     lead.Company,
	})
	return err
}

func (a *RESTAdapter) SendMessage(ctx context.Context, campaignID, profileURL, body string) error {
	_, err := a.do(ctx, http.MethodPost, fmt.Sprintf("/campaigns/%s/messages", campaignID), map[string]any{
		"profile_url": profileURL,
		"body":        body,
	})
	return err
}

func (a *RESTAdapter) UpdateTags(ctx context.Context, profileURL string, tags []string) error {
	_, err := a.do(ctx, http.MethodPatch, "/contacts/tags", map[string]any{
		"profile_url": profileURL,
		"tags":        tags,
	})
	return err
}
