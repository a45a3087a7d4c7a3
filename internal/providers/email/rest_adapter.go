package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ignite/salesloop/internal/pkg/httpretry"
	"github.com/ignite/salesloop/internal/pkg/logger"
)

// RESTAdapter implements EmailSender against a named outbound-campaign
// provider's REST API (e.g. an Instantly/Smartlead-style campaign
// sequencer). The wire shape below follows the teacher's SparkPost
// transmissions adapter: bearer-token auth, JSON body, non-2xx maps to
// an error carrying the response body.
type RESTAdapter struct {
	name    string
	apiKey  string
	baseURL string
	client  *httpretry.RetryClient
}

// NewRESTAdapter builds a named REST-backed EmailSender adapter.
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

func (a *RESTAdapter) AddLeadToCampaign(ctx context.Context, campaignID string, lead Lead, customFields map[string]string) error {
	_, err := a.do(ctx, http.MethodPost, fmt.Sprintf("/campaigns/%s/leads", campaignID), map[string]any{
		"email":         lead.Email,
		"first_name":    lead.FirstName,
		"last_name":     lead.LastName,
		"title":         lead.Title,
		"company":       lead.Company,
		"custom_fields": customFields,
	})
	if err != nil {
		logger.Error("email provider: add lead failed", "provider", a.name, "campaign_id", campaignID, "email", lead.Email, "error", err.Error())
	}
	return err
}

func (a *RESTAdapter) UpdateLeadCustomFields(ctx context.Context, campaignID, leadEmail string, customFields map[string]string) error {
	_, err := a.do(ctx, http.MethodPatch, fmt.Sprintf("/campaigns/%s/leads/%s", campaignID, leadEmail), map[string]any{
		"custom_fields": customFields,
	})
	return err
}

func (a *RESTAdapter) PauseLead(ctx context.Context, campaignID, leadEmail string) error {
	_, err := a.do(ctx, http.MethodPost, fmt.Sprintf("/campaigns/%s/leads/%s/pause", campaignID, leadEmail), nil)
	return err
}

func (a *RESTAdapter) FetchReceivedReplies(ctx context.Context, since time.Time, campaignID string) ([]Reply, error) {
	path := fmt.Sprintf("/campaigns/%s/replies?since=%s", campaignID, since.UTC().Format(time.RFC3339))
	body, err := a.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var raw struct {
		Replies []struct {
			LeadEmail string    `json:"lead_email"`
			Body      string    `json:"body"`
			RepliedAt time.Time `json:"replied_at"`
		} `json:"replies"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}

	replies := make([]Reply, 0, len(raw.Replies))
	for _, r := range raw.Replies {
		replies = append(replies, Reply{
			CampaignID: campaignID,
			LeadEmail:  r.LeadEmail,
			Body:       r.Body,
			RepliedAt:  r.RepliedAt,
		})
	}
	return replies, nil
}
