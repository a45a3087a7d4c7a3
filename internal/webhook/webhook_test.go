package webhook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/salesloop/internal/domain"
)

type fakeEmitter struct {
	eventType string
	tenantID  string
	key       string
	payload   any
	calls     int
}

func (f *fakeEmitter) Emit(ctx context.Context, eventType, tenantID, key string, payload any) (uuid.UUID, error) {
	f.eventType, f.tenantID, f.key, f.payload = eventType, tenantID, key, payload
	f.calls++
	return uuid.New(), nil
}

func post(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandleSparkPostOpenEvent(t *testing.T) {
	emitter := &fakeEmitter{}
	h := NewHandler(emitter)

	body := `[{"msys":{"track_event":{"type":"open","campaign_id":"camp-1","rcpt_to":"lead@example.com","timestamp":"2026-01-01T00:00:00Z"}}}]`
	rec := post(t, h.Routes(), "/webhooks/tenant-1/email/sparkpost", body)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, emitter.calls)
	assert.Equal(t, EventWebhookEmail, emitter.eventType)
	assert.Equal(t, "tenant-1", emitter.tenantID)
	payload := emitter.payload.(EngagementWebhookPayload)
	assert.Equal(t, domain.EngagementOpen, payload.EventType)
	assert.Equal(t, "camp-1", payload.ProviderCampaignID)
	assert.Equal(t, "lead@example.com", payload.ProviderLeadID)
}

func TestHandleSparkPostUnsubscribeEvent(t *testing.T) {
	emitter := &fakeEmitter{}
	h := NewHandler(emitter)

	body := `[{"msys":{"unsubscribe_event":{"campaign_id":"camp-2","rcpt_to":"lead2@example.com","timestamp":"2026-01-01T00:00:00Z"}}}]`
	rec := post(t, h.Routes(), "/webhooks/tenant-1/email/sparkpost", body)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, emitter.calls)
	payload := emitter.payload.(EngagementWebhookPayload)
	assert.Equal(t, domain.EngagementUnsubscribe, payload.EventType)
}

func TestHandleSparkPostUnknownCategorySkipped(t *testing.T) {
	emitter := &fakeEmitter{}
	h := NewHandler(emitter)

	body := `[{"msys":{"injection":{"campaign_id":"camp-3"}}}]`
	rec := post(t, h.Routes(), "/webhooks/tenant-1/email/sparkpost", body)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, emitter.calls)
}

func TestHandleSESSubscriptionConfirmationSkipsEmit(t *testing.T) {
	emitter := &fakeEmitter{}
	h := NewHandler(emitter)

	body := `{"Type":"SubscriptionConfirmation","SubscribeURL":""}`
	rec := post(t, h.Routes(), "/webhooks/tenant-1/email/ses", body)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, emitter.calls)
}

func TestHandleSESNotificationEmitsClick(t *testing.T) {
	emitter := &fakeEmitter{}
	h := NewHandler(emitter)

	inner := `{"notificationType":"Click","mail":{"messageId":"m-1","commonHeaders":{"to":["lead3@example.com"]}}}`
	body := `{"Type":"Notification","Message":` + jsonQuote(inner) + `}`
	rec := post(t, h.Routes(), "/webhooks/tenant-1/email/ses", body)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, emitter.calls)
	payload := emitter.payload.(EngagementWebhookPayload)
	assert.Equal(t, domain.EngagementClick, payload.EventType)
	assert.Equal(t, "lead3@example.com", payload.ProviderLeadID)
}

func TestHandleMailgunDeliveredEvent(t *testing.T) {
	emitter := &fakeEmitter{}
	h := NewHandler(emitter)

	body := `{"event-data":{"event":"delivered","recipient":"lead4@example.com","campaigns":[{"id":"camp-4"}],"timestamp":1767225600}}`
	rec := post(t, h.Routes(), "/webhooks/tenant-1/email/mailgun", body)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, emitter.calls)
	payload := emitter.payload.(EngagementWebhookPayload)
	assert.Equal(t, domain.EngagementOpen, payload.EventType)
	assert.Equal(t, "camp-4", payload.ProviderCampaignID)
}

func TestHandleLinkedInConnectionAccepted(t *testing.T) {
	emitter := &fakeEmitter{}
	h := NewHandler(emitter)

	body := `{"event":"connection_accepted","campaign_id":"camp-5","profile_url":"https://linkedin.com/in/lead5"}`
	rec := post(t, h.Routes(), "/webhooks/tenant-1/linkedin/expandi", body)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, emitter.calls)
	assert.Equal(t, EventWebhookLinkedIn, emitter.eventType)
	payload := emitter.payload.(EngagementWebhookPayload)
	assert.Equal(t, domain.EngagementOpen, payload.EventType)
	assert.Equal(t, "https://linkedin.com/in/lead5", payload.ProviderLeadID)
}

func TestHandleLinkedInReplySentimentClassification(t *testing.T) {
	emitter := &fakeEmitter{}
	h := NewHandler(emitter)

	body := `{"event":"reply","campaign_id":"camp-6","profile_url":"https://linkedin.com/in/lead6","message_body":"Not interested, please remove me"}`
	rec := post(t, h.Routes(), "/webhooks/tenant-1/linkedin/expandi", body)

	require.Equal(t, http.StatusOK, rec.Code)
	payload := emitter.payload.(EngagementWebhookPayload)
	assert.Equal(t, domain.EngagementReply, payload.EventType)
	assert.Equal(t, "negative", payload.Sentiment)
}

func TestClassifySentiment(t *testing.T) {
	assert.Equal(t, "", classifySentiment(""))
	assert.Equal(t, "negative", classifySentiment("Please unsubscribe me"))
	assert.Equal(t, "positive", classifySentiment("Sounds good, let's talk next week"))
	assert.Equal(t, "neutral", classifySentiment("Who is this?"))
}

func TestHandleHealth(t *testing.T) {
	h := NewHandler(&fakeEmitter{})
	req := httptest.NewRequest(http.MethodGet, "/webhooks/health", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

// jsonQuote escapes s as a JSON string literal, for embedding one JSON
// document inside another (SNS's Message field carries SES's
// notification JSON as a string, not a nested object).
func jsonQuote(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}
