// Package webhook implements the provider webhook edge (spec section
// 6): a chi-routed HTTP surface that accepts ESP and LinkedIn-automation
// webhook callbacks, normalizes each vendor's payload shape into a
// domain.EngagementEventType, and hands it to the durable pipeline by
// enqueueing an eventbus.Event rather than processing inline -- the
// HTTP handler's only job is "parse and acknowledge fast", exactly the
// split the teacher's internal/worker.WebhookReceiver makes between the
// HTTP handler (parse + INSERT into a staging table) and its separate
// EventAggregator consumer. Grounded on the teacher's
// internal/tracking/handler.go (chi router shape, realIP helper) and
// internal/worker/webhook_receiver.go (per-provider payload structs and
// field extraction for SparkPost/SES/Mailgun).
package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ignite/salesloop/internal/domain"
	"github.com/ignite/salesloop/internal/pkg/logger"
)

// EventWebhookEmail and EventWebhookLinkedIn are the two event types
// this package enqueues; Consumer.RegisterHandlers (consumer.go)
// registers handlers against these names that resolve the attribution
// join and feed the orchestrator's cross-channel signals.
const (
	EventWebhookEmail    = "webhook.email.engagement"
	EventWebhookLinkedIn = "webhook.linkedin.engagement"
)

// EngagementWebhookPayload is the normalized shape every vendor payload
// is reduced to before being enqueued on the bus.
type EngagementWebhookPayload struct {
	ProviderCampaignID string                     `json:"provider_campaign_id"`
	ProviderLeadID     string                     `json:"provider_lead_id"`
	EventType          domain.EngagementEventType `json:"event_type"`
	Sentiment          string                     `json:"sentiment,omitempty"`
	OccurredAt         time.Time                  `json:"occurred_at"`
}

// Emitter is the narrow slice of eventbus.Bus the webhook edge needs.
type Emitter interface {
	Emit(ctx context.Context, eventType, tenantID, key string, payload any) (uuid.UUID, error)
}

// Handler serves the webhook edge. It holds no repository dependencies
// of its own: every accepted callback is reduced to an
// EngagementWebhookPayload and handed to the bus, so retries/backoff
// and the actual attribution/orchestration joins happen downstream, off
// the HTTP request's goroutine.
type Handler struct {
	bus Emitter
}

func NewHandler(bus Emitter) *Handler {
	return &Handler{bus: bus}
}

// Routes mounts the webhook edge: one path per ESP/LinkedIn vendor,
// scoped by tenant id in the path since vendor payloads carry no tenant
// identifier of their own. Mirrors the teacher's Handler.Routes chi
// wiring in internal/tracking/handler.go.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/webhooks/{tenantID}/email/sparkpost", h.handleSparkPost)
	r.Post("/webhooks/{tenantID}/email/ses", h.handleSES)
	r.Post("/webhooks/{tenantID}/email/mailgun", h.handleMailgun)
	r.Post("/webhooks/{tenantID}/linkedin/{provider}", h.handleLinkedIn)
	r.Get("/webhooks/health", h.handleHealth)
	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// handleSparkPost mirrors the teacher's webhook_receiver.go SparkPost
// parsing: events arrive batched, each wrapped in an "msys" object whose
// single key names the event category.
func (h *Handler) handleSparkPost(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	var events []map[string]any
	if err := json.Unmarshal(body, &events); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	for _, event := range events {
		msys, ok := event["msys"].(map[string]any)
		if !ok {
			continue
		}
		for category, raw := range msys {
			data, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			spType, _ := data["type"].(string)
			if category == "unsubscribe_event" {
				spType = "unsubscribe"
			}
			eventType, ok := sparkPostEventTypes[spType]
			if !ok {
				continue
			}
			campaignID, _ := data["campaign_id"].(string)
			recipient, _ := data["rcpt_to"].(string)
			occurredAt := parseRFC3339OrNow(asString(data["timestamp"]))

			h.emit(r.Context(), EventWebhookEmail, tenantID, EngagementWebhookPayload{
				ProviderCampaignID: campaignID,
				ProviderLeadID:     recipient,
				EventType:          eventType,
				OccurredAt:         occurredAt,
			})
		}
	}
	w.WriteHeader(http.StatusOK)
}

var sparkPostEventTypes = map[string]domain.EngagementEventType{
	"delivery":    domain.EngagementOpen, // delivery confirms inbox placement; treated as the weakest positive signal
	"open":        domain.EngagementOpen,
	"click":       domain.EngagementClick,
	"bounce":      domain.EngagementBounce,
	"unsubscribe": domain.EngagementUnsubscribe,
}

// snsEnvelope mirrors the AWS SES-via-SNS envelope the teacher unwraps
// in HandleSESWebhook: an outer SNS message whose Message field is
// itself JSON-encoded SES notification data.
type snsEnvelope struct {
	Type         string `json:"Type"`
	SubscribeURL string `json:"SubscribeURL"`
	Message      string `json:"Message"`
}

func (h *Handler) handleSES(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	var env snsEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	if env.Type == "SubscriptionConfirmation" {
		if env.SubscribeURL != "" {
			if resp, err := http.Get(env.SubscribeURL); err == nil {
				resp.Body.Close()
			} else {
				logger.Warn("webhook: ses subscription confirmation failed", "error", err.Error())
			}
		}
		w.WriteHeader(http.StatusOK)
		return
	}

	var notification struct {
		NotificationType string `json:"notificationType"`
		Mail             struct {
			MessageID    string `json:"messageId"`
			CommonHeader struct {
				To []string `json:"to"`
			} `json:"commonHeaders"`
		} `json:"mail"`
	}
	if err := json.Unmarshal([]byte(env.Message), &notification); err != nil {
		logger.Warn("webhook: failed to parse ses notification", "error", err.Error())
		w.WriteHeader(http.StatusOK) // 200 to stop SNS retrying
		return
	}

	eventType, ok := sesEventTypes[notification.NotificationType]
	if !ok {
		w.WriteHeader(http.StatusOK)
		return
	}
	var recipient string
	if len(notification.Mail.CommonHeader.To) > 0 {
		recipient = notification.Mail.CommonHeader.To[0]
	}

	h.emit(r.Context(), EventWebhookEmail, tenantID, EngagementWebhookPayload{
		ProviderLeadID: recipient,
		EventType:      eventType,
		OccurredAt:     time.Now().UTC(),
	})
	w.WriteHeader(http.StatusOK)
}

var sesEventTypes = map[string]domain.EngagementEventType{
	"Delivery":  domain.EngagementOpen,
	"Open":      domain.EngagementOpen,
	"Click":     domain.EngagementClick,
	"Bounce":    domain.EngagementBounce,
	"Complaint": domain.EngagementUnsubscribe,
}

// mailgunEvent mirrors the teacher's MailgunEvent: a single top-level
// "event-data" object per request rather than SparkPost's batch array.
type mailgunEvent struct {
	EventData struct {
		Event     string  `json:"event"`
		Recipient string  `json:"recipient"`
		Campaigns []struct {
			ID string `json:"id"`
		} `json:"campaigns"`
		Timestamp float64 `json:"timestamp"`
	} `json:"event-data"`
}

func (h *Handler) handleMailgun(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	var event mailgunEvent
	if err := json.Unmarshal(body, &event); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	eventType, ok := mailgunEventTypes[event.EventData.Event]
	if !ok {
		w.WriteHeader(http.StatusOK)
		return
	}
	var campaignID string
	if len(event.EventData.Campaigns) > 0 {
		campaignID = event.EventData.Campaigns[0].ID
	}

	h.emit(r.Context(), EventWebhookEmail, tenantID, EngagementWebhookPayload{
		ProviderCampaignID: campaignID,
		ProviderLeadID:     event.EventData.Recipient,
		EventType:          eventType,
		OccurredAt:         time.Unix(int64(event.EventData.Timestamp), 0).UTC(),
	})
	w.WriteHeader(http.StatusOK)
}

var mailgunEventTypes = map[string]domain.EngagementEventType{
	"delivered":    domain.EngagementOpen,
	"opened":       domain.EngagementOpen,
	"clicked":      domain.EngagementClick,
	"failed":       domain.EngagementBounce,
	"unsubscribed": domain.EngagementUnsubscribe,
	"complained":   domain.EngagementUnsubscribe,
}

// linkedInEvent covers the shape LinkedIn-automation middlemen (e.g.
// Expandi/Zopto-style tools) commonly post: connection acceptance and
// inbound replies, the two signals SequenceStrategy.CrossChannelTriggers
// cares about (spec section 4.11).
type linkedInEvent struct {
	Event       string `json:"event"`
	CampaignID  string `json:"campaign_id"`
	ProfileURL  string `json:"profile_url"`
	MessageBody string `json:"message_body,omitempty"`
	Timestamp   string `json:"timestamp"`
}

func (h *Handler) handleLinkedIn(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	var event linkedInEvent
	if err := json.Unmarshal(body, &event); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	eventType, ok := linkedInEventTypes[strings.ToLower(event.Event)]
	if !ok {
		w.WriteHeader(http.StatusOK)
		return
	}

	h.emit(r.Context(), EventWebhookLinkedIn, tenantID, EngagementWebhookPayload{
		ProviderCampaignID: event.CampaignID,
		ProviderLeadID:     event.ProfileURL,
		EventType:          eventType,
		Sentiment:          classifySentiment(event.MessageBody),
		OccurredAt:         parseRFC3339OrNow(event.Timestamp),
	})
	w.WriteHeader(http.StatusOK)
}

var linkedInEventTypes = map[string]domain.EngagementEventType{
	"connection_accepted": domain.EngagementOpen,
	"reply":               domain.EngagementReply,
	"message_reply":       domain.EngagementReply,
}

// classifySentiment is a fixed keyword heuristic, not a model call --
// the orchestrator only needs a coarse positive/negative/neutral signal
// to drive its cross-channel trigger grammar, the same scope the
// teacher keeps its own inbound-reply classifiers to.
func classifySentiment(body string) string {
	lower := strings.ToLower(body)
	switch {
	case body == "":
		return ""
	case strings.Contains(lower, "not interested") || strings.Contains(lower, "unsubscribe") || strings.Contains(lower, "remove me"):
		return "negative"
	case strings.Contains(lower, "interested") || strings.Contains(lower, "sounds good") || strings.Contains(lower, "let's talk") || strings.Contains(lower, "schedule"):
		return "positive"
	default:
		return "neutral"
	}
}

func (h *Handler) emit(ctx context.Context, eventType, tenantID string, payload EngagementWebhookPayload) {
	key := payload.ProviderLeadID
	if key == "" {
		key = uuid.New().String()
	}
	if _, err := h.bus.Emit(ctx, eventType, tenantID, key, payload); err != nil {
		logger.Error("webhook: failed to enqueue engagement event", "event_type", eventType, "error", err.Error())
	}
}

func parseRFC3339OrNow(s string) time.Time {
	if s == "" {
		return time.Now().UTC()
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Unix(int64(secs), 0).UTC()
	}
	return time.Now().UTC()
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}
