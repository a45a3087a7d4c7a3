package webhook

import (
	"context"
	"encoding/json"

	"github.com/ignite/salesloop/internal/domain"
	ierrors "github.com/ignite/salesloop/internal/errors"
	"github.com/ignite/salesloop/internal/eventbus"
	"github.com/ignite/salesloop/internal/orchestrator"
)

// AttributionResolver is the slice of attribution.Service the consumer
// needs: join the webhook's provider ids back to the OutreachEvent that
// produced them and persist the resulting EngagementEvent. Returns the
// resolved internal lead id ("" when unattributed).
type AttributionResolver interface {
	ResolveEngagement(ctx context.Context, tenantID, providerCampaignID, providerLeadID string, eventType domain.EngagementEventType, sentiment string) (string, error)
}

// engagementName maps a normalized EngagementEventType to the string
// name orchestrator.EngagementPayload expects in CrossChannelTriggers
// condition matching (e.g. "email_replied", "linkedin_connected").
func engagementName(channel string, t domain.EngagementEventType) string {
	switch t {
	case domain.EngagementReply, domain.EngagementPositiveReply:
		return channel + "_replied"
	case domain.EngagementOpen:
		if channel == "linkedin" {
			return "linkedin_connected"
		}
		return channel + "_opened"
	case domain.EngagementClick:
		return channel + "_clicked"
	case domain.EngagementBounce:
		return channel + "_bounced"
	default:
		return channel + "_" + string(t)
	}
}

// Consumer subscribes to the two event types Handler enqueues and
// bridges them into the durable pipeline: resolve attribution, then (if
// attributed) forward the signal to the orchestrator by lead id. This
// two-step is itself durable and replayable -- both steps run inside
// the eventbus's own retry/checkpoint machinery, not inline in the HTTP
// handler, matching the teacher's handler-enqueues/consumer-processes
// split in internal/worker/webhook_receiver.go (WebhookReceiver vs
// EventAggregator).
type Consumer struct {
	attribution AttributionResolver
	bus         *eventbus.Bus
}

func NewConsumer(attribution AttributionResolver, bus *eventbus.Bus) *Consumer {
	return &Consumer{attribution: attribution, bus: bus}
}

// RegisterHandlers wires the consumer's two handlers onto the bus.
// Called once at startup alongside every other stage's registration.
func (c *Consumer) RegisterHandlers() {
	c.bus.On(EventWebhookEmail, c.handle("email"))
	c.bus.On(EventWebhookLinkedIn, c.handle("linkedin"))
}

func (c *Consumer) handle(channel string) eventbus.Handler {
	return func(ctx context.Context, sc *eventbus.StepContext, ev eventbus.Event) error {
		var payload EngagementWebhookPayload
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			return ierrors.NonRetriable("decode "+channel+" webhook payload", err)
		}

		leadID, err := c.attribution.ResolveEngagement(ctx, ev.TenantID, payload.ProviderCampaignID, payload.ProviderLeadID, payload.EventType, payload.Sentiment)
		if err != nil {
			return err
		}
		if leadID == "" {
			return nil // unattributed: recorded, but nothing to forward
		}

		if _, err := c.bus.Emit(ctx, orchestrator.EventEngagementReceived, ev.TenantID, leadID, orchestrator.EngagementPayload{
			LeadID: leadID, Name: engagementName(channel, payload.EventType), Sentiment: payload.Sentiment,
		}); err != nil {
			return ierrors.Retriable("emit orchestration.engagement", err)
		}
		return nil
	}
}
