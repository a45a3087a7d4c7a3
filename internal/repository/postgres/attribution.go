package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/salesloop/internal/domain"
	ierrors "github.com/ignite/salesloop/internal/errors"
)

// OutreachRepo implements attribution.OutreachRepository.
type OutreachRepo struct{ db *sql.DB }

func NewOutreachRepo(db *sql.DB) *OutreachRepo { return &OutreachRepo{db: db} }

func (r *OutreachRepo) Create(ctx context.Context, ev *domain.OutreachEvent, tags []domain.ElementTag) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	strategy, err := json.Marshal(ev.StrategySnapshot)
	if err != nil {
		return ierrors.ParseFailure("encode strategy_snapshot", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin outreach tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO outreach_events (id, tenant_id, lead_id, sequence_id, channel, step_number,
		       subject, body, persona, relationship, top_trigger, strategy_snapshot,
		       provider_campaign_id, provider_lead_id, thread_position, sent_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	`, ev.ID, ev.TenantID, ev.LeadID, ev.SequenceID, ev.Channel, ev.StepNumber,
		ev.Subject, ev.Body, ev.Persona, ev.Relationship, ev.TopTrigger, strategy,
		ev.ProviderCampaignID, ev.ProviderLeadID, ev.ThreadPosition, ev.SentAt)
	if err != nil {
		return fmt.Errorf("insert outreach event: %w", err)
	}

	for _, t := range tags {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO element_tags (id, outreach_event_id, element_type, element_value, position_in_email)
			VALUES ($1,$2,$3,$4,$5)
		`, uuid.New().String(), ev.ID, t.ElementType, t.ElementValue, t.PositionInEmail); err != nil {
			return fmt.Errorf("insert element tag: %w", err)
		}
	}
	return tx.Commit()
}

func (r *OutreachRepo) FindForAttribution(ctx context.Context, tenantID, providerCampaignID, providerLeadID string) ([]domain.OutreachEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, tenant_id, lead_id, sequence_id, channel, step_number, subject, body,
		       persona, relationship, top_trigger, strategy_snapshot, provider_campaign_id,
		       provider_lead_id, thread_position, sent_at
		FROM outreach_events
		WHERE tenant_id = $1 AND provider_campaign_id = $2 AND provider_lead_id = $3
		ORDER BY sent_at DESC
	`, tenantID, providerCampaignID, providerLeadID)
	if err != nil {
		return nil, fmt.Errorf("find outreach for attribution: %w", err)
	}
	defer rows.Close()

	var out []domain.OutreachEvent
	for rows.Next() {
		var ev domain.OutreachEvent
		var strategy []byte
		if err := rows.Scan(
			&ev.ID, &ev.TenantID, &ev.LeadID, &ev.SequenceID, &ev.Channel, &ev.StepNumber,
			&ev.Subject, &ev.Body, &ev.Persona, &ev.Relationship, &ev.TopTrigger, &strategy,
			&ev.ProviderCampaignID, &ev.ProviderLeadID, &ev.ThreadPosition, &ev.SentAt,
		); err != nil {
			return nil, fmt.Errorf("scan outreach event: %w", err)
		}
		if err := unmarshalAll(jsonField{strategy, &ev.StrategySnapshot}); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (r *OutreachRepo) FirstSentAt(ctx context.Context, tenantID, leadID string) (*time.Time, error) {
	var t sql.NullTime
	err := r.db.QueryRowContext(ctx, `
		SELECT min(sent_at) FROM outreach_events WHERE tenant_id = $1 AND lead_id = $2
	`, tenantID, leadID).Scan(&t)
	if err != nil {
		return nil, fmt.Errorf("first sent at: %w", err)
	}
	if !t.Valid {
		return nil, nil
	}
	return &t.Time, nil
}

// EngagementRepo implements attribution.EngagementRepository.
type EngagementRepo struct{ db *sql.DB }

func NewEngagementRepo(db *sql.DB) *EngagementRepo { return &EngagementRepo{db: db} }

func (r *EngagementRepo) Create(ctx context.Context, ev *domain.EngagementEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO engagement_events (id, tenant_id, outreach_event_id, unattributed, event_type,
		       sentiment, interest_level, days_since_first_email, provider_campaign_id,
		       provider_lead_id, occurred_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, ev.ID, ev.TenantID, ev.OutreachEventID, ev.Unattributed, ev.EventType,
		ev.Sentiment, ev.InterestLevel, ev.DaysSinceFirstEmail, ev.ProviderCampaignID,
		ev.ProviderLeadID, ev.OccurredAt)
	if err != nil {
		return fmt.Errorf("insert engagement event: %w", err)
	}
	return nil
}
