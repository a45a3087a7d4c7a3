package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/ignite/salesloop/internal/domain"
	ierrors "github.com/ignite/salesloop/internal/errors"
)

// OrchestrationRepo implements orchestrator.OrchestrationRepository and
// orchestrator.EventLogRepository against the orchestration_states and
// orchestration_events tables. Update enforces optimistic concurrency via
// the version column; Record relies on orchestration_events' unique
// (lead_id, event_type, step_number, source_event_id) constraint to make
// action application exactly-once under at-least-once delivery.
type OrchestrationRepo struct{ db *sql.DB }

func NewOrchestrationRepo(db *sql.DB) *OrchestrationRepo { return &OrchestrationRepo{db: db} }

func (r *OrchestrationRepo) GetByLead(ctx context.Context, tenantID, leadID string) (*domain.OrchestrationState, error) {
	s := &domain.OrchestrationState{}
	var email, linkedin, signals []byte
	err := r.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, lead_id, sequence_id, campaign_mode, email, linkedin,
		       last_email_sent_at, next_email_scheduled_at, last_linkedin_sent_at, next_linkedin_scheduled_at,
		       signals, status, waiting_for, waiting_since, waiting_timeout_at, stop_reason,
		       created_at, updated_at, version
		FROM orchestration_states WHERE tenant_id = $1 AND lead_id = $2
	`, tenantID, leadID).Scan(
		&s.ID, &s.TenantID, &s.LeadID, &s.SequenceID, &s.CampaignMode, &email, &linkedin,
		&s.LastEmailSentAt, &s.NextEmailScheduledAt, &s.LastLinkedInSentAt, &s.NextLinkedInScheduledAt,
		&signals, &s.Status, &s.WaitingFor, &s.WaitingSince, &s.WaitingTimeoutAt, &s.StopReason,
		&s.CreatedAt, &s.UpdatedAt, &s.Version,
	)
	if err == sql.ErrNoRows {
		return nil, nil // no orchestration yet: sequence hasn't been approved
	}
	if err != nil {
		return nil, fmt.Errorf("get orchestration state: %w", err)
	}
	if err := unmarshalAll(
		jsonField{email, &s.Email},
		jsonField{linkedin, &s.LinkedIn},
		jsonField{signals, &s.Signals},
	); err != nil {
		return nil, err
	}
	return s, nil
}

// ListRunnable returns the (tenant_id, lead_id) pairs of every
// orchestration the scheduling cron should tick: active states, plus
// waiting states whose timeout may have elapsed.
func (r *OrchestrationRepo) ListRunnable(ctx context.Context) ([]domain.OrchestrationState, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT tenant_id, lead_id FROM orchestration_states
		WHERE status IN ('active', 'waiting')
	`)
	if err != nil {
		return nil, fmt.Errorf("list runnable orchestrations: %w", err)
	}
	defer rows.Close()

	var out []domain.OrchestrationState
	for rows.Next() {
		var s domain.OrchestrationState
		if err := rows.Scan(&s.TenantID, &s.LeadID); err != nil {
			return nil, fmt.Errorf("scan runnable orchestration: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *OrchestrationRepo) Create(ctx context.Context, s *domain.OrchestrationState) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	email, err := json.Marshal(s.Email)
	if err != nil {
		return ierrors.ParseFailure("encode email state", err)
	}
	linkedin, err := json.Marshal(s.LinkedIn)
	if err != nil {
		return ierrors.ParseFailure("encode linkedin state", err)
	}
	signals, err := json.Marshal(s.Signals)
	if err != nil {
		return ierrors.ParseFailure("encode signals", err)
	}
	s.Version = 1
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO orchestration_states (id, tenant_id, lead_id, sequence_id, campaign_mode,
		       email, linkedin, last_email_sent_at, next_email_scheduled_at,
		       last_linkedin_sent_at, next_linkedin_scheduled_at, signals, status,
		       waiting_for, waiting_since, waiting_timeout_at, stop_reason, version)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
	`, s.ID, s.TenantID, s.LeadID, s.SequenceID, s.CampaignMode, email, linkedin,
		s.LastEmailSentAt, s.NextEmailScheduledAt, s.LastLinkedInSentAt, s.NextLinkedInScheduledAt,
		signals, s.Status, s.WaitingFor, s.WaitingSince, s.WaitingTimeoutAt, s.StopReason, s.Version)
	if err != nil {
		return fmt.Errorf("create orchestration state: %w", err)
	}
	return nil
}

// Update writes s back with optimistic concurrency: the WHERE clause
// pins the row to expectedVersion, and zero rows affected means another
// writer raced it, surfaced as a conflict for the caller to turn into a
// retriable error (state reload + re-apply on next delivery).
func (r *OrchestrationRepo) Update(ctx context.Context, s *domain.OrchestrationState, expectedVersion int) error {
	email, err := json.Marshal(s.Email)
	if err != nil {
		return ierrors.ParseFailure("encode email state", err)
	}
	linkedin, err := json.Marshal(s.LinkedIn)
	if err != nil {
		return ierrors.ParseFailure("encode linkedin state", err)
	}
	signals, err := json.Marshal(s.Signals)
	if err != nil {
		return ierrors.ParseFailure("encode signals", err)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE orchestration_states SET
		       email = $1, linkedin = $2, last_email_sent_at = $3, next_email_scheduled_at = $4,
		       last_linkedin_sent_at = $5, next_linkedin_scheduled_at = $6, signals = $7, status = $8,
		       waiting_for = $9, waiting_since = $10, waiting_timeout_at = $11, stop_reason = $12,
		       version = version + 1, updated_at = now()
		WHERE id = $13 AND version = $14
	`, email, linkedin, s.LastEmailSentAt, s.NextEmailScheduledAt,
		s.LastLinkedInSentAt, s.NextLinkedInScheduledAt, signals, s.Status,
		s.WaitingFor, s.WaitingSince, s.WaitingTimeoutAt, s.StopReason,
		s.ID, expectedVersion)
	if err != nil {
		return fmt.Errorf("update orchestration state: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ierrors.Conflict("orchestration state version mismatch", sql.ErrNoRows)
	}
	s.Version = expectedVersion + 1
	return nil
}

// Record inserts an OrchestrationEvent, returning applied=false when the
// unique (lead_id, event_type, step_number, source_event_id) constraint
// already holds it — the at-least-once-delivery duplicate case.
func (r *OrchestrationRepo) Record(ctx context.Context, ev *domain.OrchestrationEvent) (bool, error) {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return false, ierrors.ParseFailure("encode event data", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO orchestration_events (id, tenant_id, lead_id, sequence_id, event_type, channel,
		       step_number, data, decision, reason, source_event_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (lead_id, event_type, step_number, source_event_id) DO NOTHING
	`, ev.ID, ev.TenantID, ev.LeadID, ev.SequenceID, ev.EventType, ev.Channel,
		ev.StepNumber, data, ev.Decision, ev.Reason, ev.SourceEventID)
	if err != nil {
		return false, fmt.Errorf("record orchestration event: %w", err)
	}
	var count int
	if err := r.db.QueryRowContext(ctx, `
		SELECT count(*) FROM orchestration_events WHERE id = $1
	`, ev.ID).Scan(&count); err != nil {
		return false, fmt.Errorf("verify orchestration event insert: %w", err)
	}
	return count > 0, nil
}
