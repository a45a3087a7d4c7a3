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

// SequenceRepo implements the SequenceRepository slice used by generator,
// reviewer, and the orchestrator shell.
type SequenceRepo struct{ db *sql.DB }

func NewSequenceRepo(db *sql.DB) *SequenceRepo { return &SequenceRepo{db: db} }

func (r *SequenceRepo) Get(ctx context.Context, tenantID, sequenceID string) (*domain.Sequence, error) {
	s := &domain.Sequence{}
	var strategy, emailSteps, liSteps []byte
	var reviewDecision sql.NullString
	var reviewScore sql.NullFloat64
	err := r.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, lead_id, COALESCE(campaign_id::text,''), campaign_mode, strategy,
		       email_steps, linkedin_steps, status, review_score, review_decision,
		       revision_attempt, review_feedback, created_at, updated_at
		FROM sequences WHERE id = $1 AND tenant_id = $2
	`, sequenceID, tenantID).Scan(
		&s.ID, &s.TenantID, &s.LeadID, &s.CampaignID, &s.CampaignMode, &strategy,
		&emailSteps, &liSteps, &s.Status, &reviewScore, &reviewDecision,
		&s.RevisionCount, &s.HumanReviewReason, &s.CreatedAt, &s.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ierrors.NonRetriable("sequence not found", err)
	}
	if err != nil {
		return nil, fmt.Errorf("get sequence: %w", err)
	}
	if reviewScore.Valid {
		v := reviewScore.Float64
		s.ReviewScore = &v
	}
	if reviewDecision.Valid && reviewDecision.String != "" {
		d := domain.ReviewDecision(reviewDecision.String)
		s.ReviewDecision = &d
	}
	if err := unmarshalAll(
		jsonField{strategy, &s.Strategy},
		jsonField{emailSteps, &s.EmailSteps},
		jsonField{liSteps, &s.LinkedInSteps},
	); err != nil {
		return nil, err
	}
	return s, nil
}

func (r *SequenceRepo) Create(ctx context.Context, seq *domain.Sequence) error {
	if seq.ID == "" {
		seq.ID = uuid.New().String()
	}
	strategy, err := json.Marshal(seq.Strategy)
	if err != nil {
		return ierrors.ParseFailure("encode strategy", err)
	}
	emailSteps, err := json.Marshal(seq.EmailSteps)
	if err != nil {
		return ierrors.ParseFailure("encode email_steps", err)
	}
	liSteps, err := json.Marshal(seq.LinkedInSteps)
	if err != nil {
		return ierrors.ParseFailure("encode linkedin_steps", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO sequences (id, tenant_id, lead_id, campaign_id, campaign_mode, strategy,
		       email_steps, linkedin_steps, status)
		VALUES ($1,$2,$3,NULLIF($4,'')::uuid,$5,$6,$7,$8,$9)
	`, seq.ID, seq.TenantID, seq.LeadID, seq.CampaignID, seq.CampaignMode, strategy, emailSteps, liSteps, seq.Status)
	if err != nil {
		return fmt.Errorf("create sequence: %w", err)
	}
	return nil
}

func (r *SequenceRepo) UpdateReview(ctx context.Context, tenantID, sequenceID string, score float64, decision domain.ReviewDecision, status domain.SequenceStatus) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sequences SET review_score = $1, review_decision = $2, status = $3, updated_at = now()
		WHERE id = $4 AND tenant_id = $5
	`, score, decision, status, sequenceID, tenantID)
	if err != nil {
		return fmt.Errorf("update sequence review: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ierrors.NonRetriable("sequence not found", sql.ErrNoRows)
	}
	return nil
}

// SetHumanReview parks a sequence for a human without touching its
// review score (used when a revision itself fails rather than when the
// reviewer scores it down).
func (r *SequenceRepo) SetHumanReview(ctx context.Context, tenantID, sequenceID, reason string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sequences SET status = $1, human_review_reason = $2, updated_at = now()
		WHERE id = $3 AND tenant_id = $4
	`, domain.SequenceHumanReview, reason, sequenceID, tenantID)
	if err != nil {
		return fmt.Errorf("set sequence human review: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ierrors.NonRetriable("sequence not found", sql.ErrNoRows)
	}
	return nil
}

func (r *SequenceRepo) Revise(ctx context.Context, tenantID, sequenceID string, emailSteps []domain.EmailStep, linkedInSteps []domain.LinkedInStep, newRevisionCount int) error {
	e, err := json.Marshal(emailSteps)
	if err != nil {
		return ierrors.ParseFailure("encode email_steps", err)
	}
	l, err := json.Marshal(linkedInSteps)
	if err != nil {
		return ierrors.ParseFailure("encode linkedin_steps", err)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE sequences SET email_steps = $1, linkedin_steps = $2, revision_attempt = $3,
		       status = $4, updated_at = now()
		WHERE id = $5 AND tenant_id = $6
	`, e, l, newRevisionCount, domain.SequencePending, sequenceID, tenantID)
	if err != nil {
		return fmt.Errorf("revise sequence: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ierrors.NonRetriable("sequence not found", sql.ErrNoRows)
	}
	return nil
}
