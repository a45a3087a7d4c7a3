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
	"github.com/ignite/salesloop/internal/normalizer"
)

// LeadRepo implements the LeadRepository slice declared by every stage
// package against the single leads table. UpsertLead is the only write
// path that creates rows; every other stage mutates an existing one.
type LeadRepo struct{ db *sql.DB }

func NewLeadRepo(db *sql.DB) *LeadRepo { return &LeadRepo{db: db} }

const leadColumns = `id, tenant_id, campaign_id, email, first_name, last_name, title, company,
	company_domain, industry, employee_count, revenue, linkedin_url, company_linkedin_url,
	source, visit_count, first_seen_at, last_seen_at, external_presence,
	status, qualification, qualification_reason, qualification_confidence, icp_fit,
	created_at, updated_at, version`

func scanLead(row interface{ Scan(...any) error }) (*domain.Lead, error) {
	l := &domain.Lead{}
	var presence []byte
	var qual sql.NullString
	err := row.Scan(
		&l.ID, &l.TenantID, &l.CampaignID, &l.Email, &l.FirstName, &l.LastName, &l.JobTitle, &l.CompanyName,
		&l.CompanyDomain, &l.CompanyIndustry, &l.CompanyEmployees, &l.CompanyRevenue, &l.LinkedInURL, &l.CompanyLinkedInURL,
		&l.Source, &l.VisitCount, &l.FirstSeenAt, &l.LastSeenAt, &presence,
		&l.Status, &qual, &l.QualificationReasoning, &l.QualificationConfidence, &l.ICPFit,
		&l.CreatedAt, &l.UpdatedAt, &l.Version,
	)
	if err != nil {
		return nil, err
	}
	if qual.Valid && qual.String != "" {
		d := domain.QualificationDecision(qual.String)
		l.QualificationDecision = &d
	}
	if len(presence) > 0 {
		if err := json.Unmarshal(presence, &l.ExternalPresence); err != nil {
			return nil, ierrors.ParseFailure("decode external_presence", err)
		}
	}
	return l, nil
}

func (r *LeadRepo) Get(ctx context.Context, tenantID, leadID string) (*domain.Lead, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = $1 AND tenant_id = $2`, leadID, tenantID)
	l, err := scanLead(row)
	if err == sql.ErrNoRows {
		return nil, ierrors.NonRetriable("lead not found", err)
	}
	if err != nil {
		return nil, fmt.Errorf("get lead: %w", err)
	}
	return l, nil
}

func (r *LeadRepo) FindRelatedByCompany(ctx context.Context, tenantID, companyDomain, excludeLeadID string) ([]domain.Lead, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+leadColumns+` FROM leads
		WHERE tenant_id = $1 AND company_domain = $2 AND id != $3
	`, tenantID, companyDomain, excludeLeadID)
	if err != nil {
		return nil, fmt.Errorf("find related leads: %w", err)
	}
	defer rows.Close()

	var out []domain.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, fmt.Errorf("scan related lead: %w", err)
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

func (r *LeadRepo) SetStatus(ctx context.Context, tenantID, leadID string, status domain.LeadStatus) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE leads SET status = $1, updated_at = now(), version = version + 1
		WHERE id = $2 AND tenant_id = $3
	`, status, leadID, tenantID)
	if err != nil {
		return fmt.Errorf("set lead status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ierrors.NonRetriable("lead not found", sql.ErrNoRows)
	}
	return nil
}

func (r *LeadRepo) UpdateDecision(ctx context.Context, tenantID, leadID string, decision domain.QualificationDecision, reasoning string, confidence float64, newStatus domain.LeadStatus) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE leads SET qualification = $1, qualification_reason = $2,
		       qualification_confidence = $3, status = $4, updated_at = now(), version = version + 1
		WHERE id = $5 AND tenant_id = $6
	`, decision, reasoning, confidence, newStatus, leadID, tenantID)
	if err != nil {
		return fmt.Errorf("update qualification decision: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ierrors.NonRetriable("lead not found", sql.ErrNoRows)
	}
	return nil
}

// UpsertLead creates a lead by (tenantID, email) or, if one exists,
// applies the source-upgrade-only rule and bumps visit_count/last_seen_at.
// Pixel-sourced re-visits never overwrite richer fields a prior Apollo or
// intent import already populated.
func (r *LeadRepo) UpsertLead(ctx context.Context, tenantID, campaignID string, n normalizer.NormalizedLead, source domain.LeadSource) (*domain.Lead, bool, error) {
	var existing domain.Lead
	row := r.db.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE tenant_id = $1 AND email = $2`, tenantID, n.Email)
	existingPtr, err := scanLead(row)
	now := time.Now()

	if err == sql.ErrNoRows {
		id := uuid.New().String()
		presence, _ := json.Marshal(map[string]bool{})
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO leads (id, tenant_id, campaign_id, email, first_name, last_name, title, company,
			       company_domain, industry, employee_count, revenue, source, visit_count,
			       first_seen_at, last_seen_at, external_presence)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,1,$14,$14,$15)
		`, id, tenantID, campaignID, n.Email, n.FirstName, n.LastName, n.Title, n.Company,
			n.CompanyDomain, n.Industry, nullableInt(n.EmployeeCount), n.Revenue, source, now, presence)
		if err != nil {
			return nil, false, fmt.Errorf("insert lead: %w", err)
		}
		row := r.db.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = $1`, id)
		l, err := scanLead(row)
		if err != nil {
			return nil, false, fmt.Errorf("reload inserted lead: %w", err)
		}
		return l, true, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("lookup lead for upsert: %w", err)
	}

	existing = *existingPtr
	upgraded := existing.UpgradeSource(source)
	_, err = r.db.ExecContext(ctx, `
		UPDATE leads SET source = $1, visit_count = visit_count + 1, last_seen_at = $2,
		       updated_at = now(), version = version + 1
		WHERE id = $3
	`, existing.Source, now, existing.ID)
	if err != nil {
		return nil, false, fmt.Errorf("update lead on upsert: %w", err)
	}
	_ = upgraded // the rule already folded into existing.Source above
	row = r.db.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = $1`, existing.ID)
	l, err := scanLead(row)
	if err != nil {
		return nil, false, fmt.Errorf("reload updated lead: %w", err)
	}
	return l, false, nil
}

func nullableInt(n int) any {
	if n == 0 {
		return nil
	}
	return n
}
