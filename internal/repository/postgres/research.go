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

// ResearchRepo implements research.ResearchRepository: one row per lead,
// upserted in place every time the enrichment waterfall re-runs.
type ResearchRepo struct{ db *sql.DB }

func NewResearchRepo(db *sql.DB) *ResearchRepo { return &ResearchRepo{db: db} }

func (r *ResearchRepo) GetByLead(ctx context.Context, tenantID, leadID string) (*domain.ResearchRecord, error) {
	rec := &domain.ResearchRecord{}
	var rawPersonal, rawCompany, rawWeb, waterfall, profile []byte
	err := r.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, lead_id, raw_personal_profile, raw_company_profile, raw_web_search,
		       waterfall_summary, context_profile, created_at, updated_at
		FROM research_records WHERE tenant_id = $1 AND lead_id = $2
	`, tenantID, leadID).Scan(
		&rec.ID, &rec.TenantID, &rec.LeadID, &rawPersonal, &rawCompany, &rawWeb,
		&waterfall, &profile, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil // no record yet: callers treat this as "run the waterfall"
	}
	if err != nil {
		return nil, fmt.Errorf("get research record: %w", err)
	}
	if err := unmarshalAll(
		jsonField{rawPersonal, &rec.RawPersonalProfile},
		jsonField{rawCompany, &rec.RawCompanyProfile},
		jsonField{rawWeb, &rec.RawWebSearch},
		jsonField{waterfall, &rec.WaterfallSummary},
		jsonField{profile, &rec.ContextProfile},
	); err != nil {
		return nil, err
	}
	return rec, nil
}

func (r *ResearchRepo) Upsert(ctx context.Context, rec *domain.ResearchRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	rawPersonal, _ := json.Marshal(rec.RawPersonalProfile)
	rawCompany, _ := json.Marshal(rec.RawCompanyProfile)
	rawWeb, _ := json.Marshal(rec.RawWebSearch)
	waterfall, err := json.Marshal(rec.WaterfallSummary)
	if err != nil {
		return ierrors.ParseFailure("encode waterfall_summary", err)
	}
	profile, err := json.Marshal(rec.ContextProfile)
	if err != nil {
		return ierrors.ParseFailure("encode context_profile", err)
	}
	personaMatch, _ := json.Marshal(rec.ContextProfile.PersonaMatch)
	triggerMatches, _ := json.Marshal(rec.ContextProfile.Triggers)
	companyIntel, _ := json.Marshal(rec.ContextProfile.CompanyIntel)

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO research_records (id, tenant_id, lead_id, raw_personal_profile, raw_company_profile,
		       raw_web_search, waterfall_summary, context_profile, persona_match, trigger_matches,
		       company_intel, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11, now())
		ON CONFLICT (lead_id) DO UPDATE SET
		       raw_personal_profile = EXCLUDED.raw_personal_profile,
		       raw_company_profile  = EXCLUDED.raw_company_profile,
		       raw_web_search       = EXCLUDED.raw_web_search,
		       waterfall_summary    = EXCLUDED.waterfall_summary,
		       context_profile      = EXCLUDED.context_profile,
		       persona_match        = EXCLUDED.persona_match,
		       trigger_matches      = EXCLUDED.trigger_matches,
		       company_intel        = EXCLUDED.company_intel,
		       updated_at           = now()
	`, rec.ID, rec.TenantID, rec.LeadID, rawPersonal, rawCompany, rawWeb, waterfall, profile,
		personaMatch, triggerMatches, companyIntel)
	if err != nil {
		return fmt.Errorf("upsert research record: %w", err)
	}
	return nil
}
