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

// CampaignRepo implements the CampaignRepository slice declared by every
// stage package (ingestor, qualification, research, generator) against a
// single campaigns/brands/tenants schema.
type CampaignRepo struct{ db *sql.DB }

func NewCampaignRepo(db *sql.DB) *CampaignRepo { return &CampaignRepo{db: db} }

func (r *CampaignRepo) Get(ctx context.Context, tenantID, campaignID string) (*domain.Campaign, error) {
	c := &domain.Campaign{}
	var cfg []byte
	err := r.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, COALESCE(brand_id::text, ''), name, status, mode,
		       data_source_kind, data_source_config, email_step_count, linkedin_step_count,
		       wait_for_connection, connection_timeout_hours, linkedin_first, custom_instructions,
		       leads_ingested, leads_contacted, leads_replied, leads_converted,
		       last_ingested_at, created_at, updated_at, version
		FROM campaigns WHERE id = $1 AND tenant_id = $2
	`, campaignID, tenantID).Scan(
		&c.ID, &c.TenantID, &c.BrandID, &c.Name, &c.Status, &c.Mode,
		&c.DataSourceKind, &cfg, &c.EmailStepCount, &c.LinkedInStepCount,
		&c.WaitForConnection, &c.ConnectionTimeoutHours, &c.LinkedInFirst, &c.CustomInstructions,
		&c.LeadsIngested, &c.LeadsContacted, &c.LeadsReplied, &c.LeadsConverted,
		&c.LastIngestedAt, &c.CreatedAt, &c.UpdatedAt, &c.Version,
	)
	if err == sql.ErrNoRows {
		return nil, ierrors.NonRetriable("campaign not found", err)
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	if len(cfg) > 0 {
		if err := json.Unmarshal(cfg, &c.DataSourceConfig); err != nil {
			return nil, ierrors.ParseFailure("decode data_source_config", err)
		}
	}
	return c, nil
}

func (r *CampaignRepo) ListActiveCampaigns(ctx context.Context) ([]domain.Campaign, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, tenant_id, COALESCE(brand_id::text, ''), name, status, mode,
		       data_source_kind, data_source_config, email_step_count, linkedin_step_count,
		       wait_for_connection, connection_timeout_hours, linkedin_first, custom_instructions,
		       leads_ingested, leads_contacted, leads_replied, leads_converted,
		       last_ingested_at, created_at, updated_at, version
		FROM campaigns WHERE status = $1
	`, domain.CampaignActive)
	if err != nil {
		return nil, fmt.Errorf("list active campaigns: %w", err)
	}
	defer rows.Close()

	var out []domain.Campaign
	for rows.Next() {
		var c domain.Campaign
		var cfg []byte
		if err := rows.Scan(
			&c.ID, &c.TenantID, &c.BrandID, &c.Name, &c.Status, &c.Mode,
			&c.DataSourceKind, &cfg, &c.EmailStepCount, &c.LinkedInStepCount,
			&c.WaitForConnection, &c.ConnectionTimeoutHours, &c.LinkedInFirst, &c.CustomInstructions,
			&c.LeadsIngested, &c.LeadsContacted, &c.LeadsReplied, &c.LeadsConverted,
			&c.LastIngestedAt, &c.CreatedAt, &c.UpdatedAt, &c.Version,
		); err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		if len(cfg) > 0 {
			if err := json.Unmarshal(cfg, &c.DataSourceConfig); err != nil {
				return nil, ierrors.ParseFailure("decode data_source_config", err)
			}
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListTenantIDs returns every tenant id, for crons that fan out
// per-tenant work (the learning cycle).
func (r *CampaignRepo) ListTenantIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM tenants ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan tenant id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *CampaignRepo) MarkIngested(ctx context.Context, campaignID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE campaigns SET last_ingested_at = $1, updated_at = now() WHERE id = $2
	`, at, campaignID)
	if err != nil {
		return fmt.Errorf("mark ingested: %w", err)
	}
	return nil
}

func (r *CampaignRepo) GetBrand(ctx context.Context, tenantID, brandID string) (*domain.Brand, error) {
	b := &domain.Brand{}
	var diff []byte
	var icp sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, voice, tone, value_proposition, differentiators,
		       icp, created_at, updated_at
		FROM brands WHERE id = $1 AND tenant_id = $2
	`, brandID, tenantID).Scan(
		&b.ID, &b.TenantID, &b.Name, &b.Voice, &b.Tone, &b.ValueProposition, &diff,
		&icp, &b.CreatedAt, &b.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ierrors.NonRetriable("brand not found", err)
	}
	if err != nil {
		return nil, fmt.Errorf("get brand: %w", err)
	}
	if err := unmarshalAll(jsonField{diff, &b.Differentiators}); err != nil {
		return nil, err
	}
	if icp.Valid && icp.String != "" && icp.String != "{}" {
		b.ICP = &domain.ICP{}
		if err := json.Unmarshal([]byte(icp.String), b.ICP); err != nil {
			return nil, ierrors.ParseFailure("decode brand icp", err)
		}
	}
	return b, nil
}

func (r *CampaignRepo) GetTenant(ctx context.Context, tenantID string) (*domain.Tenant, error) {
	t := &domain.Tenant{}
	var channels, icp, targeting []byte
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, active_email_provider, active_linkedin_provider,
		       enabled_channels, icp, targeting_preferences,
		       llm_provider, llm_model, created_at, updated_at
		FROM tenants WHERE id = $1
	`, tenantID).Scan(
		&t.ID, &t.Name, &t.ActiveEmailProvider, &t.ActiveLinkedInProvider,
		&channels, &icp, &targeting,
		&t.LLMProvider, &t.LLMModel, &t.CreatedAt, &t.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ierrors.NonRetriable("tenant not found", err)
	}
	if err != nil {
		return nil, fmt.Errorf("get tenant: %w", err)
	}
	if err := unmarshalAll(
		jsonField{channels, &t.EnabledChannels},
		jsonField{icp, &t.ICP},
		jsonField{targeting, &t.TargetingPreferences},
	); err != nil {
		return nil, err
	}
	return t, nil
}

func (r *CampaignRepo) Create(ctx context.Context, c *domain.Campaign) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	cfg, err := json.Marshal(c.DataSourceConfig)
	if err != nil {
		return ierrors.ParseFailure("encode data_source_config", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO campaigns (id, tenant_id, brand_id, name, status, mode, data_source_kind,
		       data_source_config, email_step_count, linkedin_step_count, wait_for_connection,
		       connection_timeout_hours, linkedin_first, custom_instructions)
		VALUES ($1,$2,NULLIF($3,'')::uuid,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, c.ID, c.TenantID, c.BrandID, c.Name, c.Status, c.Mode, c.DataSourceKind,
		cfg, c.EmailStepCount, c.LinkedInStepCount, c.WaitForConnection,
		c.ConnectionTimeoutHours, c.LinkedInFirst, c.CustomInstructions)
	if err != nil {
		return fmt.Errorf("create campaign: %w", err)
	}
	return nil
}

// jsonField pairs a raw column value with its unmarshal target, letting
// Get/List methods decode their JSONB columns in one pass.
type jsonField struct {
	raw    []byte
	target any
}

func unmarshalAll(fields ...jsonField) error {
	for _, f := range fields {
		if len(f.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(f.raw, f.target); err != nil {
			return ierrors.ParseFailure("decode jsonb column", err)
		}
	}
	return nil
}
