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

// PromptRepo implements learning.PromptRepository against
// prompt_versions and prompt_ab_tests. One active version per
// (tenant, prompt_name) is enforced by idx_prompt_versions_active.
type PromptRepo struct{ db *sql.DB }

func NewPromptRepo(db *sql.DB) *PromptRepo { return &PromptRepo{db: db} }

func (r *PromptRepo) ActiveVersion(ctx context.Context, tenantID, promptName string) (*domain.PromptVersion, error) {
	v := &domain.PromptVersion{}
	var injected []byte
	err := r.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, prompt_name, version, body, status, injected_patterns, created_at
		FROM prompt_versions WHERE tenant_id = $1 AND prompt_name = $2 AND status = 'active'
	`, tenantID, promptName).Scan(
		&v.ID, &v.TenantID, &v.PromptName, &v.Version, &v.Body, &v.Status, &injected, &v.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active prompt version: %w", err)
	}
	if err := unmarshalAll(jsonField{injected, &v.InjectedPatterns}); err != nil {
		return nil, err
	}
	return v, nil
}

// GetVersion looks up one prompt_versions row by id, regardless of status.
// Used by the generator to resolve the control/variant version an A/B
// test assigned a lead to.
func (r *PromptRepo) GetVersion(ctx context.Context, tenantID, versionID string) (*domain.PromptVersion, error) {
	v := &domain.PromptVersion{}
	var injected []byte
	err := r.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, prompt_name, version, body, status, injected_patterns, created_at
		FROM prompt_versions WHERE id = $1 AND tenant_id = $2
	`, versionID, tenantID).Scan(
		&v.ID, &v.TenantID, &v.PromptName, &v.Version, &v.Body, &v.Status, &injected, &v.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get prompt version: %w", err)
	}
	if err := unmarshalAll(jsonField{injected, &v.InjectedPatterns}); err != nil {
		return nil, err
	}
	return v, nil
}

func (r *PromptRepo) CreateVersion(ctx context.Context, v *domain.PromptVersion) error {
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	injected, err := json.Marshal(v.InjectedPatterns)
	if err != nil {
		return ierrors.ParseFailure("encode injected_patterns", err)
	}
	if v.Version == 0 {
		if err := r.db.QueryRowContext(ctx, `
			SELECT COALESCE(max(version), 0) + 1 FROM prompt_versions WHERE tenant_id = $1 AND prompt_name = $2
		`, v.TenantID, v.PromptName).Scan(&v.Version); err != nil {
			return fmt.Errorf("compute next prompt version: %w", err)
		}
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO prompt_versions (id, tenant_id, prompt_name, version, body, status, injected_patterns)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, v.ID, v.TenantID, v.PromptName, v.Version, v.Body, v.Status, injected)
	if err != nil {
		return fmt.Errorf("create prompt version: %w", err)
	}
	return nil
}

// PromoteVersion marks versionID active and retires whatever version
// previously held that slot, inside one transaction so the partial
// unique index on (tenant_id, prompt_name) WHERE status='active' is
// never briefly violated nor briefly empty.
func (r *PromptRepo) PromoteVersion(ctx context.Context, tenantID, promptName, versionID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin promote version tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE prompt_versions SET status = 'retired'
		WHERE tenant_id = $1 AND prompt_name = $2 AND status = 'active'
	`, tenantID, promptName); err != nil {
		return fmt.Errorf("retire active prompt version: %w", err)
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE prompt_versions SET status = 'active' WHERE id = $1 AND tenant_id = $2
	`, versionID, tenantID)
	if err != nil {
		return fmt.Errorf("promote prompt version: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ierrors.NonRetriable("prompt version not found", sql.ErrNoRows)
	}
	return tx.Commit()
}

func (r *PromptRepo) RunningTest(ctx context.Context, tenantID, promptName string) (*domain.PromptABTest, error) {
	t := &domain.PromptABTest{}
	var variants []byte
	var winner sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, prompt_name, control_version_id, variant_version_ids, split_percent,
		       min_sample_per_variant, max_runtime_days, status, COALESCE(winner_version_id::text,''),
		       started_at, concluded_at
		FROM prompt_ab_tests WHERE tenant_id = $1 AND prompt_name = $2 AND status = 'running'
	`, tenantID, promptName).Scan(
		&t.ID, &t.TenantID, &t.PromptName, &t.ControlVersionID, &variants, &t.SplitPercent,
		&t.MinSamplePerVariant, &t.MaxRuntimeDays, &t.Status, &winner, &t.StartedAt, &t.ConcludedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get running ab test: %w", err)
	}
	t.WinnerVersionID = winner.String
	if err := unmarshalAll(jsonField{variants, &t.VariantVersionIDs}); err != nil {
		return nil, err
	}
	return t, nil
}

func (r *PromptRepo) CreateTest(ctx context.Context, t *domain.PromptABTest) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	variants, err := json.Marshal(t.VariantVersionIDs)
	if err != nil {
		return ierrors.ParseFailure("encode variant_version_ids", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO prompt_ab_tests (id, tenant_id, prompt_name, control_version_id, variant_version_ids,
		       split_percent, min_sample_per_variant, max_runtime_days, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, t.ID, t.TenantID, t.PromptName, t.ControlVersionID, variants, t.SplitPercent,
		t.MinSamplePerVariant, t.MaxRuntimeDays, t.Status)
	if err != nil {
		return fmt.Errorf("create ab test: %w", err)
	}
	return nil
}

func (r *PromptRepo) ConcludeTest(ctx context.Context, testID, winnerVersionID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE prompt_ab_tests SET status = 'concluded', winner_version_id = $1, concluded_at = now()
		WHERE id = $2
	`, winnerVersionID, testID)
	if err != nil {
		return fmt.Errorf("conclude ab test: %w", err)
	}
	return nil
}

// SampleCounts returns, for the test's control plus every variant
// version, how many outreach sends have used that version's generated
// sequences, keyed by version id.
func (r *PromptRepo) SampleCounts(ctx context.Context, tenantID, testID string) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT v.id, count(o.id)
		FROM prompt_ab_tests t
		JOIN prompt_versions v ON v.id = t.control_version_id OR v.id::text = ANY(
		       SELECT jsonb_array_elements_text(t.variant_version_ids))
		LEFT JOIN sequences s ON s.strategy->>'prompt_version_id' = v.id::text
		LEFT JOIN outreach_events o ON o.sequence_id = s.id
		WHERE t.id = $1 AND t.tenant_id = $2
		GROUP BY v.id
	`, testID, tenantID)
	if err != nil {
		return nil, fmt.Errorf("sample counts: %w", err)
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("scan sample count: %w", err)
		}
		out[id] = n
	}
	return out, rows.Err()
}

func (r *PromptRepo) PositiveReplyRate(ctx context.Context, tenantID, versionID string) (float64, error) {
	var rate sql.NullFloat64
	err := r.db.QueryRowContext(ctx, `
		SELECT avg(CASE WHEN e.event_type = 'positive_reply' THEN 1 ELSE 0 END)
		FROM prompt_versions v
		JOIN sequences s ON s.strategy->>'prompt_version_id' = v.id::text
		JOIN outreach_events o ON o.sequence_id = s.id
		LEFT JOIN engagement_events e ON e.outreach_event_id = o.id
		WHERE v.id = $1 AND v.tenant_id = $2
	`, versionID, tenantID).Scan(&rate)
	if err != nil {
		return 0, fmt.Errorf("positive reply rate: %w", err)
	}
	return rate.Float64, nil
}
