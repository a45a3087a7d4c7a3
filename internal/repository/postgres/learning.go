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

// PerformanceRepo implements learning.PerformanceRepository, refreshing
// element_performance rows from the outreach/engagement tables for one
// trailing window.
type PerformanceRepo struct{ db *sql.DB }

func NewPerformanceRepo(db *sql.DB) *PerformanceRepo { return &PerformanceRepo{db: db} }

// RefreshWindows recomputes times_used/open_rate/reply_rate/positive_reply_rate
// per (element_type, element_value) from raw outreach/engagement rows sent
// within [periodStart, periodEnd), upserts element_performance, and returns
// the refreshed rows.
func (r *PerformanceRepo) RefreshWindows(ctx context.Context, tenantID string, periodStart, periodEnd time.Time) ([]domain.ElementPerformance, error) {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO element_performance (tenant_id, element_type, element_value, scope,
		       times_used, open_rate, reply_rate, positive_reply_rate, period_start, period_end)
		SELECT
		       t.tenant_id, t.element_type, t.element_value, '',
		       count(*) AS times_used,
		       avg(CASE WHEN e.opened THEN 1 ELSE 0 END) AS open_rate,
		       avg(CASE WHEN e.replied THEN 1 ELSE 0 END) AS reply_rate,
		       avg(CASE WHEN e.positive THEN 1 ELSE 0 END) AS positive_reply_rate,
		       $2, $3
		FROM element_tags t
		JOIN outreach_events o ON o.id = t.outreach_event_id
		LEFT JOIN (
		       SELECT outreach_event_id,
		              bool_or(event_type = 'open') AS opened,
		              bool_or(event_type = 'reply') AS replied,
		              bool_or(event_type = 'positive_reply') AS positive
		       FROM engagement_events GROUP BY outreach_event_id
		) e ON e.outreach_event_id = o.id
		WHERE o.tenant_id = $1 AND o.sent_at >= $2 AND o.sent_at < $3
		GROUP BY t.tenant_id, t.element_type, t.element_value
		ON CONFLICT (tenant_id, element_type, element_value, scope, period_start) DO UPDATE SET
		       times_used = EXCLUDED.times_used,
		       open_rate = EXCLUDED.open_rate,
		       reply_rate = EXCLUDED.reply_rate,
		       positive_reply_rate = EXCLUDED.positive_reply_rate,
		       period_end = EXCLUDED.period_end
	`, tenantID, periodStart, periodEnd)
	if err != nil {
		return nil, fmt.Errorf("refresh element performance windows: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, tenant_id, element_type, element_value, scope, times_used, open_rate,
		       reply_rate, positive_reply_rate, bounce_rate, unsubscribe_rate, confidence,
		       period_start, period_end
		FROM element_performance WHERE tenant_id = $1 AND period_start = $2 AND period_end = $3
	`, tenantID, periodStart, periodEnd)
	if err != nil {
		return nil, fmt.Errorf("list refreshed element performance: %w", err)
	}
	defer rows.Close()

	var out []domain.ElementPerformance
	for rows.Next() {
		var p domain.ElementPerformance
		if err := rows.Scan(
			&p.ID, &p.TenantID, &p.ElementType, &p.ElementValue, &p.Scope, &p.TimesUsed,
			&p.OpenRate, &p.ReplyRate, &p.PositiveReplyRate, &p.BounceRate, &p.UnsubscribeRate,
			&p.Confidence, &p.PeriodStart, &p.PeriodEnd,
		); err != nil {
			return nil, fmt.Errorf("scan element performance: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// PatternRepo implements learning.PatternRepository.
type PatternRepo struct{ db *sql.DB }

func NewPatternRepo(db *sql.DB) *PatternRepo { return &PatternRepo{db: db} }

func (r *PatternRepo) ListByStatus(ctx context.Context, tenantID string, status domain.PatternStatus) ([]domain.LearnedPattern, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, tenant_id, element_types, element_values, scope, sample_size, confidence,
		       lift, status, COALESCE(rag_document_id::text, ''), discovered_at, updated_at
		FROM learned_patterns WHERE tenant_id = $1 AND status = $2
	`, tenantID, status)
	if err != nil {
		return nil, fmt.Errorf("list patterns by status: %w", err)
	}
	defer rows.Close()

	var out []domain.LearnedPattern
	for rows.Next() {
		var p domain.LearnedPattern
		var types, values []byte
		if err := rows.Scan(
			&p.ID, &p.TenantID, &types, &values, &p.Scope, &p.SampleSize, &p.Confidence,
			&p.Lift, &p.Status, &p.RAGDocumentID, &p.DiscoveredAt, &p.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan learned pattern: %w", err)
		}
		if err := unmarshalAll(jsonField{types, &p.ElementTypes}, jsonField{values, &p.ElementValues}); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *PatternRepo) Upsert(ctx context.Context, p *domain.LearnedPattern) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	types, err := json.Marshal(p.ElementTypes)
	if err != nil {
		return ierrors.ParseFailure("encode element_types", err)
	}
	values, err := json.Marshal(p.ElementValues)
	if err != nil {
		return ierrors.ParseFailure("encode element_values", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO learned_patterns (id, tenant_id, element_types, element_values, scope,
		       sample_size, confidence, lift, status, rag_document_id, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NULLIF($10,'')::uuid, now())
		ON CONFLICT (id) DO UPDATE SET
		       sample_size = EXCLUDED.sample_size, confidence = EXCLUDED.confidence,
		       lift = EXCLUDED.lift, status = EXCLUDED.status,
		       rag_document_id = EXCLUDED.rag_document_id, updated_at = now()
	`, p.ID, p.TenantID, types, values, p.Scope, p.SampleSize, p.Confidence, p.Lift, p.Status, p.RAGDocumentID)
	if err != nil {
		return fmt.Errorf("upsert learned pattern: %w", err)
	}
	return nil
}

// RAGRepo implements both generator.RAGRepository (ActiveDocuments) and
// learning.RAGRepository (CreateLearned/Deprecate).
type RAGRepo struct{ db *sql.DB }

func NewRAGRepo(db *sql.DB) *RAGRepo { return &RAGRepo{db: db} }

func (r *RAGRepo) ActiveDocuments(ctx context.Context, tenantID, brandID string) ([]domain.RAGDocument, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, COALESCE(tenant_id::text,''), COALESCE(brand_id::text,''), type,
		       COALESCE(pattern_id::text,''), title, body, deprecated, created_at, updated_at
		FROM rag_documents
		WHERE NOT deprecated AND (tenant_id = $1 OR tenant_id IS NULL)
		      AND (brand_id = $2 OR brand_id IS NULL)
	`, tenantID, brandID)
	if err != nil {
		return nil, fmt.Errorf("list active rag documents: %w", err)
	}
	defer rows.Close()

	var out []domain.RAGDocument
	for rows.Next() {
		var d domain.RAGDocument
		if err := rows.Scan(
			&d.ID, &d.TenantID, &d.BrandID, &d.Type, &d.PatternID, &d.Title, &d.Body,
			&d.Deprecated, &d.CreatedAt, &d.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan rag document: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *RAGRepo) CreateLearned(ctx context.Context, doc *domain.RAGDocument) error {
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO rag_documents (id, tenant_id, type, pattern_id, title, body)
		VALUES ($1,$2,'learned',NULLIF($3,'')::uuid,$4,$5)
	`, doc.ID, doc.TenantID, doc.PatternID, doc.Title, doc.Body)
	if err != nil {
		return fmt.Errorf("create learned rag document: %w", err)
	}
	return nil
}

func (r *RAGRepo) Deprecate(ctx context.Context, tenantID, patternID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE rag_documents SET deprecated = true, updated_at = now()
		WHERE tenant_id = $1 AND pattern_id = $2
	`, tenantID, patternID)
	if err != nil {
		return fmt.Errorf("deprecate rag document: %w", err)
	}
	return nil
}

// BaselineRepo implements learning.BaselineRepository.
type BaselineRepo struct{ db *sql.DB }

func NewBaselineRepo(db *sql.DB) *BaselineRepo { return &BaselineRepo{db: db} }

func (r *BaselineRepo) Update(ctx context.Context, tenantID, metricType string, value float64, sampleSize int) error {
	period := time.Now().Format("2006-01")
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO baseline_metrics (id, tenant_id, metric_type, period, value, sample_size, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6, now())
		ON CONFLICT (tenant_id, metric_type, scope, period) DO UPDATE SET
		       value = EXCLUDED.value, sample_size = EXCLUDED.sample_size, updated_at = now()
	`, uuid.New().String(), tenantID, metricType, period, value, sampleSize)
	if err != nil {
		return fmt.Errorf("update baseline metric: %w", err)
	}
	return nil
}
