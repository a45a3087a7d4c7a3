package ingestor

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/salesloop/internal/config"
	"github.com/ignite/salesloop/internal/domain"
	"github.com/ignite/salesloop/internal/normalizer"
)

type fakeCampaigns struct {
	campaigns []domain.Campaign
	tenant    *domain.Tenant
	ingested  []string
}

func (f *fakeCampaigns) Get(ctx context.Context, tenantID, campaignID string) (*domain.Campaign, error) {
	for i := range f.campaigns {
		if f.campaigns[i].ID == campaignID {
			return &f.campaigns[i], nil
		}
	}
	return nil, context.Canceled
}

func (f *fakeCampaigns) ListActiveCampaigns(ctx context.Context) ([]domain.Campaign, error) {
	return f.campaigns, nil
}

func (f *fakeCampaigns) GetTenant(ctx context.Context, tenantID string) (*domain.Tenant, error) {
	return f.tenant, nil
}

func (f *fakeCampaigns) MarkIngested(ctx context.Context, campaignID string, at time.Time) error {
	f.ingested = append(f.ingested, campaignID)
	return nil
}

type fakeLeads struct {
	upserts []normalizer.NormalizedLead
}

func (f *fakeLeads) UpsertLead(ctx context.Context, tenantID, campaignID string, n normalizer.NormalizedLead, source domain.LeadSource) (*domain.Lead, bool, error) {
	f.upserts = append(f.upserts, n)
	return &domain.Lead{ID: "lead-" + n.Email, TenantID: tenantID, Email: n.Email, Source: source}, true, nil
}

type fakeEmitter struct {
	events []string
	keys   []string
}

func (f *fakeEmitter) Emit(ctx context.Context, eventType, tenantID, key string, payload any) (uuid.UUID, error) {
	f.events = append(f.events, eventType)
	f.keys = append(f.keys, key)
	return uuid.New(), nil
}

type fakeFetcher struct {
	records []map[string]any
}

func (f *fakeFetcher) FetchCandidates(ctx context.Context, cfg map[string]any) ([]map[string]any, error) {
	return f.records, nil
}

func intentCampaign() domain.Campaign {
	return domain.Campaign{
		ID: "c1", TenantID: "t1", Status: domain.CampaignActive,
		DataSourceKind: domain.SourceKindIntent,
		DataSourceConfig: map[string]any{"endpoint": "https://feed.example.com"},
	}
}

func strongRecord(email string) map[string]any {
	return map[string]any{
		"email": email, "first_name": "Dana", "last_name": "Reyes",
		"title": "Chief Executive Officer", "company": "Bright SaaS",
		"industry": "saas", "employee_count": "1000", "revenue": "$500M",
	}
}

func weakRecord(email string) map[string]any {
	return map[string]any{
		"email": email, "first_name": "Pat", "last_name": "Low",
		"company": "Tiny Shop",
	}
}

func TestIngestCampaignFiltersBelowMinScore(t *testing.T) {
	campaigns := &fakeCampaigns{campaigns: []domain.Campaign{intentCampaign()}, tenant: &domain.Tenant{ID: "t1"}}
	leads := &fakeLeads{}
	emitter := &fakeEmitter{}
	fetcher := &fakeFetcher{records: []map[string]any{weakRecord("pat@tiny.shop")}}

	svc := NewService(campaigns, leads, fetcher, nil, emitter, config.IngestionConfig{})
	require.NoError(t, svc.IngestCampaign(context.Background(), intentCampaign()))

	assert.Empty(t, leads.upserts, "below-threshold candidate must not create a lead")
	assert.Empty(t, emitter.events, "below-threshold candidate must not emit")
	assert.Equal(t, []string{"c1"}, campaigns.ingested)
}

func TestIngestCampaignEmitsQualifiedCandidates(t *testing.T) {
	campaigns := &fakeCampaigns{campaigns: []domain.Campaign{intentCampaign()}, tenant: &domain.Tenant{ID: "t1"}}
	leads := &fakeLeads{}
	emitter := &fakeEmitter{}
	fetcher := &fakeFetcher{records: []map[string]any{
		strongRecord("dana@bright.saas"),
		weakRecord("pat@tiny.shop"),
	}}

	svc := NewService(campaigns, leads, fetcher, nil, emitter, config.IngestionConfig{})
	require.NoError(t, svc.IngestCampaign(context.Background(), intentCampaign()))

	require.Len(t, leads.upserts, 1)
	assert.Equal(t, "dana@bright.saas", leads.upserts[0].Email)
	assert.Equal(t, []string{EventLeadIngested}, emitter.events)
}

func TestIngestCampaignSkipsInactive(t *testing.T) {
	c := intentCampaign()
	c.Status = domain.CampaignPaused
	campaigns := &fakeCampaigns{tenant: &domain.Tenant{ID: "t1"}}
	emitter := &fakeEmitter{}

	svc := NewService(campaigns, &fakeLeads{}, &fakeFetcher{records: []map[string]any{strongRecord("x@y.co")}}, nil, emitter, config.IngestionConfig{})
	require.NoError(t, svc.IngestCampaign(context.Background(), c))

	assert.Empty(t, emitter.events)
	assert.Empty(t, campaigns.ingested)
}

func TestIngestCampaignManualSourceIsNoOp(t *testing.T) {
	c := intentCampaign()
	c.DataSourceKind = domain.SourceKindManual
	campaigns := &fakeCampaigns{campaigns: []domain.Campaign{c}, tenant: &domain.Tenant{ID: "t1"}}
	emitter := &fakeEmitter{}

	svc := NewService(campaigns, &fakeLeads{}, &fakeFetcher{records: []map[string]any{strongRecord("x@y.co")}}, nil, emitter, config.IngestionConfig{})
	require.NoError(t, svc.IngestCampaign(context.Background(), c))

	assert.Empty(t, emitter.events, "manual/CSV sources enter out of band, never via the cron pull")
}

func TestScoreAndRankTruncatesToResearchLimit(t *testing.T) {
	campaigns := &fakeCampaigns{tenant: &domain.Tenant{ID: "t1"}}
	svc := NewService(campaigns, &fakeLeads{}, nil, nil, &fakeEmitter{}, config.IngestionConfig{AutoResearchLimit: 2})

	raw := []map[string]any{
		strongRecord("a@x.co"), strongRecord("b@x.co"), strongRecord("c@x.co"),
	}
	ranked := svc.scoreAndRank(raw, "intent", &domain.Tenant{ID: "t1"}, 0.7)
	assert.Len(t, ranked, 2)
}

func TestScoreAndRankOrdersDescending(t *testing.T) {
	campaigns := &fakeCampaigns{tenant: &domain.Tenant{ID: "t1"}}
	svc := NewService(campaigns, &fakeLeads{}, nil, nil, &fakeEmitter{}, config.IngestionConfig{MinIntentScore: 1})

	mid := strongRecord("mid@x.co")
	mid["title"] = "Director"
	ranked := svc.scoreAndRank([]map[string]any{mid, strongRecord("top@x.co")}, "intent", &domain.Tenant{ID: "t1"}, 0.7)
	require.Len(t, ranked, 2)
	assert.GreaterOrEqual(t, ranked[0].score, ranked[1].score)
}
