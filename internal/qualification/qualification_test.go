package qualification

import (
	"context"
	"fmt"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/google/uuid"

	"github.com/ignite/salesloop/internal/domain"
	"github.com/ignite/salesloop/internal/eventbus"
	"github.com/ignite/salesloop/internal/ingestor"
	"github.com/ignite/salesloop/internal/providers/llm"
)

type fakeLeadRepo struct {
	lead *domain.Lead

	decision   domain.QualificationDecision
	confidence float64
	newStatus  domain.LeadStatus
	updated    bool
}

func (f *fakeLeadRepo) Get(ctx context.Context, tenantID, leadID string) (*domain.Lead, error) {
	if f.lead == nil {
		return nil, fmt.Errorf("lead %s not found", leadID)
	}
	return f.lead, nil
}

func (f *fakeLeadRepo) UpdateDecision(ctx context.Context, tenantID, leadID string, decision domain.QualificationDecision, reasoning string, confidence float64, newStatus domain.LeadStatus) error {
	f.decision, f.confidence, f.newStatus, f.updated = decision, confidence, newStatus, true
	return nil
}

func (f *fakeLeadRepo) FindRelatedByCompany(ctx context.Context, tenantID, companyDomain, excludeLeadID string) ([]domain.Lead, error) {
	return nil, nil
}

type fakeCampaignRepo struct {
	campaign *domain.Campaign
	tenant   *domain.Tenant
}

func (f *fakeCampaignRepo) Get(ctx context.Context, tenantID, campaignID string) (*domain.Campaign, error) {
	if f.campaign == nil {
		return nil, fmt.Errorf("campaign %s not found", campaignID)
	}
	return f.campaign, nil
}

func (f *fakeCampaignRepo) GetTenant(ctx context.Context, tenantID string) (*domain.Tenant, error) {
	return f.tenant, nil
}

type scriptedLLM struct {
	responses []string
	calls     int
}

func (s *scriptedLLM) Chat(ctx context.Context, messages []llm.Message, opts llm.ChatOptions) (llm.ChatResult, error) {
	if s.calls >= len(s.responses) {
		return llm.ChatResult{}, fmt.Errorf("unexpected llm call %d", s.calls)
	}
	content := s.responses[s.calls]
	s.calls++
	return llm.ChatResult{Content: content, Finish: llm.FinishStop}, nil
}

func (s *scriptedLLM) Validate(ctx context.Context) bool { return true }

func newTestService(t *testing.T, leads *fakeLeadRepo, campaigns *fakeCampaignRepo, model llm.LLM, expectEmits int) (*Service, *eventbus.StepContext, func()) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	for i := 0; i < expectEmits; i++ {
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO event_queue")).
			WillReturnResult(sqlmock.NewResult(1, 1))
	}
	bus := eventbus.New(db, nil, eventbus.Config{})
	svc := NewService(leads, campaigns, bus, model)
	sc := eventbus.NewStepContext(nil, uuid.New())
	cleanup := func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	}
	return svc, sc, cleanup
}

func pixelLead(visits int, decision domain.QualificationDecision) *domain.Lead {
	lead := &domain.Lead{
		ID: "l1", TenantID: "t1", Email: "alice@acme.io",
		FirstName: "Alice", LastName: "Zhou", JobTitle: "VP Marketing",
		CompanyName: "Acme", CompanyIndustry: "retail",
		Source: domain.SourcePixel, VisitCount: visits,
		Status: domain.LeadIngested,
	}
	if decision != "" {
		lead.QualificationDecision = &decision
	}
	return lead
}

func TestProcessReturnVisitAutoQualifies(t *testing.T) {
	leads := &fakeLeadRepo{lead: pixelLead(5, domain.DecisionYES)}
	campaigns := &fakeCampaignRepo{tenant: &domain.Tenant{ID: "t1"}}
	model := &scriptedLLM{} // any call fails the test

	svc, sc, cleanup := newTestService(t, leads, campaigns, model, 1)
	defer cleanup()

	err := svc.Process(context.Background(), sc, "t1", ingestor.LeadIngestedPayload{LeadID: "l1"})
	require.NoError(t, err)

	assert.Equal(t, domain.DecisionYES, leads.decision)
	assert.Equal(t, 0.9, leads.confidence)
	assert.Equal(t, domain.LeadResearched, leads.newStatus)
	assert.Zero(t, model.calls, "auto-qualify path must not call the LLM")
}

func TestProcessDisqualifierTitleForcesNo(t *testing.T) {
	lead := pixelLead(1, "")
	lead.JobTitle = "Student Intern"
	leads := &fakeLeadRepo{lead: lead}
	campaigns := &fakeCampaignRepo{tenant: &domain.Tenant{
		ID: "t1",
		ICP: domain.ICP{Disqualifiers: []domain.DisqualifierRule{
			{Field: "title", Values: []string{"intern"}, Reason: "not a buyer"},
		}},
	}}
	model := &scriptedLLM{}

	svc, sc, cleanup := newTestService(t, leads, campaigns, model, 0)
	defer cleanup()

	err := svc.Process(context.Background(), sc, "t1", ingestor.LeadIngestedPayload{LeadID: "l1"})
	require.NoError(t, err)

	assert.Equal(t, domain.DecisionNO, leads.decision)
	assert.Equal(t, domain.LeadDisqualified, leads.newStatus)
	assert.Zero(t, model.calls)
}

func TestProcessLLMQualifiesYes(t *testing.T) {
	leads := &fakeLeadRepo{lead: pixelLead(1, "")}
	campaigns := &fakeCampaignRepo{tenant: &domain.Tenant{ID: "t1"}}
	model := &scriptedLLM{responses: []string{
		"```json\n{\"decision\":\"YES\",\"reasoning\":\"title match\",\"confidence\":0.85}\n```",
	}}

	svc, sc, cleanup := newTestService(t, leads, campaigns, model, 1)
	defer cleanup()

	err := svc.Process(context.Background(), sc, "t1", ingestor.LeadIngestedPayload{LeadID: "l1", CampaignID: ""})
	require.NoError(t, err)

	assert.Equal(t, domain.DecisionYES, leads.decision)
	assert.Equal(t, 0.85, leads.confidence)
	assert.Equal(t, domain.LeadResearched, leads.newStatus)
	assert.Equal(t, 1, model.calls)
}

func TestProcessLowConfidenceYesCoercedToNo(t *testing.T) {
	leads := &fakeLeadRepo{lead: pixelLead(1, "")}
	campaigns := &fakeCampaignRepo{tenant: &domain.Tenant{ID: "t1"}}
	model := &scriptedLLM{responses: []string{
		`{"decision":"YES","reasoning":"maybe","confidence":0.3}`,
	}}

	svc, sc, cleanup := newTestService(t, leads, campaigns, model, 0)
	defer cleanup()

	err := svc.Process(context.Background(), sc, "t1", ingestor.LeadIngestedPayload{LeadID: "l1"})
	require.NoError(t, err)

	assert.Equal(t, domain.DecisionNO, leads.decision)
	assert.Equal(t, domain.LeadDisqualified, leads.newStatus)
}

func TestProcessParseFailureEscalatesToReview(t *testing.T) {
	leads := &fakeLeadRepo{lead: pixelLead(1, "")}
	campaigns := &fakeCampaignRepo{tenant: &domain.Tenant{ID: "t1"}}
	model := &scriptedLLM{responses: []string{"not json at all", "still not json"}}

	// REVIEW flags the lead for a human but still emits downstream
	// (auto-fallthrough), so one emit is expected.
	svc, sc, cleanup := newTestService(t, leads, campaigns, model, 1)
	defer cleanup()

	err := svc.Process(context.Background(), sc, "t1", ingestor.LeadIngestedPayload{LeadID: "l1"})
	require.NoError(t, err)

	assert.Equal(t, domain.DecisionReview, leads.decision)
	assert.Equal(t, domain.LeadHumanReview, leads.newStatus)
	assert.Equal(t, 2, model.calls, "one retry, then escalate")
}

func TestProcessReviewDecisionStillFlowsDownstream(t *testing.T) {
	leads := &fakeLeadRepo{lead: pixelLead(1, "")}
	campaigns := &fakeCampaignRepo{tenant: &domain.Tenant{ID: "t1"}}
	model := &scriptedLLM{responses: []string{
		`{"decision":"REVIEW","reasoning":"borderline fit","confidence":0.6}`,
	}}

	svc, sc, cleanup := newTestService(t, leads, campaigns, model, 1)
	defer cleanup()

	err := svc.Process(context.Background(), sc, "t1", ingestor.LeadIngestedPayload{LeadID: "l1"})
	require.NoError(t, err)

	assert.Equal(t, domain.DecisionReview, leads.decision)
	assert.Equal(t, domain.LeadHumanReview, leads.newStatus, "the human flag stays on for visibility")
}

func TestProcessInactiveCampaignSkips(t *testing.T) {
	leads := &fakeLeadRepo{lead: pixelLead(1, "")}
	campaigns := &fakeCampaignRepo{
		campaign: &domain.Campaign{ID: "c1", Status: domain.CampaignPaused},
		tenant:   &domain.Tenant{ID: "t1"},
	}
	model := &scriptedLLM{}

	svc, sc, cleanup := newTestService(t, leads, campaigns, model, 0)
	defer cleanup()

	err := svc.Process(context.Background(), sc, "t1", ingestor.LeadIngestedPayload{LeadID: "l1", CampaignID: "c1"})
	require.NoError(t, err)
	assert.False(t, leads.updated, "no decision should be written for a paused campaign")
}

func TestProcessAlreadyDecidedIsNoOp(t *testing.T) {
	lead := pixelLead(1, domain.DecisionYES)
	lead.Status = domain.LeadResearched
	leads := &fakeLeadRepo{lead: lead}
	campaigns := &fakeCampaignRepo{tenant: &domain.Tenant{ID: "t1"}}
	model := &scriptedLLM{}

	svc, sc, cleanup := newTestService(t, leads, campaigns, model, 0)
	defer cleanup()

	err := svc.Process(context.Background(), sc, "t1", ingestor.LeadIngestedPayload{LeadID: "l1"})
	require.NoError(t, err)
	assert.False(t, leads.updated)
	assert.Zero(t, model.calls)
}
