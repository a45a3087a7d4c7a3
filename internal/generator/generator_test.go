package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/salesloop/internal/domain"
	"github.com/ignite/salesloop/internal/eventbus"
	"github.com/ignite/salesloop/internal/providers/llm"
)

type fakePrompts struct {
	active   *domain.PromptVersion
	test     *domain.PromptABTest
	versions map[string]*domain.PromptVersion
}

func (f *fakePrompts) ActiveVersion(ctx context.Context, tenantID, promptName string) (*domain.PromptVersion, error) {
	return f.active, nil
}

func (f *fakePrompts) RunningTest(ctx context.Context, tenantID, promptName string) (*domain.PromptABTest, error) {
	return f.test, nil
}

func (f *fakePrompts) GetVersion(ctx context.Context, tenantID, versionID string) (*domain.PromptVersion, error) {
	return f.versions[versionID], nil
}

func TestResolvePromptFallsBackToStaticWithoutRepo(t *testing.T) {
	svc := NewService(nil, nil, nil, nil, nil, nil, nil, nil, nil)
	prompt, versionID := svc.resolvePrompt(context.Background(), "t1", "l1")
	assert.Equal(t, generatorSystemPrompt, prompt)
	assert.Empty(t, versionID)
}

func TestResolvePromptUsesActiveVersion(t *testing.T) {
	prompts := &fakePrompts{active: &domain.PromptVersion{ID: "v1", Body: "evolved prompt"}}
	svc := NewService(nil, nil, nil, nil, nil, prompts, nil, nil, nil)

	prompt, versionID := svc.resolvePrompt(context.Background(), "t1", "l1")
	assert.Equal(t, "evolved prompt", prompt)
	assert.Equal(t, "v1", versionID)
}

func TestResolvePromptABAssignmentIsStablePerLead(t *testing.T) {
	prompts := &fakePrompts{
		test: &domain.PromptABTest{
			ControlVersionID: "v1", VariantVersionIDs: []string{"v2"}, SplitPercent: 50,
		},
		versions: map[string]*domain.PromptVersion{
			"v1": {ID: "v1", Body: "control"},
			"v2": {ID: "v2", Body: "variant"},
		},
	}
	svc := NewService(nil, nil, nil, nil, nil, prompts, nil, nil, nil)

	_, first := svc.resolvePrompt(context.Background(), "t1", "lead-alpha")
	for i := 0; i < 5; i++ {
		_, again := svc.resolvePrompt(context.Background(), "t1", "lead-alpha")
		assert.Equal(t, first, again, "same lead must always land on the same arm")
	}
}

func TestResolvePromptABSplitsAcrossLeads(t *testing.T) {
	prompts := &fakePrompts{
		test: &domain.PromptABTest{
			ControlVersionID: "v1", VariantVersionIDs: []string{"v2"}, SplitPercent: 50,
		},
		versions: map[string]*domain.PromptVersion{
			"v1": {ID: "v1", Body: "control"},
			"v2": {ID: "v2", Body: "variant"},
		},
	}
	svc := NewService(nil, nil, nil, nil, nil, prompts, nil, nil, nil)

	arms := map[string]int{}
	for _, leadID := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k", "l"} {
		_, versionID := svc.resolvePrompt(context.Background(), "t1", leadID)
		arms[versionID]++
	}
	assert.Greater(t, arms["v1"], 0, "some leads must hit control")
	assert.Greater(t, arms["v2"], 0, "some leads must hit the variant")
}

func TestTimelineForTruncatesAndExtends(t *testing.T) {
	base := []int{0, 3, 7, 14, 21}
	assert.Equal(t, []int{0, 3, 7}, timelineFor(base, 3))
	assert.Equal(t, base, timelineFor(base, 5))
	assert.Equal(t, []int{0, 3, 7, 14, 21, 28, 35}, timelineFor(base, 7))
}

func TestExtractJSONStripsFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, extractJSON("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, extractJSON(`Sure, here you go: {"a":1} hope that helps`))
	assert.Equal(t, "no braces here", extractJSON("no braces here"))
}

type fakeGenLeads struct {
	lead   *domain.Lead
	status domain.LeadStatus
}

func (f *fakeGenLeads) Get(ctx context.Context, tenantID, leadID string) (*domain.Lead, error) {
	return f.lead, nil
}

func (f *fakeGenLeads) SetStatus(ctx context.Context, tenantID, leadID string, status domain.LeadStatus) error {
	f.status = status
	return nil
}

type fakeGenCampaigns struct {
	campaign *domain.Campaign
	brand    *domain.Brand
	tenant   *domain.Tenant
}

func (f *fakeGenCampaigns) Get(ctx context.Context, tenantID, campaignID string) (*domain.Campaign, error) {
	return f.campaign, nil
}

func (f *fakeGenCampaigns) GetBrand(ctx context.Context, tenantID, brandID string) (*domain.Brand, error) {
	return f.brand, nil
}

func (f *fakeGenCampaigns) GetTenant(ctx context.Context, tenantID string) (*domain.Tenant, error) {
	return f.tenant, nil
}

type fakeGenResearch struct {
	record *domain.ResearchRecord
}

func (f *fakeGenResearch) GetByLead(ctx context.Context, tenantID, leadID string) (*domain.ResearchRecord, error) {
	return f.record, nil
}

type fakeGenRAG struct{}

func (fakeGenRAG) ActiveDocuments(ctx context.Context, tenantID, brandID string) ([]domain.RAGDocument, error) {
	return nil, nil
}

type fakeGenSequences struct {
	seq *domain.Sequence

	revisedCount      int
	revisedEmail      []domain.EmailStep
	humanReviewReason string
}

func (f *fakeGenSequences) Create(ctx context.Context, seq *domain.Sequence) error { return nil }

func (f *fakeGenSequences) Get(ctx context.Context, tenantID, sequenceID string) (*domain.Sequence, error) {
	if f.seq == nil {
		return nil, fmt.Errorf("sequence %s not found", sequenceID)
	}
	return f.seq, nil
}

func (f *fakeGenSequences) Revise(ctx context.Context, tenantID, sequenceID string, emailSteps []domain.EmailStep, linkedInSteps []domain.LinkedInStep, newRevisionCount int) error {
	f.revisedCount = newRevisionCount
	f.revisedEmail = emailSteps
	return nil
}

func (f *fakeGenSequences) SetHumanReview(ctx context.Context, tenantID, sequenceID, reason string) error {
	f.humanReviewReason = reason
	return nil
}

type scriptedGenLLM struct {
	response string
	prompts  []string
}

func (s *scriptedGenLLM) Chat(ctx context.Context, messages []llm.Message, opts llm.ChatOptions) (llm.ChatResult, error) {
	if len(messages) > 0 {
		s.prompts = append(s.prompts, messages[0].Content)
	}
	return llm.ChatResult{Content: s.response, Finish: llm.FinishStop}, nil
}

func (s *scriptedGenLLM) Validate(ctx context.Context) bool { return true }

func revisionEvent(t *testing.T, payload SequenceRevisionPayload) eventbus.Event {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return eventbus.Event{ID: uuid.New(), TenantID: "t1", Payload: raw}
}

func revisionFixture(revisionCount int) (*fakeGenLeads, *fakeGenCampaigns, *fakeGenResearch, *fakeGenSequences) {
	leads := &fakeGenLeads{lead: &domain.Lead{ID: "l1", TenantID: "t1", FirstName: "Ada", CompanyName: "Nova"}}
	campaigns := &fakeGenCampaigns{
		campaign: &domain.Campaign{ID: "c1", BrandID: "b1", Mode: domain.ModeEmailOnly},
		brand:    &domain.Brand{ID: "b1", Voice: "candid"},
		tenant:   &domain.Tenant{ID: "t1"},
	}
	research := &fakeGenResearch{record: &domain.ResearchRecord{LeadID: "l1"}}
	sequences := &fakeGenSequences{seq: &domain.Sequence{
		ID: "s1", TenantID: "t1", LeadID: "l1", CampaignID: "c1",
		Status: domain.SequenceRevising, RevisionCount: revisionCount,
		EmailSteps: []domain.EmailStep{{StepNumber: 1, Body: "old draft"}},
	}}
	return leads, campaigns, research, sequences
}

// A revision re-runs the generator with the previous draft and the
// reviewer's instructions in the prompt, persists the new draft at the
// requested attempt, and announces completion before re-entering review.
func TestHandleRevisionRegeneratesAndReemits(t *testing.T) {
	leads, campaigns, research, sequences := revisionFixture(0)
	model := &scriptedGenLLM{response: `{"email_steps":[{"step_number":1,"body":"sharper"}],"linkedin_steps":[],"strategy":{}}`}

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()
	for _, eventType := range []string{EventSequenceRevisionComplete, EventSequenceDrafted} {
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO event_queue")).
			WithArgs(sqlmock.AnyArg(), eventType, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
	}
	bus := eventbus.New(db, nil, eventbus.Config{})
	svc := NewService(leads, campaigns, research, fakeGenRAG{}, sequences, nil, nil, model, bus)

	sc := eventbus.NewStepContext(nil, uuid.New())
	err = svc.HandleRevision(context.Background(), sc, revisionEvent(t, SequenceRevisionPayload{
		LeadID: "l1", SequenceID: "s1", CampaignID: "c1",
		RevisionInstructions: "tighten the opener", Attempt: 1,
	}))
	require.NoError(t, err)

	assert.Equal(t, 1, sequences.revisedCount)
	require.Len(t, sequences.revisedEmail, 1)
	assert.Equal(t, "sharper", sequences.revisedEmail[0].Body)
	require.Len(t, model.prompts, 1)
	assert.Contains(t, model.prompts[0], "old draft", "the previous draft rides along in the prompt")
	assert.Contains(t, model.prompts[0], "tighten the opener", "the reviewer's instructions ride along in the prompt")
	assert.Contains(t, model.prompts[0], "candid", "the brand grounding is rebuilt, not dropped")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleRevisionAlreadyAppliedIsNoOp(t *testing.T) {
	leads, campaigns, research, sequences := revisionFixture(2)
	model := &scriptedGenLLM{response: `{}`}
	svc := NewService(leads, campaigns, research, fakeGenRAG{}, sequences, nil, nil, model, nil)

	sc := eventbus.NewStepContext(nil, uuid.New())
	err := svc.HandleRevision(context.Background(), sc, revisionEvent(t, SequenceRevisionPayload{
		LeadID: "l1", SequenceID: "s1", CampaignID: "c1", Attempt: 2,
	}))
	require.NoError(t, err)
	assert.Zero(t, sequences.revisedCount)
	assert.Empty(t, model.prompts)
}

func TestHandleRevisionUnparseableEscalates(t *testing.T) {
	leads, campaigns, research, sequences := revisionFixture(0)
	model := &scriptedGenLLM{response: "never json"}
	svc := NewService(leads, campaigns, research, fakeGenRAG{}, sequences, nil, nil, model, nil)

	sc := eventbus.NewStepContext(nil, uuid.New())
	err := svc.HandleRevision(context.Background(), sc, revisionEvent(t, SequenceRevisionPayload{
		LeadID: "l1", SequenceID: "s1", CampaignID: "c1",
		RevisionInstructions: "anything", Attempt: 1,
	}))
	require.NoError(t, err)

	assert.Zero(t, sequences.revisedCount)
	assert.NotEmpty(t, sequences.humanReviewReason)
	assert.Equal(t, domain.LeadHumanReview, leads.status)
	assert.Len(t, model.prompts, maxGenerateAttempts)
}

func TestBuildPromptIncludesTimelineAndDocs(t *testing.T) {
	brand := &domain.Brand{Voice: "candid", Tone: "warm", ValueProposition: "save hours weekly"}
	campaign := &domain.Campaign{Mode: domain.ModeMultiChannel, EmailStepCount: 3, LinkedInStepCount: 2}
	lead := &domain.Lead{FirstName: "Ada", LastName: "Lin", JobTitle: "VP Sales", CompanyName: "Nova"}
	docs := []domain.RAGDocument{{Type: "learned", Title: "Question subjects win", Body: "questions outperform statements"}}

	prompt := buildPrompt(domain.ICP{}, brand, campaign, lead, domain.ContextProfile{}, docs)

	assert.Contains(t, prompt, "candid")
	assert.Contains(t, prompt, "Nova")
	assert.Contains(t, prompt, "[0 3 7]")
	assert.Contains(t, prompt, "Question subjects win")
	require.Contains(t, prompt, "multi_channel")
}
