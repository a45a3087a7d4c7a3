package reviewer

import (
	"context"
	"fmt"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/salesloop/internal/domain"
	"github.com/ignite/salesloop/internal/eventbus"
	"github.com/ignite/salesloop/internal/generator"
	"github.com/ignite/salesloop/internal/providers/llm"
)

type fakeLeads struct {
	status domain.LeadStatus
}

func (f *fakeLeads) SetStatus(ctx context.Context, tenantID, leadID string, status domain.LeadStatus) error {
	f.status = status
	return nil
}

type fakeSequences struct {
	seq *domain.Sequence

	reviewDecision domain.ReviewDecision
	reviewStatus   domain.SequenceStatus
}

func (f *fakeSequences) Get(ctx context.Context, tenantID, sequenceID string) (*domain.Sequence, error) {
	if f.seq == nil {
		return nil, fmt.Errorf("sequence %s not found", sequenceID)
	}
	return f.seq, nil
}

func (f *fakeSequences) UpdateReview(ctx context.Context, tenantID, sequenceID string, score float64, decision domain.ReviewDecision, status domain.SequenceStatus) error {
	f.reviewDecision, f.reviewStatus = decision, status
	return nil
}

type fakeNotifier struct {
	channels []string
}

func (f *fakeNotifier) Send(ctx context.Context, channel string, payload map[string]any) error {
	f.channels = append(f.channels, channel)
	return nil
}

type scriptedLLM struct {
	response string
	calls    int
}

func (s *scriptedLLM) Chat(ctx context.Context, messages []llm.Message, opts llm.ChatOptions) (llm.ChatResult, error) {
	s.calls++
	return llm.ChatResult{Content: s.response, Finish: llm.FinishStop}, nil
}

func (s *scriptedLLM) Validate(ctx context.Context) bool { return true }

func pendingSequence() *domain.Sequence {
	return &domain.Sequence{
		ID: "s1", TenantID: "t1", LeadID: "l1", CampaignID: "c1",
		Status:     domain.SequencePending,
		EmailSteps: []domain.EmailStep{{StepNumber: 1, Body: "draft"}},
	}
}

// newTestService wires a Service over fakes; expectEmits lists the
// event types expected on the bus, in order.
func newTestService(t *testing.T, seqs *fakeSequences, model llm.LLM, expectEmits []string) (*Service, *fakeLeads, *fakeNotifier, *eventbus.StepContext, func()) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	for _, eventType := range expectEmits {
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO event_queue")).
			WithArgs(sqlmock.AnyArg(), eventType, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
	}
	bus := eventbus.New(db, nil, eventbus.Config{})
	leads := &fakeLeads{}
	notifier := &fakeNotifier{}
	svc := NewService(leads, seqs, notifier, model, bus)
	sc := eventbus.NewStepContext(nil, uuid.New())
	cleanup := func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	}
	return svc, leads, notifier, sc, cleanup
}

func TestProcessApproveEmitsSequenceApproved(t *testing.T) {
	seqs := &fakeSequences{seq: pendingSequence()}
	model := &scriptedLLM{response: `{"score":88,"decision":"APPROVE","feedback":"ship it"}`}
	svc, leads, _, sc, cleanup := newTestService(t, seqs, model, []string{EventSequenceApproved})
	defer cleanup()

	err := svc.Process(context.Background(), sc, "t1", generator.SequenceDraftedPayload{SequenceID: "s1", CampaignID: "c1"})
	require.NoError(t, err)

	assert.Equal(t, domain.ReviewApprove, seqs.reviewDecision)
	assert.Equal(t, domain.SequenceApproved, seqs.reviewStatus)
	assert.Equal(t, domain.LeadSequenceReady, leads.status)
}

// A REVISE verdict hands the draft back to the generator: the reviewer
// emits lead.sequence-revision-needed with the instructions and attempt
// number, and does not produce a revision of its own.
func TestProcessReviseEmitsRevisionNeeded(t *testing.T) {
	seqs := &fakeSequences{seq: pendingSequence()}
	model := &scriptedLLM{response: `{"score":40,"decision":"REVISE","feedback":"too generic"}`}
	svc, _, notifier, sc, cleanup := newTestService(t, seqs, model, []string{generator.EventSequenceRevisionNeeded})
	defer cleanup()

	err := svc.Process(context.Background(), sc, "t1", generator.SequenceDraftedPayload{SequenceID: "s1", CampaignID: "c1"})
	require.NoError(t, err)

	assert.Equal(t, domain.ReviewRevise, seqs.reviewDecision)
	assert.Equal(t, domain.SequenceRevising, seqs.reviewStatus)
	assert.Equal(t, 1, model.calls, "one review call, no in-process revision call")
	assert.Empty(t, notifier.channels)
}

// A REVISE verdict on a sequence that has exhausted its revision budget
// escalates to human review instead of looping again.
func TestProcessReviseExhaustedEscalates(t *testing.T) {
	seq := pendingSequence()
	seq.RevisionCount = domain.MaxRevisionAttempts
	seqs := &fakeSequences{seq: seq}
	model := &scriptedLLM{response: `{"score":40,"decision":"REVISE","feedback":"still too generic"}`}
	svc, leads, notifier, sc, cleanup := newTestService(t, seqs, model, nil)
	defer cleanup()

	err := svc.Process(context.Background(), sc, "t1", generator.SequenceDraftedPayload{SequenceID: "s1", CampaignID: "c1"})
	require.NoError(t, err)

	assert.Equal(t, domain.ReviewHumanReview, seqs.reviewDecision)
	assert.Equal(t, domain.SequenceHumanReview, seqs.reviewStatus)
	assert.Equal(t, domain.LeadHumanReview, leads.status)
	assert.Contains(t, notifier.channels, "human_review")
}

func TestProcessAlreadyDecidedIsNoOp(t *testing.T) {
	seq := pendingSequence()
	seq.Status = domain.SequenceApproved
	seqs := &fakeSequences{seq: seq}
	model := &scriptedLLM{response: `{"score":88,"decision":"APPROVE","feedback":"ship it"}`}
	svc, _, _, sc, cleanup := newTestService(t, seqs, model, nil)
	defer cleanup()

	err := svc.Process(context.Background(), sc, "t1", generator.SequenceDraftedPayload{SequenceID: "s1"})
	require.NoError(t, err)
	assert.Empty(t, seqs.reviewDecision)
	assert.Zero(t, model.calls)
}

func TestDecisionForRespectsRevisionBound(t *testing.T) {
	exhausted := &domain.Sequence{RevisionCount: domain.MaxRevisionAttempts}
	v := reviewVerdict{Score: 40, Decision: domain.ReviewRevise}
	assert.Equal(t, domain.ReviewHumanReview, decisionFor(v, exhausted))

	fresh := &domain.Sequence{RevisionCount: 0}
	assert.Equal(t, domain.ReviewRevise, decisionFor(v, fresh))

	good := reviewVerdict{Score: 90, Decision: domain.ReviewApprove}
	assert.Equal(t, domain.ReviewApprove, decisionFor(good, fresh))
}

func TestParseFailureDefaultsToRevise(t *testing.T) {
	seqs := &fakeSequences{seq: pendingSequence()}
	model := &scriptedLLM{response: "not json"}
	svc, _, _, sc, cleanup := newTestService(t, seqs, model, []string{generator.EventSequenceRevisionNeeded})
	defer cleanup()

	err := svc.Process(context.Background(), sc, "t1", generator.SequenceDraftedPayload{SequenceID: "s1", CampaignID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, domain.ReviewRevise, seqs.reviewDecision)
}
