package attribution

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/salesloop/internal/domain"
)

type fakeOutreach struct {
	candidates []domain.OutreachEvent
	firstSent  *time.Time

	created *domain.OutreachEvent
	tags    []domain.ElementTag
}

func (f *fakeOutreach) Create(ctx context.Context, ev *domain.OutreachEvent, tags []domain.ElementTag) error {
	f.created, f.tags = ev, tags
	return nil
}

func (f *fakeOutreach) FindForAttribution(ctx context.Context, tenantID, providerCampaignID, providerLeadID string) ([]domain.OutreachEvent, error) {
	return f.candidates, nil
}

func (f *fakeOutreach) FirstSentAt(ctx context.Context, tenantID, leadID string) (*time.Time, error) {
	return f.firstSent, nil
}

type fakeEngagement struct {
	created *domain.EngagementEvent
}

func (f *fakeEngagement) Create(ctx context.Context, ev *domain.EngagementEvent) error {
	f.created = ev
	return nil
}

func TestRecordOutreachTagsElements(t *testing.T) {
	outreach := &fakeOutreach{}
	svc := NewService(outreach, &fakeEngagement{})

	err := svc.RecordOutreach(context.Background(), &domain.OutreachEvent{
		TenantID: "t1", LeadID: "l1", Channel: "email",
		Subject: "Quick question about your hiring plans?",
		Body:    "Noticed you just opened a Berlin office. Worth a quick call next week? Thoughts?",
		StrategySnapshot: domain.SequenceStrategy{Tone: "direct"},
		TopTrigger:       "hiring_surge",
	})
	require.NoError(t, err)
	require.NotNil(t, outreach.created)
	assert.False(t, outreach.created.SentAt.IsZero())

	byType := map[domain.ElementType]string{}
	for _, tag := range outreach.tags {
		byType[tag.ElementType] = tag.ElementValue
	}
	assert.Equal(t, "question", byType[domain.ElementSubjectLine])
	assert.Equal(t, "observation_led", byType[domain.ElementOpener])
	assert.Equal(t, "hiring_surge", byType[domain.ElementPainPoint])
	assert.Equal(t, "soft_call_ask", byType[domain.ElementCTA])
	assert.Equal(t, "direct", byType[domain.ElementTone])
	assert.Equal(t, "short", byType[domain.ElementLength])
}

func TestResolveEngagementAttributed(t *testing.T) {
	first := time.Now().Add(-72 * time.Hour)
	outreach := &fakeOutreach{
		candidates: []domain.OutreachEvent{{ID: "o1", LeadID: "l1", TenantID: "t1"}},
		firstSent:  &first,
	}
	engagement := &fakeEngagement{}
	svc := NewService(outreach, engagement)

	leadID, err := svc.ResolveEngagement(context.Background(), "t1", "pc1", "pl1", domain.EngagementReply, "positive")
	require.NoError(t, err)

	assert.Equal(t, "l1", leadID)
	require.NotNil(t, engagement.created)
	assert.False(t, engagement.created.Unattributed)
	require.NotNil(t, engagement.created.OutreachEventID)
	assert.Equal(t, "o1", *engagement.created.OutreachEventID)
	assert.Equal(t, 3, engagement.created.DaysSinceFirstEmail)
}

func TestResolveEngagementUnattributedIsStoredNotDropped(t *testing.T) {
	outreach := &fakeOutreach{}
	engagement := &fakeEngagement{}
	svc := NewService(outreach, engagement)

	leadID, err := svc.ResolveEngagement(context.Background(), "t1", "pc1", "unknown@nowhere.io", domain.EngagementOpen, "")
	require.NoError(t, err)

	assert.Empty(t, leadID)
	require.NotNil(t, engagement.created, "unattributed engagements are stored, not dropped")
	assert.True(t, engagement.created.Unattributed)
	assert.Nil(t, engagement.created.OutreachEventID)
}

func TestSubjectPattern(t *testing.T) {
	assert.Equal(t, "question", subjectPattern("Are you free Tuesday?"))
	assert.Equal(t, "stat_led", subjectPattern("Cut costs by 40%"))
	assert.Equal(t, "casual", subjectPattern("quick one"))
	assert.Equal(t, "statement", subjectPattern("Scaling outbound at Acme"))
	assert.Empty(t, subjectPattern(""))
}

func TestLengthBucket(t *testing.T) {
	assert.Equal(t, "", lengthBucket(""))
	assert.Equal(t, "short", lengthBucket("a few words only"))
}
