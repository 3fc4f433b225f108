package clarifier

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/probelabs/deepresearch/internal/llm"
	"github.com/probelabs/deepresearch/internal/models"
)

type fakeModel struct {
	reply string
	err   error
	calls int
}

func (f *fakeModel) Complete(_ context.Context, _ llm.Request) (string, error) {
	f.calls++
	return f.reply, f.err
}

func userTurn(text string) []models.Message {
	return []models.Message{{Role: "user", Content: text}}
}

func TestAssessVagueInputAsksOpenQuestion(t *testing.T) {
	model := &fakeModel{reply: `{
		"action": "NEED_CLARIFICATION",
		"confidence": 0.2,
		"dimensions": {"what": 0.1, "action": 0.2, "constraint": 0.1, "context": 0.1, "output": 0.1},
		"task": {"goal": ""},
		"clarification": {"question": "**What topic should I research?**", "open_ended": true},
		"reason": "no subject identified"
	}`}
	c := New(model, 0.75, zap.NewNop())

	plan := c.Assess(context.Background(), userTurn("help me out"), models.TaskDraft{})

	assert.Equal(t, models.ActionNeedClarification, plan.NextAction)
	require.NotNil(t, plan.Clarification)
	assert.NotEmpty(t, plan.Clarification.Question)
	assert.Less(t, plan.Confidence, 0.5)
}

func TestAssessClearRequestConfirmsPlan(t *testing.T) {
	model := &fakeModel{reply: `{
		"action": "PROCEED",
		"confidence": 0.9,
		"dimensions": {"what": 0.95, "action": 0.9, "constraint": 0.8, "context": 0.7, "output": 0.6},
		"task": {"goal": "Evaluate KRAS G12C as a drug target", "research_focus": ["mechanism", "clinical landscape", "competition"]},
		"assumptions": ["oncology focus"],
		"confirm_prompt": "Start with these three angles?",
		"reason": "subject and action fully specified"
	}`}
	c := New(model, 0.75, zap.NewNop())

	plan := c.Assess(context.Background(), userTurn("research KRAS G12C as a drug target"), models.TaskDraft{})

	// High-confidence PROCEED still surfaces the plan for confirmation.
	assert.Equal(t, models.ActionConfirmPlan, plan.NextAction)
	assert.GreaterOrEqual(t, len(plan.Task.ResearchFocus), 3)
	assert.NotEmpty(t, plan.ConfirmPrompt)
}

func TestAssessPrivateProjectForcesOpenQuestion(t *testing.T) {
	model := &fakeModel{reply: `{
		"action": "CONFIRM",
		"confidence": 0.7,
		"task": {"goal": "evaluate our product"},
		"confirm_prompt": "Evaluate the product?",
		"reason": "action clear, subject unnamed"
	}`}
	c := New(model, 0.75, zap.NewNop())

	plan := c.Assess(context.Background(), userTurn("evaluate our product"), models.TaskDraft{})

	assert.Equal(t, models.ActionNeedClarification, plan.NextAction)
	require.NotNil(t, plan.Clarification)
	assert.True(t, plan.Clarification.OpenEnded)
	assert.Equal(t, "project_details", plan.Clarification.MissingInfo)
}

func TestAssessPrivateGuardSkippedWhenDetailsKnown(t *testing.T) {
	model := &fakeModel{reply: `{
		"action": "CONFIRM",
		"confidence": 0.85,
		"task": {"goal": "evaluate our ADC pipeline", "research_focus": ["competitive landscape"]},
		"confirm_prompt": "Start?",
		"reason": "details already on file"
	}`}
	c := New(model, 0.75, zap.NewNop())
	draft := models.TaskDraft{ProjectInfo: "Phase 2, B7-H3, ovarian cancer"}

	plan := c.Assess(context.Background(), userTurn("evaluate our ADC pipeline"), draft)

	assert.Equal(t, models.ActionConfirmPlan, plan.NextAction)
}

func TestAssessParseFailureDegradesToGenericQuestion(t *testing.T) {
	c := New(&fakeModel{reply: "I'd be happy to help with that!"}, 0.75, zap.NewNop())

	plan := c.Assess(context.Background(), userTurn("compare EGFR inhibitors"), models.TaskDraft{})

	assert.Equal(t, models.ActionNeedClarification, plan.NextAction)
	require.NotNil(t, plan.Clarification)
	assert.NotEmpty(t, plan.Clarification.Question)
	assert.True(t, plan.Clarification.OpenEnded)
	assert.Equal(t, "compare EGFR inhibitors", plan.Task.Goal)
}

func TestAssessModelErrorDegradesToGenericQuestion(t *testing.T) {
	c := New(&fakeModel{err: errors.New("provider down")}, 0.75, zap.NewNop())

	plan := c.Assess(context.Background(), userTurn("anything"), models.TaskDraft{})

	assert.Equal(t, models.ActionNeedClarification, plan.NextAction)
	require.NotNil(t, plan.Clarification)
	assert.NotEmpty(t, plan.Clarification.Question)
}

func TestAssessIsDeterministic(t *testing.T) {
	reply := `{
		"action": "PROCEED",
		"confidence": 0.8,
		"task": {"goal": "CRISPR patent landscape", "research_focus": ["key patents", "litigation"]},
		"reason": "clear"
	}`
	c1 := New(&fakeModel{reply: reply}, 0.75, zap.NewNop())
	c2 := New(&fakeModel{reply: reply}, 0.75, zap.NewNop())
	msgs := userTurn("CRISPR patent landscape")

	p1 := c1.Assess(context.Background(), msgs, models.TaskDraft{})
	p2 := c2.Assess(context.Background(), msgs, models.TaskDraft{})

	assert.Equal(t, p1, p2)
}

func TestOverrides(t *testing.T) {
	cases := []struct {
		action     string
		confidence float64
		want       models.NextAction
	}{
		{"PROCEED", 0.96, models.ActionConfirmPlan},
		{"PROCEED", 0.80, models.ActionConfirmPlan},
		{"PROCEED", 0.65, models.ActionNeedClarification},
		{"CONFIRM", 0.70, models.ActionConfirmPlan},
		{"CONFIRM", 0.55, models.ActionNeedClarification},
		{"NEED_CLARIFICATION", 0.90, models.ActionNeedClarification},
	}
	c := New(nil, 0.75, zap.NewNop())
	for _, tc := range cases {
		r := &clarifierReply{Action: tc.action, Confidence: tc.confidence}
		plan := c.toPlan(r, "input", models.TaskDraft{})
		plan = c.applyOverrides(plan, r)
		assert.Equal(t, tc.want, plan.NextAction, "%s %.2f", tc.action, tc.confidence)
	}
}

func TestVerifyTopicAndCannotDoPassThrough(t *testing.T) {
	c := New(nil, 0.75, zap.NewNop())

	verify := &clarifierReply{Action: "VERIFY_TOPIC", Confidence: 0.5,
		UnknownTopic: "XYZ-1234", SearchQuery: "what is XYZ-1234"}
	plan := c.applyOverrides(c.toPlan(verify, "research XYZ-1234", models.TaskDraft{}), verify)
	assert.Equal(t, models.ActionVerifyTopic, plan.NextAction)
	assert.Equal(t, "what is XYZ-1234", plan.SearchQuery)

	reject := &clarifierReply{Action: "CANNOT_DO", Confidence: 0.9,
		Block: &models.Block{Reason: "cannot access private databases"}}
	plan = c.applyOverrides(c.toPlan(reject, "hack the registry", models.TaskDraft{}), reject)
	assert.Equal(t, models.ActionCannotDo, plan.NextAction)
	require.NotNil(t, plan.Block)
}

func TestCapOptions(t *testing.T) {
	assert.Nil(t, capOptions(nil))
	assert.Equal(t, []string{"A", "Other"}, capOptions([]string{"A"}))
	assert.Equal(t, []string{"A", "B", "Other"}, capOptions([]string{"A", "B", "Other"}))
	// Four options collapse to two plus the escape hatch.
	assert.Equal(t, []string{"A", "B", "Other"}, capOptions([]string{"A", "B", "C", "D"}))
}

func TestPreAnalyzeDetectsPrivateInfo(t *testing.T) {
	assert.True(t, preAnalyze("evaluate our product").HasPrivateInfo)
	assert.True(t, preAnalyze("分析我们的管线").HasPrivateInfo)
	assert.True(t, preAnalyze("review this research project").HasPrivateInfo)
	assert.False(t, preAnalyze("history of aspirin").HasPrivateInfo)
	// "sour" and "army" must not trip the word-boundary patterns.
	assert.False(t, preAnalyze("sour beer market in germany").HasPrivateInfo)
}
