package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/probelabs/deepresearch/internal/models"
	"github.com/probelabs/deepresearch/internal/search"
)

type fakeClarifier struct {
	plans []models.Plan
	calls int
}

func (f *fakeClarifier) Assess(_ context.Context, _ []models.Message, _ models.TaskDraft) models.Plan {
	plan := f.plans[f.calls]
	if f.calls < len(f.plans)-1 {
		f.calls++
	}
	return plan
}

type fakeDecomposer struct {
	subtasks []models.Subtask
}

func (f *fakeDecomposer) Decompose(_ context.Context, _ models.Task) []models.Subtask {
	return f.subtasks
}

type fakeExecutor struct {
	results []*models.SubtaskResult
	called  bool
}

func (f *fakeExecutor) ExecuteParallel(_ context.Context, _ []models.Subtask) []*models.SubtaskResult {
	f.called = true
	return f.results
}

type fakeSynth struct {
	got []models.SubtaskResult
}

func (f *fakeSynth) Synthesize(_ context.Context, goal string, focus []string, results []models.SubtaskResult) *models.ResearchResult {
	f.got = results
	findings := make(map[string]models.SubtaskResult)
	for _, r := range results {
		findings[r.Focus] = r
	}
	return &models.ResearchResult{Goal: goal, ResearchFocus: focus, Findings: findings, Synthesis: "# " + goal}
}

type fakeSearch struct {
	results *search.Results
	err     error
	queries []string
}

func (f *fakeSearch) Query(_ context.Context, query string, _ int) (*search.Results, error) {
	f.queries = append(f.queries, query)
	return f.results, f.err
}

func userTurn(text string) []models.Message {
	return []models.Message{{Role: "user", Content: text}}
}

func subtasks(n int) []models.Subtask {
	out := make([]models.Subtask, n)
	for i := range out {
		out[i] = models.Subtask{ID: i + 1, Focus: "focus", Queries: []string{"q"}, Parallel: true}
	}
	return out
}

func okResult(id int, focus string) *models.SubtaskResult {
	return &models.SubtaskResult{
		SubtaskID:  id,
		Focus:      focus,
		Findings:   []string{"found"},
		Sources:    []models.Source{},
		Confidence: 0.8,
	}
}

func TestRunReturnsClarificationWithoutResearch(t *testing.T) {
	clar := &fakeClarifier{plans: []models.Plan{{
		NextAction:    models.ActionNeedClarification,
		Clarification: &models.Clarification{Question: "What topic?"},
	}}}
	exec := &fakeExecutor{}
	o := New(clar, &fakeDecomposer{}, exec, &fakeSynth{}, nil, zap.NewNop())

	plan, report := o.Run(context.Background(), userTurn("help me out"), models.TaskDraft{}, nil)

	assert.Equal(t, models.ActionNeedClarification, plan.NextAction)
	assert.Nil(t, report)
	assert.False(t, exec.called)
}

func TestRunConfirmedStartRunsFullPipeline(t *testing.T) {
	task := models.Task{Goal: "KRAS G12C target", ResearchFocus: []string{"mechanism", "trials", "competition"}}
	clar := &fakeClarifier{plans: []models.Plan{{
		NextAction: models.ActionStartResearch,
		Task:       task,
		Confidence: 0.9,
	}}}
	exec := &fakeExecutor{results: []*models.SubtaskResult{
		okResult(1, "mechanism"), okResult(2, "trials"), okResult(3, "competition"),
	}}
	var stages []string
	o := New(clar, &fakeDecomposer{subtasks: subtasks(3)}, exec, &fakeSynth{}, nil, zap.NewNop())

	plan, report := o.Run(context.Background(), userTurn("ok start"), models.TaskDraft{},
		func(stage, _, _ string) { stages = append(stages, stage) })

	assert.Equal(t, models.ActionStartResearch, plan.NextAction)
	require.NotNil(t, report)
	assert.GreaterOrEqual(t, len(report.Findings), 1)
	assert.Equal(t, "KRAS G12C target", report.Goal)
	assert.Equal(t, []string{"planning", "searching", "synthesizing", "complete"}, stages)
}

func TestExecuteDropsFailedSubtasks(t *testing.T) {
	exec := &fakeExecutor{results: []*models.SubtaskResult{
		okResult(1, "a"),
		nil,
		{SubtaskID: 3, Focus: "c", Findings: []string{"Research failed: worker crashed"}, Confidence: 0.0},
	}}
	synth := &fakeSynth{}
	o := New(nil, &fakeDecomposer{subtasks: subtasks(3)}, exec, synth, nil, zap.NewNop())

	report := o.Execute(context.Background(), models.Task{Goal: "g"}, nil)

	require.NotNil(t, report)
	require.Len(t, synth.got, 1)
	assert.Equal(t, "a", synth.got[0].Focus)
}

func TestExecuteAllFailedReportsError(t *testing.T) {
	exec := &fakeExecutor{results: []*models.SubtaskResult{nil, nil}}
	var stages []string
	o := New(nil, &fakeDecomposer{subtasks: subtasks(2)}, exec, &fakeSynth{}, nil, zap.NewNop())

	report := o.Execute(context.Background(), models.Task{Goal: "g"},
		func(stage, _, _ string) { stages = append(stages, stage) })

	assert.Nil(t, report)
	assert.Contains(t, stages, "error")
	assert.NotContains(t, stages, "synthesizing")
}

func TestExecuteEmptyDecompositionFallsBack(t *testing.T) {
	exec := &fakeExecutor{results: []*models.SubtaskResult{okResult(1, "history of aspirin")}}
	o := New(nil, &fakeDecomposer{}, exec, &fakeSynth{}, nil, zap.NewNop())

	report := o.Execute(context.Background(), models.Task{Goal: "history of aspirin"}, nil)

	require.NotNil(t, report)
	assert.True(t, exec.called)
}

func TestRunVerifyTopicSearchesAndReassesses(t *testing.T) {
	clar := &fakeClarifier{plans: []models.Plan{
		{NextAction: models.ActionVerifyTopic, SearchQuery: "what is XYZ-1234", UnknownTopic: "XYZ-1234"},
		{NextAction: models.ActionConfirmPlan, Task: models.Task{Goal: "XYZ-1234"}, Confidence: 0.8, ConfirmPrompt: "Start?"},
	}}
	searcher := &fakeSearch{results: &search.Results{Organic: []search.Hit{
		{Title: "XYZ-1234 overview", Snippet: "an experimental compound"},
	}}}
	o := New(clar, &fakeDecomposer{}, &fakeExecutor{}, &fakeSynth{}, searcher, zap.NewNop())

	plan, report := o.Run(context.Background(), userTurn("research XYZ-1234"), models.TaskDraft{}, nil)

	assert.Equal(t, models.ActionConfirmPlan, plan.NextAction)
	assert.Nil(t, report)
	assert.Equal(t, []string{"what is XYZ-1234"}, searcher.queries)
	assert.Equal(t, 1, clar.calls)
}

func TestRunVerifyTopicSearchFailureKeepsPlan(t *testing.T) {
	clar := &fakeClarifier{plans: []models.Plan{
		{NextAction: models.ActionVerifyTopic, SearchQuery: "what is XYZ-1234"},
	}}
	searcher := &fakeSearch{err: errors.New("search down")}
	o := New(clar, &fakeDecomposer{}, &fakeExecutor{}, &fakeSynth{}, searcher, zap.NewNop())

	plan, report := o.Run(context.Background(), userTurn("research XYZ-1234"), models.TaskDraft{}, nil)

	assert.Equal(t, models.ActionVerifyTopic, plan.NextAction)
	assert.Nil(t, report)
}

func TestRunVerifyTopicOnlyOnce(t *testing.T) {
	clar := &fakeClarifier{plans: []models.Plan{
		{NextAction: models.ActionVerifyTopic, SearchQuery: "q"},
		{NextAction: models.ActionVerifyTopic, SearchQuery: "q"},
	}}
	searcher := &fakeSearch{results: &search.Results{}}
	o := New(clar, &fakeDecomposer{}, &fakeExecutor{}, &fakeSynth{}, searcher, zap.NewNop())

	plan, _ := o.Run(context.Background(), userTurn("x"), models.TaskDraft{}, nil)

	assert.Equal(t, models.ActionNeedClarification, plan.NextAction)
	require.NotNil(t, plan.Clarification)
	assert.Len(t, searcher.queries, 1)
}
