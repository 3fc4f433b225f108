package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/probelabs/deepresearch/internal/llm"
	"github.com/probelabs/deepresearch/internal/models"
	"github.com/probelabs/deepresearch/internal/search"
)

// scriptedModel replays canned responses in order. A nil script entry blocks
// until the context is cancelled.
type scriptedModel struct {
	script []string
	err    error
	calls  int
	seen   []llm.Request
}

func (m *scriptedModel) Complete(ctx context.Context, req llm.Request) (string, error) {
	m.calls++
	m.seen = append(m.seen, req)
	if m.err != nil {
		return "", m.err
	}
	if m.calls > len(m.script) {
		return "", errors.New("script exhausted")
	}
	reply := m.script[m.calls-1]
	if reply == "" {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return reply, nil
}

func testSubtask() models.Subtask {
	return models.Subtask{
		ID:      1,
		Focus:   "KRAS G12C inhibitor clinical landscape",
		Queries: []string{"KRAS G12C clinical trials", "sotorasib adagrasib comparison"},
	}
}

const toolCallReply = `{"tool": "enhanced_research", "query": "KRAS G12C clinical trials", "max_results": 10}`

const finalReply = `{
	"focus": "KRAS G12C inhibitor clinical landscape",
	"key_findings": ["Sotorasib approved May 2021", "Adagrasib phase 3 ongoing"],
	"sources": [
		{"title": "Sotorasib", "url": "https://pubmed.ncbi.nlm.nih.gov/34096690/", "snippet": "approval data"},
		{"title": "Bad", "url": "https://example.com/articles/{id}", "snippet": "template"},
		{"title": "Listing", "url": "https://pmc.ncbi.nlm.nih.gov/articles/", "snippet": "index page"}
	],
	"confidence": 0.8
}`

func newTestWorker(model llm.ChatModel, cfg Config) *Worker {
	tool := newTool(&fakeSearch{results: clinicalResults()}, &fakeFetcher{content: "x"})
	return New(1, model, tool, cfg, zap.NewNop())
}

func TestSearchToolCallThenFinal(t *testing.T) {
	model := &scriptedModel{script: []string{toolCallReply, finalReply}}
	w := newTestWorker(model, Config{MaxTurns: 2})

	result := w.Search(context.Background(), testSubtask())

	assert.Equal(t, 1, result.SubtaskID)
	assert.Equal(t, "KRAS G12C inhibitor clinical landscape", result.Focus)
	assert.InDelta(t, 0.8, result.Confidence, 1e-9)
	assert.Len(t, result.Findings, 2)

	// Template and listing URLs are dropped, the real one survives.
	require.Len(t, result.Sources, 1)
	assert.Equal(t, "https://pubmed.ncbi.nlm.nih.gov/34096690/", result.Sources[0].URL)

	// The second completion must carry the tool output.
	require.Equal(t, 2, model.calls)
	last := model.seen[1].Messages
	assert.Contains(t, last[len(last)-1].Content, "should_stop")
}

func TestSearchZeroTurnsReturnsPlaceholderImmediately(t *testing.T) {
	model := &scriptedModel{script: []string{finalReply}}
	w := newTestWorker(model, Config{MaxTurns: 0})

	result := w.Search(context.Background(), testSubtask())

	assert.Zero(t, model.calls)
	assert.InDelta(t, 0.5, result.Confidence, 1e-9)
	require.Len(t, result.Findings, 1)
	assert.Contains(t, result.Findings[0], "turn limit")
}

func TestSearchMaxTurnsIsNotAnError(t *testing.T) {
	model := &scriptedModel{script: []string{toolCallReply, toolCallReply}}
	w := newTestWorker(model, Config{MaxTurns: 2})

	result := w.Search(context.Background(), testSubtask())

	assert.InDelta(t, 0.5, result.Confidence, 1e-9)
	assert.NotEmpty(t, result.Findings)
}

func TestSearchSoftExitPlaceholder(t *testing.T) {
	model := &scriptedModel{script: []string{""}} // blocks
	w := newTestWorker(model, Config{
		MaxTurns:    2,
		SoftExit:    50 * time.Millisecond,
		HardTimeout: 5 * time.Second,
	})

	start := time.Now()
	result := w.Search(context.Background(), testSubtask())

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.InDelta(t, 0.5, result.Confidence, 1e-9)
	require.Len(t, result.Findings, 1)
	assert.Contains(t, result.Findings[0], "ended early")
}

func TestSearchHardTimeoutPlaceholder(t *testing.T) {
	model := &scriptedModel{script: []string{""}} // blocks
	w := newTestWorker(model, Config{
		MaxTurns:    2,
		SoftExit:    5 * time.Second,
		HardTimeout: 50 * time.Millisecond,
	})

	result := w.Search(context.Background(), testSubtask())

	assert.InDelta(t, 0.3, result.Confidence, 1e-9)
	require.Len(t, result.Findings, 1)
	assert.Contains(t, result.Findings[0], "timed out")
}

func TestSearchModelErrorYieldsZeroConfidence(t *testing.T) {
	model := &scriptedModel{err: errors.New("provider exploded")}
	w := newTestWorker(model, Config{MaxTurns: 2})

	result := w.Search(context.Background(), testSubtask())

	assert.Zero(t, result.Confidence)
	require.Len(t, result.Findings, 1)
	assert.Contains(t, result.Findings[0], "Research failed")
	assert.Empty(t, result.Sources)
}

func TestSearchNonJSONReplyYieldsZeroConfidence(t *testing.T) {
	model := &scriptedModel{script: []string{"I could not find anything useful."}}
	w := newTestWorker(model, Config{MaxTurns: 2})

	result := w.Search(context.Background(), testSubtask())

	assert.Zero(t, result.Confidence)
	assert.Contains(t, result.Findings[0], "did not return JSON")
}

func TestSearchToolTimeoutInjectsStopSignal(t *testing.T) {
	blockingSearch := &blockingSearcher{}
	tool := NewResearchTool(blockingSearch, &fakeFetcher{}, nil, nil, ToolConfig{}, zap.NewNop())
	model := &scriptedModel{script: []string{toolCallReply, finalReply}}
	w := New(1, model, tool, Config{
		MaxTurns:    2,
		ToolTimeout: 50 * time.Millisecond,
	}, zap.NewNop())

	result := w.Search(context.Background(), testSubtask())

	require.Equal(t, 2, model.calls)
	last := model.seen[1].Messages
	assert.Contains(t, last[len(last)-1].Content, "tool_timeout")
	assert.InDelta(t, 0.8, result.Confidence, 1e-9)
}

// blockingSearcher ignores cancellation to simulate a stuck upstream.
type blockingSearcher struct{}

func (b *blockingSearcher) Query(_ context.Context, _ string, _ int) (*search.Results, error) {
	time.Sleep(2 * time.Second)
	return nil, errors.New("stuck upstream")
}
