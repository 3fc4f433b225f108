package synthesizer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/probelabs/deepresearch/internal/llm"
	"github.com/probelabs/deepresearch/internal/models"
)

type recordingModel struct {
	reply    string
	err      error
	payloads []string
}

func (m *recordingModel) Complete(_ context.Context, req llm.Request) (string, error) {
	m.payloads = append(m.payloads, req.Messages[len(req.Messages)-1].Content)
	return m.reply, m.err
}

func sampleResults() []models.SubtaskResult {
	return []models.SubtaskResult{
		{
			SubtaskID: 1,
			Focus:     "mechanism",
			Findings:  []string{"Covalent binding to cysteine 12"},
			Sources: []models.Source{
				{Title: "Nature review", URL: "https://www.nature.com/articles/s41586-023-1", Snippet: "KRAS G12C", SourceType: models.SourceTypeDetailedContent},
			},
			Confidence: 0.8,
		},
		{
			SubtaskID: 2,
			Focus:     "clinical landscape",
			Findings:  []string{"Two approved inhibitors"},
			Sources: []models.Source{
				{Title: "FDA label", URL: "https://www.fda.gov/drugs/sotorasib", Snippet: "approved 2021", SourceType: models.SourceTypeSearchResult},
			},
			Confidence: 0.7,
		},
	}
}

func TestSynthesizeVerifiesCitations(t *testing.T) {
	model := &recordingModel{reply: `# Evaluate KRAS G12C

## 1. Mechanism

Covalent inhibitors bind the mutant cysteine [[nature.com](https://www.nature.com/articles/s41586-023-1)].

## 2. Clinical landscape

Two drugs are approved [[fda.gov](https://www.fda.gov/drugs/sotorasib)], with more in trials [[madeup.com](https://madeup.example.com/fake)].`}
	s := New(model, zap.NewNop())

	result := s.Synthesize(context.Background(), "Evaluate KRAS G12C",
		[]string{"mechanism", "clinical landscape"}, sampleResults())

	// The invented citation is flattened to its site text.
	assert.NotContains(t, result.Synthesis, "madeup.example.com")
	assert.Contains(t, result.Synthesis, "more in trials madeup.com.")
	assert.Contains(t, result.Synthesis, "[[nature.com](https://www.nature.com/articles/s41586-023-1)]")

	require.Len(t, result.Citations, 2)
	assert.Equal(t, "https://www.nature.com/articles/s41586-023-1", result.Citations[0].URL)
	assert.Equal(t, "https://www.fda.gov/drugs/sotorasib", result.Citations[1].URL)
}

func TestSynthesizePrependsGoalHeading(t *testing.T) {
	model := &recordingModel{reply: "## 1. Findings\n\nSome content."}
	s := New(model, zap.NewNop())

	result := s.Synthesize(context.Background(), "history of aspirin", nil, sampleResults())

	assert.True(t, strings.HasPrefix(result.Synthesis, "# history of aspirin\n"))
}

func TestSynthesizeSmallPayloadKeepsFullCaps(t *testing.T) {
	model := &recordingModel{reply: "# g\n\ncontent"}
	s := New(model, zap.NewNop())

	results := sampleResults()
	for i := 0; i < 6; i++ {
		results[0].Findings = append(results[0].Findings, "extra finding")
	}
	s.Synthesize(context.Background(), "g", nil, results)

	require.Len(t, model.payloads, 1)
	// Seven findings fit within the default cap of ten.
	assert.Equal(t, 6, strings.Count(model.payloads[0], "extra finding"))
}

func TestSynthesizeOversizedPayloadTightensCaps(t *testing.T) {
	model := &recordingModel{reply: "# g\n\ncontent"}
	s := New(model, zap.NewNop())

	big := strings.Repeat("x", 500)
	var results []models.SubtaskResult
	for i := 0; i < 10; i++ {
		results = append(results, models.SubtaskResult{
			SubtaskID:  i + 1,
			Focus:      "focus " + strings.Repeat("f", i+1),
			Findings:   []string{big, big, big, big, big},
			Confidence: 0.5,
		})
	}
	s.Synthesize(context.Background(), "g", nil, results)

	require.Len(t, model.payloads, 1)
	// Ten focuses at three findings each after the retry truncation.
	assert.Equal(t, 30, strings.Count(model.payloads[0], big))
}

func TestSynthesizeStillOversizedAfterRetrySkipsModel(t *testing.T) {
	model := &recordingModel{reply: "# g\n\ncontent"}
	s := New(model, zap.NewNop())

	big := strings.Repeat("x", 3000)
	var results []models.SubtaskResult
	for i := 0; i < 10; i++ {
		results = append(results, models.SubtaskResult{
			SubtaskID:  i + 1,
			Focus:      fmt.Sprintf("focus %d", i+1),
			Findings:   []string{big, big, big},
			Confidence: 0.5,
		})
	}
	result := s.Synthesize(context.Background(), "g", nil, results)

	// Even the tightened payload exceeds the limit, so the model is skipped
	// and the raw findings come back directly.
	assert.Empty(t, model.payloads)
	assert.True(t, strings.HasPrefix(result.Synthesis, "# g"))
	assert.Contains(t, result.Synthesis, "focus 7")
	assert.Empty(t, result.Citations)
}

func TestSynthesizeModelFailureFallsBackToRawFindings(t *testing.T) {
	s := New(&recordingModel{err: errors.New("provider down")}, zap.NewNop())

	result := s.Synthesize(context.Background(), "Evaluate KRAS G12C",
		[]string{"mechanism"}, sampleResults())

	assert.True(t, strings.HasPrefix(result.Synthesis, "# Evaluate KRAS G12C"))
	assert.Contains(t, result.Synthesis, "mechanism")
	assert.Contains(t, result.Synthesis, "Covalent binding to cysteine 12")
	assert.Contains(t, result.Synthesis, "https://www.fda.gov/drugs/sotorasib")
	assert.Empty(t, result.Citations)
}

func TestSynthesizeStripsCodeFence(t *testing.T) {
	model := &recordingModel{reply: "```markdown\n# g\n\nbody\n```"}
	s := New(model, zap.NewNop())

	result := s.Synthesize(context.Background(), "g", nil, sampleResults())

	assert.True(t, strings.HasPrefix(result.Synthesis, "# g"))
	assert.NotContains(t, result.Synthesis, "```")
}

func TestVerifyCitationsDeduplicates(t *testing.T) {
	allowed := map[string]struct{}{"https://a.com/x": {}}
	report := "a [[a.com](https://a.com/x)] b [[a.com](https://a.com/x)]"

	cleaned, citations := verifyCitations(report, allowed)

	assert.Equal(t, report, cleaned)
	assert.Len(t, citations, 1)
}
