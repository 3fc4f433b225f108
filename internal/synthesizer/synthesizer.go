// Package synthesizer merges subtask results into a single cited markdown
// report. Citations are verified after generation: any inline citation whose
// URL is not among the input sources is stripped to plain text, so the report
// can never point at an invented link.
package synthesizer

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/probelabs/deepresearch/internal/llm"
	"github.com/probelabs/deepresearch/internal/metrics"
	"github.com/probelabs/deepresearch/internal/models"
	"github.com/probelabs/deepresearch/internal/util"
)

const (
	maxFindingsPerFocus = 10
	maxSourcesPerFocus  = 5
	maxSnippetChars     = 200
	maxPayloadChars     = 20000

	// Tighter caps used when the first serialization overflows.
	retryFindingsPerFocus = 3
	retrySourcesPerFocus  = 2
)

const systemPrompt = `You are an expert research report writer. Write a clear, actionable markdown report from the findings below.

Rules:
1. Start the report with a level-1 heading that is exactly the research goal.
2. Organize the body into 4-6 numbered chapters ("## 1. ...", "## 2. ...").
3. Start with the answer. No executive summary, no preamble.
4. Be specific: numbers, dates, names.
5. Use a markdown table whenever you compare three or more entities across two or more attributes.
6. Cite inline as [[site](url)]. Use ONLY urls that appear in the findings input. Never invent a url.

Output the markdown report directly, no JSON wrapper, no code fences.`

var citationRe = regexp.MustCompile(`\[\[([^\[\]]+)\]\(([^()\s]+)\)\]`)

// Synthesizer writes the final report for a research run.
type Synthesizer struct {
	model  llm.ChatModel
	logger *zap.Logger
}

func New(model llm.ChatModel, logger *zap.Logger) *Synthesizer {
	return &Synthesizer{model: model, logger: logger}
}

type focusBlock struct {
	Findings   []string        `json:"findings"`
	Sources    []models.Source `json:"sources"`
	Confidence float64         `json:"confidence"`
}

// Synthesize produces the report. Model failure degrades to a raw
// concatenation of findings so the run still returns everything collected.
func (s *Synthesizer) Synthesize(ctx context.Context, goal string, researchFocus []string, results []models.SubtaskResult) *models.ResearchResult {
	out := &models.ResearchResult{
		Goal:          goal,
		ResearchFocus: researchFocus,
		Findings:      make(map[string]models.SubtaskResult, len(results)),
	}
	for _, r := range results {
		out.Findings[r.Focus] = r
	}

	payload := s.buildPayload(goal, researchFocus, results, maxFindingsPerFocus, maxSourcesPerFocus)
	if len(payload) > maxPayloadChars {
		s.logger.Warn("Synthesis payload too large, tightening caps",
			zap.Int("chars", len(payload)))
		payload = s.buildPayload(goal, researchFocus, results, retryFindingsPerFocus, retrySourcesPerFocus)
	}
	if len(payload) > maxPayloadChars {
		s.logger.Warn("Synthesis payload still too large after tightening, emitting raw findings",
			zap.Int("chars", len(payload)))
		out.Synthesis = fallbackReport(goal, results)
		return out
	}

	reply, err := s.model.Complete(ctx, llm.Request{
		Messages: []models.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: payload},
		},
		Temperature: 0.4,
		MaxTokens:   4000,
	})
	if err != nil {
		s.logger.Error("Synthesis model call failed, emitting raw findings",
			zap.String("goal", goal), zap.Error(err))
		out.Synthesis = fallbackReport(goal, results)
		return out
	}

	report := strings.TrimSpace(stripCodeFence(reply))
	if !strings.HasPrefix(report, "# ") {
		report = "# " + goal + "\n\n" + report
	}

	out.Synthesis, out.Citations = verifyCitations(report, out.SourceURLs())
	return out
}

func (s *Synthesizer) buildPayload(goal string, researchFocus []string, results []models.SubtaskResult, maxFindings, maxSources int) string {
	blocks := make(map[string]focusBlock, len(results))
	for _, r := range results {
		findings := r.Findings
		if len(findings) > maxFindings {
			findings = findings[:maxFindings]
		}
		var sources []models.Source
		for _, src := range r.Sources {
			if len(sources) >= maxSources {
				break
			}
			src.Snippet = util.TruncateString(src.Snippet, maxSnippetChars, false)
			sources = append(sources, src)
		}
		blocks[r.Focus] = focusBlock{
			Findings:   findings,
			Sources:    sources,
			Confidence: r.Confidence,
		}
	}
	payload, _ := json.Marshal(map[string]any{
		"goal":           goal,
		"research_focus": researchFocus,
		"findings":       blocks,
	})
	return string(payload)
}

// verifyCitations keeps only citations whose url came in with the findings.
// Invalid ones are flattened to their site text. Valid ones are collected in
// order of first appearance.
func verifyCitations(report string, allowed map[string]struct{}) (string, []models.Citation) {
	var citations []models.Citation
	seen := make(map[string]struct{})

	cleaned := citationRe.ReplaceAllStringFunc(report, func(match string) string {
		groups := citationRe.FindStringSubmatch(match)
		site, url := groups[1], groups[2]
		if _, ok := allowed[url]; !ok {
			metrics.CitationsStripped.Inc()
			return site
		}
		if _, dup := seen[url]; !dup {
			seen[url] = struct{}{}
			citations = append(citations, models.Citation{Site: site, URL: url})
		}
		return match
	})
	return cleaned, citations
}

// fallbackReport concatenates raw findings when the model is unavailable.
func fallbackReport(goal string, results []models.SubtaskResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", goal)
	b.WriteString("Synthesis was unavailable. Raw findings per focus area:\n")
	for i, r := range results {
		fmt.Fprintf(&b, "\n## %d. %s\n\n", i+1, r.Focus)
		for _, f := range r.Findings {
			fmt.Fprintf(&b, "- %s\n", f)
		}
		for _, src := range r.Sources {
			fmt.Fprintf(&b, "- [%s](%s)\n", src.Title, src.URL)
		}
	}
	return b.String()
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	lines := strings.Split(s, "\n")
	if len(lines) > 0 && strings.HasPrefix(lines[0], "```") {
		lines = lines[1:]
	}
	if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}
