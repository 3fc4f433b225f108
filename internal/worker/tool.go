package worker

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/probelabs/deepresearch/internal/confidence"
	"github.com/probelabs/deepresearch/internal/fetch"
	"github.com/probelabs/deepresearch/internal/metrics"
	"github.com/probelabs/deepresearch/internal/models"
	"github.com/probelabs/deepresearch/internal/scenario"
	"github.com/probelabs/deepresearch/internal/search"
	"github.com/probelabs/deepresearch/internal/urlcheck"
	"github.com/probelabs/deepresearch/internal/util"
)

// ToolResult is the structured output of one research tool invocation. It is
// both returned to the agent loop and serialized into the conversation so the
// model sees the stop signal.
type ToolResult struct {
	Findings        []string        `json:"findings"`
	Sources         []models.Source `json:"sources"`
	Confidence      float64         `json:"confidence"`
	RuleConfidence  float64         `json:"rule_confidence"`
	ModelConfidence float64         `json:"llm_confidence,omitempty"`
	Scenario        string          `json:"scenario"`
	ShouldStop      bool            `json:"should_stop"`
	ActionHint      string          `json:"action_hint"`
	JinaFailed      bool            `json:"jina_failed,omitempty"`
	Error           string          `json:"error,omitempty"`
}

const (
	hintStop     = "STOP_AND_RETURN_RESULTS"
	hintContinue = "CONTINUE_SEARCH_IF_NEEDED"

	// Confidence at or above this stops the agent loop.
	stopThreshold = 0.7

	// Deep-fetched pages shorter than this carry no real signal.
	minUsefulContent = 100

	maxToolSources = 8
)

// ToolConfig bounds one research tool.
type ToolConfig struct {
	MaxConcurrentFetches int
	MaxContentChars      int
	MaxSearchResults     int
}

// ResearchTool runs one search-plan-fetch-score cycle. It never returns an
// error: failures degrade to low-confidence results.
type ResearchTool struct {
	searcher search.WebSearch
	fetcher  fetch.PageFetcher
	planner  *scenario.Planner
	scorer   *confidence.Scorer
	cfg      ToolConfig
	logger   *zap.Logger
}

func NewResearchTool(searcher search.WebSearch, fetcher fetch.PageFetcher,
	planner *scenario.Planner, scorer *confidence.Scorer, cfg ToolConfig, logger *zap.Logger) *ResearchTool {
	if cfg.MaxConcurrentFetches < 1 {
		cfg.MaxConcurrentFetches = 1
	}
	if cfg.MaxContentChars <= 0 {
		cfg.MaxContentChars = 3000
	}
	if cfg.MaxSearchResults <= 0 {
		cfg.MaxSearchResults = 15
	}
	return &ResearchTool{
		searcher: searcher,
		fetcher:  fetcher,
		planner:  planner,
		scorer:   scorer,
		cfg:      cfg,
		logger:   logger,
	}
}

// Execute runs one full research cycle for query. maxResults is clamped to
// [5,25].
func (t *ResearchTool) Execute(ctx context.Context, query string, maxResults int) ToolResult {
	if maxResults < 5 {
		maxResults = 5
	}
	if maxResults > 25 {
		maxResults = 25
	}

	res, err := t.searcher.Query(ctx, query, maxResults)
	if err != nil {
		t.logger.Warn("Search failed, attempting degraded snippet-only pass",
			zap.String("query", query), zap.Error(err))
		return t.degraded(ctx, query)
	}

	hits := t.ingestHits(res)
	if len(hits) == 0 {
		metrics.ToolInvocations.WithLabelValues("degraded").Inc()
		return ToolResult{
			Findings:   []string{"Search returned no usable results"},
			Sources:    []models.Source{},
			Confidence: 0,
			ActionHint: hintStop,
			ShouldStop: true,
		}
	}

	plan := t.planner.Build(query, hits, maxResults)
	deepSources := t.deepFetch(ctx, plan.DeepTargets)

	merged := mergeSources(deepSources, hits)
	findings := extractFindings(plan.Scenario, merged)

	breakdown := t.scorer.Score(ctx, plan.Scenario, len(merged), len(deepSources), query, findings)

	if len(merged) > maxToolSources {
		merged = merged[:maxToolSources]
	}

	out := ToolResult{
		Findings:       findings,
		Sources:        merged,
		Confidence:     breakdown.Final,
		RuleConfidence: breakdown.Rule,
		Scenario:       plan.Scenario.String(),
		ShouldStop:     breakdown.Final >= stopThreshold,
		JinaFailed:     len(plan.DeepTargets) > 0 && len(deepSources) == 0,
	}
	if breakdown.Model >= 0 {
		out.ModelConfidence = breakdown.Model
	}
	if out.ShouldStop {
		out.ActionHint = hintStop
	} else {
		out.ActionHint = hintContinue
	}
	metrics.ToolInvocations.WithLabelValues("ok").Inc()
	return out
}

// degraded retries the search once at the default result count and returns a
// snippet-only result with fixed low confidence. No planning, no deep fetch.
func (t *ResearchTool) degraded(ctx context.Context, query string) ToolResult {
	metrics.ToolInvocations.WithLabelValues("degraded").Inc()

	res, err := t.searcher.Query(ctx, query, t.cfg.MaxSearchResults)
	if err != nil {
		return ToolResult{
			Findings:   []string{"Search returned no usable results"},
			Sources:    []models.Source{},
			Confidence: 0,
			ShouldStop: true,
			ActionHint: hintStop,
			Error:      "search_failed",
		}
	}

	hits := t.ingestHits(res)
	if len(hits) > maxToolSources {
		hits = hits[:maxToolSources]
	}
	return ToolResult{
		Findings:   []string{formatSourceCount(len(hits))},
		Sources:    hits,
		Confidence: 0.3,
		ShouldStop: true,
		ActionHint: hintStop,
		Error:      "degraded_search",
	}
}

// ingestHits converts provider hits to sources, cleaning and validating URLs
// at the boundary.
func (t *ResearchTool) ingestHits(res *search.Results) []models.Source {
	var out []models.Source
	dropped := 0
	for _, hit := range res.Organic {
		cleaned := urlcheck.Clean(hit.Link)
		if !urlcheck.IsValid(cleaned) {
			dropped++
			continue
		}
		out = append(out, models.Source{
			Title:      util.TruncateString(hit.Title, 200, false),
			URL:        cleaned,
			Snippet:    util.TruncateString(hit.Snippet, 500, true),
			SourceType: models.SourceTypeSearchResult,
		})
	}
	if dropped > 0 {
		metrics.InvalidURLsDropped.Add(float64(dropped))
		t.logger.Info("Dropped invalid search result URLs", zap.Int("count", dropped))
	}
	return out
}

// deepFetch pulls full content for planned targets in parallel, bounded by a
// semaphore sized min(MaxConcurrentFetches, len(targets)).
func (t *ResearchTool) deepFetch(ctx context.Context, targets []scenario.Target) []models.Source {
	if len(targets) == 0 {
		return nil
	}
	width := t.cfg.MaxConcurrentFetches
	if len(targets) < width {
		width = len(targets)
	}
	sem := semaphore.NewWeighted(int64(width))

	results := make([]*models.Source, len(targets))
	var wg sync.WaitGroup
	for i, target := range targets {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(i int, target scenario.Target) {
			defer wg.Done()
			defer sem.Release(1)

			content, err := t.fetcher.Read(ctx, target.Source.URL, t.cfg.MaxContentChars)
			if err != nil {
				t.logger.Debug("Deep fetch failed",
					zap.String("url", target.Source.URL), zap.Error(err))
				return
			}
			if len(strings.TrimSpace(content)) < minUsefulContent {
				return
			}
			results[i] = &models.Source{
				Title:      target.Source.Title,
				URL:        target.Source.URL,
				Snippet:    util.TruncateString(content, 500, true),
				SourceType: models.SourceTypeDetailedContent,
			}
		}(i, target)
	}
	wg.Wait()

	var out []models.Source
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out
}

// mergeSources puts deep-fetched sources first and appends snippet sources
// whose URL was not already deep fetched.
func mergeSources(deep []models.Source, hits []models.Source) []models.Source {
	out := make([]models.Source, 0, len(deep)+len(hits))
	out = append(out, deep...)

	seen := make(map[string]struct{}, len(deep))
	for _, s := range deep {
		seen[s.URL] = struct{}{}
	}
	for _, h := range hits {
		if _, ok := seen[h.URL]; ok {
			continue
		}
		out = append(out, h)
	}
	return out
}

// Per-scenario keywords that mark a source as carrying a concrete finding.
var findingRules = []struct {
	scenarios []scenario.Scenario
	keywords  []string
	label     string
}{
	{[]scenario.Scenario{scenario.Retrosynthesis},
		[]string{"yield"}, "yield data"},
	{[]scenario.Scenario{scenario.Retrosynthesis},
		[]string{"procedure", "synthesis"}, "synthesis procedure"},
	{[]scenario.Scenario{scenario.PipelineEvaluation},
		[]string{"phase"}, "pipeline progress"},
	{[]scenario.Scenario{scenario.PipelineEvaluation},
		[]string{"market", "revenue"}, "commercial data"},
	{[]scenario.Scenario{scenario.ClinicalPipeline},
		[]string{"efficacy", "safety", "endpoint", "survival"}, "clinical data"},
	{[]scenario.Scenario{scenario.RegulatoryReview},
		[]string{"approval", "guidance", "designation"}, "regulatory status"},
}

func extractFindings(s scenario.Scenario, sources []models.Source) []string {
	var findings []string
	for _, src := range sources {
		content := strings.ToLower(src.Snippet)
		for _, rule := range findingRules {
			if !containsScenario(rule.scenarios, s) {
				continue
			}
			for _, kw := range rule.keywords {
				if strings.Contains(content, kw) {
					findings = append(findings, rule.label+": "+src.Title)
					break
				}
			}
		}
		if len(findings) >= 5 {
			break
		}
	}

	if len(findings) == 0 {
		findings = []string{formatSourceCount(len(sources))}
		for _, src := range sources {
			if src.SourceType == models.SourceTypeDetailedContent {
				findings = append(findings, "Includes full-text content analysis")
				break
			}
		}
	}
	if len(findings) > 5 {
		findings = findings[:5]
	}
	return findings
}

func containsScenario(list []scenario.Scenario, s scenario.Scenario) bool {
	for _, c := range list {
		if c == s {
			return true
		}
	}
	return false
}

func formatSourceCount(n int) string {
	return "Collected relevant information from " + strconv.Itoa(n) + " sources"
}

// timeoutResult is the synthetic output injected when a tool call exceeds its
// deadline. The stop flag pressures the model to finalize with what it has.
func timeoutResult(elapsed time.Duration) ToolResult {
	return ToolResult{
		Findings:   []string{"Research tool timed out after " + elapsed.Round(time.Second).String()},
		Sources:    []models.Source{},
		Confidence: 0.3,
		ShouldStop: true,
		ActionHint: hintStop,
		Error:      "tool_timeout",
	}
}

// Marshal renders the result for the model conversation.
func (r ToolResult) Marshal() string {
	b, err := json.Marshal(r)
	if err != nil {
		return `{"findings":[],"sources":[],"confidence":0}`
	}
	return string(b)
}
