// Package orchestrator drives a research turn end to end: clarify the
// request, decompose it, fan the subtasks out to workers, and synthesize the
// report. It degrades instead of failing: every path returns a usable Plan,
// and partial worker failures shrink the report rather than abort it.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/probelabs/deepresearch/internal/metrics"
	"github.com/probelabs/deepresearch/internal/models"
	"github.com/probelabs/deepresearch/internal/planner"
	"github.com/probelabs/deepresearch/internal/search"
)

// Progress reports pipeline stage transitions to the caller. Stage is one of
// planning, searching, synthesizing, complete, error.
type Progress func(stage, message, detail string)

func nopProgress(string, string, string) {}

// Clarifier assesses the dialogue state.
type Clarifier interface {
	Assess(ctx context.Context, messages []models.Message, draft models.TaskDraft) models.Plan
}

// Decomposer splits a task into subtasks.
type Decomposer interface {
	Decompose(ctx context.Context, task models.Task) []models.Subtask
}

// Executor runs subtasks in parallel, preserving positions.
type Executor interface {
	ExecuteParallel(ctx context.Context, subtasks []models.Subtask) []*models.SubtaskResult
}

// Synthesizer merges subtask results into a report.
type Synthesizer interface {
	Synthesize(ctx context.Context, goal string, researchFocus []string, results []models.SubtaskResult) *models.ResearchResult
}

// Orchestrator wires the pipeline components together.
type Orchestrator struct {
	clarifier Clarifier
	planner   Decomposer
	pool      Executor
	synth     Synthesizer
	searcher  search.WebSearch
	logger    *zap.Logger
}

func New(c Clarifier, p Decomposer, e Executor, s Synthesizer, searcher search.WebSearch, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		clarifier: c,
		planner:   p,
		pool:      e,
		synth:     s,
		searcher:  searcher,
		logger:    logger,
	}
}

// Run handles one dialogue turn. Non-research decisions come back as the plan
// with a nil report; START_RESEARCH executes the full pipeline. Run never
// returns an error: failures surface through the progress callback and a nil
// report.
func (o *Orchestrator) Run(ctx context.Context, messages []models.Message, draft models.TaskDraft, progress Progress) (models.Plan, *models.ResearchResult) {
	if progress == nil {
		progress = nopProgress
	}

	plan := o.clarifier.Assess(ctx, messages, draft)

	if plan.NextAction == models.ActionVerifyTopic {
		plan = o.verifyTopic(ctx, plan, messages, draft)
	}

	switch plan.NextAction {
	case models.ActionNeedClarification, models.ActionConfirmPlan, models.ActionCannotDo, models.ActionVerifyTopic:
		return plan, nil
	case models.ActionStartResearch:
		return plan, o.Execute(ctx, plan.Task, progress)
	default:
		o.logger.Warn("Unknown clarifier action", zap.String("action", string(plan.NextAction)))
		return plan, nil
	}
}

// verifyTopic grounds an unrecognized topic with one web search, feeds the
// evidence back as a system message, and re-runs the clarifier once.
func (o *Orchestrator) verifyTopic(ctx context.Context, plan models.Plan, messages []models.Message, draft models.TaskDraft) models.Plan {
	query := plan.SearchQuery
	if query == "" {
		query = plan.UnknownTopic
	}
	if query == "" || o.searcher == nil {
		return plan
	}

	results, err := o.searcher.Query(ctx, query, 5)
	if err != nil {
		o.logger.Warn("Topic verification search failed",
			zap.String("query", query), zap.Error(err))
		return plan
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Search evidence for %q:\n", query)
	if results.AnswerBox != "" {
		fmt.Fprintf(&b, "Answer: %s\n", results.AnswerBox)
	}
	if results.KnowledgeGraph != "" {
		fmt.Fprintf(&b, "Knowledge graph: %s\n", results.KnowledgeGraph)
	}
	for _, hit := range results.Organic {
		fmt.Fprintf(&b, "- %s: %s\n", hit.Title, hit.Snippet)
	}
	messages = append(messages, models.Message{Role: "system", Content: b.String()})

	next := o.clarifier.Assess(ctx, messages, draft)
	if next.NextAction == models.ActionVerifyTopic {
		// One verification pass only.
		next.NextAction = models.ActionNeedClarification
		if next.Clarification == nil {
			next.Clarification = &models.Clarification{
				Question:  fmt.Sprintf("I could not verify what %q refers to. Can you describe it?", query),
				OpenEnded: true,
			}
		}
	}
	return next
}

// Execute runs the plan → pool → synthesize pipeline for a confirmed task.
// Subtasks that produced nothing are dropped; if everything failed the report
// is nil and an error stage is reported.
func (o *Orchestrator) Execute(ctx context.Context, task models.Task, progress Progress) *models.ResearchResult {
	if progress == nil {
		progress = nopProgress
	}
	metrics.RunsStarted.Inc()
	start := time.Now()

	progress("planning", "Breaking the goal into research subtasks", task.Goal)
	subtasks := o.planner.Decompose(ctx, task)
	if len(subtasks) == 0 {
		subtasks = planner.Fallback(task)
	}
	if len(subtasks) == 0 {
		progress("error", "Nothing to research", task.Goal)
		metrics.RunsCompleted.WithLabelValues("error").Inc()
		return nil
	}

	progress("searching", fmt.Sprintf("Researching %d subtasks in parallel", len(subtasks)), "")
	raw := o.pool.ExecuteParallel(ctx, subtasks)

	var results []models.SubtaskResult
	for _, r := range raw {
		if r == nil || r.Confidence <= 0 {
			continue
		}
		results = append(results, *r)
	}
	if len(results) == 0 {
		o.logger.Error("All subtasks failed", zap.String("goal", task.Goal))
		progress("error", "All research subtasks failed", task.Goal)
		metrics.RunsCompleted.WithLabelValues("error").Inc()
		return nil
	}

	progress("synthesizing", "Writing the report", "")
	report := o.synth.Synthesize(ctx, task.Goal, task.ResearchFocus, results)

	elapsed := time.Since(start)
	metrics.RunDuration.Observe(elapsed.Seconds())
	metrics.RunsCompleted.WithLabelValues("success").Inc()
	o.logger.Info("Research run complete",
		zap.String("goal", task.Goal),
		zap.Int("subtasks", len(subtasks)),
		zap.Int("succeeded", len(results)),
		zap.Duration("elapsed", elapsed))
	progress("complete", "Research complete", "")
	return report
}
