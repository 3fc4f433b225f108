// Package worker runs the tool-using agent loop for one subtask at a time.
// Three nested deadlines bound every run: a per-tool-call timeout, a soft
// exit that cancels the loop early, and a hard outer timeout. Every failure
// path yields a well-formed SubtaskResult; a worker never returns an error.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/probelabs/deepresearch/internal/llm"
	"github.com/probelabs/deepresearch/internal/metrics"
	"github.com/probelabs/deepresearch/internal/models"
	"github.com/probelabs/deepresearch/internal/urlcheck"
	"github.com/probelabs/deepresearch/internal/util"
)

// Config bounds one worker.
type Config struct {
	MaxTurns    int           // tool-call turns before the max-turns placeholder
	HardTimeout time.Duration // outermost wait
	SoftExit    time.Duration // early cancellation of the agent loop
	ToolTimeout time.Duration // per tool invocation
}

func (c *Config) applyDefaults() {
	if c.HardTimeout <= 0 {
		c.HardTimeout = 180 * time.Second
	}
	if c.SoftExit <= 0 {
		c.SoftExit = 90 * time.Second
	}
	if c.ToolTimeout <= 0 {
		c.ToolTimeout = 20 * time.Second
	}
}

// Worker executes subtasks with a tool-using agent loop. Reusable across
// subtasks, single subtask at a time.
type Worker struct {
	id     int
	model  llm.ChatModel
	tool   *ResearchTool
	cfg    Config
	logger *zap.Logger
}

func New(id int, model llm.ChatModel, tool *ResearchTool, cfg Config, logger *zap.Logger) *Worker {
	cfg.applyDefaults()
	return &Worker{id: id, model: model, tool: tool, cfg: cfg, logger: logger}
}

func (w *Worker) ID() int { return w.id }

// The system prompt shows the model an advisory 3-search ceiling; the
// enforced mechanism is MaxTurns.
const agentInstructions = `You are a SINGLE-RESEARCH agent. Search for information and return results.

MANDATORY STOP: stop searching and return results immediately when ANY of:
1. Tool output contains "should_stop": true
2. Tool output shows confidence >= 0.7
3. You have made 3 search calls (HARD LIMIT)

## TASK
Research: %s
Suggested queries: %s

## WORKFLOW
Step 1: Search. Reply with exactly one JSON object:
{"tool": "enhanced_research", "query": "<best query>", "max_results": 10}
(max_results between 5 and 25)

Step 2: Read the tool output appended to the conversation.
- should_stop true OR confidence >= 0.7: go to Step 3
- confidence < 0.5 and fewer than 3 searches: try ONE different query
- otherwise: go to Step 3 even if confidence is low

Step 3: Final answer. Reply with exactly one JSON object:
{"focus": "%s", "key_findings": ["..."], "sources": [copy sources from tool output], "confidence": <tool confidence>}

## RULES
1. Never search more than 3 times.
2. Always obey "should_stop": true.
3. Copy source URLs exactly, never invent or modify them.
4. Reply with JSON only, no commentary.`

// agentReply is either a tool call or a final answer.
type agentReply struct {
	// tool call
	Tool       string `json:"tool"`
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
	// final answer
	Focus       string            `json:"focus"`
	KeyFindings []string          `json:"key_findings"`
	Sources     []json.RawMessage `json:"sources"`
	Confidence  float64           `json:"confidence"`
}

type rawSource struct {
	Title      string `json:"title"`
	URL        string `json:"url"`
	Snippet    string `json:"snippet"`
	SourceType string `json:"source_type"`
}

// Search researches one subtask. The returned result is always well-formed;
// confidence lands in [0, 0.95].
func (w *Worker) Search(ctx context.Context, subtask models.Subtask) models.SubtaskResult {
	start := time.Now()
	defer func() {
		metrics.WorkerDuration.Observe(time.Since(start).Seconds())
	}()

	hardCtx, cancelHard := context.WithTimeout(ctx, w.cfg.HardTimeout)
	defer cancelHard()
	loopCtx, cancelLoop := context.WithCancel(hardCtx)
	defer cancelLoop()

	done := make(chan models.SubtaskResult, 1)
	go func() {
		done <- w.runLoop(loopCtx, subtask)
	}()

	softTimer := time.NewTimer(w.cfg.SoftExit)
	defer softTimer.Stop()

	select {
	case result := <-done:
		return result
	case <-softTimer.C:
		cancelLoop()
		w.logger.Warn("Worker soft exit, cancelling agent loop",
			zap.Int("worker_id", w.id),
			zap.String("focus", subtask.Focus),
			zap.Duration("elapsed", time.Since(start)))
		metrics.WorkerTasks.WithLabelValues("soft_exit").Inc()
		return w.placeholder(subtask,
			"Research ended early under the time limit; returning available information", 0.5)
	case <-hardCtx.Done():
		cancelLoop()
		w.logger.Error("Worker hard timeout",
			zap.Int("worker_id", w.id),
			zap.String("focus", subtask.Focus),
			zap.Duration("limit", w.cfg.HardTimeout))
		metrics.WorkerTasks.WithLabelValues("hard_timeout").Inc()
		return w.placeholder(subtask,
			fmt.Sprintf("Execution timed out after %s", w.cfg.HardTimeout), 0.3)
	}
}

// runLoop drives the model through tool-call turns until it finalizes or
// turns run out.
func (w *Worker) runLoop(ctx context.Context, subtask models.Subtask) models.SubtaskResult {
	queries := strings.Join(subtask.Queries, ", ")
	messages := []models.Message{
		{Role: "user", Content: fmt.Sprintf(agentInstructions, subtask.Focus, queries, subtask.Focus)},
	}

	for turn := 0; turn < w.cfg.MaxTurns; turn++ {
		reply, err := w.model.Complete(ctx, llm.Request{
			Messages:    messages,
			Temperature: 0.2,
			MaxTokens:   2000,
		})
		if err != nil {
			if ctx.Err() != nil {
				// Soft exit or hard timeout already owns the outcome.
				return w.placeholder(subtask, "cancelled", 0.3)
			}
			w.logger.Error("Worker model call failed",
				zap.Int("worker_id", w.id),
				zap.String("focus", subtask.Focus),
				zap.Error(err))
			metrics.WorkerTasks.WithLabelValues("error").Inc()
			return w.placeholder(subtask,
				"Research failed: "+util.TruncateString(err.Error(), 100, false), 0.0)
		}

		parsed, ok := parseReply(reply)
		if !ok {
			metrics.WorkerTasks.WithLabelValues("error").Inc()
			return w.placeholder(subtask,
				"Research failed: model did not return JSON", 0.0)
		}

		if parsed.Tool != "" {
			toolOut := w.invokeTool(ctx, parsed.Query, parsed.MaxResults)
			messages = append(messages,
				models.Message{Role: "assistant", Content: reply},
				models.Message{Role: "user", Content: "Tool output:\n" + toolOut.Marshal()},
			)
			continue
		}

		metrics.WorkerTasks.WithLabelValues("done").Inc()
		return w.finalize(subtask, parsed)
	}

	// Running out of turns is a normal exit, not an error.
	w.logger.Info("Worker reached max turns, returning available data",
		zap.Int("worker_id", w.id),
		zap.String("focus", subtask.Focus),
		zap.Int("max_turns", w.cfg.MaxTurns))
	metrics.WorkerTasks.WithLabelValues("max_turns").Inc()
	return w.placeholder(subtask,
		"Research hit the search turn limit; returning available information", 0.5)
}

// invokeTool wraps one tool call in its own hard deadline. Timeouts become a
// synthetic stop-signal result, never an error.
func (w *Worker) invokeTool(ctx context.Context, query string, maxResults int) ToolResult {
	toolCtx, cancel := context.WithTimeout(ctx, w.cfg.ToolTimeout)
	defer cancel()

	start := time.Now()
	out := make(chan ToolResult, 1)
	go func() {
		out <- w.tool.Execute(toolCtx, query, maxResults)
	}()

	select {
	case result := <-out:
		return result
	case <-toolCtx.Done():
		elapsed := time.Since(start)
		w.logger.Warn("Research tool timed out",
			zap.Int("worker_id", w.id),
			zap.String("query", query),
			zap.Duration("elapsed", elapsed))
		metrics.ToolInvocations.WithLabelValues("timeout").Inc()
		return timeoutResult(elapsed)
	}
}

// finalize validates the model's final answer: URL checks, caps, confidence
// clamping.
func (w *Worker) finalize(subtask models.Subtask, reply agentReply) models.SubtaskResult {
	var sources []models.Source
	invalid := 0
	for _, raw := range reply.Sources {
		var src rawSource
		if err := json.Unmarshal(raw, &src); err != nil {
			invalid++
			continue
		}
		cleaned := urlcheck.Clean(src.URL)
		if !urlcheck.IsValid(cleaned) {
			invalid++
			continue
		}
		title := util.TruncateString(src.Title, 100, false)
		if title == "" {
			title = "Unknown"
		}
		sourceType := src.SourceType
		if sourceType == "" {
			sourceType = models.SourceTypeSearchResult
		}
		sources = append(sources, models.Source{
			Title:      title,
			URL:        cleaned,
			Snippet:    util.TruncateString(src.Snippet, 500, true),
			SourceType: sourceType,
		})
		if len(sources) >= maxToolSources {
			break
		}
	}
	if invalid > 0 {
		metrics.InvalidURLsDropped.Add(float64(invalid))
		w.logger.Info("Worker filtered invalid source URLs",
			zap.Int("worker_id", w.id),
			zap.Int("dropped", invalid),
			zap.Int("kept", len(sources)))
	}

	var findings []string
	for _, f := range reply.KeyFindings {
		findings = append(findings, util.TruncateString(f, 300, true))
		if len(findings) >= 5 {
			break
		}
	}

	conf := reply.Confidence
	if conf <= 0 {
		conf = 0.5
	}
	if conf > 0.95 {
		conf = 0.95
	}

	return models.SubtaskResult{
		SubtaskID:  subtask.ID,
		Focus:      subtask.Focus,
		Findings:   findings,
		Sources:    sources,
		Confidence: conf,
	}
}

func (w *Worker) placeholder(subtask models.Subtask, reason string, conf float64) models.SubtaskResult {
	return models.SubtaskResult{
		SubtaskID:  subtask.ID,
		Focus:      subtask.Focus,
		Findings:   []string{reason},
		Sources:    []models.Source{},
		Confidence: conf,
	}
}

// parseReply extracts the agent's JSON reply. A reply is a tool call when the
// "tool" field is set, otherwise a final answer.
func parseReply(reply string) (agentReply, bool) {
	obj := util.ExtractJSONObject(reply)
	if obj == "" {
		return agentReply{}, false
	}
	var parsed agentReply
	if err := json.Unmarshal([]byte(obj), &parsed); err != nil {
		return agentReply{}, false
	}
	return parsed, true
}
