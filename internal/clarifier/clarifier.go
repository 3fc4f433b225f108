// Package clarifier decides, for each user turn, whether enough is known to
// start research. It scores the request on five dimensions (what, action,
// constraint, context, output) via the chat model, then applies deterministic
// post-processing so borderline answers surface the inferred plan for
// confirmation instead of silently proceeding.
package clarifier

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
	defaultThreshold = 0.75
	historyWindow    = 5
	maxOptions       = 3
)

const systemPrompt = `You are the clarification gate of a deep-research assistant. Assess whether the user's request carries enough information to start research, and if not, produce the single most useful clarifying question.

Score these five dimensions, each in [0,1], in priority order:

| Dimension | What to check |
|---|---|
| what | Is the subject of the research clear? |
| action | Is the desired action clear? |
| constraint | Are specific requirements stated? |
| context | Is the purpose or background clear? |
| output | Is the expected result format clear? |

Decision logic:
- what < 0.4: NEED_CLARIFICATION targeting what. Other dimensions do not matter yet.
- else action < 0.4: NEED_CLARIFICATION targeting action.
- confidence >= %.2f: PROCEED.
- confidence >= %.2f: CONFIRM. State your assumptions.
- else: NEED_CLARIFICATION on the lowest-scoring dimension.

Always check conversation_summary first. If the user has already answered a clarification question, do NOT repeat it; fold the answer into the dimensions and raise confidence accordingly.

If the request names a topic you cannot identify, use VERIFY_TOPIC and set search_query to a query that would establish what the topic is. If the request is impossible or out of scope, use CANNOT_DO with a reason and alternatives.

Ask at most ONE question per turn. Offer at most %d options. Prefer open-ended questions when the subject is the user's own project or data.

Reply with STRICT JSON only:
{
  "action": "PROCEED|CONFIRM|NEED_CLARIFICATION|VERIFY_TOPIC|CANNOT_DO",
  "confidence": 0.0,
  "dimensions": {"what": 0.0, "action": 0.0, "constraint": 0.0, "context": 0.0, "output": 0.0},
  "task": {"goal": "...", "research_focus": ["...", "..."]},
  "assumptions": ["..."],
  "clarification": {"question": "...", "options": ["...", "Other"], "missing_info": "...", "open_ended": false},
  "confirm_prompt": "...",
  "unknown_topic": "...",
  "search_query": "...",
  "reason": "one sentence"
}`

var privateInfoPatterns = []*regexp.Regexp{
	regexp.MustCompile(`我们的|我的|公司的|团队的|这个项目`),
	regexp.MustCompile(`(?i)\bmy\b`),
	regexp.MustCompile(`(?i)\bour\b`),
	regexp.MustCompile(`(?i)\bthis\b.*\bproject\b`),
}

// Clarifier assesses dialogue turns against a confidence threshold.
type Clarifier struct {
	model     llm.ChatModel
	threshold float64
	logger    *zap.Logger
}

func New(model llm.ChatModel, threshold float64, logger *zap.Logger) *Clarifier {
	if threshold <= 0 || threshold > 1 {
		threshold = defaultThreshold
	}
	return &Clarifier{model: model, threshold: threshold, logger: logger}
}

// clarifierReply is the JSON contract with the model.
type clarifierReply struct {
	Action        string                `json:"action"`
	Confidence    float64               `json:"confidence"`
	Dimensions    map[string]float64    `json:"dimensions"`
	Task          models.Task           `json:"task"`
	Assumptions   []string              `json:"assumptions"`
	Clarification *models.Clarification `json:"clarification"`
	ConfirmPrompt string                `json:"confirm_prompt"`
	UnknownTopic  string                `json:"unknown_topic"`
	SearchQuery   string                `json:"search_query"`
	Block         *models.Block         `json:"block"`
	Reason        string                `json:"reason"`
}

type preAnalysis struct {
	HasPrivateInfo bool `json:"has_private_info"`
	InputLength    int  `json:"input_length"`
	HasQuestion    bool `json:"has_question_mark"`
}

// Assess evaluates the dialogue and returns the plan for this turn. It never
// returns an error: model and parse failures degrade to a generic open
// question so the conversation can continue.
func (c *Clarifier) Assess(ctx context.Context, messages []models.Message, draft models.TaskDraft) models.Plan {
	input := lastUserInput(messages)
	pre := preAnalyze(input)

	payload, _ := json.Marshal(map[string]any{
		"user_input":           input,
		"pre_analysis":         pre,
		"conversation_history": tail(messages, historyWindow),
		"task_draft":           draft,
		"conversation_summary": summarize(draft),
		"config": map[string]any{
			"confidence_threshold": c.threshold,
		},
	})

	reply, err := c.model.Complete(ctx, llm.Request{
		Messages: []models.Message{
			{Role: "system", Content: fmt.Sprintf(systemPrompt, c.threshold, c.threshold-0.15, maxOptions)},
			{Role: "user", Content: string(payload)},
		},
		Temperature: 0.1,
		MaxTokens:   1200,
	})
	if err != nil {
		c.logger.Warn("Clarifier model call failed", zap.Error(err))
		metrics.ClarifierParseFailures.Inc()
		return c.finish(genericClarification(input, draft))
	}

	parsed, err := parseReply(reply)
	if err != nil {
		c.logger.Warn("Clarifier reply unparseable", zap.Error(err),
			zap.String("reply_head", util.TruncateString(reply, 200, false)))
		metrics.ClarifierParseFailures.Inc()
		return c.finish(genericClarification(input, draft))
	}

	plan := c.toPlan(parsed, input, draft)
	plan = c.applyOverrides(plan, parsed)
	plan = applyPrivateInfoGuard(plan, pre, draft)
	plan = normalize(plan, input, draft)
	return c.finish(plan)
}

func (c *Clarifier) finish(plan models.Plan) models.Plan {
	metrics.ClarifierDecisions.WithLabelValues(string(plan.NextAction)).Inc()
	return plan
}

// toPlan maps the raw model reply into a Plan before overrides.
func (c *Clarifier) toPlan(r *clarifierReply, input string, draft models.TaskDraft) models.Plan {
	plan := models.Plan{
		Confidence:    r.Confidence,
		Task:          r.Task,
		Assumptions:   r.Assumptions,
		Clarification: r.Clarification,
		ConfirmPrompt: r.ConfirmPrompt,
		UnknownTopic:  r.UnknownTopic,
		SearchQuery:   r.SearchQuery,
		Block:         r.Block,
		Why:           r.Reason,
	}
	if plan.Task.Goal == "" {
		if draft.Goal != "" {
			plan.Task.Goal = draft.Goal
		} else {
			plan.Task.Goal = input
		}
	}

	switch strings.ToUpper(strings.TrimSpace(r.Action)) {
	case "PROCEED":
		plan.NextAction = models.ActionStartResearch
	case "CONFIRM":
		plan.NextAction = models.ActionConfirmPlan
	case "VERIFY_TOPIC":
		plan.NextAction = models.ActionVerifyTopic
	case "CANNOT_DO", "REJECT":
		plan.NextAction = models.ActionCannotDo
	default:
		plan.NextAction = models.ActionNeedClarification
	}
	return plan
}

// applyOverrides implements the deterministic post-processing of borderline
// decisions. Verified topics, refusals and explicit clarifications pass
// through untouched.
func (c *Clarifier) applyOverrides(plan models.Plan, r *clarifierReply) models.Plan {
	before := plan.NextAction
	switch plan.NextAction {
	case models.ActionStartResearch:
		// The inferred plan is always shown unless confidence is borderline
		// low, in which case we go back to the user with a question.
		if plan.Confidence >= 0.7 {
			plan.NextAction = models.ActionConfirmPlan
		} else {
			plan.NextAction = models.ActionNeedClarification
		}
	case models.ActionConfirmPlan:
		if plan.Confidence < 0.6 {
			plan.NextAction = models.ActionNeedClarification
		}
	}
	if plan.NextAction != before {
		c.logger.Debug("Clarifier decision overridden",
			zap.String("model_action", r.Action),
			zap.String("final_action", string(plan.NextAction)),
			zap.Float64("confidence", plan.Confidence))
	}
	return plan
}

// applyPrivateInfoGuard forces an open-ended question when the user refers to
// their own unnamed project and no details have been collected yet.
func applyPrivateInfoGuard(plan models.Plan, pre preAnalysis, draft models.TaskDraft) models.Plan {
	if !pre.HasPrivateInfo {
		return plan
	}
	if draft.ProjectInfo != "" || len(draft.ClarificationResponses) > 0 {
		return plan
	}
	if plan.NextAction == models.ActionCannotDo || plan.NextAction == models.ActionVerifyTopic {
		return plan
	}
	plan.NextAction = models.ActionNeedClarification
	plan.Clarification = &models.Clarification{
		Question: "**Tell me about your project**\n\n" +
			"You mentioned your own project or product. To research it I need some details:\n" +
			"- **Subject**: what is it (product, pipeline, technology)?\n" +
			"- **Stage**: where does it stand today?\n" +
			"- **Focus**: what should the research concentrate on?",
		MissingInfo: "project_details",
		OpenEnded:   true,
	}
	return plan
}

// normalize enforces the question policy and fills required fields so every
// NEED_CLARIFICATION plan carries a non-empty question and every CONFIRM_PLAN
// carries a prompt.
func normalize(plan models.Plan, input string, draft models.TaskDraft) models.Plan {
	switch plan.NextAction {
	case models.ActionNeedClarification:
		if plan.Clarification == nil || strings.TrimSpace(plan.Clarification.Question) == "" {
			g := genericClarification(input, draft)
			plan.Clarification = g.Clarification
		}
		plan.Clarification.Options = capOptions(plan.Clarification.Options)
	case models.ActionConfirmPlan:
		if plan.ConfirmPrompt == "" {
			plan.ConfirmPrompt = "Shall I start researching with this plan?"
		}
	}
	return plan
}

// capOptions trims the option list to the policy limit and guarantees an
// "Other" escape hatch when options are offered at all.
func capOptions(options []string) []string {
	if len(options) == 0 {
		return nil
	}
	hasOther := false
	for _, o := range options {
		if strings.EqualFold(strings.TrimSpace(o), "other") {
			hasOther = true
			break
		}
	}
	if len(options) > maxOptions {
		options = options[:maxOptions]
	}
	if !hasOther {
		if len(options) == maxOptions {
			options = options[:maxOptions-1]
		}
		options = append(options, "Other")
	}
	return options
}

// genericClarification is the degraded plan used when the model's reply is
// unusable.
func genericClarification(input string, draft models.TaskDraft) models.Plan {
	goal := draft.Goal
	if goal == "" {
		goal = input
	}
	return models.Plan{
		NextAction: models.ActionNeedClarification,
		Task:       models.Task{Goal: goal},
		Confidence: 0.0,
		Clarification: &models.Clarification{
			Question: "**What would you like me to research?**\n\n" +
				"Please describe the topic and what you want to learn about it.",
			OpenEnded: true,
		},
		Why: "could not assess the request",
	}
}

func parseReply(reply string) (*clarifierReply, error) {
	obj := util.ExtractJSONObject(reply)
	if obj == "" {
		return nil, fmt.Errorf("no JSON object in clarifier reply")
	}
	var parsed clarifierReply
	if err := json.Unmarshal([]byte(obj), &parsed); err != nil {
		return nil, fmt.Errorf("decode clarifier reply: %w", err)
	}
	if parsed.Action == "" {
		return nil, fmt.Errorf("clarifier reply missing action")
	}
	if parsed.Confidence < 0 {
		parsed.Confidence = 0
	}
	if parsed.Confidence > 1 {
		parsed.Confidence = 1
	}
	return &parsed, nil
}

func preAnalyze(input string) preAnalysis {
	pre := preAnalysis{
		InputLength: len([]rune(input)),
		HasQuestion: strings.ContainsAny(input, "?？"),
	}
	for _, re := range privateInfoPatterns {
		if re.MatchString(input) {
			pre.HasPrivateInfo = true
			break
		}
	}
	return pre
}

// summarize renders the draft into a short context block so the model can see
// which questions are already answered and must not be repeated.
func summarize(draft models.TaskDraft) string {
	var b strings.Builder
	if draft.Goal != "" {
		fmt.Fprintf(&b, "Goal so far: %s\n", draft.Goal)
	}
	if len(draft.ResearchFocus) > 0 {
		fmt.Fprintf(&b, "Focus areas so far: %s\n", strings.Join(draft.ResearchFocus, "; "))
	}
	if draft.ProjectInfo != "" {
		fmt.Fprintf(&b, "User already provided project details: %s\n", draft.ProjectInfo)
	}
	for _, qa := range draft.ClarificationResponses {
		fmt.Fprintf(&b, "Already answered: %q -> %q\n", qa.Question, qa.Answer)
	}
	for _, n := range draft.ModificationNotes {
		fmt.Fprintf(&b, "Requested change: %s\n", n)
	}
	return b.String()
}

func lastUserInput(messages []models.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Content
		}
	}
	return ""
}

func tail(messages []models.Message, n int) []models.Message {
	if len(messages) <= n {
		return messages
	}
	return messages[len(messages)-n:]
}
