// Package planner decomposes a clarified research task into independent
// subtasks. Model output that fails validation falls back to one subtask per
// focus area, so planning never blocks a run.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/probelabs/deepresearch/internal/llm"
	"github.com/probelabs/deepresearch/internal/models"
	"github.com/probelabs/deepresearch/internal/util"
)

const maxSubtasks = 8

const decomposePrompt = `Decompose the research goal below into %d-%d independent subtasks.
Each subtask covers one focus area and must be researchable on its own.

Goal: %s
Focus areas: %s

Reply with a JSON array only:
[{"id": 1, "focus": "...", "queries": ["search query 1", "search query 2"], "parallel": true}]

Rules:
- One subtask per focus area, in the given order.
- 1-3 concrete search queries per subtask.
- No dependencies between subtasks.`

// Planner turns a Task into subtasks.
type Planner struct {
	model  llm.ChatModel
	logger *zap.Logger
}

func New(model llm.ChatModel, logger *zap.Logger) *Planner {
	return &Planner{model: model, logger: logger}
}

// Decompose produces the subtask list for task. Any model failure or invalid
// output degrades to the one-per-focus fallback; the returned list is never
// empty as long as the task has a goal or focus areas.
func (p *Planner) Decompose(ctx context.Context, task models.Task) []models.Subtask {
	lo := len(task.ResearchFocus)
	if lo < 1 {
		lo = 1
	}
	hi := lo + 2
	if hi > maxSubtasks {
		hi = maxSubtasks
	}
	prompt := fmt.Sprintf(decomposePrompt, lo, hi, task.Goal,
		strings.Join(task.ResearchFocus, "; "))

	reply, err := p.model.Complete(ctx, llm.Request{
		Messages:    []models.Message{{Role: "user", Content: prompt}},
		Temperature: 0.3,
		MaxTokens:   1500,
	})
	if err != nil {
		p.logger.Warn("Planner model call failed, using fallback decomposition",
			zap.String("goal", task.Goal), zap.Error(err))
		return Fallback(task)
	}

	subtasks, err := parseSubtasks(reply)
	if err != nil {
		p.logger.Warn("Planner output invalid, using fallback decomposition",
			zap.String("goal", task.Goal), zap.Error(err))
		return Fallback(task)
	}
	return subtasks
}

// parseSubtasks extracts and validates the subtask array. Every subtask
// needs a non-empty focus and at least one query.
func parseSubtasks(reply string) ([]models.Subtask, error) {
	arr := util.ExtractJSONArray(reply)
	if arr == "" {
		return nil, fmt.Errorf("no JSON array in planner reply")
	}

	var parsed []models.Subtask
	if err := json.Unmarshal([]byte(arr), &parsed); err != nil {
		return nil, fmt.Errorf("decode subtasks: %w", err)
	}
	if len(parsed) == 0 {
		return nil, fmt.Errorf("planner returned zero subtasks")
	}
	if len(parsed) > maxSubtasks {
		parsed = parsed[:maxSubtasks]
	}

	for i := range parsed {
		if strings.TrimSpace(parsed[i].Focus) == "" {
			return nil, fmt.Errorf("subtask %d has empty focus", i)
		}
		var queries []string
		for _, q := range parsed[i].Queries {
			if strings.TrimSpace(q) != "" {
				queries = append(queries, q)
			}
		}
		if len(queries) == 0 {
			return nil, fmt.Errorf("subtask %d has no queries", i)
		}
		parsed[i].Queries = queries
		parsed[i].ID = i + 1
	}
	return parsed, nil
}

// Fallback builds one subtask per focus area with the query "{goal} {focus}".
// A task without focus areas yields a single subtask on the goal itself.
func Fallback(task models.Task) []models.Subtask {
	if len(task.ResearchFocus) == 0 {
		if strings.TrimSpace(task.Goal) == "" {
			return nil
		}
		return []models.Subtask{{
			ID:       1,
			Focus:    task.Goal,
			Queries:  []string{task.Goal},
			Parallel: true,
		}}
	}

	out := make([]models.Subtask, 0, len(task.ResearchFocus))
	for i, focus := range task.ResearchFocus {
		out = append(out, models.Subtask{
			ID:       i + 1,
			Focus:    focus,
			Queries:  []string{task.Goal + " " + focus},
			Parallel: true,
		})
		if len(out) >= maxSubtasks {
			break
		}
	}
	return out
}
