// Package confidence estimates whether gathered evidence is sufficient to
// stop searching. A cheap rule score always runs; an optional model score is
// blended in when enabled.
package confidence

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/probelabs/deepresearch/internal/llm"
	"github.com/probelabs/deepresearch/internal/models"
	"github.com/probelabs/deepresearch/internal/scenario"
	"github.com/probelabs/deepresearch/internal/util"
)

// Scorer blends rule-based and optional model-based evidence scores.
type Scorer struct {
	model   llm.ChatModel // nil unless model scoring is enabled
	weight  float64       // model share in [0,1]
	enabled bool
	logger  *zap.Logger
}

func NewScorer(model llm.ChatModel, enabled bool, weight float64, logger *zap.Logger) *Scorer {
	if weight < 0 {
		weight = 0
	}
	if weight > 1 {
		weight = 1
	}
	return &Scorer{model: model, weight: weight, enabled: enabled && model != nil, logger: logger}
}

// Rule computes the deterministic evidence score. Deep-fetch successes are
// purely additive: zero successes leaves the base score untouched.
func Rule(s scenario.Scenario, sourceCount, deepCount int) float64 {
	base := 0.5
	sourceBoost := min(0.1*float64(sourceCount), 0.3)
	deepBoost := min(0.15*float64(deepCount), 0.3)
	return min((base+sourceBoost+deepBoost)*s.Weight(), 0.95)
}

// Breakdown reports both component scores alongside the blend.
type Breakdown struct {
	Rule  float64
	Model float64 // -1 when model scoring did not run
	Final float64
}

// Score returns the blended confidence for one tool invocation. Model
// failures fall back to the rule score alone.
func (sc *Scorer) Score(ctx context.Context, s scenario.Scenario, sourceCount, deepCount int,
	query string, findings []string) Breakdown {

	rule := Rule(s, sourceCount, deepCount)
	out := Breakdown{Rule: rule, Model: -1, Final: rule}
	if !sc.enabled {
		return out
	}

	modelScore, err := sc.modelScore(ctx, query, findings)
	if err != nil {
		sc.logger.Warn("Model confidence scoring failed, using rule score",
			zap.String("query", query), zap.Error(err))
		return out
	}
	out.Model = modelScore
	out.Final = rule*(1-sc.weight) + modelScore*sc.weight
	if out.Final > 0.95 {
		out.Final = 0.95
	}
	return out
}

const scorePrompt = `Rate the research findings below against the query on five axes,
each in [0,1]: relevance, quality, completeness, consistency, overall_confidence.
Reply with a single JSON object containing exactly those five keys.

Query: %s

Findings:
%s`

type modelVerdict struct {
	Relevance         float64 `json:"relevance"`
	Quality           float64 `json:"quality"`
	Completeness      float64 `json:"completeness"`
	Consistency       float64 `json:"consistency"`
	OverallConfidence float64 `json:"overall_confidence"`
}

func (sc *Scorer) modelScore(ctx context.Context, query string, findings []string) (float64, error) {
	prompt := fmt.Sprintf(scorePrompt, query, strings.Join(findings, "\n- "))
	reply, err := sc.model.Complete(ctx, llm.Request{
		Messages:    []models.Message{{Role: "user", Content: prompt}},
		Temperature: 0,
		MaxTokens:   200,
	})
	if err != nil {
		return 0, err
	}

	score, ok := extractOverallConfidence(reply)
	if !ok {
		return 0, fmt.Errorf("no overall_confidence in model reply")
	}
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score, nil
}

var overallRe = regexp.MustCompile(`"overall_confidence"\s*:\s*([0-9.]+)`)

// extractOverallConfidence tries balanced-brace JSON extraction, then a
// whole-text parse, then a targeted regex.
func extractOverallConfidence(reply string) (float64, bool) {
	if obj := util.ExtractJSONObject(reply); obj != "" {
		var v modelVerdict
		if json.Unmarshal([]byte(obj), &v) == nil {
			return v.OverallConfidence, true
		}
	}
	var v modelVerdict
	if json.Unmarshal([]byte(reply), &v) == nil {
		return v.OverallConfidence, true
	}
	if m := overallRe.FindStringSubmatch(reply); m != nil {
		if f, err := strconv.ParseFloat(m[1], 64); err == nil {
			return f, true
		}
	}
	return 0, false
}
