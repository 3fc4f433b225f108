// Package scenario classifies research queries into a small closed set of
// archetypes and plans which search hits deserve a deep page fetch.
package scenario

import "strings"

// Scenario is one research archetype. The enum order is the deterministic
// tie-break for classification.
type Scenario int

const (
	Retrosynthesis Scenario = iota
	PipelineEvaluation
	ClinicalPipeline
	MarketAnalysis
	RegulatoryReview
	AcademicResearch
	CompetitiveIntelligence
)

var scenarioNames = map[Scenario]string{
	Retrosynthesis:          "retrosynthesis",
	PipelineEvaluation:      "pipeline_evaluation",
	ClinicalPipeline:        "clinical_pipeline",
	MarketAnalysis:          "market_analysis",
	RegulatoryReview:        "regulatory_review",
	AcademicResearch:        "academic_research",
	CompetitiveIntelligence: "competitive_intelligence",
}

func (s Scenario) String() string { return scenarioNames[s] }

// Per-scenario confidence weights. Technical content scores higher than
// subjective commercial analysis.
var scenarioWeights = map[Scenario]float64{
	Retrosynthesis:     0.8,
	PipelineEvaluation: 0.7,
	ClinicalPipeline:   0.9,
}

const defaultWeight = 0.75

// Weight returns the confidence weight for s.
func (s Scenario) Weight() float64 {
	if w, ok := scenarioWeights[s]; ok {
		return w
	}
	return defaultWeight
}

// Classification keyword lists. English and Chinese terms are matched the
// same way: substring against the lowercased query plus context.
var scenarioKeywords = []struct {
	scenario Scenario
	keywords []string
}{
	{Retrosynthesis, []string{
		"合成路线", "逆合成", "synthesis", "retrosynthesis",
		"反应条件", "制备方法", "preparation", "synthetic route",
	}},
	{PipelineEvaluation, []string{
		"管线", "pipeline", "立项", "投资", "商业化",
		"r&d", "研发投入", "市场潜力", "valuation",
	}},
	{ClinicalPipeline, []string{
		"临床试验", "clinical trial", "临床数据", "efficacy",
		"安全性", "safety", "疗效", "endpoint",
	}},
	{MarketAnalysis, []string{
		"市场规模", "market size", "market share", "竞争格局",
		"销售额", "sales forecast", "pricing",
	}},
	{RegulatoryReview, []string{
		"fda", "ema", "监管", "审评", "approval",
		"获批", "指导原则", "guidance",
	}},
	{CompetitiveIntelligence, []string{
		"竞品", "competitor", "competitive landscape", "benchmark",
		"对标", "差异化",
	}},
}

// Classify selects the scenario whose keyword list matches the query (plus
// optional context) most often. Ties and zero matches resolve to the first
// scenario in enum order, which for zero matches is AcademicResearch.
func Classify(query string, context string) Scenario {
	text := strings.ToLower(query + " " + context)

	best := AcademicResearch
	bestScore := 0
	for _, entry := range scenarioKeywords {
		score := 0
		for _, kw := range entry.keywords {
			if strings.Contains(text, kw) {
				score++
			}
		}
		if score > bestScore {
			bestScore = score
			best = entry.scenario
		}
	}
	return best
}
