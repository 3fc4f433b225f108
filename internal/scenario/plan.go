package scenario

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/probelabs/deepresearch/internal/models"
)

// Rule maps domains or content keywords to a deep-fetch priority for one
// scenario.
type Rule struct {
	Domains           []string `yaml:"domains"`
	ContentIndicators []string `yaml:"content_indicators"`
	Priority          int      `yaml:"priority"` // 1..5, 5 highest
	Reason            string   `yaml:"reason"`
}

// Domains that always deserve full-page extraction regardless of scenario.
var highValueDomains = map[string]string{
	// Academic publishers
	"pubmed.ncbi.nlm.nih.gov": "PubMed full text",
	"nejm.org":                "New England Journal of Medicine",
	"thelancet.com":           "The Lancet",
	"nature.com":              "Nature portfolio",
	"science.org":             "Science",
	"cell.com":                "Cell Press",

	// Regulators
	"fda.gov":        "FDA documents",
	"ema.europa.eu":  "EMA documents",
	"ich.org":        "ICH guidelines",

	// Business intelligence
	"sec.gov":          "SEC filings",
	"investors.*.com":  "investor relations pages",

	// Specialist databases
	"clinicaltrials.gov": "clinical trial registry",
	"patents.google.com": "patent full text",
	"reaxys.com":         "chemistry database",
	"scifinder.cas.org":  "CAS database",
}

var defaultRules = map[Scenario][]Rule{
	Retrosynthesis: {
		{
			Domains:           []string{"reaxys.com", "scifinder.cas.org", "organic-chemistry.org"},
			ContentIndicators: []string{"synthesis", "reaction", "yield", "procedure"},
			Priority:          5,
			Reason:            "synthetic routes need complete reaction steps and conditions",
		},
		{
			Domains:           []string{"patents.google.com", "uspto.gov", "espacenet.ops.epo.org"},
			ContentIndicators: []string{"patent", "synthesis", "preparation", "example"},
			Priority:          4,
			Reason:            "patents carry detailed worked synthesis examples",
		},
		{
			Domains:           []string{"pubmed.ncbi.nlm.nih.gov", "acs.org", "rsc.org"},
			ContentIndicators: []string{"total synthesis", "synthetic route", "methodology"},
			Priority:          4,
			Reason:            "academic literature provides methodology detail",
		},
	},
	PipelineEvaluation: {
		{
			Domains:           []string{"sec.gov", "investors.*.com"},
			ContentIndicators: []string{"10-k", "10-q", "pipeline", "r&d", "clinical"},
			Priority:          5,
			Reason:            "financial filings cover pipeline investment and commercialization",
		},
		{
			Domains:           []string{"clinicaltrials.gov"},
			ContentIndicators: []string{"phase", "enrollment", "endpoint", "status"},
			Priority:          4,
			Reason:            "trial records reflect development progress and competition",
		},
		{
			Domains:           []string{"fda.gov", "ema.europa.eu"},
			ContentIndicators: []string{"guidance", "breakthrough", "designation", "approval"},
			Priority:          4,
			Reason:            "regulatory documents define the development path",
		},
	},
	ClinicalPipeline: {
		{
			Domains:           []string{"clinicaltrials.gov"},
			ContentIndicators: []string{"protocol", "inclusion", "exclusion", "primary endpoint"},
			Priority:          5,
			Reason:            "full protocols carry the key design information",
		},
		{
			Domains:           []string{"nejm.org", "thelancet.com", "jco.org"},
			ContentIndicators: []string{"clinical trial", "efficacy", "safety", "survival"},
			Priority:          5,
			Reason:            "top-journal clinical analyses are the most authoritative",
		},
		{
			Domains:           []string{"fda.gov"},
			ContentIndicators: []string{"odac", "advisory committee", "review", "approval"},
			Priority:          4,
			Reason:            "review documents provide the regulatory perspective",
		},
	},
}

// Target is one planned deep fetch.
type Target struct {
	Source   models.Source
	Priority int
	Reason   string
	Rank     int // 1-based position in the original hit list
}

// Plan is the outcome of ranking one batch of search hits.
type Plan struct {
	Scenario    Scenario
	DeepTargets []Target
	SnippetOnly []models.Source
	Reasoning   []string
}

// Planner ranks candidate hits for a scenario. Rules can be replaced at
// construction from a YAML table.
type Planner struct {
	rules map[Scenario][]Rule
}

func NewPlanner() *Planner {
	return &Planner{rules: defaultRules}
}

// NewPlannerWithRules overrides the rule table for the given scenarios;
// scenarios without an override keep the built-in rules.
func NewPlannerWithRules(overrides map[Scenario][]Rule) *Planner {
	rules := make(map[Scenario][]Rule, len(defaultRules))
	for s, r := range defaultRules {
		rules[s] = r
	}
	for s, r := range overrides {
		rules[s] = r
	}
	return &Planner{rules: rules}
}

// rate scores a single hit: high-value domain first, then scenario rules,
// then the short-snippet fallback.
func (p *Planner) rate(s Scenario, hit models.Source) (int, string) {
	for pattern, description := range highValueDomains {
		if strings.Contains(pattern, "*") {
			re := strings.ReplaceAll(regexp.QuoteMeta(pattern), `\*`, `[^.]+`)
			if matched, _ := regexp.MatchString(re, hit.URL); matched {
				return 5, "high-value domain: " + description
			}
			continue
		}
		if strings.Contains(hit.URL, pattern) {
			return 5, "high-value domain: " + description
		}
	}

	content := strings.ToLower(hit.Title + " " + hit.Snippet)
	for _, rule := range p.rules[s] {
		domainMatch := false
		for _, d := range rule.Domains {
			if strings.Contains(hit.URL, d) {
				domainMatch = true
				break
			}
		}
		contentMatch := false
		for _, ind := range rule.ContentIndicators {
			if strings.Contains(content, ind) {
				contentMatch = true
				break
			}
		}
		if domainMatch || contentMatch {
			return rule.Priority, rule.Reason
		}
	}

	if len(hit.Snippet) < 300 {
		return 2, "short snippet, full content needed for detail"
	}
	return 0, ""
}

// maxDeepTargets caps deep fetches by the requested result-count tier.
func maxDeepTargets(maxResults int) int {
	switch {
	case maxResults <= 8:
		return 3
	case maxResults <= 15:
		return 3
	default:
		return 5
	}
}

// Build classifies the query and marks each hit for deep fetch or
// snippet-only use. Deep targets are sorted by priority descending, then
// original rank ascending, and capped by the result-count tier.
func (p *Planner) Build(query string, hits []models.Source, maxResults int) Plan {
	s := Classify(query, "")
	plan := Plan{Scenario: s}

	limit := len(hits)
	if n := max(maxResults, 15); limit > n {
		limit = n
	}

	for i, hit := range hits[:limit] {
		priority, reason := p.rate(s, hit)
		if priority >= 2 {
			plan.DeepTargets = append(plan.DeepTargets, Target{
				Source:   hit,
				Priority: priority,
				Reason:   reason,
				Rank:     i + 1,
			})
		} else {
			plan.SnippetOnly = append(plan.SnippetOnly, hit)
		}
	}

	sort.SliceStable(plan.DeepTargets, func(a, b int) bool {
		if plan.DeepTargets[a].Priority != plan.DeepTargets[b].Priority {
			return plan.DeepTargets[a].Priority > plan.DeepTargets[b].Priority
		}
		return plan.DeepTargets[a].Rank < plan.DeepTargets[b].Rank
	})

	limit = maxDeepTargets(maxResults)
	if len(plan.DeepTargets) > limit {
		for _, dropped := range plan.DeepTargets[limit:] {
			plan.SnippetOnly = append(plan.SnippetOnly, dropped.Source)
		}
		plan.DeepTargets = plan.DeepTargets[:limit]
	}

	plan.Reasoning = append(plan.Reasoning,
		fmt.Sprintf("detected scenario: %s", s),
		fmt.Sprintf("planning %d deep fetches (cap %d for max_results=%d)",
			len(plan.DeepTargets), limit, maxResults),
	)
	return plan
}
