package models

// Message is one turn of the session dialogue.
type Message struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// QA records one clarification question and the user's answer.
type QA struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// TaskDraft accumulates what is known about the user's goal across turns.
type TaskDraft struct {
	Goal                   string   `json:"goal,omitempty"`
	ResearchFocus          []string `json:"research_focus,omitempty"`
	ProjectInfo            string   `json:"project_info,omitempty"`
	ClarificationResponses []QA     `json:"clarification_responses,omitempty"`
	ModificationNotes      []string `json:"modification_notes,omitempty"`
}

// IsEmpty reports whether nothing has been collected yet.
func (d TaskDraft) IsEmpty() bool {
	return d.Goal == "" && len(d.ResearchFocus) == 0 && d.ProjectInfo == "" &&
		len(d.ClarificationResponses) == 0
}

// NextAction is the clarifier's decision for a turn.
type NextAction string

const (
	ActionStartResearch     NextAction = "START_RESEARCH"
	ActionNeedClarification NextAction = "NEED_CLARIFICATION"
	ActionConfirmPlan       NextAction = "CONFIRM_PLAN"
	ActionVerifyTopic       NextAction = "VERIFY_TOPIC"
	ActionCannotDo          NextAction = "CANNOT_DO"
)

// Task is the clarified research goal with its focus areas.
type Task struct {
	Goal          string   `json:"goal"`
	ResearchFocus []string `json:"research_focus"`
}

// Clarification carries the single question asked back to the user.
type Clarification struct {
	Question    string   `json:"question"`
	Options     []string `json:"options,omitempty"`
	MissingInfo string   `json:"missing_info,omitempty"`
	OpenEnded   bool     `json:"open_ended,omitempty"`
}

// Block explains a refused request and suggests alternatives.
type Block struct {
	Reason       string   `json:"reason"`
	Alternatives []string `json:"alternatives,omitempty"`
}

// Plan is the clarifier's full output for one turn.
type Plan struct {
	NextAction    NextAction     `json:"next_action"`
	Task          Task           `json:"task"`
	Confidence    float64        `json:"confidence"`
	Assumptions   []string       `json:"assumptions,omitempty"`
	Clarification *Clarification `json:"clarification,omitempty"`
	ConfirmPrompt string         `json:"confirm_prompt,omitempty"`
	UnknownTopic  string         `json:"unknown_topic,omitempty"`
	SearchQuery   string         `json:"search_query,omitempty"`
	Block         *Block         `json:"block,omitempty"`
	Why           string         `json:"why,omitempty"`
}

// Subtask is one independently researchable facet of a goal. Immutable once
// emitted by the planner.
type Subtask struct {
	ID       int      `json:"id"`
	Focus    string   `json:"focus"`
	Queries  []string `json:"queries"`
	Parallel bool     `json:"parallel"`
}

// Source types distinguish snippet-only hits from deep-fetched pages.
const (
	SourceTypeSearchResult    = "search_result"
	SourceTypeDetailedContent = "detailed_content"
)

// Source is one evidence reference. URLs must pass urlcheck validation before
// a Source leaves the component that produced it.
type Source struct {
	Title      string `json:"title"`
	URL        string `json:"url"`
	Snippet    string `json:"snippet,omitempty"`
	SourceType string `json:"source_type,omitempty"`
}

// SubtaskResult is the outcome of researching one subtask. Failure paths
// produce a well-formed result with low confidence, never an error.
type SubtaskResult struct {
	SubtaskID  int      `json:"subtask_id"`
	Focus      string   `json:"focus"`
	Findings   []string `json:"findings"`
	Sources    []Source `json:"sources"`
	Confidence float64  `json:"confidence"`
}

// Citation records one verified inline citation in the synthesis.
type Citation struct {
	Site string `json:"site"`
	URL  string `json:"url"`
}

// ResearchResult is the merged, cited report for a whole run.
type ResearchResult struct {
	Goal          string                   `json:"goal"`
	ResearchFocus []string                 `json:"research_focus"`
	Findings      map[string]SubtaskResult `json:"findings"`
	Synthesis     string                   `json:"synthesis"`
	Citations     []Citation               `json:"citations,omitempty"`
}

// SourceURLs returns the union of source URLs across all findings.
func (r *ResearchResult) SourceURLs() map[string]struct{} {
	urls := make(map[string]struct{})
	for _, sr := range r.Findings {
		for _, s := range sr.Sources {
			urls[s.URL] = struct{}{}
		}
	}
	return urls
}
