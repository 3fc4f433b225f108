package clarifier

import (
	"strconv"
	"strings"

	"github.com/probelabs/deepresearch/internal/models"
)

// Short affirmatives that confirm a pending plan. Both English and Chinese
// forms are accepted since the assistant serves bilingual dialogue.
var confirmPhrases = []string{
	"ok", "okay", "yes", "go", "sure", "start", "confirm", "sounds good",
	"可以", "好", "开始", "行", "没问题", "就这样", "确认", "好的",
	"可以的", "继续", "是的", "对", "嗯", "可以开始",
}

// IsConfirmation reports whether text is a short affirmative answer to a
// pending CONFIRM_PLAN prompt. Long messages never count, so a substantive
// reply that happens to contain "ok" is treated as new input instead.
func IsConfirmation(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	if t == "" || len([]rune(t)) >= 20 {
		return false
	}
	for _, c := range confirmPhrases {
		if strings.Contains(t, c) {
			return true
		}
	}
	return false
}

// SelectOption matches a clarification answer against the offered options.
// It accepts a 1-based number or a fuzzy text match in either direction and
// returns the 1-based index of the chosen option.
func SelectOption(text string, options []string) (int, bool) {
	t := strings.TrimSpace(text)
	if t == "" || len(options) == 0 {
		return 0, false
	}

	if n, err := strconv.Atoi(t); err == nil {
		if n >= 1 && n <= len(options) {
			return n, true
		}
		return 0, false
	}

	lower := strings.ToLower(t)
	for i, opt := range options {
		o := strings.ToLower(opt)
		if strings.Contains(lower, o) || strings.Contains(o, lower) {
			return i + 1, true
		}
	}
	return 0, false
}

// MergeAnswer folds a clarification answer into the draft. Project details go
// to ProjectInfo, a missing goal is filled from the answer, and everything
// else accumulates as a focus area. The Q&A pair is always recorded so the
// clarifier can see the question was answered.
func MergeAnswer(draft *models.TaskDraft, clar *models.Clarification, answer string) {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return
	}
	question := ""
	missing := ""
	if clar != nil {
		question = clar.Question
		missing = clar.MissingInfo
	}
	draft.ClarificationResponses = append(draft.ClarificationResponses,
		models.QA{Question: question, Answer: answer})

	switch {
	case missing == "project_details":
		draft.ProjectInfo = answer
	case draft.Goal == "":
		draft.Goal = answer
	default:
		draft.ResearchFocus = append(draft.ResearchFocus, answer)
	}
}
