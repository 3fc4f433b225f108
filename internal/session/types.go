package session

import (
	"errors"
	"time"

	"github.com/probelabs/deepresearch/internal/models"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session expired")
)

// Conversation modes. A session starts in chat mode and switches to research
// once a run has produced a result.
const (
	ModeChat     = "chat"
	ModeResearch = "research"
)

// Session is the per-conversation state: dialogue history, the accumulating
// task draft, and the plan awaiting user confirmation.
type Session struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	ExpiresAt time.Time `json:"expires_at"`

	Messages         []models.Message       `json:"messages"`
	TaskDraft        models.TaskDraft       `json:"task_draft"`
	PendingPlan      *models.Plan           `json:"pending_plan,omitempty"`
	LastResult       *models.ResearchResult `json:"last_result,omitempty"`
	ConversationMode string                 `json:"conversation_mode"`
}

// IsExpired checks if the session has passed its expiry time.
func (s *Session) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}
