// Package httpapi exposes the research assistant over HTTP: a synchronous
// chat endpoint, an SSE variant that streams progress, and session deletion.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/probelabs/deepresearch/internal/clarifier"
	"github.com/probelabs/deepresearch/internal/models"
	"github.com/probelabs/deepresearch/internal/orchestrator"
	"github.com/probelabs/deepresearch/internal/session"
	"github.com/probelabs/deepresearch/internal/streaming"
)

// Runner is the orchestrator surface the API needs.
type Runner interface {
	Run(ctx context.Context, messages []models.Message, draft models.TaskDraft, progress orchestrator.Progress) (models.Plan, *models.ResearchResult)
	Execute(ctx context.Context, task models.Task, progress orchestrator.Progress) *models.ResearchResult
}

// Server handles the chat API.
type Server struct {
	orch     Runner
	sessions *session.Manager
	stream   *streaming.Manager
	logger   *zap.Logger
}

func NewServer(orch Runner, sessions *session.Manager, stream *streaming.Manager, logger *zap.Logger) *Server {
	return &Server{orch: orch, sessions: sessions, stream: stream, logger: logger}
}

// RegisterRoutes attaches the API endpoints to mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("GET /chat/stream", s.handleChatStream)
	mux.HandleFunc("DELETE /session/{id}", s.handleDeleteSession)
}

type chatRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
}

// chatResponse is the single response envelope. Type is one of clarification,
// confirm_plan, research_result, cannot_do, error.
type chatResponse struct {
	Type          string                 `json:"type"`
	SessionID     string                 `json:"session_id"`
	Clarification *models.Clarification  `json:"clarification,omitempty"`
	ConfirmPrompt string                 `json:"confirm_prompt,omitempty"`
	Plan          *models.Plan           `json:"plan,omitempty"`
	Result        *models.ResearchResult `json:"result,omitempty"`
	Error         string                 `json:"error,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
		writeJSON(w, http.StatusBadRequest, chatResponse{Type: "error", Error: "message required"})
		return
	}

	sess, err := s.sessions.GetOrCreate(r.Context(), req.SessionID)
	if err != nil {
		s.logger.Error("Session lookup failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, chatResponse{Type: "error", Error: "session unavailable"})
		return
	}

	resp := s.runTurn(r.Context(), sess, req.Message, nil)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.sessions.Delete(r.Context(), id); err != nil {
		writeJSON(w, http.StatusInternalServerError, chatResponse{Type: "error", SessionID: id, Error: "delete failed"})
		return
	}
	s.stream.Drop(id)
	w.WriteHeader(http.StatusNoContent)
}

// runTurn executes one dialogue turn against the session state. A pending
// confirmation or clarification from the previous turn is resolved first,
// then the orchestrator decides what happens next.
func (s *Server) runTurn(ctx context.Context, sess *session.Session, message string, progress orchestrator.Progress) chatResponse {
	if pending := sess.PendingPlan; pending != nil {
		switch pending.NextAction {
		case models.ActionConfirmPlan:
			if clarifier.IsConfirmation(message) {
				sess.PendingPlan = nil
				sess.Messages = append(sess.Messages, models.Message{Role: "user", Content: message})
				return s.executeConfirmed(ctx, sess, pending.Task, progress)
			}
			// Anything substantive is a change request against the plan.
			sess.TaskDraft.ModificationNotes = append(sess.TaskDraft.ModificationNotes, message)
			sess.PendingPlan = nil
		case models.ActionNeedClarification:
			answer := message
			if pending.Clarification != nil && len(pending.Clarification.Options) > 0 {
				if idx, ok := clarifier.SelectOption(message, pending.Clarification.Options); ok {
					answer = pending.Clarification.Options[idx-1]
				}
			}
			clarifier.MergeAnswer(&sess.TaskDraft, pending.Clarification, answer)
			sess.PendingPlan = nil
		}
	}

	sess.Messages = append(sess.Messages, models.Message{Role: "user", Content: message})
	plan, result := s.orch.Run(ctx, sess.Messages, sess.TaskDraft, progress)

	resp := chatResponse{SessionID: sess.ID}
	switch plan.NextAction {
	case models.ActionNeedClarification, models.ActionVerifyTopic:
		sess.PendingPlan = &plan
		resp.Type = "clarification"
		resp.Clarification = plan.Clarification
		if resp.Clarification == nil {
			resp.Clarification = &models.Clarification{
				Question:  "Can you tell me more about what you want researched?",
				OpenEnded: true,
			}
		}
		s.appendAssistant(sess, resp.Clarification.Question)
	case models.ActionConfirmPlan:
		sess.PendingPlan = &plan
		if plan.Task.Goal != "" {
			sess.TaskDraft.Goal = plan.Task.Goal
		}
		if len(plan.Task.ResearchFocus) > 0 {
			sess.TaskDraft.ResearchFocus = plan.Task.ResearchFocus
		}
		resp.Type = "confirm_plan"
		resp.ConfirmPrompt = plan.ConfirmPrompt
		resp.Plan = &plan
		s.appendAssistant(sess, plan.ConfirmPrompt)
	case models.ActionCannotDo:
		resp.Type = "cannot_do"
		resp.Plan = &plan
	case models.ActionStartResearch:
		if result == nil {
			resp.Type = "error"
			resp.Error = "research produced no results"
		} else {
			sess.LastResult = result
			sess.ConversationMode = session.ModeResearch
			resp.Type = "research_result"
			resp.Result = result
			s.appendAssistant(sess, result.Synthesis)
		}
	default:
		resp.Type = "error"
		resp.Error = "unrecognized decision"
	}

	if err := s.sessions.Update(ctx, sess); err != nil {
		s.logger.Error("Session update failed",
			zap.String("session_id", sess.ID), zap.Error(err))
	}
	return resp
}

// executeConfirmed runs the research pipeline for a plan the user accepted.
func (s *Server) executeConfirmed(ctx context.Context, sess *session.Session, task models.Task, progress orchestrator.Progress) chatResponse {
	result := s.orch.Execute(ctx, task, progress)
	resp := chatResponse{SessionID: sess.ID}
	if result == nil {
		resp.Type = "error"
		resp.Error = "research produced no results"
	} else {
		sess.LastResult = result
		sess.ConversationMode = session.ModeResearch
		resp.Type = "research_result"
		resp.Result = result
		s.appendAssistant(sess, result.Synthesis)
	}
	if err := s.sessions.Update(ctx, sess); err != nil {
		s.logger.Error("Session update failed",
			zap.String("session_id", sess.ID), zap.Error(err))
	}
	return resp
}

func (s *Server) appendAssistant(sess *session.Session, content string) {
	if content == "" {
		return
	}
	sess.Messages = append(sess.Messages, models.Message{Role: "assistant", Content: content})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
