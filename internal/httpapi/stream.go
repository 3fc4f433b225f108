package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/probelabs/deepresearch/internal/streaming"
)

const heartbeatInterval = 15 * time.Second

// handleChatStream runs one chat turn while streaming progress over SSE.
// GET /chat/stream?session_id=<id>&message=<text>
//
// Event types: session (the resolved session id), progress stages from the
// pipeline, result (the final chatResponse), error, done. Last-Event-ID
// replays buffered events for reconnecting clients.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	message := r.URL.Query().Get("message")
	if message == "" {
		http.Error(w, `{"error":"message required"}`, http.StatusBadRequest)
		return
	}

	var lastID uint64
	if lei := r.Header.Get("Last-Event-ID"); lei != "" {
		if n, err := strconv.ParseUint(lei, 10, 64); err == nil {
			lastID = n
		}
	}
	if q := r.URL.Query().Get("last_event_id"); q != "" && lastID == 0 {
		if n, err := strconv.ParseUint(q, 10, 64); err == nil {
			lastID = n
		}
	}

	sess, err := s.sessions.GetOrCreate(r.Context(), r.URL.Query().Get("session_id"))
	if err != nil {
		s.logger.Error("Session lookup failed", zap.Error(err))
		http.Error(w, `{"error":"session unavailable"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	ch := s.stream.Subscribe(sess.ID, 256)
	defer s.stream.Unsubscribe(sess.ID, ch)

	fmt.Fprintf(w, ": connected to session %s\n\n", sess.ID)
	writeSSE(w, streaming.Event{SessionID: sess.ID, Type: "session", Message: sess.ID})
	flusher.Flush()

	if lastID > 0 {
		for _, ev := range s.stream.ReplaySince(sess.ID, lastID) {
			writeSSE(w, ev)
		}
		flusher.Flush()
	}

	// The turn runs detached from the client context so a dropped connection
	// does not abort in-flight research; the replay buffer covers reconnects.
	turnCtx := context.WithoutCancel(r.Context())
	go func() {
		resp := s.runTurn(turnCtx, sess, message, func(stage, msg, detail string) {
			s.stream.Publish(sess.ID, streaming.Event{Type: stage, Message: msg, Detail: detail})
		})
		payload, _ := json.Marshal(resp)
		kind := "result"
		if resp.Type == "error" {
			kind = "error"
		}
		s.stream.Publish(sess.ID, streaming.Event{Type: kind, Message: string(payload)})
		s.stream.Publish(sess.ID, streaming.Event{Type: "done"})
	}()

	hb := time.NewTicker(heartbeatInterval)
	defer hb.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("SSE client disconnected", zap.String("session_id", sess.ID))
			return
		case evt := <-ch:
			writeSSE(w, evt)
			flusher.Flush()
			if evt.Type == "done" {
				return
			}
		case <-hb.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, ev streaming.Event) {
	if ev.Seq > 0 {
		fmt.Fprintf(w, "id: %d\n", ev.Seq)
	}
	if ev.Type != "" {
		fmt.Fprintf(w, "event: %s\n", ev.Type)
	}
	fmt.Fprintf(w, "data: %s\n\n", string(ev.Marshal()))
}
