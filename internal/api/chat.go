package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/flitsinc/datalab/internal/llm"
	"github.com/flitsinc/datalab/internal/stream"
)

type chatRequest struct {
	SessionID string        `json:"session_id"`
	Message   string        `json:"message"`
	History   []llm.Message `json:"history,omitempty"`
}

// handleChat processes one turn and streams progress back as `event:`
// frames over a chunked response. The terminal frame is always a single
// final_response.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var req chatRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.SessionID == "" || req.Message == "" {
		writeError(w, http.StatusBadRequest, errBadRequest("session_id and message are required"))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errNotFound("streaming support"))
		return
	}

	history, err := s.turnHistory(r, req)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	emitter := stream.NewBuffered(func(ev stream.Event) error {
		if err := stream.WriteFrame(w, ev); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}, 0)

	_, dispatchErr := s.Dispatcher.Dispatch(r.Context(), req.SessionID, req.Message, history, emitter)
	emitter.Close()
	if dispatchErr != nil && s.Logger != nil {
		s.Logger.Warn("chat turn failed",
			zap.String("session_id", req.SessionID),
			zap.Error(dispatchErr),
		)
	}
}

// handleChatSync is the non-streaming variant: the turn runs to completion
// and only the terminal assistant text comes back.
func (s *Server) handleChatSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var req chatRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.SessionID == "" || req.Message == "" {
		writeError(w, http.StatusBadRequest, errBadRequest("session_id and message are required"))
		return
	}

	history, err := s.turnHistory(r, req)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	discard := stream.EmitterFunc(func(stream.Event) {})
	final, dispatchErr := s.Dispatcher.Dispatch(r.Context(), req.SessionID, req.Message, history, discard)
	if dispatchErr != nil && s.Logger != nil {
		s.Logger.Warn("sync chat turn failed",
			zap.String("session_id", req.SessionID),
			zap.Error(dispatchErr),
		)
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": final})
}

// turnHistory prefers the client-supplied transcript and falls back to the
// persisted one, so stateless clients still get multi-turn context.
func (s *Server) turnHistory(r *http.Request, req chatRequest) ([]llm.Message, error) {
	if len(req.History) > 0 {
		return req.History, nil
	}
	messages, err := s.Store.ListMessages(r.Context(), req.SessionID, 0)
	if err != nil {
		return nil, err
	}
	history := make([]llm.Message, 0, len(messages))
	for _, msg := range messages {
		history = append(history, llm.Message{Role: msg.Role, Content: msg.Content})
	}
	return history, nil
}
