// Package api exposes the daemon over HTTP: the chat stream, session
// management, generated artifacts and the push websocket.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/flitsinc/datalab/internal/agents"
	"github.com/flitsinc/datalab/internal/push"
	"github.com/flitsinc/datalab/internal/session"
	"github.com/flitsinc/datalab/internal/store"
)

type Server struct {
	Store      *store.Store
	Sessions   *session.Manager
	Dispatcher *agents.Dispatcher
	Hub        *push.Hub
	Logger     *zap.Logger
	StartedAt  time.Time
	Info       DiagnosticsInfo
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/chat", s.handleChat)
	mux.HandleFunc("/api/chat/sync", s.handleChatSync)
	mux.HandleFunc("/api/sessions/", s.handleSessions)
	mux.HandleFunc("/api/ws", s.handlePushWS)
	mux.HandleFunc("/api/diagnostics", s.handleDiagnostics)

	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "time": time.Now().UTC()})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	segments := strings.Split(strings.Trim(path, "/"), "/")
	if len(segments) == 0 || segments[0] == "" {
		writeError(w, http.StatusNotFound, errNotFound("session"))
		return
	}
	sessionID := segments[0]
	if len(segments) == 1 {
		s.handleSessionItem(w, r, sessionID)
		return
	}

	switch segments[1] {
	case "messages":
		s.handleSessionMessages(w, r, sessionID)
	case "model":
		s.handleSessionModel(w, r, sessionID)
	case "plan":
		s.handleSessionPlan(w, r, sessionID)
	case "files":
		s.handleSessionFiles(w, r, sessionID)
	case "notebook":
		s.handleSessionUnits(w, r, sessionID, session.KindNotebook)
	case "presentation":
		s.handleSessionUnits(w, r, sessionID, session.KindPresentation)
	case "context":
		s.handleSessionContext(w, r, sessionID)
	default:
		writeError(w, http.StatusNotFound, errNotFound("session resource"))
	}
}

func (s *Server) handleSessionItem(w http.ResponseWriter, r *http.Request, sessionID string) {
	switch r.Method {
	case http.MethodGet:
		sess, err := s.Store.GetSession(r.Context(), sessionID)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sess)
	case http.MethodDelete:
		if err := s.Store.DeleteSession(r.Context(), sessionID); err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeMethodNotAllowed(w)
	}
}

func (s *Server) handleSessionMessages(w http.ResponseWriter, r *http.Request, sessionID string) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	limit := parseInt(r.URL.Query().Get("limit"), 200)
	messages, err := s.Store.ListMessages(r.Context(), sessionID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if messages == nil {
		messages = []store.Message{}
	}
	writeJSON(w, http.StatusOK, messages)
}

func (s *Server) handleSessionModel(w http.ResponseWriter, r *http.Request, sessionID string) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var payload struct {
		Provider string `json:"provider"`
		Model    string `json:"model"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if payload.Provider == "" || payload.Model == "" {
		writeError(w, http.StatusBadRequest, errBadRequest("provider and model are required"))
		return
	}
	if _, err := s.Store.EnsureSession(r.Context(), sessionID); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if err := s.Store.SetSessionModel(r.Context(), sessionID, payload.Provider, payload.Model); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleSessionPlan(w http.ResponseWriter, r *http.Request, sessionID string) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var payload struct {
		Plan string `json:"plan"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if _, err := s.Store.EnsureSession(r.Context(), sessionID); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if err := s.Store.SetSessionPlan(r.Context(), sessionID, payload.Plan); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleSessionFiles(w http.ResponseWriter, r *http.Request, sessionID string) {
	switch r.Method {
	case http.MethodGet:
		files, err := s.Store.ListFiles(r.Context(), sessionID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if files == nil {
			files = []store.File{}
		}
		writeJSON(w, http.StatusOK, files)
	case http.MethodPost:
		var payload struct {
			Name   string `json:"name"`
			FileID string `json:"file_id"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if payload.Name == "" {
			writeError(w, http.StatusBadRequest, errBadRequest("name is required"))
			return
		}
		if _, err := s.Store.EnsureSession(r.Context(), sessionID); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		file, err := s.Store.AddFile(r.Context(), sessionID, payload.Name, payload.FileID)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusCreated, file)
	default:
		writeMethodNotAllowed(w)
	}
}

func (s *Server) handleSessionUnits(w http.ResponseWriter, r *http.Request, sessionID, agentKind string) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	units, err := s.Store.ListUnits(r.Context(), sessionID, agentKind)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if units == nil {
		units = []store.Unit{}
	}
	writeJSON(w, http.StatusOK, units)
}

// handleSessionContext moves the session between contexts. Entering
// notebook or presentation purges that artifact family so the next run
// starts clean.
func (s *Server) handleSessionContext(w http.ResponseWriter, r *http.Request, sessionID string) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var payload struct {
		Context string `json:"context"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	ctx := r.Context()
	var err error
	switch session.State(payload.Context) {
	case session.StateNotebook:
		err = s.Sessions.EnterNotebook(ctx, sessionID)
	case session.StatePresentation:
		err = s.Sessions.EnterPresentation(ctx, sessionID)
	case session.StateDefault:
		err = s.Sessions.ExitToDefault(ctx, sessionID)
	default:
		writeError(w, http.StatusBadRequest, errBadRequest("unknown context: "+payload.Context))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "context": payload.Context})
}

type DiagnosticsInfo struct {
	HTTPAddr    string `json:"http_addr"`
	DataDir     string `json:"data_dir"`
	DBPath      string `json:"db_path"`
	SandboxRoot string `json:"sandbox_root"`
	LLMProvider string `json:"llm_provider"`
	LLMModel    string `json:"llm_model"`
}

type DiagnosticsResponse struct {
	Time          time.Time       `json:"time"`
	StartedAt     time.Time       `json:"started_at"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	GoVersion     string          `json:"go_version"`
	Info          DiagnosticsInfo `json:"info"`
	Push          map[string]any  `json:"push"`
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	now := time.Now().UTC()
	started := s.StartedAt
	if started.IsZero() {
		started = now
	}
	resp := DiagnosticsResponse{
		Time:          now,
		StartedAt:     started,
		UptimeSeconds: int64(now.Sub(started).Seconds()),
		GoVersion:     runtime.Version(),
		Info:          s.Info,
		Push:          map[string]any{},
	}
	if s.Hub != nil {
		resp.Push["subscribers"] = s.Hub.SubscriberCount()
	}
	writeJSON(w, http.StatusOK, resp)
}

func decodeJSON(body io.Reader, dest any) error {
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dest)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeError(w, http.StatusInternalServerError, err)
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
}

func parseInt(value string, fallback int) int {
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

type notFoundError struct {
	msg string
}

func (e notFoundError) Error() string { return e.msg }

func errNotFound(target string) error {
	return notFoundError{msg: target + " not found"}
}

type badRequestError struct {
	msg string
}

func (e badRequestError) Error() string { return e.msg }

func errBadRequest(msg string) error {
	return badRequestError{msg: msg}
}
