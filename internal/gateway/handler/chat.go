package handler

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"smartplanning/internal/agent"
)

// ChatHandler serves the conversational endpoints.
type ChatHandler struct {
	svc *agent.Service
	log *zap.Logger
}

// NewChatHandler accepts a nil service when no model is configured; chat
// requests then answer 503.
func NewChatHandler(svc *agent.Service, log *zap.Logger) *ChatHandler {
	return &ChatHandler{svc: svc, log: orNop(log)}
}

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

// HandleChat answers POST /api/chat.
func (h *ChatHandler) HandleChat(w http.ResponseWriter, r *http.Request) {
	if h.svc == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "chat requires a configured LLM provider")
		return
	}
	var in chatRequest
	if err := decodeBody(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_argument", "invalid json body")
		return
	}
	reply, err := h.svc.Chat(r.Context(), strings.TrimSpace(in.SessionID), in.Message)
	if errors.Is(err, agent.ErrEmptyMessage) {
		writeError(w, http.StatusBadRequest, "invalid_argument", err.Error())
		return
	}
	if err != nil {
		h.log.Error("chat failed", zap.String("session_id", in.SessionID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

type clearRequest struct {
	SessionID string `json:"session_id"`
}

// HandleClear drops a session's history on POST /api/clear.
func (h *ChatHandler) HandleClear(w http.ResponseWriter, r *http.Request) {
	var in clearRequest
	if err := decodeBody(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_argument", "invalid json body")
		return
	}
	id := strings.TrimSpace(in.SessionID)
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid_argument", "session_id is required")
		return
	}
	cleared := h.svc != nil && h.svc.Clear(id)
	writeJSON(w, http.StatusOK, map[string]any{"session_id": id, "cleared": cleared})
}
