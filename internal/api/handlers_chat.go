package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/tidechat/tide/internal/log"
	"github.com/tidechat/tide/internal/relay"
	"github.com/tidechat/tide/internal/session"
	"github.com/tidechat/tide/internal/store"
)

// HistoryLimit is the maximum number of chat records returned per request.
const HistoryLimit = 50

// Replier produces a model reply for an identity and message.
// *relay.Relay implements it.
type Replier interface {
	Reply(ctx context.Context, id session.Identity, message string) (string, error)
}

// ChatStore is the chat-history persistence the handlers need.
// *store.Store implements it; nil means history is unavailable.
type ChatStore interface {
	History(ctx context.Context, ownerID string, limit int) ([]store.Chat, error)
	ClearHistory(ctx context.Context, ownerID string) (int64, error)
}

// chatHandler implements the chat and history endpoints. All of them sit
// behind the auth middleware, so an identity is always present in context.
type chatHandler struct {
	replier Replier
	chats   ChatStore // nil = no persistence configured
	logger  log.Logger
}

type chatRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	Reply string `json:"reply"`
}

// historyMessage is one persisted exchange as returned to the client.
type historyMessage struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	Reply     string    `json:"reply"`
	Timestamp time.Time `json:"timestamp"`
}

type historyResponse struct {
	Messages []historyMessage `json:"messages"`
}

// send relays a message to the model and returns the reply.
// POST /api/chat
func (h *chatHandler) send(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "please log in first", h.logger)
		return
	}

	var req chatRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", h.logger)
		return
	}

	reply, err := h.replier.Reply(r.Context(), id, req.Message)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, chatResponse{Reply: reply}, h.logger)
	case errors.Is(err, relay.ErrEmptyMessage):
		writeError(w, http.StatusBadRequest, "message must not be empty", h.logger)
	case errors.Is(err, relay.ErrNoCredentials):
		h.logger.Error("chat failed, all API keys blocked", "user", id.Username)
		writeError(w, http.StatusInternalServerError, "all API keys are blocked", h.logger)
	default:
		h.logger.Error("chat failed", "error", err, "user", id.Username)
		writeError(w, http.StatusInternalServerError, "failed to reach the AI service", h.logger)
	}
}

// history returns the caller's most recent exchanges, oldest first.
// GET /api/chat/history
func (h *chatHandler) history(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "please log in first", h.logger)
		return
	}

	if h.chats == nil {
		writeJSON(w, http.StatusOK, historyResponse{Messages: []historyMessage{}}, h.logger)
		return
	}

	chats, err := h.chats.History(r.Context(), id.UserID, HistoryLimit)
	if err != nil {
		h.logger.Error("loading chat history", "error", err, "owner", id.UserID)
		writeError(w, http.StatusInternalServerError, "failed to load chat history", h.logger)
		return
	}

	messages := make([]historyMessage, 0, len(chats))
	for _, c := range chats {
		messages = append(messages, historyMessage{
			ID:        c.ID,
			Message:   c.Message,
			Reply:     c.Reply,
			Timestamp: c.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, historyResponse{Messages: messages}, h.logger)
}

// clearHistory deletes all of the caller's chat records.
// DELETE /api/chat/history
func (h *chatHandler) clearHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "please log in first", h.logger)
		return
	}

	if h.chats == nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"message": "chat history cleared (no database)",
		}, h.logger)
		return
	}

	removed, err := h.chats.ClearHistory(r.Context(), id.UserID)
	if err != nil {
		h.logger.Error("clearing chat history", "error", err, "owner", id.UserID)
		writeError(w, http.StatusInternalServerError, "failed to clear chat history", h.logger)
		return
	}

	h.logger.Debug("chat history cleared", "owner", id.UserID, "removed", removed)
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "chat history cleared",
	}, h.logger)
}
