package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/abrasive519mars/mem0-async-chatbot/internal/session"
)

// SessionAPI is the login/logout surface the handlers need.
type SessionAPI interface {
	Login(ctx context.Context, userID string) (*session.LoginResult, error)
	Logout(ctx context.Context, userID string) (*session.LogoutResult, error)
}

// SessionHandler serves the session boundary endpoints.
type SessionHandler struct {
	controller SessionAPI
	logger     *zap.Logger
}

// NewSessionHandler creates the session endpoints.
func NewSessionHandler(ctrl SessionAPI, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{controller: ctrl, logger: logger}
}

// RegisterRoutes wires the session endpoints onto a mux.
func (h *SessionHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/login", h.handleLogin)
	mux.HandleFunc("/logout", h.handleLogout)
}

type sessionRequest struct {
	UserID string `json:"user_id"`
}

func (h *SessionHandler) handleLogin(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.decode(w, r)
	if !ok {
		return
	}
	res, err := h.controller.Login(r.Context(), userID)
	if err != nil {
		h.logger.Error("Login failed", zap.String("user_id", userID), zap.Error(err))
		http.Error(w, `{"error":"login failed"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":          "ok",
		"memories_loaded": res.MemoriesLoaded,
		"chats_loaded":    res.ChatsLoaded,
	})
}

func (h *SessionHandler) handleLogout(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.decode(w, r)
	if !ok {
		return
	}
	res, err := h.controller.Logout(r.Context(), userID)
	if err != nil {
		h.logger.Error("Logout failed", zap.String("user_id", userID), zap.Error(err))
		http.Error(w, `{"error":"logout failed"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":          "ok",
		"memories_synced": res.MemoriesSynced,
		"chats_synced":    res.ChatsSynced,
	})
}

func (h *SessionHandler) decode(w http.ResponseWriter, r *http.Request) (string, bool) {
	if r.Method != http.MethodPost {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return "", false
	}
	var req sessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		http.Error(w, `{"error":"user_id is required"}`, http.StatusBadRequest)
		return "", false
	}
	return req.UserID, true
}
