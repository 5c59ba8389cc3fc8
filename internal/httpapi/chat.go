// Package httpapi is the thin HTTP façade over the memory engine and the
// session controller. Handlers decode JSON, call the engine, publish the
// exchange, and shape the response; no memory logic lives here.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/abrasive519mars/mem0-async-chatbot/internal/engine"
)

// ChatEngine is the retrieval surface the chat handlers need.
type ChatEngine interface {
	ChatSemantic(ctx context.Context, userID, input string) (*engine.TurnResult, error)
	ChatRFM(ctx context.Context, userID, input string) (*engine.TurnResult, error)
	ChatCombined(ctx context.Context, userID, input string) (*engine.TurnResult, error)
}

// ExchangePublisher pushes a finished exchange onto the user's queues.
type ExchangePublisher interface {
	PublishExchange(ctx context.Context, userID, userMsg, botResp string) error
}

// ChatHandler serves the three chat modes.
type ChatHandler struct {
	engine    ChatEngine
	publisher ExchangePublisher
	logger    *zap.Logger
}

// NewChatHandler creates the chat endpoints.
func NewChatHandler(eng ChatEngine, pub ExchangePublisher, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{engine: eng, publisher: pub, logger: logger}
}

// RegisterRoutes wires the chat endpoints onto a mux.
func (h *ChatHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/chat-semantic", h.handleSemantic)
	mux.HandleFunc("/chat-rfm", h.handleRFM)
	mux.HandleFunc("/chat-rfm-semantic", h.handleCombined)
	mux.HandleFunc("/", h.handleRoot)
}

type chatRequest struct {
	UserID    string `json:"user_id"`
	UserInput string `json:"user_input"`
}

func (h *ChatHandler) handleSemantic(w http.ResponseWriter, r *http.Request) {
	h.handleChat(w, r, h.engine.ChatSemantic, func(res *engine.TurnResult) map[string]interface{} {
		return map[string]interface{}{
			"response":        res.Answer,
			"fetch_time":      res.FetchTime,
			"response_time":   res.ResponseTime,
			"embeddings_time": res.EmbeddingTime,
			"memories_retrieved": map[string]interface{}{
				"semantic": res.Retrieved.Semantic,
			},
		}
	})
}

func (h *ChatHandler) handleRFM(w http.ResponseWriter, r *http.Request) {
	h.handleChat(w, r, h.engine.ChatRFM, func(res *engine.TurnResult) map[string]interface{} {
		return map[string]interface{}{
			"response":      res.Answer,
			"fetch_time":    res.FetchTime,
			"response_time": res.ResponseTime,
			"memories_retrieved": map[string]interface{}{
				"rfm": res.Retrieved.RFM,
			},
		}
	})
}

func (h *ChatHandler) handleCombined(w http.ResponseWriter, r *http.Request) {
	h.handleChat(w, r, h.engine.ChatCombined, func(res *engine.TurnResult) map[string]interface{} {
		return map[string]interface{}{
			"response":       res.Answer,
			"fetch_time":     res.FetchTime,
			"embedding_time": res.EmbeddingTime,
			"response_time":  res.ResponseTime,
			"memories_retrieved": map[string]interface{}{
				"semantic": res.Retrieved.Semantic,
				"rfm":      res.Retrieved.RFM,
			},
		}
	})
}

type turnFunc func(ctx context.Context, userID, input string) (*engine.TurnResult, error)

// handleChat runs one turn: answer first, then publish to both queues. The
// response is written only after both publishes, so the client knows the
// exchange is durable before its next turn.
func (h *ChatHandler) handleChat(w http.ResponseWriter, r *http.Request, turn turnFunc, shape func(*engine.TurnResult) map[string]interface{}) {
	if r.Method != http.MethodPost {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" || req.UserInput == "" {
		http.Error(w, `{"error":"user_id and user_input are required"}`, http.StatusBadRequest)
		return
	}

	res, err := turn(r.Context(), req.UserID, req.UserInput)
	if err != nil {
		h.logger.Error("Chat turn failed",
			zap.String("user_id", req.UserID),
			zap.Error(err),
		)
		http.Error(w, `{"error":"chat turn failed"}`, http.StatusInternalServerError)
		return
	}

	if err := h.publisher.PublishExchange(r.Context(), req.UserID, req.UserInput, res.Answer); err != nil {
		h.logger.Error("Failed to publish exchange",
			zap.String("user_id", req.UserID),
			zap.Error(err),
		)
		http.Error(w, `{"error":"failed to enqueue exchange"}`, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, shape(res))
}

func (h *ChatHandler) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "chat service running"})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
