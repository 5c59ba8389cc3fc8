// Package session owns the login/logout boundary: the only point where the
// cache tier and the relational store are synchronized. During a session the
// cache is authoritative; at logout validated records flow back to the store
// and the user's cache namespace is dropped.
package session

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/abrasive519mars/mem0-async-chatbot/internal/cache"
	"github.com/abrasive519mars/mem0-async-chatbot/internal/metrics"
	"github.com/abrasive519mars/mem0-async-chatbot/internal/store"
)

// Controller moves user state across the session boundary.
type Controller struct {
	cache  *cache.Client
	store  *store.Client
	logger *zap.Logger
}

// NewController creates a session controller.
func NewController(c *cache.Client, s *store.Client, logger *zap.Logger) *Controller {
	return &Controller{cache: c, store: s, logger: logger}
}

// LoginResult reports what a warm-load brought into the cache.
type LoginResult struct {
	MemoriesLoaded int `json:"memories_loaded"`
	ChatsLoaded    int `json:"chats_loaded"`
}

// LogoutResult reports what a logout pushed back to the store.
type LogoutResult struct {
	MemoriesSynced int `json:"memories_synced"`
	ChatsSynced    int `json:"chats_synced"`
}

// Login warm-loads the user's memories and chat log from the store into the
// cache namespace. Store embeddings may be JSON strings; the cache adapter
// normalizes them to packed float32.
func (c *Controller) Login(ctx context.Context, userID string) (*LoginResult, error) {
	memRows, err := c.store.FetchUserMemories(ctx, userID)
	if err != nil {
		return nil, err
	}
	chatRows, err := c.store.FetchUserChats(ctx, userID)
	if err != nil {
		return nil, err
	}

	res := &LoginResult{}
	for _, row := range memRows {
		emb, err := cache.NormalizeEmbedding(row.Embedding)
		if err != nil {
			c.logger.Warn("Skipping memory with bad stored embedding",
				zap.String("user_id", userID),
				zap.String("mem_id", row.ID),
				zap.Error(err),
			)
			continue
		}
		rec := cache.MemoryRecord{
			ID:         row.ID,
			UserID:     row.UserID,
			MemoryText: row.MemoryText,
			Embedding:  emb,
			Magnitude:  row.Magnitude,
			Frequency:  row.Frequency,
			LastUsed:   row.LastUsed,
			CreatedAt:  row.CreatedAt,
			RFMScore:   row.RFMScore,
		}
		if err := c.cache.StoreMemory(ctx, userID, row.ID, rec); err != nil {
			return nil, fmt.Errorf("load memory %s: %w", row.ID, err)
		}
		res.MemoriesLoaded++
	}
	for _, row := range chatRows {
		rec := cache.ChatRecord{
			ID:          row.ID,
			UserID:      row.UserID,
			UserMessage: row.UserMessage,
			BotResponse: row.BotResponse,
			Timestamp:   row.Timestamp,
		}
		if err := c.cache.StoreChat(ctx, userID, row.ID, rec); err != nil {
			return nil, fmt.Errorf("load chat %s: %w", row.ID, err)
		}
		res.ChatsLoaded++
	}

	metrics.SessionLogins.Inc()
	c.logger.Info("User logged in",
		zap.String("user_id", userID),
		zap.Int("memories_loaded", res.MemoriesLoaded),
		zap.Int("chats_loaded", res.ChatsLoaded),
	)
	return res, nil
}

// Logout validates every cached record for the user, bulk-upserts the valid
// ones to the store, and purges the cache namespace. Invalid records are
// dropped with a log line; that is the only recourse.
func (c *Controller) Logout(ctx context.Context, userID string) (*LogoutResult, error) {
	memories, err := c.cache.AllMemories(ctx, userID)
	if err != nil {
		return nil, err
	}
	chats, err := c.cache.AllChats(ctx, userID)
	if err != nil {
		return nil, err
	}

	memRows := make([]store.MemoryRow, 0, len(memories))
	for _, rec := range memories {
		if err := validateMemory(rec); err != nil {
			metrics.RecordsDropped.Inc()
			c.logger.Warn("Dropping invalid memory at logout",
				zap.String("user_id", userID),
				zap.String("mem_id", rec.ID),
				zap.Error(err),
			)
			continue
		}
		embJSON, err := json.Marshal(rec.Embedding)
		if err != nil {
			metrics.RecordsDropped.Inc()
			c.logger.Warn("Dropping memory with unserializable embedding",
				zap.String("mem_id", rec.ID), zap.Error(err))
			continue
		}
		memRows = append(memRows, store.MemoryRow{
			ID:         rec.ID,
			UserID:     rec.UserID,
			MemoryText: rec.MemoryText,
			Embedding:  string(embJSON),
			Magnitude:  rec.Magnitude,
			Frequency:  rec.Frequency,
			LastUsed:   rec.LastUsed,
			RFMScore:   rec.RFMScore,
			CreatedAt:  rec.CreatedAt,
		})
	}

	chatRows := make([]store.ChatRow, 0, len(chats))
	for _, rec := range chats {
		if err := validateChat(rec); err != nil {
			metrics.RecordsDropped.Inc()
			c.logger.Warn("Dropping invalid chat at logout",
				zap.String("user_id", userID),
				zap.String("chat_id", rec.ID),
				zap.Error(err),
			)
			continue
		}
		chatRows = append(chatRows, store.ChatRow{
			ID:          rec.ID,
			UserID:      rec.UserID,
			UserMessage: rec.UserMessage,
			BotResponse: rec.BotResponse,
			Timestamp:   rec.Timestamp,
		})
	}

	res := &LogoutResult{}
	if res.MemoriesSynced, err = c.store.UpsertMemories(ctx, memRows); err != nil {
		return nil, err
	}
	if res.ChatsSynced, err = c.store.UpsertChats(ctx, chatRows); err != nil {
		return nil, err
	}
	metrics.RecordsSynced.WithLabelValues("memory").Add(float64(res.MemoriesSynced))
	metrics.RecordsSynced.WithLabelValues("chat").Add(float64(res.ChatsSynced))

	purged, err := c.cache.Purge(ctx, userID)
	if err != nil {
		return nil, err
	}

	metrics.SessionLogouts.Inc()
	c.logger.Info("User logged out",
		zap.String("user_id", userID),
		zap.Int("memories_synced", res.MemoriesSynced),
		zap.Int("chats_synced", res.ChatsSynced),
		zap.Int("keys_purged", purged),
	)
	return res, nil
}
