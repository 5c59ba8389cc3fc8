// Package cache implements the vector+KV cache adapter over Redis. During a
// session it is the authoritative store for a user's memories and chat log:
// hash records partitioned by user, embeddings packed as float32 bytes, and
// a KNN search with per-record metadata reinforcement.
package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/abrasive519mars/mem0-async-chatbot/internal/ranking"
)

// Client wraps a pooled Redis connection with the memory-tier key families.
type Client struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// Config holds Redis connection settings.
type Config struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// NewClient connects to Redis and verifies the connection.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Client{rdb: rdb, logger: logger}, nil
}

// NewClientFromRedis wraps an existing Redis client (used by tests).
func NewClientFromRedis(rdb *redis.Client, logger *zap.Logger) *Client {
	return &Client{rdb: rdb, logger: logger}
}

// StoreMemory upserts a memory hash. The embedding is serialized as packed
// float32 bytes; a single HSET so there is no partial-write window.
func (c *Client) StoreMemory(ctx context.Context, userID, memID string, rec MemoryRecord) error {
	fields := map[string]interface{}{
		"id":          memID,
		"user_id":     userID,
		"memory_text": rec.MemoryText,
		"embedding":   PackEmbedding(rec.Embedding),
		"magnitude":   strconv.FormatFloat(rec.Magnitude, 'f', -1, 64),
		"frequency":   strconv.Itoa(rec.Frequency),
		"last_used":   formatTime(rec.LastUsed),
		"created_at":  formatTime(rec.CreatedAt),
		"rfm_score":   strconv.FormatFloat(rec.RFMScore, 'f', -1, 64),
	}
	if err := c.rdb.HSet(ctx, memoryKey(userID, memID), fields).Err(); err != nil {
		return fmt.Errorf("store memory %s: %w", memID, err)
	}
	return nil
}

// StoreChat upserts a chat hash.
func (c *Client) StoreChat(ctx context.Context, userID, chatID string, rec ChatRecord) error {
	fields := map[string]interface{}{
		"id":           chatID,
		"user_id":      userID,
		"user_message": rec.UserMessage,
		"bot_response": rec.BotResponse,
		"timestamp":    formatTime(rec.Timestamp),
	}
	if err := c.rdb.HSet(ctx, chatKey(userID, chatID), fields).Err(); err != nil {
		return fmt.Errorf("store chat %s: %w", chatID, err)
	}
	return nil
}

// GetMemory reads a single memory record.
func (c *Client) GetMemory(ctx context.Context, userID, memID string) (MemoryRecord, error) {
	fields, err := c.rdb.HGetAll(ctx, memoryKey(userID, memID)).Result()
	if err != nil {
		return MemoryRecord{}, fmt.Errorf("get memory %s: %w", memID, err)
	}
	if len(fields) == 0 {
		return MemoryRecord{}, ErrNotFound
	}
	return memoryFromHash(fields)
}

// AllMemories enumerates the user's memory partition. Records that fail to
// decode are skipped with a log line; logout validation handles the rest.
func (c *Client) AllMemories(ctx context.Context, userID string) ([]MemoryRecord, error) {
	keys, err := c.scanKeys(ctx, fmt.Sprintf("memories:%s:*", userID))
	if err != nil {
		return nil, err
	}
	out := make([]MemoryRecord, 0, len(keys))
	for _, key := range keys {
		fields, err := c.rdb.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", key, err)
		}
		rec, err := memoryFromHash(fields)
		if err != nil {
			c.logger.Warn("Skipping undecodable memory record",
				zap.String("key", key),
				zap.Error(err),
			)
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// AllChats enumerates the user's chat partition.
func (c *Client) AllChats(ctx context.Context, userID string) ([]ChatRecord, error) {
	keys, err := c.scanKeys(ctx, fmt.Sprintf("chat:%s:*", userID))
	if err != nil {
		return nil, err
	}
	out := make([]ChatRecord, 0, len(keys))
	for _, key := range keys {
		fields, err := c.rdb.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", key, err)
		}
		rec, err := chatFromHash(fields)
		if err != nil {
			c.logger.Warn("Skipping undecodable chat record",
				zap.String("key", key),
				zap.Error(err),
			)
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// Purge drops the entire user namespace (memories and chats). Returns the
// number of keys removed.
func (c *Client) Purge(ctx context.Context, userID string) (int, error) {
	memKeys, err := c.scanKeys(ctx, fmt.Sprintf("memories:%s:*", userID))
	if err != nil {
		return 0, err
	}
	chatKeys, err := c.scanKeys(ctx, fmt.Sprintf("chat:%s:*", userID))
	if err != nil {
		return 0, err
	}
	keys := append(memKeys, chatKeys...)
	if len(keys) == 0 {
		return 0, nil
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		return 0, fmt.Errorf("purge user %s: %w", userID, err)
	}
	return len(keys), nil
}

// Ping checks connectivity, for health reporting.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close releases the connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

func (c *Client) scanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := c.rdb.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", pattern, err)
	}
	return keys, nil
}

func memoryFromHash(fields map[string]string) (MemoryRecord, error) {
	rec := MemoryRecord{
		ID:         fields["id"],
		UserID:     fields["user_id"],
		MemoryText: fields["memory_text"],
	}
	emb, err := NormalizeEmbedding([]byte(fields["embedding"]))
	if err != nil {
		return MemoryRecord{}, fmt.Errorf("embedding: %w", err)
	}
	rec.Embedding = emb

	if rec.Magnitude, err = strconv.ParseFloat(fields["magnitude"], 64); err != nil {
		return MemoryRecord{}, fmt.Errorf("magnitude: %w", err)
	}
	if rec.Frequency, err = strconv.Atoi(fields["frequency"]); err != nil {
		return MemoryRecord{}, fmt.Errorf("frequency: %w", err)
	}
	if rec.RFMScore, err = strconv.ParseFloat(fields["rfm_score"], 64); err != nil {
		return MemoryRecord{}, fmt.Errorf("rfm_score: %w", err)
	}
	if rec.LastUsed, err = parseTime(fields["last_used"]); err != nil {
		return MemoryRecord{}, fmt.Errorf("last_used: %w", err)
	}
	if rec.CreatedAt, err = parseTime(fields["created_at"]); err != nil {
		return MemoryRecord{}, fmt.Errorf("created_at: %w", err)
	}
	return rec, nil
}

func chatFromHash(fields map[string]string) (ChatRecord, error) {
	rec := ChatRecord{
		ID:          fields["id"],
		UserID:      fields["user_id"],
		UserMessage: fields["user_message"],
		BotResponse: fields["bot_response"],
	}
	ts, err := parseTime(fields["timestamp"])
	if err != nil {
		return ChatRecord{}, fmt.Errorf("timestamp: %w", err)
	}
	rec.Timestamp = ts
	return rec, nil
}

// touchMemory applies the retrieval side effect to one record: frequency+1,
// last_used=now, rfm_score recomputed. Whole-field HSET keyed by mem_id.
func (c *Client) touchMemory(ctx context.Context, userID string, rec MemoryRecord, now time.Time) error {
	freq := rec.Frequency + 1
	score := ranking.RFMScore(now, freq, rec.Magnitude, now)
	fields := map[string]interface{}{
		"frequency": strconv.Itoa(freq),
		"last_used": formatTime(now),
		"rfm_score": strconv.FormatFloat(score, 'f', -1, 64),
	}
	if err := c.rdb.HSet(ctx, memoryKey(userID, rec.ID), fields).Err(); err != nil {
		return fmt.Errorf("touch memory %s: %w", rec.ID, err)
	}
	return nil
}
