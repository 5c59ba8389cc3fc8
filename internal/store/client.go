// Package store is the durable relational tier. It is only touched at the
// session boundary: warm-load at login, bulk upsert at logout.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// upsertBatchSize bounds one multi-row statement at logout.
const upsertBatchSize = 100

// Config holds database configuration.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// Client manages the store connection pool.
type Client struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewClient opens the connection pool and verifies it.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.SSLMode == "" {
		cfg.SSLMode = "disable"
	}
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Store client initialized", zap.String("host", cfg.Host), zap.String("database", cfg.Database))
	return &Client{db: db, logger: logger}, nil
}

// NewClientFromDB wraps an existing connection (used by tests).
func NewClientFromDB(db *sqlx.DB, logger *zap.Logger) *Client {
	return &Client{db: db, logger: logger}
}

// FetchUserMemories reads all persisted memories for a user.
func (c *Client) FetchUserMemories(ctx context.Context, userID string) ([]MemoryRow, error) {
	var rows []MemoryRow
	err := c.db.SelectContext(ctx, &rows,
		`SELECT id, user_id, memory_text, embedding, magnitude, frequency, last_used, rfm_score, created_at
		 FROM persona_category WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("fetch memories for %s: %w", userID, err)
	}
	return rows, nil
}

// FetchUserChats reads the user's chat log, oldest first.
func (c *Client) FetchUserChats(ctx context.Context, userID string) ([]ChatRow, error) {
	var rows []ChatRow
	err := c.db.SelectContext(ctx, &rows,
		`SELECT id, user_id, user_message, bot_response, timestamp
		 FROM chat_message_logs WHERE user_id = $1 ORDER BY timestamp ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("fetch chats for %s: %w", userID, err)
	}
	return rows, nil
}

// UpsertMemories writes memory rows in batches, last-write-wins on id.
func (c *Client) UpsertMemories(ctx context.Context, rows []MemoryRow) (int, error) {
	written := 0
	for start := 0; start < len(rows); start += upsertBatchSize {
		end := start + upsertBatchSize
		if end > len(rows) {
			end = len(rows)
		}
		if err := c.upsertMemoryBatch(ctx, rows[start:end]); err != nil {
			return written, err
		}
		written += end - start
	}
	return written, nil
}

func (c *Client) upsertMemoryBatch(ctx context.Context, batch []MemoryRow) error {
	placeholders := make([]string, 0, len(batch))
	args := make([]interface{}, 0, len(batch)*9)
	for i, r := range batch {
		base := i * 9
		placeholders = append(placeholders, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9))
		args = append(args, r.ID, r.UserID, r.MemoryText, r.Embedding,
			r.Magnitude, r.Frequency, r.LastUsed, r.RFMScore, r.CreatedAt)
	}
	query := fmt.Sprintf(
		`INSERT INTO persona_category
		 (id, user_id, memory_text, embedding, magnitude, frequency, last_used, rfm_score, created_at)
		 VALUES %s
		 ON CONFLICT (id) DO UPDATE SET
		 memory_text = EXCLUDED.memory_text,
		 embedding = EXCLUDED.embedding,
		 magnitude = EXCLUDED.magnitude,
		 frequency = EXCLUDED.frequency,
		 last_used = EXCLUDED.last_used,
		 rfm_score = EXCLUDED.rfm_score`,
		strings.Join(placeholders, ", "))

	if _, err := c.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert memory batch of %d: %w", len(batch), err)
	}
	return nil
}

// UpsertChats writes chat rows in batches; replays of the same id are no-ops.
func (c *Client) UpsertChats(ctx context.Context, rows []ChatRow) (int, error) {
	written := 0
	for start := 0; start < len(rows); start += upsertBatchSize {
		end := start + upsertBatchSize
		if end > len(rows) {
			end = len(rows)
		}
		if err := c.upsertChatBatch(ctx, rows[start:end]); err != nil {
			return written, err
		}
		written += end - start
	}
	return written, nil
}

func (c *Client) upsertChatBatch(ctx context.Context, batch []ChatRow) error {
	placeholders := make([]string, 0, len(batch))
	args := make([]interface{}, 0, len(batch)*5)
	for i, r := range batch {
		base := i * 5
		placeholders = append(placeholders, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d)", base+1, base+2, base+3, base+4, base+5))
		args = append(args, r.ID, r.UserID, r.UserMessage, r.BotResponse, r.Timestamp)
	}
	query := fmt.Sprintf(
		`INSERT INTO chat_message_logs (id, user_id, user_message, bot_response, timestamp)
		 VALUES %s
		 ON CONFLICT (id) DO NOTHING`,
		strings.Join(placeholders, ", "))

	if _, err := c.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert chat batch of %d: %w", len(batch), err)
	}
	return nil
}

// Ping checks connectivity, for health reporting.
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Close releases the connection pool.
func (c *Client) Close() error {
	return c.db.Close()
}
