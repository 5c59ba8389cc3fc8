package store

import "time"

// MemoryRow mirrors the persona_category table.
type MemoryRow struct {
	ID         string    `db:"id"`
	UserID     string    `db:"user_id"`
	MemoryText string    `db:"memory_text"`
	Embedding  string    `db:"embedding"` // JSON float array
	Magnitude  float64   `db:"magnitude"`
	Frequency  int       `db:"frequency"`
	LastUsed   time.Time `db:"last_used"`
	RFMScore   float64   `db:"rfm_score"`
	CreatedAt  time.Time `db:"created_at"`
}

// ChatRow mirrors the chat_message_logs table.
type ChatRow struct {
	ID          string    `db:"id"`
	UserID      string    `db:"user_id"`
	UserMessage string    `db:"user_message"`
	BotResponse string    `db:"bot_response"`
	Timestamp   time.Time `db:"timestamp"`
}
