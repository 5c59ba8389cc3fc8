package cache

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// EmbeddingDim is the fixed embedding dimension used by the memory index.
const EmbeddingDim = 768

var (
	// ErrNotFound is returned when a record does not exist in the cache.
	ErrNotFound = errors.New("cache: record not found")
)

// MemoryRecord is one user memory as held in the cache: a short sentence,
// its embedding, and the RFM ranking metadata.
type MemoryRecord struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	MemoryText string    `json:"memory_text"`
	Embedding  []float32 `json:"embedding"`
	Magnitude  float64   `json:"magnitude"`
	Frequency  int       `json:"frequency"`
	LastUsed   time.Time `json:"last_used"`
	CreatedAt  time.Time `json:"created_at"`
	RFMScore   float64   `json:"rfm_score"`
}

// ChatRecord is one user/bot exchange as held in the cache.
type ChatRecord struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	UserMessage string    `json:"user_message"`
	BotResponse string    `json:"bot_response"`
	Timestamp   time.Time `json:"timestamp"`
}

// KNNResult is one semantic search hit, ordered by ascending distance
// (1 - cosine similarity).
type KNNResult struct {
	MemID      string
	MemoryText string
	Similarity float64
	CreatedAt  time.Time
	LastUsed   time.Time
}

// RFMResult is one hit of the top-by-score query.
type RFMResult struct {
	MemID      string
	MemoryText string
	RFMScore   float64
}

// PackEmbedding serializes a float32 vector as packed little-endian bytes,
// the wire form stored in the hash field.
func PackEmbedding(v []float32) []byte {
	b := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(f))
	}
	return b
}

// UnpackEmbedding decodes packed little-endian float32 bytes.
func UnpackEmbedding(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("embedding payload is %d bytes, not a multiple of 4", len(b))
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out, nil
}

// NormalizeEmbedding accepts the forms an embedding may arrive in at login
// (packed bytes, a JSON array string, or a decoded float slice) and returns
// the float32 vector.
func NormalizeEmbedding(raw interface{}) ([]float32, error) {
	switch v := raw.(type) {
	case []float32:
		return v, nil
	case []float64:
		out := make([]float32, len(v))
		for i, f := range v {
			out[i] = float32(f)
		}
		return out, nil
	case []byte:
		return normalizeBytes(v)
	case string:
		return normalizeBytes([]byte(v))
	case nil:
		return nil, errors.New("embedding is nil")
	default:
		return nil, fmt.Errorf("unsupported embedding type %T", raw)
	}
}

func normalizeBytes(b []byte) ([]float32, error) {
	// A JSON array string takes precedence; anything else is packed binary.
	if len(b) > 0 && b[0] == '[' {
		var fs []float64
		if err := json.Unmarshal(b, &fs); err != nil {
			return nil, fmt.Errorf("parse embedding json: %w", err)
		}
		out := make([]float32, len(fs))
		for i, f := range fs {
			out[i] = float32(f)
		}
		return out, nil
	}
	return UnpackEmbedding(b)
}

func memoryKey(userID, memID string) string {
	return fmt.Sprintf("memories:%s:%s", userID, memID)
}

func chatKey(userID, chatID string) string {
	return fmt.Sprintf("chat:%s:%s", userID, chatID)
}

// parseTime accepts RFC3339 (with or without sub-second precision) and the
// zone-naive ISO form; naive timestamps are treated as UTC.
func parseTime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.999999999", "2006-01-02 15:04:05.999999999"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
