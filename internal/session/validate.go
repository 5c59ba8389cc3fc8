package session

import (
	"errors"
	"fmt"

	"github.com/abrasive519mars/mem0-async-chatbot/internal/cache"
)

// validateMemory checks a cache record before it is allowed back into the
// store: all required fields present, embedding at the index dimension,
// sane numerics. Records failing here were likely written mid-transaction
// and lost coherence; they are dropped at logout.
func validateMemory(rec cache.MemoryRecord) error {
	if rec.ID == "" {
		return errors.New("missing id")
	}
	if rec.UserID == "" {
		return errors.New("missing user_id")
	}
	if rec.MemoryText == "" {
		return errors.New("empty memory_text")
	}
	if len(rec.Embedding) != cache.EmbeddingDim {
		return fmt.Errorf("embedding dim %d, want %d", len(rec.Embedding), cache.EmbeddingDim)
	}
	if rec.Magnitude < 0 || rec.Magnitude > 5 {
		return fmt.Errorf("magnitude %v out of range", rec.Magnitude)
	}
	if rec.Frequency < 1 {
		return fmt.Errorf("frequency %d below 1", rec.Frequency)
	}
	if rec.LastUsed.IsZero() || rec.CreatedAt.IsZero() {
		return errors.New("missing timestamp")
	}
	return nil
}

func validateChat(rec cache.ChatRecord) error {
	if rec.ID == "" {
		return errors.New("missing id")
	}
	if rec.UserID == "" {
		return errors.New("missing user_id")
	}
	if rec.Timestamp.IsZero() {
		return errors.New("missing timestamp")
	}
	return nil
}
