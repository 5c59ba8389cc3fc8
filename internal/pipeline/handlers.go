package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// MemoryEngine is the slice of the engine the consumers drive.
type MemoryEngine interface {
	GenerateCandidates(ctx context.Context, userID, userMsg, botResp string) ([]string, error)
	UpdateUserMemory(ctx context.Context, userID, candidate string) (string, error)
	LogMessage(ctx context.Context, userID, userMsg, botResp string) error
}

// MemoryTaskHandler extracts candidate memories from an exchange and applies
// each through the decision machine. Candidates run sequentially so later
// ones see the writes of earlier ones.
func MemoryTaskHandler(eng MemoryEngine, logger *zap.Logger) Handler {
	return func(ctx context.Context, msg QueueMessage) error {
		genStart := time.Now()
		candidates, err := eng.GenerateCandidates(ctx, msg.UserID, msg.UserMessage, msg.BotResponse)
		if err != nil {
			return err
		}
		logger.Info("Candidates generated",
			zap.String("user_id", msg.UserID),
			zap.Int("count", len(candidates)),
			zap.Duration("elapsed", time.Since(genStart)),
		)

		for i, cand := range candidates {
			updStart := time.Now()
			outcome, err := eng.UpdateUserMemory(ctx, msg.UserID, cand)
			if err != nil {
				return err
			}
			logger.Info("Candidate applied",
				zap.String("user_id", msg.UserID),
				zap.Int("index", i+1),
				zap.String("outcome", outcome),
				zap.Duration("elapsed", time.Since(updStart)),
			)
		}
		return nil
	}
}

// MessageLogHandler appends the exchange to the user's chat log.
func MessageLogHandler(eng MemoryEngine, logger *zap.Logger) Handler {
	return func(ctx context.Context, msg QueueMessage) error {
		if err := eng.LogMessage(ctx, msg.UserID, msg.UserMessage, msg.BotResponse); err != nil {
			return err
		}
		logger.Debug("Message logged", zap.String("user_id", msg.UserID))
		return nil
	}
}
