package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/abrasive519mars/mem0-async-chatbot/internal/metrics"
)

// Janitor periodically deletes per-user queues with no pending messages,
// so queues don't accumulate for inactive users.
type Janitor struct {
	mgmt     ManagementAPI
	interval time.Duration
	logger   *zap.Logger
}

// NewJanitor creates a queue cleanup job.
func NewJanitor(mgmt ManagementAPI, interval time.Duration, logger *zap.Logger) *Janitor {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &Janitor{mgmt: mgmt, interval: interval, logger: logger}
}

// Run sweeps until the context is cancelled.
func (j *Janitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.Sweep()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			j.Sweep()
		}
	}
}

// Sweep runs one cleanup pass. Deletion is conditional on the broker side
// (if-empty), so a message racing in between enumeration and deletion is
// safe.
func (j *Janitor) Sweep() {
	queues, err := j.mgmt.ListQueues()
	if err != nil {
		j.logger.Warn("Queue cleanup enumeration failed", zap.Error(err))
		return
	}

	deleted := 0
	for _, q := range queues {
		if !IsUserQueue(q.Name) || q.Messages != 0 {
			continue
		}
		if err := j.mgmt.DeleteQueueIfEmpty(q.Vhost, q.Name); err != nil {
			j.logger.Warn("Failed to delete empty queue",
				zap.String("queue", q.Name),
				zap.Error(err),
			)
			continue
		}
		metrics.QueuesDeleted.Inc()
		deleted++
		j.logger.Info("Deleted empty queue", zap.String("queue", q.Name))
	}
	j.logger.Debug("Queue cleanup completed", zap.Int("deleted", deleted))
}
