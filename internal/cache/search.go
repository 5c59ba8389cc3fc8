package cache

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/abrasive519mars/mem0-async-chatbot/internal/metrics"
	"github.com/abrasive519mars/mem0-async-chatbot/internal/ranking"
)

// KNNOptions controls a semantic search over one user's memory partition.
type KNNOptions struct {
	K int
	// Cutoff drops results whose distance (1 - cosine) exceeds it.
	// Zero or negative disables the cutoff.
	Cutoff float64
	// BumpMetadata applies the retrieval side effect to each returned
	// record: frequency+1, last_used=now, rfm_score recomputed. Decision
	// reads on the write path keep this off.
	BumpMetadata bool
}

// KNN ranks the user's memories by vector distance to the query, ascending.
// The scan never leaves the user partition. Metadata bumps happen here, per
// record, so retrieval is atomic from the engine's perspective.
func (c *Client) KNN(ctx context.Context, userID string, query []float32, opts KNNOptions) ([]KNNResult, error) {
	if opts.K <= 0 {
		opts.K = 3
	}
	memories, err := c.AllMemories(ctx, userID)
	if err != nil {
		return nil, err
	}

	type scored struct {
		rec MemoryRecord
		sim float64
	}
	ranked := make([]scored, 0, len(memories))
	for _, m := range memories {
		sim := ranking.Cosine(query, m.Embedding)
		dist := 1 - sim
		if opts.Cutoff > 0 && dist > opts.Cutoff {
			continue
		}
		ranked = append(ranked, scored{rec: m, sim: sim})
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].sim > ranked[j].sim })
	if len(ranked) > opts.K {
		ranked = ranked[:opts.K]
	}

	now := time.Now().UTC()
	out := make([]KNNResult, 0, len(ranked))
	for _, s := range ranked {
		res := KNNResult{
			MemID:      s.rec.ID,
			MemoryText: s.rec.MemoryText,
			Similarity: s.sim,
			CreatedAt:  s.rec.CreatedAt,
			LastUsed:   s.rec.LastUsed,
		}
		if opts.BumpMetadata {
			if err := c.touchMemory(ctx, userID, s.rec, now); err != nil {
				// The read already succeeded; a failed bump only costs the
				// reinforcement, so log and keep the result.
				c.logger.Warn("Failed to bump memory metadata",
					zap.String("user_id", userID),
					zap.String("mem_id", s.rec.ID),
					zap.Error(err),
				)
			} else {
				res.LastUsed = now
				metrics.MemoryMetadataBumps.Inc()
			}
		}
		out = append(out, res)
	}
	return out, nil
}

// TopByRFM returns the user's k highest-scored memories, rfm_score
// descending. No side effects.
func (c *Client) TopByRFM(ctx context.Context, userID string, k int) ([]RFMResult, error) {
	if k <= 0 {
		k = 3
	}
	memories, err := c.AllMemories(ctx, userID)
	if err != nil {
		return nil, err
	}
	sort.Slice(memories, func(i, j int) bool { return memories[i].RFMScore > memories[j].RFMScore })
	if len(memories) > k {
		memories = memories[:k]
	}
	out := make([]RFMResult, 0, len(memories))
	for _, m := range memories {
		out = append(out, RFMResult{MemID: m.ID, MemoryText: m.MemoryText, RFMScore: m.RFMScore})
	}
	return out, nil
}

// RecentChats returns the user's last m exchanges in chronological order.
func (c *Client) RecentChats(ctx context.Context, userID string, m int) ([]ChatRecord, error) {
	if m <= 0 {
		m = 10
	}
	chats, err := c.AllChats(ctx, userID)
	if err != nil {
		return nil, err
	}
	sort.Slice(chats, func(i, j int) bool { return chats[i].Timestamp.After(chats[j].Timestamp) })
	if len(chats) > m {
		chats = chats[:m]
	}
	// Newest-first window, flipped for the prompt.
	for i, j := 0, len(chats)-1; i < j; i, j = i+1, j-1 {
		chats[i], chats[j] = chats[j], chats[i]
	}
	return chats, nil
}
