package engine

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/abrasive519mars/mem0-async-chatbot/internal/cache"
	"github.com/abrasive519mars/mem0-async-chatbot/internal/metrics"
	"github.com/abrasive519mars/mem0-async-chatbot/internal/ranking"
)

// decisionCutoff bounds the distance of existing memories shown to the
// decision prompt; anything farther is not a reconciliation target.
const decisionCutoff = 0.5

func newID() string { return uuid.New().String() }

// GenerateCandidates asks the oracle to extract up to two candidate memory
// sentences from the current exchange. Context is the recent chat window and
// a summary of what is already known. "None" (or an empty reply) yields no
// candidates.
func (e *Engine) GenerateCandidates(ctx context.Context, userID, userMsg, botResp string) ([]string, error) {
	history, err := e.cache.RecentChats(ctx, userID, e.opts.RecentM)
	if err != nil {
		return nil, err
	}
	summary, err := e.summarizeMemories(ctx, userID)
	if err != nil {
		return nil, err
	}

	text, err := e.oracle.Generate(ctx, extractionPrompt(summary, history, userMsg, botResp))
	if err != nil {
		return nil, fmt.Errorf("extract candidates: %w", err)
	}

	candidates := parseCandidates(text)
	metrics.CandidatesExtracted.Observe(float64(len(candidates)))
	return candidates, nil
}

func (e *Engine) summarizeMemories(ctx context.Context, userID string) (string, error) {
	memories, err := e.cache.AllMemories(ctx, userID)
	if err != nil {
		return "", err
	}
	if len(memories) == 0 {
		return "No prior memories stored yet.", nil
	}
	texts := make([]string, 0, len(memories))
	for _, m := range memories {
		texts = append(texts, m.MemoryText)
	}
	summary, err := e.oracle.Generate(ctx, summaryPrompt(texts))
	if err != nil {
		return "", fmt.Errorf("summarize memories: %w", err)
	}
	return strings.TrimSpace(summary), nil
}

func parseCandidates(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" || strings.EqualFold(text, "none") {
		return nil
	}
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(line, "-*• \t"))
		if line == "" || strings.EqualFold(line, "none") {
			continue
		}
		out = append(out, line)
		if len(out) == 2 {
			break
		}
	}
	return out
}

// UpdateUserMemory runs the decision machine for one candidate: embed, read
// up to 3 similar memories (without touching their metadata), ask the oracle
// for add/merge/override/none, and apply. Returns the outcome taken.
func (e *Engine) UpdateUserMemory(ctx context.Context, userID, candidate string) (string, error) {
	emb, err := e.oracle.Embed(ctx, candidate)
	if err != nil {
		return "", fmt.Errorf("embed candidate: %w", err)
	}

	similar, err := e.cache.KNN(ctx, userID, emb, cache.KNNOptions{
		K:            3,
		Cutoff:       decisionCutoff,
		BumpMetadata: false,
	})
	if err != nil {
		return "", err
	}

	// Nothing comparable exists: no decision to make.
	if len(similar) == 0 {
		if err := e.applyAdd(ctx, userID, candidate, emb); err != nil {
			return "", err
		}
		metrics.MemoryDecisions.WithLabelValues(OutcomeAdd).Inc()
		return OutcomeAdd, nil
	}

	raw, err := e.oracle.Generate(ctx, decisionPrompt(candidate, similar))
	if err != nil {
		return "", fmt.Errorf("decision: %w", err)
	}

	verb, indices, ok := parseDecision(raw, len(similar))
	if !ok {
		e.logger.Info("No memory update",
			zap.String("user_id", userID),
			zap.String("decision", strings.TrimSpace(raw)),
		)
		metrics.MemoryDecisions.WithLabelValues(OutcomeInvalid).Inc()
		return OutcomeNone, nil
	}

	switch verb {
	case OutcomeAdd:
		err = e.applyAdd(ctx, userID, candidate, emb)
	case OutcomeMerge:
		err = e.applyMerge(ctx, userID, candidate, similar, indices)
	case OutcomeOverride:
		err = e.applyOverride(ctx, userID, candidate, emb, similar, indices)
	case OutcomeNone:
		e.logger.Info("No memory update", zap.String("user_id", userID))
	}
	if err != nil {
		return "", err
	}
	metrics.MemoryDecisions.WithLabelValues(verb).Inc()
	return verb, nil
}

// parseDecision strictly parses the oracle's decision string. Index lists
// are 1-based positions into the similar-memory listing shown to the oracle.
func parseDecision(raw string, nSimilar int) (verb string, indices []int, ok bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.Trim(s, "'\".")

	switch s {
	case OutcomeAdd:
		return OutcomeAdd, nil, true
	case OutcomeNone:
		return OutcomeNone, nil, true
	}

	for _, v := range []string{OutcomeMerge, OutcomeOverride} {
		if rest, found := strings.CutPrefix(s, v+":"); found {
			for _, part := range strings.Split(rest, ",") {
				n, err := strconv.Atoi(strings.TrimSpace(part))
				if err != nil || n < 1 || n > nSimilar {
					return "", nil, false
				}
				indices = append(indices, n)
			}
			if len(indices) == 0 {
				return "", nil, false
			}
			return v, indices, true
		}
	}
	return "", nil, false
}

// applyAdd stores the candidate as a fresh memory with frequency 1.
func (e *Engine) applyAdd(ctx context.Context, userID, candidate string, emb []float32) error {
	now := time.Now().UTC()
	mag, err := e.magnitude(ctx, candidate)
	if err != nil {
		return err
	}
	rec := cache.MemoryRecord{
		ID:         newID(),
		UserID:     userID,
		MemoryText: candidate,
		Embedding:  emb,
		Magnitude:  mag,
		Frequency:  1,
		LastUsed:   now,
		CreatedAt:  now,
		RFMScore:   ranking.RFMScore(now, 1, mag, now),
	}
	if err := e.cache.StoreMemory(ctx, userID, rec.ID, rec); err != nil {
		return err
	}
	e.logger.Info("Memory added",
		zap.String("user_id", userID),
		zap.String("mem_id", rec.ID),
		zap.Float64("magnitude", mag),
	)
	return nil
}

// applyMerge consolidates the candidate into each targeted memory: one
// merged sentence from the oracle, re-embedded, frequency incremented.
func (e *Engine) applyMerge(ctx context.Context, userID, candidate string, similar []cache.KNNResult, indices []int) error {
	for _, idx := range indices {
		target := similar[idx-1]
		existing, err := e.cache.GetMemory(ctx, userID, target.MemID)
		if err != nil {
			return fmt.Errorf("merge target %s: %w", target.MemID, err)
		}

		merged, err := e.oracle.Generate(ctx, consolidationPrompt(existing.MemoryText, candidate))
		if err != nil {
			return fmt.Errorf("consolidate: %w", err)
		}
		merged = strings.TrimSpace(merged)
		if merged == "" {
			merged = existing.MemoryText
		}

		emb, err := e.oracle.Embed(ctx, merged)
		if err != nil {
			return fmt.Errorf("embed merged: %w", err)
		}
		mag, err := e.magnitude(ctx, merged)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		existing.MemoryText = merged
		existing.Embedding = emb
		existing.Magnitude = mag
		existing.Frequency++
		existing.LastUsed = now
		existing.RFMScore = ranking.RFMScore(now, existing.Frequency, mag, now)

		if err := e.cache.StoreMemory(ctx, userID, existing.ID, existing); err != nil {
			return err
		}
		e.logger.Info("Memory merged",
			zap.String("user_id", userID),
			zap.String("mem_id", existing.ID),
			zap.Int("frequency", existing.Frequency),
		)
	}
	return nil
}

// applyOverride replaces each targeted memory's text and embedding with the
// candidate's, keeping identity and incrementing frequency.
func (e *Engine) applyOverride(ctx context.Context, userID, candidate string, emb []float32, similar []cache.KNNResult, indices []int) error {
	mag, err := e.magnitude(ctx, candidate)
	if err != nil {
		return err
	}
	for _, idx := range indices {
		target := similar[idx-1]
		existing, err := e.cache.GetMemory(ctx, userID, target.MemID)
		if err != nil {
			return fmt.Errorf("override target %s: %w", target.MemID, err)
		}

		now := time.Now().UTC()
		existing.MemoryText = candidate
		existing.Embedding = emb
		existing.Magnitude = mag
		existing.Frequency++
		existing.LastUsed = now
		existing.RFMScore = ranking.RFMScore(now, existing.Frequency, mag, now)

		if err := e.cache.StoreMemory(ctx, userID, existing.ID, existing); err != nil {
			return err
		}
		e.logger.Info("Memory overridden",
			zap.String("user_id", userID),
			zap.String("mem_id", existing.ID),
			zap.Int("frequency", existing.Frequency),
		)
	}
	return nil
}

// magnitude asks the oracle for a 0-5 importance score. Unparseable output
// scores 0, matching the best-effort stance of the write path.
func (e *Engine) magnitude(ctx context.Context, text string) (float64, error) {
	raw, err := e.oracle.Generate(ctx, magnitudePrompt(text))
	if err != nil {
		return 0, fmt.Errorf("magnitude: %w", err)
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		e.logger.Warn("Unparseable magnitude from oracle", zap.String("raw", strings.TrimSpace(raw)))
		return 0, nil
	}
	v = math.Max(0, math.Min(5, v))
	return math.Round(v*100) / 100, nil
}
