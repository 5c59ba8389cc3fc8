// Package engine implements the memory engine: the retrieval paths that
// compose a prompt from the cache tier, and the write path that reconciles
// freshly extracted candidate memories against existing ones.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/abrasive519mars/mem0-async-chatbot/internal/cache"
	"github.com/abrasive519mars/mem0-async-chatbot/internal/llm"
	"github.com/abrasive519mars/mem0-async-chatbot/internal/metrics"
)

// Options are the retrieval knobs.
type Options struct {
	TopK    int
	RecentM int
	// SemanticCutoff bounds distance on the pure-semantic path; 0 disables.
	SemanticCutoff float64
	// CombinedCutoff bounds distance on the combined path.
	CombinedCutoff float64
}

func (o Options) withDefaults() Options {
	if o.TopK <= 0 {
		o.TopK = 3
	}
	if o.RecentM <= 0 {
		o.RecentM = 10
	}
	if o.CombinedCutoff == 0 {
		o.CombinedCutoff = 0.4
	}
	return o
}

// Engine composes the cache tier and the LLM oracle.
type Engine struct {
	cache  *cache.Client
	oracle llm.Oracle
	opts   Options
	logger *zap.Logger
}

// New creates an engine.
func New(c *cache.Client, oracle llm.Oracle, opts Options, logger *zap.Logger) *Engine {
	return &Engine{cache: c, oracle: oracle, opts: opts.withDefaults(), logger: logger}
}

// ChatSemantic answers a turn using semantic retrieval only. Semantic hits
// reinforce their RFM metadata.
func (e *Engine) ChatSemantic(ctx context.Context, userID, input string) (*TurnResult, error) {
	return e.chat(ctx, userID, input, "semantic", true, false)
}

// ChatRFM answers a turn using the top-RFM memories only. No side effects on
// the retrieved records.
func (e *Engine) ChatRFM(ctx context.Context, userID, input string) (*TurnResult, error) {
	return e.chat(ctx, userID, input, "rfm", false, true)
}

// ChatCombined answers a turn with both semantic and RFM blocks.
func (e *Engine) ChatCombined(ctx context.Context, userID, input string) (*TurnResult, error) {
	return e.chat(ctx, userID, input, "combined", true, true)
}

func (e *Engine) chat(ctx context.Context, userID, input, mode string, semantic, rfm bool) (*TurnResult, error) {
	res := &TurnResult{}
	fetchStart := time.Now()

	var (
		wg        sync.WaitGroup
		recent    []cache.ChatRecord
		semHits   []cache.KNNResult
		rfmHits   []cache.RFMResult
		recentErr error
		semErr    error
		rfmErr    error
		embedDur  time.Duration
	)

	// The three fetches are independent; the semantic leg chains the
	// embedding call before its KNN.
	wg.Add(1)
	go func() {
		defer wg.Done()
		recent, recentErr = e.cache.RecentChats(ctx, userID, e.opts.RecentM)
	}()

	if semantic {
		cutoff := e.opts.SemanticCutoff
		if rfm {
			cutoff = e.opts.CombinedCutoff
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			embedStart := time.Now()
			vec, err := e.oracle.Embed(ctx, input)
			embedDur = time.Since(embedStart)
			if err != nil {
				semErr = fmt.Errorf("embed query: %w", err)
				return
			}
			semHits, semErr = e.cache.KNN(ctx, userID, vec, cache.KNNOptions{
				K:            e.opts.TopK,
				Cutoff:       cutoff,
				BumpMetadata: true,
			})
		}()
	}

	if rfm {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rfmHits, rfmErr = e.cache.TopByRFM(ctx, userID, e.opts.TopK)
		}()
	}

	wg.Wait()
	for _, err := range []error{recentErr, semErr, rfmErr} {
		if err != nil {
			metrics.TurnsTotal.WithLabelValues(mode, "error").Inc()
			return nil, err
		}
	}

	res.FetchTime = time.Since(fetchStart).Seconds()
	res.EmbeddingTime = embedDur.Seconds()
	metrics.RetrievalFetchDuration.WithLabelValues(mode).Observe(res.FetchTime)

	now := time.Now().UTC()
	if semantic {
		res.Retrieved.Semantic = make([]RetrievedMemory, 0, len(semHits))
		for _, h := range semHits {
			res.Retrieved.Semantic = append(res.Retrieved.Semantic, RetrievedMemory{
				MemID: h.MemID, Text: h.MemoryText, Similarity: h.Similarity, LastUsed: h.LastUsed,
			})
		}
	}
	if rfm {
		res.Retrieved.RFM = make([]RetrievedMemory, 0, len(rfmHits))
		for _, h := range rfmHits {
			res.Retrieved.RFM = append(res.Retrieved.RFM, RetrievedMemory{
				MemID: h.MemID, Text: h.MemoryText, RFMScore: h.RFMScore,
			})
		}
	}

	prompt := answerPrompt(input, recent, res.Retrieved.Semantic, res.Retrieved.RFM, now)

	genStart := time.Now()
	answer, err := e.oracle.Generate(ctx, prompt)
	if err != nil {
		metrics.TurnsTotal.WithLabelValues(mode, "error").Inc()
		return nil, fmt.Errorf("generate answer: %w", err)
	}
	res.ResponseTime = time.Since(genStart).Seconds()
	res.Answer = answer

	metrics.TurnsTotal.WithLabelValues(mode, "ok").Inc()
	metrics.TurnDuration.WithLabelValues(mode).Observe(time.Since(fetchStart).Seconds())

	e.logger.Debug("Chat turn served",
		zap.String("user_id", userID),
		zap.String("mode", mode),
		zap.Int("semantic_hits", len(semHits)),
		zap.Int("rfm_hits", len(rfmHits)),
		zap.Int("recent_chats", len(recent)),
	)
	return res, nil
}

// LogMessage appends one exchange to the user's chat log in the cache.
func (e *Engine) LogMessage(ctx context.Context, userID, userMsg, botResp string) error {
	rec := cache.ChatRecord{
		UserID:      userID,
		UserMessage: userMsg,
		BotResponse: botResp,
		Timestamp:   time.Now().UTC(),
	}
	rec.ID = newID()
	return e.cache.StoreChat(ctx, userID, rec.ID, rec)
}
