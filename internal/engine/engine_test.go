package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/abrasive519mars/mem0-async-chatbot/internal/cache"
)

// stubOracle routes each prompt family to a canned reply, so the decision
// machine can be driven deterministically.
type stubOracle struct {
	mu       sync.Mutex
	decision string
	merged   string
	mag      string
	extract  string
	summary  string
	answer   string
	embeds   map[string][]float32
	embedErr error
	prompts  []string
}

func (s *stubOracle) Generate(_ context.Context, prompt string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, prompt)
	switch {
	case strings.Contains(prompt, "memory manager"):
		return s.decision, nil
	case strings.Contains(prompt, "consolidating two memories"):
		return s.merged, nil
	case strings.Contains(prompt, "Only output a single number"):
		return s.mag, nil
	case strings.Contains(prompt, "memory extraction engine"):
		return s.extract, nil
	case strings.Contains(prompt, "memory summarizer"):
		return s.summary, nil
	default:
		return s.answer, nil
	}
}

func (s *stubOracle) Embed(_ context.Context, text string) ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.embedErr != nil {
		return nil, s.embedErr
	}
	if v, ok := s.embeds[text]; ok {
		return v, nil
	}
	return axisVec(0), nil
}

func axisVec(axis int) []float32 {
	v := make([]float32, cache.EmbeddingDim)
	v[axis] = 1
	return v
}

func newTestEngine(t *testing.T, oracle *stubOracle, opts Options) (*Engine, *cache.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	c := cache.NewClientFromRedis(rdb, zap.NewNop())
	return New(c, oracle, opts, zap.NewNop()), c
}

func seedMemory(t *testing.T, c *cache.Client, userID, memID, text string, emb []float32) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, c.StoreMemory(context.Background(), userID, memID, cache.MemoryRecord{
		ID:         memID,
		UserID:     userID,
		MemoryText: text,
		Embedding:  emb,
		Magnitude:  3,
		Frequency:  1,
		LastUsed:   now,
		CreatedAt:  now,
		RFMScore:   2.5,
	}))
}

func TestUpdateUserMemoryAddWhenNothingSimilar(t *testing.T) {
	oracle := &stubOracle{mag: "4"}
	eng, c := newTestEngine(t, oracle, Options{})
	ctx := context.Background()

	outcome, err := eng.UpdateUserMemory(ctx, "u1", "User is learning piano")
	require.NoError(t, err)
	assert.Equal(t, OutcomeAdd, outcome)

	mems, err := c.AllMemories(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, mems, 1)
	assert.Equal(t, "User is learning piano", mems[0].MemoryText)
	assert.Equal(t, axisVec(0), mems[0].Embedding)
	assert.Equal(t, 1, mems[0].Frequency)
	assert.Equal(t, 4.0, mems[0].Magnitude)
	// recency 5 * 0.3 + freq 1 * 0.2 + magnitude 4 * 0.5
	assert.InDelta(t, 3.7, mems[0].RFMScore, 1e-9)
}

func TestUpdateUserMemoryMerge(t *testing.T) {
	mergedText := "User is learning piano and practices every Tuesday"
	oracle := &stubOracle{
		decision: "merge: 1",
		merged:   mergedText,
		mag:      "5",
		embeds: map[string][]float32{
			"User practices piano every Tuesday": axisVec(0),
			mergedText:                           axisVec(1),
		},
	}
	eng, c := newTestEngine(t, oracle, Options{})
	ctx := context.Background()

	seedMemory(t, c, "u1", "m1", "User is learning piano", axisVec(0))

	outcome, err := eng.UpdateUserMemory(ctx, "u1", "User practices piano every Tuesday")
	require.NoError(t, err)
	assert.Equal(t, OutcomeMerge, outcome)

	mems, err := c.AllMemories(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, mems, 1, "merge keeps the record count")

	got := mems[0]
	assert.Equal(t, "m1", got.ID, "merge keeps the identity")
	assert.Equal(t, mergedText, got.MemoryText)
	assert.Equal(t, axisVec(1), got.Embedding, "merged text is re-embedded")
	assert.Equal(t, 2, got.Frequency)
	assert.Equal(t, 5.0, got.Magnitude)
}

func TestUpdateUserMemoryOverride(t *testing.T) {
	oracle := &stubOracle{
		decision: "override: 1",
		mag:      "4",
		embeds: map[string][]float32{
			"User has stopped playing piano": axisVec(0),
		},
	}
	eng, c := newTestEngine(t, oracle, Options{})
	ctx := context.Background()

	seedMemory(t, c, "u1", "m1", "User is learning piano", axisVec(0))

	outcome, err := eng.UpdateUserMemory(ctx, "u1", "User has stopped playing piano")
	require.NoError(t, err)
	assert.Equal(t, OutcomeOverride, outcome)

	got, err := c.GetMemory(ctx, "u1", "m1")
	require.NoError(t, err)
	assert.Equal(t, "User has stopped playing piano", got.MemoryText)
	assert.Equal(t, axisVec(0), got.Embedding, "override carries the candidate embedding verbatim")
	assert.Equal(t, 2, got.Frequency)
}

func TestUpdateUserMemoryNone(t *testing.T) {
	oracle := &stubOracle{decision: "none"}
	eng, c := newTestEngine(t, oracle, Options{})
	ctx := context.Background()

	seedMemory(t, c, "u1", "m1", "User is learning piano", axisVec(0))

	outcome, err := eng.UpdateUserMemory(ctx, "u1", "User is learning piano")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNone, outcome)

	got, err := c.GetMemory(ctx, "u1", "m1")
	require.NoError(t, err)
	assert.Equal(t, "User is learning piano", got.MemoryText)
	assert.Equal(t, 1, got.Frequency)
}

func TestUpdateUserMemoryInvalidDecisionIsNoOp(t *testing.T) {
	for _, decision := range []string{
		"merge memories 1 and 2",
		"merge: 9",
		"override:",
		"delete: 1",
		"I think we should add this",
	} {
		t.Run(decision, func(t *testing.T) {
			oracle := &stubOracle{decision: decision}
			eng, c := newTestEngine(t, oracle, Options{})
			ctx := context.Background()

			seedMemory(t, c, "u1", "m1", "User is learning piano", axisVec(0))

			outcome, err := eng.UpdateUserMemory(ctx, "u1", "User is learning piano")
			require.NoError(t, err)
			assert.Equal(t, OutcomeNone, outcome)

			mems, err := c.AllMemories(ctx, "u1")
			require.NoError(t, err)
			require.Len(t, mems, 1)
			assert.Equal(t, 1, mems[0].Frequency)
		})
	}
}

func TestUpdateUserMemoryDecisionReadDoesNotBump(t *testing.T) {
	oracle := &stubOracle{decision: "none"}
	eng, c := newTestEngine(t, oracle, Options{})
	ctx := context.Background()

	seedMemory(t, c, "u1", "m1", "User is learning piano", axisVec(0))

	_, err := eng.UpdateUserMemory(ctx, "u1", "User is learning piano")
	require.NoError(t, err)

	got, err := c.GetMemory(ctx, "u1", "m1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Frequency, "the write-path similarity read must not reinforce")
}

func TestUpdateUserMemoryEmbedError(t *testing.T) {
	oracle := &stubOracle{embedErr: errors.New("quota exceeded")}
	eng, _ := newTestEngine(t, oracle, Options{})

	_, err := eng.UpdateUserMemory(context.Background(), "u1", "anything")
	assert.Error(t, err)
}

func TestSequentialCandidatesSeeEarlierWrites(t *testing.T) {
	// Both candidates embed onto the same axis, so after the first is added
	// the second finds it as a reconciliation target.
	oracle := &stubOracle{
		decision: "merge: 1",
		merged:   "User is learning piano and owns a keyboard",
		mag:      "4",
	}
	eng, c := newTestEngine(t, oracle, Options{})
	ctx := context.Background()

	out1, err := eng.UpdateUserMemory(ctx, "u1", "User is learning piano")
	require.NoError(t, err)
	assert.Equal(t, OutcomeAdd, out1)

	out2, err := eng.UpdateUserMemory(ctx, "u1", "User owns a keyboard")
	require.NoError(t, err)
	assert.Equal(t, OutcomeMerge, out2)

	mems, err := c.AllMemories(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, mems, 1)
	assert.Equal(t, "User is learning piano and owns a keyboard", mems[0].MemoryText)
	assert.Equal(t, 2, mems[0].Frequency)
}

func TestParseDecision(t *testing.T) {
	cases := []struct {
		raw     string
		n       int
		verb    string
		indices []int
		ok      bool
	}{
		{"add", 3, OutcomeAdd, nil, true},
		{"'add'", 3, OutcomeAdd, nil, true},
		{"  None.  ", 3, OutcomeNone, nil, true},
		{"merge: 1", 3, OutcomeMerge, []int{1}, true},
		{"merge: 1, 3", 3, OutcomeMerge, []int{1, 3}, true},
		{"Override: 2", 3, OutcomeOverride, []int{2}, true},
		{"merge: 0", 3, "", nil, false},
		{"merge: 4", 3, "", nil, false},
		{"merge:", 3, "", nil, false},
		{"merge: one", 3, "", nil, false},
		{"replace: 1", 3, "", nil, false},
		{"sure, add it", 3, "", nil, false},
	}
	for _, tc := range cases {
		verb, indices, ok := parseDecision(tc.raw, tc.n)
		assert.Equal(t, tc.ok, ok, "raw=%q", tc.raw)
		if tc.ok {
			assert.Equal(t, tc.verb, verb, "raw=%q", tc.raw)
			assert.Equal(t, tc.indices, indices, "raw=%q", tc.raw)
		}
	}
}

func TestParseCandidates(t *testing.T) {
	assert.Nil(t, parseCandidates("None"))
	assert.Nil(t, parseCandidates("  none  "))
	assert.Nil(t, parseCandidates(""))

	got := parseCandidates("- User is learning piano\n* User lives in Berlin")
	assert.Equal(t, []string{"User is learning piano", "User lives in Berlin"}, got)

	// Capped at two even when the oracle rambles.
	got = parseCandidates("- one\n- two\n- three")
	assert.Equal(t, []string{"one", "two"}, got)

	// Blank lines and stray "None" lines are dropped.
	got = parseCandidates("\n- User enjoys hiking\n\nNone\n")
	assert.Equal(t, []string{"User enjoys hiking"}, got)
}

func TestGenerateCandidates(t *testing.T) {
	oracle := &stubOracle{
		extract: "- User is learning piano\n- User lives in Berlin",
		summary: "A pianist in Berlin.",
	}
	eng, c := newTestEngine(t, oracle, Options{})
	ctx := context.Background()

	require.NoError(t, c.StoreChat(ctx, "u1", "c1", cache.ChatRecord{
		ID: "c1", UserID: "u1", UserMessage: "hi", BotResponse: "hello", Timestamp: time.Now().UTC(),
	}))

	got, err := eng.GenerateCandidates(ctx, "u1", "I moved to Berlin", "Nice!")
	require.NoError(t, err)
	assert.Equal(t, []string{"User is learning piano", "User lives in Berlin"}, got)
}

func TestGenerateCandidatesNone(t *testing.T) {
	oracle := &stubOracle{extract: "None"}
	eng, _ := newTestEngine(t, oracle, Options{})

	got, err := eng.GenerateCandidates(context.Background(), "u1", "hi", "hello")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestChatSemanticBumpsRetrieved(t *testing.T) {
	oracle := &stubOracle{answer: "You mentioned piano before."}
	eng, c := newTestEngine(t, oracle, Options{TopK: 3})
	ctx := context.Background()

	seedMemory(t, c, "u1", "m1", "User is learning piano", axisVec(0))

	res, err := eng.ChatSemantic(ctx, "u1", "what instrument do I play?")
	require.NoError(t, err)
	assert.Equal(t, "You mentioned piano before.", res.Answer)
	require.Len(t, res.Retrieved.Semantic, 1)
	assert.Equal(t, "m1", res.Retrieved.Semantic[0].MemID)
	assert.Nil(t, res.Retrieved.RFM)

	got, err := c.GetMemory(ctx, "u1", "m1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Frequency, "semantic retrieval reinforces")
}

func TestChatRFMHasNoSideEffects(t *testing.T) {
	oracle := &stubOracle{answer: "ok"}
	eng, c := newTestEngine(t, oracle, Options{TopK: 3})
	ctx := context.Background()

	seedMemory(t, c, "u1", "m1", "User is learning piano", axisVec(0))

	res, err := eng.ChatRFM(ctx, "u1", "hello")
	require.NoError(t, err)
	require.Len(t, res.Retrieved.RFM, 1)
	assert.Nil(t, res.Retrieved.Semantic)

	got, err := c.GetMemory(ctx, "u1", "m1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Frequency, "RFM retrieval must not reinforce")
}

func TestChatCombinedReturnsBothBlocks(t *testing.T) {
	oracle := &stubOracle{answer: "ok"}
	eng, c := newTestEngine(t, oracle, Options{TopK: 3})
	ctx := context.Background()

	seedMemory(t, c, "u1", "m1", "User is learning piano", axisVec(0))

	res, err := eng.ChatCombined(ctx, "u1", "hello")
	require.NoError(t, err)
	assert.NotNil(t, res.Retrieved.Semantic)
	assert.NotNil(t, res.Retrieved.RFM)
	assert.GreaterOrEqual(t, res.FetchTime, 0.0)
	assert.GreaterOrEqual(t, res.ResponseTime, 0.0)
}

func TestChatEmptyUserStillAnswers(t *testing.T) {
	oracle := &stubOracle{answer: "Hello! I don't know you yet."}
	eng, _ := newTestEngine(t, oracle, Options{})

	res, err := eng.ChatCombined(context.Background(), "fresh", "hi")
	require.NoError(t, err)
	assert.Equal(t, "Hello! I don't know you yet.", res.Answer)
	assert.NotNil(t, res.Retrieved.Semantic)
	assert.Empty(t, res.Retrieved.Semantic)
	assert.Empty(t, res.Retrieved.RFM)
}

func TestLogMessage(t *testing.T) {
	oracle := &stubOracle{}
	eng, c := newTestEngine(t, oracle, Options{})
	ctx := context.Background()

	require.NoError(t, eng.LogMessage(ctx, "u1", "hi", "hello"))

	chats, err := c.AllChats(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, chats, 1)
	assert.NotEmpty(t, chats[0].ID)
	assert.Equal(t, "hi", chats[0].UserMessage)
	assert.Equal(t, "hello", chats[0].BotResponse)
	assert.False(t, chats[0].Timestamp.IsZero())
}
