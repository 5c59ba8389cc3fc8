package session

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/abrasive519mars/mem0-async-chatbot/internal/cache"
	"github.com/abrasive519mars/mem0-async-chatbot/internal/store"
)

func newTestController(t *testing.T) (*Controller, *cache.Client, sqlmock.Sqlmock) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	cacheClient := cache.NewClientFromRedis(rdb, zap.NewNop())

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	storeClient := store.NewClientFromDB(sqlx.NewDb(db, "sqlmock"), zap.NewNop())

	return NewController(cacheClient, storeClient, zap.NewNop()), cacheClient, mock
}

func fullVector() []float32 {
	v := make([]float32, cache.EmbeddingDim)
	for i := range v {
		v[i] = float32(i) * 0.01
	}
	return v
}

func embeddingJSON(t *testing.T, v []float32) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}

func TestLoginWarmLoadsCache(t *testing.T) {
	ctrl, cacheClient, mock := newTestController(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	vec := fullVector()

	mock.ExpectQuery(`FROM persona_category`).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "user_id", "memory_text", "embedding", "magnitude", "frequency", "last_used", "rfm_score", "created_at",
		}).AddRow("m1", "u1", "User is learning piano", embeddingJSON(t, vec), 4.0, 2, now, 3.9, now))
	mock.ExpectQuery(`FROM chat_message_logs`).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "user_id", "user_message", "bot_response", "timestamp",
		}).AddRow("c1", "u1", "hi", "hello", now))

	res, err := ctrl.Login(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.MemoriesLoaded)
	assert.Equal(t, 1, res.ChatsLoaded)

	got, err := cacheClient.GetMemory(ctx, "u1", "m1")
	require.NoError(t, err)
	assert.Equal(t, "User is learning piano", got.MemoryText)
	assert.Equal(t, vec, got.Embedding, "JSON embedding is normalized to float32 exactly")
	assert.Equal(t, 2, got.Frequency)

	chats, err := cacheClient.AllChats(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, chats, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoginSkipsBadEmbedding(t *testing.T) {
	ctrl, cacheClient, mock := newTestController(t)
	ctx := context.Background()
	now := time.Now().UTC()

	mock.ExpectQuery(`FROM persona_category`).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "user_id", "memory_text", "embedding", "magnitude", "frequency", "last_used", "rfm_score", "created_at",
		}).
			AddRow("bad", "u1", "corrupted", "[not valid json", 3.0, 1, now, 2.5, now).
			AddRow("good", "u1", "User is learning piano", embeddingJSON(t, fullVector()), 3.0, 1, now, 2.5, now))
	mock.ExpectQuery(`FROM chat_message_logs`).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "user_message", "bot_response", "timestamp"}))

	res, err := ctrl.Login(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.MemoriesLoaded, "the corrupt row is skipped, not fatal")

	_, err = cacheClient.GetMemory(ctx, "u1", "bad")
	assert.ErrorIs(t, err, cache.ErrNotFound)
}

func TestLogoutSyncsAndPurges(t *testing.T) {
	ctrl, cacheClient, mock := newTestController(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, cacheClient.StoreMemory(ctx, "u1", "m1", cache.MemoryRecord{
		ID: "m1", UserID: "u1", MemoryText: "User is learning piano",
		Embedding: fullVector(), Magnitude: 4, Frequency: 2,
		LastUsed: now, CreatedAt: now, RFMScore: 3.9,
	}))
	require.NoError(t, cacheClient.StoreChat(ctx, "u1", "c1", cache.ChatRecord{
		ID: "c1", UserID: "u1", UserMessage: "hi", BotResponse: "hello", Timestamp: now,
	}))

	mock.ExpectExec(`INSERT INTO persona_category`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO chat_message_logs`).WillReturnResult(sqlmock.NewResult(0, 1))

	res, err := ctrl.Logout(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.MemoriesSynced)
	assert.Equal(t, 1, res.ChatsSynced)

	mems, err := cacheClient.AllMemories(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, mems, "logout purges the cache namespace")

	chats, err := cacheClient.AllChats(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, chats)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLogoutDropsInvalidRecords(t *testing.T) {
	ctrl, cacheClient, mock := newTestController(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, cacheClient.StoreMemory(ctx, "u1", "ok", cache.MemoryRecord{
		ID: "ok", UserID: "u1", MemoryText: "User is learning piano",
		Embedding: fullVector(), Magnitude: 4, Frequency: 2,
		LastUsed: now, CreatedAt: now, RFMScore: 3.9,
	}))
	// Truncated embedding: fails the dimension check at logout.
	require.NoError(t, cacheClient.StoreMemory(ctx, "u1", "short", cache.MemoryRecord{
		ID: "short", UserID: "u1", MemoryText: "half a thought",
		Embedding: []float32{0.1, 0.2}, Magnitude: 3, Frequency: 1,
		LastUsed: now, CreatedAt: now, RFMScore: 2.5,
	}))

	mock.ExpectExec(`INSERT INTO persona_category`).WillReturnResult(sqlmock.NewResult(0, 1))

	res, err := ctrl.Logout(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.MemoriesSynced, "only the valid record reaches the store")
	assert.Equal(t, 0, res.ChatsSynced)

	// The invalid record is still purged with the namespace.
	mems, err := cacheClient.AllMemories(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, mems)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLogoutStoreFailureKeepsCache(t *testing.T) {
	ctrl, cacheClient, mock := newTestController(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, cacheClient.StoreMemory(ctx, "u1", "m1", cache.MemoryRecord{
		ID: "m1", UserID: "u1", MemoryText: "User is learning piano",
		Embedding: fullVector(), Magnitude: 4, Frequency: 2,
		LastUsed: now, CreatedAt: now, RFMScore: 3.9,
	}))

	mock.ExpectExec(`INSERT INTO persona_category`).WillReturnError(fmt.Errorf("store down"))

	_, err := ctrl.Logout(ctx, "u1")
	assert.Error(t, err)

	// Sync failed, so the purge never ran and nothing was lost.
	mems, err := cacheClient.AllMemories(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, mems, 1)
}

func TestValidateMemory(t *testing.T) {
	now := time.Now().UTC()
	valid := cache.MemoryRecord{
		ID: "m1", UserID: "u1", MemoryText: "fact",
		Embedding: fullVector(), Magnitude: 3, Frequency: 1,
		LastUsed: now, CreatedAt: now, RFMScore: 2.5,
	}
	assert.NoError(t, validateMemory(valid))

	cases := map[string]func(*cache.MemoryRecord){
		"missing id":        func(r *cache.MemoryRecord) { r.ID = "" },
		"missing user":      func(r *cache.MemoryRecord) { r.UserID = "" },
		"empty text":        func(r *cache.MemoryRecord) { r.MemoryText = "" },
		"wrong dim":         func(r *cache.MemoryRecord) { r.Embedding = []float32{1} },
		"magnitude high":    func(r *cache.MemoryRecord) { r.Magnitude = 5.5 },
		"magnitude low":     func(r *cache.MemoryRecord) { r.Magnitude = -1 },
		"zero frequency":    func(r *cache.MemoryRecord) { r.Frequency = 0 },
		"missing last_used": func(r *cache.MemoryRecord) { r.LastUsed = time.Time{} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			rec := valid
			mutate(&rec)
			assert.Error(t, validateMemory(rec))
		})
	}
}

func TestValidateChat(t *testing.T) {
	valid := cache.ChatRecord{ID: "c1", UserID: "u1", UserMessage: "hi", BotResponse: "hello", Timestamp: time.Now().UTC()}
	assert.NoError(t, validateChat(valid))

	noID := valid
	noID.ID = ""
	assert.Error(t, validateChat(noID))

	noTS := valid
	noTS.Timestamp = time.Time{}
	assert.Error(t, validateChat(noTS))
}
