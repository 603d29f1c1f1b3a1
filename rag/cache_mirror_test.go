package rag

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/answerflow/internal/cache"
)

func setupMirror(t *testing.T, ttl time.Duration) (*miniredis.Miniredis, *RedisCacheMirror) {
	t.Helper()
	mr := miniredis.RunT(t)
	cfg := cache.DefaultConfig()
	cfg.Addr = mr.Addr()
	cfg.HealthCheckInterval = 0
	manager, err := cache.NewManager(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })
	return mr, NewRedisCacheMirror(manager, "", ttl, zap.NewNop())
}

func TestRedisCacheMirror_PublishAndLoad(t *testing.T) {
	mr, mirror := setupMirror(t, time.Hour)
	ctx := context.Background()

	entry := MirrorEntry{
		Key:       "who heads drama?",
		Question:  "Who heads Drama?",
		Embedding: []float64{0.1, 0.2},
		Answer:    answerOf("alice"),
		StoredAt:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	require.NoError(t, mirror.Publish(ctx, entry))

	redisKey := mirror.MirrorKey(entry.Key)
	assert.Contains(t, redisKey, DefaultMirrorPrefix)
	assert.True(t, mr.Exists(redisKey))
	assert.Equal(t, time.Hour, mr.TTL(redisKey))

	loaded, err := mirror.Load(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, entry.Key, loaded[0].Key)
	assert.Equal(t, entry.Embedding, loaded[0].Embedding)
	assert.Equal(t, "alice", loaded[0].Answer.Text)
	assert.True(t, entry.StoredAt.Equal(loaded[0].StoredAt))
}

func TestRedisCacheMirror_KeyIsStableHash(t *testing.T) {
	_, mirror := setupMirror(t, time.Hour)
	a := mirror.MirrorKey("q")
	assert.Equal(t, a, mirror.MirrorKey("q"))
	assert.NotEqual(t, a, mirror.MirrorKey("q2"))
	assert.Len(t, a, len(DefaultMirrorPrefix)+64)
}

func TestRedisCacheMirror_ZeroTTLKeepsEntry(t *testing.T) {
	mr, mirror := setupMirror(t, 0)
	require.NoError(t, mirror.Publish(context.Background(), MirrorEntry{Key: "k", Answer: answerOf("a")}))
	assert.Greater(t, mr.TTL(mirror.MirrorKey("k")), 24*time.Hour)
}

func TestRedisCacheMirror_EmptyKeyRejected(t *testing.T) {
	_, mirror := setupMirror(t, time.Hour)
	assert.Error(t, mirror.Publish(context.Background(), MirrorEntry{}))
}

func TestRedisCacheMirror_SkipsCorruptAndForeignKeys(t *testing.T) {
	mr, mirror := setupMirror(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, mirror.Publish(ctx, MirrorEntry{Key: "good", Answer: answerOf("g")}))
	require.NoError(t, mr.Set(DefaultMirrorPrefix+"broken", "{not json"))
	require.NoError(t, mr.Set("unrelated:key", `{"key":"x"}`))

	loaded, err := mirror.Load(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "good", loaded[0].Key)
}

func TestRedisCacheMirror_LoadEmpty(t *testing.T) {
	_, mirror := setupMirror(t, time.Hour)
	loaded, err := mirror.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestRedisCacheMirror_WarmsSecondCache(t *testing.T) {
	_, mirror := setupMirror(t, time.Hour)
	ctx := context.Background()

	first := newTestCache(nil, 10).WithMirror(mirror)
	require.NoError(t, first.Store(ctx, "Which regions does Kennedy cover?", []float64{0.6, 0.8}, answerOf("emea")))

	second := newTestCache(nil, 10).WithMirror(mirror)
	n, err := second.Warm(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	res, err := second.Lookup(ctx, "which regions does kennedy cover?")
	require.NoError(t, err)
	assert.Equal(t, CacheHitExact, res.Status)
	assert.Equal(t, "emea", res.Answer.Text)
}

func TestRedisCacheMirror_UnavailableRedis(t *testing.T) {
	mr, mirror := setupMirror(t, time.Hour)
	mr.Close()

	c := newTestCache(nil, 10).WithMirror(mirror)
	require.NoError(t, c.Store(context.Background(), "q", nil, answerOf("a")))
	_, err := c.Warm(context.Background())
	assert.Error(t, err)
}

func TestRedisCacheMirror_Fetch(t *testing.T) {
	_, mirror := setupMirror(t, time.Hour)
	ctx := context.Background()

	_, found, err := mirror.Fetch(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, mirror.Publish(ctx, MirrorEntry{Key: "who heads drama?", Answer: answerOf("alice"), HitCount: 3}))
	e, found, err := mirror.Fetch(ctx, "who heads drama?")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "alice", e.Answer.Text)
	assert.Equal(t, int64(3), e.HitCount)
}

func TestRedisCacheMirror_LookupReadsThroughPeerEntries(t *testing.T) {
	_, mirror := setupMirror(t, time.Hour)
	ctx := context.Background()

	first := newTestCache(nil, 10).WithMirror(mirror)
	second := newTestCache(nil, 10).WithMirror(mirror)

	res, err := second.Lookup(ctx, "Who covers EMEA?")
	require.NoError(t, err)
	assert.Equal(t, CacheMiss, res.Status)

	require.NoError(t, first.Store(ctx, "Who covers EMEA?", nil, answerOf("kennedy")))

	res, err = second.Lookup(ctx, "who covers emea?")
	require.NoError(t, err)
	assert.Equal(t, CacheHitExact, res.Status)
	assert.Equal(t, "kennedy", res.Answer.Text)
	assert.Equal(t, 1, second.Len())

	stats := second.Stats()
	assert.Equal(t, int64(1), stats.ExactHits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestRedisCacheMirror_FetchFailureIsMiss(t *testing.T) {
	mr, mirror := setupMirror(t, time.Hour)
	mr.Close()

	c := newTestCache(nil, 10).WithMirror(mirror)
	res, err := c.Lookup(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, CacheMiss, res.Status)
}

func TestRedisCacheMirror_Stats(t *testing.T) {
	mr, mirror := setupMirror(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, mirror.Publish(ctx, MirrorEntry{Key: "a", Answer: answerOf("a")}))
	require.NoError(t, mirror.Publish(ctx, MirrorEntry{Key: "b", Answer: answerOf("b")}))
	require.NoError(t, mr.Set("unrelated:key", "x"))

	stats, err := mirror.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Entries)
}
