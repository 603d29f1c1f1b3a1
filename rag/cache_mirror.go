package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/answerflow/internal/cache"
)

// DefaultMirrorPrefix 镜像键前缀
const DefaultMirrorPrefix = "answerflow:semcache:"

// RedisCacheMirror 基于 Redis 的语义缓存镜像
type RedisCacheMirror struct {
	store  *cache.Manager
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisCacheMirror 创建 Redis 镜像；ttl 与本地缓存 TTL 保持一致
func NewRedisCacheMirror(store *cache.Manager, prefix string, ttl time.Duration, logger *zap.Logger) *RedisCacheMirror {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prefix == "" {
		prefix = DefaultMirrorPrefix
	}
	return &RedisCacheMirror{
		store:  store,
		prefix: prefix,
		ttl:    ttl,
		logger: logger.With(zap.String("component", "cache_mirror")),
	}
}

// MirrorKey 返回归一化问题对应的 Redis 键
func (m *RedisCacheMirror) MirrorKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return m.prefix + hex.EncodeToString(sum[:])
}

// Publish 写入一条镜像条目
func (m *RedisCacheMirror) Publish(ctx context.Context, entry MirrorEntry) error {
	if entry.Key == "" {
		return fmt.Errorf("mirror entry has empty key")
	}
	ttl := m.ttl
	if ttl <= 0 {
		// 本地缓存不过期时镜像保留一年
		ttl = 365 * 24 * time.Hour
	}
	return m.store.SetJSON(ctx, m.MirrorKey(entry.Key), entry, ttl)
}

// Fetch 按归一化问题读取单条镜像条目；键不存在时 found 为 false
func (m *RedisCacheMirror) Fetch(ctx context.Context, key string) (MirrorEntry, bool, error) {
	var e MirrorEntry
	if err := m.store.GetJSON(ctx, m.MirrorKey(key), &e); err != nil {
		if cache.IsCacheMiss(err) {
			return MirrorEntry{}, false, nil
		}
		return MirrorEntry{}, false, err
	}
	return e, true, nil
}

// MirrorStats 镜像侧统计：本前缀下的条目数与 Redis 服务端计数
type MirrorStats struct {
	Entries int          `json:"entries"`
	Redis   *cache.Stats `json:"redis,omitempty"`
}

// Stats 统计镜像条目；INFO 不可用时只返回条目数
func (m *RedisCacheMirror) Stats(ctx context.Context) (*MirrorStats, error) {
	keys, err := m.store.ScanPrefix(ctx, m.prefix, 200)
	if err != nil {
		return nil, err
	}
	stats := &MirrorStats{Entries: len(keys)}
	redisStats, err := m.store.GetStats(ctx)
	if err != nil {
		if errors.Is(err, cache.ErrClosed) {
			return nil, err
		}
		m.logger.Debug("redis info unavailable", zap.Error(err))
		return stats, nil
	}
	stats.Redis = redisStats
	return stats, nil
}

// Load 读取前缀下的全部镜像条目，损坏条目跳过
func (m *RedisCacheMirror) Load(ctx context.Context) ([]MirrorEntry, error) {
	keys, err := m.store.ScanPrefix(ctx, m.prefix, 200)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}

	values, found, err := m.store.MGet(ctx, keys...)
	if err != nil {
		return nil, err
	}

	entries := make([]MirrorEntry, 0, len(keys))
	for i, raw := range values {
		if !found[i] {
			continue
		}
		var e MirrorEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			m.logger.Warn("corrupt mirror entry", zap.String("redis_key", keys[i]), zap.Error(err))
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}
