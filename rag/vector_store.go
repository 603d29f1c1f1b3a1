package rag

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// VectorStore 向量检索能力
type VectorStore interface {
	// Search 返回与查询向量最相似的 topK 个文档，按分数降序；filters 为元数据等值约束
	Search(ctx context.Context, queryEmbedding []float64, topK int, filters Filters) ([]VectorHit, error)

	// Upsert 写入或覆盖文档（按 ID）
	Upsert(ctx context.Context, docs []Document) error

	// Delete 删除文档
	Delete(ctx context.Context, ids []string) error

	// Count 返回文档数量
	Count(ctx context.Context) (int, error)
}

// Clearable 支持清空的存储（可选接口）
//
//	if c, ok := store.(Clearable); ok { c.ClearAll(ctx) }
type Clearable interface {
	ClearAll(ctx context.Context) error
}

// MatchFilters 判断元数据是否满足全部等值约束
func MatchFilters(metadata map[string]any, filters Filters) bool {
	for k, want := range filters {
		v, ok := metadata[k]
		if !ok {
			return false
		}
		switch got := v.(type) {
		case string:
			if got != want {
				return false
			}
		case []string:
			if !containsString(got, want) {
				return false
			}
		case []any:
			found := false
			for _, item := range got {
				if fmt.Sprint(item) == want {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		default:
			if fmt.Sprint(got) != want {
				return false
			}
		}
	}
	return true
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

// ====== 内存向量存储（用于测试和开发）======

// InMemoryVectorStore 内存向量存储，余弦相似度线性扫描
type InMemoryVectorStore struct {
	mu        sync.RWMutex
	documents []Document
	index     map[string]int
	logger    *zap.Logger
}

// NewInMemoryVectorStore 创建内存向量存储
func NewInMemoryVectorStore(logger *zap.Logger) *InMemoryVectorStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InMemoryVectorStore{
		index:  make(map[string]int),
		logger: logger.With(zap.String("component", "memory_vector_store")),
	}
}

// Upsert 写入文档，已存在的 ID 原位覆盖
func (s *InMemoryVectorStore) Upsert(ctx context.Context, docs []Document) error {
	for _, doc := range docs {
		if doc.ID == "" {
			return fmt.Errorf("document without id")
		}
		if len(doc.Embedding) == 0 {
			return fmt.Errorf("document %s has no embedding", doc.ID)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, doc := range docs {
		doc.Embedding = append([]float64(nil), doc.Embedding...)
		if i, ok := s.index[doc.ID]; ok {
			s.documents[i] = doc
			continue
		}
		s.index[doc.ID] = len(s.documents)
		s.documents = append(s.documents, doc)
	}

	s.logger.Debug("documents upserted",
		zap.Int("count", len(docs)),
		zap.Int("total", len(s.documents)))
	return nil
}

// Search 搜索相似文档；同分按写入顺序
func (s *InMemoryVectorStore) Search(ctx context.Context, queryEmbedding []float64, topK int, filters Filters) ([]VectorHit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return []VectorHit{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	hits := make([]VectorHit, 0, len(s.documents))
	for _, doc := range s.documents {
		if len(doc.Embedding) != len(queryEmbedding) {
			continue
		}
		if !MatchFilters(doc.Metadata, filters) {
			continue
		}
		hits = append(hits, VectorHit{
			Document: doc,
			Score:    cosineSimilarity(queryEmbedding, doc.Embedding),
		})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Score > hits[j].Score
	})

	if topK < len(hits) {
		hits = hits[:topK]
	}
	return hits, nil
}

// Delete 删除文档
func (s *InMemoryVectorStore) Delete(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}

	kept := s.documents[:0]
	for _, doc := range s.documents {
		if !drop[doc.ID] {
			kept = append(kept, doc)
		}
	}
	deleted := len(s.documents) - len(kept)
	s.documents = kept
	s.reindexLocked()

	s.logger.Debug("documents deleted",
		zap.Int("deleted", deleted),
		zap.Int("remaining", len(s.documents)))
	return nil
}

// Count 返回文档数量
func (s *InMemoryVectorStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.documents), nil
}

// ClearAll 清空存储
func (s *InMemoryVectorStore) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.documents = nil
	s.index = make(map[string]int)
	return nil
}

func (s *InMemoryVectorStore) reindexLocked() {
	s.index = make(map[string]int, len(s.documents))
	for i, doc := range s.documents {
		s.index[doc.ID] = i
	}
}
