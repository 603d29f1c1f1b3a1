package mocks

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"time"
)

// MockEmbedder 是 embedding.Embedder 的模拟实现。
// 未登记的文本按词袋哈希生成确定性向量：词集合相同的文本向量相同。
type MockEmbedder struct {
	mu      sync.RWMutex
	dim     int
	vectors map[string][]float64
	err     error
	delay   time.Duration
	calls   int
	batches []int
}

// NewMockEmbedder 创建指定维度的 MockEmbedder
func NewMockEmbedder(dim int) *MockEmbedder {
	if dim <= 0 {
		dim = 8
	}
	return &MockEmbedder{dim: dim, vectors: make(map[string][]float64)}
}

// WithVector 为文本登记固定向量
func (m *MockEmbedder) WithVector(text string, vec []float64) *MockEmbedder {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vectors[text] = vec
	return m
}

// WithError 设置返回错误
func (m *MockEmbedder) WithError(err error) *MockEmbedder {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithDelay 设置延迟，延迟期间尊重 ctx 取消
func (m *MockEmbedder) WithDelay(d time.Duration) *MockEmbedder {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// EmbedQuery 嵌入单个文本
func (m *MockEmbedder) EmbedQuery(ctx context.Context, text string) ([]float64, error) {
	vecs, err := m.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedDocuments 嵌入多个文本
func (m *MockEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float64, error) {
	m.mu.Lock()
	m.calls++
	m.batches = append(m.batches, len(texts))
	delay, err := m.delay, m.err
	m.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([][]float64, len(texts))
	for i, text := range texts {
		if v, ok := m.vectors[text]; ok {
			out[i] = append([]float64(nil), v...)
			continue
		}
		out[i] = BagOfWordsVector(text, m.dim)
	}
	return out, nil
}

// CallCount 返回调用次数
func (m *MockEmbedder) CallCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls
}

// BatchSizes 返回每次调用的批大小
func (m *MockEmbedder) BatchSizes() []int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]int(nil), m.batches...)
}

// BagOfWordsVector 按小写词哈希累加并归一化的确定性向量
func BagOfWordsVector(text string, dim int) []float64 {
	vec := make([]float64, dim)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(strings.Trim(word, ".,?!;:\"'")))
		vec[int(h.Sum32())%dim] += 1
	}
	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}
