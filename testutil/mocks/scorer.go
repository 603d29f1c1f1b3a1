package mocks

import (
	"context"
	"strings"
	"sync"
)

// MockScorer 是 rerank.Scorer 的模拟实现。
// 默认分数为文档中出现的查询词数量，可注入自定义函数或错误。
type MockScorer struct {
	mu      sync.RWMutex
	err     error
	scoreFn func(query, doc string) float64
	short   bool
	batches []int
}

// NewMockScorer 创建 MockScorer
func NewMockScorer() *MockScorer {
	return &MockScorer{}
}

// WithError 设置返回错误
func (m *MockScorer) WithError(err error) *MockScorer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithScoreFunc 设置打分函数
func (m *MockScorer) WithScoreFunc(fn func(query, doc string) float64) *MockScorer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scoreFn = fn
	return m
}

// WithShortResponse 返回比输入少一个的分数
func (m *MockScorer) WithShortResponse() *MockScorer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.short = true
	return m
}

// Score 实现 rerank.Scorer
func (m *MockScorer) Score(ctx context.Context, query string, docs []string) ([]float64, error) {
	m.mu.Lock()
	m.batches = append(m.batches, len(docs))
	err, fn, short := m.err, m.scoreFn, m.short
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	if fn == nil {
		fn = overlapScore
	}
	scores := make([]float64, len(docs))
	for i, d := range docs {
		scores[i] = fn(query, d)
	}
	if short && len(scores) > 0 {
		scores = scores[:len(scores)-1]
	}
	return scores, nil
}

// BatchSizes 返回每次调用的批大小
func (m *MockScorer) BatchSizes() []int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]int(nil), m.batches...)
}

func overlapScore(query, doc string) float64 {
	doc = strings.ToLower(doc)
	var n float64
	for _, w := range strings.Fields(strings.ToLower(query)) {
		if strings.Contains(doc, w) {
			n++
		}
	}
	return n
}
