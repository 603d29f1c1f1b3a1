package rag

import (
	"math"
	"strings"
	"unicode"
)

// Filters 结构化检索属性（如 region、role），同时约束向量检索与图查询
type Filters map[string]string

// Document 可检索文档
type Document struct {
	ID        string         `json:"id"`
	Title     string         `json:"title,omitempty"`
	Content   string         `json:"content"`
	Embedding []float64      `json:"embedding,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// VectorHit 向量检索命中
type VectorHit struct {
	Document Document `json:"document"`
	Score    float64  `json:"score"`
}

// 候选来源
const (
	SourceVector = "vector"
	SourceGraph  = "graph"
)

// Candidate 检索候选文档
type Candidate struct {
	DocumentID     string  `json:"document_id"`
	Title          string  `json:"title,omitempty"`
	Content        string  `json:"content"`
	BiEncoderScore float64 `json:"bi_encoder_score"`
	// CrossEncoderScore 仅在重排成功后设置
	CrossEncoderScore *float64       `json:"cross_encoder_score,omitempty"`
	Source            string         `json:"source"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}

// Score 返回排序使用的分数：优先交叉编码器分数
func (c Candidate) Score() float64 {
	if c.CrossEncoderScore != nil {
		return *c.CrossEncoderScore
	}
	return c.BiEncoderScore
}

// EntityRecord 图存储返回的实体
type EntityRecord struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Type        string         `json:"type"`
	Properties  map[string]any `json:"properties,omitempty"`
	DocumentIDs []string       `json:"document_ids,omitempty"`
	Summary     string         `json:"summary,omitempty"`
}

// SourceReference 答案引用的来源
type SourceReference struct {
	DocumentID string  `json:"document_id"`
	Title      string  `json:"title,omitempty"`
	Score      float64 `json:"score"`
}

// Answer 缓存与返回的答案载荷
type Answer struct {
	Text    string            `json:"text"`
	Sources []SourceReference `json:"sources,omitempty"`
	Tier    string            `json:"tier,omitempty"`
}

// Clone 深拷贝答案，避免调用方修改缓存内容
func (a *Answer) Clone() *Answer {
	if a == nil {
		return nil
	}
	out := *a
	out.Sources = append([]SourceReference(nil), a.Sources...)
	return &out
}

// NormalizeQuestion 小写、去首尾空白并把连续空白压缩为一个空格
func NormalizeQuestion(q string) string {
	return strings.Join(strings.FieldsFunc(strings.ToLower(q), unicode.IsSpace), " ")
}

// cosineSimilarity 计算余弦相似度；长度不同或零向量返回 0
func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
