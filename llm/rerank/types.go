// Package rerank 提供统一的重排提供者接口和实现.
package rerank

import (
	"context"
	"time"
)

// RerankRequest 重排请求.
type RerankRequest struct {
	Query     string     `json:"query"`
	Documents []Document `json:"documents"`
	Model     string     `json:"model,omitempty"`
	TopN      int        `json:"top_n,omitempty"` // 0 表示返回全部
}

// Document 待重排文档.
type Document struct {
	Text string `json:"text"`
	ID   string `json:"id,omitempty"`
}

// RerankResponse 重排响应.
type RerankResponse struct {
	ID        string         `json:"id,omitempty"`
	Provider  string         `json:"provider"`
	Model     string         `json:"model"`
	Results   []RerankResult `json:"results"`
	Usage     RerankUsage    `json:"usage"`
	CreatedAt time.Time      `json:"created_at,omitempty"`
}

// RerankResult 单个文档的重排结果.
type RerankResult struct {
	Index          int      `json:"index"`           // 输入中的原始下标
	RelevanceScore float64  `json:"relevance_score"` // 0-1 归一化分数
	Document       Document `json:"document,omitempty"`
}

// RerankUsage 用量统计.
type RerankUsage struct {
	SearchUnits int `json:"search_units,omitempty"`
	TotalTokens int `json:"total_tokens,omitempty"`
}

// Scorer 对 (query, document) 对打分，返回与 documents 按下标对齐的分数.
type Scorer interface {
	Score(ctx context.Context, query string, documents []string) ([]float64, error)
}

// Provider 定义统一的重排提供者接口.
type Provider interface {
	Scorer

	// Rerank 根据查询相关性重排文档.
	Rerank(ctx context.Context, req *RerankRequest) (*RerankResponse, error)

	// Name 返回提供者名称.
	Name() string

	// MaxDocuments 返回单次请求支持的最大文档数.
	MaxDocuments() int
}
