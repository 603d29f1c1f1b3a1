package rerank

import (
	"context"
	"fmt"
	"time"

	"github.com/BaSui01/answerflow/llm"
)

// wireRequest Cohere v2 与 Jina v1 共用的请求体
type wireRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	Model     string   `json:"model"`
	TopN      int      `json:"top_n,omitempty"`
}

// wireResponse Cohere v2 与 Jina v1 共用的响应体
type wireResponse struct {
	ID      string `json:"id,omitempty"`
	Model   string `json:"model,omitempty"`
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
	Meta struct {
		BilledUnits struct {
			SearchUnits int `json:"search_units"`
		} `json:"billed_units"`
	} `json:"meta"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// httpProvider 基于 /rerank 风格接口的公共实现
type httpProvider struct {
	http     *llm.HTTPClient
	endpoint string
	model    string
	maxDocs  int
}

func (p *httpProvider) Name() string      { return p.http.Name() }
func (p *httpProvider) MaxDocuments() int { return p.maxDocs }

// Rerank 调用远端重排接口.
func (p *httpProvider) Rerank(ctx context.Context, req *RerankRequest) (*RerankResponse, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}
	if len(req.Documents) > p.maxDocs {
		return nil, fmt.Errorf("%s accepts at most %d documents, got %d", p.Name(), p.maxDocs, len(req.Documents))
	}

	docs := make([]string, len(req.Documents))
	for i, d := range req.Documents {
		docs[i] = d.Text
	}

	var wire wireResponse
	if err := p.http.PostJSON(ctx, p.endpoint, wireRequest{
		Query:     req.Query,
		Documents: docs,
		Model:     model,
		TopN:      req.TopN,
	}, &wire); err != nil {
		return nil, err
	}

	results := make([]RerankResult, 0, len(wire.Results))
	for _, r := range wire.Results {
		if r.Index < 0 || r.Index >= len(req.Documents) {
			return nil, fmt.Errorf("%s returned out-of-range index %d", p.Name(), r.Index)
		}
		results = append(results, RerankResult{
			Index:          r.Index,
			RelevanceScore: r.RelevanceScore,
			Document:       req.Documents[r.Index],
		})
	}

	return &RerankResponse{
		ID:       wire.ID,
		Provider: p.Name(),
		Model:    model,
		Results:  results,
		Usage: RerankUsage{
			SearchUnits: wire.Meta.BilledUnits.SearchUnits,
			TotalTokens: wire.Usage.TotalTokens,
		},
		CreatedAt: time.Now(),
	}, nil
}

// Score 实现 Scorer：请求全部文档的分数并按输入下标还原
func (p *httpProvider) Score(ctx context.Context, query string, documents []string) ([]float64, error) {
	docs := make([]Document, len(documents))
	for i, d := range documents {
		docs[i] = Document{Text: d}
	}
	resp, err := p.Rerank(ctx, &RerankRequest{Query: query, Documents: docs, TopN: len(docs)})
	if err != nil {
		return nil, err
	}
	return ScoresByIndex(resp.Results, len(documents))
}

// ScoresByIndex 把按相关性排序的结果还原为按输入下标对齐的分数；
// 缺失或重复的下标视为错误.
func ScoresByIndex(results []RerankResult, n int) ([]float64, error) {
	if len(results) != n {
		return nil, fmt.Errorf("expected %d rerank scores, got %d", n, len(results))
	}
	scores := make([]float64, n)
	seen := make([]bool, n)
	for _, r := range results {
		if r.Index < 0 || r.Index >= n || seen[r.Index] {
			return nil, fmt.Errorf("invalid rerank index %d", r.Index)
		}
		seen[r.Index] = true
		scores[r.Index] = r.RelevanceScore
	}
	return scores, nil
}
