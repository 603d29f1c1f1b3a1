package embedding

import (
	"context"
	"fmt"
	"sort"

	"github.com/BaSui01/answerflow/llm"
)

// BaseProvider 为嵌入提供者提供公共功能.
type BaseProvider struct {
	http       *llm.HTTPClient
	model      string
	dimensions int
	maxBatch   int
}

// BaseConfig 持有基础提供者的公共配置.
type BaseConfig struct {
	HTTP       llm.HTTPConfig
	Model      string
	Dimensions int
	MaxBatch   int
}

// NewBaseProvider 创建基础提供者.
func NewBaseProvider(cfg BaseConfig) *BaseProvider {
	maxBatch := cfg.MaxBatch
	if maxBatch == 0 {
		maxBatch = 100
	}
	return &BaseProvider{
		http:       llm.NewHTTPClient(cfg.HTTP),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		maxBatch:   maxBatch,
	}
}

func (p *BaseProvider) Name() string      { return p.http.Name() }
func (p *BaseProvider) Dimensions() int   { return p.dimensions }
func (p *BaseProvider) MaxBatchSize() int { return p.maxBatch }

// EmbedQuery 嵌入单个查询字符串.
func (p *BaseProvider) EmbedQuery(ctx context.Context, query string, embedFn func(context.Context, *EmbeddingRequest) (*EmbeddingResponse, error)) ([]float64, error) {
	resp, err := embedFn(ctx, &EmbeddingRequest{
		Input:     []string{query},
		InputType: InputTypeQuery,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("no embeddings returned")
	}
	return resp.Embeddings[0].Embedding, nil
}

// EmbedDocuments 按 MaxBatchSize 分批嵌入多个文档，结果与输入顺序一致.
func (p *BaseProvider) EmbedDocuments(ctx context.Context, documents []string, embedFn func(context.Context, *EmbeddingRequest) (*EmbeddingResponse, error)) ([][]float64, error) {
	result := make([][]float64, 0, len(documents))
	for start := 0; start < len(documents); start += p.maxBatch {
		end := min(start+p.maxBatch, len(documents))
		resp, err := embedFn(ctx, &EmbeddingRequest{
			Input:     documents[start:end],
			InputType: InputTypeDocument,
		})
		if err != nil {
			return nil, err
		}
		if len(resp.Embeddings) != end-start {
			return nil, fmt.Errorf("%s returned %d embeddings for %d inputs", p.Name(), len(resp.Embeddings), end-start)
		}
		data := append([]EmbeddingData(nil), resp.Embeddings...)
		sort.SliceStable(data, func(i, j int) bool { return data[i].Index < data[j].Index })
		for _, emb := range data {
			result = append(result, emb.Embedding)
		}
	}
	return result, nil
}

// ChooseModel 从请求或默认值中选择模型.
func ChooseModel(reqModel, defaultModel, fallback string) string {
	if reqModel != "" {
		return reqModel
	}
	if defaultModel != "" {
		return defaultModel
	}
	return fallback
}
