package rerank

import "github.com/BaSui01/answerflow/llm"

// JinaProvider implements reranking using Jina AI's API.
type JinaProvider struct {
	httpProvider
}

// NewJinaProvider creates a new Jina reranker provider.
func NewJinaProvider(cfg Config) *JinaProvider {
	def := DefaultJinaConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}

	return &JinaProvider{httpProvider{
		http: llm.NewHTTPClient(llm.HTTPConfig{
			Name:    "jina-rerank",
			BaseURL: cfg.BaseURL,
			APIKey:  cfg.APIKey,
			Timeout: cfg.Timeout,
			Breaker: cfg.Breaker,
		}),
		endpoint: "/v1/rerank",
		model:    cfg.Model,
		maxDocs:  1024,
	}}
}
