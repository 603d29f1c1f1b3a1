package rerank

import "github.com/BaSui01/answerflow/llm"

// CohereProvider 通过 Cohere Rerank v2 API 重排.
type CohereProvider struct {
	httpProvider
}

// NewCohereProvider 创建 Cohere 重排提供者.
func NewCohereProvider(cfg Config) *CohereProvider {
	def := DefaultCohereConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}

	return &CohereProvider{httpProvider{
		http: llm.NewHTTPClient(llm.HTTPConfig{
			Name:    "cohere-rerank",
			BaseURL: cfg.BaseURL,
			APIKey:  cfg.APIKey,
			Timeout: cfg.Timeout,
			Breaker: cfg.Breaker,
		}),
		endpoint: "/v2/rerank",
		model:    cfg.Model,
		maxDocs:  1000,
	}}
}
