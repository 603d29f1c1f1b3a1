package rerank

import (
	"fmt"
	"time"

	"github.com/BaSui01/answerflow/llm/circuitbreaker"
)

// Config configures an HTTP reranker provider.
type Config struct {
	APIKey  string                        `json:"api_key" yaml:"api_key"`
	BaseURL string                        `json:"base_url" yaml:"base_url"`
	Model   string                        `json:"model,omitempty" yaml:"model,omitempty"`
	Timeout time.Duration                 `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Breaker circuitbreaker.CircuitBreaker `json:"-" yaml:"-"`
}

// DefaultCohereConfig returns default Cohere reranker config.
func DefaultCohereConfig() Config {
	return Config{
		BaseURL: "https://api.cohere.ai",
		Model:   "rerank-v3.5",
		Timeout: 30 * time.Second,
	}
}

// DefaultJinaConfig returns default Jina reranker config.
func DefaultJinaConfig() Config {
	return Config{
		BaseURL: "https://api.jina.ai",
		Model:   "jina-reranker-v2-base-multilingual",
		Timeout: 30 * time.Second,
	}
}

// NewProvider 按名称创建重排提供者（cohere | jina）.
func NewProvider(name string, cfg Config) (Provider, error) {
	switch name {
	case "cohere":
		return NewCohereProvider(cfg), nil
	case "jina":
		return NewJinaProvider(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported rerank provider %q", name)
	}
}
