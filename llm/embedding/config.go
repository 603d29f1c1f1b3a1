package embedding

import (
	"time"

	"github.com/BaSui01/answerflow/llm/circuitbreaker"
)

// OpenAIConfig 配置 OpenAI 兼容的嵌入提供者.
type OpenAIConfig struct {
	APIKey     string                        `json:"api_key" yaml:"api_key"`
	BaseURL    string                        `json:"base_url" yaml:"base_url"`
	Model      string                        `json:"model,omitempty" yaml:"model,omitempty"`           // text-embedding-3-small
	Dimensions int                           `json:"dimensions,omitempty" yaml:"dimensions,omitempty"` // 256, 1536, 3072
	MaxBatch   int                           `json:"max_batch,omitempty" yaml:"max_batch,omitempty"`
	Timeout    time.Duration                 `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Breaker    circuitbreaker.CircuitBreaker `json:"-" yaml:"-"`
}

// DefaultOpenAIConfig 返回默认 OpenAI 嵌入配置.
func DefaultOpenAIConfig() OpenAIConfig {
	return OpenAIConfig{
		BaseURL:    "https://api.openai.com",
		Model:      "text-embedding-3-small",
		Dimensions: 1536,
		MaxBatch:   2048,
		Timeout:    30 * time.Second,
	}
}

// BatchingConfig 配置请求合并嵌入器.
type BatchingConfig struct {
	Window       time.Duration `json:"window" yaml:"window"`
	MaxBatchSize int           `json:"max_batch_size" yaml:"max_batch_size"`
	Timeout      time.Duration `json:"timeout" yaml:"timeout"`
}

// DefaultBatchingConfig 返回默认合并配置：20ms 窗口.
func DefaultBatchingConfig() BatchingConfig {
	return BatchingConfig{
		Window:       20 * time.Millisecond,
		MaxBatchSize: 32,
		Timeout:      10 * time.Second,
	}
}
