package llm

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/BaSui01/answerflow/llm/tokenizer"
)

// OpenAIConfig OpenAI 兼容生成服务配置
type OpenAIConfig struct {
	HTTPConfig
}

// OpenAIProvider 基于 OpenAI 兼容 /v1/chat/completions 的生成能力
type OpenAIProvider struct {
	http   *HTTPClient
	logger *zap.Logger
}

// NewOpenAIProvider 创建 OpenAI 兼容的生成提供者
func NewOpenAIProvider(cfg OpenAIConfig, logger *zap.Logger) *OpenAIProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Name == "" {
		cfg.Name = "openai"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com"
	}
	return &OpenAIProvider{
		http:   NewHTTPClient(cfg.HTTPConfig),
		logger: logger.With(zap.String("component", "llm_provider"), zap.String("provider", cfg.Name)),
	}
}

// Name 返回提供者名称
func (p *OpenAIProvider) Name() string { return p.http.Name() }

type openAIChatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *ChatUsage `json:"usage"`
}

// Completion 执行一次非流式生成
func (p *OpenAIProvider) Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	var raw openAIChatResponse
	if err := p.http.PostJSON(ctx, "/v1/chat/completions", req, &raw); err != nil {
		return nil, err
	}
	if len(raw.Choices) == 0 {
		return nil, errors.New("no choices returned")
	}

	resp := &ChatResponse{
		ID:           raw.ID,
		Model:        raw.Model,
		Content:      raw.Choices[0].Message.Content,
		FinishReason: raw.Choices[0].FinishReason,
	}
	if resp.Model == "" {
		resp.Model = req.Model
	}
	if raw.Usage != nil && raw.Usage.TotalTokens > 0 {
		resp.Usage = *raw.Usage
		return resp, nil
	}

	// 上游未返回用量时本地估算
	tk := tokenizer.ForModel(req.Model)
	in := 0
	for _, m := range req.Messages {
		in += tokenizer.Count(tk, m.Content) + 4
	}
	out := tokenizer.Count(tk, resp.Content)
	resp.Usage = ChatUsage{PromptTokens: in, CompletionTokens: out, TotalTokens: in + out}
	resp.UsageEstimated = true
	p.logger.Debug("usage estimated locally",
		zap.String("model", req.Model),
		zap.Int("prompt_tokens", in),
		zap.Int("completion_tokens", out))
	return resp, nil
}
