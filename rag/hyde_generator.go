package rag

import (
	"context"
	"strings"

	"github.com/BaSui01/answerflow/llm/router"
)

// RouterHypothesizer 通过分层路由生成假设答案，只使用单一层级且不降级；
// 失败由 QueryAugmenter 回退到模板
type RouterHypothesizer struct {
	router      *router.TieredRouter
	tier        string
	temperature float64
}

// NewRouterHypothesizer 创建假设答案生成器
func NewRouterHypothesizer(r *router.TieredRouter, tier string) *RouterHypothesizer {
	return &RouterHypothesizer{router: r, tier: tier, temperature: 0.1}
}

// Hypothesize 实现 HypotheticalGenerator
func (h *RouterHypothesizer) Hypothesize(ctx context.Context, prompt string, maxTokens int) (string, error) {
	temp := h.temperature
	gen, err := h.router.Generate(ctx, router.GenerateRequest{
		Prompt:      prompt,
		Tier:        h.tier,
		MaxTokens:   maxTokens,
		Temperature: &temp,
		NoFallback:  true,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(gen.Text), nil
}
