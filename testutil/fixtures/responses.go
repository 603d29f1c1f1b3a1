// =============================================================================
// 📦 测试数据工厂 - 上游响应
// =============================================================================
// 提供 OpenAI 兼容接口的响应体，用于搭建 httptest 假服务
// =============================================================================
package fixtures

// =============================================================================
// 🎯 Chat Completions
// =============================================================================

// ChatCompletionBody 返回 /v1/chat/completions 的响应体
func ChatCompletionBody(model, content string, promptTokens, completionTokens int) map[string]any {
	return map[string]any{
		"id":     "chatcmpl-fixture",
		"object": "chat.completion",
		"model":  model,
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]string{"role": "assistant", "content": content},
			"finish_reason": "stop",
		}},
		"usage": map[string]int{
			"prompt_tokens":     promptTokens,
			"completion_tokens": completionTokens,
			"total_tokens":      promptTokens + completionTokens,
		},
	}
}

// =============================================================================
// 🧮 Embeddings
// =============================================================================

// EmbeddingsBody 返回 /v1/embeddings 的响应体，index 与输入顺序一致
func EmbeddingsBody(model string, vectors [][]float64) map[string]any {
	data := make([]map[string]any, len(vectors))
	for i, v := range vectors {
		data[i] = map[string]any{"object": "embedding", "index": i, "embedding": v}
	}
	return map[string]any{
		"object": "list",
		"data":   data,
		"model":  model,
		"usage":  map[string]int{"prompt_tokens": len(vectors), "total_tokens": len(vectors)},
	}
}
