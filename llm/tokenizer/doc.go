// Package tokenizer 提供统一的 Token 计数接口，
// 支持 tiktoken 精确计数与 CJK 估算器，用于生成调用缺失用量时的 Token 估算。
package tokenizer
