package types

import "strings"

// Intent 问题意图，来自上游分类器的封闭词表
type Intent string

// 默认意图词表
const (
	IntentFactual       Intent = "factual"
	IntentClarification Intent = "clarification"
	IntentRouting       Intent = "routing"
	IntentHybrid        Intent = "hybrid"
	IntentComparative   Intent = "comparative"
	IntentStrategic     Intent = "strategic"
)

// DefaultIntents 返回默认意图词表（按复杂度递增）
func DefaultIntents() []Intent {
	return []Intent{
		IntentFactual,
		IntentClarification,
		IntentRouting,
		IntentHybrid,
		IntentComparative,
		IntentStrategic,
	}
}

// ParseIntent 规范化意图字符串（大小写不敏感）
func ParseIntent(s string) Intent {
	return Intent(strings.ToLower(strings.TrimSpace(s)))
}

// String implements fmt.Stringer.
func (i Intent) String() string { return string(i) }
