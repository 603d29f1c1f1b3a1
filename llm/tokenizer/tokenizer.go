package tokenizer

// Tokenizer 是统一的 token 计数接口.
type Tokenizer interface {
	// CountTokens 返回给定文本的 token 数.
	CountTokens(text string) (int, error)

	// Name 返回分词器的名称.
	Name() string
}

// ForModel 返回模型对应的分词器：优先 tiktoken，
// 编码数据不可用时（例如离线环境）回退到字符估算器.
func ForModel(model string) Tokenizer {
	return &fallbackTokenizer{
		primary:  NewTiktokenTokenizer(model),
		fallback: NewEstimatorTokenizer(),
	}
}

type fallbackTokenizer struct {
	primary  Tokenizer
	fallback Tokenizer
}

func (f *fallbackTokenizer) CountTokens(text string) (int, error) {
	n, err := f.primary.CountTokens(text)
	if err == nil {
		return n, nil
	}
	return f.fallback.CountTokens(text)
}

func (f *fallbackTokenizer) Name() string {
	return f.primary.Name() + "|" + f.fallback.Name()
}

// Count 计数并吞掉错误，估算失败时返回 0.
func Count(t Tokenizer, text string) int {
	if t == nil {
		return 0
	}
	n, err := t.CountTokens(text)
	if err != nil {
		return 0
	}
	return n
}
