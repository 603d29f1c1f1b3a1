package loader

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/BaSui01/answerflow/rag"
)

// TextLoader 把纯文本文件加载为一个文档，标题取文件名
type TextLoader struct{}

// NewTextLoader 创建 TextLoader
func NewTextLoader() *TextLoader {
	return &TextLoader{}
}

// Load 读取文本；空文件返回空语料
func (l *TextLoader) Load(ctx context.Context, r io.Reader, name string) (*Corpus, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("text loader: %w", err)
	}

	content := strings.TrimSpace(string(data))
	if content == "" {
		return &Corpus{}, nil
	}
	return &Corpus{Documents: []rag.Document{{
		ID:      name,
		Title:   baseTitle(name),
		Content: content,
		Metadata: map[string]any{
			"source":       name,
			"content_type": "text/plain",
		},
	}}}, nil
}

// SupportedTypes 返回 TextLoader 支持的扩展名
func (l *TextLoader) SupportedTypes() []string {
	return []string{".txt"}
}
