package loader

import (
	"fmt"
	"strings"

	"github.com/BaSui01/answerflow/llm/tokenizer"
	"github.com/BaSui01/answerflow/rag"
)

// ChunkerConfig 分块配置；MaxTokens <= 0 表示不分块
type ChunkerConfig struct {
	MaxTokens     int    `json:"max_tokens" yaml:"max_tokens"`
	OverlapTokens int    `json:"overlap_tokens" yaml:"overlap_tokens"`
	Model         string `json:"model" yaml:"model"`
}

// DefaultChunkerConfig 返回默认分块配置
func DefaultChunkerConfig() ChunkerConfig {
	return ChunkerConfig{
		MaxTokens:     512,
		OverlapTokens: 64,
		Model:         "text-embedding-3-small",
	}
}

// 由粗到细的切分点；切分后保留分隔符，拼回即原文
var chunkSeparators = []string{"\n\n", "\n", ". ", " "}

// Chunker 把超过 token 上限的文档递归切分为带重叠的块
type Chunker struct {
	config    ChunkerConfig
	tokenizer tokenizer.Tokenizer
}

// NewChunker 创建分块器；tok 为 nil 时按 config.Model 选择分词器
func NewChunker(config ChunkerConfig, tok tokenizer.Tokenizer) *Chunker {
	if config.OverlapTokens < 0 || config.OverlapTokens >= config.MaxTokens {
		config.OverlapTokens = 0
	}
	if tok == nil {
		tok = tokenizer.ForModel(config.Model)
	}
	return &Chunker{config: config, tokenizer: tok}
}

// Split 切分单个文档。未超限的文档原样返回；
// 块 ID 为 "<id>#chunk-<i>"，metadata 记录 parent_id 与 chunk 序号。
func (c *Chunker) Split(doc rag.Document) []rag.Document {
	if c.config.MaxTokens <= 0 || c.fits(doc.Content) {
		return []rag.Document{doc}
	}

	texts := c.pack(c.pieces(doc.Content, chunkSeparators))
	out := make([]rag.Document, 0, len(texts))
	for _, text := range texts {
		i := len(out)
		meta := make(map[string]any, len(doc.Metadata)+2)
		for k, v := range doc.Metadata {
			meta[k] = v
		}
		meta["parent_id"] = doc.ID
		meta["chunk"] = i
		out = append(out, rag.Document{
			ID:       fmt.Sprintf("%s#chunk-%d", doc.ID, i),
			Title:    doc.Title,
			Content:  text,
			Metadata: meta,
		})
	}
	return out
}

// SplitCorpus 切分语料中的全部文档，并把实体的文档引用改写为对应块 ID
func (c *Chunker) SplitCorpus(corpus *Corpus) *Corpus {
	if corpus == nil || c.config.MaxTokens <= 0 {
		return corpus
	}
	out := &Corpus{Documents: make([]rag.Document, 0, len(corpus.Documents))}
	children := make(map[string][]string)
	for _, doc := range corpus.Documents {
		chunks := c.Split(doc)
		if len(chunks) > 1 {
			for _, ch := range chunks {
				children[doc.ID] = append(children[doc.ID], ch.ID)
			}
		}
		out.Documents = append(out.Documents, chunks...)
	}

	for _, e := range corpus.Entities {
		ids := make([]string, 0, len(e.DocumentIDs))
		for _, id := range e.DocumentIDs {
			if chunkIDs, ok := children[id]; ok {
				ids = append(ids, chunkIDs...)
				continue
			}
			ids = append(ids, id)
		}
		e.DocumentIDs = ids
		out.Entities = append(out.Entities, e)
	}
	return out
}

// pieces 递归切分，直到每段不超过上限或无更细的分隔符
func (c *Chunker) pieces(text string, seps []string) []string {
	if len(seps) == 0 || c.fits(text) {
		return []string{text}
	}
	parts := strings.SplitAfter(text, seps[0])
	if len(parts) == 1 {
		return c.pieces(text, seps[1:])
	}
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		out = append(out, c.pieces(p, seps[1:])...)
	}
	return out
}

// pack 贪心合并相邻片段，新块以上一块末尾不超过 OverlapTokens 的片段开头
func (c *Chunker) pack(pieces []string) []string {
	var (
		chunks    []string
		cur       []string
		curTokens int
	)
	flush := func() {
		if text := strings.TrimSpace(strings.Join(cur, "")); text != "" {
			chunks = append(chunks, text)
		}
	}

	for _, p := range pieces {
		n := c.count(p)
		if len(cur) > 0 && curTokens+n > c.config.MaxTokens {
			flush()
			cur, curTokens = c.overlap(cur)
			if curTokens+n > c.config.MaxTokens {
				cur, curTokens = nil, 0
			}
		}
		cur = append(cur, p)
		curTokens += n
	}
	if len(cur) > 0 {
		flush()
	}
	return chunks
}

func (c *Chunker) overlap(prev []string) ([]string, int) {
	if c.config.OverlapTokens <= 0 {
		return nil, 0
	}
	total := 0
	i := len(prev)
	for i > 0 {
		n := c.count(prev[i-1])
		if total+n > c.config.OverlapTokens {
			break
		}
		total += n
		i--
	}
	return append([]string(nil), prev[i:]...), total
}

// fits 每个 token 至少一个字节，字节数不超限时无需分词
func (c *Chunker) fits(text string) bool {
	return len(text) <= c.config.MaxTokens || c.count(text) <= c.config.MaxTokens
}

func (c *Chunker) count(text string) int {
	return tokenizer.Count(c.tokenizer, text)
}
