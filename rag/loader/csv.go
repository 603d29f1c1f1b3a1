package loader

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/BaSui01/answerflow/rag"
)

// CSVLoaderConfig 配置 CSV 加载器
type CSVLoaderConfig struct {
	// Delimiter 字段分隔符，默认 ','
	Delimiter rune
	// IDColumn 文档 ID 列，默认 "id"；缺失时按 name#row序号 生成
	IDColumn string
	// TitleColumn 标题列，默认 "title"
	TitleColumn string
	// ContentColumns 拼接为正文的列，默认 ["content"]
	ContentColumns []string
}

// CSVLoader 首行为表头，每个数据行成为一个文档；
// ID/标题/正文以外的列写入元数据，供过滤检索使用。
type CSVLoader struct {
	config CSVLoaderConfig
}

// NewCSVLoader 创建 CSVLoader
func NewCSVLoader(config CSVLoaderConfig) *CSVLoader {
	if config.Delimiter == 0 {
		config.Delimiter = ','
	}
	if config.IDColumn == "" {
		config.IDColumn = "id"
	}
	if config.TitleColumn == "" {
		config.TitleColumn = "title"
	}
	if len(config.ContentColumns) == 0 {
		config.ContentColumns = []string{"content"}
	}
	return &CSVLoader{config: config}
}

// Load 解析 CSV；找不到任何正文列时报错
func (l *CSVLoader) Load(ctx context.Context, r io.Reader, name string) (*Corpus, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	reader := csv.NewReader(r)
	reader.Comma = l.config.Delimiter
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("csv loader: parsing %s: %w", name, err)
	}
	if len(records) < 2 {
		return &Corpus{}, nil
	}

	header := make([]string, len(records[0]))
	for i, h := range records[0] {
		header[i] = strings.ToLower(strings.TrimSpace(h))
	}
	idIdx := indexOf(header, l.config.IDColumn)
	titleIdx := indexOf(header, l.config.TitleColumn)

	contentIdx := make([]int, 0, len(l.config.ContentColumns))
	for _, col := range l.config.ContentColumns {
		if i := indexOf(header, col); i >= 0 {
			contentIdx = append(contentIdx, i)
		}
	}
	if len(contentIdx) == 0 {
		return nil, fmt.Errorf("csv loader: %s: none of the content columns %v present", name, l.config.ContentColumns)
	}

	reserved := map[int]bool{idIdx: true, titleIdx: true}
	for _, i := range contentIdx {
		reserved[i] = true
	}

	corpus := &Corpus{}
	for rowNum, row := range records[1:] {
		parts := make([]string, 0, len(contentIdx))
		for _, i := range contentIdx {
			if v := cell(row, i); v != "" {
				parts = append(parts, v)
			}
		}
		content := strings.Join(parts, "\n")
		if content == "" {
			continue
		}

		id := cell(row, idIdx)
		if id == "" {
			id = fmt.Sprintf("%s#row%d", name, rowNum)
		}

		md := map[string]any{
			"source":       name,
			"content_type": "text/csv",
		}
		for i, col := range header {
			if reserved[i] || col == "" {
				continue
			}
			if v := cell(row, i); v != "" {
				md[col] = v
			}
		}

		corpus.Documents = append(corpus.Documents, rag.Document{
			ID:       id,
			Title:    cell(row, titleIdx),
			Content:  content,
			Metadata: md,
		})
	}
	return corpus, nil
}

func indexOf(header []string, col string) int {
	col = strings.ToLower(col)
	for i, h := range header {
		if h == col {
			return i
		}
	}
	return -1
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// SupportedTypes 返回 CSVLoader 支持的扩展名
func (l *CSVLoader) SupportedTypes() []string {
	return []string{".csv"}
}
