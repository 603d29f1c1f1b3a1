package loader

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/BaSui01/answerflow/rag"
)

// Record 是 JSON/JSONL 语料中的一条文档记录。
// Entities 中的实体自动提及本文档。
type Record struct {
	ID       string         `json:"id"`
	Title    string         `json:"title"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
	Entities []EntitySpec   `json:"entities"`
}

// EntitySpec 记录中声明的知识图谱实体
type EntitySpec struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Type        string         `json:"type"`
	Summary     string         `json:"summary"`
	Properties  map[string]any `json:"properties"`
	DocumentIDs []string       `json:"document_ids"`
}

// JSONLoader 加载 .json（单个对象或数组）与 .jsonl（每行一个对象）
type JSONLoader struct{}

// NewJSONLoader 创建 JSONLoader
func NewJSONLoader() *JSONLoader {
	return &JSONLoader{}
}

// Load 解析记录。缺少 id 的记录按 name#序号 生成 ID；content 为空的记录只贡献实体。
func (l *JSONLoader) Load(ctx context.Context, r io.Reader, name string) (*Corpus, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("json loader: %w", err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return &Corpus{}, nil
	}

	var records []Record
	if strings.HasSuffix(strings.ToLower(name), ".jsonl") {
		records, err = decodeJSONL(data, name)
	} else {
		records, err = decodeJSON(data, name)
	}
	if err != nil {
		return nil, err
	}
	return recordsToCorpus(records, name)
}

func decodeJSON(data []byte, name string) ([]Record, error) {
	if data[0] == '[' {
		var records []Record
		if err := json.Unmarshal(data, &records); err != nil {
			return nil, fmt.Errorf("json loader: %s: %w", name, err)
		}
		return records, nil
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("json loader: %s: %w", name, err)
	}
	return []Record{rec}, nil
}

func decodeJSONL(data []byte, name string) ([]Record, error) {
	var records []Record
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("json loader: %s line %d: %w", name, lineNo, err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("json loader: %s: %w", name, err)
	}
	return records, nil
}

func recordsToCorpus(records []Record, name string) (*Corpus, error) {
	corpus := &Corpus{}
	for i, rec := range records {
		id := strings.TrimSpace(rec.ID)
		if id == "" {
			id = fmt.Sprintf("%s#%d", name, i)
		}

		content := strings.TrimSpace(rec.Content)
		if content != "" {
			md := map[string]any{"source": name}
			for k, v := range rec.Metadata {
				md[k] = v
			}
			corpus.Documents = append(corpus.Documents, rag.Document{
				ID:       id,
				Title:    rec.Title,
				Content:  content,
				Metadata: md,
			})
		}

		for _, raw := range rec.Entities {
			if strings.TrimSpace(raw.ID) == "" {
				return nil, fmt.Errorf("json loader: %s: record %q has an entity without id", name, id)
			}
			docIDs := append([]string(nil), raw.DocumentIDs...)
			if content != "" {
				docIDs = append(docIDs, id)
			}
			entityName := raw.Name
			if entityName == "" {
				entityName = raw.ID
			}
			corpus.AddEntity(rag.EntityRecord{
				ID:          raw.ID,
				Name:        entityName,
				Type:        raw.Type,
				Summary:     raw.Summary,
				Properties:  raw.Properties,
				DocumentIDs: docIDs,
			})
		}
	}
	return corpus, nil
}

// SupportedTypes 返回 JSONLoader 支持的扩展名
func (l *JSONLoader) SupportedTypes() []string {
	return []string{".json", ".jsonl"}
}
