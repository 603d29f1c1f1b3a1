// =============================================================================
// 📦 测试数据工厂 - 检索语料
// =============================================================================
// 提供一组小型影视发行语料（文档 + 实体），用于检索、缓存与端到端测试
// =============================================================================
package fixtures

import (
	"encoding/json"

	"github.com/BaSui01/answerflow/rag"
)

// =============================================================================
// 🎯 文档与实体
// =============================================================================

// Documents 返回预置文档；每次调用返回新的副本
func Documents() []rag.Document {
	return []rag.Document{
		{
			ID:       "brandon",
			Title:    "Brandon",
			Content:  "Brandon commissions scripted drama for the UK market and reviews co-production pitches.",
			Metadata: map[string]any{"region": "uk", "genre": "drama"},
		},
		{
			ID:       "kennedy",
			Title:    "Kennedy",
			Content:  "Kennedy runs comedy acquisitions in the US and buys finished series.",
			Metadata: map[string]any{"region": "us", "genre": "comedy"},
		},
		{
			ID:       "channel4",
			Title:    "Channel 4",
			Content:  "Channel 4 is a UK broadcaster that commissions drama and factual entertainment.",
			Metadata: map[string]any{"region": "uk", "genre": "drama"},
		},
		{
			ID:       "festival",
			Title:    "Cannes Series",
			Content:  "The Cannes Series festival in April is where buyers from Europe meet drama producers.",
			Metadata: map[string]any{"region": "eu", "genre": "drama"},
		},
	}
}

// Entities 返回与 Documents 对应的实体
func Entities() []rag.EntityRecord {
	return []rag.EntityRecord{
		{ID: "person:brandon", Name: "Brandon", Type: "person", Summary: "UK drama commissioner", DocumentIDs: []string{"brandon", "channel4"}},
		{ID: "person:kennedy", Name: "Kennedy", Type: "person", Summary: "US comedy buyer", DocumentIDs: []string{"kennedy"}},
		{ID: "org:channel4", Name: "Channel 4", Type: "broadcaster", DocumentIDs: []string{"channel4"}},
	}
}

// DocumentIDs 按顺序提取文档 ID
func DocumentIDs(docs []rag.Document) []string {
	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	return ids
}

// =============================================================================
// 📄 序列化语料
// =============================================================================

type record struct {
	ID       string             `json:"id"`
	Title    string             `json:"title,omitempty"`
	Content  string             `json:"content"`
	Metadata map[string]any     `json:"metadata,omitempty"`
	Entities []rag.EntityRecord `json:"entities,omitempty"`
}

// CorpusJSON 以 JSON 记录数组形式返回 Documents 与 Entities，
// 实体挂在其第一个关联文档下，格式与 JSON 语料加载器一致
func CorpusJSON() []byte {
	docs := Documents()
	byDoc := make(map[string][]rag.EntityRecord)
	for _, e := range Entities() {
		byDoc[e.DocumentIDs[0]] = append(byDoc[e.DocumentIDs[0]], e)
	}

	records := make([]record, len(docs))
	for i, d := range docs {
		records[i] = record{ID: d.ID, Title: d.Title, Content: d.Content, Metadata: d.Metadata, Entities: byDoc[d.ID]}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		panic(err)
	}
	return data
}
