package answer

import (
	"fmt"
	"strings"

	"github.com/BaSui01/answerflow/rag"
)

// SystemPrompt 生成时附带的系统提示
const SystemPrompt = "You are a research assistant. Answer precisely and never invent facts that are absent from the provided context."

const promptInstructions = "Answer the question using only the numbered context below. " +
	"Cite the passages you rely on with their [n] markers. " +
	"If the context does not contain the answer, say that you do not know."

// BuildPrompt 把问题与上下文文档拼成生成提示；文档按给定顺序编号
func BuildPrompt(question string, docs []rag.Candidate) string {
	var b strings.Builder
	b.WriteString(promptInstructions)
	b.WriteString("\n\nContext:\n")

	if len(docs) == 0 {
		b.WriteString("(no relevant documents were found)\n")
	}
	for i, d := range docs {
		title := d.Title
		if title == "" {
			title = d.DocumentID
		}
		fmt.Fprintf(&b, "[%d] %s\n%s\n\n", i+1, title, strings.TrimSpace(d.Content))
	}

	b.WriteString("\nQuestion: ")
	b.WriteString(strings.TrimSpace(question))
	b.WriteString("\nAnswer:")
	return b.String()
}

// SourcesFrom 把上下文文档转换为来源引用
func SourcesFrom(docs []rag.Candidate) []rag.SourceReference {
	out := make([]rag.SourceReference, 0, len(docs))
	for _, d := range docs {
		out = append(out, rag.SourceReference{
			DocumentID: d.DocumentID,
			Title:      d.Title,
			Score:      d.Score(),
		})
	}
	return out
}
