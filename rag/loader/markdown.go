package loader

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/BaSui01/answerflow/rag"
)

// MarkdownLoader 按 ATX 标题把 Markdown 拆成多个文档。
// 文件开头可带 YAML front matter（--- 包围）：title 作为默认标题，
// 其余标量字段写入每个文档的元数据，供过滤检索使用。
type MarkdownLoader struct{}

// NewMarkdownLoader 创建 MarkdownLoader
func NewMarkdownLoader() *MarkdownLoader {
	return &MarkdownLoader{}
}

type mdSection struct {
	heading string
	level   int
	lines   []string
}

// Load 解析 Markdown；每个非空章节成为一个文档，ID 为 name#序号
func (l *MarkdownLoader) Load(ctx context.Context, r io.Reader, name string) (*Corpus, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		sections    []mdSection
		frontMatter []string
		inFront     bool
		lineNo      int
	)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		lineNo++

		if lineNo == 1 && strings.TrimSpace(line) == "---" {
			inFront = true
			continue
		}
		if inFront {
			if strings.TrimSpace(line) == "---" {
				inFront = false
				continue
			}
			frontMatter = append(frontMatter, line)
			continue
		}

		if heading, level := parseHeading(line); heading != "" {
			sections = append(sections, mdSection{heading: heading, level: level})
			continue
		}
		if len(sections) == 0 {
			sections = append(sections, mdSection{})
		}
		sections[len(sections)-1].lines = append(sections[len(sections)-1].lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("markdown loader: reading %s: %w", name, err)
	}
	if inFront {
		return nil, fmt.Errorf("markdown loader: %s: unterminated front matter", name)
	}

	meta, title, err := parseFrontMatter(frontMatter)
	if err != nil {
		return nil, fmt.Errorf("markdown loader: %s: %w", name, err)
	}
	if title == "" {
		title = baseTitle(name)
	}

	corpus := &Corpus{}
	for i, sec := range sections {
		content := strings.TrimSpace(strings.Join(sec.lines, "\n"))
		if content == "" {
			continue
		}

		md := map[string]any{
			"source":       name,
			"content_type": "text/markdown",
			"section":      i,
		}
		for k, v := range meta {
			md[k] = v
		}

		docTitle := title
		if sec.heading != "" {
			md["heading_level"] = sec.level
			docTitle = sec.heading
		}
		corpus.Documents = append(corpus.Documents, rag.Document{
			ID:       fmt.Sprintf("%s#%d", name, i),
			Title:    docTitle,
			Content:  content,
			Metadata: md,
		})
	}
	return corpus, nil
}

// parseFrontMatter 解析 front matter，返回标量元数据与标题
func parseFrontMatter(lines []string) (map[string]any, string, error) {
	if len(lines) == 0 {
		return nil, "", nil
	}
	var raw map[string]any
	if err := yaml.Unmarshal([]byte(strings.Join(lines, "\n")), &raw); err != nil {
		return nil, "", fmt.Errorf("front matter: %w", err)
	}

	meta := make(map[string]any, len(raw))
	var title string
	for k, v := range raw {
		if k == "title" {
			title = fmt.Sprint(v)
			continue
		}
		switch val := v.(type) {
		case string, bool, int, float64:
			meta[k] = fmt.Sprint(val)
		case []any:
			items := make([]string, 0, len(val))
			for _, item := range val {
				items = append(items, fmt.Sprint(item))
			}
			meta[k] = items
		}
	}
	return meta, title, nil
}

// parseHeading 识别 ATX 标题（# Heading），返回标题文本与级别；非标题返回 ("", 0)
func parseHeading(line string) (heading string, level int) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "#") {
		return "", 0
	}
	for _, ch := range trimmed {
		if ch != '#' {
			break
		}
		level++
	}
	if level > 6 {
		return "", 0
	}
	heading = strings.TrimSpace(trimmed[level:])
	if heading == "" {
		return "", 0
	}
	return heading, level
}

// SupportedTypes 返回 MarkdownLoader 支持的扩展名
func (l *MarkdownLoader) SupportedTypes() []string {
	return []string{".md", ".markdown"}
}
