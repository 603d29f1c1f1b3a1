package loader

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/BaSui01/answerflow/rag"
)

// Corpus 一次加载得到的文档与实体
type Corpus struct {
	Documents []rag.Document
	Entities  []rag.EntityRecord
}

// Merge 合并另一份语料；同 ID 的实体合并提及文档，属性以后加载者为准
func (c *Corpus) Merge(other *Corpus) {
	if other == nil {
		return
	}
	c.Documents = append(c.Documents, other.Documents...)
	for _, e := range other.Entities {
		c.AddEntity(e)
	}
}

// AddEntity 加入实体，已存在时合并
func (c *Corpus) AddEntity(e rag.EntityRecord) {
	for i := range c.Entities {
		cur := &c.Entities[i]
		if cur.ID != e.ID {
			continue
		}
		seen := make(map[string]bool, len(cur.DocumentIDs))
		for _, id := range cur.DocumentIDs {
			seen[id] = true
		}
		for _, id := range e.DocumentIDs {
			if !seen[id] {
				cur.DocumentIDs = append(cur.DocumentIDs, id)
				seen[id] = true
			}
		}
		if e.Name != "" {
			cur.Name = e.Name
		}
		if e.Type != "" {
			cur.Type = e.Type
		}
		if e.Summary != "" {
			cur.Summary = e.Summary
		}
		for k, v := range e.Properties {
			if cur.Properties == nil {
				cur.Properties = map[string]any{}
			}
			cur.Properties[k] = v
		}
		return
	}
	c.Entities = append(c.Entities, e)
}

// DocumentLoader 把一种文件格式解析为语料。name 是相对语料根目录的路径，
// 用作文档 ID 的前缀。
type DocumentLoader interface {
	Load(ctx context.Context, r io.Reader, name string) (*Corpus, error)

	// SupportedTypes 返回支持的扩展名（含点，如 ".md"）
	SupportedTypes() []string
}

// Registry 按扩展名把文件路由到对应的加载器
type Registry struct {
	mu      sync.RWMutex
	loaders map[string]DocumentLoader
}

// NewRegistry 创建内置 .txt/.md/.json/.jsonl/.csv 加载器的注册表
func NewRegistry() *Registry {
	r := &Registry{loaders: make(map[string]DocumentLoader)}
	for _, l := range []DocumentLoader{
		NewTextLoader(),
		NewMarkdownLoader(),
		NewJSONLoader(),
		NewCSVLoader(CSVLoaderConfig{}),
	} {
		for _, ext := range l.SupportedTypes() {
			r.loaders[strings.ToLower(ext)] = l
		}
	}
	return r
}

// Register 添加或替换某扩展名的加载器
func (r *Registry) Register(ext string, l DocumentLoader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loaders[strings.ToLower(ext)] = l
}

// SupportedTypes 返回已注册的扩展名，已排序
func (r *Registry) SupportedTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exts := make([]string, 0, len(r.loaders))
	for ext := range r.loaders {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

func (r *Registry) loaderFor(name string) (DocumentLoader, error) {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		return nil, fmt.Errorf("loader: cannot determine file type for %q (no extension)", name)
	}
	r.mu.RLock()
	l, ok := r.loaders[ext]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("loader: no loader registered for extension %q", ext)
	}
	return l, nil
}

// LoadFile 加载单个文件；name 用作文档 ID 前缀
func (r *Registry) LoadFile(ctx context.Context, path, name string) (*Corpus, error) {
	l, err := r.loaderFor(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("loader: %w", err)
	}
	defer f.Close()
	return l.Load(ctx, f, name)
}

// LoadPath 加载文件或目录。目录按字典序递归遍历，跳过隐藏文件与未注册的扩展名；
// 文档 ID 以相对根目录的斜杠路径为前缀。
func (r *Registry) LoadPath(ctx context.Context, root string) (*Corpus, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("loader: %w", err)
	}
	if !info.IsDir() {
		return r.LoadFile(ctx, root, filepath.Base(root))
	}

	corpus := &Corpus{}
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if strings.HasPrefix(d.Name(), ".") && path != root {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if _, lerr := r.loaderFor(path); lerr != nil {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		c, err := r.LoadFile(ctx, path, filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		corpus.Merge(c)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return corpus, nil
}

func baseTitle(name string) string {
	base := filepath.Base(name)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
