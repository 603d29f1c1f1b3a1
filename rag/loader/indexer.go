package loader

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/answerflow/llm/embedding"
	"github.com/BaSui01/answerflow/rag"
)

// EntityWriter 接收知识图谱实体；rag.KnowledgeGraph 与 rag.Neo4jGraphStore 均实现
type EntityWriter interface {
	UpsertEntity(ctx context.Context, e rag.EntityRecord) error
}

// IndexerConfig 索引配置
type IndexerConfig struct {
	BatchSize   int           `json:"batch_size" yaml:"batch_size"`
	Concurrency int           `json:"concurrency" yaml:"concurrency"`
	Chunking    ChunkerConfig `json:"chunking" yaml:"chunking"`
}

// DefaultIndexerConfig 返回默认索引配置
func DefaultIndexerConfig() IndexerConfig {
	return IndexerConfig{
		BatchSize:   32,
		Concurrency: 4,
		Chunking:    DefaultChunkerConfig(),
	}
}

// IndexStats 一次索引的结果
type IndexStats struct {
	Documents int           `json:"documents"`
	Chunks    int           `json:"chunks"`
	Entities  int           `json:"entities"`
	Batches   int           `json:"batches"`
	Duration  time.Duration `json:"duration"`
}

// Indexer 把语料嵌入后写入向量存储，并把实体写入图存储
type Indexer struct {
	embedder embedding.Embedder
	store    rag.VectorStore
	graph    EntityWriter
	chunker  *Chunker
	config   IndexerConfig
	logger   *zap.Logger
}

// NewIndexer 创建索引器；graph 为 nil 时忽略语料中的实体。
// 超过 config.Chunking.MaxTokens 的文档先切块再嵌入。
func NewIndexer(embedder embedding.Embedder, store rag.VectorStore, graph EntityWriter, config IndexerConfig, logger *zap.Logger) *Indexer {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultIndexerConfig()
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	if config.Concurrency <= 0 {
		config.Concurrency = def.Concurrency
	}
	return &Indexer{
		embedder: embedder,
		store:    store,
		graph:    graph,
		chunker:  NewChunker(config.Chunking, nil),
		config:   config,
		logger:   logger.With(zap.String("component", "indexer")),
	}
}

// Index 分批嵌入并写入。任一批失败即取消其余批次并返回错误；已写入的批次不回滚。
func (ix *Indexer) Index(ctx context.Context, corpus *Corpus) (IndexStats, error) {
	start := time.Now()
	var stats IndexStats
	if corpus == nil {
		return stats, nil
	}
	if ix.embedder == nil || ix.store == nil {
		return stats, fmt.Errorf("indexer: embedder and vector store are required")
	}
	stats.Documents = len(corpus.Documents)
	corpus = ix.chunker.SplitCorpus(corpus)

	var (
		chunks  atomic.Int64
		batches atomic.Int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.config.Concurrency)

	for begin := 0; begin < len(corpus.Documents); begin += ix.config.BatchSize {
		end := min(begin+ix.config.BatchSize, len(corpus.Documents))
		batch := corpus.Documents[begin:end]
		g.Go(func() error {
			if err := ix.indexBatch(gctx, batch); err != nil {
				return err
			}
			chunks.Add(int64(len(batch)))
			batches.Add(1)
			return nil
		})
	}
	err := g.Wait()
	stats.Chunks = int(chunks.Load())
	stats.Batches = int(batches.Load())
	if err != nil {
		return stats, err
	}

	if ix.graph != nil {
		for _, e := range corpus.Entities {
			if err := ix.graph.UpsertEntity(ctx, e); err != nil {
				return stats, fmt.Errorf("indexer: upsert entity %s: %w", e.ID, err)
			}
			stats.Entities++
		}
	} else if len(corpus.Entities) > 0 {
		ix.logger.Warn("no graph store configured, entities skipped", zap.Int("entities", len(corpus.Entities)))
	}

	stats.Duration = time.Since(start)
	ix.logger.Info("corpus indexed",
		zap.Int("documents", stats.Documents),
		zap.Int("chunks", stats.Chunks),
		zap.Int("entities", stats.Entities),
		zap.Int("batches", stats.Batches),
		zap.Duration("duration", stats.Duration))
	return stats, nil
}

func (ix *Indexer) indexBatch(ctx context.Context, batch []rag.Document) error {
	texts := make([]string, len(batch))
	for i, d := range batch {
		texts[i] = embeddingText(d)
	}

	vectors, err := ix.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return fmt.Errorf("indexer: embed batch starting at %s: %w", batch[0].ID, err)
	}
	if len(vectors) != len(batch) {
		return fmt.Errorf("indexer: embedder returned %d vectors for %d documents", len(vectors), len(batch))
	}

	out := make([]rag.Document, len(batch))
	for i, d := range batch {
		d.Embedding = vectors[i]
		out[i] = d
	}
	if err := ix.store.Upsert(ctx, out); err != nil {
		return fmt.Errorf("indexer: upsert batch starting at %s: %w", batch[0].ID, err)
	}
	return nil
}

// embeddingText 标题与正文一起嵌入
func embeddingText(d rag.Document) string {
	if strings.TrimSpace(d.Title) == "" {
		return d.Content
	}
	return d.Title + "\n" + d.Content
}
