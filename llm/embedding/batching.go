package embedding

import (
	"context"

	"go.uber.org/zap"

	"github.com/BaSui01/answerflow/llm/batch"
)

// BatchingEmbedder 将窗口期内到达的 EmbedQuery 调用合并为一次 EmbedDocuments。
// 调用方 ctx 在分发前结束时，该调用被移除，不影响同批其他调用方。
type BatchingEmbedder struct {
	inner     Embedder
	processor *batch.Processor[string, []float64]
	logger    *zap.Logger
}

// NewBatchingEmbedder 包装 inner，返回合并嵌入器
func NewBatchingEmbedder(inner Embedder, cfg BatchingConfig, logger *zap.Logger) *BatchingEmbedder {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "batching_embedder"))

	bcfg := batch.DefaultBatchConfig()
	if cfg.Window > 0 {
		bcfg.MaxWaitTime = cfg.Window
	}
	if cfg.MaxBatchSize > 0 {
		bcfg.MaxBatchSize = cfg.MaxBatchSize
	}
	if cfg.Timeout > 0 {
		bcfg.HandlerTimeout = cfg.Timeout
	}

	e := &BatchingEmbedder{inner: inner, logger: logger}
	e.processor = batch.NewProcessor(bcfg, func(ctx context.Context, texts []string) ([][]float64, error) {
		vecs, err := inner.EmbedDocuments(ctx, texts)
		if err != nil {
			logger.Warn("batched embedding failed", zap.Int("batch_size", len(texts)), zap.Error(err))
			return nil, err
		}
		logger.Debug("batched embedding served", zap.Int("batch_size", len(texts)))
		return vecs, nil
	})
	return e
}

// EmbedQuery 经合并窗口嵌入单个查询
func (e *BatchingEmbedder) EmbedQuery(ctx context.Context, query string) ([]float64, error) {
	return e.processor.Submit(ctx, query)
}

// EmbedDocuments 已是批量调用，直接转发
func (e *BatchingEmbedder) EmbedDocuments(ctx context.Context, documents []string) ([][]float64, error) {
	return e.inner.EmbedDocuments(ctx, documents)
}

// Stats 返回合并统计
func (e *BatchingEmbedder) Stats() batch.BatchStats {
	return e.processor.Stats()
}

// Close 停止合并 Worker
func (e *BatchingEmbedder) Close() {
	e.processor.Close()
}
