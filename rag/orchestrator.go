package rag

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/answerflow/llm/embedding"
	"github.com/BaSui01/answerflow/llm/retry"
	"github.com/BaSui01/answerflow/types"
)

// 降级来源
const (
	DegradedEmbedding = "embedding"
	DegradedVector    = "vector"
	DegradedGraph     = "graph"
	DegradedAugment   = "augment"
)

// 检索阶段名称，用于耗时观测
const (
	StageAugment = "augment"
	StageEmbed   = "embed"
	StageSearch  = "search"
	StageRerank  = "rerank"
)

// RetrievalConfig 检索编排配置
type RetrievalConfig struct {
	// StoreTimeout 单次存储调用超时
	StoreTimeout time.Duration `json:"store_timeout"`
	// RetryBackoff 失败后重试前的等待
	RetryBackoff time.Duration `json:"retry_backoff"`
	// GraphLimit 图查询返回实体上限
	GraphLimit int `json:"graph_limit"`
}

// DefaultRetrievalConfig 返回默认检索配置
func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{
		StoreTimeout: 3 * time.Second,
		RetryBackoff: 150 * time.Millisecond,
		GraphLimit:   25,
	}
}

// RetrievalObserver 接收检索过程指标（例如 Prometheus 采集器）
type RetrievalObserver interface {
	ObserveTopK(intent types.Intent, topK int)
	ObserveStoreFailure(store string)
	ObserveRerank(outcome RerankOutcome)
	ObserveStage(stage string, elapsed time.Duration)
}

// OrchestratorDeps 检索编排依赖；Augmenter、GraphStore、Reranker 可为空
type OrchestratorDeps struct {
	Selector    *TopKSelector
	Augmenter   *QueryAugmenter
	Embedder    embedding.Embedder
	VectorStore VectorStore
	GraphStore  GraphStore
	Reranker    *CrossEncoderReranker
}

// RetrievalRequest 检索请求
type RetrievalRequest struct {
	Question string
	Intent   types.Intent
	Filters  Filters
	// QuestionEmbedding 语义缓存已计算的问题向量，可为 nil
	QuestionEmbedding []float64
}

// RetrievalResult 检索结果
type RetrievalResult struct {
	Candidates []Candidate     `json:"candidates"`
	TopK       int             `json:"top_k"`
	Augmented  *AugmentedQuery `json:"augmented,omitempty"`
	Rerank     RerankOutcome   `json:"rerank"`
	// Degraded 部分失败但仍继续的环节
	Degraded []string `json:"degraded,omitempty"`
}

// Orchestrator 把问题转换为排序、过滤后的候选集
type Orchestrator struct {
	deps     OrchestratorDeps
	cfg      RetrievalConfig
	retryer  retry.Retryer
	observer RetrievalObserver
	logger   *zap.Logger
}

// NewOrchestrator 创建检索编排器；Selector 为空时使用默认 top_k 配置
func NewOrchestrator(deps OrchestratorDeps, cfg RetrievalConfig, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultRetrievalConfig()
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = def.StoreTimeout
	}
	if cfg.RetryBackoff < 0 {
		cfg.RetryBackoff = 0
	}
	if cfg.GraphLimit <= 0 {
		cfg.GraphLimit = def.GraphLimit
	}
	if deps.Selector == nil {
		deps.Selector, _ = NewTopKSelector(DefaultTopKConfig(), nil)
	}

	logger = logger.With(zap.String("component", "retrieval_orchestrator"))
	policy := &retry.RetryPolicy{
		MaxRetries:     1,
		InitialDelay:   cfg.RetryBackoff,
		MaxDelay:       cfg.RetryBackoff + time.Millisecond,
		Multiplier:     1,
		AttemptTimeout: cfg.StoreTimeout,
		ShouldRetry: func(err error) bool {
			return !types.IsErrorCode(err, types.ErrDimensionMismatch)
		},
	}

	return &Orchestrator{
		deps:    deps,
		cfg:     cfg,
		retryer: retry.NewBackoffRetryer(policy, logger),
		logger:  logger,
	}
}

// WithObserver 设置指标观察者
func (o *Orchestrator) WithObserver(obs RetrievalObserver) *Orchestrator {
	o.observer = obs
	return o
}

// TopK 返回问题对应的检索广度
func (o *Orchestrator) TopK(question string, intent types.Intent) int {
	return o.deps.Selector.SelectTopK(question, intent)
}

type searchOutcome struct {
	hits []VectorHit
	err  error
}

// Retrieve 执行检索：top_k → 查询增强 → 向量化 → 并发向量与图检索 →
// 合并与图过滤 → 截断 → 重排。全部检索失败且无候选时返回 RETRIEVAL_UNAVAILABLE。
func (o *Orchestrator) Retrieve(ctx context.Context, req RetrievalRequest) (*RetrievalResult, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, types.NewValidationError(types.ErrInvalidQuestion, "question is empty")
	}

	result := &RetrievalResult{TopK: o.TopK(question, req.Intent)}
	o.observeTopK(req.Intent, result.TopK)

	texts := []string{question}
	if o.deps.Augmenter.Enabled() {
		start := time.Now()
		aug, err := o.deps.Augmenter.Augment(ctx, question)
		o.observeStage(StageAugment, time.Since(start))
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			o.logger.Warn("query augmentation failed, using raw question", zap.Error(err))
			result.Degraded = append(result.Degraded, DegradedAugment)
		} else {
			result.Augmented = aug
			texts = aug.SearchTexts()
		}
	}

	vectors, embedErr := o.embedTexts(ctx, question, texts, req.QuestionEmbedding)
	if embedErr != nil {
		if types.IsErrorCode(embedErr, types.ErrDimensionMismatch) {
			return nil, embedErr
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		o.observeFailure(DegradedEmbedding)
		o.logger.Warn("retrieval embedding unavailable", zap.Error(embedErr))
		result.Degraded = append(result.Degraded, DegradedEmbedding)
	}

	searchStart := time.Now()
	outcomes := make([]searchOutcome, len(vectors))
	var (
		entities  []EntityRecord
		graphErr  error
		graphUsed = o.deps.GraphStore != nil && len(req.Filters) > 0
	)

	var g errgroup.Group
	if o.deps.VectorStore != nil {
		for i, vec := range vectors {
			g.Go(func() error {
				hits, err := retry.DoWithResultTyped(ctx, o.retryer, func(ctx context.Context) ([]VectorHit, error) {
					return o.deps.VectorStore.Search(ctx, vec, result.TopK, req.Filters)
				})
				outcomes[i] = searchOutcome{hits: hits, err: err}
				return nil
			})
		}
	}
	if graphUsed {
		g.Go(func() error {
			entities, graphErr = retry.DoWithResultTyped(ctx, o.retryer, func(ctx context.Context) ([]EntityRecord, error) {
				return o.deps.GraphStore.Query(ctx, GraphQuery{Filters: req.Filters, Limit: o.cfg.GraphLimit})
			})
			return nil
		})
	}
	_ = g.Wait()
	o.observeStage(StageSearch, time.Since(searchStart))

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		hitLists  [][]VectorHit
		succeeded int
		lastErr   = embedErr
	)
	if o.deps.VectorStore != nil && len(vectors) > 0 {
		vectorFailed := 0
		for _, out := range outcomes {
			if out.err != nil {
				if types.IsErrorCode(out.err, types.ErrDimensionMismatch) {
					return nil, out.err
				}
				vectorFailed++
				lastErr = out.err
				continue
			}
			succeeded++
			hitLists = append(hitLists, out.hits)
		}
		if vectorFailed > 0 {
			o.observeFailure(DegradedVector)
			o.logger.Warn("vector search failed",
				zap.Int("failed", vectorFailed),
				zap.Int("searches", len(outcomes)),
				zap.Error(lastErr))
			result.Degraded = append(result.Degraded, DegradedVector)
		}
	}

	graphAnswered := false
	if graphUsed {
		if graphErr != nil {
			o.observeFailure(DegradedGraph)
			o.logger.Warn("graph query failed", zap.Error(graphErr))
			result.Degraded = append(result.Degraded, DegradedGraph)
			lastErr = graphErr
		} else {
			graphAnswered = true
			succeeded++
		}
	}

	if succeeded == 0 {
		if lastErr == nil {
			lastErr = errors.New("no retrieval store configured")
		}
		return nil, types.NewRetrievalUnavailableError(lastErr)
	}

	candidates := mergeHits(hitLists)
	if graphUsed && graphAnswered {
		candidates = applyGraph(candidates, entities)
	}
	if len(candidates) > result.TopK {
		candidates = candidates[:result.TopK]
	}

	rerankStart := time.Now()
	result.Candidates, result.Rerank = o.deps.Reranker.Rerank(ctx, question, candidates)
	if result.Rerank != RerankSkipped {
		o.observeStage(StageRerank, time.Since(rerankStart))
	}
	o.observeRerank(result.Rerank)

	o.logger.Debug("retrieval completed",
		zap.Int("top_k", result.TopK),
		zap.Int("candidates", len(result.Candidates)),
		zap.Int("search_texts", len(texts)),
		zap.String("rerank", string(result.Rerank)),
		zap.Strings("degraded", result.Degraded))

	return result, nil
}

// embedTexts 计算每个检索文本的向量；原问题复用已有向量。
// 任一文本向量化失败即整体失败，由调用方降级为仅图检索。
func (o *Orchestrator) embedTexts(ctx context.Context, question string, texts []string, questionVec []float64) ([][]float64, error) {
	vectors := make([][]float64, len(texts))
	var pending []string
	var slots []int
	for i, text := range texts {
		if text == question && len(questionVec) > 0 {
			vectors[i] = questionVec
			continue
		}
		pending = append(pending, text)
		slots = append(slots, i)
	}
	if len(pending) == 0 {
		return vectors, nil
	}
	if o.deps.Embedder == nil {
		return nil, errors.New("no embedder configured")
	}

	start := time.Now()
	embedded, err := retry.DoWithResultTyped(ctx, o.retryer, func(ctx context.Context) ([][]float64, error) {
		return o.deps.Embedder.EmbedDocuments(ctx, pending)
	})
	o.observeStage(StageEmbed, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("embed search texts: %w", err)
	}
	if len(embedded) != len(pending) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(embedded), len(pending))
	}

	for j, vec := range embedded {
		vectors[slots[j]] = vec
	}
	dim := len(vectors[0])
	for _, vec := range vectors[1:] {
		if len(vec) != dim {
			return nil, types.NewDimensionMismatchError(dim, len(vec))
		}
	}
	return vectors, nil
}

// mergeHits 按文档 ID 合并多路命中，保留最高分，按分数稳定降序
func mergeHits(lists [][]VectorHit) []Candidate {
	index := make(map[string]int)
	var out []Candidate
	for _, hits := range lists {
		for _, hit := range hits {
			id := hit.Document.ID
			if id == "" {
				continue
			}
			if i, ok := index[id]; ok {
				if hit.Score > out[i].BiEncoderScore {
					out[i].BiEncoderScore = hit.Score
				}
				continue
			}
			index[id] = len(out)
			out = append(out, Candidate{
				DocumentID:     id,
				Title:          hit.Document.Title,
				Content:        hit.Document.Content,
				BiEncoderScore: hit.Score,
				Source:         SourceVector,
				Metadata:       copyProperties(hit.Document.Metadata),
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].BiEncoderScore > out[j].BiEncoderScore
	})
	return out
}

// applyGraph 用图查询结果过滤并补充候选：
// 未被任何实体关联的向量候选被丢弃，关联实体名写入 metadata["entities"]，
// 带摘要的实体作为 graph 来源候选加入，分数取其关联候选的最高分。
func applyGraph(candidates []Candidate, entities []EntityRecord) []Candidate {
	linked := make(map[string][]string)
	for _, e := range entities {
		for _, docID := range e.DocumentIDs {
			if !containsString(linked[docID], e.Name) {
				linked[docID] = append(linked[docID], e.Name)
			}
		}
	}

	kept := make([]Candidate, 0, len(candidates))
	best := make(map[string]float64, len(candidates))
	for _, c := range candidates {
		names, ok := linked[c.DocumentID]
		if !ok {
			continue
		}
		if c.Metadata == nil {
			c.Metadata = make(map[string]any, 1)
		}
		c.Metadata["entities"] = append([]string(nil), names...)
		kept = append(kept, c)
		best[c.DocumentID] = c.BiEncoderScore
	}

	for _, e := range entities {
		if strings.TrimSpace(e.Summary) == "" {
			continue
		}
		score := 0.0
		for _, docID := range e.DocumentIDs {
			if s, ok := best[docID]; ok && s > score {
				score = s
			}
		}
		meta := copyProperties(e.Properties)
		if meta == nil {
			meta = make(map[string]any, 2)
		}
		meta["entity_type"] = e.Type
		meta["document_ids"] = append([]string(nil), e.DocumentIDs...)
		kept = append(kept, Candidate{
			DocumentID:     "entity:" + e.ID,
			Title:          e.Name,
			Content:        e.Summary,
			BiEncoderScore: score,
			Source:         SourceGraph,
			Metadata:       meta,
		})
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].BiEncoderScore > kept[j].BiEncoderScore
	})
	return kept
}

func (o *Orchestrator) observeTopK(intent types.Intent, k int) {
	if o.observer != nil {
		o.observer.ObserveTopK(intent, k)
	}
}

func (o *Orchestrator) observeFailure(store string) {
	if o.observer != nil {
		o.observer.ObserveStoreFailure(store)
	}
}

func (o *Orchestrator) observeRerank(outcome RerankOutcome) {
	if o.observer != nil {
		o.observer.ObserveRerank(outcome)
	}
}

func (o *Orchestrator) observeStage(stage string, d time.Duration) {
	if o.observer != nil {
		o.observer.ObserveStage(stage, d)
	}
}
