package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/BaSui01/answerflow/answer"
	"github.com/BaSui01/answerflow/config"
	"github.com/BaSui01/answerflow/internal/database"
	"github.com/BaSui01/answerflow/internal/metrics"
	"github.com/BaSui01/answerflow/internal/telemetry"
	"github.com/BaSui01/answerflow/internal/usage"
	"github.com/BaSui01/answerflow/llm"
	"github.com/BaSui01/answerflow/llm/embedding"
	"github.com/BaSui01/answerflow/llm/observability"
	"github.com/BaSui01/answerflow/llm/router"
	"github.com/BaSui01/answerflow/rag"
	"github.com/BaSui01/answerflow/rag/loader"
	"github.com/BaSui01/answerflow/types"
)

// closer 按注册的逆序释放资源
type closer func(ctx context.Context) error

// stores 检索侧依赖：向量化、向量存储与可选的图存储
type stores struct {
	embedder embedding.Embedder
	vectors  rag.VectorStore
	graph    rag.GraphStore
	closers  []closer
}

// entityWriter 返回可写入实体的图存储；未配置或只读时为 nil
func (s *stores) entityWriter() loader.EntityWriter {
	if s.graph == nil {
		return nil
	}
	if w, ok := s.graph.(loader.EntityWriter); ok {
		return w
	}
	return nil
}

func (s *stores) close(ctx context.Context) error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// openStores 按配置创建向量化与检索存储
func openStores(cfg *config.Config, logger *zap.Logger) (*stores, error) {
	s := &stores{}

	embedder, closeEmbedder, err := rag.NewEmbedderFromConfig(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}
	s.embedder = embedder
	s.closers = append(s.closers, func(context.Context) error {
		closeEmbedder()
		return nil
	})

	vectors, err := rag.NewVectorStoreFromConfig(cfg, logger)
	if err != nil {
		_ = s.close(context.Background())
		return nil, fmt.Errorf("create vector store: %w", err)
	}
	s.vectors = vectors

	graph, err := rag.NewGraphStoreFromConfig(cfg, logger)
	if err != nil {
		_ = s.close(context.Background())
		return nil, fmt.Errorf("create graph store: %w", err)
	}
	if graph != nil {
		s.graph = graph
		if neo, ok := graph.(*rag.Neo4jGraphStore); ok {
			s.closers = append(s.closers, neo.Close)
		}
	}
	return s, nil
}

// ingest 加载 path 下的语料并写入存储
func (s *stores) ingest(ctx context.Context, path string, logger *zap.Logger) (loader.IndexStats, error) {
	corpus, err := loader.NewRegistry().LoadPath(ctx, path)
	if err != nil {
		return loader.IndexStats{}, fmt.Errorf("load corpus: %w", err)
	}
	ix := loader.NewIndexer(s.embedder, s.vectors, s.entityWriter(), loader.DefaultIndexerConfig(), logger)
	return ix.Index(ctx, corpus)
}

// appOptions 构建应用的可选项
type appOptions struct {
	// documents 启动时导入的语料路径，可为空
	documents string
	// registerer Prometheus 注册表，nil 时使用默认注册表
	registerer prometheus.Registerer
}

// application 装配完成的问答服务及其依赖
type application struct {
	cfg       *config.Config
	logger    *zap.Logger
	service   *answer.Service
	router    *router.TieredRouter
	collector *metrics.Collector
	cache     *rag.SemanticCache
	mirror    answer.MirrorReporter
	stores    *stores
	ledger    *usage.Ledger
	closers   []closer
}

// newApplication 按配置装配缓存、检索编排、分层路由与问答服务
func newApplication(ctx context.Context, cfg *config.Config, opts appOptions, logger *zap.Logger) (*application, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &application{cfg: cfg, logger: logger}

	reg := opts.registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	app.collector = metrics.NewCollectorWithRegisterer(cfg.Telemetry.MetricsNamespace, reg, logger)

	st, err := openStores(cfg, logger)
	if err != nil {
		return nil, err
	}
	app.stores = st
	app.closers = append(app.closers, st.close)

	if opts.documents != "" {
		stats, err := st.ingest(ctx, opts.documents, logger)
		if err != nil {
			app.Close(context.Background())
			return nil, fmt.Errorf("seed documents: %w", err)
		}
		logger.Info("documents seeded",
			zap.String("path", opts.documents),
			zap.Int("documents", stats.Documents),
			zap.Int("entities", stats.Entities))
	}

	if err := app.buildRouter(); err != nil {
		app.Close(context.Background())
		return nil, err
	}
	if err := app.buildCache(ctx); err != nil {
		app.Close(context.Background())
		return nil, err
	}

	orchestrator, err := app.buildOrchestrator()
	if err != nil {
		app.Close(context.Background())
		return nil, err
	}

	svc := answer.NewService(answer.Deps{
		Cache:         app.cache,
		Retriever:     orchestrator,
		Generator:     app.router,
		Costs:         app.router.Ledger(),
		CacheObserver: app.collector,
		Mirror:        app.mirror,
	}, answer.Config{
		MaxContextDocs:    cfg.Retrieval.MaxContextDocs,
		MaxQuestionLength: cfg.Server.MaxQuestionLength,
		Intents:           cfg.IntentVocabulary(),
	}, logger)
	svc.Use(
		answer.Recovery(logger),
		answer.Tracing(telemetry.Tracer("answerflow/answer")),
		answer.Logging(logger),
		answer.Metrics(app.collector),
		answer.Validation(svc.Validator()),
		answer.RateLimit(answer.NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst)),
	)
	app.service = svc
	return app, nil
}

func (a *application) buildRouter() error {
	cfg := a.cfg
	provider := llm.NewOpenAIProvider(llm.OpenAIConfig{HTTPConfig: llm.HTTPConfig{
		Name:    "openai",
		BaseURL: cfg.LLM.BaseURL,
		APIKey:  cfg.LLM.APIKey,
		Timeout: cfg.LLM.Timeout,
		Breaker: rag.NewBreakerFromConfig(cfg, "llm", a.logger),
	}}, a.logger)

	r, err := router.NewTieredRouter(provider, routerConfigFrom(cfg), nil, a.logger)
	if err != nil {
		return fmt.Errorf("create tiered router: %w", err)
	}
	r.WithObserver(a.collector)

	if m, err := observability.NewMetrics(); err != nil {
		a.logger.Warn("otel generation metrics unavailable", zap.Error(err))
	} else {
		r.WithMetrics(m)
	}

	if cfg.Usage.Enabled {
		pool, err := database.Open(cfg.Usage.Database, a.logger)
		if err != nil {
			return fmt.Errorf("open usage database: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return pool.Close() })

		ledger, err := usage.NewLedger(pool, a.logger)
		if err != nil {
			return err
		}
		a.ledger = ledger
		r.WithRecorder(ledger)
	}

	a.router = r
	return nil
}

func (a *application) buildCache(ctx context.Context) error {
	cache := rag.NewSemanticCache(a.stores.embedder, rag.SemanticCacheConfigFrom(a.cfg), a.logger)

	mirror, closeMirror, err := rag.NewCacheMirrorFromConfig(a.cfg, a.logger)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, func(context.Context) error { return closeMirror() })
	if mirror != nil {
		cache.WithMirror(mirror)
		a.mirror = mirror
		n, err := cache.Warm(ctx)
		if err != nil {
			a.logger.Warn("semantic cache warm-up failed", zap.Error(err))
		} else {
			a.logger.Info("semantic cache warmed", zap.Int("entries", n))
		}
	}

	a.cache = cache
	return nil
}

func (a *application) buildOrchestrator() (*rag.Orchestrator, error) {
	cfg := a.cfg
	selector, err := rag.NewTopKSelectorFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("create top_k selector: %w", err)
	}

	hyde := rag.NewRouterHypothesizer(a.router, cfg.Augment.HyDETier)
	augmenter := rag.NewQueryAugmenter(rag.AugmentConfigFrom(cfg), hyde, a.logger)

	deps := rag.OrchestratorDeps{
		Selector:    selector,
		Augmenter:   augmenter,
		Embedder:    a.stores.embedder,
		VectorStore: a.stores.vectors,
		GraphStore:  a.stores.graph,
	}

	scorer, err := rag.NewScorerFromConfig(cfg, a.logger)
	if err != nil {
		return nil, fmt.Errorf("create rerank scorer: %w", err)
	}
	if scorer != nil {
		deps.Reranker = rag.NewCrossEncoderReranker(scorer, rag.RerankConfigFrom(cfg), a.logger)
	}

	return rag.NewOrchestrator(deps, rag.RetrievalConfigFrom(cfg), a.logger).WithObserver(a.collector), nil
}

// Close 按逆序释放资源
func (a *application) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("resource cleanup failed", zap.Error(err))
		return err
	}
	return nil
}

// routerConfigFrom 映射分层路由配置
func routerConfigFrom(cfg *config.Config) router.Config {
	tiers := make([]router.Tier, 0, len(cfg.Router.Tiers))
	for _, t := range cfg.Router.Tiers {
		tiers = append(tiers, router.Tier{
			Name:               t.Name,
			Model:              t.Model,
			CostPerInputToken:  t.CostPerInputToken,
			CostPerOutputToken: t.CostPerOutputToken,
			NominalLatency:     t.NominalLatency,
			Temperature:        t.Temperature,
			MaxTokens:          t.MaxTokens,
		})
	}

	fallback := make(map[string][]string, len(cfg.Router.Fallback))
	for tier, chain := range cfg.Router.Fallback {
		fallback[tier] = append([]string(nil), chain...)
	}

	return router.Config{
		Tiers:        tiers,
		IntentTiers:  cfg.IntentTiers(),
		Fallback:     fallback,
		RetryBackoff: cfg.Router.RetryBackoff,
		CallTimeout:  cfg.Router.CallTimeout,
		SystemPrompt: answer.SystemPrompt,
	}
}

// defaultIntent 未指定意图时使用词表中的第一个
func defaultIntent(cfg *config.Config) types.Intent {
	if vocab := cfg.IntentVocabulary(); len(vocab) > 0 {
		return vocab[0]
	}
	return types.IntentFactual
}
