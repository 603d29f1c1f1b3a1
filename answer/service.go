package answer

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/BaSui01/answerflow/llm/router"
	"github.com/BaSui01/answerflow/rag"
	"github.com/BaSui01/answerflow/types"
)

// Service 问答入口：缓存查询 → 未命中时检索、生成并回填缓存。
// 同意图与过滤条件下，相同或语义相近问题的并发未命中只计算一次：
// 缓存支持在途登记时由缓存判定相似度，否则按规范化问题合并。
type Service struct {
	deps      Deps
	cfg       Config
	validator *RequestValidator
	flight    singleflight.Group
	handler   Handler
	logger    *zap.Logger
}

type computed struct {
	answer   *rag.Answer
	topK     int
	degraded []string
}

// NewService 创建问答服务；Retriever 与 Generator 必须非空
func NewService(deps Deps, cfg Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.MaxContextDocs <= 0 {
		cfg.MaxContextDocs = def.MaxContextDocs
	}
	if cfg.MaxQuestionLength <= 0 {
		cfg.MaxQuestionLength = def.MaxQuestionLength
	}
	if len(cfg.Intents) == 0 {
		cfg.Intents = def.Intents
	}

	s := &Service{
		deps:      deps,
		cfg:       cfg,
		validator: NewRequestValidator(cfg.MaxQuestionLength, cfg.Intents),
		logger:    logger.With(zap.String("component", "answer_service")),
	}
	s.handler = s.answer
	return s
}

// Use 用拦截器包裹核心处理器；第一个拦截器位于最外层
func (s *Service) Use(interceptors ...Interceptor) *Service {
	s.handler = Chain(s.answer, interceptors...)
	return s
}

// Validator 返回服务使用的请求校验器
func (s *Service) Validator() *RequestValidator {
	return s.validator
}

// AnswerQuestion 回答问题。上下文中没有请求 ID 时生成一个。
func (s *Service) AnswerQuestion(ctx context.Context, req *Request) (*Response, error) {
	if id, ok := types.RequestID(ctx); !ok || id == "" {
		ctx = types.WithRequestID(ctx, uuid.NewString())
	}
	return s.handler(ctx, req)
}

// Stats 返回缓存统计与按层级累计的用量；镜像统计失败时省略镜像部分
func (s *Service) Stats(ctx context.Context) Stats {
	var st Stats
	if s.deps.Cache != nil {
		st.Cache = s.deps.Cache.Stats()
	}
	if s.deps.Costs != nil {
		st.Tiers = s.deps.Costs.Summary()
		st.Totals = s.deps.Costs.Totals()
	}
	if s.deps.Mirror != nil {
		mirror, err := s.deps.Mirror.Stats(ctx)
		if err != nil {
			s.logger.Warn("cache mirror stats unavailable", zap.Error(err))
		} else {
			st.Mirror = mirror
		}
	}
	return st
}

func (s *Service) answer(ctx context.Context, req *Request) (*Response, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}
	if s.deps.Retriever == nil || s.deps.Generator == nil {
		return nil, types.NewError(types.ErrInternalError, "answer service is not fully configured").WithHTTPStatus(500)
	}

	question := strings.TrimSpace(req.Question)
	requestID, _ := types.RequestID(ctx)

	lookup, err := s.lookup(ctx, question, flightScope(req.Intent, req.Filters))
	if err != nil {
		return nil, err
	}
	if lookup.Flight != nil && !lookup.Leader {
		return s.join(ctx, lookup, requestID)
	}
	if lookup.Status != rag.CacheMiss && lookup.Answer != nil {
		resp := &Response{
			AnswerText:  lookup.Answer.Text,
			Sources:     lookup.Answer.Sources,
			CacheStatus: CacheStatus{Kind: lookup.Status},
			Tier:        lookup.Answer.Tier,
			RequestID:   requestID,
		}
		if lookup.Status == rag.CacheHitSemantic {
			resp.CacheStatus.Similarity = lookup.Similarity
		}
		return resp, nil
	}

	var out *computed
	if lookup.Flight != nil {
		out, err = s.lead(ctx, req, question, lookup)
	} else {
		out, err = s.computeShared(ctx, req, question, lookup.Embedding)
	}
	if err != nil {
		return nil, err
	}

	answer := out.answer.Clone()
	return &Response{
		AnswerText:  answer.Text,
		Sources:     answer.Sources,
		CacheStatus: CacheStatus{Kind: rag.CacheMiss},
		Tier:        answer.Tier,
		TopK:        out.topK,
		Degraded:    append([]string(nil), out.degraded...),
		RequestID:   requestID,
	}, nil
}

func (s *Service) lookup(ctx context.Context, question, scope string) (rag.LookupResult, error) {
	if s.deps.Cache == nil {
		return rag.LookupResult{Status: rag.CacheMiss}, nil
	}

	var (
		res rag.LookupResult
		err error
	)
	if fc, ok := s.deps.Cache.(FlightCache); ok {
		res, err = fc.LookupShared(ctx, question, scope)
	} else {
		res, err = s.deps.Cache.Lookup(ctx, question)
	}
	if err != nil {
		if types.IsErrorCode(err, types.ErrDimensionMismatch) {
			s.logger.Error("question embedding dimension mismatch", zap.Error(err))
		}
		return res, err
	}

	if s.deps.CacheObserver != nil {
		s.deps.CacheObserver.RecordCacheLookup(res)
	}
	return res, nil
}

// computeShared 合并相同问题的并发未命中。计算使用脱离调用方取消的上下文，
// 调用方提前离开时其余等待者仍能拿到结果。
func (s *Service) computeShared(ctx context.Context, req *Request, question string, vec []float64) (*computed, error) {
	key := flightKey(question, req.Intent, req.Filters)
	workCtx := context.WithoutCancel(ctx)

	ch := s.flight.DoChan(key, func() (any, error) {
		return s.compute(workCtx, req, question, vec)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		if r.Shared {
			s.logger.Debug("miss path shared with concurrent request", zap.String("key", key))
		}
		return r.Val.(*computed), nil
	}
}

// join 等待相同或相似问题的在途计算，按加入方式报告 EXACT 或 SEMANTIC
func (s *Service) join(ctx context.Context, lookup rag.LookupResult, requestID string) (*Response, error) {
	answer, err := lookup.Flight.Wait(ctx)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("answer shared with in-flight request",
		zap.String("key", lookup.Flight.Key()),
		zap.String("status", string(lookup.Status)))

	resp := &Response{
		AnswerText:  answer.Text,
		Sources:     answer.Sources,
		CacheStatus: CacheStatus{Kind: lookup.Status},
		Tier:        answer.Tier,
		RequestID:   requestID,
	}
	if lookup.Status == rag.CacheHitSemantic {
		resp.CacheStatus.Similarity = lookup.Similarity
	}
	return resp, nil
}

type flightResult struct {
	out *computed
	err error
}

// lead 以发起者身份计算并结束 Flight。计算使用脱离调用方取消的上下文，
// 调用方提前离开时加入者仍能拿到结果。
func (s *Service) lead(ctx context.Context, req *Request, question string, lookup rag.LookupResult) (*computed, error) {
	fc := s.deps.Cache.(FlightCache)
	workCtx := context.WithoutCancel(ctx)
	done := make(chan flightResult, 1)

	go func() {
		var r flightResult
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic in shared answer computation", zap.Any("panic", rec))
				r = flightResult{err: types.NewError(types.ErrInternalError, "internal server error").WithHTTPStatus(500)}
			}
			var answer *rag.Answer
			if r.out != nil {
				answer = r.out.answer
			}
			fc.Complete(lookup.Flight, answer, r.err)
			done <- r
		}()
		r.out, r.err = s.compute(workCtx, req, question, lookup.Embedding)
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		return r.out, r.err
	}
}

func (s *Service) compute(ctx context.Context, req *Request, question string, vec []float64) (*computed, error) {
	retrieval, err := s.deps.Retriever.Retrieve(ctx, rag.RetrievalRequest{
		Question:          question,
		Intent:            req.Intent,
		Filters:           req.Filters,
		QuestionEmbedding: vec,
	})
	if err != nil {
		return nil, err
	}

	docs := retrieval.Candidates
	if len(docs) > s.cfg.MaxContextDocs {
		docs = docs[:s.cfg.MaxContextDocs]
	}

	tier := s.deps.Generator.SelectTier(req.Intent)
	gen, err := s.deps.Generator.Generate(ctx, router.GenerateRequest{
		Prompt: BuildPrompt(question, docs),
		Tier:   tier,
	})
	if err != nil {
		var te *types.Error
		if !errors.As(err, &te) {
			err = types.NewGenerationExhaustedError(err)
		}
		return nil, err
	}

	answer := &rag.Answer{
		Text:    strings.TrimSpace(gen.Text),
		Sources: SourcesFrom(docs),
		Tier:    gen.Tier,
	}

	if s.deps.Cache != nil {
		if err := s.deps.Cache.Store(ctx, question, vec, answer); err != nil {
			s.logger.Warn("cache store failed", zap.Error(err))
		}
		if s.deps.CacheObserver != nil {
			s.deps.CacheObserver.SyncCacheStats(s.deps.Cache.Stats())
		}
	}

	return &computed{answer: answer, topK: retrieval.TopK, degraded: retrieval.Degraded}, nil
}

// flightKey 规范化问题 + 意图 + 排序后的过滤条件
func flightKey(question string, intent types.Intent, filters rag.Filters) string {
	return rag.NormalizeQuestion(question) + "\x00" + flightScope(intent, filters)
}

// flightScope 意图 + 排序后的过滤条件；只有同一范围内的问题才合并计算
func flightScope(intent types.Intent, filters rag.Filters) string {
	var b strings.Builder
	b.WriteString(string(intent))

	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteByte(0)
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(filters[k])
	}
	return b.String()
}
