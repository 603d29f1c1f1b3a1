package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/answerflow/llm"
	"github.com/BaSui01/answerflow/llm/observability"
	"github.com/BaSui01/answerflow/llm/retry"
	"github.com/BaSui01/answerflow/types"
)

var (
	ErrNoTiers     = errors.New("no model tiers configured")
	ErrUnknownTier = errors.New("unknown model tier")
)

// Tier 模型层级
type Tier struct {
	Name               string
	Model              string
	CostPerInputToken  float64
	CostPerOutputToken float64
	NominalLatency     time.Duration
	Temperature        float64
	MaxTokens          int
}

// Config 分层路由配置
type Config struct {
	// Tiers 按成本升序或任意顺序声明的层级
	Tiers []Tier
	// IntentTiers 意图 → 层级
	IntentTiers map[types.Intent]string
	// Fallback 层级 → 依次降级的层级
	Fallback map[string][]string
	// DefaultTier 未知意图使用的层级
	DefaultTier string
	// RetryBackoff 同层重试前的等待
	RetryBackoff time.Duration
	// CallTimeout 单次调用超时
	CallTimeout time.Duration
	// SystemPrompt 生成时附带的系统提示
	SystemPrompt string
}

// UsageEvent 一次成功生成的用量
type UsageEvent struct {
	RequestID string
	Tier      string
	Model     string
	TokensIn  int
	TokensOut int
	Cost      float64
	Estimated bool
	Attempts  int
	At        time.Time
}

// UsageRecorder 持久化用量（可选）
type UsageRecorder interface {
	RecordUsage(ctx context.Context, ev UsageEvent) error
}

// Observer 接收每次尝试的结果（例如 Prometheus 采集器）
type Observer interface {
	ObserveAttempt(tier, outcome string, d time.Duration)
	ObserveUsage(tier string, tokensIn, tokensOut int, cost float64)
}

// Attempt 单次调用记录
type Attempt struct {
	Tier     string        `json:"tier"`
	Model    string        `json:"model"`
	Number   int           `json:"number"`
	Duration time.Duration `json:"duration"`
	Err      error         `json:"-"`
}

// GenerateRequest 生成请求
type GenerateRequest struct {
	Prompt string
	// System 覆盖默认系统提示
	System string
	// Tier 起始层级
	Tier string
	// MaxTokens 覆盖层级的最大输出（0 表示使用层级配置）
	MaxTokens int
	// Temperature 覆盖层级温度（nil 表示使用层级配置）
	Temperature *float64
	// NoFallback 只在起始层级内重试，不降级
	NoFallback bool
}

// Generation 生成结果
type Generation struct {
	Text      string    `json:"text"`
	Tier      string    `json:"tier"`
	Model     string    `json:"model"`
	TokensIn  int       `json:"tokens_in"`
	TokensOut int       `json:"tokens_out"`
	Cost      float64   `json:"cost"`
	Attempts  []Attempt `json:"attempts"`
}

// TieredRouter 按意图选择模型层级，同层退避重试一次后沿降级链切换层级。
type TieredRouter struct {
	provider llm.Provider
	cfg      Config
	tiers    map[string]Tier
	ledger   *observability.CostLedger
	recorder UsageRecorder
	observer Observer
	metrics  *observability.Metrics
	logger   *zap.Logger
}

// NewTieredRouter 创建分层路由器；ledger 为 nil 时按层级单价新建
func NewTieredRouter(provider llm.Provider, cfg Config, ledger *observability.CostLedger, logger *zap.Logger) (*TieredRouter, error) {
	if provider == nil {
		return nil, errors.New("generation provider is required")
	}
	if len(cfg.Tiers) == 0 {
		return nil, ErrNoTiers
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	tiers := make(map[string]Tier, len(cfg.Tiers))
	prices := make([]observability.TierPrice, 0, len(cfg.Tiers))
	for _, t := range cfg.Tiers {
		tiers[t.Name] = t
		prices = append(prices, observability.TierPrice{
			Tier:               t.Name,
			Model:              t.Model,
			CostPerInputToken:  t.CostPerInputToken,
			CostPerOutputToken: t.CostPerOutputToken,
		})
	}
	for intent, tier := range cfg.IntentTiers {
		if _, ok := tiers[tier]; !ok {
			return nil, fmt.Errorf("intent %q: %w %q", intent, ErrUnknownTier, tier)
		}
	}
	if cfg.DefaultTier == "" {
		cfg.DefaultTier = cfg.Tiers[0].Name
		if _, ok := tiers["balanced"]; ok {
			cfg.DefaultTier = "balanced"
		}
	}
	if _, ok := tiers[cfg.DefaultTier]; !ok {
		return nil, fmt.Errorf("default tier: %w %q", ErrUnknownTier, cfg.DefaultTier)
	}

	if ledger == nil {
		ledger = observability.NewCostLedger(observability.NewCostCalculator(prices...))
	} else {
		for _, p := range prices {
			ledger.Calculator().SetPrice(p)
		}
	}

	return &TieredRouter{
		provider: provider,
		cfg:      cfg,
		tiers:    tiers,
		ledger:   ledger,
		logger:   logger.With(zap.String("component", "tiered_router")),
	}, nil
}

// WithRecorder 设置用量持久化
func (r *TieredRouter) WithRecorder(rec UsageRecorder) *TieredRouter {
	r.recorder = rec
	return r
}

// WithObserver 设置尝试观察者
func (r *TieredRouter) WithObserver(o Observer) *TieredRouter {
	r.observer = o
	return r
}

// WithMetrics 设置 OpenTelemetry 指标
func (r *TieredRouter) WithMetrics(m *observability.Metrics) *TieredRouter {
	r.metrics = m
	return r
}

// Ledger 返回成本账本
func (r *TieredRouter) Ledger() *observability.CostLedger {
	return r.ledger
}

// SelectTier 按意图选择层级，未知意图使用默认层级
func (r *TieredRouter) SelectTier(intent types.Intent) string {
	if tier, ok := r.cfg.IntentTiers[intent]; ok {
		return tier
	}
	return r.cfg.DefaultTier
}

// Tier 返回层级定义
func (r *TieredRouter) Tier(name string) (Tier, bool) {
	t, ok := r.tiers[name]
	return t, ok
}

// Chain 返回从 tier 开始的完整尝试顺序（去重，仅含已配置层级）
func (r *TieredRouter) Chain(tier string) []string {
	chain := []string{tier}
	seen := map[string]bool{tier: true}
	for _, next := range r.cfg.Fallback[tier] {
		if seen[next] {
			continue
		}
		if _, ok := r.tiers[next]; !ok {
			continue
		}
		seen[next] = true
		chain = append(chain, next)
	}
	return chain
}

// Generate 在起始层级生成，失败时退避重试一次，仍失败则降级到下一层级。
// 所有层级耗尽后返回 GENERATION_EXHAUSTED。
func (r *TieredRouter) Generate(ctx context.Context, req GenerateRequest) (*Generation, error) {
	start := req.Tier
	if start == "" {
		start = r.cfg.DefaultTier
	}
	if _, ok := r.tiers[start]; !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownTier, start)
	}

	chain := r.Chain(start)
	if req.NoFallback {
		chain = chain[:1]
	}

	if r.metrics != nil {
		var endSpan func()
		ctx, endSpan = r.startSpan(ctx, start)
		defer endSpan()
	}

	gen := &Generation{}
	var lastErr error
	for i, tierName := range chain {
		if i > 0 {
			r.logger.Warn("falling back to next tier",
				zap.String("from", chain[i-1]),
				zap.String("to", tierName),
				zap.Error(lastErr))
			if r.metrics != nil {
				r.metrics.RecordFallback(ctx, chain[i-1], tierName)
			}
		}

		resp, err := r.tryTier(ctx, r.tiers[tierName], req, gen)
		if err == nil {
			return r.finish(ctx, gen, r.tiers[tierName], resp), nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	r.logger.Error("all tiers exhausted",
		zap.Strings("chain", chain),
		zap.Int("attempts", len(gen.Attempts)),
		zap.Error(lastErr))
	return nil, types.NewGenerationExhaustedError(lastErr)
}

func (r *TieredRouter) startSpan(ctx context.Context, tier string) (context.Context, func()) {
	ctx, span := r.metrics.StartGeneration(ctx, tier)
	return ctx, func() { span.End() }
}

// tryTier 在单个层级内最多尝试两次
func (r *TieredRouter) tryTier(ctx context.Context, tier Tier, req GenerateRequest, gen *Generation) (*llm.ChatResponse, error) {
	retryer := retry.NewBackoffRetryer(&retry.RetryPolicy{
		MaxRetries:     1,
		InitialDelay:   r.cfg.RetryBackoff,
		MaxDelay:       r.cfg.RetryBackoff,
		Multiplier:     1,
		AttemptTimeout: r.cfg.CallTimeout,
	}, r.logger)

	chatReq := r.buildRequest(tier, req)
	var resp *llm.ChatResponse
	number := 0
	err := retryer.Do(ctx, func(ctx context.Context) error {
		number++
		began := time.Now()
		out, err := r.provider.Completion(ctx, chatReq)
		if err == nil && out == nil {
			err = errors.New("empty generation response")
		}
		d := time.Since(began)

		gen.Attempts = append(gen.Attempts, Attempt{Tier: tier.Name, Model: tier.Model, Number: number, Duration: d, Err: err})
		outcome := "success"
		if err != nil {
			outcome = "failure"
			r.logger.Warn("generation attempt failed",
				zap.String("tier", tier.Name),
				zap.String("model", tier.Model),
				zap.Int("attempt", number),
				zap.Duration("duration", d),
				zap.Error(err))
		}
		if r.observer != nil {
			r.observer.ObserveAttempt(tier.Name, outcome, d)
		}
		if r.metrics != nil && err != nil {
			r.metrics.RecordAttempt(ctx, observability.AttemptAttrs{Tier: tier.Name, Model: tier.Model, Attempt: number, Duration: d, Err: err})
		}
		if err != nil {
			return err
		}
		resp = out
		return nil
	})
	return resp, err
}

func (r *TieredRouter) buildRequest(tier Tier, req GenerateRequest) *llm.ChatRequest {
	system := req.System
	if system == "" {
		system = r.cfg.SystemPrompt
	}
	maxTokens := tier.MaxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}
	temperature := tier.Temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	return &llm.ChatRequest{
		Model:       tier.Model,
		Messages:    llm.UserPrompt(system, req.Prompt),
		MaxTokens:   maxTokens,
		Temperature: float32(temperature),
	}
}

func (r *TieredRouter) finish(ctx context.Context, gen *Generation, tier Tier, resp *llm.ChatResponse) *Generation {
	in, out := resp.Usage.PromptTokens, resp.Usage.CompletionTokens
	cost := r.ledger.Record(tier.Name, in, out)

	gen.Text = resp.Content
	gen.Tier = tier.Name
	gen.Model = tier.Model
	gen.TokensIn = in
	gen.TokensOut = out
	gen.Cost = cost

	if r.observer != nil {
		r.observer.ObserveUsage(tier.Name, in, out, cost)
	}
	if r.metrics != nil {
		last := gen.Attempts[len(gen.Attempts)-1]
		r.metrics.RecordAttempt(ctx, observability.AttemptAttrs{
			Tier: tier.Name, Model: tier.Model, Attempt: last.Number,
			TokensIn: in, TokensOut: out, Cost: cost, Duration: last.Duration,
		})
	}
	if r.recorder != nil {
		requestID, _ := types.RequestID(ctx)
		ev := UsageEvent{
			RequestID: requestID,
			Tier:      tier.Name,
			Model:     tier.Model,
			TokensIn:  in,
			TokensOut: out,
			Cost:      cost,
			Estimated: resp.UsageEstimated,
			Attempts:  len(gen.Attempts),
			At:        time.Now(),
		}
		if err := r.recorder.RecordUsage(ctx, ev); err != nil {
			r.logger.Warn("failed to record usage", zap.Error(err))
		}
	}

	r.logger.Debug("generation served",
		zap.String("tier", tier.Name),
		zap.String("model", tier.Model),
		zap.Int("attempts", len(gen.Attempts)),
		zap.Int("tokens_in", in),
		zap.Int("tokens_out", out),
		zap.Float64("cost", cost))
	return gen
}
