package rag

import (
	"context"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ExpansionStrategy 同义词扩展强度
type ExpansionStrategy string

const (
	StrategyConservative ExpansionStrategy = "conservative"
	StrategyBalanced     ExpansionStrategy = "balanced"
	StrategyAggressive   ExpansionStrategy = "aggressive"
)

// SynonymsPerTerm 每个命中词使用的同义词数
func (s ExpansionStrategy) SynonymsPerTerm() int {
	switch s {
	case StrategyConservative:
		return 1
	case StrategyAggressive:
		return 3
	default:
		return 2
	}
}

// ExpansionMode 扩展输出形式
type ExpansionMode string

const (
	ModeVariants    ExpansionMode = "variants"    // 多个查询变体分别检索后合并
	ModeDisjunctive ExpansionMode = "disjunctive" // 单个 OR 查询
)

// AugmentConfig 查询增强配置，两种变换独立开关
type AugmentConfig struct {
	ExpansionEnabled bool                `json:"expansion_enabled"`
	Strategy         ExpansionStrategy   `json:"strategy"`
	Mode             ExpansionMode       `json:"mode"`
	MaxVariants      int                 `json:"max_variants"`
	Synonyms         map[string][]string `json:"synonyms,omitempty"`

	HyDEEnabled   bool          `json:"hyde_enabled"`
	HyDETimeout   time.Duration `json:"hyde_timeout"`
	HyDEMaxTokens int           `json:"hyde_max_tokens"`
	HyDECacheSize int           `json:"hyde_cache_size"`
}

// DefaultAugmentConfig 返回默认配置（全部关闭）
func DefaultAugmentConfig() AugmentConfig {
	return AugmentConfig{
		Strategy:      StrategyBalanced,
		Mode:          ModeVariants,
		MaxVariants:   4,
		HyDETimeout:   3 * time.Second,
		HyDEMaxTokens: 256,
		HyDECacheSize: 256,
	}
}

// HypotheticalGenerator 为问题生成假设答案的外部能力
type HypotheticalGenerator interface {
	Hypothesize(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// AugmentedQuery 增强后的检索查询
type AugmentedQuery struct {
	Original              string   `json:"original"`
	Variants              []string `json:"variants,omitempty"`
	Disjunctive           string   `json:"disjunctive,omitempty"`
	Hypothetical          string   `json:"hypothetical,omitempty"`
	HypotheticalFromModel bool     `json:"hypothetical_from_model,omitempty"`
}

// SearchTexts 返回用于计算检索向量的文本。
// 有假设答案时以其替代原问题，其余变体保留。
func (q *AugmentedQuery) SearchTexts() []string {
	if q == nil {
		return nil
	}
	var texts []string
	switch {
	case q.Disjunctive != "":
		texts = []string{q.Disjunctive}
	case len(q.Variants) > 0:
		texts = append(texts, q.Variants...)
	default:
		texts = []string{q.Original}
	}
	if q.Hypothetical != "" {
		if len(texts) > 0 && texts[0] == q.Original {
			texts[0] = q.Hypothetical
		} else {
			texts = append([]string{q.Hypothetical}, texts...)
		}
	}
	return dedupeStrings(texts)
}

type hydeResult struct {
	text      string
	fromModel bool
}

// QueryAugmenter 在向量化之前改写检索查询；不参与缓存查找
type QueryAugmenter struct {
	cfg       AugmentConfig
	generator HypotheticalGenerator
	synonyms  map[string][]string
	hyde      *lru.Cache[string, string]
	group     singleflight.Group
	logger    *zap.Logger
}

// NewQueryAugmenter 创建查询增强器；generator 为 nil 时 HyDE 只使用模板
func NewQueryAugmenter(cfg AugmentConfig, generator HypotheticalGenerator, logger *zap.Logger) *QueryAugmenter {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultAugmentConfig()
	if cfg.MaxVariants <= 0 {
		cfg.MaxVariants = def.MaxVariants
	}
	if cfg.HyDETimeout <= 0 {
		cfg.HyDETimeout = def.HyDETimeout
	}
	if cfg.HyDEMaxTokens <= 0 {
		cfg.HyDEMaxTokens = def.HyDEMaxTokens
	}
	if cfg.HyDECacheSize <= 0 {
		cfg.HyDECacheSize = def.HyDECacheSize
	}
	if cfg.Mode == "" {
		cfg.Mode = def.Mode
	}

	synonyms := make(map[string][]string, len(cfg.Synonyms))
	for term, syns := range cfg.Synonyms {
		synonyms[strings.ToLower(strings.TrimSpace(term))] = syns
	}

	cache, _ := lru.New[string, string](cfg.HyDECacheSize)

	return &QueryAugmenter{
		cfg:       cfg,
		generator: generator,
		synonyms:  synonyms,
		hyde:      cache,
		logger:    logger.With(zap.String("component", "query_augmenter")),
	}
}

// Enabled 是否启用任一变换
func (a *QueryAugmenter) Enabled() bool {
	return a != nil && (a.cfg.ExpansionEnabled || a.cfg.HyDEEnabled)
}

// Augment 应用已启用的变换
func (a *QueryAugmenter) Augment(ctx context.Context, question string) (*AugmentedQuery, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("question is empty")
	}
	out := &AugmentedQuery{Original: question}

	if a.cfg.ExpansionEnabled {
		if a.cfg.Mode == ModeDisjunctive {
			out.Disjunctive = a.Disjunctive(question)
		} else {
			out.Variants = a.Expand(question)
		}
	}

	if a.cfg.HyDEEnabled {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out.Hypothetical, out.HypotheticalFromModel = a.Hypothetical(ctx, question)
	}

	return out, nil
}

// Expand 返回原问题及同义词替换变体，总数不超过 MaxVariants
func (a *QueryAugmenter) Expand(question string) []string {
	variants := []string{question}
	perTerm := a.cfg.Strategy.SynonymsPerTerm()

	for _, word := range strings.Fields(question) {
		term := cleanToken(word)
		syns, ok := a.synonyms[term]
		if !ok {
			continue
		}
		for i, syn := range syns {
			if i >= perTerm {
				break
			}
			if len(variants) >= a.cfg.MaxVariants {
				return variants
			}
			variant := replaceWord(question, word, syn)
			if variant != question {
				variants = append(variants, variant)
			}
		}
	}
	return dedupeStrings(variants)
}

// Disjunctive 返回单个 OR 查询：原问题后接命中词的同义词
func (a *QueryAugmenter) Disjunctive(question string) string {
	perTerm := a.cfg.Strategy.SynonymsPerTerm()
	parts := []string{question}
	seen := map[string]bool{}

	for _, word := range strings.Fields(question) {
		term := cleanToken(word)
		syns, ok := a.synonyms[term]
		if !ok || seen[term] {
			continue
		}
		seen[term] = true
		for i, syn := range syns {
			if i >= perTerm {
				break
			}
			parts = append(parts, syn)
		}
	}
	return strings.Join(parts, " OR ")
}

// Hypothetical 返回问题的假设答案，fromModel 表示是否由生成能力产出。
// 生成失败或为空时回退到模板；模型结果按规范化问题缓存，并发相同请求合并。
func (a *QueryAugmenter) Hypothetical(ctx context.Context, question string) (string, bool) {
	key := NormalizeQuestion(question)
	if text, ok := a.hyde.Get(key); ok {
		return text, true
	}
	if a.generator == nil {
		return hypotheticalTemplate(question), false
	}

	v, _, _ := a.group.Do(key, func() (any, error) {
		if text, ok := a.hyde.Get(key); ok {
			return hydeResult{text: text, fromModel: true}, nil
		}

		genCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.HyDETimeout)
		defer cancel()

		text, err := a.generator.Hypothesize(genCtx, hydePrompt(question), a.cfg.HyDEMaxTokens)
		text = strings.TrimSpace(text)
		if err != nil || text == "" {
			a.logger.Warn("hypothetical generation failed, using template",
				zap.String("question", question),
				zap.Error(err))
			return hydeResult{text: hypotheticalTemplate(question)}, nil
		}

		a.hyde.Add(key, text)
		return hydeResult{text: text, fromModel: true}, nil
	})

	res := v.(hydeResult)
	return res.text, res.fromModel
}

// HyDECacheLen 返回假设答案缓存条目数
func (a *QueryAugmenter) HyDECacheLen() int {
	return a.hyde.Len()
}

func hydePrompt(question string) string {
	return fmt.Sprintf(`Write a short, factual passage that directly answers the question below.
Write it as if it were an excerpt from a reference document. Do not mention that it is hypothetical.

Question: %s

Passage:`, question)
}

func hypotheticalTemplate(question string) string {
	topic := strings.TrimRight(strings.TrimSpace(question), "?.! ")
	return fmt.Sprintf("This document answers the question: %s. It describes the relevant people, organisations, responsibilities and priorities, with concrete details and examples.", topic)
}

// replaceWord 替换首个与 word 相同的词，保留其首尾标点
func replaceWord(question, word, replacement string) string {
	fields := strings.Fields(question)
	for i, f := range fields {
		if f != word {
			continue
		}
		core := strings.TrimFunc(f, isEdgePunct)
		idx := strings.Index(f, core)
		fields[i] = f[:idx] + replacement + f[idx+len(core):]
		return strings.Join(fields, " ")
	}
	return question
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
