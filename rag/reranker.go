package rag

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/answerflow/llm/rerank"
)

// RerankOutcome 重排结果
type RerankOutcome string

const (
	RerankApplied RerankOutcome = "applied"
	RerankFailed  RerankOutcome = "failed"
	RerankSkipped RerankOutcome = "skipped"
)

// RerankConfig 交叉编码器重排配置
type RerankConfig struct {
	Enabled   bool          `json:"enabled"`
	BatchSize int           `json:"batch_size"`
	Timeout   time.Duration `json:"timeout"`
	// MaxContentChars 送入打分的文档截断长度，0 表示不截断
	MaxContentChars int `json:"max_content_chars"`
}

// DefaultRerankConfig 返回默认配置
func DefaultRerankConfig() RerankConfig {
	return RerankConfig{
		Enabled:         true,
		BatchSize:       16,
		Timeout:         5 * time.Second,
		MaxContentChars: 2048,
	}
}

// CrossEncoderReranker 用查询-文档联合打分对候选重排。
// 打分失败时原样返回输入顺序，候选数量与元数据不变。
type CrossEncoderReranker struct {
	scorer rerank.Scorer
	cfg    RerankConfig
	logger *zap.Logger
}

// NewCrossEncoderReranker 创建重排器；scorer 为 nil 时所有调用跳过
func NewCrossEncoderReranker(scorer rerank.Scorer, cfg RerankConfig, logger *zap.Logger) *CrossEncoderReranker {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultRerankConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &CrossEncoderReranker{
		scorer: scorer,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "cross_encoder_reranker")),
	}
}

// Rerank 返回重排后的候选副本。成功时按交叉编码器分数稳定降序，
// 失败时返回与输入顺序一致的副本且不附加分数。
func (r *CrossEncoderReranker) Rerank(ctx context.Context, query string, candidates []Candidate) ([]Candidate, RerankOutcome) {
	out := make([]Candidate, len(candidates))
	copy(out, candidates)

	if r == nil || r.scorer == nil || !r.cfg.Enabled || len(out) == 0 {
		return out, RerankSkipped
	}

	start := time.Now()
	scoreCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	scores, err := r.scoreAll(scoreCtx, query, out)
	if err != nil {
		r.logger.Warn("rerank failed, keeping retrieval order",
			zap.Int("candidates", len(out)),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return out, RerankFailed
	}

	for i := range out {
		s := scores[i]
		out[i].CrossEncoderScore = &s
	}
	sort.SliceStable(out, func(i, j int) bool {
		return *out[i].CrossEncoderScore > *out[j].CrossEncoderScore
	})

	r.logger.Debug("rerank completed",
		zap.Int("candidates", len(out)),
		zap.Float64("top_score", *out[0].CrossEncoderScore),
		zap.Duration("elapsed", time.Since(start)))

	return out, RerankApplied
}

// scoreAll 分批打分，任一批失败即整体失败
func (r *CrossEncoderReranker) scoreAll(ctx context.Context, query string, candidates []Candidate) ([]float64, error) {
	scores := make([]float64, 0, len(candidates))

	for start := 0; start < len(candidates); start += r.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+r.cfg.BatchSize, len(candidates))

		docs := make([]string, 0, end-start)
		for _, c := range candidates[start:end] {
			docs = append(docs, r.truncate(c.Content))
		}

		batch, err := r.scorer.Score(ctx, query, docs)
		if err != nil {
			return nil, fmt.Errorf("score batch [%d:%d]: %w", start, end, err)
		}
		if len(batch) != len(docs) {
			return nil, fmt.Errorf("score batch [%d:%d]: got %d scores for %d documents", start, end, len(batch), len(docs))
		}
		for _, s := range batch {
			if math.IsNaN(s) || math.IsInf(s, 0) {
				return nil, errors.New("scorer returned non-finite score")
			}
		}
		scores = append(scores, batch...)
	}
	return scores, nil
}

func (r *CrossEncoderReranker) truncate(content string) string {
	if r.cfg.MaxContentChars <= 0 {
		return content
	}
	runes := []rune(content)
	if len(runes) <= r.cfg.MaxContentChars {
		return content
	}
	return string(runes[:r.cfg.MaxContentChars])
}
