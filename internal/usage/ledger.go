package usage

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/answerflow/internal/database"
	"github.com/BaSui01/answerflow/llm/router"
)

// Record 一次成功生成的持久化用量
type Record struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	RequestID string    `gorm:"size:64;index" json:"request_id"`
	Tier      string    `gorm:"size:32;index" json:"tier"`
	Model     string    `gorm:"size:128" json:"model"`
	TokensIn  int       `json:"tokens_in"`
	TokensOut int       `json:"tokens_out"`
	Cost      float64   `json:"cost"`
	Estimated bool      `json:"estimated"`
	Attempts  int       `json:"attempts"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

// TableName 指定表名
func (Record) TableName() string {
	return "answer_usage"
}

// TierTotal 按层级汇总的用量
type TierTotal struct {
	Tier      string  `json:"tier"`
	Requests  int64   `json:"requests"`
	TokensIn  int64   `json:"tokens_in"`
	TokensOut int64   `json:"tokens_out"`
	Cost      float64 `json:"cost"`
}

// Ledger 基于 GORM 的用量账本，实现 router.UsageRecorder
type Ledger struct {
	pool       *database.PoolManager
	maxRetries int
	logger     *zap.Logger
}

var _ router.UsageRecorder = (*Ledger)(nil)

// NewLedger 创建账本并迁移表结构
func NewLedger(pool *database.PoolManager, logger *zap.Logger) (*Ledger, error) {
	if pool == nil {
		return nil, fmt.Errorf("usage ledger requires a database pool")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := pool.DB().AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("migrate usage table: %w", err)
	}
	return &Ledger{
		pool:       pool,
		maxRetries: 3,
		logger:     logger.With(zap.String("component", "usage_ledger")),
	}, nil
}

// RecordUsage 写入一条用量记录
func (l *Ledger) RecordUsage(ctx context.Context, ev router.UsageEvent) error {
	rec := Record{
		RequestID: ev.RequestID,
		Tier:      ev.Tier,
		Model:     ev.Model,
		TokensIn:  ev.TokensIn,
		TokensOut: ev.TokensOut,
		Cost:      ev.Cost,
		Estimated: ev.Estimated,
		Attempts:  ev.Attempts,
		CreatedAt: ev.At,
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	err := l.pool.WithTransactionRetry(ctx, l.maxRetries, func(tx *gorm.DB) error {
		return tx.Create(&rec).Error
	})
	if err != nil {
		l.logger.Warn("usage record failed",
			zap.String("request_id", ev.RequestID),
			zap.String("tier", ev.Tier),
			zap.Error(err))
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

// Totals 汇总 since 之后的用量；since 为零值时汇总全部
func (l *Ledger) Totals(ctx context.Context, since time.Time) ([]TierTotal, error) {
	var totals []TierTotal
	q := l.pool.DB().WithContext(ctx).
		Model(&Record{}).
		Select("tier, COUNT(*) AS requests, COALESCE(SUM(tokens_in), 0) AS tokens_in, " +
			"COALESCE(SUM(tokens_out), 0) AS tokens_out, COALESCE(SUM(cost), 0) AS cost")
	if !since.IsZero() {
		q = q.Where("created_at >= ?", since)
	}
	if err := q.Group("tier").Order("tier").Scan(&totals).Error; err != nil {
		return nil, fmt.Errorf("aggregate usage: %w", err)
	}
	return totals, nil
}

// Recent 按时间倒序返回最近的记录
func (l *Ledger) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}
	var records []Record
	err := l.pool.DB().WithContext(ctx).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("list usage: %w", err)
	}
	return records, nil
}
