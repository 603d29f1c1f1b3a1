package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrBatchClosed = errors.New("batch processor closed")
	ErrBatchFull   = errors.New("batch queue full")
)

// Handler 处理一批请求，返回与请求按下标一一对应的结果。
type Handler[Req, Resp any] func(ctx context.Context, requests []Req) ([]Resp, error)

// BatchConfig 配置批处理器。
type BatchConfig struct {
	MaxBatchSize   int           `json:"max_batch_size"`
	MaxWaitTime    time.Duration `json:"max_wait_time"`
	QueueSize      int           `json:"queue_size"`
	Workers        int           `json:"workers"`
	HandlerTimeout time.Duration `json:"handler_timeout"`
}

// DefaultBatchConfig 返回合理的默认值：20ms 窗口内合并。
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		MaxBatchSize:   32,
		MaxWaitTime:    20 * time.Millisecond,
		QueueSize:      1000,
		Workers:        1,
		HandlerTimeout: 10 * time.Second,
	}
}

// Processor 在短时间窗口内合并独立调用方的请求，一次交给 Handler。
// 已取消的调用方在批次组装时被移除，不会占用下游调用。
type Processor[Req, Resp any] struct {
	config  BatchConfig
	handler Handler[Req, Resp]
	queue   chan *pendingRequest[Req, Resp]
	closed  atomic.Bool
	mu      sync.RWMutex
	wg      sync.WaitGroup

	// 计量
	submitted atomic.Int64
	batched   atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

type result[Resp any] struct {
	value Resp
	err   error
}

type pendingRequest[Req, Resp any] struct {
	request   Req
	response  chan result[Resp]
	ctx       context.Context
	cancelled atomic.Bool
}

func (p *pendingRequest[Req, Resp]) live() bool {
	return !p.cancelled.Load() && p.ctx.Err() == nil
}

// NewProcessor 创建批处理器并启动 Worker。
func NewProcessor[Req, Resp any](config BatchConfig, handler Handler[Req, Resp]) *Processor[Req, Resp] {
	def := DefaultBatchConfig()
	if config.MaxBatchSize <= 0 {
		config.MaxBatchSize = def.MaxBatchSize
	}
	if config.MaxWaitTime <= 0 {
		config.MaxWaitTime = def.MaxWaitTime
	}
	if config.QueueSize <= 0 {
		config.QueueSize = def.QueueSize
	}
	if config.Workers <= 0 {
		config.Workers = def.Workers
	}

	bp := &Processor[Req, Resp]{
		config:  config,
		handler: handler,
		queue:   make(chan *pendingRequest[Req, Resp], config.QueueSize),
	}

	for i := 0; i < config.Workers; i++ {
		bp.wg.Add(1)
		go bp.worker()
	}

	return bp
}

// Submit 提交请求并等待所在批次的结果。
// ctx 结束时立即返回 ctx.Err()，该请求从待处理批次中移除。
func (bp *Processor[Req, Resp]) Submit(ctx context.Context, req Req) (Resp, error) {
	var zero Resp

	bp.mu.RLock()
	if bp.closed.Load() {
		bp.mu.RUnlock()
		return zero, ErrBatchClosed
	}

	pending := &pendingRequest[Req, Resp]{
		request:  req,
		response: make(chan result[Resp], 1),
		ctx:      ctx,
	}

	select {
	case bp.queue <- pending:
		bp.submitted.Add(1)
	case <-ctx.Done():
		bp.mu.RUnlock()
		return zero, ctx.Err()
	default:
		bp.mu.RUnlock()
		return zero, ErrBatchFull
	}
	bp.mu.RUnlock()

	select {
	case res := <-pending.response:
		return res.value, res.err
	case <-ctx.Done():
		pending.cancelled.Store(true)
		return zero, ctx.Err()
	}
}

func (bp *Processor[Req, Resp]) worker() {
	defer bp.wg.Done()

	batch := make([]*pendingRequest[Req, Resp], 0, bp.config.MaxBatchSize)
	timer := time.NewTimer(bp.config.MaxWaitTime)
	defer timer.Stop()

	for {
		select {
		case pending, ok := <-bp.queue:
			if !ok {
				// 处理剩余批次
				if len(batch) > 0 {
					bp.processBatch(batch)
				}
				return
			}

			if len(batch) == 0 {
				timer.Reset(bp.config.MaxWaitTime)
			}
			batch = append(batch, pending)

			if len(batch) >= bp.config.MaxBatchSize {
				bp.processBatch(batch)
				batch = make([]*pendingRequest[Req, Resp], 0, bp.config.MaxBatchSize)
				timer.Reset(bp.config.MaxWaitTime)
			}

		case <-timer.C:
			if len(batch) > 0 {
				bp.processBatch(batch)
				batch = make([]*pendingRequest[Req, Resp], 0, bp.config.MaxBatchSize)
			}
			timer.Reset(bp.config.MaxWaitTime)
		}
	}
}

func (bp *Processor[Req, Resp]) processBatch(batch []*pendingRequest[Req, Resp]) {
	live := batch[:0:0]
	for _, p := range batch {
		if p.live() {
			live = append(live, p)
			continue
		}
		bp.dropped.Add(1)
	}
	if len(live) == 0 {
		return
	}

	bp.batched.Add(1)

	requests := make([]Req, len(live))
	for i, p := range live {
		requests[i] = p.request
	}

	// 批次不随单个调用方取消，仅受 HandlerTimeout 约束
	ctx := context.WithoutCancel(live[0].ctx)
	if bp.config.HandlerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, bp.config.HandlerTimeout)
		defer cancel()
	}

	responses, err := bp.handler(ctx, requests)
	if err == nil && len(responses) != len(requests) {
		err = fmt.Errorf("batch handler returned %d results for %d requests", len(responses), len(requests))
	}

	for i, pending := range live {
		res := result[Resp]{err: err}
		if err == nil {
			res.value = responses[i]
			bp.completed.Add(1)
		} else {
			bp.failed.Add(1)
		}
		pending.response <- res
	}
}

// Close 停止接收请求，处理完队列中剩余请求后返回。
func (bp *Processor[Req, Resp]) Close() {
	bp.mu.Lock()
	if bp.closed.Swap(true) {
		bp.mu.Unlock()
		return
	}
	close(bp.queue)
	bp.mu.Unlock()
	bp.wg.Wait()
}

// Stats 返回处理器统计。
func (bp *Processor[Req, Resp]) Stats() BatchStats {
	return BatchStats{
		Submitted: bp.submitted.Load(),
		Batched:   bp.batched.Load(),
		Completed: bp.completed.Load(),
		Failed:    bp.failed.Load(),
		Dropped:   bp.dropped.Load(),
		Queued:    len(bp.queue),
	}
}

// BatchStats 包含处理器统计。
type BatchStats struct {
	Submitted int64 `json:"submitted"`
	Batched   int64 `json:"batched"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Dropped   int64 `json:"dropped"`
	Queued    int   `json:"queued"`
}

// BatchEfficiency 返回平均批量大小。
func (s BatchStats) BatchEfficiency() float64 {
	if s.Batched == 0 {
		return 0
	}
	return float64(s.Completed+s.Failed) / float64(s.Batched)
}
