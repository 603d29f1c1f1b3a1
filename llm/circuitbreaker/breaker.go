package circuitbreaker

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/BaSui01/answerflow/types"
)

// State 熔断器状态
type State int

const (
	// StateClosed 关闭状态（正常工作）
	StateClosed State = iota
	// StateOpen 打开状态（熔断中）
	StateOpen
	// StateHalfOpen 半开状态（试探性恢复）
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "Closed"
	case StateOpen:
		return "Open"
	case StateHalfOpen:
		return "HalfOpen"
	default:
		return "Unknown"
	}
}

// Config 熔断器配置
type Config struct {
	// Name 熔断器名称（用于日志）
	Name string

	// ConsecutiveFailures 连续失败次数阈值（触发熔断）
	ConsecutiveFailures uint32

	// MaxRequests 半开状态下允许的最大请求数
	MaxRequests uint32

	// Interval 关闭状态下的计数清零周期
	Interval time.Duration

	// Timeout 熔断恢复等待时间（从 Open -> HalfOpen）
	Timeout time.Duration
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Name:                "default",
		ConsecutiveFailures: 5,
		MaxRequests:         1,
		Interval:            time.Minute,
		Timeout:             30 * time.Second,
	}
}

// CircuitBreaker 熔断器接口
type CircuitBreaker interface {
	// Call 执行调用，如果熔断器打开则返回错误
	Call(ctx context.Context, fn func(ctx context.Context) error) error

	// State 获取当前状态
	State() State
}

// ErrCircuitOpen 熔断器打开时返回的错误
var ErrCircuitOpen = errors.New("circuit breaker is open")

type breaker struct {
	cb     *gobreaker.CircuitBreaker
	logger *zap.Logger
}

// New 创建基于 gobreaker 的熔断器
func New(cfg Config, logger *zap.Logger) CircuitBreaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = def.ConsecutiveFailures
	}
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = def.MaxRequests
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	logger = logger.With(zap.String("component", "circuit_breaker"), zap.String("breaker", cfg.Name))

	threshold := cfg.ConsecutiveFailures
	b := &breaker{logger: logger}
	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
		// 调用方取消和请求本身的错误不计入失败
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			if errors.Is(err, context.Canceled) {
				return true
			}
			if e, ok := types.AsError(err); ok && e.HTTPStatus >= 400 && e.HTTPStatus < 500 && e.HTTPStatus != http.StatusTooManyRequests {
				return true
			}
			return false
		},
	})
	return b
}

// Call 执行调用
func (b *breaker) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn(ctx)
	})
	return b.mapError(err)
}

// State 获取当前状态
func (b *breaker) State() State {
	switch b.cb.State() {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

func (b *breaker) mapError(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return types.NewError(types.ErrUpstreamError, ErrCircuitOpen.Error()).
			WithCause(ErrCircuitOpen).
			WithHTTPStatus(http.StatusServiceUnavailable).
			WithRetryable(true)
	}
	return err
}
