package circuitbreaker

import "context"

// CallWithResultTyped 在熔断器保护下执行 fn 并返回类型化结果。
// cb 为 nil 时直接调用 fn。
//
//	vec, err := circuitbreaker.CallWithResultTyped(ctx, cb, func(ctx context.Context) ([]float64, error) {
//	    return embedder.EmbedQuery(ctx, text)
//	})
func CallWithResultTyped[T any](ctx context.Context, cb CircuitBreaker, fn func(ctx context.Context) (T, error)) (T, error) {
	if cb == nil {
		return fn(ctx)
	}
	var result T
	err := cb.Call(ctx, func(ctx context.Context) error {
		var err error
		result, err = fn(ctx)
		return err
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}
