package retry

import "context"

// DoWithResultTyped 在重试器下执行 fn 并返回类型化结果。
//
//	hits, err := retry.DoWithResultTyped(ctx, r, func(ctx context.Context) ([]Hit, error) {
//	    return store.Search(ctx, vec, k, filters)
//	})
func DoWithResultTyped[T any](ctx context.Context, r Retryer, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := r.Do(ctx, func(ctx context.Context) error {
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
