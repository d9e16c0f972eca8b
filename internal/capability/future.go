package capability

import (
	"context"
	"fmt"
)

// Future is the result of an asynchronous call, resolved exactly once.
type Future[T any] struct {
	done chan struct{}
	val  T
	err  error
}

// Go runs f on its own goroutine. A panic in f resolves the future with an error.
func Go[T any](ctx context.Context, f func(context.Context) (T, error)) *Future[T] {
	fut := &Future[T]{done: make(chan struct{})}
	go func() {
		defer close(fut.done)
		defer func() {
			if p := recover(); p != nil {
				fut.err = fmt.Errorf("async call panic: %v", p)
			}
		}()
		fut.val, fut.err = f(ctx)
	}()
	return fut
}

// Done is closed once the result is available.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Await blocks until the result is available or ctx ends. Ending ctx does not
// cancel the underlying call.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
