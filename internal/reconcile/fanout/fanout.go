// Package fanout runs independent calls concurrently and returns one result
// per input, in input order.
package fanout

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/sourcegraph/conc/iter"
)

const DefaultWidth = 8

// Result is the outcome of one branch.
type Result[T any] struct {
	Value T
	Err   error
}

func (r Result[T]) OK() bool { return r.Err == nil }

// PanicError wraps a panic recovered inside a branch.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Map calls fn for every item with at most width calls in flight. A failing
// or panicking branch never affects its siblings.
func Map[In, Out any](ctx context.Context, width int, items []In, fn func(context.Context, In) (Out, error)) []Result[Out] {
	if len(items) == 0 {
		return nil
	}
	if width <= 0 {
		width = DefaultWidth
	}
	mapper := iter.Mapper[In, Result[Out]]{MaxGoroutines: width}
	return mapper.Map(items, func(item *In) Result[Out] {
		return call(ctx, *item, fn)
	})
}

func call[In, Out any](ctx context.Context, item In, fn func(context.Context, In) (Out, error)) (res Result[Out]) {
	defer func() {
		if r := recover(); r != nil {
			res = Result[Out]{Err: &PanicError{Value: r, Stack: debug.Stack()}}
		}
	}()
	if err := ctx.Err(); err != nil {
		return Result[Out]{Err: err}
	}
	value, err := fn(ctx, item)
	return Result[Out]{Value: value, Err: err}
}
