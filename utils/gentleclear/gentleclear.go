// Package gentleclear tears down large containers in bounded chunks so that
// dropping a big snapshot never monopolizes a scheduler thread. Between
// chunks control is yielded back to the runtime, and a cancelled context
// stops the teardown early.
package gentleclear

import (
	"context"
	"runtime"
)

// DefaultChunkSize is how many entries are released between yield points.
const DefaultChunkSize = 128

func yield(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	runtime.Gosched()
	return nil
}

// Slice zeroes the elements of items, yielding every chunk elements.
// A chunk of <= 0 uses DefaultChunkSize.
func Slice[T any](ctx context.Context, items []T, chunk int) error {
	if chunk <= 0 {
		chunk = DefaultChunkSize
	}

	var zero T
	for i := range items {
		items[i] = zero
		if (i+1)%chunk == 0 {
			if err := yield(ctx); err != nil {
				return err
			}
		}
	}

	return nil
}

// Map deletes every entry of m, yielding every chunk deletions.
// A chunk of <= 0 uses DefaultChunkSize.
func Map[K comparable, V any](ctx context.Context, m map[K]V, chunk int) error {
	if chunk <= 0 {
		chunk = DefaultChunkSize
	}

	i := 0
	for k := range m {
		delete(m, k)
		i++
		if i%chunk == 0 {
			if err := yield(ctx); err != nil {
				return err
			}
		}
	}

	return nil
}
