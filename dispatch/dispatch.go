// Package dispatch runs a lazily produced sequence of tasks under a
// concurrency bound with fail-fast error handling.
package dispatch

import (
	"context"
	"io"
)

// Task is one unit of asynchronous work. The context passed to it is
// cancelled when the dispatcher abandons in-flight work after a failure,
// so a task must stop promptly once the context is done.
type Task[T any] func(ctx context.Context) (T, error)

// Source produces tasks one at a time. Next returns io.EOF once no more
// tasks will be produced. Next is only called when a slot is free, so
// producing a task may itself do bounded work, such as reading the next
// part of a stream.
type Source[T any] interface {
	Next() (Task[T], error)
}

// SourceFunc adapts a function to a Source.
type SourceFunc[T any] func() (Task[T], error)

// Next calls f.
func (f SourceFunc[T]) Next() (Task[T], error) {
	return f()
}

type result[T any] struct {
	value T
	err   error
}

// Run executes the tasks produced by source with at most limit of them in
// flight at any moment; limit <= 0 means no bound. Results are collected
// in completion order, which is unrelated to admission order. Run returns
// once the source is exhausted and every admitted task has finished.
//
// The first error, whether from the source or from a task, wins: the
// remaining in-flight tasks are abandoned through context cancellation, no
// further tasks are admitted, and only that first error is returned.
func Run[T any](ctx context.Context, source Source[T], limit int) ([]T, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan result[T])
	inFlight := 0
	var outputs []T
	var firstErr error

	fail := func(err error) {
		if firstErr == nil {
			firstErr = err
			cancel()
		}
	}

	collect := func() {
		r := <-results
		inFlight--
		if r.err != nil {
			fail(r.err)
			return
		}
		outputs = append(outputs, r.value)
	}

	for firstErr == nil {
		// A slot must free up before the source is pulled again, so the
		// input is never read ahead of the admission limit.
		for firstErr == nil && limit > 0 && inFlight >= limit {
			collect()
		}
		if firstErr != nil {
			break
		}

		task, err := source.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			fail(err)
			break
		}

		inFlight++
		go func() {
			value, err := task(ctx)
			results <- result[T]{value: value, err: err}
		}()
	}

	// Abandoned tasks still have to deliver their result before Run
	// returns, otherwise their goroutines would leak.
	for inFlight > 0 {
		collect()
	}

	if firstErr != nil {
		return nil, firstErr
	}
	return outputs, nil
}
