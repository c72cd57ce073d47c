package async

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/tariff/pkg/observability"
)

// SafeGo runs fn in a goroutine with panic recovery and a timeout.
// Errors and panics are logged, never propagated.
//
//	SafeGo(ctx, logger, 5*time.Second, "record late outcome", func(ctx context.Context) error {
//	    return store.Save(ctx, rec)
//	})
func SafeGo(parentCtx context.Context, logger *observability.Logger, timeout time.Duration, taskName string, fn func(context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(parentCtx, timeout)
		defer cancel()
		defer observability.RecoverPanic(logger, taskName)

		if err := fn(ctx); err != nil {
			logger.WithError(err).WithField("task", taskName).Error("background task failed")
		}
	}()
}

// Future is the eventual result of a call started with Start
type Future[T any] struct {
	done  chan struct{}
	value T
	err   error
}

// Start runs fn in its own goroutine on a context detached from the parent's
// cancellation and bounded by limit. The call keeps running when the caller
// stops waiting, so its outcome can still be observed through Done.
func Start[T any](parent context.Context, limit time.Duration, fn func(context.Context) (T, error)) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}

	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), limit)
		defer cancel()
		defer close(f.done)
		defer func() {
			if r := recover(); r != nil {
				f.err = observability.PanicError(r)
			}
		}()

		f.value, f.err = fn(ctx)
	}()

	return f
}

// Done is closed once the call has returned
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Result returns the outcome; it must only be called after Done is closed
func (f *Future[T]) Result() (T, error) {
	return f.value, f.err
}

// Wait blocks until the call returns, ctx is done, or timeout elapses.
// ok is false when the caller stopped waiting first.
func (f *Future[T]) Wait(ctx context.Context, timeout time.Duration) (value T, ok bool, err error) {
	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case <-f.done:
		return f.value, true, f.err
	case <-timer:
	case <-ctx.Done():
	}

	var zero T
	return zero, false, nil
}

// Map applies fn to every item with at most workers calls in flight and
// returns the results in input order. The first error cancels the rest.
func Map[T, R any](ctx context.Context, items []T, workers int, fn func(context.Context, T) (R, error)) ([]R, error) {
	results := make([]R, len(items))

	g, ctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}

	for i, item := range items {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = observability.PanicError(r)
				}
			}()
			res, err := fn(ctx, item)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
