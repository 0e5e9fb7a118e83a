package scenario

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
)

// ProgressFunc receives the number of completed runs out of total. Calls are
// serialized.
type ProgressFunc func(done, total int)

// task computes the i-th independent run
type task[T any] func(ctx context.Context, i int) (T, error)

// runPool executes n independent tasks on at most workers goroutines. Results
// keep task order regardless of completion order. The first error cancels the
// remaining work; cancellation of ctx is observed between tasks.
func runPool[T any](ctx context.Context, workers, n int, fn task[T], progress ProgressFunc) ([]T, error) {
	results := make([]T, n)
	if n == 0 {
		return results, ctx.Err()
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > n {
		workers = n
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		next     int64 = -1
		done     int64
		firstErr error
		errOnce  sync.Once
		progMu   sync.Mutex
		wg       sync.WaitGroup
	)
	fail := func(err error) {
		errOnce.Do(func() {
			firstErr = err
			cancel()
		})
	}

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if ctx.Err() != nil {
					return
				}
				i := int(atomic.AddInt64(&next, 1))
				if i >= n {
					return
				}
				v, err := fn(ctx, i)
				if err != nil {
					fail(err)
					return
				}
				results[i] = v
				progMu.Lock()
				completed := int(atomic.AddInt64(&done, 1))
				if progress != nil {
					progress(completed, n)
				}
				progMu.Unlock()
			}
		}()
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil && int(atomic.LoadInt64(&done)) < n {
		return nil, err
	}
	return results, nil
}
