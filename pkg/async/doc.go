// Package async provides goroutine helpers with panic recovery.
//
// SafeGo runs fire-and-forget work with a timeout and logs failures.
//
// Start launches a call whose outcome outlives the caller's patience: the
// billing committer waits on the returned Future for a bounded time and, when
// it gives up, hands the Future to a SafeGo task that records the late outcome.
//
//	f := async.Start(ctx, 2*time.Minute, func(ctx context.Context) (Outcome, error) {
//		return gateway.Commit(ctx, req)
//	})
//	outcome, ok, err := f.Wait(ctx, 10*time.Second)
//
// Map fans a slice out over a bounded number of goroutines using errgroup.
package async
