// Package async provides safe concurrent execution primitives for background tasks.
//
// # Overview
//
// WorkerPool runs tasks on a fixed set of workers fed by a bounded queue, with
// panic recovery and an optional per-task timeout. The audit recorder uses it
// to dispatch writes without blocking the request that produced them.
//
//	pool := async.NewWorkerPool(ctx, async.PoolConfig{Workers: 4, QueueSize: 1024, TaskName: "audit"}, logger)
//	defer pool.Shutdown(5 * time.Second)
//
//	if err := pool.TrySubmit(task); errors.Is(err, async.ErrQueueFull) {
//		// fall back
//	}
//
//	// durability point: every accepted task has run
//	err := pool.Wait(ctx)
//
// SafeGo runs a single fire-and-forget task with the same protections, and
// Batch fans a slice of items out over a temporary pool.
package async
