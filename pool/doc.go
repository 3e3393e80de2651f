// Package pool is the single point of admission for engine jobs.
//
// A [Scheduler] owns a FIFO queue of jobs and a lazily grown list of
// workers. Both are touched only by the scheduler's event loop goroutine, so
// the drain loop can never run twice at once and needs no locks.
//
// # Drain
//
// While the queue is non-empty the loop takes the first worker in pool order
// that is ready and free and posts the head job to it. Acceptance resolves
// [Scheduler.Submit]; the result is delivered separately through
// [Pending.Await]. When no worker is available one new worker is created;
// creations are serialized, so concurrent demand collapses onto a single
// in-flight creation. A failed creation rejects the head job and draining
// continues with the next one.
//
// # Eviction
//
// An evicted worker is removed from the list exactly once and the queue is
// drained again. The job that was in flight on it fails with
// [worker.ErrEvicted] and is not resubmitted; callers decide whether to retry.
//
// There is no upper bound on pool size at this layer.
package pool
