// Package worker hosts one crypto engine per isolated execution unit.
//
// # Lifecycle
//
//	Created → Booting → ConfiguringEndpoint → Ready ⇄ (Free/Busy)
//	any non-terminal state → Evicted
//
// [Worker.EnsureReady] drives the two startup phases: an init request that
// builds the engine, then a setBaseURL request that assigns the endpoint.
// Each phase waits for its response and for the following freed notification
// under its own timeout.
//
// # Units
//
// The engine runs on the unit goroutine and is touched by nothing else.
// Requests reach it over a channel after [protocol.Request.Transfer] has moved
// their secrets; responses, progress reports and freed notifications come back
// over another channel and are routed by a pump goroutine.
//
// # Faults
//
// An engine error is an application-level failure response; the worker stays
// usable. A panic on the unit, or a response that fails validation, is a
// transport fault: the worker is evicted, its in-flight job fails with
// [ErrEvicted], and it never accepts another request. A unit stuck inside a
// long engine call cannot be interrupted; it exits when it next tries to
// report.
//
// # What this package must NOT do
//
//   - Queue requests. A busy worker refuses Post; queuing belongs to the pool.
//   - Resubmit failed jobs.
package worker
