// Package workers implements the worker pool that executes causal discovery.
//
// The pool implements ports.Discoverer. Discover returns a cancellable task
// that:
//   - Queues a discovery job for the next idle worker
//   - Runs the requested algorithm from the registry under the task context
//   - Returns the algorithm result or error to the task handle
//
// The health monitor tracks worker status and queue depth, logs them, and
// records them as metrics.
package workers
