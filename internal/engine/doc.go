// Package engine schedules execution instances of bpmn processes.
//
// The engine owns the registered instances, the lifecycle event log and
// the message bus listeners of catch events. It offers two drivers:
//
// RunToNextState:
// Steps every instance round-robin, one transition at a time, until no
// transition is enabled or the step budget runs out. The caller's
// goroutine does all the work, which makes event order reproducible.
//
// Run:
// A worker pool fed by a deduplicating work queue. Instances are enqueued
// when they are created, completed, cancelled or receive a message. Each
// activation of an instance is bounded by the step quota; an instance that
// hits it is enqueued again.
//
// Event Log:
// Every transition returns its events as one batch. The batch is stamped
// with sequence numbers from a logical clock and appended under a single
// lock, so batches of concurrent instances never interleave. Sinks (for
// example the SQLite store) see batches in seq order.
//
// Failure:
// A transition error terminates its own instance only. Observers and
// sinks are told; the other instances keep running.
//
// Lock Order:
// Instance locks are never held while the engine applies the side effects
// of a transition. Sends, subscriptions and sink writes happen after the
// instance lock is released.
package engine
