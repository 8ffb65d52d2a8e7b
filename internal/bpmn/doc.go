// Package bpmn implements the token model and transition rules of the
// nayra process engine.
//
// A Process is an immutable graph of Nodes (events, tasks and gateways)
// joined by Flows. An Instance is one execution of a Process: it owns the
// live Tokens and the DataStore that flow conditions read.
//
// # Transition Rules
//
// Every node carries an ordered list of transitions. Each transition binds
// a Rule (enablement, consumption and token side effects) to a source
// stage and a destination:
//
//   - a stage inside the same node (task activation, close, cancel)
//   - the node's outgoing flows (gateways, task exit, event triggers)
//   - retirement (end events, cancelled tasks)
//
// The enablement and execution algorithm is shared; concrete rules only
// override the hooks that differ (HasAllRequiredTokens, AssertCondition,
// OnTokenTransit, Route).
//
// # Event Order
//
// A transition emits, in order: Activated, one TokenConsumed per consumed
// token, then for every fired outgoing flow a TokenPassed followed by the
// arrival events of the target node. Some rules (task activation, end
// event trigger, catch event arming) run as part of the step that
// delivers the token, so their events follow the TokenPassed directly.
//
// # Concurrency
//
// Each Instance has its own lock. Step, Complete, Cancel and Deliver take
// it for their whole duration and return an Outcome; side effects that
// reach other instances (message sends, subscriptions) are carried in the
// Outcome and applied by the caller after the lock is released.
package bpmn
