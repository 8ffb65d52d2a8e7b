// Package harness runs YAML scenarios against the engine and compares the
// resulting lifecycle trace with expectations and golden files.
//
// # Scenario Format
//
//	name: inclusive_all_paths
//	description: "Both guarded branches run and the join waits for both"
//	processes:
//	  - id: inclusive
//	    nodes:
//	      - { id: start, kind: startEvent }
//	      - { id: split, kind: inclusiveGateway }
//	      - { id: review, kind: task }
//	      - { id: wait, kind: intermediateCatchEvent, message: { id: order } }
//	    flows:
//	      - { from: start, to: split }
//	      - { from: split, to: review, when: { A: "1" } }
//	      - { from: split, to: wait, default: true }
//	steps:
//	  - create: { as: main, process: inclusive, data: { A: "1" } }
//	  - run: {}
//	  - expect: [EVENT_TRIGGERED, GATEWAY_TOKEN_ARRIVES]
//	  - complete: { instance: main, node: review }
//	  - run: { max_steps: 1, quiescent: false }
//	  - send: { id: order, payload: { sku: X1 } }
//	assertions:
//	  - { type: instance_status, instance: main, status: COMPLETED }
//
// Flows without an id are named flow-N after their position in the
// process. Every document is checked against an embedded CUE schema before
// it is decoded, then decoded strictly (unknown fields are errors).
//
// # Steps
//
//   - create: start an instance of a process under an alias
//   - run: drive the engine until quiescent or max_steps transitions ran
//   - complete, cancel: act on the running task token at a node
//   - send: put a message on the bus
//   - delay: schedule a message and wait until it was sent
//   - put: write instance data
//   - expect: the exact event types logged since the previous expect
//
// # Assertion Types
//
//   - instance_status: status of an instance, in the engine and the store
//   - event_count: number of events of a type, optionally per instance
//   - event_order: event types appear in this relative order
//   - tokens_at: number of live tokens at a node
//   - data: subset match on instance data
//   - subscriptions: number of message bus subscriptions
//
// # Deterministic Testing
//
// Instance and token IDs come from testutil.SequenceGenerator and sequence
// numbers from testutil.DeterministicClock, so traces are identical across
// runs and can be compared with goldie snapshots. With WithWorkers the
// scenario is driven by the concurrent Run pool instead; expect steps then
// compare events without regard to cross-instance interleaving.
package harness
