// Package harness runs unit-of-work scenarios against a real store and
// checks the writes they produce.
//
// A scenario builds entities, drives them through the unit-of-work
// lifecycle and commits. Every persister call that reaches the store is
// recorded in a trace; assertions then inspect the trace, entity states,
// field values and stored row counts.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: checkout
//	description: "Saving an order writes the customer first"
//	mapping: ../mappings/shop      # CUE mapping directory, relative to this file
//	steps:
//	  - op: new
//	    ref: ada
//	    type: Customer
//	    fields: { name: Ada }
//	  - op: new
//	    ref: order
//	    type: Order
//	    fields: { total: 30.5, customer: "@ada" }
//	  - op: save
//	    ref: order
//	  - op: commit
//	assertions:
//	  - type: write_order
//	    writes: ["insert Customer#1", "insert Order#1"]
//	  - type: state
//	    ref: ada
//	    state: managed
//
// Field values starting with "@" refer to an entity created by an earlier
// step; a list of such values sets a to-many association. A step may name
// the error code it expects in "error".
//
// # Step Operations
//
//   - new: create an entity of type and bind it to ref
//   - set: assign fields on ref
//   - save, delete, detach: the unit-of-work operation on ref
//   - commit, clear: the unit-of-work operation
//   - load: load type with id from the store and bind it to ref
//   - begin: start a fresh unit of work over the same store
//
// # Assertion Types
//
//   - write_order: the listed writes appear in the trace in this order
//   - write_count: the number of writes, optionally filtered by op and entity
//   - state: the lifecycle state of ref
//   - field: the current value of a field of ref
//   - row_count: the number of stored rows of entity
//   - pending: the amount of work still queued
//
// # Deterministic Traces
//
// Each scenario gets its own in-memory SQLite database, sequential entity
// handles and a trace sequence starting at 1, so identical scenarios
// produce byte-identical traces for golden comparison.
package harness
