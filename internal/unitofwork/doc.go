// Package unitofwork tracks in-memory entities against a backing store and
// computes, orders and applies the writes needed to reconcile them.
//
// The unit of work is the change-tracking and commit-ordering engine of the
// persistence layer. It decides what is new, changed or removed since the
// last synchronization point and in which order writes must be issued so
// that foreign-key references are always satisfied.
//
// # Components
//
//   - Identity map: (root type, identifier hash) → handle. At most one
//     tracked entity per key; subtypes register under their root type.
//   - Change-set computer: compares each tracked entity's current field
//     snapshot with its last-known snapshot.
//   - Lifecycle state machine: NEW, MANAGED, DETACHED, DELETED, plus the
//     mutually exclusive insert/update/delete queues.
//   - Cascade walker: depth-first traversal of cascade-flagged associations
//     with a visited set keyed by handle, so cyclic graphs terminate.
//   - Commit orchestrator: inserts and updates in commit order, collection
//     writes, then deletes in reverse commit order.
//
// # Ownership
//
// A UnitOfWork has a single logical owner. It performs no locking; a host
// that shares one across goroutines must serialize every call itself. The
// usual shape is one UnitOfWork per request or transaction.
//
// All I/O goes through collaborators: a Persisters factory for
// insert/update/delete, and IDGenerators for identifiers. Commit runs until
// it finishes or until the first persister failure; writes already applied
// are not rolled back here. Transaction boundaries on the store are the
// caller's responsibility.
package unitofwork
