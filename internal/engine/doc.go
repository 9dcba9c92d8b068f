// Package engine implements the replica side of the sync protocol.
//
// A Provider wraps one repository and its ledger and exposes the three
// protocol operations:
//
//   - LastAnchor: the highest version seen per replica
//   - ResolveDelta: the changes a remote anchor has not seen, ascending by
//     version
//   - AcceptChanges: the merge engine, applying a remote delta under the
//     provider's conflict strategy
//
// # Merge
//
// AcceptChanges holds the repository and ledger write locks for its whole
// run, with change tracking suspended so merged mutations are not
// attributed to the local replica. Conflicts are keys changed by both the
// incoming delta and local changes the source has not seen. Under
// StrategyFail they abort the merge before anything is applied; under
// StrategyWinner the remote entries are recorded and dropped; under
// StrategyLoser everything is applied.
//
// Every applied change mirrors its ledger entry, so the local anchor
// advances even when the entity was already equal. Re-applying a delta is
// therefore a no-op, and so is applying its changes in two halves.
//
// # Deletes
//
// A Delete entry travels as a tombstone. Non-delete entries whose entity no
// longer exists are dropped from deltas; the Delete entry supersedes them.
//
// # Field reconciliation
//
// The engine never inspects entity types. A Schema lists the read-write
// fields explicitly (Fields, FieldOf), or handles a dynamic shape
// (Records).
package engine
