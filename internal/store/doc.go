// Package store provides SQLite-backed durable storage for a replica.
//
// One database file holds:
//   - Replica identity: the replica id and name this file belongs to
//   - Change history: the ledger entries of every article (ledger.Backend)
//   - Records: field-map entities, one table shared by all articles
//
// # Ledger Idempotency
//
//   - UNIQUE(article_id, replica_id, version) on change_history
//   - Re-recording a mirrored entry is a no-op (ON CONFLICT DO NOTHING)
//
// # Deterministic Query Results
//
//   - History queries order by sequence_id ASC
//   - Record queries order by entity_key ASC COLLATE BINARY, which matches
//     key byte order because keys are stored as lowercase hex
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Record fields are stored as canonical JSON produced by
// internal/ir.MarshalCanonical.
package store
