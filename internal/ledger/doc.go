// Package ledger implements the change history that backs anchor and delta
// computation, and the change tracking that feeds it.
//
// A Ledger is an append-only log of (replica, version, entity key, action)
// entries for one article, layered over a Backend. Entries are never
// modified. They are removed only by Truncate, which drops the entries of a
// replica below a per-replica ceiling. The entry at the ceiling and anything
// newer survive, so LastAnchor is unchanged by truncation.
//
// A Tracker subscribes to a repository and appends one entry per local
// mutation. The merge engine suspends tracking while it applies remote
// changes so they are not re-attributed to the local replica.
package ledger
