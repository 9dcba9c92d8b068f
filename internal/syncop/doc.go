// Package syncop orchestrates sync operations between replicas.
//
// An Operation moves the changes of one source to one target:
//
//	anchor := target.LastAnchor()
//	delta  := source.ResolveDelta(anchor)
//	delta   = filter(delta)           // optional
//	result := target.AcceptChanges(source, delta)
//	cleanup on each side advertising MetadataCleanup
//
// Operations are single-flight: concurrent calls on the same instance queue
// behind each other instead of running in parallel or being rejected.
// A Chain runs operations in order and merges their results, which is how a
// two-way session (upload then download) or a multi-article session is
// built. A failing member aborts the rest of the chain.
//
// Cancellation is cooperative. It is checked between protocol steps and by
// the merge engine before every change, and it unwinds the whole chain.
package syncop
