package ir

import (
	"fmt"
	"slices"
)

// Action is the kind of mutation recorded in the change history.
type Action int

const (
	// ActionInsert records a new entity.
	ActionInsert Action = iota + 1
	// ActionUpdate records a modification of an existing entity.
	ActionUpdate
	// ActionDelete records the removal of an entity.
	ActionDelete
)

// String returns the lower-case action name.
func (a Action) String() string {
	switch a {
	case ActionInsert:
		return "insert"
	case ActionUpdate:
		return "update"
	case ActionDelete:
		return "delete"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// ParseAction is the inverse of Action.String.
func ParseAction(s string) (Action, error) {
	switch s {
	case "insert":
		return ActionInsert, nil
	case "update":
		return ActionUpdate, nil
	case "delete":
		return ActionDelete, nil
	default:
		return 0, fmt.Errorf("unknown action %q", s)
	}
}

// ChangeEntry is one row of the change history ledger.
//
// Entries are never mutated after creation. SequenceID is assigned by the
// ledger backend on append and is only meaningful locally.
type ChangeEntry struct {
	SequenceID int64     `json:"sequence_id,omitempty"`
	Article    ArticleID `json:"article_id"`
	Replica    ReplicaID `json:"replica_id"`
	Version    Version   `json:"version"`
	Key        Key       `json:"entity_key"`
	Action     Action    `json:"action"`
}

// String renders the entry for logs.
func (e ChangeEntry) String() string {
	return fmt.Sprintf("%s %s@%d/%d", e.Action, e.Key, e.Replica, e.Version)
}

// Mirror returns the entry without its local sequence id, ready to be
// appended to another replica's ledger.
func (e ChangeEntry) Mirror() ChangeEntry {
	e.SequenceID = 0
	return e
}

// EntityVersion pairs an entity value with the ledger entry that produced it.
// It is the unit exchanged in a Delta.
//
// A tombstone carries a Delete entry for an entity that no longer exists;
// Entity is then the zero value.
type EntityVersion[T any] struct {
	Entry     ChangeEntry `json:"entry"`
	Entity    T           `json:"entity"`
	Tombstone bool        `json:"tombstone,omitempty"`
}

// Key returns the entity key of the change.
func (ev EntityVersion[T]) Key() Key {
	return ev.Entry.Key
}

// Delta is a batch of changes the consumer has not seen yet.
//
// Anchor is the producer's own knowledge when the delta was created. Changes
// are ordered ascending by version so that partial application followed by
// a retry is safe.
type Delta[T any] struct {
	Anchor  Anchor             `json:"anchor"`
	Changes []EntityVersion[T] `json:"changes"`
}

// Len returns the number of changes.
func (d Delta[T]) Len() int {
	return len(d.Changes)
}

// IsEmpty reports whether the delta carries no changes.
func (d Delta[T]) IsEmpty() bool {
	return len(d.Changes) == 0
}

// Head returns a delta holding only the first n changes. The anchor is kept.
func (d Delta[T]) Head(n int) Delta[T] {
	if n < 0 || n >= len(d.Changes) {
		return d
	}
	return Delta[T]{Anchor: d.Anchor, Changes: d.Changes[:n]}
}

// Tail returns a delta holding the changes after the first n. The anchor is kept.
func (d Delta[T]) Tail(n int) Delta[T] {
	if n <= 0 {
		return d
	}
	if n >= len(d.Changes) {
		return Delta[T]{Anchor: d.Anchor, Changes: nil}
	}
	return Delta[T]{Anchor: d.Anchor, Changes: d.Changes[n:]}
}

// Entries returns the ledger entries of the changes, in order.
func (d Delta[T]) Entries() []ChangeEntry {
	out := make([]ChangeEntry, len(d.Changes))
	for i, c := range d.Changes {
		out[i] = c.Entry
	}
	return out
}

// SortChanges orders changes ascending by version. Ties are broken by
// replica id and then sequence id so the order is deterministic.
func SortChanges[T any](changes []EntityVersion[T]) {
	slices.SortStableFunc(changes, func(a, b EntityVersion[T]) int {
		return CompareEntries(a.Entry, b.Entry)
	})
}

// CompareEntries orders entries by version, replica, then sequence id.
func CompareEntries(a, b ChangeEntry) int {
	switch {
	case a.Version != b.Version:
		if a.Version < b.Version {
			return -1
		}
		return 1
	case a.Replica != b.Replica:
		if a.Replica < b.Replica {
			return -1
		}
		return 1
	case a.SequenceID != b.SequenceID:
		if a.SequenceID < b.SequenceID {
			return -1
		}
		return 1
	default:
		return 0
	}
}
