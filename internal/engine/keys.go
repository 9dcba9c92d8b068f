package engine

import (
	"sync/atomic"

	"github.com/roach88/replisync/internal/ir"
)

// KeySequence mints entity keys for one replica and article.
//
// Keys embed the replica id, so sequences on different replicas never
// collide and need no coordination. Within a replica, each call to Next
// returns a strictly greater sequence.
//
// Thread-safety: KeySequence is safe for concurrent use (atomic operations).
type KeySequence struct {
	replica ir.ReplicaID
	article ir.ArticleID
	seq     atomic.Uint64
}

// NewKeySequence creates a sequence starting at 0; the first key has seq 1.
func NewKeySequence(replica ir.ReplicaID, article ir.ArticleID) *KeySequence {
	return &KeySequence{replica: replica, article: article}
}

// NewKeySequenceAt creates a sequence resuming after start.
func NewKeySequenceAt(replica ir.ReplicaID, article ir.ArticleID, start uint64) *KeySequence {
	s := NewKeySequence(replica, article)
	s.seq.Store(start)
	return s
}

// Next returns a fresh key.
func (s *KeySequence) Next() ir.Key {
	return ir.NewKey(s.replica, s.article, s.seq.Add(1))
}

// Current returns the last minted sequence number.
func (s *KeySequence) Current() uint64 {
	return s.seq.Load()
}

// Observe raises the sequence past k if k was minted by the same replica
// and article. Used to resume after a restart.
func (s *KeySequence) Observe(k ir.Key) {
	if k.Replica() != s.replica || k.Article() != s.article {
		return
	}
	for {
		cur := s.seq.Load()
		if k.Seq() <= cur || s.seq.CompareAndSwap(cur, k.Seq()) {
			return
		}
	}
}
