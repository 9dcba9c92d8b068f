package testutil

import (
	"fmt"
	"sort"
	"sync"

	"github.com/roach88/replisync/internal/ir"
)

// KeyBook hands out stable entity keys for aliases such as "k1". The first
// replica to name an alias owns it: its key carries that replica's id and
// the next sequence number for it, exactly as the replica would have
// generated it. Replaying the same calls yields the same keys.
//
// Thread-safety: safe for concurrent use.
type KeyBook struct {
	mu      sync.Mutex
	article ir.ArticleID
	keys    map[string]ir.Key
	aliases map[ir.Key]string
	seq     map[ir.ReplicaID]uint64
}

// NewKeyBook creates an empty book for one article.
func NewKeyBook(article ir.ArticleID) *KeyBook {
	return &KeyBook{
		article: article,
		keys:    make(map[string]ir.Key),
		aliases: make(map[ir.Key]string),
		seq:     make(map[ir.ReplicaID]uint64),
	}
}

// Key returns the key of alias, minting one owned by replica when the
// alias is new.
func (b *KeyBook) Key(replica ir.ReplicaID, alias string) ir.Key {
	b.mu.Lock()
	defer b.mu.Unlock()
	if k, ok := b.keys[alias]; ok {
		return k
	}
	b.seq[replica]++
	k := ir.NewKey(replica, b.article, b.seq[replica])
	b.keys[alias] = k
	b.aliases[k] = alias
	return k
}

// Lookup returns the key of an alias already in the book.
func (b *KeyBook) Lookup(alias string) (ir.Key, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	k, ok := b.keys[alias]
	if !ok {
		return ir.Key{}, fmt.Errorf("unknown key alias %q", alias)
	}
	return k, nil
}

// Alias returns the alias of k, or k's text form when it has none.
func (b *KeyBook) Alias(k ir.Key) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if a, ok := b.aliases[k]; ok {
		return a
	}
	return k.String()
}

// Aliases returns the known aliases of keys, sorted.
func (b *KeyBook) Aliases(keys []ir.Key) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = b.Alias(k)
	}
	sort.Strings(out)
	return out
}
