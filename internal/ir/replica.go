package ir

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// ReplicaID identifies one participant in a sync topology.
type ReplicaID int32

// ArticleID identifies a record collection (table) that is synchronized as a unit.
type ArticleID uint32

// Version is a per-replica logical counter. Zero means "nothing seen".
type Version int64

// Replica is the immutable identity of a participant.
type Replica struct {
	ID   ReplicaID `json:"replica_id"`
	Name string    `json:"name"`
}

// String returns "name(id)".
func (r Replica) String() string {
	return fmt.Sprintf("%s(%d)", r.Name, r.ID)
}

// Key is a 128-bit, replica-scoped record identifier.
//
// Layout (big endian):
//
//	bytes 0-3   replica id
//	bytes 4-7   article id
//	bytes 8-15  per-replica sequence
//
// Because the replica id is part of the key, every replica can mint keys
// independently without coordination and without collisions.
type Key [16]byte

// NilKey is the zero key. It is never minted.
var NilKey Key

// NewKey assembles a key from its components.
func NewKey(replica ReplicaID, article ArticleID, seq uint64) Key {
	var k Key
	binary.BigEndian.PutUint32(k[0:4], uint32(replica))
	binary.BigEndian.PutUint32(k[4:8], uint32(article))
	binary.BigEndian.PutUint64(k[8:16], seq)
	return k
}

// Replica returns the replica that minted the key.
func (k Key) Replica() ReplicaID {
	return ReplicaID(binary.BigEndian.Uint32(k[0:4]))
}

// Article returns the article the key belongs to.
func (k Key) Article() ArticleID {
	return ArticleID(binary.BigEndian.Uint32(k[4:8]))
}

// Seq returns the per-replica sequence number.
func (k Key) Seq() uint64 {
	return binary.BigEndian.Uint64(k[8:16])
}

// IsNil reports whether k is the zero key.
func (k Key) IsNil() bool {
	return k == NilKey
}

// String renders the key in the hyphenated 8-4-4-4-12 form.
func (k Key) String() string {
	return uuid.UUID(k).String()
}

// MarshalText implements encoding.TextMarshaler.
func (k Key) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Key) UnmarshalText(data []byte) error {
	parsed, err := ParseKey(string(data))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseKey parses the text form produced by Key.String.
func ParseKey(s string) (Key, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return NilKey, fmt.Errorf("parse key %q: %w", s, err)
	}
	return Key(u), nil
}

// MustParseKey is like ParseKey but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustParseKey(s string) Key {
	k, err := ParseKey(s)
	if err != nil {
		panic(err)
	}
	return k
}
