package ir

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
)

// Anchor is a version vector: for every replica this holder knows about, the
// greatest version it has incorporated from that replica.
//
// Absence of a replica means "no knowledge of that replica". Anchors returned
// by providers are snapshots; callers that need to modify one must Clone it.
type Anchor map[ReplicaID]Version

// NewAnchor returns an empty anchor.
func NewAnchor() Anchor {
	return make(Anchor)
}

// Get returns the version recorded for replica, or 0 when unknown.
func (a Anchor) Get(replica ReplicaID) Version {
	return a[replica]
}

// Covers reports whether the anchor already includes version v of replica.
func (a Anchor) Covers(replica ReplicaID, v Version) bool {
	seen, ok := a[replica]
	return ok && v <= seen
}

// Observe raises the entry for replica to v if v is greater.
func (a Anchor) Observe(replica ReplicaID, v Version) {
	if cur, ok := a[replica]; !ok || v > cur {
		a[replica] = v
	}
}

// Clone returns an independent copy.
func (a Anchor) Clone() Anchor {
	out := make(Anchor, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Merge returns the pointwise maximum of a and other.
func (a Anchor) Merge(other Anchor) Anchor {
	out := a.Clone()
	for r, v := range other {
		out.Observe(r, v)
	}
	return out
}

// Equal reports whether both anchors hold the same replicas at the same versions.
func (a Anchor) Equal(other Anchor) bool {
	if len(a) != len(other) {
		return false
	}
	for r, v := range a {
		ov, ok := other[r]
		if !ok || ov != v {
			return false
		}
	}
	return true
}

// Replicas returns the replica ids in ascending order.
func (a Anchor) Replicas() []ReplicaID {
	ids := make([]ReplicaID, 0, len(a))
	for r := range a {
		ids = append(ids, r)
	}
	slices.Sort(ids)
	return ids
}

// String renders the anchor deterministically, e.g. "{1:4 2:7}".
func (a Anchor) String() string {
	buf := []byte{'{'}
	for i, r := range a.Replicas() {
		if i > 0 {
			buf = append(buf, ' ')
		}
		buf = strconv.AppendInt(buf, int64(r), 10)
		buf = append(buf, ':')
		buf = strconv.AppendInt(buf, int64(a[r]), 10)
	}
	return string(append(buf, '}'))
}

// Fields converts the anchor to a Fields object keyed by decimal replica id.
// Used for canonical encoding and golden traces.
func (a Anchor) Fields() Fields {
	obj := make(Fields, len(a))
	for r, v := range a {
		obj[strconv.FormatInt(int64(r), 10)] = Int(v)
	}
	return obj
}

// MarshalJSON encodes the anchor as an object keyed by replica id.
func (a Anchor) MarshalJSON() ([]byte, error) {
	return a.Fields().MarshalJSON()
}

// UnmarshalJSON decodes the object form written by MarshalJSON.
func (a *Anchor) UnmarshalJSON(data []byte) error {
	var raw map[string]int64
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Anchor, len(raw))
	for k, v := range raw {
		id, err := strconv.ParseInt(k, 10, 32)
		if err != nil {
			return fmt.Errorf("anchor key %q: %w", k, err)
		}
		out[ReplicaID(id)] = Version(v)
	}
	*a = out
	return nil
}
