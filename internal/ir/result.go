package ir

// SyncResult lists the records one AcceptChanges call inserted, updated and
// deleted. Results compose: a chain of operations concatenates them.
type SyncResult struct {
	Inserted []Key `json:"inserted"`
	Updated  []Key `json:"updated"`
	Deleted  []Key `json:"deleted"`

	// Absorbed counts ledger entries recorded without touching a record,
	// for example conflicting remote changes dropped by a winning replica.
	Absorbed int `json:"absorbed"`

	// Conflicts counts conflicting keys detected during the merge.
	Conflicts int `json:"conflicts"`
}

// NewSyncResult returns an empty result with non-nil slices.
func NewSyncResult() SyncResult {
	return SyncResult{
		Inserted: []Key{},
		Updated:  []Key{},
		Deleted:  []Key{},
	}
}

// Merge returns r followed by other.
func (r SyncResult) Merge(other SyncResult) SyncResult {
	out := NewSyncResult()
	out.Inserted = append(append(out.Inserted, r.Inserted...), other.Inserted...)
	out.Updated = append(append(out.Updated, r.Updated...), other.Updated...)
	out.Deleted = append(append(out.Deleted, r.Deleted...), other.Deleted...)
	out.Absorbed = r.Absorbed + other.Absorbed
	out.Conflicts = r.Conflicts + other.Conflicts
	return out
}

// Changed returns the number of records touched.
func (r SyncResult) Changed() int {
	return len(r.Inserted) + len(r.Updated) + len(r.Deleted)
}

// Capabilities is what a provider advertises at construction time.
type Capabilities struct {
	// AcceptChanges is false for read-only providers.
	AcceptChanges bool `json:"accept_changes"`

	// MetadataCleanup is true when the provider truncates its ledger after
	// a successful exchange.
	MetadataCleanup bool `json:"metadata_cleanup"`
}
