package ir

// Record is the schema-less entity used by the SQLite store, the CLI and the
// scenario harness. Typed entities plug into the engine through their own
// field schema instead.
type Record struct {
	Key    Key    `json:"key"`
	Fields Fields `json:"fields"`
}

// Clone returns a copy whose Fields can be modified independently.
func (r Record) Clone() Record {
	return Record{Key: r.Key, Fields: r.Fields.Clone()}
}

// Get returns the named field or nil.
func (r Record) Get(name string) Value {
	return r.Fields[name]
}
