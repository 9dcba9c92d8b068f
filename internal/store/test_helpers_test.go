package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/replisync/internal/ir"
)

// createTestStore creates a new store in a temp directory for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestEntry creates a change entry for article 1.
func createTestEntry(replica ir.ReplicaID, version ir.Version, seq uint64, action ir.Action) ir.ChangeEntry {
	return ir.ChangeEntry{
		Article: 1,
		Replica: replica,
		Version: version,
		Key:     ir.NewKey(replica, 1, seq),
		Action:  action,
	}
}

// createTestRecord creates a record of article 1 with a single text field.
func createTestRecord(seq uint64, text string) ir.Record {
	return ir.Record{Key: ir.NewKey(1, 1, seq), Fields: ir.Fields{"text": ir.String(text)}}
}
