package store

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/replisync/internal/ir"
)

// marshalFields converts record fields to canonical JSON TEXT for storage.
func marshalFields(f ir.Fields) (string, error) {
	if f == nil {
		f = ir.Fields{}
	}
	data, err := ir.MarshalCanonical(f)
	if err != nil {
		return "", fmt.Errorf("marshal fields: %w", err)
	}
	return string(data), nil
}

// unmarshalFields parses canonical JSON TEXT to record fields.
// ir.Fields.UnmarshalJSON decodes numbers via json.Number so large integers
// keep full precision.
func unmarshalFields(data string) (ir.Fields, error) {
	if data == "" || data == "{}" {
		return ir.Fields{}, nil
	}
	var f ir.Fields
	if err := json.Unmarshal([]byte(data), &f); err != nil {
		return nil, fmt.Errorf("unmarshal fields: %w", err)
	}
	return f, nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (ir.ChangeEntry, error) {
	var (
		e      ir.ChangeEntry
		key    string
		action string
	)
	if err := row.Scan(&e.SequenceID, &e.Article, &e.Replica, &e.Version, &key, &action); err != nil {
		return ir.ChangeEntry{}, fmt.Errorf("scan change entry: %w", err)
	}
	k, err := ir.ParseKey(key)
	if err != nil {
		return ir.ChangeEntry{}, fmt.Errorf("scan change entry %d: %w", e.SequenceID, err)
	}
	a, err := ir.ParseAction(action)
	if err != nil {
		return ir.ChangeEntry{}, fmt.Errorf("scan change entry %d: %w", e.SequenceID, err)
	}
	e.Key = k
	e.Action = a
	return e, nil
}

func scanRecord(row scanner) (ir.Record, error) {
	var key, fields string
	if err := row.Scan(&key, &fields); err != nil {
		return ir.Record{}, err
	}
	k, err := ir.ParseKey(key)
	if err != nil {
		return ir.Record{}, fmt.Errorf("scan record: %w", err)
	}
	f, err := unmarshalFields(fields)
	if err != nil {
		return ir.Record{}, fmt.Errorf("scan record %s: %w", key, err)
	}
	return ir.Record{Key: k, Fields: f}, nil
}
