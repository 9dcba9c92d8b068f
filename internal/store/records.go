package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/replisync/internal/ir"
	"github.com/roach88/replisync/internal/repo"
	"github.com/roach88/replisync/internal/synclock"
)

// RecordTable is the records of one article, exposed as a repository.
//
// Mutations and subscriber notifications run under the table's write lock.
// A subscriber error is undone with a compensating statement rather than a
// transaction: the store has a single connection, and subscribers such as
// the change tracker write to the same database.
type RecordTable struct {
	repo.Notifier[ir.Record]

	store   *Store
	article ir.ArticleID
	lock    *synclock.Lock
}

var _ repo.Repository[ir.Record] = (*RecordTable)(nil)

// RecordTableOption configures a RecordTable.
type RecordTableOption func(*RecordTable)

// WithTableLock replaces the table's lock.
func WithTableLock(l *synclock.Lock) RecordTableOption {
	return func(t *RecordTable) {
		t.lock = l
	}
}

// Records returns the record table for article.
func (s *Store) Records(article ir.ArticleID, opts ...RecordTableOption) *RecordTable {
	t := &RecordTable{store: s, article: article}
	for _, opt := range opts {
		opt(t)
	}
	if t.lock == nil {
		t.lock = synclock.New(fmt.Sprintf("records/%d", article))
	}
	return t
}

// Article returns the article the table holds.
func (t *RecordTable) Article() ir.ArticleID {
	return t.article
}

// Lock implements repo.Repository.
func (t *RecordTable) Lock() *synclock.Lock {
	return t.lock
}

// Get implements repo.Repository.
func (t *RecordTable) Get(ctx context.Context, key ir.Key) (ir.Record, bool, error) {
	ctx, release, err := t.lock.AcquireRead(ctx)
	if err != nil {
		return ir.Record{}, false, err
	}
	defer release()
	return t.get(ctx, key)
}

func (t *RecordTable) get(ctx context.Context, key ir.Key) (ir.Record, bool, error) {
	r, err := scanRecord(t.store.db.QueryRowContext(ctx, `
		SELECT entity_key, fields FROM records
		WHERE article_id = ? AND entity_key = ?
	`, t.article, key.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Record{}, false, nil
	}
	if err != nil {
		return ir.Record{}, false, fmt.Errorf("get record %s: %w", key, err)
	}
	return r, true, nil
}

// All implements repo.Repository.
// Returns an empty slice (not nil) if the table is empty.
func (t *RecordTable) All(ctx context.Context) ([]ir.Record, error) {
	ctx, release, err := t.lock.AcquireRead(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	rows, err := t.store.db.QueryContext(ctx, `
		SELECT entity_key, fields FROM records
		WHERE article_id = ?
		ORDER BY entity_key COLLATE BINARY ASC
	`, t.article)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	records := []ir.Record{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}

// Insert implements repo.Repository.
func (t *RecordTable) Insert(ctx context.Context, r ir.Record) error {
	return t.mutate(ctx, ir.ActionInsert, r.Key, r)
}

// Update implements repo.Repository.
func (t *RecordTable) Update(ctx context.Context, r ir.Record) error {
	return t.mutate(ctx, ir.ActionUpdate, r.Key, r)
}

// Delete implements repo.Repository.
func (t *RecordTable) Delete(ctx context.Context, key ir.Key) error {
	return t.mutate(ctx, ir.ActionDelete, key, ir.Record{})
}

func (t *RecordTable) mutate(ctx context.Context, action ir.Action, key ir.Key, r ir.Record) error {
	ctx, release, err := t.lock.AcquireWrite(ctx)
	if err != nil {
		return err
	}
	defer release()

	prev, exists, err := t.get(ctx, key)
	if err != nil {
		return err
	}
	switch {
	case action == ir.ActionInsert && exists:
		return fmt.Errorf("insert %s: %w", key, repo.ErrExists)
	case action != ir.ActionInsert && !exists:
		return fmt.Errorf("%s %s: %w", action, key, repo.ErrNotFound)
	}

	if err := t.apply(ctx, action, key, r.Fields); err != nil {
		return fmt.Errorf("%s %s: %w", action, key, err)
	}

	if err := t.Notify(ctx, repo.Event[ir.Record]{Action: action, Key: key, Value: r.Clone()}); err != nil {
		var undo error
		if exists {
			undo = t.apply(ctx, ir.ActionInsert, key, prev.Fields)
		} else {
			undo = t.apply(ctx, ir.ActionDelete, key, nil)
		}
		return errors.Join(fmt.Errorf("%s %s: %w", action, key, err), undo)
	}
	return nil
}

// apply writes one row change. Insert is an upsert so it can also restore
// a row during undo.
func (t *RecordTable) apply(ctx context.Context, action ir.Action, key ir.Key, fields ir.Fields) error {
	if action == ir.ActionDelete {
		_, err := t.store.db.ExecContext(ctx, `
			DELETE FROM records WHERE article_id = ? AND entity_key = ?
		`, t.article, key.String())
		return err
	}

	data, err := marshalFields(fields)
	if err != nil {
		return err
	}
	_, err = t.store.db.ExecContext(ctx, `
		INSERT INTO records (entity_key, article_id, fields)
		VALUES (?, ?, ?)
		ON CONFLICT(entity_key) DO UPDATE SET fields = excluded.fields
	`, key.String(), t.article, data)
	return err
}
