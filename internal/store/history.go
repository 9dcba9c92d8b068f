package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/replisync/internal/ir"
	"github.com/roach88/replisync/internal/ledger"
)

var _ ledger.Backend = (*Store)(nil)

// Append implements ledger.Backend.
// Uses ON CONFLICT DO NOTHING for idempotency - an entry whose
// (article, replica, version) already exists is silently skipped.
func (s *Store) Append(ctx context.Context, entries ...ir.ChangeEntry) ([]ir.ChangeEntry, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("append history: %w", err)
	}
	defer tx.Rollback()

	written := make([]ir.ChangeEntry, 0, len(entries))
	for _, e := range entries {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO change_history (article_id, replica_id, version, entity_key, action)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT DO NOTHING
		`, e.Article, e.Replica, e.Version, e.Key.String(), e.Action.String())
		if err != nil {
			return nil, fmt.Errorf("append history: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("append history: %w", err)
		}
		if n == 0 {
			continue
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("append history: %w", err)
		}
		e.SequenceID = id
		written = append(written, e)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("append history: %w", err)
	}
	return written, nil
}

// Entries implements ledger.Backend.
// Returns an empty slice (not nil) if the article has no history.
func (s *Store) Entries(ctx context.Context, article ir.ArticleID) ([]ir.ChangeEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sequence_id, article_id, replica_id, version, entity_key, action
		FROM change_history
		WHERE article_id = ?
		ORDER BY sequence_id ASC
	`, article)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	entries := []ir.ChangeEntry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return entries, nil
}

// Anchor implements ledger.Backend.
func (s *Store) Anchor(ctx context.Context, article ir.ArticleID) (ir.Anchor, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT replica_id, MAX(version)
		FROM change_history
		WHERE article_id = ?
		GROUP BY replica_id
	`, article)
	if err != nil {
		return nil, fmt.Errorf("query anchor: %w", err)
	}
	defer rows.Close()

	anchor := ir.NewAnchor()
	for rows.Next() {
		var (
			replica ir.ReplicaID
			version ir.Version
		)
		if err := rows.Scan(&replica, &version); err != nil {
			return nil, fmt.Errorf("scan anchor: %w", err)
		}
		anchor[replica] = version
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate anchor: %w", err)
	}
	return anchor, nil
}

// Truncate implements ledger.Backend.
func (s *Store) Truncate(ctx context.Context, article ir.ArticleID, ceilings ir.Anchor) (int, error) {
	total := 0
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, replica := range ceilings.Replicas() {
			// Entries at or above the ceiling may not have been delivered yet.
			res, err := tx.ExecContext(ctx, `
				DELETE FROM change_history
				WHERE article_id = ? AND replica_id = ? AND version < ?
			`, article, replica, ceilings[replica])
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			total += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("truncate history: %w", err)
	}
	return total, nil
}

// EntityHistory returns the entries recorded for one entity, oldest first.
func (s *Store) EntityHistory(ctx context.Context, article ir.ArticleID, key ir.Key) ([]ir.ChangeEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sequence_id, article_id, replica_id, version, entity_key, action
		FROM change_history
		WHERE article_id = ? AND entity_key = ?
		ORDER BY sequence_id ASC
	`, article, key.String())
	if err != nil {
		return nil, fmt.Errorf("query entity history: %w", err)
	}
	defer rows.Close()

	entries := []ir.ChangeEntry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entity history: %w", err)
	}
	return entries, nil
}
