package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/replisync/internal/ir"
)

// ErrIdentityMismatch is returned by SetIdentity when the database already
// belongs to a different replica.
var ErrIdentityMismatch = errors.New("database belongs to another replica")

// Identity returns the replica this database belongs to.
// The boolean is false if no identity has been set.
func (s *Store) Identity(ctx context.Context) (ir.Replica, bool, error) {
	var r ir.Replica
	err := s.db.QueryRowContext(ctx, `
		SELECT replica_id, name FROM replica_identity WHERE singleton = 1
	`).Scan(&r.ID, &r.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Replica{}, false, nil
	}
	if err != nil {
		return ir.Replica{}, false, fmt.Errorf("read identity: %w", err)
	}
	return r, true, nil
}

// SetIdentity records the replica this database belongs to.
// Setting the same identity again is a no-op; setting a different one
// returns ErrIdentityMismatch.
func (s *Store) SetIdentity(ctx context.Context, r ir.Replica) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO replica_identity (singleton, replica_id, name)
		VALUES (1, ?, ?)
		ON CONFLICT DO NOTHING
	`, r.ID, r.Name)
	if err != nil {
		return fmt.Errorf("write identity: %w", err)
	}

	got, _, err := s.Identity(ctx)
	if err != nil {
		return err
	}
	if got != r {
		return fmt.Errorf("set identity %s: %w (owned by %s)", r, ErrIdentityMismatch, got)
	}
	return nil
}
