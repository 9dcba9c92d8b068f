package syncop

import (
	"context"

	"github.com/roach88/replisync/internal/ir"
)

// Endpoint is what both roles share: identity and advertised capabilities.
type Endpoint interface {
	ReplicaID() ir.ReplicaID
	Capabilities() ir.Capabilities

	// CleanUpSyncMetadata is only called when Capabilities reports
	// MetadataCleanup.
	CleanUpSyncMetadata(ctx context.Context, applied []ir.ChangeEntry) (int, error)
}

// Source produces deltas.
type Source[T any] interface {
	Endpoint
	ResolveDelta(ctx context.Context, remote ir.Anchor) (ir.Delta[T], error)
}

// Target accepts deltas.
type Target[T any] interface {
	Endpoint
	LastAnchor(ctx context.Context) (ir.Anchor, error)
	AcceptChanges(ctx context.Context, source ir.ReplicaID, delta ir.Delta[T]) (ir.SyncResult, error)
}

// Peer plays both roles, as engine.Provider does.
type Peer[T any] interface {
	Source[T]
	Target[T]
}

// Runner is anything that runs as one step of a session. Operation and
// Chain are Runners, so chains nest and may mix entity types.
type Runner interface {
	Name() string
	Run(ctx context.Context) (ir.SyncResult, error)
}
