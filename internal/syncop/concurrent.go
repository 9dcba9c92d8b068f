package syncop

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/replisync/internal/ir"
)

// RunConcurrently runs independent runners in parallel, such as sessions
// for different replica pairs. Results are returned in runner order. The
// first error cancels the context passed to the others and is returned.
func RunConcurrently(ctx context.Context, runners ...Runner) ([]ir.SyncResult, error) {
	results := make([]ir.SyncResult, len(runners))
	g, ctx := errgroup.WithContext(ctx)
	for i, r := range runners {
		g.Go(func() error {
			res, err := r.Run(ctx)
			results[i] = res
			return err
		})
	}
	err := g.Wait()
	return results, err
}
