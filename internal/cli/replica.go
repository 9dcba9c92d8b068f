package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/replisync/internal/engine"
	"github.com/roach88/replisync/internal/ir"
	"github.com/roach88/replisync/internal/ledger"
	"github.com/roach88/replisync/internal/store"
)

// replicaHandle is an opened replica database and its provider for one
// article.
type replicaHandle struct {
	path     string
	store    *store.Store
	provider *engine.Provider[ir.Record]
}

// openReplica opens an initialized replica database. The database must
// exist and carry an identity written by init.
func openReplica(ctx context.Context, path string, article ir.ArticleID, opts ...engine.ProviderOption) (*replicaHandle, error) {
	if path == "" {
		return nil, NewExitError(ExitCommandError, "database path is required").WithCode(ErrCodeInvalidInput)
	}
	if _, err := os.Stat(path); err != nil {
		return nil, WrapExitError(ExitCommandError, fmt.Sprintf("database not found: %s", path), err).WithCode(ErrCodeNotFound)
	}

	st, err := store.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	identity, ok, err := st.Identity(ctx)
	if err != nil {
		st.Close()
		return nil, WrapExitError(ExitCommandError, "failed to read replica identity", err)
	}
	if !ok {
		st.Close()
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("%s is not initialized (run replisync init)", path)).WithCode(ErrCodeNotInitialized)
	}

	l := ledger.New(st, article)
	return &replicaHandle{
		path:     path,
		store:    st,
		provider: engine.NewProvider[ir.Record](identity, st.Records(article), l, engine.Records(), opts...),
	}, nil
}

// Close stops tracking and closes the database.
func (h *replicaHandle) Close() error {
	h.provider.Close()
	return h.store.Close()
}

// closeAll closes handles and joins their errors.
func closeAll(handles ...*replicaHandle) error {
	var errs []error
	for _, h := range handles {
		if h != nil {
			errs = append(errs, h.Close())
		}
	}
	return errors.Join(errs...)
}

// signalContext returns the command's context, cancelled on SIGINT or
// SIGTERM so a running sync stops at its next checkpoint.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
