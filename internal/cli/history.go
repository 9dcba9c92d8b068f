package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/replisync/internal/ir"
)

// AnchorResult reports a replica's anchor for one article.
type AnchorResult struct {
	Replica string    `json:"replica"`
	Article uint32    `json:"article_id"`
	Anchor  ir.Anchor `json:"anchor"`
	Hash    string    `json:"hash"`
}

// Text implements Texter.
func (r AnchorResult) Text() string {
	return fmt.Sprintf("%s article %d: %s", r.Replica, r.Article, r.Anchor)
}

// NewAnchorCommand creates the anchor command.
func NewAnchorCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplicaOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "anchor",
		Short: "Show the replica's version vector",
		Long: `Show the highest version this replica has seen from every replica.

The hash is stable for equal anchors and can be compared across replicas
to check whether they have observed the same changes.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			h, err := openReplica(ctx, opts.Database, ir.ArticleID(opts.Article))
			if err != nil {
				return err
			}
			defer h.Close()

			anchor, err := h.provider.LastAnchor(ctx)
			if err != nil {
				return syncExitError("failed to read anchor", err)
			}
			return opts.formatter(cmd).Success(AnchorResult{
				Replica: h.provider.Replica().String(),
				Article: opts.Article,
				Anchor:  anchor,
				Hash:    ir.AnchorHash(anchor),
			})
		},
	}

	opts.bind(cmd)
	return cmd
}

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	ReplicaOptions
	Key string
}

// HistoryEntry is one ledger entry in history output.
type HistoryEntry struct {
	Sequence int64  `json:"sequence_id"`
	Replica  int32  `json:"replica_id"`
	Version  int64  `json:"version"`
	Key      string `json:"entity_key"`
	Action   string `json:"action"`
}

// HistoryResult holds ledger entries, oldest first.
type HistoryResult struct {
	Entries []HistoryEntry `json:"entries"`
}

// Text implements Texter.
func (r HistoryResult) Text() string {
	if len(r.Entries) == 0 {
		return "no history"
	}
	var b strings.Builder
	for i, e := range r.Entries {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%4d  %-6s %s  r%d v%d", e.Sequence, e.Action, e.Key, e.Replica, e.Version)
	}
	return b.String()
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{ReplicaOptions: ReplicaOptions{RootOptions: rootOpts}}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the change history ledger",
		Long: `Show the change history ledger of one article, or of a single record
with --key. Entries removed by metadata cleanup are no longer listed.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			article := ir.ArticleID(opts.Article)

			var key ir.Key
			if opts.Key != "" {
				var err error
				if key, err = ir.ParseKey(opts.Key); err != nil {
					return WrapExitError(ExitCommandError, "invalid --key", err).WithCode(ErrCodeInvalidInput)
				}
			}

			ctx := cmd.Context()
			h, err := openReplica(ctx, opts.Database, article)
			if err != nil {
				return err
			}
			defer h.Close()

			var entries []ir.ChangeEntry
			if opts.Key != "" {
				entries, err = h.store.EntityHistory(ctx, article, key)
			} else {
				entries, err = h.store.Entries(ctx, article)
			}
			if err != nil {
				return syncExitError("failed to read history", err)
			}

			result := HistoryResult{Entries: make([]HistoryEntry, len(entries))}
			for i, e := range entries {
				result.Entries[i] = HistoryEntry{
					Sequence: e.SequenceID,
					Replica:  int32(e.Replica),
					Version:  int64(e.Version),
					Key:      e.Key.String(),
					Action:   e.Action.String(),
				}
			}
			return opts.formatter(cmd).Success(result)
		},
	}

	opts.bind(cmd)
	cmd.Flags().StringVar(&opts.Key, "key", "", "only show entries for this record")
	return cmd
}
