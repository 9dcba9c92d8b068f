package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/replisync/internal/engine"
	"github.com/roach88/replisync/internal/ir"
	"github.com/roach88/replisync/internal/syncop"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	Source         string
	Target         string
	Article        uint32
	Strategy       string
	SourceStrategy string
	TwoWay         bool
	Cleanup        bool
	Batch          int
	Wire           bool
	Metrics        bool
}

// SyncReport is the outcome of a sync command.
type SyncReport struct {
	Operation    string    `json:"operation"`
	Inserted     []ir.Key  `json:"inserted"`
	Updated      []ir.Key  `json:"updated"`
	Deleted      []ir.Key  `json:"deleted"`
	Absorbed     int       `json:"absorbed"`
	Conflicts    int       `json:"conflicts"`
	SourceAnchor ir.Anchor `json:"source_anchor"`
	TargetAnchor ir.Anchor `json:"target_anchor"`
}

// Text implements Texter.
func (r SyncReport) Text() string {
	return fmt.Sprintf("%s: %d inserted, %d updated, %d deleted, %d absorbed, %d conflicts\nsource %s\ntarget %s",
		r.Operation, len(r.Inserted), len(r.Updated), len(r.Deleted), r.Absorbed, r.Conflicts,
		r.SourceAnchor, r.TargetAnchor)
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Synchronize two replicas",
		Long: `Send the changes the target has not seen from the source replica to the
target replica. With --two-way the target's changes are then sent back.

Conflicting edits are resolved by the receiving replica's strategy:
  fail    - abort the exchange with a CONFLICT error (default)
  winner  - keep the local record and absorb the remote change
  loser   - apply the remote change over the local record

Exit codes:
  0 - Exchange completed
  1 - Sync failure (conflict, lock timeout, cancelled, read-only target)
  2 - Command error (bad flags, database missing or not initialized)

Examples:
  replisync sync --source ./server.db --target ./laptop.db
  replisync sync --source ./laptop.db --target ./server.db --two-way --source-strategy loser --strategy winner
  replisync sync --source ./server.db --target ./phone.db --cleanup --batch 100`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Source, "source", "", "source replica database (required)")
	cmd.Flags().StringVar(&opts.Target, "target", "", "target replica database (required)")
	cmd.Flags().Uint32Var(&opts.Article, "article", 1, "article (record collection) id")
	cmd.Flags().StringVar(&opts.Strategy, "strategy", "fail", "target conflict strategy (fail|winner|loser)")
	cmd.Flags().StringVar(&opts.SourceStrategy, "source-strategy", "fail", "source conflict strategy, used by --two-way")
	cmd.Flags().BoolVar(&opts.TwoWay, "two-way", false, "also send the target's changes back to the source")
	cmd.Flags().BoolVar(&opts.Cleanup, "cleanup", false, "truncate the target's history after the exchange")
	cmd.Flags().IntVar(&opts.Batch, "batch", 0, "maximum changes per round (0 = unlimited)")
	cmd.Flags().BoolVar(&opts.Wire, "wire", false, "encode each delta as it would cross a network")
	cmd.Flags().BoolVar(&opts.Metrics, "metrics", false, "write Prometheus metrics for the run to stderr")
	_ = cmd.MarkFlagRequired("source")
	_ = cmd.MarkFlagRequired("target")

	return cmd
}

func runSync(cmd *cobra.Command, opts *SyncOptions) error {
	if opts.Source == opts.Target {
		return NewExitError(ExitCommandError, "--source and --target must differ").WithCode(ErrCodeInvalidInput)
	}
	if opts.Batch < 0 {
		return NewExitError(ExitCommandError, "--batch must not be negative").WithCode(ErrCodeInvalidInput)
	}
	targetStrategy, err := engine.ParseStrategy(opts.Strategy)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --strategy", err).WithCode(ErrCodeInvalidInput)
	}
	sourceStrategy, err := engine.ParseStrategy(opts.SourceStrategy)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --source-strategy", err).WithCode(ErrCodeInvalidInput)
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	article := ir.ArticleID(opts.Article)
	logger := slog.Default()

	src, err := openReplica(ctx, opts.Source, article, engine.WithStrategy(sourceStrategy), engine.WithLogger(logger))
	if err != nil {
		return err
	}
	targetOpts := []engine.ProviderOption{engine.WithStrategy(targetStrategy), engine.WithLogger(logger)}
	if opts.Cleanup {
		targetOpts = append(targetOpts, engine.WithMetadataCleanup())
	}
	tgt, err := openReplica(ctx, opts.Target, article, targetOpts...)
	if err != nil {
		src.Close()
		return err
	}
	defer closeAll(src, tgt)

	dump := newMetricsDump(opts.Metrics)
	opOpts := append([]syncop.Option{syncop.WithBatchSize(opts.Batch), syncop.WithLogger(logger)}, dump.options()...)
	if opts.Wire {
		opOpts = append(opOpts, syncop.WithFilter(syncop.SerializationBoundary[ir.Record]()))
	}

	var runner syncop.Runner
	if opts.TwoWay {
		runner = syncop.TwoWay[ir.Record](fmt.Sprintf("%s<->%s", src.provider.Replica().Name, tgt.provider.Replica().Name),
			src.provider, tgt.provider, opOpts...)
	} else {
		opOpts = append(opOpts, syncop.WithName(fmt.Sprintf("%s->%s", src.provider.Replica().Name, tgt.provider.Replica().Name)))
		runner = syncop.NewOperation[ir.Record](src.provider, tgt.provider, opOpts...)
	}

	formatter := opts.formatter(cmd)
	formatter.VerboseLog("running %s", runner.Name())

	res, err := runner.Run(ctx)
	if werr := dump.write(formatter.GetErrWriter()); werr != nil {
		slog.Warn("failed to write metrics", "error", werr)
	}
	if err != nil {
		return syncExitError(fmt.Sprintf("sync %s failed", runner.Name()), err)
	}

	report := SyncReport{
		Operation: runner.Name(),
		Inserted:  res.Inserted,
		Updated:   res.Updated,
		Deleted:   res.Deleted,
		Absorbed:  res.Absorbed,
		Conflicts: res.Conflicts,
	}
	if report.SourceAnchor, err = src.provider.LastAnchor(ctx); err != nil {
		return syncExitError("failed to read source anchor", err)
	}
	if report.TargetAnchor, err = tgt.provider.LastAnchor(ctx); err != nil {
		return syncExitError("failed to read target anchor", err)
	}
	return formatter.Success(report)
}
