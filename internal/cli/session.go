package cli

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/spf13/cobra"

	"github.com/roach88/replisync/internal/engine"
	"github.com/roach88/replisync/internal/ir"
	"github.com/roach88/replisync/internal/syncop"
)

//go:embed session_schema.cue
var sessionSchema string

// Session is a compiled session file: named replicas and the ordered
// exchanges to run between them.
type Session struct {
	Name     string
	Article  ir.ArticleID
	Replicas map[string]SessionReplica
	Steps    []SessionStep
}

// SessionReplica is one replica declared by a session file.
type SessionReplica struct {
	Name     string
	Database string // resolved against the session file's directory
	Strategy engine.Strategy
	Cleanup  bool
	ReadOnly bool
}

// SessionStep is one exchange of a session.
type SessionStep struct {
	Source  string
	Target  string
	Article ir.ArticleID
	Batch   int
	Wire    bool
	TwoWay  bool
}

// Name returns "source->target", or "source<->target" for two-way steps.
func (s SessionStep) Name() string {
	if s.TwoWay {
		return s.Source + "<->" + s.Target
	}
	return s.Source + "->" + s.Target
}

// LoadSession compiles a CUE session file against the session schema.
func LoadSession(path string) (*Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(sessionSchema, cue.Filename("session_schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("session schema: %w", err)
	}
	file := ctx.CompileBytes(data, cue.Filename(path))
	if err := file.Err(); err != nil {
		return nil, fmt.Errorf("compile session: %w", err)
	}

	v := schema.Unify(file).LookupPath(cue.ParsePath("session"))
	if !v.Exists() {
		return nil, fmt.Errorf("%s: no session value", path)
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("validate session: %w", err)
	}

	return compileSession(v, filepath.Dir(path))
}

func compileSession(v cue.Value, baseDir string) (*Session, error) {
	name, err := v.LookupPath(cue.ParsePath("name")).String()
	if err != nil {
		return nil, fmt.Errorf("session name: %w", err)
	}
	article, err := v.LookupPath(cue.ParsePath("article")).Int64()
	if err != nil {
		return nil, fmt.Errorf("session article: %w", err)
	}
	s := &Session{
		Name:     name,
		Article:  ir.ArticleID(article),
		Replicas: make(map[string]SessionReplica),
	}

	iter, err := v.LookupPath(cue.ParsePath("replicas")).Fields()
	if err != nil {
		return nil, fmt.Errorf("session replicas: %w", err)
	}
	for iter.Next() {
		r, err := compileSessionReplica(iter.Label(), iter.Value(), baseDir)
		if err != nil {
			return nil, err
		}
		s.Replicas[r.Name] = r
	}

	list, err := v.LookupPath(cue.ParsePath("steps")).List()
	if err != nil {
		return nil, fmt.Errorf("session steps: %w", err)
	}
	for i := 0; list.Next(); i++ {
		step, err := compileSessionStep(list.Value(), s.Article)
		if err != nil {
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}
		for _, ref := range []string{step.Source, step.Target} {
			if _, ok := s.Replicas[ref]; !ok {
				return nil, fmt.Errorf("steps[%d]: unknown replica %q", i, ref)
			}
		}
		if step.Source == step.Target {
			return nil, fmt.Errorf("steps[%d]: source and target must differ", i)
		}
		s.Steps = append(s.Steps, step)
	}
	return s, nil
}

func compileSessionReplica(name string, v cue.Value, baseDir string) (SessionReplica, error) {
	r := SessionReplica{Name: name}

	db, err := v.LookupPath(cue.ParsePath("db")).String()
	if err != nil {
		return r, fmt.Errorf("replicas.%s.db: %w", name, err)
	}
	if !filepath.IsAbs(db) {
		db = filepath.Join(baseDir, db)
	}
	r.Database = db

	strategy, err := v.LookupPath(cue.ParsePath("strategy")).String()
	if err != nil {
		return r, fmt.Errorf("replicas.%s.strategy: %w", name, err)
	}
	if r.Strategy, err = engine.ParseStrategy(strategy); err != nil {
		return r, fmt.Errorf("replicas.%s: %w", name, err)
	}
	if r.Cleanup, err = v.LookupPath(cue.ParsePath("cleanup")).Bool(); err != nil {
		return r, fmt.Errorf("replicas.%s.cleanup: %w", name, err)
	}
	if r.ReadOnly, err = v.LookupPath(cue.ParsePath("read_only")).Bool(); err != nil {
		return r, fmt.Errorf("replicas.%s.read_only: %w", name, err)
	}
	return r, nil
}

func compileSessionStep(v cue.Value, article ir.ArticleID) (SessionStep, error) {
	step := SessionStep{Article: article}
	var err error

	if step.Source, err = v.LookupPath(cue.ParsePath("source")).String(); err != nil {
		return step, err
	}
	if step.Target, err = v.LookupPath(cue.ParsePath("target")).String(); err != nil {
		return step, err
	}
	if a := v.LookupPath(cue.ParsePath("article")); a.Exists() {
		n, err := a.Int64()
		if err != nil {
			return step, err
		}
		step.Article = ir.ArticleID(n)
	}
	batch, err := v.LookupPath(cue.ParsePath("batch")).Int64()
	if err != nil {
		return step, err
	}
	step.Batch = int(batch)
	if step.Wire, err = v.LookupPath(cue.ParsePath("wire")).Bool(); err != nil {
		return step, err
	}
	if step.TwoWay, err = v.LookupPath(cue.ParsePath("two_way")).Bool(); err != nil {
		return step, err
	}
	return step, nil
}

// SessionOptions holds flags for the session command.
type SessionOptions struct {
	*RootOptions
	Check   bool // validate only
	Metrics bool
}

// SessionReport is the outcome of a session run.
type SessionReport struct {
	Session   string               `json:"session"`
	Steps     []string             `json:"steps"`
	Ran       bool                 `json:"ran"`
	Inserted  []ir.Key             `json:"inserted"`
	Updated   []ir.Key             `json:"updated"`
	Deleted   []ir.Key             `json:"deleted"`
	Absorbed  int                  `json:"absorbed"`
	Conflicts int                  `json:"conflicts"`
	Anchors   map[string]ir.Anchor `json:"anchors,omitempty"`
}

// Text implements Texter.
func (r SessionReport) Text() string {
	var b strings.Builder
	if !r.Ran {
		fmt.Fprintf(&b, "session %s is valid (%d steps)", r.Session, len(r.Steps))
		for _, s := range r.Steps {
			fmt.Fprintf(&b, "\n  %s", s)
		}
		return b.String()
	}
	fmt.Fprintf(&b, "session %s: %d inserted, %d updated, %d deleted, %d absorbed, %d conflicts",
		r.Session, len(r.Inserted), len(r.Updated), len(r.Deleted), r.Absorbed, r.Conflicts)
	names := make([]string, 0, len(r.Anchors))
	for name := range r.Anchors {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		fmt.Fprintf(&b, "\n  %s %s", name, r.Anchors[name])
	}
	return b.String()
}

// NewSessionCommand creates the session command.
func NewSessionCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SessionOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "session <file.cue>",
		Short: "Run a sync session described in CUE",
		Long: `Run the exchanges of a CUE session file as one chain. The chain stops at
the first failing step; changes applied by earlier steps are kept.

Database paths are resolved relative to the session file.

Example session:
  session: {
      name: "nightly"
      replicas: {
          server: {db: "server.db", strategy: "winner"}
          laptop: {db: "laptop.db", strategy: "loser"}
          phone:  {db: "phone.db", cleanup: true}
      }
      steps: [
          {source: "laptop", target: "server", two_way: true},
          {source: "server", target: "phone", batch: 100},
      ]
  }`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(cmd, opts, args[0])
		},
	}

	cmd.Flags().BoolVar(&opts.Check, "check", false, "validate the session file without running it")
	cmd.Flags().BoolVar(&opts.Metrics, "metrics", false, "write Prometheus metrics for the run to stderr")
	return cmd
}

func runSession(cmd *cobra.Command, opts *SessionOptions, path string) error {
	if _, err := os.Stat(path); err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("session file not found: %s", path), err).WithCode(ErrCodeNotFound)
	}
	s, err := LoadSession(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load session", err).WithCode(ErrCodeSessionLoad)
	}

	report := SessionReport{Session: s.Name, Steps: make([]string, len(s.Steps))}
	for i, step := range s.Steps {
		report.Steps[i] = step.Name()
	}
	formatter := opts.formatter(cmd)
	if opts.Check {
		return formatter.Success(report)
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	logger := slog.Default()
	dump := newMetricsDump(opts.Metrics)
	handles := make(map[string]*replicaHandle)
	peers := make(map[string]*engine.CachingSource[ir.Record])
	defer func() {
		all := make([]*replicaHandle, 0, len(handles))
		for _, h := range handles {
			all = append(all, h)
		}
		_ = closeAll(all...)
	}()

	// One provider per (replica, article), shared by every step using it.
	// A replica serving several steps resolves each distinct anchor once.
	provider := func(name string, article ir.ArticleID) (*engine.CachingSource[ir.Record], error) {
		id := fmt.Sprintf("%s/%d", name, article)
		if p, ok := peers[id]; ok {
			return p, nil
		}
		r := s.Replicas[name]
		popts := []engine.ProviderOption{engine.WithStrategy(r.Strategy), engine.WithLogger(logger)}
		if r.Cleanup {
			popts = append(popts, engine.WithMetadataCleanup())
		}
		if r.ReadOnly {
			popts = append(popts, engine.ReadOnly())
		}
		h, err := openReplica(ctx, r.Database, article, popts...)
		if err != nil {
			return nil, err
		}
		handles[id] = h
		peers[id] = engine.NewCachingSource(h.provider, 0)
		return peers[id], nil
	}

	chain := syncop.NewChain(s.Name).WithLogger(logger)
	for _, step := range s.Steps {
		src, err := provider(step.Source, step.Article)
		if err != nil {
			return err
		}
		tgt, err := provider(step.Target, step.Article)
		if err != nil {
			return err
		}
		stepOpts := append([]syncop.Option{syncop.WithBatchSize(step.Batch), syncop.WithLogger(logger)}, dump.options()...)
		if step.Wire {
			stepOpts = append(stepOpts, syncop.WithFilter(syncop.SerializationBoundary[ir.Record]()))
		}
		if step.TwoWay {
			chain.Add(syncop.TwoWay[ir.Record](step.Name(), src, tgt, stepOpts...))
		} else {
			chain.Add(syncop.NewOperation[ir.Record](src, tgt, append(stepOpts, syncop.WithName(step.Name()))...))
		}
	}

	formatter.VerboseLog("running session %s (%d steps)", s.Name, chain.Len())
	res, err := chain.Run(ctx)
	if werr := dump.write(formatter.GetErrWriter()); werr != nil {
		logger.Warn("failed to write metrics", "error", werr)
	}
	if err != nil {
		return syncExitError(fmt.Sprintf("session %s failed", s.Name), err)
	}

	report.Ran = true
	report.Inserted, report.Updated, report.Deleted = res.Inserted, res.Updated, res.Deleted
	report.Absorbed, report.Conflicts = res.Absorbed, res.Conflicts
	report.Anchors = make(map[string]ir.Anchor, len(handles))
	for id, h := range handles {
		if report.Anchors[id], err = h.provider.LastAnchor(ctx); err != nil {
			return syncExitError("failed to read anchor", err)
		}
	}
	return formatter.Success(report)
}
