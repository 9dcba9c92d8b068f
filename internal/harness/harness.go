package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/replisync/internal/engine"
	"github.com/roach88/replisync/internal/ir"
	"github.com/roach88/replisync/internal/ledger"
	"github.com/roach88/replisync/internal/repo"
	"github.com/roach88/replisync/internal/store"
	"github.com/roach88/replisync/internal/syncop"
	"github.com/roach88/replisync/internal/testutil"
)

// replica is one running participant of a scenario.
type replica struct {
	spec     ReplicaSpec
	provider *engine.Provider[ir.Record]
	store    *store.Store // nil for the memory backend
}

// Harness is the scenario execution engine.
// It runs scenarios with a deterministic step clock, key aliases and run ids.
type Harness struct {
	scenario *Scenario
	replicas map[string]*replica
	names    map[ir.ReplicaID]string
	keys     *testutil.KeyBook
	clock    *testutil.Clock
	runIDs   *syncop.SequentialGenerator
	logger   *slog.Logger
}

// Option configures a Harness.
type Option func(*Harness)

// WithLogger sets the logger handed to providers and operations.
// Default: a logger that discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(h *Harness) {
		h.logger = l
	}
}

// New builds the scenario's replicas. Call Close when done.
func New(ctx context.Context, s *Scenario, opts ...Option) (*Harness, error) {
	h := &Harness{
		scenario: s,
		replicas: make(map[string]*replica, len(s.Replicas)),
		names:    make(map[ir.ReplicaID]string, len(s.Replicas)),
		keys:     testutil.NewKeyBook(s.Article),
		clock:    testutil.NewClock(),
		runIDs:   syncop.NewSequentialGenerator(s.Name),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in tests
	}
	for _, opt := range opts {
		opt(h)
	}

	for _, spec := range s.Replicas {
		r, err := h.openReplica(ctx, spec)
		if err != nil {
			h.Close()
			return nil, fmt.Errorf("replica %s: %w", spec.Name, err)
		}
		h.replicas[spec.Name] = r
		h.names[spec.ID] = spec.Name
	}
	return h, nil
}

func (h *Harness) openReplica(ctx context.Context, spec ReplicaSpec) (*replica, error) {
	identity := ir.Replica{ID: spec.ID, Name: spec.Name}
	opts := []engine.ProviderOption{engine.WithLogger(h.logger)}
	if spec.Strategy != "" {
		strategy, err := engine.ParseStrategy(spec.Strategy)
		if err != nil {
			return nil, err
		}
		opts = append(opts, engine.WithStrategy(strategy))
	}
	if spec.Cleanup {
		opts = append(opts, engine.WithMetadataCleanup())
	}
	if spec.ReadOnly {
		opts = append(opts, engine.ReadOnly())
	}

	article := h.scenario.Article
	if h.scenario.Backend == BackendMemory {
		records := repo.NewRecordMemory(spec.Name)
		l := ledger.New(ledger.NewMemoryBackend(), article)
		return &replica{
			spec:     spec,
			provider: engine.NewProvider[ir.Record](identity, records, l, engine.Records(), opts...),
		}, nil
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	if err := st.SetIdentity(ctx, identity); err != nil {
		st.Close()
		return nil, err
	}
	l := ledger.New(st, article)
	return &replica{
		spec:     spec,
		provider: engine.NewProvider[ir.Record](identity, st.Records(article), l, engine.Records(), opts...),
		store:    st,
	}, nil
}

// Close stops change tracking and closes every store.
func (h *Harness) Close() error {
	var errs []error
	for _, r := range h.replicas {
		r.provider.Close()
		if r.store != nil {
			errs = append(errs, r.store.Close())
		}
	}
	return errors.Join(errs...)
}

// Provider returns the named replica's provider.
func (h *Harness) Provider(name string) (*engine.Provider[ir.Record], bool) {
	r, ok := h.replicas[name]
	if !ok {
		return nil, false
	}
	return r.provider, true
}

// Keys returns the scenario's key aliases.
func (h *Harness) Keys() *testutil.KeyBook {
	return h.keys
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against fresh replicas. A failing setup step aborts
// the run with an error; failing flow expectations and assertions are
// reported in the result.
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	h, err := New(ctx, scenario, opts...)
	if err != nil {
		return nil, err
	}
	defer h.Close()

	result := NewResult()
	if err := h.executeSetup(ctx, scenario.Setup, result); err != nil {
		return nil, fmt.Errorf("failed to execute setup: %w", err)
	}
	h.executeFlow(ctx, scenario.Flow, result)

	for _, msg := range h.EvaluateAssertions(ctx, result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

// executeSetup runs setup steps; any error aborts.
func (h *Harness) executeSetup(ctx context.Context, setup []Step, result *Result) error {
	for i, step := range setup {
		ev, _, err := h.execute(ctx, step)
		result.AddTrace(ev)
		if err != nil {
			return fmt.Errorf("setup step %d (%s): %w", i, step.Op, err)
		}
	}
	return nil
}

// executeFlow runs flow steps and checks their expect clauses.
func (h *Harness) executeFlow(ctx context.Context, flow []Step, result *Result) {
	for i, step := range flow {
		ev, res, err := h.execute(ctx, step)
		result.AddTrace(ev)
		h.logger.Debug("flow step executed", "step", i, "op", step.Op, "outcome", ev.Outcome)

		if step.Expect == nil {
			if err != nil {
				result.AddError(fmt.Sprintf("flow[%d] %s: unexpected error: %v", i, step.Op, err))
			}
			continue
		}
		for _, msg := range h.checkExpect(step.Expect, ev, res) {
			result.AddError(fmt.Sprintf("flow[%d] %s: %s", i, step.Op, msg))
		}
	}
}

// execute runs one step and returns its trace event.
func (h *Harness) execute(ctx context.Context, step Step) (TraceEvent, ir.SyncResult, error) {
	ev := TraceEvent{Seq: h.clock.Tick(), Op: step.Op}
	switch step.Op {
	case OpPut, OpDelete:
		ev.Replica, ev.Key = step.Replica, step.Key
		err := h.mutate(ctx, step)
		ev.Outcome = syncop.Outcome(err)
		return ev, ir.NewSyncResult(), err

	default:
		ev.Source, ev.Target = step.Source, step.Target
		res, err := h.sync(ctx, step)
		ev.Outcome = syncop.Outcome(err)
		ev.Inserted = h.keys.Aliases(res.Inserted)
		ev.Updated = h.keys.Aliases(res.Updated)
		ev.Deleted = h.keys.Aliases(res.Deleted)
		ev.Absorbed = res.Absorbed
		ev.Conflicts = res.Conflicts
		return ev, res, err
	}
}

func (h *Harness) mutate(ctx context.Context, step Step) error {
	r := h.replicas[step.Replica]
	key := h.keys.Key(r.spec.ID, step.Key)
	records := r.provider.Repository()

	if step.Op == OpDelete {
		return records.Delete(ctx, key)
	}

	fields, err := ir.FieldsOf(step.Fields)
	if err != nil {
		return err
	}
	rec := ir.Record{Key: key, Fields: fields}
	_, found, err := records.Get(ctx, key)
	if err != nil {
		return err
	}
	if found {
		return records.Update(ctx, rec)
	}
	return records.Insert(ctx, rec)
}

func (h *Harness) sync(ctx context.Context, step Step) (ir.SyncResult, error) {
	src := h.replicas[step.Source].provider
	tgt := h.replicas[step.Target].provider
	name := step.Source + "->" + step.Target

	opts := []syncop.Option{
		syncop.WithName(name),
		syncop.WithBatchSize(step.Batch),
		syncop.WithRunIDs(h.runIDs),
		syncop.WithLogger(h.logger),
	}
	if step.Wire {
		opts = append(opts, syncop.WithFilter(syncop.SerializationBoundary[ir.Record]()))
	}

	var runner syncop.Runner
	if step.Op == OpTwoWay {
		runner = syncop.TwoWay[ir.Record](step.Source+"<->"+step.Target, src, tgt, opts...)
	} else {
		runner = syncop.NewOperation[ir.Record](src, tgt, opts...)
	}
	return runner.Run(ctx)
}

// checkExpect compares a step's outcome with its expect clause.
func (h *Harness) checkExpect(exp *ExpectClause, ev TraceEvent, res ir.SyncResult) []string {
	var errs []string
	want := exp.Outcome
	if want == "" {
		want = syncop.OutcomeOK
	}
	if ev.Outcome != want {
		errs = append(errs, fmt.Sprintf("outcome: expected %s, got %s", want, ev.Outcome))
	}

	check := func(name string, want []string, got []string) {
		if want == nil {
			return
		}
		if !sameAliases(want, got) {
			errs = append(errs, fmt.Sprintf("%s: expected %v, got %v", name, sortedCopy(want), got))
		}
	}
	check("inserted", exp.Inserted, ev.Inserted)
	check("updated", exp.Updated, ev.Updated)
	check("deleted", exp.Deleted, ev.Deleted)

	if exp.Conflicts != nil && *exp.Conflicts != res.Conflicts {
		errs = append(errs, fmt.Sprintf("conflicts: expected %d, got %d", *exp.Conflicts, res.Conflicts))
	}
	if exp.Absorbed != nil && *exp.Absorbed != res.Absorbed {
		errs = append(errs, fmt.Sprintf("absorbed: expected %d, got %d", *exp.Absorbed, res.Absorbed))
	}
	return errs
}
