package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/roach88/replisync/internal/engine"
	"github.com/roach88/replisync/internal/ir"
)

// Scenario defines a sync conformance scenario.
// Scenarios build a set of replicas, mutate them, run sync operations
// between them and assert on the resulting trace and final state.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Article scopes every replica's ledger. Defaults to 1.
	Article ir.ArticleID `yaml:"article,omitempty"`

	// Backend is "sqlite" (default, an in-memory database per replica) or
	// "memory".
	Backend string `yaml:"backend,omitempty"`

	// Replicas lists the participating replicas.
	Replicas []ReplicaSpec `yaml:"replicas"`

	// Setup steps establish initial state and must succeed.
	Setup []Step `yaml:"setup,omitempty"`

	// Flow contains the steps under test, optionally with expectations.
	Flow []Step `yaml:"flow"`

	// Assertions validate the final trace and state.
	Assertions []Assertion `yaml:"assertions"`
}

// ReplicaSpec configures one replica.
type ReplicaSpec struct {
	Name     string       `yaml:"name"`
	ID       ir.ReplicaID `yaml:"id"`
	Strategy string       `yaml:"strategy,omitempty"`
	Cleanup  bool         `yaml:"cleanup,omitempty"`
	ReadOnly bool         `yaml:"read_only,omitempty"`
}

// Step is one scenario action.
type Step struct {
	// Op is one of put, delete, sync, two_way.
	Op string `yaml:"op"`

	// Replica and Key address put and delete. Keys are aliases; the first
	// replica to name one owns it.
	Replica string         `yaml:"replica,omitempty"`
	Key     string         `yaml:"key,omitempty"`
	Fields  map[string]any `yaml:"fields,omitempty"`

	// Source and Target name the replicas of sync. For two_way, Source
	// uploads first.
	Source string `yaml:"source,omitempty"`
	Target string `yaml:"target,omitempty"`

	// Batch caps the changes per round.
	Batch int `yaml:"batch,omitempty"`

	// Wire sends the delta through the serialization boundary filter.
	Wire bool `yaml:"wire,omitempty"`

	// Expect validates the step's outcome. Without it the step must
	// succeed.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause specifies the expected outcome of a step.
type ExpectClause struct {
	// Outcome is a syncop outcome label: ok, conflict, lock_timeout,
	// cancelled, unsupported or error. Defaults to ok.
	Outcome string `yaml:"outcome,omitempty"`

	// Inserted, Updated and Deleted list key aliases, in any order.
	// Nil means not checked.
	Inserted []string `yaml:"inserted,omitempty"`
	Updated  []string `yaml:"updated,omitempty"`
	Deleted  []string `yaml:"deleted,omitempty"`

	Conflicts *int `yaml:"conflicts,omitempty"`
	Absorbed  *int `yaml:"absorbed,omitempty"`
}

// Assertion validates trace or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "state": key's fields on a replica (subset match), or its absence
	// - "converged": the listed replicas hold identical records
	// - "anchor": a replica's anchor, keyed by replica name
	// - "ledger_size": number of ledger entries on a replica
	// - "trace_contains": a trace event with the given op and replicas
	// - "trace_count": number of trace events with the given op
	Type string `yaml:"type"`

	Replica  string         `yaml:"replica,omitempty"`
	Replicas []string       `yaml:"replicas,omitempty"`
	Key      string         `yaml:"key,omitempty"`
	Absent   bool           `yaml:"absent,omitempty"`
	Expect   map[string]any `yaml:"expect,omitempty"`
	Anchor   map[string]int `yaml:"anchor,omitempty"`
	Count    int            `yaml:"count,omitempty"`

	// Op, Source, Target and Outcome select trace events.
	Op      string `yaml:"op,omitempty"`
	Source  string `yaml:"source,omitempty"`
	Target  string `yaml:"target,omitempty"`
	Outcome string `yaml:"outcome,omitempty"`
}

// Step ops.
const (
	OpPut    = "put"
	OpDelete = "delete"
	OpSync   = "sync"
	OpTwoWay = "two_way"
)

// Assertion type constants.
const (
	AssertState         = "state"
	AssertConverged     = "converged"
	AssertAnchor        = "anchor"
	AssertLedgerSize    = "ledger_size"
	AssertTraceContains = "trace_contains"
	AssertTraceCount    = "trace_count"
)

// Backends.
const (
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML with strict field validation.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Article == 0 {
		scenario.Article = 1
	}
	if scenario.Backend == "" {
		scenario.Backend = BackendSQLite
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// LoadDir loads every *.yaml scenario in dir, sorted by file name.
func LoadDir(dir string) ([]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	scenarios := make([]*Scenario, 0, len(paths))
	for _, p := range paths {
		s, err := LoadScenario(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Backend != BackendSQLite && s.Backend != BackendMemory {
		return fmt.Errorf("unknown backend %q", s.Backend)
	}
	if len(s.Replicas) == 0 {
		return fmt.Errorf("replicas list is required and must be non-empty")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	names := make(map[string]bool, len(s.Replicas))
	ids := make(map[ir.ReplicaID]bool, len(s.Replicas))
	for i, r := range s.Replicas {
		if r.Name == "" {
			return fmt.Errorf("replicas[%d]: name is required", i)
		}
		if r.ID <= 0 {
			return fmt.Errorf("replicas[%d]: id must be positive", i)
		}
		if names[r.Name] || ids[r.ID] {
			return fmt.Errorf("replicas[%d]: duplicate replica %s/%d", i, r.Name, r.ID)
		}
		if r.Strategy != "" {
			if _, err := engine.ParseStrategy(r.Strategy); err != nil {
				return fmt.Errorf("replicas[%d]: %w", i, err)
			}
		}
		names[r.Name] = true
		ids[r.ID] = true
	}

	for i, step := range s.Setup {
		if err := validateStep(names, step); err != nil {
			return fmt.Errorf("setup[%d]: %w", i, err)
		}
		if step.Expect != nil {
			return fmt.Errorf("setup[%d]: setup steps cannot have expect", i)
		}
	}
	for i, step := range s.Flow {
		if err := validateStep(names, step); err != nil {
			return fmt.Errorf("flow[%d]: %w", i, err)
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(names, i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(names map[string]bool, step Step) error {
	switch step.Op {
	case OpPut, OpDelete:
		if !names[step.Replica] {
			return fmt.Errorf("%s: unknown replica %q", step.Op, step.Replica)
		}
		if step.Key == "" {
			return fmt.Errorf("%s: key is required", step.Op)
		}
		if step.Op == OpPut && len(step.Fields) == 0 {
			return fmt.Errorf("put: fields are required")
		}
	case OpSync, OpTwoWay:
		if !names[step.Source] || !names[step.Target] {
			return fmt.Errorf("%s: unknown replica in %q -> %q", step.Op, step.Source, step.Target)
		}
		if step.Source == step.Target {
			return fmt.Errorf("%s: source and target must differ", step.Op)
		}
		if step.Batch < 0 {
			return fmt.Errorf("%s: batch must be non-negative", step.Op)
		}
	case "":
		return fmt.Errorf("op is required")
	default:
		return fmt.Errorf("unknown op %q", step.Op)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(names map[string]bool, index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertState:
		if !names[a.Replica] {
			return fmt.Errorf("assertions[%d]: unknown replica %q", index, a.Replica)
		}
		if a.Key == "" {
			return fmt.Errorf("assertions[%d]: key is required for state", index)
		}
		if !a.Absent && len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect or absent is required for state", index)
		}
	case AssertConverged:
		if len(a.Replicas) < 2 {
			return fmt.Errorf("assertions[%d]: converged needs at least two replicas", index)
		}
		for _, r := range a.Replicas {
			if !names[r] {
				return fmt.Errorf("assertions[%d]: unknown replica %q", index, r)
			}
		}
	case AssertAnchor:
		if !names[a.Replica] {
			return fmt.Errorf("assertions[%d]: unknown replica %q", index, a.Replica)
		}
		for r := range a.Anchor {
			if !names[r] {
				return fmt.Errorf("assertions[%d]: unknown replica %q in anchor", index, r)
			}
		}
	case AssertLedgerSize:
		if !names[a.Replica] {
			return fmt.Errorf("assertions[%d]: unknown replica %q", index, a.Replica)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for ledger_size", index)
		}
	case AssertTraceContains:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for trace_contains", index)
		}
	case AssertTraceCount:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
