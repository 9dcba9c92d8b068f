package harness

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/roach88/replisync/internal/ir"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s\n", ev.Seq, describe(ev))
		}
	}
	return buf.String()
}

// describe renders an event on one line.
func describe(ev TraceEvent) string {
	if ev.isSync() {
		return fmt.Sprintf("%s %s->%s %s inserted=%v updated=%v deleted=%v conflicts=%d",
			ev.Op, ev.Source, ev.Target, ev.Outcome, ev.Inserted, ev.Updated, ev.Deleted, ev.Conflicts)
	}
	return fmt.Sprintf("%s %s/%s %s", ev.Op, ev.Replica, ev.Key, ev.Outcome)
}

// EvaluateAssertions runs all assertions and returns the failure messages.
func (h *Harness) EvaluateAssertions(ctx context.Context, result *Result, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertState:
			err = h.assertState(ctx, a)
		case AssertConverged:
			err = h.assertConverged(ctx, a)
		case AssertAnchor:
			err = h.assertAnchor(ctx, a)
		case AssertLedgerSize:
			err = h.assertLedgerSize(ctx, a)
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, a)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("assertion %d: %v", i, err))
		}
	}
	return errs
}

func (h *Harness) assertState(ctx context.Context, a Assertion) error {
	key, err := h.keys.Lookup(a.Key)
	if err != nil {
		return err
	}
	rec, found, err := h.replicas[a.Replica].provider.Repository().Get(ctx, key)
	if err != nil {
		return err
	}

	if a.Absent {
		if found {
			return &AssertionError{
				Type:     AssertState,
				Expected: fmt.Sprintf("%s absent on %s", a.Key, a.Replica),
				Actual:   fmt.Sprintf("present with %s", formatFields(rec.Fields)),
			}
		}
		return nil
	}
	if !found {
		return &AssertionError{
			Type:     AssertState,
			Expected: fmt.Sprintf("%s on %s with %v", a.Key, a.Replica, a.Expect),
			Actual:   "absent",
		}
	}

	want, err := ir.FieldsOf(a.Expect)
	if err != nil {
		return fmt.Errorf("state expect: %w", err)
	}
	for _, name := range want.SortedKeys() {
		if !ir.ValueEqual(want[name], rec.Fields[name]) {
			return &AssertionError{
				Type:     AssertState,
				Expected: fmt.Sprintf("%s.%s = %v on %s", a.Key, name, want[name], a.Replica),
				Actual:   formatFields(rec.Fields),
			}
		}
	}
	return nil
}

func (h *Harness) assertConverged(ctx context.Context, a Assertion) error {
	first, err := h.snapshot(ctx, a.Replicas[0])
	if err != nil {
		return err
	}
	for _, name := range a.Replicas[1:] {
		other, err := h.snapshot(ctx, name)
		if err != nil {
			return err
		}
		if diff := diffRecords(first, other); diff != "" {
			return &AssertionError{
				Type:     AssertConverged,
				Expected: fmt.Sprintf("%s and %s hold identical records", a.Replicas[0], name),
				Actual:   diff,
			}
		}
	}
	return nil
}

// snapshot returns a replica's records keyed by alias.
func (h *Harness) snapshot(ctx context.Context, name string) (map[string]ir.Fields, error) {
	all, err := h.replicas[name].provider.Repository().All(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]ir.Fields, len(all))
	for _, r := range all {
		out[h.keys.Alias(r.Key)] = r.Fields
	}
	return out, nil
}

func diffRecords(a, b map[string]ir.Fields) string {
	keys := slices.Sorted(maps.Keys(a))
	for k := range b {
		if _, ok := a[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		fa, inA := a[k]
		fb, inB := b[k]
		switch {
		case !inA:
			return fmt.Sprintf("%s only on second replica", k)
		case !inB:
			return fmt.Sprintf("%s only on first replica", k)
		case !fa.Equal(fb):
			return fmt.Sprintf("%s differs: %s vs %s", k, formatFields(fa), formatFields(fb))
		}
	}
	return ""
}

func (h *Harness) assertAnchor(ctx context.Context, a Assertion) error {
	anchor, err := h.replicas[a.Replica].provider.LastAnchor(ctx)
	if err != nil {
		return err
	}
	got := make(map[string]int, len(anchor))
	for id, v := range anchor {
		name, ok := h.names[id]
		if !ok {
			name = strconv.Itoa(int(id))
		}
		got[name] = int(v)
	}
	want := a.Anchor
	if want == nil {
		want = map[string]int{}
	}
	if !maps.Equal(want, got) {
		return &AssertionError{
			Type:     AssertAnchor,
			Expected: fmt.Sprintf("%s anchor %s", a.Replica, formatAnchor(want)),
			Actual:   formatAnchor(got),
		}
	}
	return nil
}

func (h *Harness) assertLedgerSize(ctx context.Context, a Assertion) error {
	entries, err := h.replicas[a.Replica].provider.Ledger().Entries(ctx)
	if err != nil {
		return err
	}
	if len(entries) != a.Count {
		return &AssertionError{
			Type:     AssertLedgerSize,
			Expected: fmt.Sprintf("%d ledger entries on %s", a.Count, a.Replica),
			Actual:   fmt.Sprintf("%d entries", len(entries)),
		}
	}
	return nil
}

// assertTraceContains checks that some event matches the assertion's op
// and, when given, its replica, source, target and outcome.
func assertTraceContains(trace []TraceEvent, a Assertion) error {
	for _, ev := range trace {
		if matchEvent(ev, a) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("op %s matching %s", a.Op, formatSelector(a)),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceCount checks that exactly Count events match.
func assertTraceCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, ev := range trace {
		if matchEvent(ev, a) {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("op %s matching %s exactly %d times", a.Op, formatSelector(a), a.Count),
			Actual:   fmt.Sprintf("found %d times", count),
			Trace:    trace,
		}
	}
	return nil
}

func matchEvent(ev TraceEvent, a Assertion) bool {
	if ev.Op != a.Op {
		return false
	}
	if a.Replica != "" && ev.Replica != a.Replica {
		return false
	}
	if a.Source != "" && ev.Source != a.Source {
		return false
	}
	if a.Target != "" && ev.Target != a.Target {
		return false
	}
	if a.Outcome != "" && ev.Outcome != a.Outcome {
		return false
	}
	return true
}

func formatSelector(a Assertion) string {
	var parts []string
	for _, kv := range [][2]string{
		{"replica", a.Replica},
		{"source", a.Source},
		{"target", a.Target},
		{"outcome", a.Outcome},
	} {
		if kv[1] != "" {
			parts = append(parts, kv[0]+"="+kv[1])
		}
	}
	if len(parts) == 0 {
		return "anything"
	}
	return strings.Join(parts, " ")
}

func formatFields(f ir.Fields) string {
	b, err := f.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("%v", map[string]ir.Value(f))
	}
	return string(b)
}

func formatAnchor(a map[string]int) string {
	parts := make([]string, 0, len(a))
	for _, k := range slices.Sorted(maps.Keys(a)) {
		parts = append(parts, fmt.Sprintf("%s:%d", k, a[k]))
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func sameAliases(want, got []string) bool {
	return slices.Equal(sortedCopy(want), sortedCopy(got))
}

func sortedCopy(s []string) []string {
	out := slices.Clone(s)
	if out == nil {
		out = []string{}
	}
	sort.Strings(out)
	return out
}
