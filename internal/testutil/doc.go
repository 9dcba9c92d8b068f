// Package testutil holds deterministic helpers shared by the scenario
// harness and the CLI: a logical step clock and stable entity keys for
// human-readable aliases.
package testutil
