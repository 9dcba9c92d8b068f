// Package harness runs sync conformance scenarios against real replicas.
//
// Every replica in a scenario is an engine.Provider over its own store:
// an in-memory SQLite database by default, or the in-memory repository
// and ledger backends. Steps mutate replicas through their repositories,
// so change tracking records them, and sync steps run real syncop
// operations.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: server_wins
//	description: "What this scenario validates"
//	backend: sqlite
//	replicas:
//	  - { name: server, id: 1, strategy: winner }
//	  - { name: client, id: 2, strategy: loser, cleanup: true }
//	setup:
//	  - { op: put, replica: server, key: k1, fields: { text: base } }
//	  - { op: sync, source: server, target: client }
//	flow:
//	  - { op: put, replica: client, key: k1, fields: { text: client } }
//	  - op: two_way
//	    source: client
//	    target: server
//	    expect: { outcome: ok, conflicts: 1 }
//	assertions:
//	  - { type: state, replica: client, key: k1, expect: { text: server } }
//	  - { type: converged, replicas: [server, client] }
//
// Keys are aliases. The first replica to name an alias owns it, so the
// underlying key carries that replica's id just as a key it generated
// itself would.
//
// # Assertion Types
//
//   - state: a key's fields on a replica (subset match), or absent: true
//   - converged: the listed replicas hold identical records
//   - anchor: a replica's anchor, keyed by replica name
//   - ledger_size: the number of ledger entries on a replica
//   - trace_contains: a trace event with the given op, replicas and outcome
//   - trace_count: the number of trace events with the given op
//
// # Deterministic Testing
//
// Step numbers come from a logical clock, keys from the alias book and run
// ids from a sequential generator seeded with the scenario name, so the
// same scenario always produces a byte-identical trace. RunWithGolden
// compares that trace against testdata/golden/<name>.golden.
package harness
