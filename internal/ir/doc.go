// Package ir provides the shared data model for replisync.
//
// This package contains type definitions only. All other internal packages
// import ir; ir imports nothing internal. This keeps the replica, anchor and
// delta vocabulary as the foundational layer with no circular dependencies.
//
// Key design constraints:
//   - Versions are per-replica logical counters, never wall-clock timestamps
//   - Anchors and deltas are snapshots; nothing in this package mutates them in place
//   - Record field values carry no floats, so canonical JSON stays deterministic
//   - All JSON tags use snake_case
package ir
