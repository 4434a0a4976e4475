// Package store provides SQLite-backed coordination state for the pipeline.
//
// The queue directories hold the records themselves; the store holds what
// the filesystem cannot express safely:
//   - Claims: time-limited leases that make processing an item exclusive
//   - Transitions: an append-only audit log of item state changes
//   - Cycles: one summary row per orchestrator cycle
//   - Policy digests: the governance document digest seen per cycle
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Transitions are ordered by seq, never by wall time.
package store
