// Package ledger provides SQLite-backed bookkeeping for reconciliation.
//
// The ledger records:
//   - Passes: one row per scheduler pass over a channel, with outcome counts
//   - Minute state: the file set each minute had when it was last reconciled
//   - Merge outcomes: converged, changed or error per minute per pass
//
// Minute state is what lets a restarted scheduler tell which minutes changed
// while it was down. The ledger is advisory: losing it only costs one full
// re-merge of every minute, which is a no-op on converged data.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package ledger
