// Package reconcile drives the merge engine over a channel's minute files.
//
// A pass snapshots every minute's file set, picks the minutes that need
// work (more than one file, or the minute or a neighbour changed since the
// last pass), and merges each one together with its neighbours under a
// window lock. Results are committed through the store: new files first,
// superseded files after. A minute whose merge fails is retried on the next
// pass and never blocks the others.
//
// Convergence is reached by repeating passes until one writes nothing.
package reconcile
