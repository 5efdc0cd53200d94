// Package merge implements the record-set merge operator used to reconcile
// independently captured minute files.
//
// Merge is a pure function of the set union of its inputs: argument order
// and repetition never change the output, so the operator is commutative
// and idempotent on any merged set.
//
// Associativity holds only when every group of ranged records linked by
// overlap is pairwise eligible, as with consistent captures whose equal
// payloads never overlap across events. Otherwise a record overlapping
// two copies from one node pairs differently depending on which sets meet
// first, so merge(merge(A, B), C) and merge(A, merge(B, C)) may differ.
// Merging those two results with each other yields the same set in either
// order and loses no receipt, so nodes exchanging results still converge.
//
// Identified records are unioned by id. Ranged records are matched
// pairwise by payload and overlapping interval; each accepted match is
// replaced by the interval intersection with the union of receivers, and
// matching repeats until no eligible pair remains.
//
// Integrity conflicts (same id with different content, or one node
// reporting two receipt times for the same record) are never resolved
// silently. Every divergent copy is kept in the output and reported as a
// Conflict.
package merge
