// Package streambin persists stream definitions and observer definitions,
// keyed by identifier and version. Registration never overwrites: each
// (id, version) pair is written at most once, and a race between two
// concurrent registrations of the same pair yields exactly one winner.
//
// Two implementations are provided: MemoryBin for embedded and test use,
// and KVBin backed by a NATS JetStream key-value bucket, where the bucket's
// create-only semantics enforce the uniqueness constraint.
package streambin
