// Package pointbin stores validated stream data points with duplicate-safe
// batch insertion, time-ordered querying with projection, and reverse lookup
// from attachment identifiers to the points that reference them.
//
// Two implementations are provided: MemoryBin for tests and single-process
// use, and KVBin backed by NATS JetStream key-value buckets where the
// create-only write enforces point uniqueness.
package pointbin
