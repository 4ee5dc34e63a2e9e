// Package observer defines the domain model for observation streams: the
// Observer publisher identity, its versioned Stream schemas, and the
// ValidatedUnit produced when a raw binary payload passes structural
// validation against one specific stream schema version.
//
// Payloads are Avro binary. Validation decodes the buffer once against the
// stream's codec and then discards the decoded tree; the unit retains the
// original bytes so re-validation is idempotent and storage is not doubled.
package observer
