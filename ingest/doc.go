// Package ingest coordinates the upload path: schema resolution against the
// stream registry, binary payload validation, metadata parsing, duplicate
// detection, and duplicate-safe persistence.
//
// The Service is the single entry point callers use. Validation failures are
// reported per record so a batch never fails opaquely; storage conflicts and
// transient storage errors are distinguished so clients can retry safely
// under at-least-once delivery.
package ingest
