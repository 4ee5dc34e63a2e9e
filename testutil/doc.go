// Package testutil provides shared helpers for streambank tests: canned
// Avro schemas and observer definitions, binary payload encoders, and
// identifier generators.
package testutil
