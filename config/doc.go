// Package config defines the streambank service configuration and a
// layered JSON loader with environment variable overrides.
//
// Configuration is loaded from one or more JSON files merged over built-in
// defaults, then selected fields can be overridden from STREAMBANK_*
// environment variables. Validation is explicit: callers decide whether a
// partially specified config is acceptable (tests) or must be complete
// (production startup).
package config
