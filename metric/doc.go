// Package metric provides Prometheus-based metrics collection and an HTTP
// endpoint for ingestion monitoring.
//
// A Registry owns a private Prometheus registry holding the core ingestion
// metrics (points accepted, rejections by reason, duplicates skipped, batch
// sizes) together with Go runtime collectors, and a Server exposes it in
// Prometheus text format.
package metric
