// Package observability provides structured logging, Prometheus metrics and
// graceful shutdown for the audit trail service.
//
// Logging is JSON to stdout via log/slog. Metrics cover the audit recording
// path, CSV export, the retention sweeper and the HTTP surface, exposed on
// /metrics through promhttp.
package observability
