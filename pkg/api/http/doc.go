// Package http provides the HTTP REST API implementation.
//
// The HTTP server exposes endpoints for:
//   - Session creation, inspection, updates and deletion
//   - CSV dataset upload
//   - Starting and stopping causal discovery and reading its result
//   - Worker pool status
//   - Health checks
//   - Prometheus metrics
package http
