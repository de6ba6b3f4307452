// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /debug/maps for a read-only map catalog listing.
//   - POST /debug/maps/{domain}/refresh to enqueue a background REFRESH sweep.
//   - GET /api/jobs and /api/jobs/{id}/sites for progress reporting via the
//     ProgressRepository interface.
package api
