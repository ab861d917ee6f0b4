// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes liveness and readiness checks.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/progress for the completion estimate.
//   - GET /v1/entities and /v1/entities/{symbol}/records for browsing what has
//     been crawled so far.
package api
