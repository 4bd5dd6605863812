// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/crawls and /v1/crawls/{task_id}/stop for crawl control.
//   - GET /v1/crawls for task snapshots kept by the registry.
//   - GET / PUT /v1/schedule for the recurring-crawl schedule.
package api
