// Package api hosts the HTTP server, middleware, and REST handlers for serve
// mode. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/runs to queue a pipeline run for one source.
//   - GET /v1/runs/{run_id} for run status and the final report.
package api
