// Package api hosts the read-only HTTP server over stored editions.
// Notable routes:
//   - GET /healthz and /readyz for Kubernetes liveness and readiness checks.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/editions?from=YYYY-MM-DD&to=YYYY-MM-DD&limit=N, newest first.
//   - GET /v1/editions/{date} for a single edition by YYYY-MM-DD.
//
// The /v1 routes require an API key (X-API-Key header or api_key query
// parameter) when one is configured.
package api
