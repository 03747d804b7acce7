// Package api hosts the operator HTTP surface:
//   - GET /healthz for liveness.
//   - GET /readyz, which turns ready once the queue consumer is polling.
//   - GET /metrics for Prometheus scraping.
//
// Jobs arrive over the queue only; there is no submission endpoint.
package api
