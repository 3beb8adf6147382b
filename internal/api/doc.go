// Package api hosts the operator HTTP surface for a running crawl:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/stats for the live corpus statistics and page state tally.
//   - GET /v1/run for the identity of the running crawl.
package api
