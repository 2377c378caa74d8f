// Package metrics holds the agent's Prometheus instrumentation, served by
// the REST sink at /metrics.
package metrics
