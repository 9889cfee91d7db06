// Package influx records a time-series point for every com-object
// update the gateway observes, for operational dashboards. Writes are
// non-blocking and batched by the underlying client; the com-object
// table remains the sole source of truth for current values.
package influx
