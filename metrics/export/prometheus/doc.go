// Package prometheus exposes engine counters through client_golang.
//
// [NewExporter] returns a collector that copies [auctoritas.Engine.MetricsSnapshot]
// on every scrape. Counter names are auctoritas_*_total and the single
// histogram is auctoritas_validate_latency_seconds.
//
// # What this package must NOT do
//
//   - Register in the global Prometheus registry. Callers mount Handler or
//     register the exporter themselves.
//   - Mutate engine state.
package prometheus
