// Package servermetrics is an in-process metrics instrumentation
// library for long-running server programs.
//
// Programs create Counters and Gauges, optionally dimensioned by typed
// labels, register them by name in a Registry, and mutate them from any
// goroutine without coordination. Values are exposed two ways: a
// text-format scrape snapshot suitable for mounting on an HTTP endpoint
// (see HandleScrape), and a periodic statsd-style UDP push exporter
// that reports counter deltas and gauge values (see StatsdExporter).
//
// Instrumentation never crashes the instrumented program: invalid label
// accesses, negative counter increments, and cell-limit overflows are
// logged and dropped on the hot path, while configuration mistakes
// (bad names, duplicate registrations) fail loudly at registration
// time.
package servermetrics
