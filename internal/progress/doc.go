// Package progress provides the event primitives, non-blocking hub, and
// emitter interfaces that crawl tasks use to report their lifecycle. Events
// are batched on a background goroutine and fanned out to pluggable sinks
// (structured logs, Prometheus, completion notifications), decoupling
// orchestration timing from delivery latency.
package progress
