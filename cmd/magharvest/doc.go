// Package main hosts the magnet harvester service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, crawl control and
//     schedule endpoints. Crawl starts are validated, registered as tasks in the
//     in-memory registry, and handed to the orchestrator through internal/app.
//   - Crawl pipeline: the orchestrator in internal/crawl discovers thread IDs
//     from section listing pages, diffs them against the persisted known set and
//     watermark, and fans thread fetches out over a bounded, jittered worker
//     pool. Context cancellation and the task stop flag wind running crawls
//     down cleanly.
//   - Fetch path: static pages go through the Colly-based fetcher with charset
//     detection; a heuristic detector promotes challenge or entry-gate pages to
//     a Chromedp renderer that clicks the age confirmation and returns the
//     rendered markup.
//   - Submission: extracted magnets are deduped against the durable success
//     log, chunked to the bulk cap, and pushed to the 115-style offline
//     download endpoints under one shared rate limiter, with per-item fallback
//     when a bulk call is rejected.
//   - Persistence & fanout: watermark and resume state live in a JSON file or
//     Postgres per config; run CSVs are written locally and archived to the
//     configured blob store (local/GCS); terminal task events flow through the
//     progress hub to log, Prometheus and notification sinks (memory/Pub/Sub).
//   - Configuration & plumbing: Viper populates config from env/file; zap
//     provides structured logging; Prometheus metrics are exported via the
//     metrics middleware and /metrics handler.
//
// Operational notes:
//   - Concurrency model: one task registry bounds concurrent crawls; listing
//     and thread fetches run on fixed worker pools with pre-dispatch jitter;
//     headless renders have their own semaphore inside the Chromedp renderer.
//   - Scheduling: the cron runner fires the same admission path the API uses;
//     fires are skipped, not queued, when the registry is full.
//   - Shutdown: SIGINT/SIGTERM stops the HTTP server, halts the scheduler,
//     drains running crawls, then flushes the progress hub.
//
// Run locally: go run ./cmd/magharvest -config config.yaml (or rely on
// MAGHARVEST_* env overrides).
package main
