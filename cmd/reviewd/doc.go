// Package main hosts the vendor review service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, registry lookups
//     and the review lifecycle endpoints. Lifecycle requests are validated and
//     converted into triggers on the queue; the API never mutates a session
//     directly.
//   - Workflow engine: internal/workflow consumes triggers and drives each
//     session through discovering, awaiting_review, analyzing,
//     awaiting_approval and the terminal committed/aborted stages. Duplicate
//     trigger deliveries resolve as no-ops, so at-least-once queues are safe.
//   - Discovery: internal/discovery crawls the vendor's seed URLs breadth-first
//     with the Colly probe fetcher, optionally promoting script-heavy pages to
//     a headless Chromedp fetch, classifies documents into legal/security
//     categories, and archives raw pages to the configured blob store.
//   - Analysis: internal/analysis fans included documents out to the external
//     capability platform per category, tolerates degraded capabilities, and
//     synthesizes a risk report with a draft decision block for human review.
//   - Persistence: approved decisions land in the versioned vendor registry
//     (Postgres when db.dsn is set, in-memory otherwise) together with an
//     immutable audit document in blob storage; transient session artifacts
//     are released at commit.
//   - Configuration & plumbing: Viper populates config from env/files with the
//     REVIEWD prefix; zap provides structured logging; Prometheus metrics are
//     exported at /metrics. Pub/Sub carries triggers in production; a bounded
//     in-memory queue serves development.
//
// Run locally: go run ./cmd/reviewd -config config.yaml (or rely solely on
// env overrides). Without Postgres, Pub/Sub, GCS or capability credentials the
// binary still serves a full crawl-and-review loop with in-process fallbacks.
package main
