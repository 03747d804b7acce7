// Package main hosts the due-diligence crawler service.
//
// Architecture overview:
//   - Intake: queue.Consumer long-polls a Source (Pub/Sub pull subscription, or an in-memory queue for local
//     runs) for up to queue.batch_size messages, decodes each into a job.Job and runs every job concurrently.
//     A message is acknowledged only after its job finished; malformed payloads stay unacknowledged.
//   - Orchestration: orchestrator.Orchestrator resolves the requested crawler variants (GOOGLE, NEWS,
//     REGULATORY_DATABASES, OFFICIAL_WEBSITE), runs them one at a time against a per-job Chrome instance, uploads
//     the job's artifact tree once, and publishes a job report when pubsub.report_topic is set.
//   - Crawling: each variant plans its queries (English and Hindi risk clauses, director sub-searches, exchange
//     site searches). search.Runner drives the programmable search page through the browser and paginates up to
//     the job's page budget; every query scope gets a manifest.txt and numbered PDFs with text siblings.
//   - Persistence: storage.Uploader walks {work_dir}/{job_id} into GCS (or a local directory); manifest rows
//     go to Postgres when db.dsn is set.
//   - Configuration & plumbing: Viper reads an optional file plus DDCRAWLER_* env overrides; zap provides
//     structured logging; Prometheus collectors are served on /metrics next to /healthz and /readyz.
//
// Quick checklist:
//   - Configure search surfaces (DDCRAWLER_SEARCH_SURFACES_GOOGLE, _NEWS, _REGULATORY), the proxy
//     (DDCRAWLER_PROXY_URL, _USERNAME, _PASSWORD), the queue (DDCRAWLER_QUEUE_PROJECT_ID, _SUBSCRIPTION) and the
//     bucket (DDCRAWLER_STORAGE_BUCKET).
//   - Run locally: go run ./cmd/ddcrawler -config config.yaml, or with DDCRAWLER_QUEUE_PROVIDER=memory and
//     -job payload.json to process a single payload.
package main
