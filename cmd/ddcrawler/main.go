package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/JakeFAU/due-diligence-crawler/internal/api"
	"github.com/JakeFAU/due-diligence-crawler/internal/browser/headless"
	"github.com/JakeFAU/due-diligence-crawler/internal/config"
	"github.com/JakeFAU/due-diligence-crawler/internal/crawler"
	collyfetcher "github.com/JakeFAU/due-diligence-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/due-diligence-crawler/internal/hash/sha256"
	"github.com/JakeFAU/due-diligence-crawler/internal/id/uuid"
	"github.com/JakeFAU/due-diligence-crawler/internal/job"
	"github.com/JakeFAU/due-diligence-crawler/internal/logging"
	"github.com/JakeFAU/due-diligence-crawler/internal/metrics"
	"github.com/JakeFAU/due-diligence-crawler/internal/orchestrator"
	"github.com/JakeFAU/due-diligence-crawler/internal/policy/ratelimit"
	pubsubpublisher "github.com/JakeFAU/due-diligence-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/due-diligence-crawler/internal/queue"
	queueMemory "github.com/JakeFAU/due-diligence-crawler/internal/queue/memory"
	queuePubSub "github.com/JakeFAU/due-diligence-crawler/internal/queue/pubsub"
	"github.com/JakeFAU/due-diligence-crawler/internal/render"
	"github.com/JakeFAU/due-diligence-crawler/internal/search"
	"github.com/JakeFAU/due-diligence-crawler/internal/storage"
	"github.com/JakeFAU/due-diligence-crawler/internal/storage/gcs"
	"github.com/JakeFAU/due-diligence-crawler/internal/storage/local"
	"github.com/JakeFAU/due-diligence-crawler/internal/storage/postgres"
	"github.com/JakeFAU/due-diligence-crawler/internal/textract"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	jobPath := flag.String("job", "", "Job payload file to enqueue (memory queue only)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	err = run(ctx, cfg, *jobPath, logger)
	stop()
	if err != nil {
		logger.Error("service stopped with error", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	logger.Info("shutdown complete")
	_ = logger.Sync()
}

func run(ctx context.Context, cfg config.Config, jobPath string, logger *zap.Logger) error {
	launcher := headless.NewLauncher(headless.Config{
		ExecPath:      cfg.Browser.ExecPath,
		UserAgent:     cfg.Browser.UserAgent,
		Headful:       !cfg.Browser.Headless,
		NoSandbox:     cfg.Browser.NoSandbox,
		ActionTimeout: cfg.BrowserActionTimeout(),
		Proxy: headless.ProxyConfig{
			Server:   cfg.Proxy.URL,
			Username: cfg.Proxy.Username,
			Password: cfg.Proxy.Password,
		},
	}, logger.Named("browser"))
	defer launcher.Close()

	recorder, closeRecorder, err := newRecorder(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeRecorder()

	searcher := search.NewRunner(search.Config{
		Selectors:       cfg.Search.Selectors,
		Timeouts:        cfg.SearchTimeouts(),
		SnapshotResults: cfg.Search.SnapshotResults,
		BlockedDomains:  cfg.Search.BlockedDomains,
	}, logger.Named("search"))
	downloader := collyfetcher.New(collyfetcher.Config{
		UserAgent:    cfg.Browser.UserAgent,
		Timeout:      cfg.DownloadTimeout(),
		MaxBodyBytes: cfg.Render.MaxDownloadBytes,
	})
	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   cfg.Render.DomainQPS,
		DefaultBurst: 1,
		Hosts:        cfg.Render.HostLimits,
		ObserveDelay: metrics.ObserveRateLimitDelay,
	})
	renderer := render.New(cfg.RenderSettings(), downloader, textract.PDF{}, limiter, logger.Named("renderer"))
	runner := crawler.NewRunner(cfg.Storage.WorkDir, searcher, renderer, recorder, logger.Named("crawler"))

	uploader, closeUploader := newUploader(ctx, cfg, logger)
	defer closeUploader()

	publisher, closePublisher, err := newPublisher(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closePublisher()

	registry := crawler.NewRegistry(cfg.Search.Surfaces, cfg.Variants.UseProxy, cfg.Variants.Exchanges)
	for _, tag := range registry.Tags() {
		if v, _ := registry.Lookup(string(tag)); v.Surface == "" {
			logger.Warn("no search surface configured; variant will be skipped", zap.String("variant", string(tag)))
		}
	}
	orch := orchestrator.New(orchestrator.Config{
		WorkRoot:    cfg.Storage.WorkDir,
		Bucket:      cfg.Storage.Bucket,
		ReportTopic: cfg.PubSub.ReportTopic,
		KeepLocal:   cfg.Storage.KeepLocal,
	}, registry, runner, launcher.Factory(), uploader, publisher, logger.Named("orchestrator"))

	source, err := newSource(ctx, cfg, jobPath, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := source.Close(); err != nil {
			logger.Warn("close queue source", zap.Error(err))
		}
	}()

	consumer := queue.NewConsumer(queue.ConsumerConfig{
		BatchSize:      cfg.Queue.BatchSize,
		Wait:           cfg.QueueWait(),
		ErrorBackoff:   cfg.QueueErrorBackoff(),
		LeaseExtension: cfg.AckExtension(),
	}, source, job.NewDecoder(uuid.New()), orch, logger.Named("consumer"))

	if cfg.Server.Port > 0 {
		srv := api.NewServer(consumer.Running, logger.Named("api"))
		go func() {
			if err := srv.ListenAndServe(ctx, fmt.Sprintf(":%d", cfg.Server.Port)); err != nil {
				logger.Error("ops server error", zap.Error(err))
			}
		}()
	}

	return consumer.Run(ctx)
}

func newRecorder(ctx context.Context, cfg config.Config, logger *zap.Logger) (crawler.Recorder, func(), error) {
	if cfg.DB.DSN == "" {
		return nil, func() {}, nil
	}
	store, err := postgres.NewAuditStore(ctx, postgres.AuditStoreConfig{
		DSN:      cfg.DB.DSN,
		Table:    cfg.DB.Table,
		MaxConns: cfg.DB.MaxConns,
	}, sha256.New())
	if err != nil {
		return nil, nil, fmt.Errorf("audit store: %w", err)
	}
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("audit store: %w", err)
	}
	logger.Info("audit trail enabled", zap.String("table", cfg.DB.Table))
	return store, store.Close, nil
}

func newUploader(ctx context.Context, cfg config.Config, logger *zap.Logger) (orchestrator.Uploader, func()) {
	uploadLogger := logger.Named("storage")
	switch cfg.Storage.Provider {
	case config.StorageNoop:
		return storage.Noop{}, func() {}
	case config.StorageLocal:
		store, err := local.New(local.Config{BaseDir: cfg.Storage.LocalDir})
		if err != nil {
			logger.Error("local storage unavailable; uploads will fail", zap.Error(err))
			return storage.Failing{Err: err}, func() {}
		}
		return storage.NewUploader(cfg.Storage.WorkDir, store, uploadLogger), func() {}
	default:
		store, err := gcs.Open(ctx)
		if err != nil {
			// Jobs still run; every upload reports the configuration error.
			logger.Error("GCS unavailable; uploads will fail", zap.Error(err))
			return storage.Failing{Err: err}, func() {}
		}
		return storage.NewUploader(cfg.Storage.WorkDir, store, uploadLogger), func() {
			if err := store.Close(); err != nil {
				logger.Warn("close GCS client", zap.Error(err))
			}
		}
	}
}

func newPublisher(ctx context.Context, cfg config.Config, logger *zap.Logger) (orchestrator.Publisher, func(), error) {
	if cfg.PubSub.ReportTopic == "" {
		return nil, func() {}, nil
	}
	client, err := pubsub.NewClient(ctx, cfg.ReportProject())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}
	pub := pubsubpublisher.New(client)
	logger.Info("job reports enabled", zap.String("topic", cfg.PubSub.ReportTopic))
	return pub, func() {
		pub.Close()
		if err := client.Close(); err != nil {
			logger.Warn("close pubsub client", zap.Error(err))
		}
	}, nil
}

func newSource(ctx context.Context, cfg config.Config, jobPath string, logger *zap.Logger) (queue.Source, error) {
	if cfg.Queue.Provider == config.QueueMemory {
		q := queueMemory.NewQueue(cfg.Queue.MemoryCapacity)
		if jobPath != "" {
			body, err := os.ReadFile(jobPath)
			if err != nil {
				return nil, fmt.Errorf("read job payload: %w", err)
			}
			id, err := q.Enqueue(ctx, body)
			if err != nil {
				return nil, err
			}
			logger.Info("job enqueued", zap.String("message_id", id), zap.String("path", jobPath))
		}
		return q, nil
	}
	if jobPath != "" {
		logger.Warn("-job is ignored unless queue.provider is memory")
	}
	src, err := queuePubSub.NewSource(ctx, cfg.Queue.ProjectID, cfg.Queue.Subscription, logger.Named("queue"))
	if err != nil {
		return nil, err
	}
	return src, nil
}
