// Package main wires together the magnet harvester service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gcstorage "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"magharvest/internal/api"
	"magharvest/internal/app"
	"magharvest/internal/clock/system"
	"magharvest/internal/config"
	"magharvest/internal/crawl"
	"magharvest/internal/fetch"
	collyfetcher "magharvest/internal/fetch/colly"
	"magharvest/internal/fetch/detector"
	"magharvest/internal/fetch/headless"
	"magharvest/internal/hash/sha256"
	"magharvest/internal/id/uuid"
	"magharvest/internal/logging"
	"magharvest/internal/notify"
	memorypublisher "magharvest/internal/notify/memory"
	"magharvest/internal/notify/pubsub"
	"magharvest/internal/progress"
	"magharvest/internal/progress/sinks"
	"magharvest/internal/ratelimit"
	"magharvest/internal/results"
	"magharvest/internal/sched"
	"magharvest/internal/storage"
	"magharvest/internal/storage/file"
	"magharvest/internal/storage/gcs"
	"magharvest/internal/storage/local"
	memorystorage "magharvest/internal/storage/memory"
	"magharvest/internal/storage/postgres"
	"magharvest/internal/submit"
	"magharvest/internal/submit/pan115"
	"magharvest/internal/task"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = run(ctx, cfg, logger)
	if syncErr := logger.Sync(); syncErr != nil {
		fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "service failed: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	clk := system.New()

	state, successLog, closeState, err := buildState(runCtx, cfg.State)
	if err != nil {
		return fmt.Errorf("state store: %w", err)
	}
	defer closeState()

	archive, closeArchive, err := buildArchive(runCtx, cfg.Results.Archive)
	if err != nil {
		return fmt.Errorf("result archive: %w", err)
	}
	defer closeArchive()

	publisher, err := buildPublisher(runCtx, cfg.Notify)
	if err != nil {
		return fmt.Errorf("notifier: %w", err)
	}
	defer func() {
		if closeErr := publisher.Close(); closeErr != nil {
			logger.Warn("notifier close failed", zap.Error(closeErr))
		}
	}()

	fetcher, closeFetcher := buildFetcher(cfg, logger)
	defer closeFetcher()

	promSink, err := sinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("prometheus sink: %w", err)
	}
	hub := progress.NewHub(
		progress.Config{Logger: logger},
		sinks.NewLogSink(logger),
		promSink,
		sinks.NewNotifySink(publisher, logger),
	)

	submitter, err := buildSubmitter(runCtx, cfg, successLog, logger)
	if err != nil {
		return fmt.Errorf("submitter: %w", err)
	}

	writer, err := results.NewWriter(results.Config{Dir: cfg.Results.Dir}, archive, sha256.New(), clk, logger)
	if err != nil {
		return fmt.Errorf("result writer: %w", err)
	}

	deps := crawl.Deps{
		State: state,
		Fetcher: fetcher,
		Discovery: crawl.NewPool(crawl.PoolConfig{
			Workers:     cfg.Crawl.Workers,
			MinWait:     cfg.Crawl.MinWait(),
			RandomDelay: cfg.Crawl.RandomDelay(),
			ItemTimeout: cfg.Crawl.DiscoveryTimeout(),
		}, logger),
		Threads: crawl.NewPool(crawl.PoolConfig{
			Workers:     cfg.Crawl.Workers,
			MinWait:     cfg.Crawl.MinWait(),
			RandomDelay: cfg.Crawl.RandomDelay(),
			ItemTimeout: cfg.Crawl.ThreadTimeout(),
		}, logger),
		Results: writer,
		Events:  hub,
		Clock:   clk,
		Logger:  logger,
	}
	if submitter != nil {
		deps.Submitter = submitter
	}
	orch, err := crawl.NewOrchestrator(crawl.Config{
		BaseURL:        cfg.Source.BaseURL,
		Sections:       cfg.Source.Sections,
		MaxPagesPerRun: cfg.Crawl.MaxPagesPerRun,
	}, deps)
	if err != nil {
		return fmt.Errorf("orchestrator: %w", err)
	}

	manager := task.NewManager(cfg.Crawl.MaxConcurrentTasks, cfg.Crawl.KeepFinishedTasks)
	svc, err := app.New(app.Config{BaseContext: runCtx}, manager, orch, uuid.NewGenerator(), clk, logger)
	if err != nil {
		return fmt.Errorf("crawl service: %w", err)
	}

	scheduler, err := sched.New(svc.StartCrawl, logger)
	if err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	if cfg.Schedule.Enabled {
		if err := scheduler.Update(cfg.Schedule.Cron, cfg.Schedule.Mode, true); err != nil {
			return fmt.Errorf("seed schedule: %w", err)
		}
	}
	scheduler.Start()

	apiServer := api.NewServer(svc, scheduler, cfg, logger)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			cancel()
			return
		}
		serveErr <- nil
	}()

	<-runCtx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	if err := scheduler.Stop(shutdownCtx); err != nil {
		logger.Warn("scheduler stop failed", zap.Error(err))
	}
	if err := svc.Drain(shutdownCtx); err != nil {
		logger.Warn("crawl drain incomplete", zap.Error(err))
	}
	if err := hub.Close(shutdownCtx); err != nil {
		logger.Warn("progress hub close failed", zap.Error(err))
	}
	logger.Info("shutdown complete")

	if err := <-serveErr; err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// buildState selects the watermark/resume store and the submission success
// log per config. Postgres serves both from one pool.
func buildState(ctx context.Context, cfg config.StateConfig) (storage.StateStore, storage.SuccessLog, func(), error) {
	noop := func() {}
	switch cfg.Provider {
	case "file":
		st, err := file.NewStateStore(cfg.Path)
		if err != nil {
			return nil, nil, nil, err
		}
		log, err := file.NewSuccessLog(cfg.SuccessLogPath)
		if err != nil {
			return nil, nil, nil, err
		}
		return st, log, noop, nil
	case "postgres":
		store, err := postgres.New(ctx, postgres.Config{DSN: cfg.DSN})
		if err != nil {
			return nil, nil, nil, err
		}
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return nil, nil, nil, err
		}
		return store, store, store.Close, nil
	case "memory":
		return memorystorage.NewStateStore(), memorystorage.NewSuccessLog(), noop, nil
	}
	return nil, nil, nil, fmt.Errorf("unknown state provider %q", cfg.Provider)
}

func buildArchive(ctx context.Context, cfg config.ArchiveConfig) (storage.BlobStore, func(), error) {
	noop := func() {}
	switch cfg.Provider {
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("gcs client: %w", err)
		}
		store, err := gcs.New(client, cfg.Bucket, cfg.Prefix)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return store, func() { _ = client.Close() }, nil
	case "local":
		store, err := local.New(cfg.LocalDir)
		if err != nil {
			return nil, nil, err
		}
		return store, noop, nil
	case "none", "":
		return storage.NoOpBlobStore{}, noop, nil
	}
	return nil, nil, fmt.Errorf("unknown archive provider %q", cfg.Provider)
}

func buildPublisher(ctx context.Context, cfg config.NotifyConfig) (notify.Publisher, error) {
	switch cfg.Provider {
	case "pubsub":
		return pubsub.New(ctx, cfg.ProjectID, cfg.TopicID)
	case "memory":
		return memorypublisher.New(), nil
	case "none", "":
		return notify.NoOpPublisher{}, nil
	}
	return nil, fmt.Errorf("unknown notify provider %q", cfg.Provider)
}

// buildFetcher wires the static fetcher and the headless escalation path.
// With headless disabled (or its init failed) the noop renderer stands in, so
// pages that needed rendering surface as promotion warnings instead of
// silently yielding gate markup.
func buildFetcher(cfg config.Config, logger *zap.Logger) (fetch.Fetcher, func()) {
	static := collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.Source.UserAgent,
		Timeout:   cfg.Crawl.ThreadTimeout(),
	})
	closeRenderer := func() {}
	var renderer fetch.Fetcher = headless.NewNoop()
	if cfg.Headless.Enabled {
		r, err := headless.NewChromedp(headless.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Source.UserAgent,
			NavigationTimeout: cfg.Headless.NavTimeout(),
			ConfirmSelector:   cfg.Headless.ConfirmSelector,
		})
		if err != nil {
			logger.Warn("headless renderer init failed, static fetches only", zap.Error(err))
		} else {
			renderer = r
			closeRenderer = r.Close
		}
	}
	return fetch.NewEscalating(static, renderer, detector.NewHeuristic(0), logger), closeRenderer
}

// buildSubmitter assembles the offline-download pipeline. Without a
// configured cookie credential submission is disabled and crawls only
// discover and record.
func buildSubmitter(ctx context.Context, cfg config.Config, log storage.SuccessLog, logger *zap.Logger) (*submit.Pipeline, error) {
	sc := cfg.Submit
	if sc.CookieUID == "" && sc.CookieCID == "" && sc.CookieSEID == "" {
		logger.Warn("no offline download credential configured, submission disabled")
		return nil, nil
	}
	client, err := pan115.New(pan115.Config{
		UID:         sc.CookieUID,
		CID:         sc.CookieCID,
		SEID:        sc.CookieSEID,
		TargetDirID: sc.TargetDirID,
		Timeout:     sc.Timeout(),
	}, logger)
	if err != nil {
		return nil, err
	}
	if err := client.CheckLogin(ctx); err != nil {
		logger.Warn("offline download login check failed", zap.Error(err))
	}

	var deduper *submit.Deduper
	if sc.DedupEnabled {
		scope, err := submit.ParseScope(sc.DedupScope)
		if err != nil {
			return nil, err
		}
		deduper = submit.NewDeduper(scope, log)
		if err := deduper.Load(ctx); err != nil {
			return nil, fmt.Errorf("prime deduper: %w", err)
		}
	}

	throttle := ratelimit.NewThrottle(sc.RequestInterval())
	return submit.NewPipeline(client, deduper, throttle, submit.Config{BatchSize: sc.BatchSize}, logger), nil
}
