// Command worker runs the newsloom aggregation pipeline. On a fixed tick it
// polls publisher feeds, scores and clusters what arrived, synthesizes
// drafts for clusters worth publishing, and lands versioned articles. An
// operator status server runs alongside.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/newsloom/newsloom/internal/ai"
	"github.com/newsloom/newsloom/internal/config"
	"github.com/newsloom/newsloom/internal/db"
	"github.com/newsloom/newsloom/internal/feeds"
	"github.com/newsloom/newsloom/internal/fetchtext"
	"github.com/newsloom/newsloom/internal/models"
	"github.com/newsloom/newsloom/internal/ops"
	"github.com/newsloom/newsloom/internal/pipeline"
	"github.com/newsloom/newsloom/internal/research"
	"github.com/newsloom/newsloom/internal/storage"
)

func main() {
	// .env before config so LOG_LEVEL and friends can live there.
	envErr := godotenv.Load()
	cfg := config.Load()

	// Structured JSON logging.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	if envErr != nil {
		slog.Info("worker: no .env file, using process environment")
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("worker: invalid configuration", "err", err)
		os.Exit(1)
	}

	slog.Info("worker: starting newsloom worker",
		"tick", cfg.Pipeline.TickInterval, "run_once", cfg.Pipeline.RunOnce)

	// Root context, cancelled on shutdown.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.Connect(ctx, cfg.DB)
	if err != nil {
		slog.Error("worker: database connection failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	catalog, err := feeds.LoadCatalog(cfg.Feeds.File)
	if err != nil {
		slog.Error("worker: feed catalog failed", "file", cfg.Feeds.File, "err", err)
		os.Exit(1)
	}
	slog.Info("worker: feed catalog loaded", "feeds", len(catalog))

	// Stores.
	itemStore := models.NewItemStore(pool)
	clusterStore := models.NewClusterStore(pool)
	publishedStore := models.NewPublishedStore(pool)
	updateLogStore := models.NewUpdateLogStore(pool)
	cycleStore := models.NewCycleStore(pool)

	// Providers.
	poller := feeds.NewPoller(20 * time.Second)
	openAI := ai.NewOpenAI(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Model)

	var reader *fetchtext.ReaderClient
	if cfg.Reader.URL != "" {
		reader = fetchtext.NewReaderClient(cfg.Reader.URL, cfg.Reader.Key)
	}
	fetcher := fetchtext.NewFetcher(reader, fetchtext.NewScraper(), cfg.Pipeline.MinFullText, logger)

	var researcher research.Provider
	if cfg.Research.URL != "" {
		researcher = research.NewClient(cfg.Research.URL, cfg.Research.Key)
	}

	// Snapshot archive; runs disabled when S3 is not configured.
	archive, err := storage.NewClient(ctx, cfg.S3)
	if err != nil {
		slog.Error("worker: storage client failed", "err", err)
		os.Exit(1)
	}

	pipe := pipeline.New(pipeline.Deps{
		Config:  cfg.Pipeline,
		Cluster: cfg.Cluster,

		Items:     itemStore,
		Clusters:  clusterStore,
		Published: publishedStore,
		Updates:   updateLogStore,
		Cycles:    cycleStore,

		Catalog: catalog,
		Poller:  poller,
		Fetcher: fetcher,

		Scorer:      openAI,
		Synthesizer: openAI,
		Selector:    openAI,
		Renderer:    openAI,

		Research:    researcher,
		Archive:     archive,
		TokenSink:   openAI,
		TokenBudget: cfg.OpenAI.TokenBudget,

		Logger: logger,
	})

	// Track the in-flight cycle for graceful shutdown.
	var wg sync.WaitGroup
	runCycle := func() {
		wg.Add(1)
		defer wg.Done()

		cycleCtx, cycleCancel := context.WithTimeout(ctx, cfg.Pipeline.HardDeadline+time.Minute)
		defer cycleCancel()

		if err := pipe.Run(cycleCtx); err != nil {
			slog.Error("worker: cycle failed to start", "err", err)
		}
	}

	if cfg.Pipeline.RunOnce {
		slog.Info("worker: RUN_ONCE set, executing a single cycle")
		if err := pipe.Run(ctx); err != nil {
			slog.Error("worker: cycle failed to start", "err", err)
			os.Exit(1)
		}
		slog.Info("worker: single cycle complete")
		return
	}

	// Operator status server.
	opsSrv := &ops.Server{
		Cycles:  cycleStore,
		Feeds:   poller,
		Catalog: catalog,
		Breaker: pipe.Breaker(),
	}
	httpSrv := &http.Server{
		Addr:         cfg.Ops.Addr,
		Handler:      opsSrv.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		slog.Info("worker: ops server listening", "addr", cfg.Ops.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("worker: ops server failed", "err", err)
		}
	}()

	// Scheduler: one pipeline cycle per tick. An overlapping tick is skipped
	// by the pipeline itself.
	c := cron.New()
	if _, err := c.AddFunc("@every "+cfg.Pipeline.TickInterval.String(), runCycle); err != nil {
		slog.Error("worker: schedule cycle", "err", err)
		os.Exit(1)
	}
	c.Start()
	slog.Info("worker: scheduler started", "tick", cfg.Pipeline.TickInterval)

	// First cycle right away instead of waiting out the first tick.
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-time.After(5 * time.Second):
		case <-ctx.Done():
			return
		}
		slog.Info("worker: running initial cycle")
		runCycle()
	}()

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	slog.Info("worker: received shutdown signal", "signal", sig.String())

	cronCtx := c.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("worker: ops server shutdown", "err", err)
	}

	select {
	case <-cronCtx.Done():
		slog.Info("worker: scheduler stopped")
	case <-time.After(30 * time.Second):
		slog.Warn("worker: scheduler stop timed out")
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("worker: in-flight cycle complete")
	case <-time.After(time.Minute):
		slog.Warn("worker: timed out waiting for the in-flight cycle")
	}

	slog.Info("worker: shutdown complete")
}
