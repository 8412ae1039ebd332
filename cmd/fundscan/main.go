package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"fundscan/internal/api"
	"fundscan/internal/config"
	"fundscan/internal/dedup"
	"fundscan/internal/extract"
	"fundscan/internal/monitoring"
	"fundscan/internal/notify"
	"fundscan/internal/scan"
	"fundscan/internal/scan/sources"
	"fundscan/internal/storage"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("could not load config", zap.Error(err))
	}

	ctx := context.Background()

	// Three separate pools: the orchestrator's workload must not be able to
	// starve liveness reporting (job guard) or the stuck-job backstop (reaper).
	pgStore, err := storage.NewPostgresStore(ctx, cfg.PostgresURL, 0)
	if err != nil {
		logger.Fatal("failed to connect to postgres", zap.Error(err))
	}
	guardStore, err := storage.NewPostgresStore(ctx, cfg.PostgresURL, 2)
	if err != nil {
		logger.Fatal("failed to open job guard pool", zap.Error(err))
	}
	reaperStore, err := storage.NewPostgresStore(ctx, cfg.PostgresURL, 2)
	if err != nil {
		logger.Fatal("failed to open reaper pool", zap.Error(err))
	}
	if err := pgStore.EnsureSchema(ctx); err != nil {
		logger.Fatal("failed to apply schema", zap.Error(err))
	}

	redisStore := storage.NewRedisStore(cfg.RedisAddr,
		time.Duration(cfg.FingerprintTTLDays)*24*time.Hour)

	metrics := monitoring.NewMetrics()

	registry := scan.NewRegistry()
	registry.Register(sources.NewFeedSource(
		"techcrunch-funding",
		"https://techcrunch.com/category/venture/feed/",
		nil,
	), scan.SourceTraits{})
	registry.Register(sources.NewFeedSource(
		"finsmes",
		"https://www.finsmes.com/feed",
		nil,
	), scan.SourceTraits{HeadlineOnly: true})
	registry.Register(sources.NewHTMLSource(
		"prnewswire-funding",
		"https://www.prnewswire.com/news-releases/financial-services-latest-news/venture-capital-list/",
		sources.ListingSelectors{
			Item:    "div.card",
			Title:   "h3",
			Link:    "a.newsreleaseconsolidatelink",
			Summary: "p.remove-outline",
		},
		nil,
	), scan.SourceTraits{HeadlineOnly: true})

	cache := dedup.NewFingerprintCache(redisStore)
	engine := dedup.NewEngine(pgStore, logger.With(zap.String("component", "dedup")))
	extractor := extract.NewClient(cfg.LLMEndpoint, cfg.LLMModel, cfg.LLMAPIKey)

	var notifier scan.Notifier
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		notifier = notify.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID)
	}

	orch := scan.NewOrchestrator(cfg, registry, pgStore, cache, engine, extractor, notifier,
		metrics, logger.With(zap.String("component", "orchestrator")))
	guard := scan.NewJobGuard(guardStore, metrics,
		logger.With(zap.String("component", "jobguard")), cfg.HeartbeatInterval())
	service := scan.NewService(guard, orch, logger)

	reaper := scan.NewReaper(reaperStore, metrics,
		logger.With(zap.String("component", "reaper")),
		cfg.ReaperInterval(), cfg.StaleAfter())
	reaper.Start(ctx)

	scheduler := scan.NewScheduler(service, logger.With(zap.String("component", "scheduler")),
		time.Duration(cfg.ScanIntervalMinutes)*time.Minute)
	scheduler.Start(ctx)

	server := api.NewServer(cfg, service, pgStore, redisStore, metrics, logger)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("could not start server", zap.Error(err))
		}
	}()
	logger.Info("server started", zap.String("port", cfg.ServerPort))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	scheduler.Stop()
	reaper.Stop()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	pgStore.Close()
	guardStore.Close()
	reaperStore.Close()
	redisStore.Close()

	logger.Info("exiting")
}
