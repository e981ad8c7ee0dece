package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/novapress/edgeworker/internal/config"
	"github.com/novapress/edgeworker/internal/contentcache"
	"github.com/novapress/edgeworker/internal/gateway"
	"github.com/novapress/edgeworker/internal/logging"
	"github.com/novapress/edgeworker/internal/metrics"
	"github.com/novapress/edgeworker/internal/offline"
	"github.com/novapress/edgeworker/internal/push"
	"github.com/novapress/edgeworker/internal/server"
	"github.com/novapress/edgeworker/internal/syncer"
	"github.com/novapress/edgeworker/internal/templates"
	"github.com/novapress/edgeworker/internal/update"
)

func main() {
	var (
		configFile = flag.String("config", "", "path to worker configuration file")
		envPrefix  = flag.String("env-prefix", "NOVAPRESS", "environment variable prefix")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loader := config.NewLoader(*envPrefix, *configFile)
	cfg, err := loader.Load(ctx)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Server.Logging)
	if err != nil {
		log.Fatalf("failed to configure logger: %v", err)
	}

	contentStore := buildContentStore(logger.With(slog.String("agent", "cache_factory")), cfg.Server.Cache)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := contentStore.Close(shutdownCtx); err != nil {
			logger.Error("content store shutdown failed", slog.Any("error", err))
		}
	}()

	queueStore, err := buildQueueStore(logger.With(slog.String("agent", "queue_factory")), cfg.Server.Queue)
	if err != nil {
		logger.Error("queue store initialization failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := queueStore.Close(); err != nil {
			logger.Error("queue store shutdown failed", slog.Any("error", err))
		}
	}()

	promRegistry := prometheus.NewRegistry()
	metricsRecorder := metrics.NewRecorder(promRegistry)

	originClient := &http.Client{Timeout: time.Duration(cfg.Server.Origin.TimeoutSeconds) * time.Second}

	renderer, offlineTemplateFile := buildOfflineRenderer(cfg.Server.Cache)
	gw, err := gateway.New(logger, gateway.Options{
		Store:               contentStore,
		Queue:               queueStore,
		Client:              originClient,
		OriginURL:           cfg.Server.Origin.URL,
		AllowedHosts:        cfg.Server.Origin.AllowedHosts,
		App:                 cfg.Server.Cache.App,
		Version:             cfg.Server.Cache.Version,
		ClassOverrides:      cfg.Server.Cache.ClassOverrides,
		Renderer:            renderer,
		OfflineTemplateFile: offlineTemplateFile,
		Metrics:             metricsRecorder,
	})
	if err != nil {
		logger.Error("unable to construct gateway", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := gw.Close(shutdownCtx); err != nil {
			logger.Error("gateway shutdown incomplete", slog.Any("error", err))
		}
	}()

	drainer := syncer.NewDrainer(logger, syncer.Options{
		Queue:         queueStore,
		Client:        originClient,
		OriginURL:     cfg.Server.Origin.URL,
		DefaultURL:    cfg.Server.Queue.DefaultURL,
		DefaultMethod: cfg.Server.Queue.DefaultMethod,
		Policy: syncer.RetryPolicy{
			MaxAttempts: cfg.Server.Sync.MaxAttempts,
			Backoff:     time.Duration(cfg.Server.Sync.BackoffSeconds) * time.Second,
		},
		Metrics: metricsRecorder,
	})
	trigger := syncer.NewTrigger(logger, syncer.TriggerOptions{
		Drainer:       drainer,
		Backoff:       time.Duration(cfg.Server.Sync.BackoffSeconds) * time.Second,
		ProbeInterval: time.Duration(cfg.Server.Sync.ProbeSeconds) * time.Second,
		OriginURL:     cfg.Server.Origin.URL,
	})
	trigger.Start()
	defer trigger.Stop()

	controller, err := update.NewController(logger, update.ControllerOptions{
		Store:     contentStore,
		Gateway:   gw,
		Client:    originClient,
		OriginURL: cfg.Server.Origin.URL,
		App:       cfg.Server.Cache.App,
		OnReload: func() {
			logger.Info("clients instructed to reload after activation")
		},
	})
	if err != nil {
		logger.Error("unable to construct update controller", slog.Any("error", err))
		os.Exit(1)
	}

	var manifestWatcher *update.ManifestWatcher
	if cfg.Server.Update.ManifestFile != "" {
		watcher, err := update.WatchManifest(ctx, cfg.Server.Update.ManifestFile, func(m update.Manifest) {
			if err := controller.Install(ctx, m); err != nil {
				logger.Error("release install failed", slog.String("version", m.Version), slog.Any("error", err))
			}
		}, func(err error) {
			if err != nil {
				logger.Error("manifest watcher error", slog.Any("error", err))
			}
		})
		if err != nil {
			logger.Error("manifest watcher setup failed", slog.Any("error", err))
		} else {
			manifestWatcher = watcher
			defer manifestWatcher.Stop()
		}
	}

	bridge := push.NewBridge(logger, push.Options{
		Defaults: push.Defaults{
			Title: cfg.Server.Push.DefaultTitle,
			Icon:  cfg.Server.Push.Icon,
			Badge: cfg.Server.Push.Badge,
		},
		Metrics: metricsRecorder,
	})

	go runEvictionLoop(ctx, logger, contentStore, cfg.Server.Cache)

	worker := server.NewWorker(logger, server.WorkerOptions{
		Gateway:    gw,
		Controller: controller,
		Trigger:    trigger,
		Bridge:     bridge,
		Queue:      queueStore,
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", metricsRecorder.Handler())
	mux.Handle("/", server.NewWorkerHandler(worker))

	srv, err := server.New(cfg, logger, mux)
	if err != nil {
		logger.Error("unable to construct server", slog.Any("error", err))
		os.Exit(1)
	}

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server terminated unexpectedly", slog.Any("error", err))
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger.Info("worker shutdown complete")
}

func buildContentStore(logger *slog.Logger, cfg config.CacheConfig) contentcache.Store {
	backend := strings.TrimSpace(strings.ToLower(cfg.Backend))
	switch backend {
	case "", "memory":
		logger.Info("using memory content cache")
		return contentcache.NewMemory()
	case "redis":
		store, err := contentcache.NewRedis(contentcache.RedisConfig{
			Address:  cfg.Redis.Address,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TLS: contentcache.RedisTLSConfig{
				Enabled: cfg.Redis.TLS.Enabled,
				CAFile:  cfg.Redis.TLS.CAFile,
			},
		})
		if err != nil {
			logger.Error("redis content cache initialization failed", slog.Any("error", err))
			logger.Info("falling back to memory content cache")
			return contentcache.NewMemory()
		}
		logger.Info("using redis content cache", slog.String("address", cfg.Redis.Address))
		return store
	default:
		logger.Warn("unsupported cache backend, defaulting to memory", slog.String("backend", cfg.Backend))
		return contentcache.NewMemory()
	}
}

// buildOfflineRenderer roots the template renderer at the configured offline
// page's directory so the file resolves inside it. Without a configured page
// the renderer stays rootless and the built-in page is used.
func buildOfflineRenderer(cfg config.CacheConfig) (*templates.Renderer, string) {
	path := strings.TrimSpace(cfg.OfflineTemplate)
	if path == "" {
		return templates.NewRenderer(""), ""
	}
	return templates.NewRenderer(filepath.Dir(path)), filepath.Base(path)
}

func buildQueueStore(logger *slog.Logger, cfg config.QueueConfig) (offline.Store, error) {
	backend := strings.TrimSpace(strings.ToLower(cfg.Backend))
	switch backend {
	case "memory":
		logger.Warn("using memory offline queue, pending operations will not survive restarts")
		return offline.NewMemory(), nil
	case "", "leveldb":
		store, err := offline.NewLevelDB(cfg.Path)
		if err != nil {
			return nil, err
		}
		logger.Info("using leveldb offline queue", slog.String("path", cfg.Path))
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported queue backend: %s", cfg.Backend)
	}
}

// runEvictionLoop purges cache entries older than the retention window on a
// fixed cadence.
func runEvictionLoop(ctx context.Context, logger *slog.Logger, store contentcache.Store, cfg config.CacheConfig) {
	if cfg.EvictionMinutes <= 0 || cfg.RetentionDays <= 0 {
		return
	}
	evictLogger := logger.With(slog.String("agent", "cache_eviction"))
	ticker := time.NewTicker(time.Duration(cfg.EvictionMinutes) * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-time.Duration(cfg.RetentionDays) * 24 * time.Hour)
			removed, err := store.PurgeOlderThan(ctx, cutoff)
			if err != nil {
				evictLogger.Warn("eviction pass failed", slog.Any("error", err))
				continue
			}
			if removed > 0 {
				evictLogger.Info("stale entries evicted", slog.Int("removed", removed))
			}
		}
	}
}
