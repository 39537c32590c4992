package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/dwizi/feed-sink/internal/config"
	"github.com/dwizi/feed-sink/internal/heartbeat"
	"github.com/dwizi/feed-sink/internal/httpapi"
	"github.com/dwizi/feed-sink/internal/metrics"
	"github.com/dwizi/feed-sink/internal/scheduler"
	"github.com/dwizi/feed-sink/internal/sources"
	"github.com/dwizi/feed-sink/internal/store"
)

func New(cfg config.Config, logger *slog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	definitions, err := cfg.Sinks()
	if err != nil {
		return nil, fmt.Errorf("load sinks: %w", err)
	}
	if len(definitions) == 0 {
		return nil, fmt.Errorf("no sinks configured: set FEED_SINK_URL or FEED_SINK_SINKS_FILE")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	sqlStore, err := store.New(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := sqlStore.AutoMigrate(context.Background()); err != nil {
		sqlStore.Close()
		return nil, err
	}

	collector, err := metrics.New()
	if err != nil {
		sqlStore.Close()
		return nil, fmt.Errorf("create metrics collector: %w", err)
	}

	heartbeatRegistry := heartbeat.NewRegistry()
	heartbeatRegistry.SetFailureThreshold(cfg.HeartbeatFailureThreshold)
	heartbeatRegistry.Starting("runtime", "booting")
	heartbeatRegistry.Starting("api", "initializing")

	host, err := NewHost(context.Background(), definitions, HostOptions{
		HTTPTimeout: time.Duration(cfg.HTTPTimeoutSec) * time.Second,
		Retry:       retryPolicyFromConfig(cfg),
		Journal:     sqlStore,
		Metrics:     collector,
		Reporter:    heartbeatRegistry,
		Logger:      logger.With("component", "host"),
	})
	if err != nil {
		sqlStore.Close()
		return nil, err
	}

	pruner, err := scheduler.New(
		sqlStore,
		cfg.JournalPruneCron,
		time.Duration(cfg.JournalRetentionHours)*time.Hour,
		logger.With("component", "journal-pruner"),
	)
	if err != nil {
		host.Close()
		sqlStore.Close()
		return nil, err
	}

	handler := publishHandler(host)
	var sourceList []sources.Source
	if cfg.SpoolDir != "" {
		spool, err := sources.NewSpool(cfg.SpoolDir, cfg.SpoolSink, handler, logger.With("component", "spool"))
		if err != nil {
			host.Close()
			sqlStore.Close()
			return nil, err
		}
		sourceList = append(sourceList, spool)
	}
	if cfg.StreamURL != "" {
		sourceList = append(sourceList, sources.NewStream(cfg.StreamURL, cfg.StreamSink, handler, logger.With("component", "stream")))
	}

	pruner.SetHeartbeatReporter(heartbeatRegistry)
	for _, source := range sourceList {
		if aware, ok := source.(heartbeatAware); ok {
			aware.SetHeartbeatReporter(heartbeatRegistry)
		}
	}

	staleAfter := time.Duration(cfg.HeartbeatStaleSec) * time.Second
	monitor := heartbeat.NewMonitor(heartbeatRegistry, heartbeat.MonitorConfig{
		Interval:     time.Duration(cfg.HeartbeatIntervalSec) * time.Second,
		StaleAfter:   staleAfter,
		Logger:       logger.With("component", "heartbeat-monitor"),
		OnTransition: heartbeat.LogTransitions(logger.With("component", "heartbeat")),
	})

	router := httpapi.NewRouter(httpapi.Dependencies{
		Config:              cfg,
		Version:             Version,
		Store:               sqlStore,
		Publisher:           host,
		Metrics:             collector,
		Logger:              logger.With("component", "api"),
		Heartbeat:           heartbeatRegistry,
		HeartbeatStaleAfter: staleAfter,
	})
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &Runtime{
		cfg:              cfg,
		logger:           logger,
		store:            sqlStore,
		host:             host,
		metrics:          collector,
		httpServer:       httpServer,
		sources:          sourceList,
		pruner:           pruner,
		heartbeat:        heartbeatRegistry,
		heartbeatMonitor: monitor,
	}, nil
}

func retryPolicyFromConfig(cfg config.Config) RetryPolicy {
	policy := DefaultRetryPolicy()
	policy.MaxAttempts = cfg.RetryMaxAttempts
	policy.InitialBackoff = time.Duration(cfg.RetryBackoffMS) * time.Millisecond
	return policy
}

// publishHandler feeds source events into the host. The host journals every
// failure; the source uses the error to park or acknowledge the event.
func publishHandler(host *Host) sources.Handler {
	return func(ctx context.Context, event sources.Event) error {
		_, err := host.Publish(ctx, event.Sink, event.Fields, event.Source)
		return err
	}
}
