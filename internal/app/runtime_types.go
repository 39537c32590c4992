package app

import (
	"log/slog"
	"net/http"

	"github.com/dwizi/feed-sink/internal/config"
	"github.com/dwizi/feed-sink/internal/heartbeat"
	"github.com/dwizi/feed-sink/internal/metrics"
	"github.com/dwizi/feed-sink/internal/scheduler"
	"github.com/dwizi/feed-sink/internal/sources"
	"github.com/dwizi/feed-sink/internal/store"
)

const Version = "0.1.0"

type Runtime struct {
	cfg              config.Config
	logger           *slog.Logger
	store            *store.Store
	host             *Host
	metrics          *metrics.Collector
	httpServer       *http.Server
	sources          []sources.Source
	pruner           *scheduler.Service
	heartbeat        *heartbeat.Registry
	heartbeatMonitor *heartbeat.Monitor
}

type heartbeatAware interface {
	SetHeartbeatReporter(reporter heartbeat.Reporter)
}
