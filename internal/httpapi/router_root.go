package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/dwizi/feed-sink/internal/config"
	"github.com/dwizi/feed-sink/internal/heartbeat"
	"github.com/dwizi/feed-sink/internal/sink"
	"github.com/dwizi/feed-sink/internal/store"
)

// Publisher is the sink host as the API sees it.
type Publisher interface {
	Publish(ctx context.Context, sinkName string, fields map[string]string, source string) (sink.Outcome, error)
	Sinks() []sink.Info
}

type OutcomeStore interface {
	Ping(ctx context.Context) error
	ListOutcomes(ctx context.Context, input store.ListOutcomesInput) ([]store.PublishOutcome, error)
	CountOutcomes(ctx context.Context, sinkName string) (store.OutcomeCounts, error)
}

// Instrumentation wraps the router and serves /metrics.
type Instrumentation interface {
	InstrumentHandler(next http.Handler) http.Handler
	Handler() http.Handler
}

type Dependencies struct {
	Config              config.Config
	Version             string
	Store               OutcomeStore
	Publisher           Publisher
	Metrics             Instrumentation
	Logger              *slog.Logger
	Heartbeat           *heartbeat.Registry
	HeartbeatStaleAfter time.Duration
}

type router struct {
	deps Dependencies
}

func NewRouter(deps Dependencies) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	rt := &router{deps: deps}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.handleHealth)
	mux.HandleFunc("GET /readyz", rt.handleReady)
	mux.HandleFunc("GET /api/v1/info", rt.handleInfo)
	mux.HandleFunc("GET /api/v1/health", rt.handleHeartbeat)
	mux.HandleFunc("GET /api/v1/sinks", rt.handleSinks)
	mux.HandleFunc("POST /api/v1/sinks/{name}/events", rt.handlePublish)
	mux.HandleFunc("GET /api/v1/outcomes", rt.handleOutcomes)
	if deps.Metrics != nil {
		mux.Handle("GET /metrics", deps.Metrics.Handler())
		return deps.Metrics.InstrumentHandler(mux)
	}
	return mux
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
