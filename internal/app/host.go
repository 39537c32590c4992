package app

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dwizi/feed-sink/internal/atompub"
	"github.com/dwizi/feed-sink/internal/config"
	"github.com/dwizi/feed-sink/internal/heartbeat"
	"github.com/dwizi/feed-sink/internal/sink"
	"github.com/dwizi/feed-sink/internal/store"
)

// Journal records publish outcomes.
type Journal interface {
	RecordOutcome(ctx context.Context, input store.RecordOutcomeInput) (store.PublishOutcome, error)
}

// PublishMetrics observes outcomes and retries.
type PublishMetrics interface {
	ObservePublish(outcome sink.Outcome)
	ObserveRetry(sinkName string)
}

type HostOptions struct {
	HTTPTimeout time.Duration
	Retry       RetryPolicy
	Journal     Journal
	Metrics     PublishMetrics
	Reporter    heartbeat.PublishReporter
	Logger      *slog.Logger
	// NewTransport builds the transport of each sink. Defaults to an
	// atompub.Client with HTTPTimeout.
	NewTransport func() sink.Transport
}

type hostedSink struct {
	name string
	sink *sink.Sink
	// mu serialises delivery: a sink handles one event at a time.
	mu sync.Mutex
}

// Host drives every configured sink through its lifecycle and owns the retry
// policy, the journal and health reporting around each publish.
type Host struct {
	sinks    map[string]*hostedSink
	names    []string
	retry    RetryPolicy
	journal  Journal
	metrics  PublishMetrics
	reporter heartbeat.PublishReporter
	logger   *slog.Logger

	closeOnce sync.Once
}

func NewHost(ctx context.Context, definitions []config.SinkDefinition, options HostOptions) (*Host, error) {
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	newTransport := options.NewTransport
	if newTransport == nil {
		timeout := options.HTTPTimeout
		newTransport = func() sink.Transport {
			return atompub.New(atompub.Options{Timeout: timeout})
		}
	}
	host := &Host{
		sinks:    map[string]*hostedSink{},
		retry:    options.Retry.normalized(),
		journal:  options.Journal,
		metrics:  options.Metrics,
		reporter: options.Reporter,
		logger:   logger,
	}

	for _, definition := range definitions {
		name := strings.TrimSpace(definition.Name)
		key := strings.ToLower(name)
		if _, exists := host.sinks[key]; exists {
			host.Close()
			return nil, fmt.Errorf("duplicate sink name %q", name)
		}
		instance := sink.New(newTransport(), logger.With("sink", name))
		if err := instance.Init(name, sink.MapOptions(definition.Options)); err != nil {
			instance.Destroy()
			host.Close()
			return nil, fmt.Errorf("init sink %s: %w", name, err)
		}
		if err := instance.Connect(ctx); err != nil {
			instance.Destroy()
			host.Close()
			return nil, fmt.Errorf("connect sink %s: %w", name, err)
		}
		host.sinks[key] = &hostedSink{name: name, sink: instance}
		host.names = append(host.names, key)
		if host.reporter != nil {
			host.reporter.Ready(heartbeat.SinkComponent(name), "initialized")
		}
	}
	sort.Strings(host.names)
	return host, nil
}

// Sinks describes every hosted sink in name order.
func (h *Host) Sinks() []sink.Info {
	infos := make([]sink.Info, 0, len(h.names))
	for _, key := range h.names {
		if cfg, ok := h.sinks[key].sink.Config(); ok {
			infos = append(infos, cfg.Info())
		}
	}
	return infos
}

func (h *Host) HasSink(name string) bool {
	_, ok := h.sinks[strings.ToLower(strings.TrimSpace(name))]
	return ok
}

// Publish delivers one event to the named sink. The returned outcome reflects
// the last attempt.
func (h *Host) Publish(ctx context.Context, sinkName string, fields map[string]string, source string) (sink.Outcome, error) {
	hosted, ok := h.sinks[strings.ToLower(strings.TrimSpace(sinkName))]
	if !ok {
		return sink.Outcome{}, fmt.Errorf("%w: %s", sink.ErrUnknownSink, sinkName)
	}
	hosted.mu.Lock()
	defer hosted.mu.Unlock()

	var last sink.Outcome
	hosted.sink.SetObserver(sink.ObserverFunc(func(outcome sink.Outcome) {
		last = outcome
		if h.metrics != nil {
			h.metrics.ObservePublish(outcome)
		}
	}))
	defer hosted.sink.SetObserver(nil)

	startedAt := time.Now()
	attempts, err := retry(ctx, h.retry, func() error {
		return hosted.sink.Publish(ctx, fields)
	}, func(attempt int, err error) {
		h.logger.Warn("publish failed, retrying",
			"sink", hosted.name,
			"attempt", attempt,
			"error", err,
		)
		if h.metrics != nil {
			h.metrics.ObserveRetry(hosted.name)
		}
	})
	if last.Stream == "" {
		last.Stream = hosted.name
		last.StartedAt = startedAt
	}
	if err != nil {
		last.Success = false
		last.Reason = err.Error()
	}
	h.report(ctx, hosted.name, last, attempts, source, err)
	return last, err
}

func (h *Host) report(ctx context.Context, name string, outcome sink.Outcome, attempts int, source string, publishErr error) {
	component := heartbeat.SinkComponent(name)
	if publishErr != nil {
		h.logger.Error("publish failed",
			"sink", name,
			"method", outcome.Method,
			"target", outcome.Target,
			"status", outcome.Status,
			"attempts", attempts,
			"error", publishErr,
		)
		if h.reporter != nil {
			h.reporter.PublishFailed(component, strings.TrimSpace(outcome.Method+" failed"), publishErr)
		}
	} else {
		h.logger.Info("event published",
			"sink", name,
			"method", outcome.Method,
			"target", outcome.Target,
			"status", outcome.Status,
			"attempts", attempts,
			"duration_ms", outcome.Duration.Milliseconds(),
		)
		if h.reporter != nil {
			h.reporter.Published(component, fmt.Sprintf("%s %d", outcome.Method, outcome.Status))
		}
	}

	if h.journal == nil {
		return
	}
	operation := outcome.Operation.String()
	method := outcome.Method
	if cfg, ok := h.sinks[strings.ToLower(name)].sink.Config(); ok {
		operation = cfg.Operation().String()
		if method == "" {
			method = cfg.Operation().Method()
		}
	}
	// The journal write outlives a cancelled request context.
	journalCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if _, err := h.journal.RecordOutcome(journalCtx, store.RecordOutcomeInput{
		Sink:       name,
		Operation:  operation,
		Method:     method,
		Target:     outcome.Target,
		Status:     outcome.Status,
		StatusText: outcome.StatusText,
		Success:    publishErr == nil,
		Reason:     outcome.Reason,
		Source:     source,
		Attempts:   attempts,
		StartedAt:  outcome.StartedAt,
		Duration:   outcome.Duration,
	}); err != nil {
		h.logger.Error("journal publish outcome failed", "sink", name, "error", err)
	}
}

// Close disconnects and destroys every sink. It is safe to call more than
// once.
func (h *Host) Close() {
	h.closeOnce.Do(func() {
		for _, key := range h.names {
			hosted := h.sinks[key]
			hosted.mu.Lock()
			if err := hosted.sink.Disconnect(); err != nil {
				h.logger.Warn("disconnect sink failed", "sink", hosted.name, "error", err)
			}
			hosted.sink.Destroy()
			hosted.mu.Unlock()
			if h.reporter != nil {
				h.reporter.Stopped(heartbeat.SinkComponent(hosted.name), "destroyed")
			}
		}
	})
}
