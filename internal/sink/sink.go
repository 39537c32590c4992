package sink

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dwizi/feed-sink/internal/atompub"
	"github.com/dwizi/feed-sink/internal/feed"
)

// Lifecycle is the contract a host drives a sink through.
type Lifecycle interface {
	Init(stream string, options Options) error
	Connect(ctx context.Context) error
	Disconnect() error
	Destroy()
	Publish(ctx context.Context, fields map[string]string) error
	CurrentState() map[string]any
	RestoreState(state map[string]any) error
}

var _ Lifecycle = (*Sink)(nil)

// Sink publishes each event as one Atom entry mutation. Publish is safe to
// call from one goroutine at a time; hosts serialise delivery per sink.
type Sink struct {
	transport Transport
	logger    *slog.Logger

	mu         sync.RWMutex
	config     Config
	dispatcher *Dispatcher
	ready      bool
	observer   Observer
}

func New(transport Transport, logger *slog.Logger) *Sink {
	if transport == nil {
		transport = atompub.New(atompub.Options{})
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{
		transport: transport,
		logger:    logger,
	}
}

func (s *Sink) SetObserver(observer Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observer = observer
}

// Config returns the validated configuration once Init succeeded.
func (s *Sink) Config() (Config, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config, s.ready
}

func (s *Sink) Init(stream string, options Options) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return ErrAlreadyInitialized
	}
	config, err := NewConfig(stream, options)
	if err != nil {
		return err
	}
	if credentials, ok := config.Credentials(); ok {
		// Servers behind self-signed certificates are the common case for
		// authenticated collections.
		s.transport.TrustAllCertificates()
		s.transport.AddCredentials(config.Endpoint(), atompub.RealmAny, atompub.SchemeBasic, credentials)
		s.logger.Warn("certificate verification disabled for authenticated sink",
			"stream", config.Stream(),
			"host", config.endpoint.Host,
		)
	}
	s.config = config
	s.dispatcher = NewDispatcher(config, s.transport)
	s.ready = true
	s.logger.Info("sink initialized",
		"stream", config.Stream(),
		"operation", config.Operation().String(),
		"endpoint", config.endpoint.Redacted(),
		"expected_status", config.ExpectedStatus(),
	)
	return nil
}

// Connect has nothing to open; requests are made per event.
func (s *Sink) Connect(ctx context.Context) error {
	return nil
}

func (s *Sink) Disconnect() error {
	return nil
}

// Destroy drops any registered credentials. It is safe to call more than once
// and before Init.
func (s *Sink) Destroy() {
	s.transport.ClearCredentials()
}

func (s *Sink) Publish(ctx context.Context, fields map[string]string) error {
	s.mu.RLock()
	ready := s.ready
	dispatcher := s.dispatcher
	config := s.config
	observer := s.observer
	s.mu.RUnlock()
	if !ready {
		return ErrNotInitialized
	}

	record, ignored := feed.NewRecord(fields)
	if len(ignored) > 0 {
		s.logger.Debug("ignoring unknown event fields", "stream", config.Stream(), "fields", ignored)
	}

	startedAt := time.Now()
	exchange, err := dispatcher.Dispatch(ctx, record)
	outcome := Outcome{
		Stream:     config.Stream(),
		Operation:  config.Operation(),
		Method:     exchange.Method,
		Target:     exchange.Target,
		Status:     exchange.Status,
		StatusText: exchange.StatusText,
		Success:    err == nil,
		StartedAt:  startedAt,
		Duration:   time.Since(startedAt),
	}
	if outcome.Method == "" {
		outcome.Method = config.Operation().Method()
	}
	if err != nil {
		outcome.Reason = err.Error()
	}
	if observer != nil {
		observer.ObservePublish(outcome)
	}
	return err
}

// CurrentState is always empty: a sink keeps nothing between events.
func (s *Sink) CurrentState() map[string]any {
	return nil
}

func (s *Sink) RestoreState(state map[string]any) error {
	return nil
}
