package sources

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dwizi/feed-sink/internal/heartbeat"
)

const defaultReconnectDelay = 2 * time.Second

// Ack is written back for every event read from the stream.
type Ack struct {
	OK    bool   `json:"ok"`
	Sink  string `json:"sink,omitempty"`
	Error string `json:"error,omitempty"`
}

// Stream subscribes to a websocket that pushes one event per text message and
// reconnects when the session drops.
type Stream struct {
	url            string
	header         http.Header
	defaultSink    string
	handler        Handler
	reporter       heartbeat.Reporter
	logger         *slog.Logger
	dialer         *websocket.Dialer
	reconnectDelay time.Duration
}

func NewStream(url, defaultSink string, handler Handler, logger *slog.Logger) *Stream {
	if logger == nil {
		logger = slog.Default()
	}
	return &Stream{
		url:            strings.TrimSpace(url),
		header:         http.Header{},
		defaultSink:    defaultSink,
		handler:        handler,
		logger:         logger,
		dialer:         websocket.DefaultDialer,
		reconnectDelay: defaultReconnectDelay,
	}
}

func (s *Stream) Name() string {
	return "stream"
}

func (s *Stream) SetHeartbeatReporter(reporter heartbeat.Reporter) {
	s.reporter = reporter
}

func (s *Stream) Start(ctx context.Context) error {
	component := heartbeat.SourceComponent(s.Name())
	if s.reporter != nil {
		s.reporter.Starting(component, "starting")
	}
	if s.url == "" || s.handler == nil {
		if s.reporter != nil {
			s.reporter.Disabled(component, "stream url missing")
		}
		s.logger.Info("stream source disabled, url missing")
		<-ctx.Done()
		return nil
	}

	s.logger.Info("stream source started", "url", s.url)
	for {
		if ctx.Err() != nil {
			return s.stopped()
		}
		if err := s.runSession(ctx); err != nil {
			if ctx.Err() != nil {
				return s.stopped()
			}
			if s.reporter != nil {
				s.reporter.Degrade(component, "stream session error", err)
			}
			s.logger.Error("stream session ended, reconnecting", "error", err)
			select {
			case <-ctx.Done():
				return s.stopped()
			case <-time.After(s.reconnectDelay):
			}
		}
	}
}

func (s *Stream) stopped() error {
	if s.reporter != nil {
		s.reporter.Stopped(heartbeat.SourceComponent(s.Name()), "stopped")
	}
	s.logger.Info("stream source stopped")
	return nil
}

func (s *Stream) runSession(ctx context.Context) error {
	conn, _, err := s.dialer.DialContext(ctx, s.url, s.header)
	if err != nil {
		return fmt.Errorf("dial event stream: %w", err)
	}
	defer conn.Close()

	// Unblock ReadMessage when the context ends.
	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-sessionCtx.Done()
		_ = conn.Close()
	}()

	if s.reporter != nil {
		s.reporter.Beat(heartbeat.SourceComponent(s.Name()), "stream session established")
	}

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read stream message: %w", err)
		}
		if messageType != websocket.TextMessage {
			continue
		}
		ack := s.handleMessage(ctx, data)
		if err := conn.WriteJSON(ack); err != nil {
			return fmt.Errorf("write stream ack: %w", err)
		}
	}
}

func (s *Stream) handleMessage(ctx context.Context, data []byte) Ack {
	event, err := DecodeEvent(data, s.defaultSink)
	if err != nil {
		s.logger.Warn("decode stream event failed", "error", err)
		return Ack{Error: err.Error()}
	}
	event.Source = s.Name()
	if s.reporter != nil {
		s.reporter.Beat(heartbeat.SourceComponent(s.Name()), "stream event received")
	}
	if err := s.handler(ctx, event); err != nil {
		s.logger.Error("stream event failed", "sink", event.Sink, "error", err)
		return Ack{Sink: event.Sink, Error: err.Error()}
	}
	return Ack{OK: true, Sink: event.Sink}
}
