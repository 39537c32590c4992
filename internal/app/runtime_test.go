package app

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dwizi/feed-sink/internal/config"
	"github.com/dwizi/feed-sink/internal/sources"
	"github.com/dwizi/feed-sink/internal/store"
)

func testRuntimeConfig(t *testing.T, endpoint string) config.Config {
	t.Helper()
	dataDir := t.TempDir()
	return config.Config{
		Environment:               "test",
		HTTPAddr:                  "127.0.0.1:0",
		DataDir:                   dataDir,
		DBPath:                    filepath.Join(dataDir, "feed-sink", "journal.sqlite"),
		SinkName:                  "news",
		SinkURL:                   endpoint,
		HTTPTimeoutSec:            2,
		RetryMaxAttempts:          1,
		RetryBackoffMS:            1,
		SpoolSink:                 "news",
		StreamSink:                "news",
		JournalRetentionHours:     1,
		JournalPruneCron:          "@hourly",
		HeartbeatIntervalSec:      1,
		HeartbeatStaleSec:         60,
		HeartbeatFailureThreshold: 3,
	}
}

func TestNewRequiresSinks(t *testing.T) {
	cfg := testRuntimeConfig(t, "")
	if _, err := New(cfg, quietLogger()); err == nil {
		t.Fatal("expected error without sinks")
	}
}

func TestNewRejectsInvalidPruneSchedule(t *testing.T) {
	cfg := testRuntimeConfig(t, "http://atom.example.com/feed")
	cfg.JournalPruneCron = "every hour"
	if _, err := New(cfg, quietLogger()); err == nil {
		t.Fatal("expected error for invalid cron expression")
	}
}

func TestNewWiresSources(t *testing.T) {
	cfg := testRuntimeConfig(t, "http://atom.example.com/feed")
	cfg.SpoolDir = filepath.Join(cfg.DataDir, "spool")
	cfg.StreamURL = "ws://127.0.0.1:1/events"

	runtime, err := New(cfg, quietLogger())
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	defer runtime.Close()

	if len(runtime.sources) != 2 {
		t.Fatalf("expected spool and stream sources, got %d", len(runtime.sources))
	}
	if runtime.sources[0].Name() != "spool" || runtime.sources[1].Name() != "stream" {
		t.Fatalf("unexpected source order: %s %s", runtime.sources[0].Name(), runtime.sources[1].Name())
	}
	if _, err := os.Stat(cfg.DBPath); err != nil {
		t.Fatalf("expected journal database created: %v", err)
	}
}

func TestRuntimeRunDeliversSpooledEvents(t *testing.T) {
	server, calls := countingServer(t, http.StatusCreated)
	cfg := testRuntimeConfig(t, server.URL+"/feed")
	cfg.SpoolDir = filepath.Join(cfg.DataDir, "spool")
	if err := os.MkdirAll(cfg.SpoolDir, 0o755); err != nil {
		t.Fatalf("create spool: %v", err)
	}
	if err := os.WriteFile(filepath.Join(cfg.SpoolDir, "001.jsonl"), []byte(`{"title":"Release"}`+"\n"), 0o644); err != nil {
		t.Fatalf("write spool file: %v", err)
	}

	runtime, err := New(cfg, quietLogger())
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	defer runtime.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runtime.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if calls.Load() != 1 {
		cancel()
		<-done
		t.Fatalf("expected spooled event delivered, got %d requests", calls.Load())
	}

	var items []store.PublishOutcome
	for time.Now().Before(deadline) {
		items, err = runtime.store.ListOutcomes(context.Background(), store.ListOutcomesInput{Sink: "news"})
		if err == nil && len(items) == 1 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("runtime did not stop")
	}
	if len(items) != 1 || items[0].Source != "spool" || !items[0].Success {
		t.Fatalf("expected journaled spool outcome, got %+v", items)
	}
}

func TestPublishHandlerRoutesEventsBySink(t *testing.T) {
	server, calls := countingServer(t, http.StatusCreated)
	host, err := NewHost(context.Background(), []config.SinkDefinition{
		{Name: "news", Options: map[string]string{"url": server.URL + "/feed"}},
	}, HostOptions{Logger: quietLogger()})
	if err != nil {
		t.Fatalf("new host: %v", err)
	}
	defer host.Close()

	handler := publishHandler(host)
	if err := handler(context.Background(), sources.Event{Sink: "news", Fields: map[string]string{"title": "x"}, Source: "stream"}); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if err := handler(context.Background(), sources.Event{Sink: "alerts", Fields: map[string]string{"title": "x"}, Source: "stream"}); err == nil {
		t.Fatal("expected unknown sink error")
	}
	if calls.Load() != 1 {
		t.Fatalf("expected one delivery, got %d", calls.Load())
	}
}
