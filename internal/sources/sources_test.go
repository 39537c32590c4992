package sources

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDecodeEvents(t *testing.T) {
	input := strings.Join([]string{
		`{"sink":"alerts","fields":{"title":"Envelope","id":"http://host/entries/1"}}`,
		``,
		`{"title":"Flat","rank":3,"draft":false,"summary":null}`,
	}, "\n")

	events, err := DecodeEvents(strings.NewReader(input), "news")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Sink != "alerts" || events[0].Fields["title"] != "Envelope" {
		t.Fatalf("unexpected envelope event: %+v", events[0])
	}
	flat := events[1]
	if flat.Sink != "news" || flat.Fields["rank"] != "3" || flat.Fields["draft"] != "false" {
		t.Fatalf("unexpected flat event: %+v", flat)
	}
	if _, ok := flat.Fields["summary"]; ok {
		t.Fatal("expected null field dropped")
	}
}

func TestDecodeEventsRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"not json":       `{"title":`,
		"nested value":   `{"title":{"nested":true}}`,
		"no sink":        `{"title":"orphan"}`,
		"bad sink value": `{"sink":7,"fields":{"title":"x"}}`,
	}
	for name, input := range cases {
		if _, err := DecodeEvents(strings.NewReader(input), ""); err == nil {
			t.Fatalf("%s: expected error", name)
		} else if name == "nested value" && !strings.Contains(err.Error(), "line 1") {
			t.Fatalf("%s: expected line number, got %v", name, err)
		}
	}
}

type collector struct {
	mu     sync.Mutex
	events []Event
	fail   string
	seen   chan struct{}
}

func newCollector() *collector {
	return &collector{seen: make(chan struct{}, 16)}
}

func (c *collector) handle(ctx context.Context, event Event) error {
	c.mu.Lock()
	c.events = append(c.events, event)
	c.mu.Unlock()
	c.seen <- struct{}{}
	if c.fail != "" && event.Fields["title"] == c.fail {
		return errors.New("publish failed")
	}
	return nil
}

func (c *collector) wait(t *testing.T, count int) {
	t.Helper()
	for i := 0; i < count; i++ {
		select {
		case <-c.seen:
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out waiting for event %d", i+1)
		}
	}
}

func waitForFile(t *testing.T, path string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(path); err == nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected file %s", path)
}

func TestSpoolDrainsAndWatches(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "001.jsonl"), []byte(`{"title":"queued"}`+"\n"), 0o644); err != nil {
		t.Fatalf("write queued file: %v", err)
	}

	events := newCollector()
	events.fail = "broken"
	spool, err := NewSpool(dir, "news", events.handle, quietLogger())
	if err != nil {
		t.Fatalf("new spool: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- spool.Start(ctx) }()

	events.wait(t, 1)
	waitForFile(t, filepath.Join(dir, spoolDoneDir, "001.jsonl"))

	staged := filepath.Join(dir, ".002.json.tmp")
	if err := os.WriteFile(staged, []byte(`{"sink":"alerts","fields":{"title":"broken"}}`), 0o644); err != nil {
		t.Fatalf("write staged file: %v", err)
	}
	if err := os.Rename(staged, filepath.Join(dir, "002.json")); err != nil {
		t.Fatalf("rename staged file: %v", err)
	}
	events.wait(t, 1)
	waitForFile(t, filepath.Join(dir, spoolFailedDir, "002.json"))

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("spool stopped with error: %v", err)
	}

	events.mu.Lock()
	defer events.mu.Unlock()
	if events.events[0].Sink != "news" || events.events[0].Source != "spool" {
		t.Fatalf("unexpected drained event: %+v", events.events[0])
	}
	if events.events[1].Sink != "alerts" {
		t.Fatalf("unexpected watched event: %+v", events.events[1])
	}
}

func TestStreamDeliversAndAcks(t *testing.T) {
	acks := make(chan Ack, 4)
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		for _, message := range []string{`{"title":"first"}`, `{"title":"broken"}`, `not json`} {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(message)); err != nil {
				return
			}
			var ack Ack
			if err := conn.ReadJSON(&ack); err != nil {
				return
			}
			acks <- ack
		}
		_, _, _ = conn.ReadMessage()
	}))
	defer server.Close()

	events := newCollector()
	events.fail = "broken"
	stream := NewStream("ws"+strings.TrimPrefix(server.URL, "http"), "news", events.handle, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- stream.Start(ctx) }()

	var received []Ack
	for len(received) < 3 {
		select {
		case ack := <-acks:
			received = append(received, ack)
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out waiting for acks, got %+v", received)
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("stream stopped with error: %v", err)
	}

	if !received[0].OK || received[0].Sink != "news" {
		t.Fatalf("unexpected first ack: %+v", received[0])
	}
	if received[1].OK || received[1].Error != "publish failed" {
		t.Fatalf("unexpected failure ack: %+v", received[1])
	}
	if received[2].OK || received[2].Error == "" {
		t.Fatalf("unexpected decode ack: %+v", received[2])
	}
}

func TestStreamDisabledWithoutURL(t *testing.T) {
	stream := NewStream("", "news", newCollector().handle, quietLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := stream.Start(ctx); err != nil {
		t.Fatalf("expected clean stop, got %v", err)
	}
}
