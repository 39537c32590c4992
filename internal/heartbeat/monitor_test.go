package heartbeat

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestMonitorEmitsTransitions(t *testing.T) {
	registry := NewRegistry()
	transitions := make(chan Transition, 4)
	monitor := NewMonitor(registry, MonitorConfig{
		Interval:   10 * time.Millisecond,
		StaleAfter: 0,
		OnTransition: func(ctx context.Context, transition Transition, snapshot Snapshot) {
			transitions <- transition
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = monitor.Start(ctx)
		close(done)
	}()

	registry.Beat("source:stream", "ok")
	time.Sleep(25 * time.Millisecond)
	registry.Degrade("source:stream", "reconnecting", context.DeadlineExceeded)

	var degraded Transition
	select {
	case degraded = <-transitions:
	case <-time.After(300 * time.Millisecond):
		t.Fatal("expected degraded transition")
	}
	if degraded.FromState != StateHealthy || degraded.ToState != StateDegraded {
		t.Fatalf("unexpected degraded transition: %+v", degraded)
	}

	registry.Beat("source:stream", "connected")
	var recovered Transition
	select {
	case recovered = <-transitions:
	case <-time.After(300 * time.Millisecond):
		t.Fatal("expected recovered transition")
	}
	if recovered.FromState != StateDegraded || recovered.ToState != StateHealthy {
		t.Fatalf("unexpected recovered transition: %+v", recovered)
	}

	cancel()
	<-done
}

func TestLogTransitionsWarnsOnDegrade(t *testing.T) {
	var buffer bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buffer, nil))
	hook := LogTransitions(logger)

	hook(context.Background(), Transition{Component: "sink:news", FromState: StateHealthy, ToState: StateDegraded, Error: "refused"}, Snapshot{Overall: StateDegraded})
	output := buffer.String()
	if !strings.Contains(output, `"level":"WARN"`) || !strings.Contains(output, `"component":"sink:news"`) {
		t.Fatalf("unexpected log output: %s", output)
	}
}
