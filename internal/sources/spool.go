package sources

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/dwizi/feed-sink/internal/heartbeat"
)

const (
	spoolDoneDir   = "done"
	spoolFailedDir = "failed"
)

// Spool publishes event files dropped into a directory. Producers should
// write under another name and rename into place; a file is processed once it
// is non-empty and then moved to done/ or failed/.
type Spool struct {
	dir         string
	defaultSink string
	handler     Handler
	reporter    heartbeat.Reporter
	logger      *slog.Logger
	watcher     *fsnotify.Watcher
}

func NewSpool(dir, defaultSink string, handler Handler, logger *slog.Logger) (*Spool, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("spool directory is required")
	}
	if handler == nil {
		return nil, fmt.Errorf("spool handler is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	fileWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	return &Spool{
		dir:         dir,
		defaultSink: defaultSink,
		handler:     handler,
		logger:      logger,
		watcher:     fileWatcher,
	}, nil
}

func (s *Spool) Name() string {
	return "spool"
}

func (s *Spool) SetHeartbeatReporter(reporter heartbeat.Reporter) {
	s.reporter = reporter
}

func (s *Spool) Start(ctx context.Context) error {
	defer s.watcher.Close()

	for _, dir := range []string{s.dir, filepath.Join(s.dir, spoolDoneDir), filepath.Join(s.dir, spoolFailedDir)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create spool directory: %w", err)
		}
	}
	if err := s.watcher.Add(s.dir); err != nil {
		return fmt.Errorf("watch path %s: %w", s.dir, err)
	}
	s.logger.Info("spool watcher started", "dir", s.dir)
	if err := s.drain(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("spool watcher stopped")
			return nil
		case event, ok := <-s.watcher.Events:
			if !ok {
				return nil
			}
			s.handleEvent(ctx, event)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return nil
			}
			if err != nil {
				s.logger.Error("spool watcher error", "error", err)
				if s.reporter != nil {
					s.reporter.Degrade(heartbeat.SourceComponent(s.Name()), "watcher error", err)
				}
			}
		}
	}
}

// drain processes files left in the spool while nothing was watching.
func (s *Spool) drain(ctx context.Context) error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("read spool directory: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !isSpoolFile(entry.Name()) {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	for _, name := range names {
		if ctx.Err() != nil {
			return nil
		}
		s.processFile(ctx, filepath.Join(s.dir, name))
	}
	return nil
}

func (s *Spool) handleEvent(ctx context.Context, event fsnotify.Event) {
	if filepath.Dir(event.Name) != filepath.Clean(s.dir) || !isSpoolFile(event.Name) {
		return
	}
	if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}
	s.processFile(ctx, event.Name)
}

func (s *Spool) processFile(ctx context.Context, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Error("read spool file failed", "path", path, "error", err)
		}
		return
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return
	}

	events, err := DecodeEvents(bytes.NewReader(data), s.defaultSink)
	if err != nil {
		s.logger.Error("decode spool file failed", "path", path, "error", err)
		s.move(path, spoolFailedDir)
		return
	}
	failed := 0
	for _, event := range events {
		event.Source = s.Name()
		if err := s.handler(ctx, event); err != nil {
			failed++
			s.logger.Error("spool event failed", "path", path, "sink", event.Sink, "error", err)
		}
	}
	if failed > 0 {
		s.move(path, spoolFailedDir)
		return
	}
	s.logger.Info("spool file published", "path", path, "events", len(events))
	if s.reporter != nil {
		s.reporter.Beat(heartbeat.SourceComponent(s.Name()), "spool file published")
	}
	s.move(path, spoolDoneDir)
}

func (s *Spool) move(path, subdir string) {
	target := filepath.Join(s.dir, subdir, filepath.Base(path))
	if err := os.Rename(path, target); err != nil {
		s.logger.Error("move spool file failed", "path", path, "target", target, "error", err)
	}
}

func isSpoolFile(name string) bool {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") {
		return false
	}
	switch strings.ToLower(filepath.Ext(base)) {
	case ".json", ".jsonl":
		return true
	default:
		return false
	}
}
