package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dwizi/feed-sink/internal/heartbeat"
)

const componentName = "journal-pruner"

var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Store deletes journal rows older than a cutoff.
type Store interface {
	PruneOutcomes(ctx context.Context, cutoff time.Time) (int64, error)
}

// Service prunes the publish journal on a cron schedule.
type Service struct {
	store     Store
	schedule  cron.Schedule
	retention time.Duration
	logger    *slog.Logger
	reporter  heartbeat.Reporter
	now       func() time.Time
}

func New(store Store, cronExpr string, retention time.Duration, logger *slog.Logger) (*Service, error) {
	schedule, err := ParseSchedule(cronExpr)
	if err != nil {
		return nil, err
	}
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     store,
		schedule:  schedule,
		retention: retention,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// ParseSchedule accepts five-field expressions and descriptors such as
// @hourly.
func ParseSchedule(raw string) (cron.Schedule, error) {
	expr := strings.Join(strings.Fields(raw), " ")
	if expr == "" {
		return nil, fmt.Errorf("parse cron expression: empty")
	}
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse cron expression: %w", err)
	}
	return schedule, nil
}

func (s *Service) SetHeartbeatReporter(reporter heartbeat.Reporter) {
	s.reporter = reporter
}

func (s *Service) Start(ctx context.Context) error {
	if s.store == nil {
		if s.reporter != nil {
			s.reporter.Disabled(componentName, "journal missing")
		}
		<-ctx.Done()
		return nil
	}
	s.logger.Info("journal pruner started", "retention", s.retention.String())
	for {
		next := s.schedule.Next(s.now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("journal pruner stopped")
			return nil
		case <-timer.C:
		}
		if _, err := s.PruneOnce(ctx); err != nil {
			if s.reporter != nil {
				s.reporter.Degrade(componentName, "prune failed", err)
			}
			s.logger.Error("journal prune failed", "error", err)
		} else if s.reporter != nil {
			s.reporter.Beat(componentName, "prune completed")
		}
	}
}

// PruneOnce removes outcomes older than the retention window.
func (s *Service) PruneOnce(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.retention)
	removed, err := s.store.PruneOutcomes(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		s.logger.Info("journal pruned", "removed", removed, "cutoff", cutoff.UTC().Format(time.RFC3339))
	}
	return removed, nil
}
