package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// PublishOutcome is one journaled publish attempt.
type PublishOutcome struct {
	ID         string        `json:"id"`
	Sink       string        `json:"sink"`
	Operation  string        `json:"operation"`
	Method     string        `json:"method"`
	Target     string        `json:"target,omitempty"`
	Status     int           `json:"status"`
	StatusText string        `json:"status_text,omitempty"`
	Success    bool          `json:"success"`
	Reason     string        `json:"reason,omitempty"`
	Source     string        `json:"source,omitempty"`
	Attempts   int           `json:"attempts"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration_ns"`
	CreatedAt  time.Time     `json:"created_at"`
}

type RecordOutcomeInput struct {
	Sink       string
	Operation  string
	Method     string
	Target     string
	Status     int
	StatusText string
	Success    bool
	Reason     string
	Source     string
	Attempts   int
	StartedAt  time.Time
	Duration   time.Duration
}

type ListOutcomesInput struct {
	Sink       string
	FailedOnly bool
	Limit      int
}

type OutcomeCounts struct {
	Total     int
	Succeeded int
	Failed    int
}

func (s *Store) RecordOutcome(ctx context.Context, input RecordOutcomeInput) (PublishOutcome, error) {
	now := time.Now().UTC()
	record := PublishOutcome{
		ID:         "pub_" + uuid.NewString(),
		Sink:       strings.TrimSpace(input.Sink),
		Operation:  strings.ToLower(strings.TrimSpace(input.Operation)),
		Method:     strings.ToUpper(strings.TrimSpace(input.Method)),
		Target:     strings.TrimSpace(input.Target),
		Status:     input.Status,
		StatusText: strings.TrimSpace(input.StatusText),
		Success:    input.Success,
		Reason:     strings.TrimSpace(input.Reason),
		Source:     strings.ToLower(strings.TrimSpace(input.Source)),
		Attempts:   input.Attempts,
		StartedAt:  input.StartedAt.UTC(),
		Duration:   input.Duration,
		CreatedAt:  now,
	}
	if record.Sink == "" || record.Operation == "" || record.Method == "" {
		return PublishOutcome{}, fmt.Errorf("missing required publish outcome fields")
	}
	if record.Attempts < 1 {
		record.Attempts = 1
	}
	if input.StartedAt.IsZero() {
		record.StartedAt = now
	}

	if _, err := s.db.ExecContext(
		ctx,
		`INSERT INTO publish_outcomes (
			id, sink, operation, method, target, status, status_text, success, reason, source, attempts, started_at_unix_ms, duration_ms, created_at_unix
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.Sink,
		record.Operation,
		record.Method,
		nullIfEmpty(record.Target),
		nullIfZero(record.Status),
		nullIfEmpty(record.StatusText),
		boolToInt(record.Success),
		nullIfEmpty(record.Reason),
		nullIfEmpty(record.Source),
		record.Attempts,
		record.StartedAt.UnixMilli(),
		record.Duration.Milliseconds(),
		record.CreatedAt.Unix(),
	); err != nil {
		return PublishOutcome{}, fmt.Errorf("insert publish outcome: %w", err)
	}
	return record, nil
}

// ListOutcomes returns the newest outcomes first.
func (s *Store) ListOutcomes(ctx context.Context, input ListOutcomesInput) ([]PublishOutcome, error) {
	limit := input.Limit
	if limit < 1 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}
	whereParts := []string{"1=1"}
	args := make([]any, 0, 3)

	if sinkName := strings.TrimSpace(input.Sink); sinkName != "" {
		whereParts = append(whereParts, "sink = ?")
		args = append(args, sinkName)
	}
	if input.FailedOnly {
		whereParts = append(whereParts, "success = 0")
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, sink, operation, method, COALESCE(target, ''), COALESCE(status, 0), COALESCE(status_text, ''), success, COALESCE(reason, ''), COALESCE(source, ''), attempts, started_at_unix_ms, duration_ms, created_at_unix
		 FROM publish_outcomes
		 WHERE `+strings.Join(whereParts, " AND ")+`
		 ORDER BY started_at_unix_ms DESC, rowid DESC
		 LIMIT ?`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("query publish outcomes: %w", err)
	}
	defer rows.Close()

	outcomes := make([]PublishOutcome, 0, limit)
	for rows.Next() {
		var outcome PublishOutcome
		var success int
		var startedAtMillis, durationMillis, createdAtUnix int64
		if err := rows.Scan(
			&outcome.ID,
			&outcome.Sink,
			&outcome.Operation,
			&outcome.Method,
			&outcome.Target,
			&outcome.Status,
			&outcome.StatusText,
			&success,
			&outcome.Reason,
			&outcome.Source,
			&outcome.Attempts,
			&startedAtMillis,
			&durationMillis,
			&createdAtUnix,
		); err != nil {
			return nil, err
		}
		outcome.Success = success == 1
		outcome.StartedAt = time.UnixMilli(startedAtMillis).UTC()
		outcome.Duration = time.Duration(durationMillis) * time.Millisecond
		if createdAtUnix > 0 {
			outcome.CreatedAt = time.Unix(createdAtUnix, 0).UTC()
		}
		outcomes = append(outcomes, outcome)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate publish outcomes: %w", err)
	}
	return outcomes, nil
}

// CountOutcomes summarises the journal for one sink, or for all sinks when
// sinkName is empty.
func (s *Store) CountOutcomes(ctx context.Context, sinkName string) (OutcomeCounts, error) {
	query := `SELECT COUNT(*), COALESCE(SUM(success), 0) FROM publish_outcomes`
	args := []any{}
	if trimmed := strings.TrimSpace(sinkName); trimmed != "" {
		query += ` WHERE sink = ?`
		args = append(args, trimmed)
	}
	var counts OutcomeCounts
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&counts.Total, &counts.Succeeded); err != nil {
		return OutcomeCounts{}, fmt.Errorf("count publish outcomes: %w", err)
	}
	counts.Failed = counts.Total - counts.Succeeded
	return counts, nil
}

// PruneOutcomes deletes outcomes journaled before cutoff.
func (s *Store) PruneOutcomes(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM publish_outcomes WHERE created_at_unix < ?`, cutoff.UTC().Unix())
	if err != nil {
		return 0, fmt.Errorf("prune publish outcomes: %w", err)
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune publish outcomes: %w", err)
	}
	return removed, nil
}
