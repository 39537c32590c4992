package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dwizi/feed-sink/internal/app"
	"github.com/dwizi/feed-sink/internal/config"
	"github.com/dwizi/feed-sink/internal/sink"
	"github.com/dwizi/feed-sink/internal/sources"
)

type publishResult struct {
	Sink       string `json:"sink"`
	Method     string `json:"method,omitempty"`
	Target     string `json:"target,omitempty"`
	Status     int    `json:"status,omitempty"`
	StatusText string `json:"status_text,omitempty"`
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
}

func newPublishCommand(logger *slog.Logger) *cobra.Command {
	var (
		sinkName     string
		endpoint     string
		atomFunc     string
		username     string
		password     string
		responseCode string
		fields       []string
		eventsFile   string
		timeoutSec   int
	)

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish events once and print one outcome per event",
		Long: "Publish events to a configured sink, or to an ad hoc sink described by --url.\n" +
			"Events come from --field pairs, from a JSON lines file, or both.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.FromEnv()

			var definitions []config.SinkDefinition
			if strings.TrimSpace(endpoint) != "" {
				if strings.TrimSpace(sinkName) == "" {
					sinkName = "cli"
				}
				options := map[string]string{sink.OptionURL: endpoint}
				setOption(cmd, options, "atom-func", sink.OptionAtomFunc, atomFunc)
				setOption(cmd, options, "username", sink.OptionUsername, username)
				setOption(cmd, options, "password", sink.OptionPassword, password)
				setOption(cmd, options, "response-code", sink.OptionResponseCode, responseCode)
				definitions = []config.SinkDefinition{{Name: sinkName, Options: options}}
			} else {
				loaded, err := cfg.Sinks()
				if err != nil {
					return err
				}
				definitions = loaded
				if strings.TrimSpace(sinkName) == "" {
					sinkName = cfg.SinkName
				}
			}
			if len(definitions) == 0 {
				return fmt.Errorf("no sinks configured: pass --url or set FEED_SINK_URL or FEED_SINK_SINKS_FILE")
			}

			events, err := collectEvents(cmd.InOrStdin(), sinkName, fields, eventsFile)
			if err != nil {
				return err
			}
			if len(events) == 0 {
				return fmt.Errorf("no events: pass --field or --file")
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			policy := app.DefaultRetryPolicy()
			policy.MaxAttempts = cfg.RetryMaxAttempts
			policy.InitialBackoff = time.Duration(cfg.RetryBackoffMS) * time.Millisecond
			host, err := app.NewHost(ctx, definitions, app.HostOptions{
				HTTPTimeout: time.Duration(timeoutSec) * time.Second,
				Retry:       policy,
				Logger:      logger,
			})
			if err != nil {
				return err
			}
			defer host.Close()

			encoder := json.NewEncoder(cmd.OutOrStdout())
			failed := 0
			for _, event := range events {
				outcome, publishErr := host.Publish(ctx, event.Sink, event.Fields, "cli")
				result := publishResult{
					Sink:       event.Sink,
					Method:     outcome.Method,
					Target:     outcome.Target,
					Status:     outcome.Status,
					StatusText: outcome.StatusText,
					Success:    publishErr == nil,
				}
				if publishErr != nil {
					failed++
					result.Error = publishErr.Error()
				}
				if err := encoder.Encode(result); err != nil {
					return err
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d events failed", failed, len(events))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&sinkName, "sink", "", "sink to publish to (defaults to FEED_SINK_NAME, or cli with --url)")
	cmd.Flags().StringVar(&endpoint, "url", "", "collection URL of an ad hoc sink")
	cmd.Flags().StringVar(&atomFunc, "atom-func", sink.DefaultOperation, "ad hoc sink operation: create, update or delete")
	cmd.Flags().StringVar(&username, "username", "", "ad hoc sink basic auth username")
	cmd.Flags().StringVar(&password, "password", "", "ad hoc sink basic auth password")
	cmd.Flags().StringVar(&responseCode, "response-code", sink.DefaultExpectedStatus, "ad hoc sink expected response status")
	cmd.Flags().StringArrayVarP(&fields, "field", "f", nil, "event field as name=value (repeatable)")
	cmd.Flags().StringVar(&eventsFile, "file", "", "JSON lines file of events, - for stdin")
	cmd.Flags().IntVar(&timeoutSec, "timeout-sec", 30, "request timeout in seconds")
	return cmd
}

// setOption copies a flag into the sink options only when it was given, so
// the sink keeps its own defaults and an unset credential stays unset.
func setOption(cmd *cobra.Command, options map[string]string, flag, key, value string) {
	if cmd.Flags().Changed(flag) {
		options[key] = value
	}
}

func collectEvents(stdin io.Reader, sinkName string, fields []string, eventsFile string) ([]sources.Event, error) {
	var events []sources.Event
	if len(fields) > 0 {
		parsed, err := parseFieldPairs(fields)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(sinkName) == "" {
			return nil, fmt.Errorf("--field needs a sink: pass --sink")
		}
		events = append(events, sources.Event{Sink: sinkName, Fields: parsed, Source: "cli"})
	}
	if path := strings.TrimSpace(eventsFile); path != "" {
		reader := stdin
		if path != "-" {
			file, err := os.Open(path)
			if err != nil {
				return nil, fmt.Errorf("open events file: %w", err)
			}
			defer file.Close()
			reader = file
		}
		decoded, err := sources.DecodeEvents(reader, sinkName)
		if err != nil {
			return nil, err
		}
		events = append(events, decoded...)
	}
	return events, nil
}

func parseFieldPairs(pairs []string) (map[string]string, error) {
	fields := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid field %q: expected name=value", pair)
		}
		fields[name] = value
	}
	return fields, nil
}
