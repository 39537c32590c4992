package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dwizi/feed-sink/internal/config"
	"github.com/dwizi/feed-sink/internal/sink"
)

func newValidateCommand() *cobra.Command {
	var sinksFile string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check sink configuration without contacting any endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.FromEnv()
			if strings.TrimSpace(sinksFile) != "" {
				cfg.SinksFile = sinksFile
			}
			definitions, err := cfg.Sinks()
			if err != nil {
				return err
			}
			if len(definitions) == 0 {
				return fmt.Errorf("no sinks configured: set FEED_SINK_URL or FEED_SINK_SINKS_FILE")
			}

			var problems []error
			for _, definition := range definitions {
				sinkConfig, err := sink.NewConfig(definition.Name, sink.MapOptions(definition.Options))
				if err != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "%-20s invalid  %v\n", definition.Name, err)
					problems = append(problems, err)
					continue
				}
				info := sinkConfig.Info()
				auth := ""
				if info.Authenticated {
					auth = "  basic-auth"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-20s ok       %s %s expects %d%s\n", info.Name, info.Method, info.Endpoint, info.ExpectedStatus, auth)
			}
			if len(problems) > 0 {
				return fmt.Errorf("%d of %d sinks invalid: %w", len(problems), len(definitions), errors.Join(problems...))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&sinksFile, "sinks-file", "", "sinks file to check (defaults to FEED_SINK_SINKS_FILE)")
	return cmd
}
