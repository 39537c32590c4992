package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dwizi/feed-sink/internal/config"
	"github.com/dwizi/feed-sink/internal/store"
)

func newOutcomesCommand() *cobra.Command {
	var (
		sinkName   string
		limit      int
		failedOnly bool
		jsonMode   bool
	)

	cmd := &cobra.Command{
		Use:   "outcomes",
		Short: "List journaled publish outcomes, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.FromEnv()
			if _, err := os.Stat(cfg.DBPath); err != nil {
				return fmt.Errorf("open journal %s: %w", cfg.DBPath, err)
			}
			sqlStore, err := store.New(cfg.DBPath)
			if err != nil {
				return err
			}
			defer sqlStore.Close()

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			if err := sqlStore.AutoMigrate(ctx); err != nil {
				return err
			}
			items, err := sqlStore.ListOutcomes(ctx, store.ListOutcomesInput{
				Sink:       sinkName,
				FailedOnly: failedOnly,
				Limit:      limit,
			})
			if err != nil {
				return err
			}

			if jsonMode {
				payload, err := json.MarshalIndent(items, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(payload))
				return nil
			}
			if len(items) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no outcomes")
				return nil
			}
			writer := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
			fmt.Fprintln(writer, "STARTED\tSINK\tMETHOD\tSTATUS\tRESULT\tATTEMPTS\tSOURCE\tTARGET")
			for _, item := range items {
				result := "ok"
				if !item.Success {
					result = "failed"
				}
				fmt.Fprintf(writer, "%s\t%s\t%s\t%d\t%s\t%d\t%s\t%s\n",
					item.StartedAt.UTC().Format(time.RFC3339),
					item.Sink,
					item.Method,
					item.Status,
					result,
					item.Attempts,
					item.Source,
					item.Target,
				)
			}
			return writer.Flush()
		},
	}
	cmd.Flags().StringVar(&sinkName, "sink", "", "only list outcomes of this sink")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of outcomes")
	cmd.Flags().BoolVar(&failedOnly, "failed", false, "only list failed publishes")
	cmd.Flags().BoolVar(&jsonMode, "json", false, "emit JSON")
	return cmd
}
