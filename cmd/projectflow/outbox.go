package main

import (
	"errors"
	"fmt"

	"projectflow/pkg/mq"
	"projectflow/pkg/outbox"

	"github.com/spf13/cobra"
)

var (
	replayID     int64
	replayFailed bool
	replayLimit  int
)

func init() {
	outboxReplayCmd.Flags().Int64Var(&replayID, "id", 0, "outbox event ID to replay")
	outboxReplayCmd.Flags().BoolVar(&replayFailed, "failed", false, "replay failed events")
	outboxReplayCmd.Flags().IntVar(&replayLimit, "limit", 100, "maximum number of failed events to replay")
	outboxReplayCmd.MarkFlagsMutuallyExclusive("id", "failed")

	outboxCmd.AddCommand(outboxReplayCmd)
	rootCmd.AddCommand(outboxCmd)
}

var outboxCmd = &cobra.Command{
	Use:   "outbox",
	Short: "Inspect and replay outbox events",
}

var outboxReplayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Republish outbox events",
	Long: `Republish a single outbox event or every event that exhausted its retries.

Examples:
  projectflow outbox replay --id 42
  projectflow outbox replay --failed --limit 50`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if replayID <= 0 && !replayFailed {
			return errors.New("one of --id or --failed is required")
		}

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		publisher, err := mq.NewPublisher(a.cfg.MQ.URL)
		if err != nil {
			return fmt.Errorf("MQ publisher initialization failed: %w", err)
		}
		defer publisher.Close()

		replay := outbox.NewReplayService(a.events, publisher, a.cfg.Outbox.MaxRetries, a.logger)
		if replayFailed {
			n, err := replay.ReplayFailedEvents(cmd.Context(), replayLimit)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "replayed %d events\n", n)
			return nil
		}

		if err := replay.ReplayEvent(cmd.Context(), replayID); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "replayed event %d\n", replayID)
		return nil
	},
}
