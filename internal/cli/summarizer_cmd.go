package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newSummarizerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "summarizer",
		Short: "Run or inspect the summarization consumer",
	}

	cmd.AddCommand(newSummarizerRunCmd())
	cmd.AddCommand(newSummarizerDrainCmd())
	cmd.AddCommand(newSummarizerAuditCmd())
	return cmd
}

func newSummarizerRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run summarization workers until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := setup()
			if err != nil {
				return err
			}
			defer c.close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := c.store.Ping(ctx); err != nil {
				return fmt.Errorf("coordination store unreachable: %w", err)
			}
			err = c.summarizer().Run(ctx)
			if ctx.Err() != nil {
				return nil
			}
			return err
		},
	}
}

func newSummarizerDrainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "drain",
		Short: "Process the jobs currently queued and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := setup()
			if err != nil {
				return err
			}
			defer c.close()

			consumer := c.summarizer()
			n := consumer.RunOnce(cmd.Context())
			st := consumer.Stats()
			fmt.Fprintf(cmd.OutOrStdout(), "processed %d job(s): %d written, %d failed, %d skipped\n",
				n, st.Processed, st.Failed, st.Skipped)
			return nil
		},
	}
}

func newSummarizerAuditCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Print recent summarization audit entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := setup()
			if err != nil {
				return err
			}
			defer c.close()

			entries, err := c.summarizer().AuditLog(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printJSON(cmd, entries)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "number of entries to show")
	return cmd
}

// printJSON writes v as indented JSON to the command's output.
func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
