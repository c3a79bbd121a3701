package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newBillingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "billing",
		Short: "Run or query the durable billing sink",
	}

	cmd.AddCommand(newBillingRunCmd())
	cmd.AddCommand(newBillingDrainCmd())
	cmd.AddCommand(newBillingTotalsCmd())
	cmd.AddCommand(newBillingAuditCmd())
	return cmd
}

func newBillingRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Drain the billing queue into SQLite until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := setup()
			if err != nil {
				return err
			}
			defer c.close()

			sink, db, err := c.billingSink()
			if err != nil {
				return err
			}
			defer db.Close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := c.store.Ping(ctx); err != nil {
				return fmt.Errorf("coordination store unreachable: %w", err)
			}
			err = sink.Run(ctx)
			if ctx.Err() != nil {
				return nil
			}
			return err
		},
	}
}

func newBillingDrainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "drain",
		Short: "Insert every queued billing record and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := setup()
			if err != nil {
				return err
			}
			defer c.close()

			sink, db, err := c.billingSink()
			if err != nil {
				return err
			}
			defer db.Close()

			n, err := sink.DrainOnce(cmd.Context())
			st := sink.Stats()
			fmt.Fprintf(cmd.OutOrStdout(), "consumed %d record(s): %d inserted, %d duplicate, %d malformed\n",
				n, st.Inserted, st.Duplicates, st.Malformed)
			return err
		},
	}
}

func newBillingTotalsCmd() *cobra.Command {
	var day string

	cmd := &cobra.Command{
		Use:   "totals <user-id>",
		Short: "Print a user's persisted billing totals for a day",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := setup()
			if err != nil {
				return err
			}
			defer c.close()

			sink, db, err := c.billingSink()
			if err != nil {
				return err
			}
			defer db.Close()

			totals, err := sink.Totals(cmd.Context(), args[0], day)
			if err != nil {
				return err
			}
			return printJSON(cmd, totals)
		},
	}

	cmd.Flags().StringVar(&day, "day", "", "UTC day as yyyymmdd (default today)")
	return cmd
}

func newBillingAuditCmd() *cobra.Command {
	var (
		sessionID string
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Print recent request lifecycle audit entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := setup()
			if err != nil {
				return err
			}
			defer c.close()

			sink, db, err := c.billingSink()
			if err != nil {
				return err
			}
			defer db.Close()

			entries, err := sink.Audit(cmd.Context(), sessionID, limit)
			if err != nil {
				return err
			}
			return printJSON(cmd, entries)
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "only entries for this session")
	cmd.Flags().IntVar(&limit, "limit", 50, "number of entries to show")
	return cmd
}
