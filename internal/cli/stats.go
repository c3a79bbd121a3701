package cli

import (
	"errors"
	"fmt"

	"github.com/soyeahso/turnstile/internal/domain"
	"github.com/soyeahso/turnstile/internal/gateway"
	"github.com/soyeahso/turnstile/internal/session"
	"github.com/spf13/cobra"
)

func newStatsCmd() *cobra.Command {
	var reset bool

	cmd := &cobra.Command{
		Use:   "stats <session-id>",
		Short: "Show a session's state, lock holder and token spend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := setup()
			if err != nil {
				return err
			}
			defer c.close()

			ctx := cmd.Context()
			sessionID := args[0]

			if reset {
				if err := c.sessions.Reset(ctx, sessionID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Reset session %s\n", sessionID)
				return nil
			}

			snap, err := c.sessions.Snapshot(ctx, sessionID)
			if errors.Is(err, session.ErrSessionNotFound) {
				return fmt.Errorf("session %q not found", sessionID)
			}
			if err != nil {
				return err
			}
			tokens, err := c.ledger.SessionUsage(ctx, sessionID)
			if err != nil {
				return err
			}
			return printJSON(cmd, gateway.SessionStats{Snapshot: snap, Tokens: tokens})
		},
	}

	cmd.Flags().BoolVar(&reset, "reset", false, "delete the session state and lock (history is kept)")
	return cmd
}

type quotaReport struct {
	Usage   domain.DailyUsage    `json:"usage"`
	Quota   domain.QuotaVerdict  `json:"quota"`
	Details []domain.UsageRecord `json:"details,omitempty"`
}

func newQuotaCmd() *cobra.Command {
	var (
		day     string
		details int
	)

	cmd := &cobra.Command{
		Use:   "quota <user-id>",
		Short: "Show a user's daily token usage and quota",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := setup()
			if err != nil {
				return err
			}
			defer c.close()

			ctx := cmd.Context()
			userID := args[0]

			var report quotaReport
			if report.Usage, err = c.ledger.Usage(ctx, userID, day); err != nil {
				return err
			}
			if report.Quota, err = c.ledger.CheckQuota(ctx, userID, c.ledger.DailyLimit(), 0); err != nil {
				return err
			}
			if details > 0 {
				if report.Details, err = c.ledger.Details(ctx, userID, report.Usage.Day, details); err != nil {
					return err
				}
			}
			return printJSON(cmd, report)
		},
	}

	cmd.Flags().StringVar(&day, "day", "", "UTC day as yyyymmdd (default today)")
	cmd.Flags().IntVar(&details, "details", 0, "include up to N per-call usage records")
	return cmd
}
