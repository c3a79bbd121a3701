package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/soyeahso/turnstile/internal/config"
	"github.com/soyeahso/turnstile/internal/llm"
	"github.com/soyeahso/turnstile/internal/version"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show turnstile status and configuration summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "turnstile %s (commit %s)\n\n", version.Version, version.Commit)

			fmt.Fprintf(out, "Config:  %s\n", paths.Config)
			fmt.Fprintf(out, "Data:    %s\n", paths.Data)
			fmt.Fprintln(out)

			cfg, err := config.Load(paths.Config)
			if err != nil {
				fmt.Fprintf(out, "Config:  error loading: %v\n", err)
				return nil
			}

			fmt.Fprintf(out, "Gateway: port=%d bind=%s\n", cfg.Gateway.Port, cfg.Gateway.Bind)

			storeLine := "Store:   " + cfg.Store
			if cfg.Store == "redis" {
				storeLine += fmt.Sprintf(" addr=%s prefix=%s", cfg.Redis.Addr, cfg.Redis.KeyPrefix)
			}
			if store, err := openStore(cfg); err != nil {
				storeLine += " (error: " + err.Error() + ")"
			} else {
				ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Second)
				if err := store.Ping(ctx); err != nil {
					storeLine += " (unreachable)"
				} else {
					storeLine += " (ok)"
				}
				cancel()
				store.Close()
			}
			fmt.Fprintln(out, storeLine)

			fmt.Fprintf(out, "Session: model=%s lockTTL=%s ttl=%s\n",
				cfg.Session.Model, cfg.Session.LockTTL(), cfg.Session.TTL())

			if registry, err := llm.NewRegistryFromConfig(cfg.Models, log); err != nil {
				fmt.Fprintf(out, "Models:  error: %v\n", err)
			} else if providers := registry.List(); len(providers) > 0 {
				fmt.Fprintf(out, "Models:  %s (primary=%s)\n", strings.Join(providers, ", "), cfg.Models.Primary)
			} else {
				fmt.Fprintln(out, "Models:  (none configured)")
			}

			fmt.Fprintf(out, "Workers: summarizer=%v billing=%v\n", cfg.Summarizer.IsEnabled(), cfg.Billing.IsEnabled())
			fmt.Fprintf(out, "Quota:   %d tokens/day\n", cfg.Ledger.DailyTokenLimit)

			issues := config.Validate(&cfg)
			if len(issues) > 0 {
				fmt.Fprintf(out, "\nValidation issues (%d):\n", len(issues))
				for _, issue := range issues {
					fmt.Fprintf(out, "  - %s: %s\n", issue.Path, issue.Message)
				}
			}

			return nil
		},
	}

	return cmd
}
