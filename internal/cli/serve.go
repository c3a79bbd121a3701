package cli

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"sync"
	"syscall"

	"github.com/soyeahso/turnstile/internal/config"
	"github.com/soyeahso/turnstile/internal/gateway"
	"github.com/spf13/cobra"
)

// workers runs background loops until their context ends.
type workers struct {
	wg sync.WaitGroup
}

func (w *workers) run(ctx context.Context, name string, fn func(context.Context) error) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		log.Info().Str("worker", name).Msg("worker started")
		if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Str("worker", name).Msg("worker stopped")
		}
	}()
}

func (w *workers) wait() { w.wg.Wait() }

func newServeCmd() *cobra.Command {
	var (
		port         int
		bind         string
		noSummarizer bool
		noBilling    bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway with in-process summarizer and billing workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := setup(func(cfg *config.Config) {
				if port != 0 {
					cfg.Gateway.Port = port
				}
				if bind != "" {
					cfg.Gateway.Bind = bind
				}
			})
			if err != nil {
				return err
			}
			defer c.close()

			// Block until SIGINT/SIGTERM
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := c.store.Ping(ctx); err != nil {
				return fmt.Errorf("coordination store unreachable: %w", err)
			}

			var bg workers
			bg.run(ctx, "ledger", c.ledger.Run)

			deps := gateway.Deps{
				Sessions: c.sessions,
				Quotas:   c.ledger,
				Queue:    c.history,
				Store:    c.store,
			}

			if c.cfg.Summarizer.IsEnabled() && !noSummarizer {
				consumer := c.summarizer()
				deps.Summarizer = consumer
				bg.run(ctx, "summarizer", consumer.Run)
			}

			if c.cfg.Billing.IsEnabled() && !noBilling {
				sink, db, err := c.billingSink()
				if err != nil {
					stop()
					bg.wait()
					return err
				}
				defer db.Close()
				sink.RegisterHooks(c.hooks)
				bg.run(ctx, "billing", sink.Run)
			}

			srv := gateway.New(c.cfg.Gateway, deps, log, gateway.WithHooks(c.hooks))
			err = srv.Start(ctx)

			stop()
			bg.wait()
			c.hooks.Wait()
			return err
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "override gateway port")
	cmd.Flags().StringVar(&bind, "bind", "", "override bind mode (loopback, lan)")
	cmd.Flags().BoolVar(&noSummarizer, "no-summarizer", false, "do not run summarization workers in this process")
	cmd.Flags().BoolVar(&noBilling, "no-billing", false, "do not drain the billing queue in this process")

	return cmd
}
