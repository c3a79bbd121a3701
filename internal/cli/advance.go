package cli

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"github.com/soyeahso/turnstile/internal/domain"
	"github.com/soyeahso/turnstile/internal/session"
	"github.com/spf13/cobra"
)

func newAdvanceCmd() *cobra.Command {
	var (
		sessionID    string
		requestID    string
		userID       string
		stream       bool
		forceSummary bool
	)

	cmd := &cobra.Command{
		Use:   "advance [message]",
		Short: "Advance a session by one request and print the response",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := setup()
			if err != nil {
				return err
			}
			defer c.close()

			if requestID == "" {
				requestID = uuid.New().String()
			}
			req := domain.AdvanceRequest{
				SessionID:    sessionID,
				RequestID:    requestID,
				UserID:       userID,
				Message:      strings.Join(args, " "),
				ForceSummary: forceSummary,
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			var emit session.StreamFunc
			if stream {
				emit = func(ev session.Event) {
					switch ev.Type {
					case session.EventDelta:
						fmt.Fprint(out, ev.Content)
					case session.EventToolStart:
						fmt.Fprintf(cmd.ErrOrStderr(), "\n[tool %s]\n", ev.Tool)
					}
				}
			}

			res, err := c.sessions.Advance(ctx, req, emit)
			if err != nil {
				return err
			}

			switch {
			case res.Response == nil:
				fmt.Fprintln(out, string(res.Body))
			case stream && !res.Replayed:
				fmt.Fprintln(out)
			default:
				fmt.Fprintln(out, res.Response.Content)
			}
			if r := res.Response; r != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "\n[request=%s model=%s tokens=%d+%d replayed=%v]\n",
					requestID, r.Model, r.Usage.PromptTokens, r.Usage.CompletionTokens, res.Replayed)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "cli", "session id")
	cmd.Flags().StringVar(&requestID, "request", "", "request id (default: a new UUID)")
	cmd.Flags().StringVar(&userID, "user", "cli", "user id")
	cmd.Flags().BoolVar(&stream, "stream", false, "stream the response")
	cmd.Flags().BoolVar(&forceSummary, "force-summary", false, "queue a summary of older history")

	return cmd
}
