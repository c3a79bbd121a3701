package cli

import (
	"github.com/soyeahso/turnstile/internal/config"
	"github.com/soyeahso/turnstile/internal/logging"
	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	logLevel string

	// loaded at init time
	paths config.Paths
	log   *logging.Logger
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "turnstile",
		Short: "turnstile: distributed session orchestration for LLM conversations",
		Long: "turnstile advances long-lived conversational sessions one request at a time, " +
			"coordinating every process through a shared key-value store.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			paths, err = config.ResolvePaths()
			if err != nil {
				return err
			}
			if cfgFile != "" {
				paths.Config = cfgFile
			}
			if _, err := logging.ParseLevel(logLevel); err != nil {
				return err
			}
			log = logging.New(nil, logLevel)
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.turnstile/config.yaml)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error, fatal, silent)")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newSummarizerCmd())
	cmd.AddCommand(newBillingCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newQuotaCmd())
	cmd.AddCommand(newAdvanceCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newStatusCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}
