package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/oshokin/tuya-alarm/internal/config"
	"github.com/oshokin/tuya-alarm/internal/logger"
	"github.com/oshokin/tuya-alarm/internal/service/client"
	"github.com/oshokin/tuya-alarm/internal/version"
)

var (
	// cfgPath stores the configuration file path.
	cfgPath string
	// serverAddress overrides the daemon address from the configuration file.
	serverAddress string
	// timeout bounds every query call.
	timeout time.Duration
	// logLevel controls diagnostic output, which goes to stdout next to the responses.
	logLevel string

	// rootCmd represents the base command for controlling the daemon.
	rootCmd = &cobra.Command{
		Use:   "tuya-alarm-ctl",
		Short: "Control a Tuya alarm panel through tuya-alarm-server.",
		Long: `Queries and commands the alarm panel served by a running tuya-alarm-server.

Responses are printed as JSON. The daemon address comes from --address or,
when omitted, from the listen address in the configuration file.
Arm and disarm exit with an error when the daemon could not confirm the new state.`,
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return logger.Configure(logLevel, logger.FormatConsole)
		},
	}
)

// Execute runs the tuya-alarm-ctl CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// withRunner connects to the daemon, runs fn and closes the connection.
func withRunner(fn func(ctx context.Context, runner *client.Runner) error) error {
	// Setup graceful shutdown handling.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	runner, err := client.Open(ctx, &client.Options{
		ConfigPath:    cfgPath,
		ServerAddress: serverAddress,
		Timeout:       timeout,
	})
	if err != nil {
		return err
	}

	// Best-effort cleanup.
	defer func() {
		_ = runner.Close()
	}()

	return fn(ctx, runner)
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	flags := rootCmd.PersistentFlags()

	flags.StringVarP(&cfgPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	flags.StringVarP(&serverAddress, "address", "a", "", "daemon address, overrides the configuration file")
	flags.DurationVarP(&timeout, "timeout", "t", 0, "timeout of query calls (default from configuration)")
	flags.StringVarP(&logLevel, "log-level", "l", "warn", "log level: debug, info, warn or error")

	rootCmd.AddCommand(statusCmd, watchCmd, armCmd, disarmCmd, setCmd, functionsCmd, historyCmd, initCmd)
}
