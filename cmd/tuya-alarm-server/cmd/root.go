package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/tuya-alarm/internal/config"
	"github.com/oshokin/tuya-alarm/internal/service/server"
	"github.com/oshokin/tuya-alarm/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// historyFile overrides the command history database.
	historyFile string
	// logLevel overrides the configured log level.
	logLevel string

	// rootCmd represents the base command for running the daemon.
	rootCmd = &cobra.Command{
		Use:   "tuya-alarm-server [listen-address]",
		Short: "Keep a Tuya alarm panel in sync and serve it over gRPC.",
		Long: `Opens a session with the Tuya cloud, polls the configured alarm panel and
serves its state and commands over the panel gRPC API.

The cloud data center is discovered automatically unless a region is configured.
Arm and disarm commands are verified: the daemon keeps fetching the device
status until the cloud reports the requested state or the verification times out.
Every command is recorded in a local history database.

Listen address can be provided as argument to override config (e.g., 127.0.0.1:50061).
Credentials may come from the TUYA_ACCESS_ID and TUYA_ACCESS_SECRET environment variables.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			// Use listen address argument if provided, otherwise rely on config.
			var listenAddress string
			if len(args) > 0 {
				listenAddress = args[0]
			}

			return server.Run(ctx, &server.Options{
				ConfigPath:    configPath,
				ListenAddress: listenAddress,
				HistoryFile:   historyFile,
				LogLevel:      logLevel,
			})
		},
	}
)

// Execute runs the tuya-alarm-server CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.Flags().StringVarP(&historyFile, "history-file", "H", "", "path to the command history database")
	rootCmd.Flags().StringVarP(&logLevel, "log-level", "l", "", "log level: debug, info, warn or error")
}
