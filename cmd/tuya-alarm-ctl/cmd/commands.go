package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/tuya-alarm/internal/config"
	"github.com/oshokin/tuya-alarm/internal/logger"
	"github.com/oshokin/tuya-alarm/internal/service/client"
	"github.com/oshokin/tuya-alarm/internal/service/setup"
)

const defaultHistoryLimit = 20

var (
	// historyLimit caps the number of printed history records.
	historyLimit int
	// setupOptions collects the flags of the init command.
	setupOptions setup.Options

	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Print the current panel snapshot.",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return withRunner(func(ctx context.Context, runner *client.Runner) error {
				return runner.Status(ctx)
			})
		},
	}

	watchCmd = &cobra.Command{
		Use:   "watch",
		Short: "Print every snapshot change until interrupted.",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return withRunner(func(ctx context.Context, runner *client.Runner) error {
				return runner.Watch(ctx)
			})
		},
	}

	armCmd = &cobra.Command{
		Use:       "arm [away|home]",
		Short:     "Arm the panel and wait for the device to confirm.",
		Long:      "Arms the panel in away mode (default) or home mode and waits until the cloud reports the new state.",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"away", "home"},
		RunE: func(_ *cobra.Command, args []string) error {
			mode := "away"
			if len(args) > 0 {
				mode = args[0]
			}

			return withRunner(func(ctx context.Context, runner *client.Runner) error {
				return runner.Arm(ctx, mode)
			})
		},
	}

	disarmCmd = &cobra.Command{
		Use:   "disarm",
		Short: "Disarm the panel and wait for the device to confirm.",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return withRunner(func(ctx context.Context, runner *client.Runner) error {
				return runner.Disarm(ctx)
			})
		},
	}

	setCmd = &cobra.Command{
		Use:   "set <code> <value>",
		Short: "Write a settings data point.",
		Long: `Writes one settings data point, for example "set language russian" or "set arm_delay 30".
The value is parsed as JSON when possible and checked against the function list.`,
		Args: cobra.ExactArgs(2), //nolint:mnd // Code and value.
		RunE: func(_ *cobra.Command, args []string) error {
			return withRunner(func(ctx context.Context, runner *client.Runner) error {
				return runner.SetOption(ctx, args[0], args[1])
			})
		},
	}

	functionsCmd = &cobra.Command{
		Use:   "functions",
		Short: "List the writable data points of the device.",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return withRunner(func(ctx context.Context, runner *client.Runner) error {
				return runner.Functions(ctx)
			})
		},
	}

	historyCmd = &cobra.Command{
		Use:   "history",
		Short: "List the latest commands, newest first.",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return withRunner(func(ctx context.Context, runner *client.Runner) error {
				return runner.History(ctx, historyLimit)
			})
		},
	}

	initCmd = &cobra.Command{
		Use:   "init",
		Short: "Write a settings file after checking the credentials against the cloud.",
		Args:  cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// The next steps are logged at info level.
			level := logLevel
			if !cmd.Flag("log-level").Changed {
				level = "info"
			}

			return logger.Configure(level, logger.FormatConsole)
		},
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			setupOptions.ConfigPath = cfgPath
			setupOptions.Timeout = timeout

			if setupOptions.AccessSecret == "" {
				setupOptions.AccessSecret = os.Getenv(config.EnvAccessSecret)
			}

			return setup.Run(ctx, &setupOptions)
		},
	}
)

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", defaultHistoryLimit, "maximum number of records")

	flags := initCmd.Flags()
	flags.StringVar(&setupOptions.Region, "region", "auto", "data center code, custom base URL or auto")
	flags.StringVar(&setupOptions.AccessID, "access-id", os.Getenv(config.EnvAccessID), "cloud project access id")
	flags.StringVar(&setupOptions.AccessSecret, "access-secret", "",
		"cloud project access secret (default from "+config.EnvAccessSecret+")")
	flags.StringVar(&setupOptions.DeviceID, "device-id", "", "alarm panel device id")
	flags.StringVar(&setupOptions.ListenAddress, "listen", config.DefaultListenAddress, "daemon listen address")
	flags.BoolVar(&setupOptions.SkipCheck, "skip-check", false, "save without contacting the cloud")

	if err := initCmd.MarkFlagRequired("device-id"); err != nil {
		panic(err)
	}
}
