package server

import (
	"context"
	"fmt"

	"github.com/oshokin/tuya-alarm/internal/config"
	"github.com/oshokin/tuya-alarm/internal/logger"
	"github.com/oshokin/tuya-alarm/internal/tuya"
)

// Options controls the daemon process and configuration.
type Options struct {
	// ConfigPath specifies the path to settings YAML file.
	ConfigPath string
	// ListenAddress overrides the configured gRPC listen address.
	ListenAddress string
	// HistoryFile overrides the configured command history database.
	HistoryFile string
	// LogLevel overrides the configured log level.
	LogLevel string
}

// Run opens the cloud session and serves the device until ctx is canceled.
// A failure to resolve the data center or authenticate is returned at once.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "tuya-alarm-server")

	settings, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	applyOverrides(settings, opts)

	if err := logger.Configure(settings.LogLevel, settings.LogFormat); err != nil {
		return fmt.Errorf("configure logger: %w", err)
	}

	ctx = logger.WithKV(ctx, "device_id", settings.DeviceID)

	release, err := acquirePIDFile(ctx, settings.PIDFile)
	if err != nil {
		return err
	}
	defer release()

	session, err := tuya.NewSession(tuya.Credentials{
		AccessID:     settings.AccessID,
		AccessSecret: settings.AccessSecret,
		Region:       settings.Region,
	}, tuya.WithTimeout(settings.Timeout))
	if err != nil {
		return fmt.Errorf("create cloud session: %w", err)
	}
	defer session.Close()

	if err := session.Open(ctx); err != nil {
		return err
	}

	d, err := newDaemon(settings, tuya.NewClient(session))
	if err != nil {
		return fmt.Errorf("initialise daemon: %w", err)
	}

	return d.serve(ctx, nil)
}

// applyOverrides replaces configured values with non-empty command line ones.
func applyOverrides(settings *config.Config, opts *Options) {
	if opts.ListenAddress != "" {
		settings.ListenAddress = opts.ListenAddress
	}

	if opts.HistoryFile != "" {
		settings.HistoryFile = opts.HistoryFile
	}

	if opts.LogLevel != "" {
		settings.LogLevel = opts.LogLevel
	}
}
