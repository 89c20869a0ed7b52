package setup

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/oshokin/tuya-alarm/internal/config"
	"github.com/oshokin/tuya-alarm/internal/domain/alarm"
	"github.com/oshokin/tuya-alarm/internal/logger"
	"github.com/oshokin/tuya-alarm/internal/tuya"
)

// Options contains inputs for writing a settings file.
type Options struct {
	// ConfigPath is where the settings are written (defaults to DefaultConfigFilename).
	ConfigPath string
	// Region is "auto", a data center code or a custom base URL.
	Region string
	// AccessID is the cloud project client id.
	AccessID string
	// AccessSecret is the cloud project secret.
	AccessSecret string
	// DeviceID is the panel's cloud device id.
	DeviceID string
	// ListenAddress is where the daemon will serve the panel API.
	ListenAddress string
	// Timeout bounds every network call.
	Timeout time.Duration
	// SkipCheck writes the file without contacting the cloud.
	SkipCheck bool
}

// DeviceLookup fetches the device description with the given settings.
type DeviceLookup func(ctx context.Context, settings *config.Config) (*alarm.DeviceInfo, error)

// Run validates the settings, checks them against the cloud and saves them.
func Run(ctx context.Context, opts *Options) error {
	return run(ctx, opts, lookupDevice)
}

func run(ctx context.Context, opts *Options, lookup DeviceLookup) error {
	ctx = logger.WithName(ctx, "tuya-alarm-setup")

	settings := &config.Config{
		Region:        opts.Region,
		AccessID:      opts.AccessID,
		AccessSecret:  opts.AccessSecret,
		DeviceID:      opts.DeviceID,
		ListenAddress: opts.ListenAddress,
		Timeout:       opts.Timeout,
	}
	if err := config.Validate(settings); err != nil {
		return err
	}

	if !opts.SkipCheck {
		info, err := lookup(ctx, settings)
		if err != nil {
			return fmt.Errorf("check cloud access: %w", err)
		}

		logger.InfoKV(ctx, "Verified cloud access",
			"device_name", info.Name,
			"product", info.ProductName,
			"online", info.Online)
	}

	if err := config.Save(opts.ConfigPath, settings); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}

	printNextSteps(ctx, opts.ConfigPath, settings)

	return nil
}

// lookupDevice opens a short-lived cloud session and fetches the device.
func lookupDevice(ctx context.Context, settings *config.Config) (*alarm.DeviceInfo, error) {
	session, err := tuya.NewSession(tuya.Credentials{
		AccessID:     settings.AccessID,
		AccessSecret: settings.AccessSecret,
		Region:       settings.Region,
	}, tuya.WithTimeout(settings.Timeout))
	if err != nil {
		return nil, err
	}
	defer session.Close()

	if err := session.Open(ctx); err != nil {
		return nil, err
	}

	return tuya.NewClient(session).Device(ctx, settings.DeviceID)
}

// printNextSteps logs how to start the daemon with the written file.
func printNextSteps(ctx context.Context, path string, settings *config.Config) {
	if path == "" {
		path = config.DefaultConfigFilename
	}

	var builder strings.Builder

	builder.WriteString("Settings saved to ")
	builder.WriteString(path)
	builder.WriteString(".\nStart the daemon with: tuya-alarm-server --config ")
	builder.WriteString(path)
	builder.WriteString("\nThen control the panel with: tuya-alarm-ctl --address ")
	builder.WriteString(settings.ListenAddress)
	builder.WriteString(" status")

	logger.Info(ctx, builder.String())
}
