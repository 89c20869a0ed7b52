package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/tuya-alarm/internal/tuya"
)

// Config holds the settings of the daemon and the control client.
type Config struct {
	// Region is "auto", a known data center code or a custom https:// base URL.
	Region string `yaml:"region"`
	// AccessID is the cloud project client id.
	AccessID string `yaml:"access_id"`
	// AccessSecret is the cloud project secret.
	AccessSecret string `yaml:"access_secret"`
	// DeviceID is the panel's cloud device id.
	DeviceID string `yaml:"device_id"`
	// PollInterval is the period of the routine status poll.
	PollInterval time.Duration `yaml:"poll_interval"`
	// Timeout bounds every network call.
	Timeout time.Duration `yaml:"timeout"`
	// ListenAddress is where the daemon serves the panel gRPC API.
	ListenAddress string `yaml:"listen_address"`
	// HistoryFile is the bbolt database holding the command audit trail.
	HistoryFile string `yaml:"history_file"`
	// PIDFile guards against two daemons polling the same device.
	PIDFile string `yaml:"pid_file"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
	// LogFormat is console or json.
	LogFormat string `yaml:"log_format"`
	// Verify tunes the verify-after-command loop.
	Verify Verify `yaml:"verify"`
	// MQTT configures the optional state bridge.
	MQTT MQTT `yaml:"mqtt"`
}

// Verify bounds the confirmation loop that follows an arm or disarm command.
type Verify struct {
	// Interval is the delay between confirmation fetches.
	Interval time.Duration `yaml:"interval"`
	// MaxAttempts bounds the number of confirmation fetches.
	MaxAttempts int `yaml:"max_attempts"`
	// Timeout bounds the whole confirmation loop.
	Timeout time.Duration `yaml:"timeout"`
}

// MQTT configures the Home Assistant compatible MQTT bridge.
type MQTT struct {
	Enabled         bool   `yaml:"enabled"`
	Broker          string `yaml:"broker"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	ClientID        string `yaml:"client_id"`
	TopicPrefix     string `yaml:"topic_prefix"`
	DiscoveryPrefix string `yaml:"discovery_prefix"`
}

const (
	// DefaultConfigFilename is the default filename for settings.
	DefaultConfigFilename = "tuya-alarm-settings.yaml"

	// DefaultHistoryFilename is the default bbolt file for the command history.
	DefaultHistoryFilename = "tuya-alarm-history.db"

	// DefaultListenAddress is the default gRPC listen address of the daemon.
	DefaultListenAddress = "127.0.0.1:50061"

	// DefaultPollInterval matches the poll period of the cloud integration.
	DefaultPollInterval = 30 * time.Second

	// MinPollInterval keeps the daemon within the cloud's request quota.
	MinPollInterval = 5 * time.Second

	// DefaultTimeout is the default duration for network operations.
	DefaultTimeout = 15 * time.Second

	// DefaultVerifyInterval is the delay between confirmation fetches.
	DefaultVerifyInterval = 800 * time.Millisecond

	// DefaultVerifyAttempts bounds the confirmation fetches.
	DefaultVerifyAttempts = 10

	// DefaultVerifyTimeout bounds the whole confirmation loop.
	DefaultVerifyTimeout = 8 * time.Second

	// DefaultTopicPrefix is the MQTT state topic root.
	DefaultTopicPrefix = "tuya-alarm"

	// DefaultDiscoveryPrefix is the Home Assistant discovery topic root.
	DefaultDiscoveryPrefix = "homeassistant"

	// DefaultFilePermissions is the default file permission for config files.
	DefaultFilePermissions = 0o600

	// EnvAccessID overrides AccessID when set.
	EnvAccessID = "TUYA_ACCESS_ID"
	// EnvAccessSecret overrides AccessSecret when set.
	EnvAccessSecret = "TUYA_ACCESS_SECRET" //nolint:gosec // Variable name, not a credential.
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errAccessIDRequired is returned when the client id is missing.
	errAccessIDRequired = errors.New("access_id must be provided")
	// errAccessSecretRequired is returned when the secret is missing.
	errAccessSecretRequired = errors.New("access_secret must be provided")
	// errDeviceIDRequired is returned when the device id is missing.
	errDeviceIDRequired = errors.New("device_id must be provided")
	// errPollIntervalTooShort is returned for poll intervals below MinPollInterval.
	errPollIntervalTooShort = errors.New("poll_interval is too short")
	// errBrokerRequired is returned when MQTT is enabled without a broker.
	errBrokerRequired = errors.New("mqtt.broker must be provided when mqtt is enabled")
)

// Load reads configuration from the provided path, applies environment
// overrides and validates essential fields.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	applyEnv(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes settings to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	// Restrict permissions: the file holds the cloud secret.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate checks the provided settings for required fields and applies defaults.
//
//nolint:cyclop // A flat list of field checks reads better than helpers.
func Validate(settings *Config) error {
	if settings == nil {
		return errConfigIsNotSet
	}

	settings.AccessID = strings.TrimSpace(settings.AccessID)
	settings.AccessSecret = strings.TrimSpace(settings.AccessSecret)
	settings.DeviceID = strings.TrimSpace(settings.DeviceID)

	switch {
	case settings.AccessID == "":
		return errAccessIDRequired
	case settings.AccessSecret == "":
		return errAccessSecretRequired
	case settings.DeviceID == "":
		return errDeviceIDRequired
	}

	if strings.TrimSpace(settings.Region) == "" {
		settings.Region = tuya.RegionAuto
	}

	if _, err := tuya.ParseRegion(settings.Region); err != nil {
		return fmt.Errorf("invalid region: %w", err)
	}

	if settings.PollInterval <= 0 {
		settings.PollInterval = DefaultPollInterval
	}

	if settings.PollInterval < MinPollInterval {
		return fmt.Errorf("%w: %s < %s", errPollIntervalTooShort, settings.PollInterval, MinPollInterval)
	}

	if settings.Timeout <= 0 {
		settings.Timeout = DefaultTimeout
	}

	if settings.ListenAddress == "" {
		settings.ListenAddress = DefaultListenAddress
	}

	if _, _, err := net.SplitHostPort(settings.ListenAddress); err != nil {
		return fmt.Errorf("invalid listen address: %w", err)
	}

	if settings.HistoryFile == "" {
		settings.HistoryFile = DefaultHistoryFilename
	}

	if settings.PIDFile == "" {
		settings.PIDFile = filepath.Join(os.TempDir(), "tuya-alarm-"+settings.DeviceID+".pid")
	}

	applyVerifyDefaults(&settings.Verify)

	return validateMQTT(&settings.MQTT)
}

// applyVerifyDefaults fills unset confirmation loop parameters.
func applyVerifyDefaults(v *Verify) {
	if v.Interval <= 0 {
		v.Interval = DefaultVerifyInterval
	}

	if v.MaxAttempts <= 0 {
		v.MaxAttempts = DefaultVerifyAttempts
	}

	if v.Timeout <= 0 {
		v.Timeout = DefaultVerifyTimeout
	}
}

// validateMQTT checks the bridge settings when the bridge is enabled.
func validateMQTT(m *MQTT) error {
	if m.TopicPrefix == "" {
		m.TopicPrefix = DefaultTopicPrefix
	}

	if m.DiscoveryPrefix == "" {
		m.DiscoveryPrefix = DefaultDiscoveryPrefix
	}

	if !m.Enabled {
		return nil
	}

	if m.Broker == "" {
		return errBrokerRequired
	}

	if _, err := url.Parse(m.Broker); err != nil {
		return fmt.Errorf("invalid mqtt broker: %w", err)
	}

	return nil
}

// applyEnv lets credentials come from the environment instead of the file.
func applyEnv(cfg *Config) {
	if v, ok := os.LookupEnv(EnvAccessID); ok && v != "" {
		cfg.AccessID = v
	}

	if v, ok := os.LookupEnv(EnvAccessSecret); ok && v != "" {
		cfg.AccessSecret = v
	}
}
