package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oshokin/tuya-alarm/internal/config"
	"github.com/oshokin/tuya-alarm/internal/domain/alarm"
	"github.com/oshokin/tuya-alarm/internal/logger"
	"github.com/oshokin/tuya-alarm/internal/service/common"
)

// Options configures how the control client reaches the daemon.
type Options struct {
	// ConfigPath to YAML settings file, read only when ServerAddress is empty.
	ConfigPath string

	// ServerAddress overrides the listen address from config when specified.
	ServerAddress string

	// Timeout bounds every query call; zero uses the configured timeout.
	Timeout time.Duration

	// Output receives the printed responses, os.Stdout when nil.
	Output io.Writer
}

// errNotConfirmed is returned when a command was sent but never observed on the device.
var errNotConfirmed = errors.New("command not confirmed")

// Runner executes control commands against a running daemon.
type Runner struct {
	client *common.Client
	out    io.Writer

	// detectActor identifies who issues commands.
	detectActor func() (*alarm.Actor, error)
}

// Open resolves the daemon address and connects to it.
func Open(ctx context.Context, opts *Options) (*Runner, error) {
	address, timeout := opts.ServerAddress, opts.Timeout
	verifyTimeout := config.DefaultVerifyTimeout

	if address == "" {
		cfg, err := config.Load(opts.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("load configuration: %w", err)
		}

		address = cfg.ListenAddress
		verifyTimeout = cfg.Verify.Timeout

		if timeout <= 0 {
			timeout = cfg.Timeout
		}
	}

	if timeout <= 0 {
		timeout = config.DefaultTimeout
	}

	c, err := common.Dial(ctx, address,
		common.WithCallTimeout(timeout),
		common.WithCommandTimeout(timeout+verifyTimeout))
	if err != nil {
		return nil, err
	}

	logger.DebugKV(ctx, "Connected to daemon", "server_address", address)

	return newRunner(c, opts.Output), nil
}

// newRunner wraps an established client.
func newRunner(c *common.Client, out io.Writer) *Runner {
	if out == nil {
		out = os.Stdout
	}

	return &Runner{
		client:      c,
		out:         out,
		detectActor: common.DetectActor,
	}
}

// Close releases the daemon connection.
func (r *Runner) Close() error {
	return r.client.Close()
}

// Status prints the current snapshot.
func (r *Runner) Status(ctx context.Context) error {
	snapshot, err := r.client.Status(ctx)
	if err != nil {
		return err
	}

	return r.print(snapshot, true)
}

// Watch prints every snapshot, one per line, until ctx is canceled.
func (r *Runner) Watch(ctx context.Context) error {
	return r.client.Watch(ctx, func(snapshot *structpb.Struct) error {
		return r.print(snapshot, false)
	})
}

// Arm arms the panel in the given mode ("away" or "home").
func (r *Runner) Arm(ctx context.Context, mode string) error {
	parsed, err := alarm.ParseMode(mode)
	if err != nil {
		return err
	}

	actor, err := r.detectActor()
	if err != nil {
		return fmt.Errorf("detect actor: %w", err)
	}

	logger.InfoKV(ctx, "Arming", "mode", string(parsed), "actor", actor.String())

	record, err := r.client.Arm(ctx, actor, parsed)
	if err != nil {
		return err
	}

	return r.printOutcome(record)
}

// Disarm disarms the panel.
func (r *Runner) Disarm(ctx context.Context) error {
	actor, err := r.detectActor()
	if err != nil {
		return fmt.Errorf("detect actor: %w", err)
	}

	logger.InfoKV(ctx, "Disarming", "actor", actor.String())

	record, err := r.client.Disarm(ctx, actor)
	if err != nil {
		return err
	}

	return r.printOutcome(record)
}

// SetOption writes a settings data point. The value is read as a JSON
// scalar when possible, so "true" and "30" arrive as a boolean and a number.
func (r *Runner) SetOption(ctx context.Context, code, value string) error {
	actor, err := r.detectActor()
	if err != nil {
		return fmt.Errorf("detect actor: %w", err)
	}

	record, err := r.client.SetOption(ctx, actor, code, parseValue(value))
	if err != nil {
		return err
	}

	return r.print(record, true)
}

// Functions prints the writable data points.
func (r *Runner) Functions(ctx context.Context) error {
	functions, err := r.client.Functions(ctx)
	if err != nil {
		return err
	}

	return r.print(functions, true)
}

// History prints up to limit commands, newest first.
func (r *Runner) History(ctx context.Context, limit int) error {
	records, err := r.client.History(ctx, limit)
	if err != nil {
		return err
	}

	return r.print(records, true)
}

// printOutcome prints a command record and fails unless it was confirmed.
func (r *Runner) printOutcome(record *structpb.Struct) error {
	if err := r.print(record, true); err != nil {
		return err
	}

	outcome := record.GetFields()["outcome"].GetStringValue()
	if outcome != string(alarm.OutcomeConfirmed) {
		return fmt.Errorf("%w: outcome %s", errNotConfirmed, outcome)
	}

	return nil
}

// print writes msg as JSON followed by a newline.
func (r *Runner) print(msg proto.Message, multiline bool) error {
	data, err := protojson.MarshalOptions{Multiline: multiline, Indent: "  "}.Marshal(msg)
	if err != nil {
		return fmt.Errorf("format response: %w", err)
	}

	if _, err := fmt.Fprintln(r.out, string(data)); err != nil {
		return fmt.Errorf("write response: %w", err)
	}

	return nil
}

// parseValue reads a command line value as a JSON scalar, falling back to the raw text.
func parseValue(raw string) any {
	var decoded any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return raw
	}

	switch decoded.(type) {
	case bool, float64, string:
		return decoded
	default:
		return raw
	}
}
