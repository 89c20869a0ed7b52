//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oshokin/tuya-alarm/internal/api/grpc/panel"
	"github.com/oshokin/tuya-alarm/internal/config"
	"github.com/oshokin/tuya-alarm/internal/domain/alarm"
)

// Client wraps the gRPC PanelService client with convenience helpers.
type Client struct {
	// conn is the underlying gRPC connection to the daemon.
	conn *grpc.ClientConn
	// api is the PanelService client.
	api *panel.PanelServiceClient

	// callTimeout is the default timeout for unary calls.
	callTimeout time.Duration
	// commandTimeout bounds arm and disarm calls, which wait for verification.
	commandTimeout time.Duration
	// dialOptions are appended to the default transport options.
	dialOptions []grpc.DialOption
}

// Option configures client behaviour.
type Option func(*Client)

// WithCallTimeout sets a default timeout for service calls.
func WithCallTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.callTimeout = timeout
		}
	}
}

// WithCommandTimeout sets the timeout for arm and disarm calls.
func WithCommandTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.commandTimeout = timeout
		}
	}
}

// WithDialOptions appends gRPC dial options.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(c *Client) {
		c.dialOptions = append(c.dialOptions, opts...)
	}
}

var (
	// errAddressRequired is returned when a required address value is missing.
	errAddressRequired = errors.New("address must be provided")
	// errActorRequired is returned when an actor is not provided but is required for the operation.
	errActorRequired = errors.New("actor must be provided")
)

// Dial establishes a gRPC connection to the daemon.
// Note: this uses insecure transport credentials; the daemon listens on
// loopback by default.
func Dial(_ context.Context, address string, opts ...Option) (*Client, error) {
	if address == "" {
		return nil, errAddressRequired
	}

	client := &Client{
		callTimeout:    config.DefaultTimeout,
		commandTimeout: config.DefaultTimeout + config.DefaultVerifyTimeout,
	}

	for _, opt := range opts {
		opt(client)
	}

	dialOptions := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}, client.dialOptions...)

	conn, err := grpc.NewClient(address, dialOptions...)
	if err != nil {
		return nil, fmt.Errorf("dial alarm daemon: %w", err)
	}

	client.conn = conn
	client.api = panel.NewPanelServiceClient(conn)

	return client, nil
}

// Close releases the underlying gRPC connection.
func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}

	return c.conn.Close()
}

// Status retrieves the current snapshot.
func (c *Client) Status(ctx context.Context) (*structpb.Struct, error) {
	callCtx, cancel := c.callContext(ctx, c.callTimeout)
	defer cancel()

	resp, err := c.api.GetStatus(callCtx)
	if err != nil {
		return nil, fmt.Errorf("get status: %w", err)
	}

	return resp, nil
}

// Watch calls handle for every snapshot until ctx ends or the stream breaks.
func (c *Client) Watch(ctx context.Context, handle func(*structpb.Struct) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := c.api.Watch(ctx)
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}

	for {
		snapshot, err := stream.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			return fmt.Errorf("watch: %w", err)
		}

		if err := handle(snapshot); err != nil {
			return err
		}
	}
}

// Arm arms the panel and waits for the verification result.
func (c *Client) Arm(ctx context.Context, actor *alarm.Actor, mode alarm.Mode) (*structpb.Struct, error) {
	req, err := commandRequest(actor, map[string]any{"mode": string(mode)})
	if err != nil {
		return nil, err
	}

	callCtx, cancel := c.callContext(ctx, c.commandTimeout)
	defer cancel()

	resp, err := c.api.Arm(callCtx, req)
	if err != nil {
		return nil, fmt.Errorf("arm: %w", err)
	}

	return resp, nil
}

// Disarm disarms the panel and waits for the verification result.
func (c *Client) Disarm(ctx context.Context, actor *alarm.Actor) (*structpb.Struct, error) {
	req, err := commandRequest(actor, map[string]any{})
	if err != nil {
		return nil, err
	}

	callCtx, cancel := c.callContext(ctx, c.commandTimeout)
	defer cancel()

	resp, err := c.api.Disarm(callCtx, req)
	if err != nil {
		return nil, fmt.Errorf("disarm: %w", err)
	}

	return resp, nil
}

// SetOption writes a settings data point.
func (c *Client) SetOption(ctx context.Context, actor *alarm.Actor, code string, value any) (*structpb.Struct, error) {
	req, err := commandRequest(actor, map[string]any{"code": code, "value": value})
	if err != nil {
		return nil, err
	}

	callCtx, cancel := c.callContext(ctx, c.callTimeout)
	defer cancel()

	resp, err := c.api.SetOption(callCtx, req)
	if err != nil {
		return nil, fmt.Errorf("set option %s: %w", code, err)
	}

	return resp, nil
}

// Functions lists the writable data points.
func (c *Client) Functions(ctx context.Context) (*structpb.Struct, error) {
	callCtx, cancel := c.callContext(ctx, c.callTimeout)
	defer cancel()

	resp, err := c.api.ListFunctions(callCtx)
	if err != nil {
		return nil, fmt.Errorf("list functions: %w", err)
	}

	return resp, nil
}

// History lists the latest commands, newest first.
func (c *Client) History(ctx context.Context, limit int) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(map[string]any{"limit": limit})
	if err != nil {
		return nil, fmt.Errorf("build history request: %w", err)
	}

	callCtx, cancel := c.callContext(ctx, c.callTimeout)
	defer cancel()

	resp, err := c.api.ListHistory(callCtx, req)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}

	return resp, nil
}

// commandRequest builds a command message carrying the actor.
func commandRequest(actor *alarm.Actor, fields map[string]any) (*structpb.Struct, error) {
	if actor == nil {
		return nil, errActorRequired
	}

	fields["actor"] = panel.ActorStruct(actor)

	req, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	return req, nil
}

// callContext returns a context with the given timeout if positive,
// otherwise a cancellable child context without a deadline.
func (c *Client) callContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, timeout)
}
