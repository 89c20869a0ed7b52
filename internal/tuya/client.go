package tuya

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/oshokin/tuya-alarm/internal/domain/alarm"
	"github.com/oshokin/tuya-alarm/internal/logger"
)

// Client performs device calls on behalf of a Session.
type Client struct {
	session *Session
}

// NewClient creates a client bound to the session.
func NewClient(session *Session) *Client {
	return &Client{session: session}
}

// Session returns the underlying session.
func (c *Client) Session() *Session {
	return c.session
}

type statusEntry struct {
	Code  string          `json:"code"`
	Value json.RawMessage `json:"value"`
}

type functionEntry struct {
	Code   string `json:"code"`
	Type   string `json:"type"`
	Values string `json:"values"`
	Name   string `json:"name"`
	Desc   string `json:"desc"`
}

type functionsResult struct {
	Category  string          `json:"category"`
	Functions []functionEntry `json:"functions"`
}

type deviceResult struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Model       string `json:"model"`
	ProductName string `json:"product_name"`
	Category    string `json:"category"`
	Online      bool   `json:"online"`
}

type commandEntry struct {
	Code  string      `json:"code"`
	Value alarm.Value `json:"value"`
}

type commandsBody struct {
	Commands []commandEntry `json:"commands"`
}

func devicePath(prefix, deviceID, suffix string) string {
	return prefix + url.PathEscape(deviceID) + suffix
}

// Status fetches the current data point values. The sequence number is taken
// before the request is sent.
func (c *Client) Status(ctx context.Context, deviceID string) (*alarm.DeviceStatus, error) {
	sequence := c.session.NextSequence()

	var entries []statusEntry
	if err := c.exec(ctx, call{
		method: http.MethodGet,
		path:   devicePath("/v1.0/iot-03/devices/", deviceID, "/status"),
	}, &entries); err != nil {
		return nil, fmt.Errorf("fetch status: %w", err)
	}

	status := alarm.NewDeviceStatus(sequence, c.session.transport.now())

	for _, entry := range entries {
		if entry.Code == "" {
			logger.WarnKV(ctx, "Dropping status entry without code", "value", string(entry.Value))

			continue
		}

		value, err := alarm.ParseJSON(entry.Value)
		if err != nil || value.IsNull() {
			logger.WarnKV(ctx, "Dropping status entry with unusable value",
				"code", entry.Code, "value", string(entry.Value), "error", err)

			continue
		}

		status.Set(entry.Code, value)
	}

	return status, nil
}

// Functions fetches the writable data points with their types and ranges.
func (c *Client) Functions(ctx context.Context, deviceID string) ([]alarm.FunctionSpec, error) {
	var result functionsResult
	if err := c.exec(ctx, call{
		method: http.MethodGet,
		path:   devicePath("/v1.0/iot-03/devices/", deviceID, "/functions"),
	}, &result); err != nil {
		return nil, fmt.Errorf("fetch functions: %w", err)
	}

	specs := make([]alarm.FunctionSpec, 0, len(result.Functions))

	for _, entry := range result.Functions {
		if entry.Code == "" {
			continue
		}

		spec := alarm.FunctionSpec{
			Code: entry.Code,
			Type: entry.Type,
			Name: entry.Name,
			Desc: entry.Desc,
		}

		if err := spec.ParseFunctionValues(entry.Values); err != nil {
			logger.WarnKV(ctx, "Ignoring malformed function values", "code", entry.Code, "error", err)
		}

		specs = append(specs, spec)
	}

	return specs, nil
}

// Device fetches the diagnostic device description.
func (c *Client) Device(ctx context.Context, deviceID string) (*alarm.DeviceInfo, error) {
	var result deviceResult
	if err := c.exec(ctx, call{
		method: http.MethodGet,
		path:   devicePath("/v1.0/devices/", deviceID, ""),
	}, &result); err != nil {
		return nil, fmt.Errorf("fetch device: %w", err)
	}

	return &alarm.DeviceInfo{
		ID:          result.ID,
		Name:        result.Name,
		Model:       result.Model,
		ProductName: result.ProductName,
		Category:    result.Category,
		Online:      result.Online,
	}, nil
}

// SendCommands writes data points. A refusal by the cloud is ErrCommandRejected.
func (c *Client) SendCommands(ctx context.Context, deviceID string, commands ...alarm.Command) error {
	body := commandsBody{Commands: make([]commandEntry, 0, len(commands))}
	for _, cmd := range commands {
		body.Commands = append(body.Commands, commandEntry{Code: cmd.Code, Value: cmd.Value})
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%w: encode commands: %w", ErrMalformedRequest, err)
	}

	err = c.exec(ctx, call{
		method: http.MethodPost,
		path:   devicePath("/v1.0/iot-03/devices/", deviceID, "/commands"),
		body:   payload,
	}, nil)
	if err == nil {
		return nil
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Unwrap() == nil {
		return fmt.Errorf("%w: %w", ErrCommandRejected, err)
	}

	return fmt.Errorf("send commands: %w", err)
}

// exec attaches the token and performs the call. A rejected token is dropped
// and the call retried once; so is a rejected signature, after it is reported.
func (c *Client) exec(ctx context.Context, request call, out any) error {
	creds := c.session.credentials

	for retried := false; ; retried = true {
		if c.session.Closed() {
			return ErrSessionClosed
		}

		token, endpoint, err := creds.Token(ctx)
		if err != nil {
			return err
		}

		request.token = token.Value

		reply, err := c.session.transport.do(ctx, endpoint, request)
		if err == nil {
			creds.reportSuccess()

			if out == nil {
				return nil
			}

			return decodeResult(reply, out)
		}

		if isContextError(err) || retried {
			creds.ReportAuthFailure(ctx, err)

			return err
		}

		var apiErr *APIError

		switch {
		case errors.Is(err, errTokenRejected):
			logger.DebugKV(ctx, "Access token rejected, refreshing", "path", request.path)
			creds.Invalidate()
		case errors.As(err, &apiErr) && apiErr.IsSignatureError():
			creds.ReportAuthFailure(ctx, err)
		default:
			creds.ReportAuthFailure(ctx, err)

			return err
		}
	}
}
