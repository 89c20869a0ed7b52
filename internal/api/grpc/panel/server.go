package panel

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oshokin/tuya-alarm/internal/domain/alarm"
	"github.com/oshokin/tuya-alarm/internal/logger"
	"github.com/oshokin/tuya-alarm/internal/service/verifier"
	"github.com/oshokin/tuya-alarm/internal/store"
	"github.com/oshokin/tuya-alarm/internal/tuya"
)

// defaultHistoryLimit applies when ListHistory is called without a limit.
const defaultHistoryLimit = 20

// Commander issues commands to the panel.
type Commander interface {
	RequestArm(ctx context.Context, actor *alarm.Actor, mode alarm.Mode) (*alarm.CommandRecord, error)
	RequestDisarm(ctx context.Context, actor *alarm.Actor) (*alarm.CommandRecord, error)
	SetOption(ctx context.Context, actor *alarm.Actor, code string, raw any) (*alarm.CommandRecord, error)
}

// StateSource exposes the published device state.
type StateSource interface {
	Current() store.Snapshot
	Subscribe() (<-chan store.Snapshot, func())
}

// History lists recorded commands.
type History interface {
	List(ctx context.Context, limit int) ([]*alarm.CommandRecord, error)
}

// Server implements the PanelService gRPC API.
type Server struct {
	UnimplementedPanelServiceServer

	commander Commander
	state     StateSource
	history   History
}

// NewServer wires the command, state and history sources into a gRPC handler.
// history may be nil, in which case ListHistory returns an empty list.
func NewServer(commander Commander, state StateSource, history History) *Server {
	return &Server{
		commander: commander,
		state:     state,
		history:   history,
	}
}

// GetStatus returns the current snapshot.
func (s *Server) GetStatus(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	response, err := snapshotStruct(s.state.Current())
	if err != nil {
		return nil, status.Errorf(codes.Internal, "render snapshot: %v", err)
	}

	return response, nil
}

// Watch sends the current snapshot and every later one until the client goes away.
// Snapshots published faster than the client reads are coalesced.
func (s *Server) Watch(_ *emptypb.Empty, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	ctx := stream.Context()

	updates, unsubscribe := s.state.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case snapshot, ok := <-updates:
			if !ok {
				return nil
			}

			message, err := snapshotStruct(snapshot)
			if err != nil {
				return status.Errorf(codes.Internal, "render snapshot: %v", err)
			}

			if err := stream.Send(message); err != nil {
				return err
			}
		}
	}
}

// Arm arms the panel and waits for the cloud to confirm.
// A verification timeout is not an error: the record carries outcome "timeout".
func (s *Server) Arm(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	actor, err := requireActor(req)
	if err != nil {
		return nil, err
	}

	mode, err := alarm.ParseMode(req.GetFields()[fieldMode].GetStringValue())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	record, err := s.commander.RequestArm(ctx, actor, mode)

	return s.commandResponse(ctx, "arm", record, err)
}

// Disarm disarms the panel and waits for the cloud to confirm.
func (s *Server) Disarm(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	actor, err := requireActor(req)
	if err != nil {
		return nil, err
	}

	record, err := s.commander.RequestDisarm(ctx, actor)

	return s.commandResponse(ctx, "disarm", record, err)
}

// SetOption writes a settings data point.
func (s *Server) SetOption(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	actor, err := requireActor(req)
	if err != nil {
		return nil, err
	}

	fields := req.GetFields()

	code := fields[fieldCode].GetStringValue()
	if code == "" {
		return nil, status.Error(codes.InvalidArgument, "code is required")
	}

	value, ok := fields[fieldValue]
	if !ok {
		return nil, status.Error(codes.InvalidArgument, "value is required")
	}

	record, err := s.commander.SetOption(ctx, actor, code, value.AsInterface())

	return s.commandResponse(ctx, "set option", record, err)
}

// ListFunctions returns the writable data points reported by the cloud.
func (s *Server) ListFunctions(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	response, err := functionsStruct(s.state.Current().Functions)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "render functions: %v", err)
	}

	return response, nil
}

// ListHistory returns the latest commands, newest first.
func (s *Server) ListHistory(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	limit := int(req.GetFields()[fieldLimit].GetNumberValue())
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	var records []*alarm.CommandRecord

	if s.history != nil {
		var err error

		records, err = s.history.List(ctx, limit)
		if err != nil {
			logger.ErrorKV(ctx, "Failed to list history", "error", err)

			return nil, status.Error(codes.Internal, "unable to read history")
		}
	}

	response, err := historyStruct(records)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "render history: %v", err)
	}

	return response, nil
}

func (s *Server) commandResponse(
	ctx context.Context,
	operation string,
	record *alarm.CommandRecord,
	err error,
) (*structpb.Struct, error) {
	if err != nil && !errors.Is(err, verifier.ErrVerificationTimeout) {
		logger.WarnKV(ctx, "Command failed", "operation", operation, "error", err)

		return nil, toStatus(err)
	}

	if record == nil {
		return nil, status.Error(codes.Internal, "command produced no record")
	}

	response, renderErr := recordStruct(record)
	if renderErr != nil {
		return nil, status.Errorf(codes.Internal, "render record: %v", renderErr)
	}

	return response, nil
}

// toStatus maps domain errors onto gRPC codes.
func toStatus(err error) error {
	var code codes.Code

	switch {
	case errors.Is(err, verifier.ErrSessionBusy):
		code = codes.Aborted
	case errors.Is(err, tuya.ErrCommandRejected):
		code = codes.FailedPrecondition
	case errors.Is(err, verifier.ErrUnknownOption),
		errors.Is(err, alarm.ErrUnsupportedValue),
		errors.Is(err, alarm.ErrUnknownMode):
		code = codes.InvalidArgument
	case errors.Is(err, verifier.ErrClosed),
		errors.Is(err, tuya.ErrSessionClosed),
		errors.Is(err, tuya.ErrTransientNetwork):
		code = codes.Unavailable
	case errors.Is(err, tuya.ErrAuthenticationFailed):
		code = codes.Unauthenticated
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	default:
		code = codes.Internal
	}

	return status.Error(code, err.Error())
}

func requireActor(req *structpb.Struct) (*alarm.Actor, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}

	actor := actorFrom(req)
	if actor == nil {
		return nil, status.Error(codes.InvalidArgument, "actor is required")
	}

	return actor, nil
}
