package panel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oshokin/tuya-alarm/internal/domain/alarm"
	"github.com/oshokin/tuya-alarm/internal/service/verifier"
	"github.com/oshokin/tuya-alarm/internal/store"
	"github.com/oshokin/tuya-alarm/internal/tuya"
)

// fakeCommander records the last command and answers with a fixed result.
type fakeCommander struct {
	err     error
	outcome alarm.Outcome

	lastActor *alarm.Actor
	lastMode  alarm.Mode
	lastCode  string
	lastValue any
}

func (f *fakeCommander) result(kind alarm.CommandKind, code, value string) (*alarm.CommandRecord, error) {
	if f.err != nil && !errors.Is(f.err, verifier.ErrVerificationTimeout) {
		return nil, f.err
	}

	outcome := f.outcome
	if outcome == "" {
		outcome = alarm.OutcomeConfirmed
	}

	return &alarm.CommandRecord{
		ID:       "session-1",
		Kind:     kind,
		Actor:    f.lastActor,
		Code:     code,
		Value:    value,
		Outcome:  outcome,
		Attempts: 2,
	}, f.err
}

func (f *fakeCommander) RequestArm(_ context.Context, actor *alarm.Actor, mode alarm.Mode) (*alarm.CommandRecord, error) {
	f.lastActor, f.lastMode = actor, mode
	value, _ := mode.Target().DataPointValue()

	return f.result(alarm.CommandArm, alarm.ArmDataPoint, value)
}

func (f *fakeCommander) RequestDisarm(_ context.Context, actor *alarm.Actor) (*alarm.CommandRecord, error) {
	f.lastActor = actor

	return f.result(alarm.CommandDisarm, alarm.ArmDataPoint, "disarmed")
}

func (f *fakeCommander) SetOption(_ context.Context, actor *alarm.Actor, code string, raw any) (*alarm.CommandRecord, error) {
	f.lastActor, f.lastCode, f.lastValue = actor, code, raw

	return f.result(alarm.CommandOption, code, fmt.Sprint(raw))
}

type fakeHistory struct {
	records []*alarm.CommandRecord
	limit   int
}

func (f *fakeHistory) List(_ context.Context, limit int) ([]*alarm.CommandRecord, error) {
	f.limit = limit

	return f.records, nil
}

func commandRequest(t *testing.T, fields map[string]any) *structpb.Struct {
	t.Helper()

	fields[fieldActor] = ActorStruct(&alarm.Actor{Hostname: "desk", Username: "alice"})

	req, err := structpb.NewStruct(fields)
	require.NoError(t, err)

	return req
}

// TestServer_Validation rejects requests without an actor or with a bad mode.
func TestServer_Validation(t *testing.T) {
	t.Parallel()

	s := NewServer(new(fakeCommander), store.New("dev"), nil)
	ctx := context.Background()

	_, err := s.Arm(ctx, nil)
	require.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = s.Disarm(ctx, &structpb.Struct{})
	require.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = s.Arm(ctx, commandRequest(t, map[string]any{fieldMode: "night"}))
	require.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = s.SetOption(ctx, commandRequest(t, map[string]any{fieldValue: 1}))
	require.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = s.SetOption(ctx, commandRequest(t, map[string]any{fieldCode: "arm_delay"}))
	require.Equal(t, codes.InvalidArgument, status.Code(err))
}

// TestServer_ArmReturnsRecord passes the actor and mode through.
func TestServer_ArmReturnsRecord(t *testing.T) {
	t.Parallel()

	commander := new(fakeCommander)
	s := NewServer(commander, store.New("dev"), nil)

	response, err := s.Arm(context.Background(), commandRequest(t, map[string]any{fieldMode: "home"}))
	require.NoError(t, err)
	require.Equal(t, alarm.ModeHome, commander.lastMode)
	require.Equal(t, "alice", commander.lastActor.Username)

	fields := response.GetFields()
	require.Equal(t, "confirmed", fields["outcome"].GetStringValue())
	require.Equal(t, "home", fields["value"].GetStringValue())
	require.Equal(t, "desk", fields[fieldActor].GetStructValue().GetFields()[fieldHostname].GetStringValue())
}

// TestServer_TimeoutIsNotAnError reports an unconfirmed command as a record.
func TestServer_TimeoutIsNotAnError(t *testing.T) {
	t.Parallel()

	commander := &fakeCommander{
		err:     &verifier.TimeoutError{Target: alarm.StateDisarmed, Observed: alarm.StateArmedAway, Attempts: 10},
		outcome: alarm.OutcomeTimeout,
	}
	s := NewServer(commander, store.New("dev"), nil)

	response, err := s.Disarm(context.Background(), commandRequest(t, map[string]any{}))
	require.NoError(t, err)
	require.Equal(t, "timeout", response.GetFields()["outcome"].GetStringValue())
}

// TestServer_ErrorMapping checks the gRPC code of each error class.
func TestServer_ErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		code codes.Code
	}{
		{fmt.Errorf("%w: session x", verifier.ErrSessionBusy), codes.Aborted},
		{fmt.Errorf("%w: %w", tuya.ErrCommandRejected, &tuya.APIError{Code: 2008}), codes.FailedPrecondition},
		{verifier.ErrUnknownOption, codes.InvalidArgument},
		{fmt.Errorf("option x: %w", alarm.ErrUnsupportedValue), codes.InvalidArgument},
		{verifier.ErrClosed, codes.Unavailable},
		{tuya.ErrTransientNetwork, codes.Unavailable},
		{tuya.ErrAuthenticationFailed, codes.Unauthenticated},
		{context.DeadlineExceeded, codes.DeadlineExceeded},
		{errors.New("boom"), codes.Internal},
	}

	for _, tt := range tests {
		s := NewServer(&fakeCommander{err: tt.err}, store.New("dev"), nil)

		_, err := s.Disarm(context.Background(), commandRequest(t, map[string]any{}))
		require.Equal(t, tt.code, status.Code(err), tt.err.Error())
	}
}

// TestServer_SetOption forwards numbers as plain values.
func TestServer_SetOption(t *testing.T) {
	t.Parallel()

	commander := new(fakeCommander)
	s := NewServer(commander, store.New("dev"), nil)

	response, err := s.SetOption(context.Background(),
		commandRequest(t, map[string]any{fieldCode: "ring_times", fieldValue: 3}))
	require.NoError(t, err)
	require.Equal(t, "ring_times", commander.lastCode)
	require.InDelta(t, 3.0, commander.lastValue, 0)
	require.Equal(t, "option", response.GetFields()["kind"].GetStringValue())
}

// TestServer_ListFunctionsAndHistory renders store functions and history records.
func TestServer_ListFunctionsAndHistory(t *testing.T) {
	t.Parallel()

	st := store.New("dev")
	st.SetFunctions([]alarm.FunctionSpec{
		{Code: "master_mode", Type: alarm.FunctionEnum, Range: []string{"disarmed", "arm"}},
		{Code: "delay_set", Type: alarm.FunctionInteger, Min: 0, Max: 300, Step: 1, Unit: "s"},
	})

	history := &fakeHistory{records: []*alarm.CommandRecord{{ID: "b"}, {ID: "a"}}}
	s := NewServer(new(fakeCommander), st, history)
	ctx := context.Background()

	functions, err := s.ListFunctions(ctx, new(emptypb.Empty))
	require.NoError(t, err)

	items := functions.GetFields()["functions"].GetListValue().GetValues()
	require.Len(t, items, 2)
	require.Len(t, items[0].GetStructValue().GetFields()["range"].GetListValue().GetValues(), 2)
	require.InDelta(t, 300.0, items[1].GetStructValue().GetFields()["max"].GetNumberValue(), 0)

	records, err := s.ListHistory(ctx, &structpb.Struct{})
	require.NoError(t, err)
	require.Equal(t, defaultHistoryLimit, history.limit)
	require.Len(t, records.GetFields()["records"].GetListValue().GetValues(), 2)

	empty, err := NewServer(new(fakeCommander), st, nil).ListHistory(ctx, &structpb.Struct{})
	require.NoError(t, err)
	require.Empty(t, empty.GetFields()["records"].GetListValue().GetValues())
}

// TestPanelService_OverGRPC exercises the hand-written service descriptor end to end.
func TestPanelService_OverGRPC(t *testing.T) {
	t.Parallel()

	listener := bufconn.Listen(1 << 20)
	st := store.New("dev")
	commander := new(fakeCommander)

	server := grpc.NewServer()
	RegisterPanelServiceServer(server, NewServer(commander, st, nil))

	go func() { _ = server.Serve(listener) }()
	defer server.Stop()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return listener.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	defer func() { require.NoError(t, conn.Close()) }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := NewPanelServiceClient(conn)

	snapshot, err := client.GetStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, "dev", snapshot.GetFields()["device_id"].GetStringValue())
	require.Equal(t, "unknown", snapshot.GetFields()["alarm"].GetStringValue())

	record, err := client.Arm(ctx, commandRequest(t, map[string]any{fieldMode: "away"}))
	require.NoError(t, err)
	require.Equal(t, "armed", record.GetFields()["value"].GetStringValue())

	commander.err = fmt.Errorf("%w: busy", verifier.ErrSessionBusy)
	_, err = client.Disarm(ctx, commandRequest(t, map[string]any{}))
	require.Equal(t, codes.Aborted, status.Code(err))

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()

	stream, err := client.Watch(watchCtx)
	require.NoError(t, err)

	first, err := stream.Recv()
	require.NoError(t, err)
	require.Equal(t, "unknown", first.GetFields()["alarm"].GetStringValue())

	st.PublishPending(alarm.StateArmedAway)

	second, err := stream.Recv()
	require.NoError(t, err)
	require.Equal(t, "pending", second.GetFields()["alarm"].GetStringValue())
	require.Equal(t, "armed_away", second.GetFields()["pending"].GetStringValue())
}
