package verifier

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/oshokin/tuya-alarm/internal/domain/alarm"
	"github.com/oshokin/tuya-alarm/internal/logger"
)

// SetOption writes a settings data point without verification and asks the
// scheduler for an early poll; the next poll reconciles the value.
// The arm data point is refused: it must go through RequestArm or RequestDisarm.
func (v *Verifier) SetOption(ctx context.Context, actor *alarm.Actor, code string, raw any) (*alarm.CommandRecord, error) {
	v.mu.Lock()
	closed := v.closed
	v.mu.Unlock()

	if closed {
		return nil, ErrClosed
	}

	value, err := v.coerce(code, raw)
	if err != nil {
		return nil, err
	}

	ctx = logger.WithKV(logger.WithName(ctx, "verifier"), "code", code, "actor", actor.String())

	record := &alarm.CommandRecord{
		ID:        uuid.NewString(),
		Kind:      alarm.CommandOption,
		Actor:     actor.Clone(),
		Code:      code,
		Value:     value.String(),
		StartedAt: time.Now(),
	}

	err = v.cloud.SendCommands(ctx, v.deviceID, alarm.Command{Code: code, Value: value})
	record.FinishedAt = time.Now()

	if err != nil {
		record.Outcome = failureOutcome(ctx, err)
		record.Error = err.Error()
		v.record(ctx, record)

		return record, err
	}

	record.Outcome = alarm.OutcomeSent
	v.record(ctx, record)
	v.scheduler.Trigger()

	logger.InfoKV(ctx, "Option written", "value", record.Value)

	return record, nil
}

// coerce checks the data point is a writable option and converts the value to its type.
func (v *Verifier) coerce(code string, raw any) (alarm.Value, error) {
	if code == alarm.ArmDataPoint {
		return alarm.Value{}, fmt.Errorf("%w: %s is changed by arm and disarm", ErrUnknownOption, code)
	}

	snapshot := v.store.Current()

	if spec, ok := snapshot.Function(code); ok {
		value, err := spec.Coerce(raw)
		if err != nil {
			return alarm.Value{}, fmt.Errorf("option %s: %w", code, err)
		}

		return value, nil
	}

	// Functions not loaded yet: fall back to the known settings of the panel.
	if len(snapshot.Functions) > 0 || !alarm.IsSetting(code) {
		return alarm.Value{}, fmt.Errorf("%w: %s", ErrUnknownOption, code)
	}

	value, err := alarm.FromInterface(raw)
	if err != nil {
		return alarm.Value{}, fmt.Errorf("option %s: %w", code, err)
	}

	return value, nil
}
