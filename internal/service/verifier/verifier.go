package verifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oshokin/tuya-alarm/internal/domain/alarm"
	"github.com/oshokin/tuya-alarm/internal/logger"
	"github.com/oshokin/tuya-alarm/internal/service/poller"
	"github.com/oshokin/tuya-alarm/internal/store"
	"github.com/oshokin/tuya-alarm/internal/tuya"
)

var (
	// ErrSessionBusy is returned when a verification session is already running.
	ErrSessionBusy = errors.New("verification session already active")
	// ErrVerificationTimeout is returned when the cloud did not confirm the target in time.
	// The command may still have succeeded.
	ErrVerificationTimeout = errors.New("verification timed out")
	// ErrClosed is returned by requests made after Close.
	ErrClosed = errors.New("verifier closed")
	// ErrUnknownOption is returned for data points that cannot be written as options.
	ErrUnknownOption = errors.New("unknown option")
)

// TimeoutError carries the state observed when verification gave up.
type TimeoutError struct {
	Target   alarm.State
	Observed alarm.State
	Attempts int
}

// Error implements error.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: wanted %s, cloud reports %s after %d attempts",
		ErrVerificationTimeout, e.Target, e.Observed, e.Attempts)
}

// Unwrap makes errors.Is(err, ErrVerificationTimeout) work.
func (e *TimeoutError) Unwrap() error {
	return ErrVerificationTimeout
}

// Cloud sends commands and reads the status back.
type Cloud interface {
	Status(ctx context.Context, deviceID string) (*alarm.DeviceStatus, error)
	SendCommands(ctx context.Context, deviceID string, commands ...alarm.Command) error
}

// Scheduler is the routine poll the verifier suspends.
type Scheduler interface {
	Pause(ctx context.Context) error
	Resume() error
	Trigger()
}

// Publisher is the state store the verifier writes to.
type Publisher interface {
	Current() store.Snapshot
	PublishStatus(ctx context.Context, status *alarm.DeviceStatus) bool
	PublishPending(target alarm.State)
	ClearPending()
}

// Recorder keeps the command audit trail.
type Recorder interface {
	Save(ctx context.Context, record *alarm.CommandRecord) error
}

// Config bounds the confirmation loop.
type Config struct {
	// Interval is the delay before each confirmation fetch.
	Interval time.Duration
	// MaxAttempts bounds the confirmation fetches.
	MaxAttempts int
	// Timeout bounds the loop from the moment the command is accepted.
	Timeout time.Duration
}

// Session is a copy of the running verification.
type Session struct {
	ID        string
	Target    alarm.State
	StartedAt time.Time
	Deadline  time.Time
	Attempts  int
}

// Verifier runs verify-after-command sessions, at most one at a time.
type Verifier struct {
	deviceID  string
	cloud     Cloud
	scheduler Scheduler
	store     Publisher
	history   Recorder
	cfg       Config

	// lifetime outlives callers; Close cancels it.
	lifetime context.Context //nolint:containedctx // Sessions must not die with the request that started them.
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	mu      sync.Mutex
	session *Session
	closed  bool
}

// New creates a verifier. history may be nil.
func New(deviceID string, cloud Cloud, scheduler Scheduler, publisher Publisher, history Recorder, cfg Config) *Verifier {
	lifetime, cancel := context.WithCancel(context.Background())

	return &Verifier{
		deviceID:  deviceID,
		cloud:     cloud,
		scheduler: scheduler,
		store:     publisher,
		history:   history,
		cfg:       cfg,
		lifetime:  lifetime,
		cancel:    cancel,
	}
}

// RequestArm arms the panel in the given mode and waits for the cloud to confirm.
func (v *Verifier) RequestArm(ctx context.Context, actor *alarm.Actor, mode alarm.Mode) (*alarm.CommandRecord, error) {
	return v.request(ctx, actor, alarm.CommandArm, mode.Target())
}

// RequestDisarm disarms the panel and waits for the cloud to confirm.
func (v *Verifier) RequestDisarm(ctx context.Context, actor *alarm.Actor) (*alarm.CommandRecord, error) {
	return v.request(ctx, actor, alarm.CommandDisarm, alarm.StateDisarmed)
}

// Session returns the running verification, if any.
func (v *Verifier) Session() (Session, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.session == nil {
		return Session{}, false
	}

	return *v.session, true
}

// Close cancels the running session without publishing its result and
// waits for it to resume the scheduler. Later requests fail with ErrClosed.
func (v *Verifier) Close() {
	v.mu.Lock()
	v.closed = true
	v.mu.Unlock()

	v.cancel()
	v.wg.Wait()
}

type outcome struct {
	record *alarm.CommandRecord
	err    error
}

func (v *Verifier) request(
	ctx context.Context,
	actor *alarm.Actor,
	kind alarm.CommandKind,
	target alarm.State,
) (*alarm.CommandRecord, error) {
	value, ok := target.DataPointValue()
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a command target", ErrUnknownOption, target)
	}

	session, err := v.reserve(target)
	if err != nil {
		return nil, err
	}

	record := &alarm.CommandRecord{
		ID:        session.ID,
		Kind:      kind,
		Actor:     actor.Clone(),
		Code:      alarm.ArmDataPoint,
		Value:     value,
		StartedAt: session.StartedAt,
	}

	sessionCtx := logger.WithKV(logger.WithName(v.lifetime, "verifier"),
		"session_id", session.ID, "target", target.String(), "actor", actor.String())

	results := make(chan outcome, 1)

	go func() {
		defer v.wg.Done()

		err := v.run(sessionCtx, session, record)
		results <- outcome{record: record, err: err}
	}()

	// A caller that gives up does not abort the session.
	select {
	case res := <-results:
		return res.record, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// reserve opens the single session slot.
func (v *Verifier) reserve(target alarm.State) (*Session, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	switch {
	case v.closed:
		return nil, ErrClosed
	case v.session != nil:
		return nil, fmt.Errorf("%w: session %s targets %s", ErrSessionBusy, v.session.ID, v.session.Target)
	}

	v.session = &Session{
		ID:        uuid.NewString(),
		Target:    target,
		StartedAt: time.Now(),
	}
	v.wg.Add(1)

	return v.session, nil
}

// run drives one session: pause, send, pending, confirm, publish, resume, record.
//
//nolint:funlen // The protocol reads best as one sequence.
func (v *Verifier) run(ctx context.Context, session *Session, record *alarm.CommandRecord) (err error) {
	// Runs after the deferred resume, so the next session finds a running scheduler.
	defer func() {
		record.FinishedAt = time.Now()

		if err != nil && record.Error == "" {
			record.Error = err.Error()
		}

		v.release()
		v.record(ctx, record)
	}()

	paused, err := v.pause(ctx)
	if err != nil {
		record.Outcome = failureOutcome(ctx, err)

		return err
	}

	if paused {
		defer v.resume(ctx)
	}

	command := alarm.Command{Code: alarm.ArmDataPoint, Value: alarm.Enum(record.Value)}
	if err = v.cloud.SendCommands(ctx, v.deviceID, command); err != nil {
		record.Outcome = failureOutcome(ctx, err)
		logger.WarnKV(ctx, "Command was not accepted", "error", err)

		return err
	}

	v.mu.Lock()
	session.Deadline = time.Now().Add(v.cfg.Timeout)
	deadline := session.Deadline
	v.mu.Unlock()

	v.store.PublishPending(session.Target)
	logger.InfoKV(ctx, "Command accepted, verifying", "deadline", deadline)

	last, attempts, confirmed := v.confirm(ctx, session, deadline)
	record.Attempts = attempts

	if ctx.Err() != nil {
		// Discarded during shutdown: nothing is published.
		record.Outcome = alarm.OutcomeCanceled

		return fmt.Errorf("verification canceled: %w", ctx.Err())
	}

	if last == nil || !v.store.PublishStatus(ctx, last) {
		v.store.ClearPending()
	}

	observed := v.store.Current().Confirmed
	if last != nil && last.Alarm() != alarm.StateUnknown {
		observed = last.Alarm()
	}

	record.Observed = observed

	if confirmed {
		record.Outcome = alarm.OutcomeConfirmed
		logger.InfoKV(ctx, "Command confirmed", "attempts", attempts)

		return nil
	}

	record.Outcome = alarm.OutcomeTimeout
	logger.WarnKV(ctx, "Command not confirmed in time", "attempts", attempts, "observed", observed.String())

	return &TimeoutError{Target: session.Target, Observed: observed, Attempts: attempts}
}

// confirm polls until the target is reported, the attempts run out or the deadline passes.
// It returns the last fetched status.
func (v *Verifier) confirm(
	ctx context.Context,
	session *Session,
	deadline time.Time,
) (*alarm.DeviceStatus, int, bool) {
	loopCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	var (
		last     *alarm.DeviceStatus
		attempts int
	)

	for attempts < v.cfg.MaxAttempts {
		timer := time.NewTimer(v.cfg.Interval)

		select {
		case <-loopCtx.Done():
			timer.Stop()

			return last, attempts, false
		case <-timer.C:
		}

		attempts++

		v.mu.Lock()
		session.Attempts = attempts
		v.mu.Unlock()

		status, err := v.cloud.Status(loopCtx, v.deviceID)
		if err != nil {
			logger.DebugKV(ctx, "Confirmation fetch failed", "attempt", attempts, "error", err)

			continue
		}

		last = status

		if status.Alarm() == session.Target {
			return last, attempts, true
		}

		logger.DebugKV(ctx, "Not confirmed yet", "attempt", attempts, "observed", status.Alarm().String())
	}

	return last, attempts, false
}

// pause suspends the scheduler. A scheduler that is not running has nothing to suspend.
func (v *Verifier) pause(ctx context.Context) (bool, error) {
	err := v.scheduler.Pause(ctx)

	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, poller.ErrInvalidTransition):
		logger.DebugKV(ctx, "Scheduler not running, verifying without pausing", "error", err)

		return false, nil
	default:
		// Pause flips the state before waiting, so undo it.
		v.resume(ctx)

		return false, fmt.Errorf("pause scheduler: %w", err)
	}
}

func (v *Verifier) resume(ctx context.Context) {
	if err := v.scheduler.Resume(); err != nil {
		logger.DebugKV(ctx, "Scheduler not resumed", "error", err)
	}
}

func (v *Verifier) release() {
	v.mu.Lock()
	v.session = nil
	v.mu.Unlock()
}

func (v *Verifier) record(ctx context.Context, record *alarm.CommandRecord) {
	if v.history == nil {
		return
	}

	if err := v.history.Save(context.WithoutCancel(ctx), record); err != nil {
		logger.ErrorKV(ctx, "Saving command history failed", "error", err)
	}
}

// failureOutcome classifies a command that never reached verification.
func failureOutcome(ctx context.Context, err error) alarm.Outcome {
	switch {
	case errors.Is(err, tuya.ErrCommandRejected):
		return alarm.OutcomeRejected
	case ctx.Err() != nil:
		return alarm.OutcomeCanceled
	default:
		return alarm.OutcomeFailed
	}
}
