package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oshokin/tuya-alarm/internal/domain/alarm"
	"github.com/oshokin/tuya-alarm/internal/logger"
)

// State is the lifecycle state of the scheduler.
type State int32

const (
	// StateIdle means Start has not been called.
	StateIdle State = iota
	// StateRunning means ticks fetch the device status.
	StateRunning
	// StatePaused means ticks are suppressed until Resume.
	StatePaused
	// StateStopped is terminal.
	StateStopped
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

var (
	// ErrInvalidTransition is returned for a transition the current state does not allow.
	ErrInvalidTransition = errors.New("invalid scheduler transition")
	// errInvalidInterval is returned by Start for non-positive intervals.
	errInvalidInterval = errors.New("poll interval must be positive")
)

// Fetcher reads the device from the cloud.
type Fetcher interface {
	Status(ctx context.Context, deviceID string) (*alarm.DeviceStatus, error)
	Functions(ctx context.Context, deviceID string) ([]alarm.FunctionSpec, error)
	Device(ctx context.Context, deviceID string) (*alarm.DeviceInfo, error)
}

// Publisher receives poll results.
type Publisher interface {
	PublishStatus(ctx context.Context, status *alarm.DeviceStatus) bool
	MarkUnavailable(err error)
	SetFunctions(specs []alarm.FunctionSpec)
	SetDevice(info *alarm.DeviceInfo)
}

// Scheduler periodically fetches the device status and publishes it.
// Its transitions are Idle→Running, Running→Paused→Running and any→Stopped.
type Scheduler struct {
	deviceID  string
	fetcher   Fetcher
	publisher Publisher

	mu       sync.Mutex
	state    State
	inFlight chan struct{}
	cancel   context.CancelFunc
	done     chan struct{}

	trigger    chan struct{}
	fetches    atomic.Int64
	metaLoaded bool
}

// New creates an idle scheduler.
func New(deviceID string, fetcher Fetcher, publisher Publisher) *Scheduler {
	return &Scheduler{
		deviceID:  deviceID,
		fetcher:   fetcher,
		publisher: publisher,
		trigger:   make(chan struct{}, 1),
	}
}

// State returns the current state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// Fetches returns the number of status fetches issued.
func (s *Scheduler) Fetches() int64 {
	return s.fetches.Load()
}

func (s *Scheduler) transitionError(to State) error {
	return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, s.state, to)
}

// Start begins polling: one fetch immediately, then one per interval.
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return errInvalidInterval
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIdle {
		return s.transitionError(StateRunning)
	}

	ctx = logger.WithName(ctx, "poller")
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.state = StateRunning

	logger.InfoKV(ctx, "Polling device", "device_id", s.deviceID, "interval", interval.String())

	go s.run(ctx, interval)

	return nil
}

// Pause suppresses ticks. It returns once no fetch is running, so none can
// overlap with whatever the caller does next.
func (s *Scheduler) Pause(ctx context.Context) error {
	s.mu.Lock()

	if s.state != StateRunning {
		err := s.transitionError(StatePaused)
		s.mu.Unlock()

		return err
	}

	s.state = StatePaused
	inFlight := s.inFlight
	s.mu.Unlock()

	if inFlight == nil {
		return nil
	}

	// Wait for the tick that was already fetching.
	select {
	case <-inFlight:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for in-flight poll: %w", ctx.Err())
	}
}

// Resume re-enables ticks after Pause.
func (s *Scheduler) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StatePaused {
		return s.transitionError(StateRunning)
	}

	s.state = StateRunning

	return nil
}

// Trigger requests an immediate poll. It is ignored unless the scheduler is running.
func (s *Scheduler) Trigger() {
	if s.State() != StateRunning {
		return
	}

	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Stop terminates polling and waits for the loop to exit.
func (s *Scheduler) Stop() error {
	s.mu.Lock()

	if s.state == StateStopped {
		err := s.transitionError(StateStopped)
		s.mu.Unlock()

		return err
	}

	s.state = StateStopped
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	return nil
}

func (s *Scheduler) run(ctx context.Context, interval time.Duration) {
	defer close(s.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			logger.Debug(ctx, "Polling loop exited")

			return
		case <-ticker.C:
		case <-s.trigger:
		}

		s.tick(ctx)
	}
}

// tick performs one poll if the scheduler is running.
func (s *Scheduler) tick(ctx context.Context) {
	s.mu.Lock()

	if s.state != StateRunning {
		s.mu.Unlock()

		return
	}

	finished := make(chan struct{})
	s.inFlight = finished
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inFlight = nil
		s.mu.Unlock()
		close(finished)
	}()

	s.fetches.Add(1)

	status, err := s.fetcher.Status(ctx, s.deviceID)
	if err != nil {
		if ctx.Err() != nil {
			return
		}

		logger.WarnKV(ctx, "Status poll failed", "device_id", s.deviceID, "error", err)
		s.publisher.MarkUnavailable(err)

		return
	}

	if !s.metaLoaded {
		s.loadMetadata(ctx)
	}

	s.publisher.PublishStatus(ctx, status)
}

// loadMetadata fetches function specs and device info once.
func (s *Scheduler) loadMetadata(ctx context.Context) {
	specs, err := s.fetcher.Functions(ctx, s.deviceID)
	if err != nil {
		logger.WarnKV(ctx, "Loading device functions failed", "error", err)

		return
	}

	s.publisher.SetFunctions(specs)
	s.metaLoaded = true

	info, err := s.fetcher.Device(ctx, s.deviceID)
	if err != nil {
		logger.WarnKV(ctx, "Loading device info failed", "error", err)

		return
	}

	s.publisher.SetDevice(info)
	logger.InfoKV(ctx, "Device loaded", "name", info.Name, "functions", len(specs), "online", info.Online)
}
