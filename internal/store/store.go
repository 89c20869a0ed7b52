package store

import (
	"context"
	"sync"
	"time"

	"github.com/oshokin/tuya-alarm/internal/domain/alarm"
	"github.com/oshokin/tuya-alarm/internal/logger"
)

// Snapshot is an immutable view of the device as last published.
type Snapshot struct {
	DeviceID string `json:"device_id"`
	// Alarm is the exposed state: the confirmed one, or pending while a command is verified.
	Alarm alarm.State `json:"alarm"`
	// Confirmed is the last alarm state reported by the cloud.
	Confirmed alarm.State `json:"confirmed"`
	// Pending is the target of the running verification, if any.
	Pending     alarm.State          `json:"pending,omitempty"`
	Status      *alarm.DeviceStatus  `json:"status,omitempty"`
	Available   bool                 `json:"available"`
	LastError   string               `json:"last_error,omitempty"`
	ConfirmedAt time.Time            `json:"confirmed_at"`
	Sequence    uint64               `json:"sequence"`
	Functions   []alarm.FunctionSpec `json:"functions,omitempty"`
	Device      *alarm.DeviceInfo    `json:"device,omitempty"`
	UpdatedAt   time.Time            `json:"updated_at"`
}

// Function returns the spec of a writable data point.
func (s Snapshot) Function(code string) (alarm.FunctionSpec, bool) {
	for _, spec := range s.Functions {
		if spec.Code == code {
			return spec, true
		}
	}

	return alarm.FunctionSpec{}, false
}

// Option configures a Store.
type Option func(*Store)

// WithKnownDataPoints lists codes that every published status carries, null when unreported.
func WithKnownDataPoints(codes []string) Option {
	return func(s *Store) {
		s.known = append([]string(nil), codes...)
	}
}

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// Store holds the published device state and fans it out to subscribers.
type Store struct {
	known []string
	now   func() time.Time

	mu          sync.RWMutex
	snapshot    Snapshot
	functions   map[string]alarm.FunctionSpec
	subscribers map[uint64]chan Snapshot
	nextID      uint64
}

// New creates an empty store for the device.
func New(deviceID string, opts ...Option) *Store {
	s := &Store{
		now:         time.Now,
		functions:   make(map[string]alarm.FunctionSpec),
		subscribers: make(map[uint64]chan Snapshot),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.snapshot = Snapshot{
		DeviceID:  deviceID,
		Alarm:     alarm.StateUnknown,
		Confirmed: alarm.StateUnknown,
		UpdatedAt: s.now(),
	}

	return s
}

// Current returns the latest snapshot.
func (s *Store) Current() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.snapshot
}

// Subscribe returns a channel that receives the current snapshot and every
// later one. A slow reader only sees the newest snapshot it has not read yet.
// The returned function unsubscribes and closes the channel.
func (s *Store) Subscribe() (<-chan Snapshot, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++

	ch := make(chan Snapshot, 1)
	ch <- s.snapshot
	s.subscribers[id] = ch

	var once sync.Once

	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()

			delete(s.subscribers, id)
			close(ch)
		})
	}
}

// PublishStatus publishes a confirmed status. A status whose fetch started
// before the last published one is discarded; the result reports whether it was applied.
// Publishing clears any pending marker.
func (s *Store) PublishStatus(ctx context.Context, status *alarm.DeviceStatus) bool {
	if status == nil {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if status.Sequence <= s.snapshot.Sequence {
		logger.DebugKV(ctx, "Discarding stale status",
			"sequence", status.Sequence, "published", s.snapshot.Sequence)

		return false
	}

	published := status.Clone()
	published.FillKnown(s.known)
	published.ApplyFunctions(s.functions)

	next := s.snapshot
	next.Status = published
	next.Sequence = published.Sequence
	next.ConfirmedAt = published.ConfirmedAt
	next.Available = true
	next.LastError = ""
	next.Pending = ""

	if state := published.Alarm(); state != alarm.StateUnknown {
		next.Confirmed = state
	}

	next.Alarm = next.Confirmed

	s.commit(next)

	return true
}

// PublishPending exposes the pending marker for the target state.
func (s *Store) PublishPending(target alarm.State) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.snapshot
	next.Pending = target
	next.Alarm = alarm.StatePending

	s.commit(next)
}

// ClearPending reverts the exposed state to the last confirmed one.
func (s *Store) ClearPending() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.snapshot.Pending == "" {
		return
	}

	next := s.snapshot
	next.Pending = ""
	next.Alarm = next.Confirmed

	s.commit(next)
}

// MarkUnavailable records a failed fetch; the last values stay published.
func (s *Store) MarkUnavailable(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.snapshot
	next.Available = false

	if err != nil {
		next.LastError = err.Error()
	}

	s.commit(next)
}

// SetFunctions stores the writable data point specs and retypes the current status.
func (s *Store) SetFunctions(specs []alarm.FunctionSpec) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.functions = make(map[string]alarm.FunctionSpec, len(specs))
	for _, spec := range specs {
		s.functions[spec.Code] = spec
	}

	next := s.snapshot
	next.Functions = append([]alarm.FunctionSpec(nil), specs...)

	if next.Status != nil {
		next.Status = next.Status.Clone()
		next.Status.ApplyFunctions(s.functions)
	}

	s.commit(next)
}

// SetDevice stores the device description.
func (s *Store) SetDevice(info *alarm.DeviceInfo) {
	if info == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *info
	next := s.snapshot
	next.Device = &copied

	s.commit(next)
}

// commit replaces the snapshot and notifies subscribers. Callers hold mu.
func (s *Store) commit(next Snapshot) {
	next.UpdatedAt = s.now()
	s.snapshot = next

	for _, ch := range s.subscribers {
		select {
		case ch <- next:
			continue
		default:
		}

		// Replace the unread snapshot with the newer one.
		select {
		case <-ch:
		default:
		}

		select {
		case ch <- next:
		default:
		}
	}
}
