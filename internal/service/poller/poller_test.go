package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/tuya-alarm/internal/domain/alarm"
	"github.com/oshokin/tuya-alarm/internal/store"
)

const interval = 30 * time.Second

// fakeFetcher serves a fixed arm state and counts status calls.
type fakeFetcher struct {
	mu    sync.Mutex
	calls int
	block chan struct{}
	err   error
	arm   string
}

func (f *fakeFetcher) Status(ctx context.Context, _ string) (*alarm.DeviceStatus, error) {
	f.mu.Lock()
	f.calls++
	n, block, err, arm := f.calls, f.block, f.err, f.arm
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if err != nil {
		return nil, err
	}

	status := alarm.NewDeviceStatus(uint64(n), time.Now())
	status.Set(alarm.ArmDataPoint, alarm.String(arm))

	return status, nil
}

func (f *fakeFetcher) Functions(context.Context, string) ([]alarm.FunctionSpec, error) {
	return []alarm.FunctionSpec{{Code: alarm.ArmDataPoint, Type: alarm.FunctionEnum}}, nil
}

func (f *fakeFetcher) Device(context.Context, string) (*alarm.DeviceInfo, error) {
	return &alarm.DeviceInfo{ID: "dev", Name: "S6", Online: true}, nil
}

func (f *fakeFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls
}

func (f *fakeFetcher) set(fn func(f *fakeFetcher)) {
	f.mu.Lock()
	defer f.mu.Unlock()

	fn(f)
}

// TestSchedulerPollsAtInterval fetches immediately and then once per interval.
func TestSchedulerPollsAtInterval(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		fetcher := &fakeFetcher{arm: "disarmed"}
		st := store.New("dev")
		s := New("dev", fetcher, st)

		require.NoError(t, s.Start(context.Background(), interval))
		synctest.Wait()
		require.Equal(t, 1, fetcher.Calls())

		snap := st.Current()
		require.Equal(t, alarm.StateDisarmed, snap.Alarm)
		require.Len(t, snap.Functions, 1)
		require.Equal(t, "S6", snap.Device.Name)

		time.Sleep(3 * interval)
		synctest.Wait()
		require.Equal(t, 4, fetcher.Calls())
		require.EqualValues(t, 4, s.Fetches())
		require.EqualValues(t, 4, st.Current().Sequence)

		require.NoError(t, s.Stop())
		require.Equal(t, StateStopped, s.State())
	})
}

// TestSchedulerPauseSuppressesFetches issues no fetch while paused.
func TestSchedulerPauseSuppressesFetches(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		fetcher := &fakeFetcher{arm: "armed"}
		s := New("dev", fetcher, store.New("dev"))
		ctx := context.Background()

		require.NoError(t, s.Start(ctx, interval))
		synctest.Wait()

		require.NoError(t, s.Pause(ctx))
		require.Equal(t, StatePaused, s.State())

		s.Trigger()
		time.Sleep(10 * interval)
		synctest.Wait()
		require.Equal(t, 1, fetcher.Calls())

		require.NoError(t, s.Resume())
		time.Sleep(interval)
		synctest.Wait()
		require.Equal(t, 2, fetcher.Calls())

		require.NoError(t, s.Stop())
	})
}

// TestSchedulerPauseWaitsForInFlightFetch returns from Pause only after the running fetch ends.
func TestSchedulerPauseWaitsForInFlightFetch(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		release := make(chan struct{})
		fetcher := &fakeFetcher{arm: "home", block: release}
		st := store.New("dev")
		s := New("dev", fetcher, st)
		ctx := context.Background()

		require.NoError(t, s.Start(ctx, interval))
		synctest.Wait()

		paused := make(chan error, 1)

		go func() {
			paused <- s.Pause(ctx)
		}()

		synctest.Wait()

		select {
		case <-paused:
			t.Fatal("Pause returned while a fetch was running")
		default:
		}

		close(release)
		synctest.Wait()
		require.NoError(t, <-paused)

		// The in-flight result is published; nothing after it.
		require.Equal(t, alarm.StateArmedHome, st.Current().Alarm)

		time.Sleep(5 * interval)
		synctest.Wait()
		require.Equal(t, 1, fetcher.Calls())

		require.NoError(t, s.Stop())
	})
}

// TestSchedulerTrigger polls out of band while running.
func TestSchedulerTrigger(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		fetcher := &fakeFetcher{arm: "disarmed"}
		s := New("dev", fetcher, store.New("dev"))

		require.NoError(t, s.Start(context.Background(), interval))
		synctest.Wait()

		s.Trigger()
		synctest.Wait()
		require.Equal(t, 2, fetcher.Calls())

		require.NoError(t, s.Stop())
	})
}

// TestSchedulerFailureMarksUnavailable keeps polling after a failed fetch.
func TestSchedulerFailureMarksUnavailable(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		fetcher := &fakeFetcher{arm: "disarmed", err: errors.New("offline")}
		st := store.New("dev")
		s := New("dev", fetcher, st)

		require.NoError(t, s.Start(context.Background(), interval))
		synctest.Wait()

		snap := st.Current()
		require.False(t, snap.Available)
		require.Equal(t, "offline", snap.LastError)
		require.Equal(t, StateRunning, s.State())

		fetcher.set(func(f *fakeFetcher) { f.err = nil })
		time.Sleep(interval)
		synctest.Wait()

		snap = st.Current()
		require.True(t, snap.Available)
		require.Equal(t, alarm.StateDisarmed, snap.Alarm)

		require.NoError(t, s.Stop())
	})
}

// TestSchedulerTransitions rejects transitions the state machine does not allow.
func TestSchedulerTransitions(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		s := New("dev", &fakeFetcher{arm: "disarmed"}, store.New("dev"))
		ctx := context.Background()

		require.ErrorIs(t, s.Pause(ctx), ErrInvalidTransition)
		require.ErrorIs(t, s.Resume(), ErrInvalidTransition)
		require.ErrorIs(t, s.Start(ctx, 0), errInvalidInterval)

		require.NoError(t, s.Start(ctx, interval))
		require.ErrorIs(t, s.Start(ctx, interval), ErrInvalidTransition)
		require.ErrorIs(t, s.Resume(), ErrInvalidTransition)

		require.NoError(t, s.Pause(ctx))
		require.ErrorIs(t, s.Pause(ctx), ErrInvalidTransition)

		require.NoError(t, s.Stop())
		require.ErrorIs(t, s.Stop(), ErrInvalidTransition)
		require.ErrorIs(t, s.Resume(), ErrInvalidTransition)
		require.ErrorIs(t, s.Start(ctx, interval), ErrInvalidTransition)
	})
}
