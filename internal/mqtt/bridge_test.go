package mqtt

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"testing/synctest"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/require"

	"github.com/oshokin/tuya-alarm/internal/config"
	"github.com/oshokin/tuya-alarm/internal/domain/alarm"
	"github.com/oshokin/tuya-alarm/internal/store"
)

// doneToken is a token that has already completed.
type doneToken struct{}

func (doneToken) Wait() bool                     { return true }
func (doneToken) WaitTimeout(time.Duration) bool { return true }
func (doneToken) Error() error                   { return nil }

func (doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)

	return ch
}

// fakeClient records publications.
type fakeClient struct {
	mu           sync.Mutex
	published    map[string][]string
	subscribed   []string
	disconnected bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{published: make(map[string][]string)}
}

func (f *fakeClient) Publish(topic string, _ byte, _ bool, payload any) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.published[topic] = append(f.published[topic], string(payload.([]byte)))

	return doneToken{}
}

func (f *fakeClient) Subscribe(topic string, _ byte, _ pahomqtt.MessageHandler) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.subscribed = append(f.subscribed, topic)

	return doneToken{}
}

func (f *fakeClient) Disconnect(uint) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.disconnected = true
}

func (f *fakeClient) last(topic string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	values := f.published[topic]
	if len(values) == 0 {
		return "", false
	}

	return values[len(values)-1], true
}

func (f *fakeClient) count(topic string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.published[topic])
}

// fakeCommander records the commands it receives.
type fakeCommander struct {
	mu       sync.Mutex
	modes    []alarm.Mode
	disarms  int
	options  map[string]any
	lastUser string
}

func (f *fakeCommander) RequestArm(_ context.Context, actor *alarm.Actor, mode alarm.Mode) (*alarm.CommandRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.modes = append(f.modes, mode)
	f.lastUser = actor.Username

	return &alarm.CommandRecord{Outcome: alarm.OutcomeConfirmed}, nil
}

func (f *fakeCommander) RequestDisarm(_ context.Context, actor *alarm.Actor) (*alarm.CommandRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.disarms++
	f.lastUser = actor.Username

	return &alarm.CommandRecord{Outcome: alarm.OutcomeConfirmed}, nil
}

func (f *fakeCommander) SetOption(_ context.Context, _ *alarm.Actor, code string, raw any) (*alarm.CommandRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.options == nil {
		f.options = make(map[string]any)
	}

	f.options[code] = raw

	return &alarm.CommandRecord{Outcome: alarm.OutcomeSent}, nil
}

var testConfig = config.MQTT{TopicPrefix: "tuya-alarm", DiscoveryPrefix: "homeassistant"}

func newTestBridge(t *testing.T, st *store.Store, commander Commander) (*Bridge, *fakeClient) {
	t.Helper()

	client := newFakeClient()
	b := newBridge(context.Background(), testConfig, "client-1", "dev1", st, commander)
	b.client = client

	return b, client
}

func TestTopics(t *testing.T) {
	t.Parallel()

	tp := newTopics("tuya-alarm", "dev1")
	require.Equal(t, "tuya-alarm/dev1/alarm/set", tp.alarmCommand)
	require.Equal(t, "tuya-alarm/dev1/+/set", tp.commands)
	require.Equal(t, "tuya-alarm/dev1/arm_delay/set", tp.optionCommand("arm_delay"))

	target, ok := tp.parseCommand("tuya-alarm/dev1/alarm/set")
	require.True(t, ok)
	require.Equal(t, "alarm", target)

	target, ok = tp.parseCommand("tuya-alarm/dev1/gsm_en/set")
	require.True(t, ok)
	require.Equal(t, "gsm_en", target)

	for _, topic := range []string{
		"tuya-alarm/dev2/alarm/set",
		"tuya-alarm/dev1/alarm",
		"tuya-alarm/dev1//set",
		"tuya-alarm/dev1/a/b/set",
	} {
		_, ok = tp.parseCommand(topic)
		require.False(t, ok, topic)
	}
}

func TestBuildDiscovery(t *testing.T) {
	t.Parallel()

	status := alarm.NewDeviceStatus(1, time.Now())
	status.Set(alarm.ArmDataPoint, alarm.Enum("disarmed"))
	status.Set("gsm_en", alarm.Bool(true))
	status.Set("bat_status", alarm.Int(80))

	snapshot := store.Snapshot{
		DeviceID: "dev1",
		Status:   status,
		Device:   &alarm.DeviceInfo{Name: "Hall panel", ProductName: "S6"},
		Functions: []alarm.FunctionSpec{
			{Code: alarm.ArmDataPoint, Type: alarm.FunctionEnum},
			{Code: "gsm_en", Type: alarm.FunctionBoolean},
			{Code: "language", Type: alarm.FunctionEnum, Range: []string{"english", "russian"}},
			{Code: "arm_delay", Type: alarm.FunctionInteger, Min: 0, Max: 300, Step: 1, Unit: "s"},
			{Code: "raw_blob", Type: alarm.FunctionRaw},
		},
	}

	msgs := buildDiscovery("homeassistant", newTopics("tuya-alarm", "dev1"), "dev1", snapshot)

	payloads := make(map[string]haDiscovery, len(msgs))

	for _, msg := range msgs {
		var payload haDiscovery
		require.NoError(t, json.Unmarshal(msg.Payload, &payload))

		payloads[msg.Topic] = payload
	}

	require.Len(t, payloads, 5)

	panel := payloads["homeassistant/alarm_control_panel/tuya_dev1/alarm/config"]
	require.Equal(t, "Hall panel", panel.Name)
	require.Equal(t, "tuya-alarm/dev1/alarm", panel.StateTopic)
	require.Equal(t, "tuya-alarm/dev1/alarm/set", panel.CommandTopic)
	require.Equal(t, "tuya-alarm/dev1/availability", panel.AvailabilityTopic)
	require.Equal(t, "ARM_HOME", panel.PayloadArmHome)
	require.Equal(t, "S6", panel.Device.Model)
	require.NotNil(t, panel.CodeArmRequired)
	require.False(t, *panel.CodeArmRequired)

	gsm := payloads["homeassistant/switch/tuya_dev1/gsm_en/config"]
	require.Equal(t, "tuya-alarm/dev1/gsm_en/set", gsm.CommandTopic)
	require.Equal(t, "true", gsm.PayloadOn)

	language := payloads["homeassistant/select/tuya_dev1/language/config"]
	require.Equal(t, []string{"english", "russian"}, language.Options)

	delay := payloads["homeassistant/number/tuya_dev1/arm_delay/config"]
	require.NotNil(t, delay.Max)
	require.Equal(t, int64(300), *delay.Max)
	require.Equal(t, "s", delay.UnitOfMeasurement)

	battery := payloads["homeassistant/sensor/tuya_dev1/bat_status/config"]
	require.Equal(t, "tuya-alarm/dev1/state", battery.StateTopic)
	require.Equal(t, "{{ value_json.status.bat_status }}", battery.ValueTemplate)
	require.Equal(t, "diagnostic", battery.EntityCategory)
}

func TestParsePayload(t *testing.T) {
	t.Parallel()

	require.Equal(t, json.Number("30"), parsePayload([]byte(" 30\n")))
	require.Equal(t, true, parsePayload([]byte("true")))
	require.Equal(t, "russian", parsePayload([]byte(`"russian"`)))
	require.Equal(t, "russian", parsePayload([]byte("russian")))
	require.Equal(t, `{"a":1}`, parsePayload([]byte(`{"a":1}`)))
}

func TestBridge_PublishesSnapshots(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		st := store.New("dev1")
		b, client := newTestBridge(t, st, new(fakeCommander))

		b.onConnect()
		b.Start()
		synctest.Wait()

		availability, ok := client.last("tuya-alarm/dev1/availability")
		require.True(t, ok)
		require.Equal(t, payloadOffline, availability)

		_, ok = client.last("tuya-alarm/dev1/alarm")
		require.False(t, ok, "unknown state is not published")
		require.Equal(t, []string{"tuya-alarm/dev1/+/set"}, client.subscribed)

		status := alarm.NewDeviceStatus(1, time.Now())
		status.Set(alarm.ArmDataPoint, alarm.Enum("armed"))
		st.PublishStatus(context.Background(), status)
		synctest.Wait()

		state, _ := client.last("tuya-alarm/dev1/alarm")
		require.Equal(t, "armed_away", state)

		availability, _ = client.last("tuya-alarm/dev1/availability")
		require.Equal(t, payloadOnline, availability)

		raw, _ := client.last("tuya-alarm/dev1/state")

		var published map[string]any
		require.NoError(t, json.Unmarshal([]byte(raw), &published))
		require.Equal(t, "armed_away", published["alarm"])

		st.PublishPending(alarm.StateDisarmed)
		synctest.Wait()

		state, _ = client.last("tuya-alarm/dev1/alarm")
		require.Equal(t, "pending", state)

		b.Stop()
		synctest.Wait()

		availability, _ = client.last("tuya-alarm/dev1/availability")
		require.Equal(t, payloadOffline, availability)
		require.True(t, client.disconnected)
	})
}

func TestBridge_ReconnectRepublishesFromPublisher(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		st := store.New("dev1")
		b, client := newTestBridge(t, st, new(fakeCommander))

		// Paho calls onConnect from its own goroutine; it must not publish there.
		b.onConnect()
		b.onConnect()
		synctest.Wait()

		require.Zero(t, client.count("tuya-alarm/dev1/availability"))
		require.Zero(t, client.count("tuya-alarm/dev1/state"))

		b.Start()
		synctest.Wait()

		// The initial snapshot plus one republish: both signals collapse.
		require.Equal(t, 2, client.count("tuya-alarm/dev1/state"))

		status := alarm.NewDeviceStatus(1, time.Now())
		status.Set(alarm.ArmDataPoint, alarm.Enum("armed"))
		st.PublishStatus(context.Background(), status)
		synctest.Wait()

		newer := alarm.NewDeviceStatus(2, time.Now())
		newer.Set(alarm.ArmDataPoint, alarm.Enum("disarmed"))
		st.PublishStatus(context.Background(), newer)
		b.onConnect()
		synctest.Wait()

		state, _ := client.last("tuya-alarm/dev1/alarm")
		require.Equal(t, "disarmed", state)

		raw, _ := client.last("tuya-alarm/dev1/state")

		var published map[string]any
		require.NoError(t, json.Unmarshal([]byte(raw), &published))
		require.Equal(t, "disarmed", published["alarm"])

		b.Stop()
	})
}

func TestBridge_Commands(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		commander := new(fakeCommander)
		b, _ := newTestBridge(t, store.New("dev1"), commander)

		b.handleMessage("tuya-alarm/dev1/alarm/set", []byte("ARM_HOME"))
		b.handleMessage("tuya-alarm/dev1/alarm/set", []byte("disarm"))
		b.handleMessage("tuya-alarm/dev1/alarm/set", []byte("ARM_NIGHT"))
		b.handleMessage("tuya-alarm/dev1/arm_delay/set", []byte("30"))
		b.handleMessage("tuya-alarm/other/arm_delay/set", []byte("10"))
		synctest.Wait()

		commander.mu.Lock()
		require.Equal(t, []alarm.Mode{alarm.ModeHome}, commander.modes)
		require.Equal(t, 1, commander.disarms)
		require.Equal(t, "mqtt", commander.lastUser)
		require.Equal(t, map[string]any{"arm_delay": json.Number("30")}, commander.options)
		commander.mu.Unlock()

		b.Stop()

		b.handleMessage("tuya-alarm/dev1/alarm/set", []byte("DISARM"))
		synctest.Wait()

		commander.mu.Lock()
		require.Equal(t, 1, commander.disarms)
		commander.mu.Unlock()
	})
}
