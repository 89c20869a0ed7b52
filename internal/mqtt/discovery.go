package mqtt

import (
	"encoding/json"
	"slices"
	"strings"

	"github.com/oshokin/tuya-alarm/internal/domain/alarm"
	"github.com/oshokin/tuya-alarm/internal/store"
)

// Alarm panel command payloads used by Home Assistant.
const (
	payloadDisarm  = "DISARM"
	payloadArmAway = "ARM_AWAY"
	payloadArmHome = "ARM_HOME"

	payloadOnline  = "online"
	payloadOffline = "offline"

	alarmComponent = "alarm"
	setSuffix      = "set"
)

// discoveryMsg is a Home Assistant MQTT discovery payload.
type discoveryMsg struct {
	Topic   string
	Payload []byte
}

// haDevice is the "device" block in HA discovery.
type haDevice struct {
	Identifiers  []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
	Name         string   `json:"name"`
}

// haDiscovery is a generic HA discovery payload.
type haDiscovery struct {
	Name              string   `json:"name"`
	UniqueID          string   `json:"unique_id"`
	StateTopic        string   `json:"state_topic"`
	CommandTopic      string   `json:"command_topic,omitempty"`
	AvailabilityTopic string   `json:"availability_topic"`
	ValueTemplate     string   `json:"value_template,omitempty"`
	UnitOfMeasurement string   `json:"unit_of_measurement,omitempty"`
	PayloadOn         string   `json:"payload_on,omitempty"`
	PayloadOff        string   `json:"payload_off,omitempty"`
	StateOn           string   `json:"state_on,omitempty"`
	StateOff          string   `json:"state_off,omitempty"`
	Options           []string `json:"options,omitempty"`
	Min               *int64   `json:"min,omitempty"`
	Max               *int64   `json:"max,omitempty"`
	Step              int64    `json:"step,omitempty"`
	SupportedFeatures []string `json:"supported_features,omitempty"`
	CodeArmRequired   *bool    `json:"code_arm_required,omitempty"`
	EntityCategory    string   `json:"entity_category,omitempty"`
	PayloadDisarm     string   `json:"payload_disarm,omitempty"`
	PayloadArmAway    string   `json:"payload_arm_away,omitempty"`
	PayloadArmHome    string   `json:"payload_arm_home,omitempty"`
	Device            haDevice `json:"device"`
}

// topics holds the MQTT topics of one device.
type topics struct {
	base         string
	availability string
	state        string
	alarm        string
	alarmCommand string
	commands     string
}

func newTopics(prefix, deviceID string) topics {
	base := prefix + "/" + deviceID

	return topics{
		base:         base,
		availability: base + "/availability",
		state:        base + "/state",
		alarm:        base + "/" + alarmComponent,
		alarmCommand: base + "/" + alarmComponent + "/" + setSuffix,
		commands:     base + "/+/" + setSuffix,
	}
}

// optionCommand returns the command topic of a data point.
func (t topics) optionCommand(code string) string {
	return t.base + "/" + code + "/" + setSuffix
}

// parseCommand extracts the target of a command topic: "alarm" or a data point code.
func (t topics) parseCommand(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, t.base+"/")
	if !ok {
		return "", false
	}

	target, ok := strings.CutSuffix(rest, "/"+setSuffix)
	if !ok || target == "" || strings.Contains(target, "/") {
		return "", false
	}

	return target, true
}

func deviceIdentifier(deviceID string) string {
	return "tuya_" + deviceID
}

func deviceBlock(deviceID string, snapshot store.Snapshot) haDevice {
	block := haDevice{
		Identifiers:  []string{deviceIdentifier(deviceID)},
		Manufacturer: "Tuya",
		Name:         "Tuya alarm " + deviceID,
	}

	if info := snapshot.Device; info != nil {
		if info.Name != "" {
			block.Name = info.Name
		}

		block.Model = info.ProductName
		if block.Model == "" {
			block.Model = info.Model
		}
	}

	return block
}

// haAlarmState maps the exposed state to a Home Assistant alarm panel state.
func haAlarmState(state alarm.State) (string, bool) {
	switch state {
	case alarm.StateDisarmed, alarm.StateArmedAway, alarm.StateArmedHome, alarm.StatePending:
		return string(state), true
	default:
		return "", false
	}
}

// buildDiscovery generates HA discovery messages: the alarm panel, one entity per
// writable option and one sensor per read-only data point.
func buildDiscovery(discoveryPrefix string, t topics, deviceID string, snapshot store.Snapshot) []discoveryMsg {
	nodeID := deviceIdentifier(deviceID)
	device := deviceBlock(deviceID, snapshot)
	codeArmRequired := false

	msgs := []discoveryMsg{
		newDiscovery(discoveryPrefix, "alarm_control_panel", nodeID, alarmComponent, haDiscovery{
			Name:              device.Name,
			UniqueID:          nodeID + "_" + alarmComponent,
			StateTopic:        t.alarm,
			CommandTopic:      t.alarmCommand,
			AvailabilityTopic: t.availability,
			SupportedFeatures: []string{"arm_home", "arm_away"},
			CodeArmRequired:   &codeArmRequired,
			PayloadDisarm:     payloadDisarm,
			PayloadArmAway:    payloadArmAway,
			PayloadArmHome:    payloadArmHome,
			Device:            device,
		}),
	}

	writable := make(map[string]bool, len(snapshot.Functions))

	for _, spec := range snapshot.Functions {
		if spec.Code == alarm.ArmDataPoint {
			continue
		}

		writable[spec.Code] = true

		if msg, ok := optionDiscovery(discoveryPrefix, t, nodeID, device, spec); ok {
			msgs = append(msgs, msg)
		}
	}

	for _, code := range snapshot.Status.Codes() {
		if code == alarm.ArmDataPoint || writable[code] {
			continue
		}

		sensor := haDiscovery{
			Name:              code,
			UniqueID:          nodeID + "_" + code,
			StateTopic:        t.state,
			AvailabilityTopic: t.availability,
			ValueTemplate:     valueTemplate(code),
			Device:            device,
		}
		if alarm.RoleOf(code) == alarm.RoleDiagnostic {
			sensor.EntityCategory = "diagnostic"
		}

		msgs = append(msgs, newDiscovery(discoveryPrefix, "sensor", nodeID, code, sensor))
	}

	return msgs
}

func optionDiscovery(
	discoveryPrefix string,
	t topics,
	nodeID string,
	device haDevice,
	spec alarm.FunctionSpec,
) (discoveryMsg, bool) {
	name := spec.Name
	if name == "" {
		name = spec.Code
	}

	payload := haDiscovery{
		Name:              name,
		UniqueID:          nodeID + "_" + spec.Code,
		StateTopic:        t.state,
		CommandTopic:      t.optionCommand(spec.Code),
		AvailabilityTopic: t.availability,
		ValueTemplate:     valueTemplate(spec.Code),
		Device:            device,
	}

	var component string

	switch spec.Type {
	case alarm.FunctionBoolean:
		component = "switch"
		payload.PayloadOn, payload.PayloadOff = "true", "false"
		payload.StateOn, payload.StateOff = "true", "false"
		payload.ValueTemplate = "{{ 'true' if value_json.status." + spec.Code + " else 'false' }}"
	case alarm.FunctionEnum:
		component = "select"
		payload.Options = slices.Clone(spec.Range)
	case alarm.FunctionInteger:
		component = "number"
		minimum, maximum := spec.Min, spec.Max
		payload.Min, payload.Max, payload.Step = &minimum, &maximum, spec.Step
		payload.UnitOfMeasurement = spec.Unit
	case alarm.FunctionString:
		component = "text"
	default:
		return discoveryMsg{}, false
	}

	return newDiscovery(discoveryPrefix, component, nodeID, spec.Code, payload), true
}

func newDiscovery(discoveryPrefix, component, nodeID, objectID string, payload haDiscovery) discoveryMsg {
	return discoveryMsg{
		Topic:   discoveryPrefix + "/" + component + "/" + nodeID + "/" + objectID + "/config",
		Payload: mustJSON(payload),
	}
}

func valueTemplate(code string) string {
	return "{{ value_json.status." + code + " }}"
}

// discoveryKey changes whenever the discovery messages would.
func discoveryKey(snapshot store.Snapshot) string {
	var b strings.Builder

	if snapshot.Device != nil {
		b.WriteString(snapshot.Device.Name)
		b.WriteString(snapshot.Device.ProductName)
	}

	for _, spec := range snapshot.Functions {
		b.WriteString("|f:")
		b.WriteString(spec.Code)
	}

	for _, code := range snapshot.Status.Codes() {
		b.WriteString("|s:")
		b.WriteString(code)
	}

	return b.String()
}

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}

	return data
}
