package alarm

// KnownDataPoints lists every data point the S6 (category "qt") panel exposes.
// Published statuses always contain all of them, null when the cloud omits one.
//
//nolint:gochecknoglobals // Static device profile.
var KnownDataPoints = []string{
	ArmDataPoint, "gsm_status", "language", "dc_status", "bat_status",
	"arm_delay", "alarm_delay", "alarm_sound_duration", "ring_times", "tel_alarm_cycle",
	"inside_siren_sound", "gsm_en", "tel_ctrl_en", "arm_sms_en", "disarm_sms_en",
	"keyboard_tone_en", "arm_delay_tone_en", "alarm_delay_tone_en", "arm_disarm_tone_en",
	"inside_siren_en", "wireless_siren_en", "password", "tel_num", "device_info",
	"sub_device", "alarm_msg", "history_msg", "cmd_ctrl",
}

// Role tells consumers how to render a data point.
type Role string

// Data point roles.
const (
	RoleAlarm      Role = "alarm"
	RoleSwitch     Role = "switch"
	RoleNumber     Role = "number"
	RoleSelect     Role = "select"
	RoleDiagnostic Role = "diagnostic"
)

// roles maps the S6 profile to entity roles.
//
//nolint:gochecknoglobals // Static device profile.
var roles = map[string]Role{
	ArmDataPoint:           RoleAlarm,
	"gsm_en":               RoleSwitch,
	"tel_ctrl_en":          RoleSwitch,
	"arm_sms_en":           RoleSwitch,
	"disarm_sms_en":        RoleSwitch,
	"keyboard_tone_en":     RoleSwitch,
	"arm_delay_tone_en":    RoleSwitch,
	"alarm_delay_tone_en":  RoleSwitch,
	"arm_disarm_tone_en":   RoleSwitch,
	"inside_siren_en":      RoleSwitch,
	"wireless_siren_en":    RoleSwitch,
	"arm_delay":            RoleNumber,
	"alarm_delay":          RoleNumber,
	"alarm_sound_duration": RoleNumber,
	"ring_times":           RoleNumber,
	"tel_alarm_cycle":      RoleNumber,
	"language":             RoleSelect,
	"inside_siren_sound":   RoleSelect,
}

// RoleOf returns the role of a data point; unlisted ones are read-only diagnostics.
func RoleOf(code string) Role {
	if role, ok := roles[code]; ok {
		return role
	}

	return RoleDiagnostic
}

// IsSetting reports whether the data point may be written through SetOption.
func IsSetting(code string) bool {
	switch RoleOf(code) {
	case RoleSwitch, RoleNumber, RoleSelect:
		return true
	default:
		return false
	}
}
