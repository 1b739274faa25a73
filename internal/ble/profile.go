package ble

import "strings"

// GATT profile of the belt. All UUIDs are lower case.
const (
	ControlServiceUUID = "65333333-a115-11e2-9e9a-0800200ca100"
	FirmwareInfoUUID   = "65333333-a115-11e2-9e9a-0800200ca101"
	KeepAliveUUID      = "65333333-a115-11e2-9e9a-0800200ca102"
	VibrationUUID      = "65333333-a115-11e2-9e9a-0800200ca200"
	ButtonPressUUID    = "65333333-a115-11e2-9e9a-0800200ca201"
	ParamRequestUUID   = "65333333-a115-11e2-9e9a-0800200ca202"
	ParamNotifyUUID    = "65333333-a115-11e2-9e9a-0800200ca203"
	BuzzerUUID         = "65333333-a115-11e2-9e9a-0800200ca204"
	BatteryStatusUUID  = "65333333-a115-11e2-9e9a-0800200ca206"

	SensorServiceUUID      = "65333333-a115-11e2-9e9a-0800200ca300"
	SensorParamRequestUUID = "65333333-a115-11e2-9e9a-0800200ca301"
	SensorParamNotifyUUID  = "65333333-a115-11e2-9e9a-0800200ca302"
	OrientationUUID        = "65333333-a115-11e2-9e9a-0800200ca303"

	DebugServiceUUID = "65333333-a115-11e2-9e9a-0800200ca400"
	DebugInputUUID   = "65333333-a115-11e2-9e9a-0800200ca401"
	DebugOutputUUID  = "65333333-a115-11e2-9e9a-0800200ca402"
)

// Service lists the characteristics resolved for one GATT service.
type Service struct {
	UUID            string
	Characteristics []string
	Optional        bool
}

// Profile is the service table discovered on every connection.
var Profile = []Service{
	{
		UUID: ControlServiceUUID,
		Characteristics: []string{
			FirmwareInfoUUID, KeepAliveUUID, VibrationUUID, ButtonPressUUID,
			ParamRequestUUID, ParamNotifyUUID, BuzzerUUID, BatteryStatusUUID,
		},
	},
	{
		UUID:            SensorServiceUUID,
		Characteristics: []string{SensorParamRequestUUID, SensorParamNotifyUUID, OrientationUUID},
	},
	{
		UUID:            DebugServiceUUID,
		Characteristics: []string{DebugInputUUID, DebugOutputUUID},
		Optional:        true,
	},
}

// CharacteristicName returns a short label for a profile UUID, used in logs
// and metrics.
func CharacteristicName(uuid string) string {
	switch strings.ToLower(uuid) {
	case FirmwareInfoUUID:
		return "firmware_info"
	case KeepAliveUUID:
		return "keep_alive"
	case VibrationUUID:
		return "vibration"
	case ButtonPressUUID:
		return "button_press"
	case ParamRequestUUID:
		return "param_request"
	case ParamNotifyUUID:
		return "param_notify"
	case BuzzerUUID:
		return "buzzer"
	case BatteryStatusUUID:
		return "battery"
	case SensorParamRequestUUID:
		return "sensor_param_request"
	case SensorParamNotifyUUID:
		return "sensor_param_notify"
	case OrientationUUID:
		return "orientation"
	case DebugInputUUID:
		return "debug_input"
	case DebugOutputUUID:
		return "debug_output"
	}
	return "unknown"
}
