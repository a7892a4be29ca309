package protocol

// Application-layer command bytes. Responses set the high bit of the
// request command they answer (0x00 -> 0x80, 0x01 -> 0x81, ...).
const (
	CmdHeartbeat      byte = 0x00
	CmdControlDevice  byte = 0x01
	CmdAckError       byte = 0x02
	CmdResetBladeTime byte = 0x03
	CmdError          byte = 0xFF
)

// ResponseOf sets the high bit on a request command to form its response
// command byte.
func ResponseOf(cmd byte) byte {
	return cmd | 0x80
}

// Control action bytes carried in a ControlDevice command body.
const (
	ActionStop  byte = 0x00
	ActionStart byte = 0x01
	ActionHome  byte = 0x02
)

// Notification types carried in a NOTIFICATION session message's body.
const (
	NotifyDeviceStatus   byte = 0x00
	NotifyPositionUpdate byte = 0x01
)

// DeviceState is the canonical device state enum. Wire codes match the
// firmware's state_code byte in device-status notifications.
type DeviceState byte

const (
	StateStationCharging          DeviceState = 0x00
	StateStationChargingCompleted DeviceState = 0x01
	StateMowing                   DeviceState = 0x02
	StateReturningToStation       DeviceState = 0x03
	StatePaused                   DeviceState = 0x04
	StateError                    DeviceState = 0x80
)

// String names match the telemetry sink's state_name field.
func (s DeviceState) String() string {
	switch s {
	case StateStationCharging:
		return "StationCharging"
	case StateStationChargingCompleted:
		return "StationChargingCompleted"
	case StateMowing:
		return "Mowing"
	case StateReturningToStation:
		return "ReturningToStation"
	case StatePaused:
		return "Paused"
	case StateError:
		return "Error"
	default:
		return "Unknown"
	}
}

// stateNames indexes DeviceState.String() values back to their wire code
// for the façade, which works with state names, not codes.
var stateNames = map[string]DeviceState{
	StateStationCharging.String():          StateStationCharging,
	StateStationChargingCompleted.String(): StateStationChargingCompleted,
	StateMowing.String():                   StateMowing,
	StateReturningToStation.String():       StateReturningToStation,
	StatePaused.String():                   StatePaused,
	StateError.String():                    StateError,
}

// ParseDeviceState looks up a DeviceState by its String() name.
func ParseDeviceState(name string) (DeviceState, bool) {
	s, ok := stateNames[name]
	return s, ok
}
