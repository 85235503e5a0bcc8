package device

// JogCommand is the payload carried on cmd.jog.<central> (spec.md §6):
// a manual actuator nudge, accepted only while the device is disabled.
type JogCommand struct {
	DeviceID string  `json:"device_id"`
	Distance float64 `json:"distance"`
	Speed    float64 `json:"speed"`
}
