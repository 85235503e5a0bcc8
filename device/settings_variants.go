package device

import "github.com/jangala-dev/inu/errcode"

// SensorStateModel selects which closed state-machine a sensor settings
// record uses (spec.md §9 Open Question: range uses the four-state
// model, motion uses the three-state model).
type SensorStateModel string

const (
	StateModelRange  SensorStateModel = "range"  // IDLE/HOT/ACTIVE/COOLDOWN
	StateModelMotion SensorStateModel = "motion" // IDLE/ACTIVE/COOLDOWN
)

// SensorSettings configures a range/motion sensor device.
type SensorSettings struct {
	BaseSettings
	Threshold  int              `json:"threshold"`
	StateModel SensorStateModel `json:"state_model"`
}

func (s SensorSettings) Base() BaseSettings { return s.BaseSettings }

func (s SensorSettings) Validate() error {
	if err := s.BaseSettings.Validate(); err != nil {
		return err
	}
	switch s.StateModel {
	case StateModelRange, StateModelMotion:
	default:
		return &errcode.E{C: errcode.Malformed, Op: "SensorSettings.Validate", Msg: "unknown state_model: " + string(s.StateModel)}
	}
	return nil
}

// RelaySettings configures a relay/actuator-switch device.
type RelaySettings struct {
	BaseSettings
	PulseMs int `json:"pulse_ms,omitempty"` // 0 => latching; >0 => momentary
}

func (s RelaySettings) Base() BaseSettings { return s.BaseSettings }
func (s RelaySettings) Validate() error    { return s.BaseSettings.Validate() }

// RoboticsSettings configures a robotics controller device: a map from
// trigger code (as a decimal string, since JSON object keys are strings)
// to the control-program text it runs.
type RoboticsSettings struct {
	BaseSettings
	Sequences     map[string]string `json:"sequences"`
	IdlePeriodMs  int               `json:"idle_period_ms"`
	WarmupDelayMs int               `json:"warmup_delay_ms"`
}

func (s RoboticsSettings) Base() BaseSettings { return s.BaseSettings }

func (s RoboticsSettings) Validate() error {
	if err := s.BaseSettings.Validate(); err != nil {
		return err
	}
	if s.IdlePeriodMs < 0 || s.WarmupDelayMs < 0 {
		return &errcode.E{C: errcode.Malformed, Op: "RoboticsSettings.Validate", Msg: "idle_period_ms/warmup_delay_ms must be >= 0"}
	}
	return nil
}

// LightSettings configures an LED strip device.
type LightSettings struct {
	BaseSettings
	Segments          map[string][2]int `json:"segments,omitempty"`
	DefaultBrightness uint8             `json:"default_brightness,omitempty"`
}

func (s LightSettings) Base() BaseSettings { return s.BaseSettings }

func (s LightSettings) Validate() error {
	if err := s.BaseSettings.Validate(); err != nil {
		return err
	}
	if s.DefaultBrightness > 31 {
		return &errcode.E{C: errcode.Malformed, Op: "LightSettings.Validate", Msg: "default_brightness must be in 0..31"}
	}
	for name, bounds := range s.Segments {
		if bounds[0] < 0 || bounds[1] < bounds[0] {
			return &errcode.E{C: errcode.Malformed, Op: "LightSettings.Validate", Msg: "invalid segment bounds for " + name}
		}
	}
	return nil
}

func init() {
	Register("sensor", func(raw []byte) (Settings, error) {
		v, err := DecodeJSON[SensorSettings](raw)
		if err != nil {
			return nil, err
		}
		return *v, nil
	})
	Register("relay", func(raw []byte) (Settings, error) {
		v, err := DecodeJSON[RelaySettings](raw)
		if err != nil {
			return nil, err
		}
		return *v, nil
	})
	Register("robotics", func(raw []byte) (Settings, error) {
		v, err := DecodeJSON[RoboticsSettings](raw)
		if err != nil {
			return nil, err
		}
		return *v, nil
	})
	Register("light", func(raw []byte) (Settings, error) {
		v, err := DecodeJSON[LightSettings](raw)
		if err != nil {
			return nil, err
		}
		return *v, nil
	})
}
